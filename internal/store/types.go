package store

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBMessage struct {
	Seq       uint64 `msgpack:"seq"`
	FromID    string `msgpack:"fromId"`
	ToID      string `msgpack:"toId"`
	Body      string `msgpack:"body"`
	CreatedAt int64  `msgpack:"createdAt"`
	ReadAt    int64  `msgpack:"readAt"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.Seq)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBNotification struct {
	Seq       uint64 `msgpack:"seq"`
	UserID    string `msgpack:"userId"`
	Title     string `msgpack:"title"`
	Body      string `msgpack:"body"`
	Seen      bool   `msgpack:"seen"`
	CreatedAt int64  `msgpack:"createdAt"`
	JobID     string `msgpack:"jobId"`
}

func (n *DBNotification) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, n.Seq)
	return key
}

func (n *DBNotification) MarshalBinary() (data []byte, err error) {
	type alias DBNotification
	return msgpack.Marshal((*alias)(n))
}

func (n *DBNotification) UnmarshalBinary(data []byte) error {
	type alias DBNotification
	return msgpack.Unmarshal(data, (*alias)(n))
}

type DBProfile struct {
	ID          string `msgpack:"id"`
	DisplayName string `msgpack:"displayName"`
	AvatarURL   string `msgpack:"avatarUrl"`
}

func (p *DBProfile) Key() []byte {
	return []byte(p.ID)
}

func (p *DBProfile) MarshalBinary() (data []byte, err error) {
	type alias DBProfile
	return msgpack.Marshal((*alias)(p))
}

func (p *DBProfile) UnmarshalBinary(data []byte) error {
	type alias DBProfile
	return msgpack.Unmarshal(data, (*alias)(p))
}
