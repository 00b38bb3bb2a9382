package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"livesync/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketMessages      = []byte("messages")
	bucketNotifications = []byte("notifications")
	bucketProfiles      = []byte("profiles")
	bucketMeta          = []byte("meta")

	metaReadMarkers = []byte("read_markers")
)

type Options struct {
	// ReadMarkers enables the optional read-marker schema. When a store is
	// opened without it, unread tracking degrades to local-only zero counts.
	ReadMarkers bool
}

type Store struct {
	db          *bbolt.DB
	readMarkers bool
}

func New(path string, opts Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMessages, bucketNotifications, bucketProfiles, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		if opts.ReadMarkers {
			return tx.Bucket(bucketMeta).Put(metaReadMarkers, []byte("1"))
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	// Schema probe: read markers are supported only if a previous (or this)
	// open enabled them.
	var markers bool
	err = db.View(func(tx *bbolt.Tx) error {
		markers = tx.Bucket(bucketMeta).Get(metaReadMarkers) != nil
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, readMarkers: markers}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SupportsReadMarkers reports the schema probe result.
func (s *Store) SupportsReadMarkers() bool {
	return s.readMarkers
}

// conversationKey builds a deterministic bucket name for a peer pair.
// The IDs are joined with a NUL byte so an underscore inside an ID
// cannot be mistaken for the separator.
func conversationKey(u1, u2 string) string {
	ids := []string{u1, u2}
	sort.Strings(ids)
	return "dm_" + ids[0] + "\x00" + ids[1]
}

// InsertMessage persists a draft and returns the durable row. The durable
// identifier comes from a global sequence, and the stored created
// timestamp is assigned here, so a confirmation may differ from the
// provisional record in both id and timestamp precision.
func (s *Store) InsertMessage(draft models.Draft) (models.Message, error) {
	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if draft.FromID == "" || draft.ToID == "" {
			return fmt.Errorf("draft missing sender or recipient")
		}

		main := tx.Bucket(bucketMessages)
		seq, err := main.NextSequence()
		if err != nil {
			return err
		}

		conv, err := main.CreateBucketIfNotExists([]byte(conversationKey(draft.FromID, draft.ToID)))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		dbMsg := DBMessage{
			Seq:       seq,
			FromID:    draft.FromID,
			ToID:      draft.ToID,
			Body:      draft.Body,
			CreatedAt: time.Now().UnixMilli(),
		}

		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := conv.Put(dbMsg.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		msg = messageFromDB(dbMsg)
		return nil
	})
	return msg, err
}

// History returns the full conversation between selfID and contactID in
// ascending created-timestamp order.
func (s *Store) History(selfID, contactID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		conv := tx.Bucket(bucketMessages).Bucket([]byte(conversationKey(selfID, contactID)))
		if conv == nil {
			return nil // no messages yet
		}
		return conv.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, messageFromDB(dbMsg))
			return nil
		})
	})
	return messages, err
}

// CountUnread counts messages from fromID to toID without a read marker.
func (s *Store) CountUnread(fromID, toID string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		conv := tx.Bucket(bucketMessages).Bucket([]byte(conversationKey(fromID, toID)))
		if conv == nil {
			return nil
		}
		return conv.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMsg.FromID == fromID && dbMsg.ToID == toID && dbMsg.ReadAt == 0 {
				count++
			}
			return nil
		})
	})
	return count, err
}

// MarkRead stamps every unread message from fromID to toID. Already-read
// rows are untouched, so repeated calls are no-ops. Without read-marker
// support this is a silent no-op.
func (s *Store) MarkRead(fromID, toID string) error {
	if !s.readMarkers {
		return nil
	}
	now := time.Now().UnixMilli()
	return s.db.Update(func(tx *bbolt.Tx) error {
		conv := tx.Bucket(bucketMessages).Bucket([]byte(conversationKey(fromID, toID)))
		if conv == nil {
			return nil
		}

		// Collect first: writing during cursor iteration invalidates it.
		var pending []DBMessage
		err := conv.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMsg.FromID == fromID && dbMsg.ToID == toID && dbMsg.ReadAt == 0 {
				pending = append(pending, dbMsg)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, dbMsg := range pending {
			dbMsg.ReadAt = now
			data, err := dbMsg.MarshalBinary()
			if err != nil {
				return err
			}
			if err := conv.Put(dbMsg.Key(), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LastConversations returns one summary contact per conversation that
// involves userID, most recent first. Display names are left for the
// directory to resolve.
func (s *Store) LastConversations(userID string) ([]models.Contact, error) {
	type summary struct {
		contact models.Contact
		seq     uint64
	}
	var summaries []summary
	err := s.db.View(func(tx *bbolt.Tx) error {
		main := tx.Bucket(bucketMessages)
		return main.ForEachBucket(func(name []byte) error {
			other, ok := conversationPeer(string(name), userID)
			if !ok {
				return nil
			}
			conv := main.Bucket(name)
			k, v := conv.Cursor().Last()
			if k == nil {
				return nil
			}
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			summaries = append(summaries, summary{
				contact: models.Contact{
					ID:        strconv.FormatUint(dbMsg.Seq, 10),
					ContactID: other,
					LastBody:  dbMsg.Body,
					LastAt:    dbMsg.CreatedAt,
				},
				seq: dbMsg.Seq,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Timestamps have millisecond precision; the global sequence breaks
	// ties so the order stays deterministic.
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].contact.LastAt != summaries[j].contact.LastAt {
			return summaries[i].contact.LastAt > summaries[j].contact.LastAt
		}
		return summaries[i].seq > summaries[j].seq
	})

	contacts := make([]models.Contact, len(summaries))
	for i, sm := range summaries {
		contacts[i] = sm.contact
	}
	return contacts, nil
}

// conversationPeer extracts the other participant from a conversation
// bucket name, if userID is one of the two.
func conversationPeer(name, userID string) (string, bool) {
	if !strings.HasPrefix(name, "dm_") {
		return "", false
	}
	a, b, ok := strings.Cut(name[3:], "\x00")
	if !ok {
		return "", false
	}
	switch userID {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

// InsertNotification persists a notification and returns it with the
// durable identifier assigned.
func (s *Store) InsertNotification(n models.Notification) (models.Notification, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if n.UserID == "" {
			return fmt.Errorf("notification missing userID")
		}

		user, err := tx.Bucket(bucketNotifications).CreateBucketIfNotExists([]byte(n.UserID))
		if err != nil {
			return err
		}
		seq, err := user.NextSequence()
		if err != nil {
			return err
		}

		createdAt := n.CreatedAt
		if createdAt == 0 {
			createdAt = time.Now().UnixMilli()
		}
		dbN := DBNotification{
			Seq:       seq,
			UserID:    n.UserID,
			Title:     n.Title,
			Body:      n.Body,
			Seen:      n.Seen,
			CreatedAt: createdAt,
			JobID:     n.JobID,
		}
		data, err := dbN.MarshalBinary()
		if err != nil {
			return err
		}
		if err := user.Put(dbN.Key(), data); err != nil {
			return err
		}

		n = notificationFromDB(dbN)
		return nil
	})
	return n, err
}

// ListNotifications returns a user's notifications, newest first.
func (s *Store) ListNotifications(userID string) ([]models.Notification, error) {
	var out []models.Notification
	err := s.db.View(func(tx *bbolt.Tx) error {
		user := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if user == nil {
			return nil
		}
		c := user.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var dbN DBNotification
			if err := dbN.UnmarshalBinary(v); err != nil {
				return err
			}
			out = append(out, notificationFromDB(dbN))
		}
		return nil
	})
	return out, err
}

// MarkSeen flips a single notification to seen. Marking an already-seen
// notification succeeds.
func (s *Store) MarkSeen(userID, id string) error {
	seq, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return fmt.Errorf("bad notification id %q: %w", id, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		user := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if user == nil {
			return models.ErrNotFound
		}
		key := (&DBNotification{Seq: seq}).Key()
		v := user.Get(key)
		if v == nil {
			return models.ErrNotFound
		}
		var dbN DBNotification
		if err := dbN.UnmarshalBinary(v); err != nil {
			return err
		}
		if dbN.Seen {
			return nil
		}
		dbN.Seen = true
		data, err := dbN.MarshalBinary()
		if err != nil {
			return err
		}
		return user.Put(key, data)
	})
}

// MarkAllSeen flips every notification for userID to seen.
func (s *Store) MarkAllSeen(userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		user := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if user == nil {
			return nil
		}
		var pending []DBNotification
		err := user.ForEach(func(k, v []byte) error {
			var dbN DBNotification
			if err := dbN.UnmarshalBinary(v); err != nil {
				return err
			}
			if !dbN.Seen {
				pending = append(pending, dbN)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, dbN := range pending {
			dbN.Seen = true
			data, err := dbN.MarshalBinary()
			if err != nil {
				return err
			}
			if err := user.Put(dbN.Key(), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertProfile stores a directory profile.
func (s *Store) UpsertProfile(p models.Profile) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbP := DBProfile{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			AvatarURL:   p.AvatarURL,
		}
		data, err := dbP.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketProfiles).Put(dbP.Key(), data)
	})
}

// Lookup returns the directory profile for id, or models.ErrNotFound.
func (s *Store) Lookup(id string) (models.Profile, error) {
	var p models.Profile
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketProfiles).Get([]byte(id))
		if v == nil {
			return models.ErrNotFound
		}
		var dbP DBProfile
		if err := dbP.UnmarshalBinary(v); err != nil {
			return err
		}
		p = models.Profile{
			ID:          dbP.ID,
			DisplayName: dbP.DisplayName,
			AvatarURL:   dbP.AvatarURL,
		}
		return nil
	})
	return p, err
}

func messageFromDB(m DBMessage) models.Message {
	return models.Message{
		ID:        strconv.FormatUint(m.Seq, 10),
		FromID:    m.FromID,
		ToID:      m.ToID,
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
		ReadAt:    m.ReadAt,
	}
}

func notificationFromDB(n DBNotification) models.Notification {
	return models.Notification{
		ID:        strconv.FormatUint(n.Seq, 10),
		UserID:    n.UserID,
		Title:     n.Title,
		Body:      n.Body,
		Seen:      n.Seen,
		CreatedAt: n.CreatedAt,
		JobID:     n.JobID,
	}
}
