package models

import "testing"

func TestIsTempID(t *testing.T) {
	if !IsTempID("temp-01H") {
		t.Error("expected temp- prefixed id to be provisional")
	}
	if IsTempID("42") {
		t.Error("durable id reported provisional")
	}
	if IsTempID("") {
		t.Error("empty id reported provisional")
	}
}

func TestContactMatches(t *testing.T) {
	c := Contact{ContactID: "u2", DisplayName: "Alice Cooper"}

	if !c.Matches("alice") {
		t.Error("expected case-insensitive match on display name")
	}
	if !c.Matches("COOP") {
		t.Error("expected substring match")
	}
	if !c.Matches("") {
		t.Error("empty query must match everything")
	}
	if c.Matches("bob") {
		t.Error("unexpected match")
	}
}
