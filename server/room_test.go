package main

import (
	"testing"
	"time"
)

func TestRoomExpiredAfterTTL(t *testing.T) {
	r := newRoom("11-22")
	if r.expired(r.CreatedAt.Add(5 * time.Minute)) {
		t.Fatalf("room should not be expired before its TTL")
	}
	if !r.expired(r.CreatedAt.Add(roomTTL + time.Second)) {
		t.Fatalf("room should be expired once its TTL has elapsed")
	}
}

func TestRoomSnapshotMembersIsACopy(t *testing.T) {
	r := newRoom("42-69")
	c := &Client{id: "a"}
	r.members[c.id] = c

	snap := r.snapshotMembers()
	if len(snap) != 1 || snap[0].id != "a" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	delete(r.members, "a")
	if len(snap) != 1 {
		t.Fatalf("snapshot should be unaffected by later mutation of members")
	}
}

func TestRoomSize(t *testing.T) {
	r := newRoom("x")
	if r.size() != 0 {
		t.Fatalf("new room should be empty")
	}
	r.members["a"] = &Client{id: "a"}
	if r.size() != 1 {
		t.Fatalf("expected size 1, got %d", r.size())
	}
}
