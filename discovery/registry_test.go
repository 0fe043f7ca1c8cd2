package discovery

import (
	"testing"

	"github.com/google/uuid"
)

func TestParseTXT(t *testing.T) {
	got := parseTXT([]string{"id=abc123", "fn=Living Room TV", "rs=", "md=Chromecast", "malformed"})
	want := map[string]string{"id": "abc123", "fn": "Living Room TV", "rs": "", "md": "Chromecast"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("key %q: got %q, want %q", k, got[k], v)
		}
	}
}

func TestParseReceiverUUIDBareHex(t *testing.T) {
	bare := "0123456789abcdef0123456789abcdef"[:32]
	got, err := parseReceiverUUID(bare)
	if err != nil {
		t.Fatalf("parseReceiverUUID: %v", err)
	}
	want := uuid.MustParse("01234567-89ab-cdef-0123-456789abcdef")
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCapabilityFlags(t *testing.T) {
	// video_out(1) | audio_out(4) = 5
	videoOut, videoIn, audioOut, audioIn, devMode := capabilityFlags("5")
	if !videoOut || videoIn || !audioOut || audioIn || devMode {
		t.Errorf("capabilityFlags(5) = %v %v %v %v %v", videoOut, videoIn, audioOut, audioIn, devMode)
	}
}

func TestAddKnownHostThenDuplicateIsNoOp(t *testing.T) {
	r := NewRegistry()
	h := KnownHost{Name: "Office Speaker", Host: "192.168.1.50", Port: 8009}
	r.AddKnownHost(h)
	r.AddKnownHost(h)

	list := r.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(list))
	}
	if len(list[0].Services) != 1 {
		t.Fatalf("expected 1 service after duplicate add, got %d: %+v", len(list[0].Services), list[0].Services)
	}
}

func TestSnapshotStaleExcludesStatic(t *testing.T) {
	s := newSnapshot()
	id := uuid.New()
	s.put(CastInfo{UUID: id, FriendlyName: "x"})

	// With a negative TTL everything not excluded looks stale immediately.
	stale := s.stale(-1, nil)
	if len(stale) != 1 || stale[0] != id {
		t.Fatalf("expected %s stale, got %v", id, stale)
	}

	excluded := s.stale(-1, map[uuid.UUID]struct{}{id: {}})
	if len(excluded) != 0 {
		t.Fatalf("expected no stale entries when excluded, got %v", excluded)
	}
}

func TestSnapshotDeleteRemovesNameIndex(t *testing.T) {
	s := newSnapshot()
	id := uuid.New()
	s.put(CastInfo{UUID: id, FriendlyName: "Kitchen"})
	if _, ok := s.byName("Kitchen"); !ok {
		t.Fatal("expected name index populated")
	}
	s.delete(id)
	if _, ok := s.byName("Kitchen"); ok {
		t.Fatal("expected name index cleared after delete")
	}
}
