package chatapp

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	if _, ok, err := s.Get("missing"); err != nil || ok {
		t.Fatalf("Get missing = ok=%v err=%v, want absent", ok, err)
	}

	if err := s.Set("k", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := s.Get("k")
	if err != nil || !ok || string(got) != "v1" {
		t.Fatalf("Get = %q ok=%v err=%v", got, ok, err)
	}

	// Returned slice is a copy.
	got[0] = 'X'
	got2, _, _ := s.Get("k")
	if string(got2) != "v1" {
		t.Fatalf("store mutated through returned slice: %q", got2)
	}

	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get("k"); ok {
		t.Fatal("key still present after Delete")
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete of absent key: %v", err)
	}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if _, ok, err := s.Get("missing"); err != nil || ok {
		t.Fatalf("Get missing = ok=%v err=%v, want absent", ok, err)
	}

	if err := s.Set("user_statuses", []byte(`{"2":"online"}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := s.Get("user_statuses")
	if err != nil || !ok || string(got) != `{"2":"online"}` {
		t.Fatalf("Get = %q ok=%v err=%v", got, ok, err)
	}

	// Survives reopening the store.
	s2, err := NewFileStore(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok, _ = s2.Get("user_statuses")
	if !ok || string(got) != `{"2":"online"}` {
		t.Fatalf("after reopen Get = %q ok=%v", got, ok)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("leftover temp file %s", e.Name())
		}
	}

	if err := s.Delete("user_statuses"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get("user_statuses"); ok {
		t.Fatal("key still present after Delete")
	}
	if err := s.Delete("user_statuses"); err != nil {
		t.Fatalf("Delete of absent key: %v", err)
	}
}

func TestCacheRoundtrip(t *testing.T) {
	cache := NewCache(NewMemoryStore())

	t.Run("presence", func(t *testing.T) {
		m, err := cache.Presence()
		if err != nil || len(m) != 0 {
			t.Fatalf("empty presence = %v err=%v", m, err)
		}
		want := map[int64]Status{2: StatusOnline, 3: StatusOffline}
		if err := cache.SetPresence(want); err != nil {
			t.Fatalf("SetPresence: %v", err)
		}
		got, err := cache.Presence()
		if err != nil {
			t.Fatalf("Presence: %v", err)
		}
		if len(got) != 2 || got[2] != StatusOnline || got[3] != StatusOffline {
			t.Fatalf("Presence = %v", got)
		}
	})

	t.Run("messages", func(t *testing.T) {
		at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
		msgs := []Message{{SenderID: 1, ReceiverID: 2, Content: "hi", CreatedAt: at}}
		if err := cache.SetMessages(2, msgs); err != nil {
			t.Fatalf("SetMessages: %v", err)
		}
		got, err := cache.Messages(2)
		if err != nil {
			t.Fatalf("Messages: %v", err)
		}
		if len(got) != 1 || got[0] != msgs[0] {
			t.Fatalf("Messages = %+v", got)
		}
		// Logs are stored per peer.
		other, _ := cache.Messages(3)
		if other != nil {
			t.Fatalf("unexpected log for other peer: %+v", other)
		}
		if err := cache.DeleteMessages(2); err != nil {
			t.Fatalf("DeleteMessages: %v", err)
		}
		if got, _ := cache.Messages(2); got != nil {
			t.Fatalf("log survived delete: %+v", got)
		}
	})

	t.Run("unseen", func(t *testing.T) {
		if err := cache.SetUnseen(map[int64]bool{2: true}); err != nil {
			t.Fatalf("SetUnseen: %v", err)
		}
		got, err := cache.Unseen()
		if err != nil || !got[2] {
			t.Fatalf("Unseen = %v err=%v", got, err)
		}
	})

	t.Run("session", func(t *testing.T) {
		if _, ok, err := cache.Session(); err != nil || ok {
			t.Fatalf("missing session = ok=%v err=%v", ok, err)
		}
		want := Session{UserID: 1, Username: "alice", Token: "tok"}
		if err := cache.SetSession(want); err != nil {
			t.Fatalf("SetSession: %v", err)
		}
		got, ok, err := cache.Session()
		if err != nil || !ok || *got != want {
			t.Fatalf("Session = %+v ok=%v err=%v", got, ok, err)
		}
		if err := cache.DeleteSession(); err != nil {
			t.Fatalf("DeleteSession: %v", err)
		}
		if _, ok, _ := cache.Session(); ok {
			t.Fatal("session survived delete")
		}
	})
}
