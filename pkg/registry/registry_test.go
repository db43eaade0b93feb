package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	statePath := filepath.Join(t.TempDir(), "receiving_tabs.json")
	reg, err := New(statePath)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg, statePath
}

// breakPersistence points the registry's state path at a non-empty directory
// so the atomic rename in saveLocked fails.
func breakPersistence(t *testing.T, reg *Registry) {
	t.Helper()
	blocked := filepath.Join(t.TempDir(), "blocked")
	if err := os.MkdirAll(filepath.Join(blocked, "occupant"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	reg.statePath = blocked
}

func TestSubscribeAndList(t *testing.T) {
	reg, _ := newTestRegistry(t)

	if err := reg.Subscribe(7, TabInfo{Title: "Gemini", URL: "https://gemini.google.com/app"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	tabs := reg.ListAll()
	if len(tabs) != 1 {
		t.Fatalf("expected 1 tab, got %d", len(tabs))
	}
	if tabs[7].Title != "Gemini" {
		t.Fatalf("unexpected metadata: %+v", tabs[7])
	}
	if reg.Count() != 1 {
		t.Fatalf("expected count 1, got %d", reg.Count())
	}
}

func TestSubscribeIsIdempotentUpsert(t *testing.T) {
	reg, _ := newTestRegistry(t)

	if err := reg.Subscribe(7, TabInfo{Title: "old", URL: "https://claude.ai/new"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := reg.Subscribe(7, TabInfo{Title: "new", URL: "https://claude.ai/new"}); err != nil {
		t.Fatalf("re-subscribe: %v", err)
	}

	if reg.Count() != 1 {
		t.Fatalf("upsert should not duplicate, count=%d", reg.Count())
	}
	if got := reg.ListAll()[7].Title; got != "new" {
		t.Fatalf("upsert should replace metadata, got %q", got)
	}
}

func TestUnsubscribeMissingTabIsNoop(t *testing.T) {
	reg, _ := newTestRegistry(t)

	if err := reg.Unsubscribe(99); err != nil {
		t.Fatalf("unsubscribe of absent tab should succeed: %v", err)
	}
}

func TestUnsubscribeRemoves(t *testing.T) {
	reg, _ := newTestRegistry(t)

	if err := reg.Subscribe(1, TabInfo{URL: "https://chatgpt.com"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := reg.Unsubscribe(1); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if reg.Count() != 0 {
		t.Fatalf("expected empty registry, count=%d", reg.Count())
	}
}

func TestListAllIsASnapshot(t *testing.T) {
	reg, _ := newTestRegistry(t)

	if err := reg.Subscribe(1, TabInfo{Title: "a", URL: "https://claude.ai"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	snapshot := reg.ListAll()
	delete(snapshot, 1)
	snapshot[2] = TabInfo{Title: "intruder"}

	if reg.Count() != 1 {
		t.Fatal("mutating the snapshot must not affect the registry")
	}
	if _, ok := reg.ListAll()[1]; !ok {
		t.Fatal("original entry should survive snapshot mutation")
	}
}

func TestSubscribeRollbackOnPersistFailure(t *testing.T) {
	reg, _ := newTestRegistry(t)

	if err := reg.Subscribe(1, TabInfo{Title: "Claude", URL: "https://claude.ai"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	breakPersistence(t, reg)

	if err := reg.Subscribe(2, TabInfo{URL: "https://chatgpt.com"}); err == nil {
		t.Fatal("subscribe should fail when the state file cannot be written")
	}
	if reg.Count() != 1 {
		t.Fatalf("failed subscribe must leave no partial entry, count=%d", reg.Count())
	}
	if _, ok := reg.ListAll()[2]; ok {
		t.Fatal("failed subscribe must not register the tab")
	}

	// A failed upsert of an existing tab must restore its prior metadata.
	if err := reg.Subscribe(1, TabInfo{Title: "renamed", URL: "https://claude.ai"}); err == nil {
		t.Fatal("upsert should fail when the state file cannot be written")
	}
	if got := reg.ListAll()[1].Title; got != "Claude" {
		t.Fatalf("failed upsert must restore prior metadata, got %q", got)
	}
}

func TestUnsubscribeRollbackOnPersistFailure(t *testing.T) {
	reg, _ := newTestRegistry(t)

	if err := reg.Subscribe(4, TabInfo{Title: "Gemini", URL: "https://gemini.google.com/app"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	breakPersistence(t, reg)

	if err := reg.Unsubscribe(4); err == nil {
		t.Fatal("unsubscribe should fail when the state file cannot be written")
	}
	if got := reg.ListAll()[4].Title; got != "Gemini" {
		t.Fatalf("failed unsubscribe must restore the entry, got %+v", reg.ListAll()[4])
	}
}

func TestNewFailsOnUnreadableState(t *testing.T) {
	// A directory at the state path makes the read fail with a non-ENOENT
	// error. Starting empty here would clobber durable subscriptions on the
	// next write, so New must refuse.
	statePath := filepath.Join(t.TempDir(), "receiving_tabs.json")
	if err := os.MkdirAll(statePath, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if _, err := New(statePath); err == nil {
		t.Fatal("expected an error for an unreadable state file")
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "receiving_tabs.json")

	first, err := New(statePath)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if err := first.Subscribe(3, TabInfo{Title: "ChatGPT", URL: "https://chatgpt.com", WindowID: 2}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := first.Subscribe(5, TabInfo{Title: "Claude", URL: "https://claude.ai"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	second, err := New(statePath)
	if err != nil {
		t.Fatalf("reopen registry: %v", err)
	}
	if second.Count() != 2 {
		t.Fatalf("expected 2 restored tabs, got %d", second.Count())
	}
	tabs := second.ListAll()
	if tabs[3].WindowID != 2 {
		t.Fatalf("restored metadata mismatch: %+v", tabs[3])
	}

	ids := second.TabIDs()
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 5 {
		t.Fatalf("unexpected tab IDs: %v", ids)
	}
}
