package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// TabInfo is display metadata for a receiving tab. It is used for logging
// and UI only; routing is purely membership based.
type TabInfo struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	WindowID int    `json:"window_id,omitempty"`
}

type stateFile struct {
	Version int             `json:"version"`
	Tabs    map[int]TabInfo `json:"tabs"`
}

// Registry is the durable source of truth for which tabs want broadcast
// payloads. Presence of a key means "deliver the next payload here". Entries
// are persisted to a JSON state file so subscriptions survive agent restarts.
type Registry struct {
	mu        sync.RWMutex
	statePath string
	tabs      map[int]TabInfo
}

// New opens the registry at statePath, restoring any persisted subscriptions.
// A missing state file starts empty; an unreadable one is an error, since
// proceeding would overwrite durable subscriptions on the next write.
func New(statePath string) (*Registry, error) {
	_ = os.MkdirAll(filepath.Dir(statePath), 0755)

	r := &Registry{
		statePath: statePath,
		tabs:      map[int]TabInfo{},
	}
	if err := r.load(); err != nil {
		return nil, fmt.Errorf("load registry state: %w", err)
	}
	return r, nil
}

// Subscribe upserts a tab. Callers must have already checked the tab's URL
// against the supported-destination matcher. On a persistence failure the
// in-memory map is rolled back so no partial entry remains.
func (r *Registry) Subscribe(tabID int, info TabInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed := r.tabs[tabID]
	r.tabs[tabID] = info
	if err := r.saveLocked(); err != nil {
		if existed {
			r.tabs[tabID] = prev
		} else {
			delete(r.tabs, tabID)
		}
		return fmt.Errorf("persist subscription: %w", err)
	}
	return nil
}

// Unsubscribe removes a tab. Removing a tab that is not present is a no-op.
func (r *Registry) Unsubscribe(tabID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed := r.tabs[tabID]
	if !existed {
		return nil
	}
	delete(r.tabs, tabID)
	if err := r.saveLocked(); err != nil {
		r.tabs[tabID] = prev
		return fmt.Errorf("persist unsubscription: %w", err)
	}
	return nil
}

// ListAll returns a point-in-time copy of the membership. Mutating the
// returned map does not affect the registry.
func (r *Registry) ListAll() map[int]TabInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[int]TabInfo, len(r.tabs))
	for id, info := range r.tabs {
		out[id] = info
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}

// TabIDs returns the subscribed tab IDs in ascending order, for logging.
func (r *Registry) TabIDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.tabs))
	for id := range r.tabs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var st stateFile
	if err := json.Unmarshal(data, &st); err != nil {
		// A corrupt state file starts empty rather than wedging the agent.
		r.tabs = map[int]TabInfo{}
		return nil
	}
	if st.Tabs == nil {
		st.Tabs = map[int]TabInfo{}
	}
	r.tabs = st.Tabs
	return nil
}

func (r *Registry) saveLocked() error {
	st := stateFile{
		Version: 1,
		Tabs:    r.tabs,
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry state: %w", err)
	}
	tmp := r.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write registry temp: %w", err)
	}
	if err := os.Rename(tmp, r.statePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace registry state: %w", err)
	}
	return nil
}
