// Package knowledge implements the shared knowledge base: versioned
// key→entry history, tag queries, and per-key subscriber fan-out.
package knowledge

import (
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

// Entry is one immutable version of a knowledge key. Versions per key are
// strictly increasing by one, starting at 1.
type Entry struct {
	Key           string   `json:"key"`
	Value         string   `json:"value"`
	ContributorID string   `json:"contributor_id"`
	Timestamp     int64    `json:"timestamp"`
	Version       int      `json:"version"`
	Tags          []string `json:"tags,omitempty"`
}

// UpdateFunc is invoked for each subscriber of a key when a new version is
// stored. It runs under the base's write lock; keep it cheap and do not
// call back into the base.
type UpdateFunc func(agentID string, entry Entry)

// Base is the process-wide knowledge store. Reads dominate, so it is
// guarded by a readers/writer lock.
type Base struct {
	entries     map[string][]Entry
	subscribers map[string]map[string]struct{}
	onUpdate    UpdateFunc
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewBase creates an empty knowledge base.
func NewBase(logger *zap.Logger) *Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Base{
		entries:     make(map[string][]Entry),
		subscribers: make(map[string]map[string]struct{}),
		logger:      logger.With(zap.String("component", "knowledge_base")),
	}
}

// SetUpdateCallback installs the subscriber notification hook.
func (b *Base) SetUpdateCallback(fn UpdateFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onUpdate = fn
}

// Put stores a new version of key and notifies its subscribers.
func (b *Base) Put(key, value, contributorID string, tags []string) Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := Entry{
		Key:           key,
		Value:         value,
		ContributorID: contributorID,
		Timestamp:     types.TimestampMs(),
		Version:       1,
		Tags:          append([]string(nil), tags...),
	}
	if history := b.entries[key]; len(history) > 0 {
		entry.Version = history[len(history)-1].Version + 1
	}
	b.entries[key] = append(b.entries[key], entry)

	if b.onUpdate != nil {
		for agentID := range b.subscribers[key] {
			b.onUpdate(agentID, entry)
		}
	}
	return entry
}

// Get returns the latest version of key.
func (b *Base) Get(key string) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	history := b.entries[key]
	if len(history) == 0 {
		return Entry{}, false
	}
	return history[len(history)-1], true
}

// History returns every stored version of key, oldest first.
func (b *Base) History(key string) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Entry(nil), b.entries[key]...)
}

// Query returns the latest version of every key whose entry carries all
// of the given tags. An empty tag list matches every entry.
func (b *Base) Query(tags []string) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Entry
	for _, history := range b.entries {
		latest := history[len(history)-1]
		have := make(map[string]struct{}, len(latest.Tags))
		for _, tag := range latest.Tags {
			have[tag] = struct{}{}
		}
		hasAll := true
		for _, tag := range tags {
			if _, ok := have[tag]; !ok {
				hasAll = false
				break
			}
		}
		if hasAll {
			out = append(out, latest)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Subscribe registers an agent for updates to key.
func (b *Base) Subscribe(key, agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[key] == nil {
		b.subscribers[key] = make(map[string]struct{})
	}
	b.subscribers[key][agentID] = struct{}{}
}

// Unsubscribe removes an agent's subscription to key.
func (b *Base) Unsubscribe(key, agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers[key], agentID)
}

// Keys returns all stored keys, sorted.
func (b *Base) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Clear drops every entry and subscription.
func (b *Base) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string][]Entry)
	b.subscribers = make(map[string]map[string]struct{})
}

// export is the JSON shape of the base: full history per key.
type export struct {
	Entries map[string][]Entry `json:"entries"`
}

// Export serializes the full version history of every key.
func (b *Base) Export() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return json.Marshal(export{Entries: b.entries})
}

// Import replaces the base's contents with a previously exported state.
func (b *Base) Import(data []byte) error {
	var state export
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = state.Entries
	if b.entries == nil {
		b.entries = make(map[string][]Entry)
	}
	return nil
}
