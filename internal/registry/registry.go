// Package registry implements the in-memory job registry: the map from
// submission guid to its delivery record and event log.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/restmailer/restmailer/internal/mail"
)

type State string

const (
	StateSending State = "sending"
	StateSended  State = "sended"
	StateError   State = "error"
)

// Event is one append-only entry in a job's progress log.
type Event struct {
	Ts      int64  `json:"ts"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Item is the per-job record owned by the Registry.
type Item struct {
	Message mail.Message `json:"message"`
	TsAdded int64        `json:"ts_added"`
	State   State        `json:"state"`
	Events  []Event      `json:"events"`
}

// WithoutAttachmentBodies returns a copy of item with content_b64 stripped
// from every attachment part, for GET responses.
func (item Item) WithoutAttachmentBodies() Item {
	out := item
	data := make([]mail.BodyPart, len(item.Message.Data))
	for i, p := range item.Message.Data {
		if p.Type == mail.PartAttachment {
			p.ContentB64 = ""
		}
		data[i] = p
	}
	out.Message = item.Message
	out.Message.Data = data
	return out
}

// Registry is a concurrency-safe map of guid to Item, preserving insertion
// order for iteration and snapshotting. All mutation happens through its
// atomic operations; there is no module-level singleton.
type Registry struct {
	mu     sync.Mutex
	order  []string
	items  map[string]*Item
	logger *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{items: make(map[string]*Item), logger: logger}
}

// Insert adds a new job record under guid. If guid already exists it is
// overwritten but its insertion-order position is kept.
func (r *Registry) Insert(guid string, item Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[guid]; !exists {
		r.order = append(r.order, guid)
	}
	cp := item
	r.items[guid] = &cp
}

// Get returns a copy of the item for guid, and whether it exists.
func (r *Registry) Get(guid string) (Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[guid]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// Remove deletes guid from the registry.
func (r *Registry) Remove(guid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(guid)
}

func (r *Registry) removeLocked(guid string) {
	if _, ok := r.items[guid]; !ok {
		return
	}
	delete(r.items, guid)
	for i, g := range r.order {
		if g == guid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Iterate returns guids in insertion order.
func (r *Registry) Iterate() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len reports the number of jobs currently held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// AppendEvent atomically appends an event to guid's log and writes it to
// the structured logger. If guid is unknown no event is stored, but the log
// line is still written.
func (r *Registry) AppendEvent(guid, source, message string) {
	r.mu.Lock()
	item, ok := r.items[guid]
	if ok {
		item.Events = append(item.Events, Event{Ts: nowSeconds(), Source: source, Message: message})
	}
	r.mu.Unlock()

	r.logger.Info(message, "guid", guid, "source", source)
}

// SetState atomically transitions guid to newState. Transitions out of a
// terminal state (sended, error) are refused.
func (r *Registry) SetState(guid string, newState State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[guid]
	if !ok {
		return
	}
	if item.State == StateSended || item.State == StateError {
		return
	}
	item.State = newState
}

// EvictOldest drops the first-inserted entry, if any, returning its guid.
func (r *Registry) EvictOldest() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return "", false
	}
	guid := r.order[0]
	r.removeLocked(guid)
	return guid, true
}

// Snapshot returns an ordered copy of (guid, item) pairs suitable for JSON
// serialization with insertion order preserved.
func (r *Registry) Snapshot() []KeyedItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]KeyedItem, 0, len(r.order))
	for _, guid := range r.order {
		out = append(out, KeyedItem{Guid: guid, Item: *r.items[guid]})
	}
	return out
}

// KeyedItem pairs a guid with its Item for ordered serialization.
type KeyedItem struct {
	Guid string
	Item Item
}

func nowSeconds() int64 { return time.Now().Unix() }
