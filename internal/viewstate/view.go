package viewstate

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/apexlabs-backend/internal/broadcast"
	"github.com/angelmondragon/apexlabs-backend/pkg/db/models"
	"github.com/angelmondragon/apexlabs-backend/pkg/enums"
)

// DefaultAnnotationTTL is how long a pushed or local change outranks fetched rows.
const DefaultAnnotationTTL = 60 * time.Second

// annotation remembers a recently pushed row so a stale fetch cannot undo it.
type annotation struct {
	snapshot    models.Order
	deleted     bool
	receivedAt time.Time
	updatedAt  time.Time
}

// View merges periodic fetches with pushed change events into one ordered list
// of orders. All methods are safe for concurrent use.
type View struct {
	mu    sync.Mutex
	now   func() time.Time
	ttl   time.Duration
	rows  map[string]models.Order
	notes map[string]*annotation
}

// Option configures a View.
type Option func(*View)

// WithClock overrides the wall clock used for annotation timestamps and pruning.
func WithClock(now func() time.Time) Option {
	return func(v *View) {
		if now != nil {
			v.now = now
		}
	}
}

// WithAnnotationTTL overrides DefaultAnnotationTTL.
func WithAnnotationTTL(ttl time.Duration) Option {
	return func(v *View) {
		if ttl > 0 {
			v.ttl = ttl
		}
	}
}

// NewView returns an empty view using the wall clock and DefaultAnnotationTTL.
func NewView(opts ...Option) *View {
	v := &View{
		now:   time.Now,
		ttl:   DefaultAnnotationTTL,
		rows:  make(map[string]models.Order),
		notes: make(map[string]*annotation),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// ApplyFetch replaces the base list with a freshly fetched one. Rows with a live
// annotation keep whichever side carries the newer updated_at; a tie goes to the
// fetched row. Live annotations missing from the fetch stay visible.
func (v *View) ApplyFetch(list []models.Order) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.prune()
	rows := make(map[string]models.Order, len(list))
	seen := make(map[string]struct{}, len(list))

	for _, fetched := range list {
		key := v.resolve(fetched)
		seen[key] = struct{}{}

		note, ok := v.notes[key]
		if !ok {
			rows[key] = fetched
			continue
		}

		switch {
		case note.deleted:
			if fetched.UpdatedAt.After(note.updatedAt) {
				rows[key] = fetched
				delete(v.notes, key)
			}
		case note.updatedAt.After(fetched.UpdatedAt):
			rows[key] = overlay(fetched, note.snapshot)
		default:
			rows[key] = fetched
		}
	}

	for key, note := range v.notes {
		if note.deleted {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		rows[key] = note.snapshot
	}

	v.rows = rows
}

// ApplyChangeEvent merges one pushed change into the view and annotates it.
func (v *View) ApplyChangeEvent(evt broadcast.ChangeEvent) {
	row := evt.Row()
	if row == nil {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.prune()
	if evt.Operation == enums.ChangeOperationDelete {
		v.remove(*row)
		return
	}
	incoming := *row
	if evt.Truncated {
		if existing, ok := v.rows[v.resolve(incoming)]; ok && len(incoming.Items) == 0 {
			incoming.Items = existing.Items
		}
	}
	v.upsert(incoming)
}

// ApplyLocal records an edit made by this client exactly like a pushed update.
func (v *View) ApplyLocal(order models.Order) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.prune()
	v.upsert(order)
}

// Snapshot returns the current view, newest first. Orders created in the same
// instant are ordered by order number, highest first.
func (v *View) Snapshot() []models.Order {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.prune()
	out := make([]models.Order, 0, len(v.rows))
	for _, row := range v.rows {
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].OrderNumber > out[j].OrderNumber
	})
	return out
}

// Pending reports how many annotations are still live.
func (v *View) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.prune()
	return len(v.notes)
}

func (v *View) upsert(incoming models.Order) {
	key := v.resolve(incoming)
	now := v.now()
	incomingAt := updatedAt(incoming, now)

	if existing, ok := v.rows[key]; ok && existing.UpdatedAt.After(incomingAt) {
		return
	}
	if note, ok := v.notes[key]; ok && note.updatedAt.After(incomingAt) {
		return
	}

	v.rows[key] = incoming
	v.notes[key] = &annotation{snapshot: incoming, receivedAt: now, updatedAt: incomingAt}
}

func (v *View) remove(row models.Order) {
	key := v.resolve(row)
	now := v.now()
	delete(v.rows, key)
	v.notes[key] = &annotation{snapshot: row, deleted: true, receivedAt: now, updatedAt: updatedAt(row, now)}
}

// resolve returns the canonical key for row, re-keying entries first seen by
// order number once the row's id is known.
func (v *View) resolve(row models.Order) string {
	if row.ID == uuid.Nil {
		if key, ok := v.keyForNumber(row.OrderNumber); ok {
			return key
		}
		return numberKey(row.OrderNumber)
	}

	key := idKey(row.ID)
	legacy := numberKey(row.OrderNumber)
	if existing, ok := v.rows[legacy]; ok {
		delete(v.rows, legacy)
		if _, taken := v.rows[key]; !taken {
			v.rows[key] = existing
		}
	}
	if note, ok := v.notes[legacy]; ok {
		delete(v.notes, legacy)
		if _, taken := v.notes[key]; !taken {
			v.notes[key] = note
		}
	}
	return key
}

func (v *View) keyForNumber(number string) (string, bool) {
	if number == "" {
		return "", false
	}
	for key, row := range v.rows {
		if row.OrderNumber == number {
			return key, true
		}
	}
	for key, note := range v.notes {
		if note.snapshot.OrderNumber == number {
			return key, true
		}
	}
	return "", false
}

func (v *View) prune() {
	cutoff := v.now().Add(-v.ttl)
	for key, note := range v.notes {
		if note.receivedAt.Before(cutoff) {
			delete(v.notes, key)
		}
	}
}

// overlay applies the newer pushed snapshot over a fetched row. Items are kept
// from the fetch when the pushed row arrived without them.
func overlay(fetched, pushed models.Order) models.Order {
	merged := pushed
	if len(merged.Items) == 0 {
		merged.Items = fetched.Items
	}
	if merged.ID == uuid.Nil {
		merged.ID = fetched.ID
	}
	return merged
}

// updatedAt compares at the store's full precision; the updated_at trigger
// makes successive writes distinct at the microsecond.
func updatedAt(row models.Order, now time.Time) time.Time {
	if row.UpdatedAt.IsZero() {
		return now
	}
	return row.UpdatedAt
}

func idKey(id uuid.UUID) string {
	return "id:" + id.String()
}

func numberKey(number string) string {
	return "num:" + number
}
