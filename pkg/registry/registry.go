package registry

import (
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"github.com/core-tools/hsu-master/pkg/errors"
)

const defaultShardCount = 32

// Unit is anything the registry can track by ID
type Unit interface {
	ID() string
}

// Record is a point-in-time copy of a registry entry
type Record struct {
	ID           string
	Unit         Unit
	Status       UnitStatus
	StatusSince  time.Time
	RegisteredAt time.Time
	LastCheck    time.Time
	LastError    string

	order uint64
}

// TransitionObserver is called under the unit's lock for every status change,
// including registration (from is empty); it must not call back into the registry
type TransitionObserver func(id string, from, to UnitStatus)

type RegistryOptions struct {
	Shards   int
	Clock    clock.Clock
	Observer TransitionObserver
}

type entry struct {
	mutex   sync.Mutex
	record  Record
	removed bool

	tracksDiscovery bool
	issuedTicket    uint64
	appliedTicket   uint64
}

type shard struct {
	mutex   sync.RWMutex
	entries map[string]*entry
}

// Registry is the concurrency-safe table of known units; membership is sharded by ID
// and each entry carries its own lock for mutations
type Registry struct {
	shards   []*shard
	clock    clock.Clock
	observer TransitionObserver
	order    atomic.Uint64
}

func NewRegistry(options RegistryOptions) *Registry {
	count := options.Shards
	if count <= 0 {
		count = defaultShardCount
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	shards := make([]*shard, count)
	for i := range shards {
		shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return &Registry{
		shards:   shards,
		clock:    clk,
		observer: options.Observer,
	}
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

func (r *Registry) lookup(id string) (*entry, error) {
	s := r.shardFor(id)
	s.mutex.RLock()
	e, exists := s.entries[id]
	s.mutex.RUnlock()
	if !exists {
		return nil, errors.NewNotFoundError("unit not found", nil).WithContext("id", id)
	}
	return e, nil
}

// Register adds unit with its initial status. A unit registered as unknown is
// discovery-tracked and may later return to unknown from running or unhealthy.
func (r *Registry) Register(unit Unit, status UnitStatus) error {
	if unit == nil || unit.ID() == "" {
		return errors.NewValidationError("unit ID is required", nil)
	}
	if !status.IsValid() {
		return errors.NewValidationError("invalid unit status", nil).WithContext("status", status)
	}

	id := unit.ID()
	now := r.clock.Now()
	e := &entry{
		record: Record{
			ID:           id,
			Unit:         unit,
			Status:       status,
			StatusSince:  now,
			RegisteredAt: now,
			order:        r.order.Add(1),
		},
		tracksDiscovery: status == StatusUnknown,
	}

	s := r.shardFor(id)
	s.mutex.Lock()
	if _, exists := s.entries[id]; exists {
		s.mutex.Unlock()
		return errors.NewDuplicateUnitError("unit already registered", nil).WithContext("id", id)
	}
	e.mutex.Lock()
	s.entries[id] = e
	s.mutex.Unlock()
	defer e.mutex.Unlock()

	r.notify(id, "", status)
	return nil
}

func (r *Registry) Get(id string) (Record, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Record{}, err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.removed {
		return Record{}, errors.NewNotFoundError("unit not found", nil).WithContext("id", id)
	}
	return e.record, nil
}

// UpdateStatus moves a unit to status, validating the transition.
// Health checks begun before the update can no longer overwrite it.
func (r *Registry) UpdateStatus(id string, status UnitStatus) error {
	return r.update(id, func(e *entry) error {
		if err := r.transition(e, status); err != nil {
			return err
		}
		e.appliedTicket = e.issuedTicket
		return nil
	})
}

// UpdateStatusWithError behaves like UpdateStatus and records cause as the unit's last error
func (r *Registry) UpdateStatusWithError(id string, status UnitStatus, cause error) error {
	return r.update(id, func(e *entry) error {
		if err := r.transition(e, status); err != nil {
			return err
		}
		e.appliedTicket = e.issuedTicket
		e.record.LastError = errorText(cause)
		return nil
	})
}

// BeginCheck issues the next health check ticket for id
func (r *Registry) BeginCheck(id string) (uint64, error) {
	var ticket uint64
	err := r.update(id, func(e *entry) error {
		e.issuedTicket++
		ticket = e.issuedTicket
		return nil
	})
	return ticket, err
}

// ApplyCheck applies a health check result unless a newer ticket was already applied.
// It reports whether the result was applied.
func (r *Registry) ApplyCheck(id string, ticket uint64, status UnitStatus, cause error) (bool, error) {
	applied := false
	err := r.update(id, func(e *entry) error {
		if ticket <= e.appliedTicket {
			return nil
		}
		if err := r.transition(e, status); err != nil {
			return err
		}
		e.appliedTicket = ticket
		e.record.LastCheck = r.clock.Now()
		e.record.LastError = errorText(cause)
		applied = true
		return nil
	})
	return applied, err
}

func (r *Registry) update(id string, fn func(e *entry) error) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.removed {
		return errors.NewNotFoundError("unit was removed", nil).WithContext("id", id)
	}
	return fn(e)
}

// transition must be called with e.mutex held
func (r *Registry) transition(e *entry, status UnitStatus) error {
	if !status.IsValid() {
		return errors.NewValidationError("invalid unit status", nil).WithContext("status", status)
	}

	from := e.record.Status
	if from == status {
		return nil
	}
	if from.IsTerminal() {
		return errors.NewConflictError("unit is stopped", nil).
			WithContext("id", e.record.ID).
			WithContext("to", status)
	}
	if !canTransition(from, status, e.tracksDiscovery) {
		return errors.NewConflictError("invalid status transition", nil).
			WithContext("id", e.record.ID).
			WithContext("from", from).
			WithContext("to", status)
	}

	e.record.Status = status
	e.record.StatusSince = r.clock.Now()
	r.notify(e.record.ID, from, status)
	return nil
}

func (r *Registry) notify(id string, from, to UnitStatus) {
	if r.observer != nil {
		r.observer(id, from, to)
	}
}

// Remove deletes id and returns its final record
func (r *Registry) Remove(id string) (Record, error) {
	s := r.shardFor(id)
	s.mutex.Lock()
	e, exists := s.entries[id]
	delete(s.entries, id)
	s.mutex.Unlock()

	if !exists {
		return Record{}, errors.NewNotFoundError("unit not found", nil).WithContext("id", id)
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.removed = true
	return e.record, nil
}

// List returns all records in registration order
func (r *Registry) List() []Record {
	return r.collect(func(Record) bool { return true })
}

// ListByStatus returns records with status in registration order
func (r *Registry) ListByStatus(status UnitStatus) []Record {
	return r.collect(func(record Record) bool { return record.Status == status })
}

func (r *Registry) collect(keep func(Record) bool) []Record {
	var entries []*entry
	for _, s := range r.shards {
		s.mutex.RLock()
		for _, e := range s.entries {
			entries = append(entries, e)
		}
		s.mutex.RUnlock()
	}

	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		e.mutex.Lock()
		record, removed := e.record, e.removed
		e.mutex.Unlock()
		if !removed && keep(record) {
			records = append(records, record)
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].order < records[j].order })
	return records
}

func (r *Registry) Len() int {
	total := 0
	for _, s := range r.shards {
		s.mutex.RLock()
		total += len(s.entries)
		s.mutex.RUnlock()
	}
	return total
}

// Clear removes every record; later updates to cleared IDs fail with not_found
func (r *Registry) Clear() {
	for _, s := range r.shards {
		s.mutex.Lock()
		entries := s.entries
		s.entries = make(map[string]*entry)
		s.mutex.Unlock()

		for _, e := range entries {
			e.mutex.Lock()
			e.removed = true
			e.mutex.Unlock()
		}
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
