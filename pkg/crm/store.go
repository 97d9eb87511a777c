package crm

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Subscriber receives a fresh snapshot of every booking after each mutation.
type Subscriber func(snapshot []Booking)

// Store is an in-memory table of bookings keyed by PNR.
//
// All reads return deep copies, so records can only change through the Store
// API. After every successful mutation each subscriber is called synchronously,
// in registration order, with the same snapshot. Subscribers must not mutate
// the store from inside the callback.
type Store struct {
	logger *slog.Logger
	now    func() time.Time

	seed     []Booking
	seedOnce sync.Once

	mu       sync.RWMutex
	bookings map[string]*Booking
	order    []string

	// notifyMu serializes mutation + notification so subscribers observe
	// snapshots in mutation order.
	notifyMu sync.Mutex
	subMu    sync.Mutex
	subs     []subscription
	nextSub  int
}

type subscription struct {
	id int
	fn Subscriber
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSeed replaces the default seed data.
func WithSeed(seed []Booking) StoreOption {
	return func(s *Store) { s.seed = seed }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used to stamp notes.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store. Seed data is loaded on first access.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		logger:   slog.Default(),
		now:      time.Now,
		seed:     DefaultSeed(),
		bookings: make(map[string]*Booking),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "crm")
	return s
}

func (s *Store) ensureSeeded() {
	s.seedOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, b := range s.seed {
			if _, exists := s.bookings[b.PNR]; exists {
				continue
			}
			c := b.Clone()
			if c.Notes == nil {
				c.Notes = []Note{}
			}
			s.bookings[c.PNR] = &c
			s.order = append(s.order, c.PNR)
		}
		s.logger.Debug("seeded bookings", "count", len(s.seed))
	})
}

// List returns a copy of every booking in insertion order.
func (s *Store) List() []Booking {
	s.ensureSeeded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() []Booking {
	out := make([]Booking, 0, len(s.order))
	for _, pnr := range s.order {
		out = append(out, s.bookings[pnr].Clone())
	}
	return out
}

// Len returns the number of bookings.
func (s *Store) Len() int {
	s.ensureSeeded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Get returns the booking with the given PNR.
func (s *Store) Get(pnr string) (Booking, error) {
	s.ensureSeeded()
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[pnr]
	if !ok {
		return Booking{}, fmt.Errorf("%w: %s", ErrNotFound, pnr)
	}
	return b.Clone(), nil
}

// Add inserts a new booking. It fails with ErrDuplicatePnr if the PNR exists.
func (s *Store) Add(b Booking) (Booking, error) {
	if err := b.Validate(); err != nil {
		return Booking{}, err
	}

	var added Booking
	err := s.mutate(func() error {
		if _, exists := s.bookings[b.PNR]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicatePnr, b.PNR)
		}
		c := b.Clone()
		if c.Notes == nil {
			c.Notes = []Note{}
		}
		s.bookings[c.PNR] = &c
		s.order = append(s.order, c.PNR)
		added = c.Clone()
		return nil
	})
	if err != nil {
		return Booking{}, err
	}
	s.logger.Info("booking added", "pnr", added.PNR)
	return added, nil
}

// Update merges patch into the booking. The PNR is never changed.
func (s *Store) Update(pnr string, patch Patch) (Booking, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return Booking{}, fmt.Errorf("%w: unknown status %q", ErrInvalidBooking, *patch.Status)
	}
	if patch.PNR != nil && *patch.PNR != pnr {
		s.logger.Debug("ignoring pnr in patch", "pnr", pnr, "patch_pnr", *patch.PNR)
	}

	var updated Booking
	err := s.mutate(func() error {
		b, ok := s.bookings[pnr]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, pnr)
		}
		patch.apply(b)
		updated = b.Clone()
		return nil
	})
	if err != nil {
		return Booking{}, err
	}
	s.logger.Info("booking updated", "pnr", pnr)
	return updated, nil
}

// Delete removes the booking if present. A missing PNR is logged and reported
// as false; it is not an error and does not notify subscribers.
func (s *Store) Delete(pnr string) bool {
	var deleted bool
	_ = s.mutate(func() error {
		if _, ok := s.bookings[pnr]; !ok {
			return errNoChange
		}
		delete(s.bookings, pnr)
		for i, p := range s.order {
			if p == pnr {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		deleted = true
		return nil
	})
	if !deleted {
		s.logger.Warn("delete of unknown booking ignored", "pnr", pnr)
		return false
	}
	s.logger.Info("booking deleted", "pnr", pnr)
	return true
}

// AddNote appends a note. An empty note date is stamped with the current time.
func (s *Store) AddNote(pnr string, note Note) (Booking, error) {
	if strings.TrimSpace(note.Text) == "" {
		return Booking{}, fmt.Errorf("%w: note text is required", ErrInvalidBooking)
	}
	if note.Date == "" {
		note.Date = s.now().UTC().Format(time.RFC3339)
	}

	var updated Booking
	err := s.mutate(func() error {
		b, ok := s.bookings[pnr]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, pnr)
		}
		if b.Notes == nil {
			b.Notes = []Note{}
		}
		b.Notes = append(b.Notes, note)
		updated = b.Clone()
		return nil
	})
	if err != nil {
		return Booking{}, err
	}
	s.logger.Info("booking note added", "pnr", pnr, "by", note.By)
	return updated, nil
}

// Subscribe registers fn and returns a function that unregisters it.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

var errNoChange = errors.New("crm: no change")

// mutate runs fn under the write lock and notifies subscribers if it succeeds.
func (s *Store) mutate(fn func() error) error {
	s.ensureSeeded()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.subMu.Lock()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		// Each subscriber gets its own copy.
		view := make([]Booking, len(snapshot))
		for i := range snapshot {
			view[i] = snapshot[i].Clone()
		}
		sub.fn(view)
	}
	return nil
}

// SortByFlightDateDesc sorts bookings by flight date, most recent first.
// Ties keep their existing order.
func SortByFlightDateDesc(bookings []Booking) {
	sort.SliceStable(bookings, func(i, j int) bool {
		return bookings[i].FlightDate > bookings[j].FlightDate
	})
}
