// Package session keeps converted row sequences behind cursor sessions that
// expire after a period without use.
package session

import (
	"container/list"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown and expired session ids.
var ErrNotFound = errors.New("session expired or invalid")

const (
	DefaultTTL           = 24 * time.Hour
	DefaultSweepInterval = time.Hour
	DefaultCapacity      = 10000
)

// Config configures a Store. Zero fields take the defaults.
type Config struct {
	// TTL is how long a session lives after its last read or reset.
	TTL time.Duration
	// SweepInterval is the period of the background purge.
	SweepInterval time.Duration
	// Capacity bounds the number of live sessions; opening one more evicts
	// the least recently used.
	Capacity int
	// Now is the clock. It defaults to time.Now.
	Now func() time.Time
}

// Page is the result of a read: the header, if the session has one, and the
// row at the cursor. A Page at the end of the rows marshals to {}.
type Page struct {
	Header any
	Row    any
	EOF    bool
}

func (p Page) MarshalJSON() ([]byte, error) {
	if p.EOF {
		return []byte("{}"), nil
	}
	return json.Marshal(struct {
		Header any `json:"header,omitempty"`
		Row    any `json:"row"`
	}{p.Header, p.Row})
}

type entry struct {
	id   string
	elem *list.Element

	// mu guards the fields below. Store.mu may be held while taking mu,
	// never the other way round.
	mu      sync.Mutex
	rows    []any
	header  any
	cursor  int
	touched time.Time
	removed bool
}

// Store holds sessions. Every operation on one session is serialized by
// that session's own lock, so concurrent reads of the same id each get a
// distinct row.
type Store struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New returns a Store. Call Start to run the background sweep and Close to
// stop it.
func New(cfg Config, logger *slog.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:     cfg,
		logger:  logger.With("component", "session"),
		entries: make(map[string]*entry),
		lru:     list.New(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the background sweep. Calling it again has no effect.
func (s *Store) Start() {
	s.startOnce.Do(func() {
		go s.sweepLoop()
	})
}

// Close stops the background sweep and waits for it to exit.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		started := true
		s.startOnce.Do(func() { started = false })
		if started {
			<-s.done
		}
	})
	return nil
}

func (s *Store) sweepLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Info("Expired sessions purged.", "count", n, "live", s.Len())
			}
		case <-s.stop:
			return
		}
	}
}

// Open creates a session over rows with the cursor at offset (negative
// offsets start at 0) and returns its id.
func (s *Store) Open(rows []any, header any, offset int) string {
	e := &entry{
		id:      uuid.NewString(),
		rows:    rows,
		header:  header,
		cursor:  max(offset, 0),
		touched: s.cfg.Now(),
	}

	s.mu.Lock()
	for len(s.entries) >= s.cfg.Capacity {
		oldest := s.lru.Back()
		if oldest == nil {
			break
		}
		victim := oldest.Value.(*entry)
		s.evictLocked(victim)
		s.logger.Warn("Session capacity reached, evicted least recently used session.", "sessionId", victim.id)
	}
	e.elem = s.lru.PushFront(e)
	s.entries[e.id] = e
	s.mu.Unlock()

	s.logger.Info("Session created.", "sessionId", e.id, "rows", len(rows), "offset", e.cursor)
	return e.id
}

// Read returns the row at the session's cursor and advances the cursor.
// At the end of the rows it returns a Page with EOF set and leaves the
// cursor alone. Both outcomes extend the session's life.
func (s *Store) Read(id string) (Page, error) {
	e, err := s.acquire(id)
	if err != nil {
		return Page{}, err
	}
	defer e.mu.Unlock()

	if e.cursor >= len(e.rows) {
		return Page{EOF: true}, nil
	}
	p := Page{Header: e.header, Row: e.rows[e.cursor]}
	e.cursor++
	return p, nil
}

// Reset moves the session's cursor back to the first row.
func (s *Store) Reset(id string) error {
	e, err := s.acquire(id)
	if err != nil {
		return err
	}
	e.cursor = 0
	e.mu.Unlock()
	return nil
}

// Delete removes a session. It reports whether the session was live.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	s.evictLocked(e)
	return true
}

// Sweep removes every expired session and returns how many it removed.
func (s *Store) Sweep() int {
	now := s.cfg.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		e.mu.Lock()
		expired := s.expired(e, now)
		e.mu.Unlock()
		if expired {
			s.evictLocked(e)
			n++
		}
	}
	return n
}

// Len returns the number of sessions held, including expired sessions the
// sweep has not removed yet.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// acquire looks up a live session, locks it and refreshes its expiry. The
// caller must unlock the returned entry.
func (s *Store) acquire(id string) (*entry, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		s.lru.MoveToFront(e.elem)
	}
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	now := s.cfg.Now()
	if e.removed {
		e.mu.Unlock()
		return nil, ErrNotFound
	}
	if s.expired(e, now) {
		e.mu.Unlock()
		s.remove(e)
		return nil, ErrNotFound
	}
	e.touched = now
	return e, nil
}

func (s *Store) expired(e *entry, now time.Time) bool {
	return now.Sub(e.touched) > s.cfg.TTL
}

// remove drops e unless it was already replaced or evicted.
func (s *Store) remove(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[e.id]; ok && cur == e {
		s.evictLocked(e)
	}
}

// evictLocked removes e from the store. s.mu must be held.
func (s *Store) evictLocked(e *entry) {
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	delete(s.entries, e.id)
	s.lru.Remove(e.elem)
}
