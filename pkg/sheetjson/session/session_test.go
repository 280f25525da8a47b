package session

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(capacity int) (*Store, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(Config{TTL: time.Hour, Capacity: capacity, Now: clock.Now}, nil)
	return s, clock
}

func rows(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestReadAdvancesToEOF(t *testing.T) {
	s, _ := newTestStore(0)
	id := s.Open(rows(2), "hdr", 0)

	for i := 0; i < 2; i++ {
		p, err := s.Read(id)
		if err != nil {
			t.Fatalf("Read() error: %v", err)
		}
		if p.EOF || p.Row != i || p.Header != "hdr" {
			t.Errorf("Read() #%d = %+v", i, p)
		}
	}
	for i := 0; i < 2; i++ {
		p, err := s.Read(id)
		if err != nil || !p.EOF {
			t.Errorf("Read() past the end = %+v, %v; expected EOF", p, err)
		}
	}

	if err := s.Reset(id); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if p, _ := s.Read(id); p.Row != 0 {
		t.Errorf("Read() after Reset = %+v, expected row 0", p)
	}
}

func TestOpenOffset(t *testing.T) {
	tests := []struct {
		offset  int
		wantRow any
		wantEOF bool
	}{
		{0, 0, false},
		{2, 2, false},
		{-5, 0, false},
		{3, nil, true},
		{10, nil, true},
	}

	s, _ := newTestStore(0)
	for _, tt := range tests {
		p, err := s.Read(s.Open(rows(3), nil, tt.offset))
		if err != nil {
			t.Fatalf("Read() error: %v", err)
		}
		if p.EOF != tt.wantEOF || (!tt.wantEOF && p.Row != tt.wantRow) {
			t.Errorf("offset %d: Read() = %+v", tt.offset, p)
		}
	}
}

func TestExpiry(t *testing.T) {
	s, clock := newTestStore(0)
	id := s.Open(rows(5), nil, 0)

	// Each read extends the session's life.
	for i := 0; i < 3; i++ {
		clock.Advance(50 * time.Minute)
		if _, err := s.Read(id); err != nil {
			t.Fatalf("Read() after %d touches: %v", i, err)
		}
	}

	clock.Advance(61 * time.Minute)
	if _, err := s.Read(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read() on expired session error = %v, expected ErrNotFound", err)
	}
	if err := s.Reset(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Reset() on expired session error = %v, expected ErrNotFound", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, expected the expired session removed", s.Len())
	}
}

func TestUnknownSession(t *testing.T) {
	s, _ := newTestStore(0)
	if _, err := s.Read("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read() error = %v, expected ErrNotFound", err)
	}
	if s.Delete("nope") {
		t.Errorf("Delete() of unknown id reported true")
	}
}

func TestSweep(t *testing.T) {
	s, clock := newTestStore(0)
	stale := s.Open(rows(1), nil, 0)
	clock.Advance(30 * time.Minute)
	fresh := s.Open(rows(1), nil, 0)
	clock.Advance(45 * time.Minute)

	if n := s.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, expected 1", n)
	}
	if _, err := s.Read(stale); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale session still readable")
	}
	if _, err := s.Read(fresh); err != nil {
		t.Errorf("fresh session: %v", err)
	}
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	s, _ := newTestStore(2)
	a := s.Open(rows(1), nil, 0)
	b := s.Open(rows(1), nil, 0)
	if _, err := s.Read(a); err != nil {
		t.Fatal(err)
	}
	c := s.Open(rows(1), nil, 0)

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, expected 2", s.Len())
	}
	if _, err := s.Read(b); !errors.Is(err, ErrNotFound) {
		t.Errorf("least recently used session should be evicted")
	}
	for _, id := range []string{a, c} {
		if _, err := s.Read(id); err != nil {
			t.Errorf("Read(%s) error: %v", id, err)
		}
	}
}

func TestConcurrentReadsGetDistinctRows(t *testing.T) {
	const n = 200
	s, _ := newTestStore(0)
	id := s.Open(rows(n), nil, 0)

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for i := 0; i < n+20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := s.Read(id)
			if err != nil || p.EOF {
				return
			}
			mu.Lock()
			got = append(got, p.Row.(int))
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(got) != n {
		t.Fatalf("read %d rows, expected %d", len(got), n)
	}
	sort.Ints(got)
	for i, v := range got {
		if v != i {
			t.Fatalf("row %d read %d times or skipped", i, v)
		}
	}
}

func TestStartClose(t *testing.T) {
	s := New(Config{SweepInterval: time.Millisecond}, nil)
	s.Start()
	s.Start()
	if err := s.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}

	unstarted := New(Config{}, nil)
	if err := unstarted.Close(); err != nil {
		t.Errorf("Close() without Start error: %v", err)
	}
}

func TestPageMarshalJSON(t *testing.T) {
	tests := []struct {
		page     Page
		expected string
	}{
		{Page{EOF: true, Row: 1}, `{}`},
		{Page{Row: map[string]int{"index": 1}}, `{"row":{"index":1}}`},
		{Page{Header: map[string]string{"A1": "Id"}, Row: 2}, `{"header":{"A1":"Id"},"row":2}`},
	}

	for _, tt := range tests {
		got, err := json.Marshal(tt.page)
		if err != nil {
			t.Fatalf("Marshal() error: %v", err)
		}
		if string(got) != tt.expected {
			t.Errorf("Marshal(%+v) = %s, expected %s", tt.page, got, tt.expected)
		}
	}
}
