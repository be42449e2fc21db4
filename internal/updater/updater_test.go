package updater

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"shiptrack/internal/notify"
	"shiptrack/internal/tracking"
)

type fakeSink struct {
	mu      sync.Mutex
	samples []tracking.LocationSample
	err     error
}

func (f *fakeSink) UpdateLocation(_ context.Context, s tracking.LocationSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.samples = append(f.samples, s)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

type fakeSource struct {
	mu       sync.Mutex
	fn       func(Position)
	watches  int
	stops    int
	watchErr error
	current  Position
}

func (f *fakeSource) Current(context.Context) (Position, error) {
	return f.current, nil
}

func (f *fakeSource) Watch(fn func(Position)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	f.watches++
	f.fn = fn
	return func() {
		f.mu.Lock()
		f.stops++
		f.fn = nil
		f.mu.Unlock()
	}, nil
}

func (f *fakeSource) emit(p Position) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func (f *fakeSource) stats() (watches, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watches, f.stops
}

func TestWatchFollowsActiveTransitions(t *testing.T) {
	sink := &fakeSink{}
	src := &fakeSource{}
	u := New(sink, src, nil)
	defer u.Close()

	u.SetActive(true)
	u.SetActive(true) // no second watch
	if !u.Watching() {
		t.Fatalf("expected watch held")
	}

	src.emit(Position{Lat: 51.5, Lng: -0.12})
	if sink.count() != 1 {
		t.Fatalf("expected sample forwarded, got %d", sink.count())
	}

	u.SetActive(false)
	u.SetActive(false)
	if u.Watching() {
		t.Fatalf("expected watch released")
	}

	watches, stops := src.stats()
	if watches != 1 || stops != 1 {
		t.Fatalf("expected one watch/stop pair, got %d/%d", watches, stops)
	}

	src.emit(Position{Lat: 1, Lng: 1})
	if sink.count() != 1 {
		t.Fatalf("expected no forwarding after stop")
	}
}

func TestSampleDefaults(t *testing.T) {
	sink := &fakeSink{}
	src := &fakeSource{}
	u := New(sink, src, nil)
	defer u.Close()

	u.SetActive(true)
	src.emit(Position{Lat: 51.5, Lng: -0.12})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	s := sink.samples[0]
	if s.Speed != 0 || s.Heading != 0 {
		t.Fatalf("expected zero defaults, got %+v", s)
	}
	if s.Timestamp.IsZero() {
		t.Fatalf("expected timestamp filled in")
	}
}

func TestCloseStopsWatchAndIsIdempotent(t *testing.T) {
	sink := &fakeSink{}
	src := &fakeSource{}
	u := New(sink, src, nil)

	u.SetActive(true)
	u.Close()
	u.Close()

	if _, stops := src.stats(); stops != 1 {
		t.Fatalf("expected one stop, got %d", stops)
	}
	u.SetActive(true) // closed updater never re-arms
	if u.Watching() {
		t.Fatalf("expected no watch after close")
	}
}

func TestWatchFailureNotifies(t *testing.T) {
	center := notify.NewCenter()
	src := &fakeSource{watchErr: errors.New("permission denied")}
	u := New(&fakeSink{}, src, center)
	defer u.Close()

	u.SetActive(true)
	if u.Watching() {
		t.Fatalf("expected no watch on error")
	}
	pending := center.Pending()
	if len(pending) != 1 || pending[0].Level != notify.LevelError {
		t.Fatalf("expected error notification, got %+v", pending)
	}
}

func TestMissingSourceNotifies(t *testing.T) {
	center := notify.NewCenter()
	u := New(&fakeSink{}, nil, center)
	defer u.Close()

	u.SetActive(true)
	if len(center.Pending()) != 1 {
		t.Fatalf("expected capability-absent notification")
	}
	if err := u.PushCurrent(context.Background()); err == nil {
		t.Fatalf("expected error without source")
	}
}

func TestPushFailureKeepsWatch(t *testing.T) {
	sink := &fakeSink{err: errors.New("network down")}
	src := &fakeSource{}
	u := New(sink, src, nil)
	defer u.Close()

	u.SetActive(true)
	src.emit(Position{Lat: 51.5, Lng: -0.12})
	if !u.Watching() {
		t.Fatalf("watch must survive push failures")
	}
}

func TestParseRoute(t *testing.T) {
	input := `# depot to customer
51.5074,-0.1278
51.5090, -0.1300, 12.5
51.5110,-0.1350,13.0,270

`
	route, err := ParseRoute(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(route) != 3 {
		t.Fatalf("expected 3 positions, got %d", len(route))
	}
	if route[1].Speed != 12.5 || route[2].Heading != 270 {
		t.Fatalf("unexpected fields: %+v", route)
	}

	if _, err := ParseRoute(strings.NewReader("51.5")); err == nil {
		t.Fatalf("expected error for short line")
	}
	if _, err := ParseRoute(strings.NewReader("abc,def")); err == nil {
		t.Fatalf("expected error for non-numeric line")
	}
}

func TestReplaySourceEmitsInOrder(t *testing.T) {
	src := NewReplaySource([]Position{
		{Lat: 1, Lng: 1},
		{Lat: 2, Lng: 2},
	}, 10*time.Millisecond)

	var mu sync.Mutex
	var got []Position
	stop, err := src.Watch(func(p Position) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0].Lat != 1 || got[1].Lat != 2 {
		t.Fatalf("unexpected emissions: %+v", got)
	}

	if _, err := NewReplaySource(nil, time.Millisecond).Watch(func(Position) {}); err == nil {
		t.Fatalf("expected error for empty source")
	}
}
