package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/echotrace/echotrace/pkg/models"
)

// fakeProcessor returns canned matches and records how often it ran.
type fakeProcessor struct {
	mu      sync.Mutex
	calls   int
	delay   time.Duration
	matches []models.Match
	err     error
}

func (p *fakeProcessor) Process(ctx context.Context, samples []float32, sampleRate uint32) ([]models.Match, error) {
	p.mu.Lock()
	p.calls++
	delay, matches, err := p.delay, p.matches, p.err
	p.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	out := make([]models.Match, len(matches))
	copy(out, matches)
	return out, err
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// eventCollector is a thread-safe emit sink.
type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (c *eventCollector) emit(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *eventCollector) byType(eventType string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, e := range c.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// fastConfig keeps session timing tight enough for tests.
func fastConfig() Config {
	return Config{
		SampleRate:     100,
		BufferSeconds:  1,
		HopSeconds:     0.01,
		MinFillSeconds: 0.1,
		IdleTimeout:    time.Minute,
		TopK:           5,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func testMatch(confidence float32) models.Match {
	return models.Match{
		QueryDigest: 1,
		Candidate:   &models.StoredFingerprint{ID: "cand", SourceID: "src"},
		MatchScore:  models.MatchScore{Confidence: confidence},
	}
}

func TestSessionEmitsMatchEvents(t *testing.T) {
	proc := &fakeProcessor{matches: []models.Match{testMatch(0.9)}}
	col := &eventCollector{}

	s := NewSession(context.Background(), "client-1", proc, fastConfig(), nopLogger{}, col.emit)
	defer s.Close()

	if err := s.Append(make([]float32, 50)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return len(col.byType("match")) > 0 }) {
		t.Fatal("Expected a match event")
	}

	ev := col.byType("match")[0]
	if ev.ClientID != "client-1" {
		t.Errorf("Expected client-1, got %s", ev.ClientID)
	}
	if len(ev.Matches) != 1 || ev.Matches[0].Confidence != 0.9 {
		t.Errorf("Unexpected matches in event: %+v", ev.Matches)
	}
	if ev.Stats == nil {
		t.Fatal("Expected stats attached to match event")
	}
	if ev.Stats.TotalMatches == 0 {
		t.Error("Expected total match counter to advance")
	}
	if ev.Stats.SamplesProcessed != 50 {
		t.Errorf("Expected 50 samples processed, got %d", ev.Stats.SamplesProcessed)
	}
}

func TestSessionHeartbeatWithoutMatches(t *testing.T) {
	proc := &fakeProcessor{} // no matches
	col := &eventCollector{}

	s := NewSession(context.Background(), "client-2", proc, fastConfig(), nopLogger{}, col.emit)
	defer s.Close()

	if err := s.Append(make([]float32, 50)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return len(col.byType("status")) >= 2 }) {
		t.Fatal("Expected status heartbeats")
	}
	if got := col.byType("match"); len(got) != 0 {
		t.Errorf("Expected no match events, got %d", len(got))
	}
}

// TestSessionMinConfidenceFilter: matches below the threshold are dropped
// and the tick degrades to a heartbeat.
func TestSessionMinConfidenceFilter(t *testing.T) {
	proc := &fakeProcessor{matches: []models.Match{testMatch(0.5)}}
	col := &eventCollector{}

	cfg := fastConfig()
	cfg.MinConfidence = 0.8
	s := NewSession(context.Background(), "client-3", proc, cfg, nopLogger{}, col.emit)
	defer s.Close()

	if err := s.Append(make([]float32, 50)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return len(col.byType("status")) >= 2 }) {
		t.Fatal("Expected status heartbeats")
	}
	if got := col.byType("match"); len(got) != 0 {
		t.Errorf("Expected low-confidence matches filtered, got %d match events", len(got))
	}
}

func TestSessionBelowMinFillSkipsProcessing(t *testing.T) {
	proc := &fakeProcessor{matches: []models.Match{testMatch(0.9)}}
	col := &eventCollector{}

	s := NewSession(context.Background(), "client-4", proc, fastConfig(), nopLogger{}, col.emit)
	defer s.Close()

	// 5 samples is below the 0.1s (10 sample) fill gate
	if err := s.Append(make([]float32, 5)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if proc.callCount() != 0 {
		t.Errorf("Expected no processing below min fill, got %d calls", proc.callCount())
	}
}

func TestSessionProcessorErrorKeepsSessionAlive(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("not enough signal")}
	col := &eventCollector{}

	s := NewSession(context.Background(), "client-5", proc, fastConfig(), nopLogger{}, col.emit)
	defer s.Close()

	if err := s.Append(make([]float32, 50)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return len(col.byType("error")) > 0 }) {
		t.Fatal("Expected an error event")
	}
	if err := s.Append(make([]float32, 10)); err != nil {
		t.Errorf("Expected session to stay open after processing error, got %v", err)
	}
}

func TestSessionAppendAfterClose(t *testing.T) {
	proc := &fakeProcessor{}
	s := NewSession(context.Background(), "client-6", proc, fastConfig(), nopLogger{}, func(Event) {})

	s.Close()

	if err := s.Append(make([]float32, 10)); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
}

// TestSessionConcurrentClose: Close is idempotent and safe from multiple
// goroutines; no event is emitted after it returns.
func TestSessionConcurrentClose(t *testing.T) {
	proc := &fakeProcessor{matches: []models.Match{testMatch(0.9)}}
	col := &eventCollector{}

	s := NewSession(context.Background(), "client-7", proc, fastConfig(), nopLogger{}, col.emit)
	s.Append(make([]float32, 50))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()

	before := len(col.byType("match")) + len(col.byType("status"))
	time.Sleep(50 * time.Millisecond)
	after := len(col.byType("match")) + len(col.byType("status"))
	if before != after {
		t.Errorf("Events emitted after Close returned: %d -> %d", before, after)
	}
}

func TestSessionIdleTimeout(t *testing.T) {
	proc := &fakeProcessor{}
	col := &eventCollector{}

	cfg := fastConfig()
	cfg.IdleTimeout = 30 * time.Millisecond
	s := NewSession(context.Background(), "client-8", proc, cfg, nopLogger{}, col.emit)
	defer s.Close()

	// do not probe with Append here, that would reset the idle clock
	timedOut := func() bool {
		for _, e := range col.byType("status") {
			if e.Message == "idle timeout" {
				return true
			}
		}
		return false
	}
	if !waitFor(t, 2*time.Second, timedOut) {
		t.Fatal("Expected an idle timeout status event")
	}

	if err := s.Append(make([]float32, 1)); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed after idle timeout, got %v", err)
	}
}

// TestSessionOverruns: a processing pass slower than the hop interval causes
// pending ticks to be dropped and counted, not queued.
func TestSessionOverruns(t *testing.T) {
	proc := &fakeProcessor{delay: 50 * time.Millisecond, matches: []models.Match{testMatch(0.9)}}
	col := &eventCollector{}

	s := NewSession(context.Background(), "client-9", proc, fastConfig(), nopLogger{}, col.emit)
	defer s.Close()

	if err := s.Append(make([]float32, 50)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return s.Overruns() > 0 }) {
		t.Error("Expected dropped ticks to be counted as overruns")
	}
}

func TestSessionContextCancelStopsProcessing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	proc := &fakeProcessor{}

	s := NewSession(ctx, "client-10", proc, fastConfig(), nopLogger{}, func(Event) {})
	s.Append(make([]float32, 50))

	cancel()

	if !waitFor(t, 2*time.Second, func() bool {
		before := proc.callCount()
		time.Sleep(40 * time.Millisecond)
		return proc.callCount() == before
	}) {
		t.Error("Expected processing to stop after context cancellation")
	}
	s.Close()
}
