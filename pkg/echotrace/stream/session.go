package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/echotrace/echotrace/pkg/models"
)

// ErrSessionClosed is returned by Append once the session has closed.
var ErrSessionClosed = errors.New("stream session closed")

// Processor runs one extraction+search pass over a buffer snapshot. The
// echotrace service satisfies this.
type Processor interface {
	Process(ctx context.Context, samples []float32, sampleRate uint32) ([]models.Match, error)
}

// Logger is the subset of logging the session needs.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Stats describes the buffer state shipped with every emitted event.
type Stats struct {
	BufferSize       int    `json:"buffer_size"`
	BufferCapacity   int    `json:"buffer_capacity"`
	SamplesProcessed uint64 `json:"samples_processed"`
	TotalMatches     uint32 `json:"total_matches"`
}

// Event is one JSON frame emitted to the client.
type Event struct {
	Type      string         `json:"type"` // match | status | error
	ClientID  string         `json:"client_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Matches   []models.Match `json:"matches,omitempty"`
	Stats     *Stats         `json:"stats,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Config holds per-session parameters. Zero values fall back to defaults.
type Config struct {
	SampleRate     uint32
	BufferSeconds  float64
	HopSeconds     float64
	MinFillSeconds float64
	IdleTimeout    time.Duration
	TopK           int
	MinConfidence  float32
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.BufferSeconds == 0 {
		c.BufferSeconds = 10
	}
	if c.HopSeconds == 0 {
		c.HopSeconds = 2
	}
	if c.MinFillSeconds == 0 {
		c.MinFillSeconds = 1
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
	return c
}

// Session is the per-connection streaming matcher. Incoming audio is
// appended to a sliding-window ring buffer; every hop the buffered audio is
// fingerprinted and matched against the corpus.
//
// All session state is guarded by one mutex: appends, processing ticks and
// Close serialize on it, so no tick can fire after Close returns. A tick
// that fires while the previous pass is still running is dropped and
// counted as an overrun, never queued.
type Session struct {
	ClientID  string
	CreatedAt time.Time

	cfg  Config
	proc Processor
	log  Logger
	emit func(Event)

	mu               sync.Mutex
	ring             *Ring
	closed           bool
	lastActivity     time.Time
	samplesProcessed uint64
	totalMatches     uint32
	overruns         uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession allocates a session and starts its periodic processing
// trigger. emit is called with every outbound event; it must not block for
// long and must not call back into the session.
func NewSession(ctx context.Context, clientID string, proc Processor, cfg Config, log Logger, emit func(Event)) *Session {
	cfg = cfg.withDefaults()
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ClientID:     clientID,
		CreatedAt:    time.Now(),
		cfg:          cfg,
		proc:         proc,
		log:          log,
		emit:         emit,
		ring:         NewRing(int(cfg.BufferSeconds * float64(cfg.SampleRate))),
		lastActivity: time.Now(),
		ctx:          sctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	go s.run()
	return s
}

// Append adds an audio chunk to the ring buffer. Oldest samples are evicted
// once the buffer is full.
func (s *Session) Append(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.ring.Write(samples)
	s.samplesProcessed += uint64(len(samples))
	s.lastActivity = time.Now()
	return nil
}

// Close releases the buffer and stops the periodic trigger. It is
// idempotent and safe to call from any goroutine; once it returns, no
// further ticks fire and no further events are emitted.
func (s *Session) Close() {
	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()
	<-s.done
}

func (s *Session) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	s.ring = nil
	s.cancel()
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Session) statsLocked() Stats {
	st := Stats{
		SamplesProcessed: s.samplesProcessed,
		TotalMatches:     s.totalMatches,
	}
	if s.ring != nil {
		st.BufferSize = s.ring.Len()
		st.BufferCapacity = s.ring.Cap()
	}
	return st
}

// Overruns returns the number of dropped processing ticks.
func (s *Session) Overruns() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overruns
}

func (s *Session) run() {
	defer close(s.done)
	hop := time.Duration(s.cfg.HopSeconds * float64(time.Second))
	ticker := time.NewTicker(hop)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if !s.tick() {
				return
			}
			// A tick that fired while the last pass was still running is
			// dropped here, never queued: a slow corpus scan must not
			// produce a burst of catch-up passes.
			select {
			case <-ticker.C:
				s.mu.Lock()
				s.overruns++
				closed := s.closed
				s.mu.Unlock()
				if !closed {
					s.log.Warnf("session %s: processing overrun, tick dropped", s.ClientID)
				}
			default:
			}
		}
	}
}

// tick runs one processing pass. It returns false once the session is
// closed.
func (s *Session) tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	if time.Since(s.lastActivity) > s.cfg.IdleTimeout {
		s.log.Infof("session %s: idle timeout, closing", s.ClientID)
		s.emit(Event{Type: "status", ClientID: s.ClientID, Timestamp: time.Now(), Message: "idle timeout"})
		s.closeLocked()
		return false
	}

	minFill := int(s.cfg.MinFillSeconds * float64(s.cfg.SampleRate))
	if s.ring.Len() < minFill {
		return true
	}

	snapshot := s.ring.Snapshot()
	matches, err := s.proc.Process(s.ctx, snapshot, s.cfg.SampleRate)
	if err != nil {
		// recoverable: report and keep the session alive
		s.log.Debugf("session %s: processing failed: %v", s.ClientID, err)
		s.emit(Event{Type: "error", ClientID: s.ClientID, Timestamp: time.Now(), Message: err.Error()})
		return true
	}

	kept := matches[:0]
	for _, m := range matches {
		if m.Confidence >= s.cfg.MinConfidence {
			kept = append(kept, m)
		}
	}

	if len(kept) > 0 {
		s.totalMatches += uint32(len(kept))
		st := s.statsLocked()
		s.emit(Event{Type: "match", ClientID: s.ClientID, Timestamp: time.Now(), Matches: kept, Stats: &st})
	} else {
		st := s.statsLocked()
		s.emit(Event{Type: "status", ClientID: s.ClientID, Timestamp: time.Now(), Stats: &st})
	}
	return true
}
