package client

import (
	"context"
	"sync"
	"time"

	"github.com/voxmesh/voxmesh/pkg/config"
	"github.com/voxmesh/voxmesh/pkg/event"
	"github.com/voxmesh/voxmesh/pkg/logger"
	"github.com/voxmesh/voxmesh/pkg/monitoring"
)

// Supervisor redials a dropped relay link. It only acts while armed,
// so a requested disconnect never turns into a reconnect storm, and
// it runs at most one recovery loop at a time. Each attempt backs
// off twice as long as the one before up to a cap, and after the
// configured number of failures the supervisor disarms itself and
// reports the outage exactly once.
//
// One attempt is the whole recovery, socket plus room re-entry, so
// the attempt budget never resets on a half-open link.
type Supervisor struct {
	log  *logger.Logger
	conf config.Reconnect

	// redial runs one full recovery and returns nil only when the
	// link is open and the room round trip completed.
	redial func(ctx context.Context) error

	mu      sync.Mutex
	armed   bool
	running bool
	cancel  context.CancelFunc

	// wait pauses between attempts, swapped by tests. It reports
	// false when the pause was cancelled.
	wait func(ctx context.Context, d time.Duration) bool

	// OnRecovered fires with the attempt count when the link is back.
	OnRecovered event.Emitter[int]
	// OnGaveUp fires once per outage when every attempt failed.
	OnGaveUp event.Emitter[error]
}

func NewSupervisor(conf config.Reconnect, redial func(ctx context.Context) error, log *logger.Logger) *Supervisor {
	return &Supervisor{
		log:    log.Extend(log.With().Str("s", "sup")),
		conf:   conf,
		redial: redial,
		wait:   sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Arm enables recovery. Called after a join completed, so only links
// worth having get repaired.
func (s *Supervisor) Arm() {
	s.mu.Lock()
	s.armed = true
	s.mu.Unlock()
}

// Disarm stops the supervisor caring about the link and aborts a
// recovery already in flight.
func (s *Supervisor) Disarm() {
	s.mu.Lock()
	s.armed = false
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Armed reports whether a drop would currently be repaired.
func (s *Supervisor) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Kick reacts to an unrequested link drop by starting the recovery
// loop. Drops seen while disarmed or while a loop already runs are
// ignored.
func (s *Supervisor) Kick() {
	s.mu.Lock()
	if !s.armed || s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()
	s.log.Warn().Msg("link lost, recovering")
	go s.recover(ctx)
}

func (s *Supervisor) recover(ctx context.Context) {
	delay := s.conf.BaseDelay
	for attempt := 1; attempt <= s.conf.MaxAttempts; attempt++ {
		if !s.wait(ctx, delay) {
			s.finish()
			return
		}
		monitoring.ReconnectAttempts.Inc()
		err := s.redial(ctx)
		if err == nil {
			s.finish()
			s.log.Info().Msgf("link recovered, attempt %v", attempt)
			s.OnRecovered.Emit(attempt)
			return
		}
		if ctx.Err() != nil {
			s.finish()
			return
		}
		s.log.Warn().Err(err).Msgf("reconnect %v/%v failed", attempt, s.conf.MaxAttempts)
		delay *= 2
		if delay > s.conf.MaxDelay {
			delay = s.conf.MaxDelay
		}
	}
	// out of attempts, stand down until the next explicit join
	s.mu.Lock()
	s.armed = false
	s.running = false
	s.cancel = nil
	s.mu.Unlock()
	s.log.Error().Msgf("gave up after %v attempts", s.conf.MaxAttempts)
	s.OnGaveUp.Emit(ErrLinkLost)
}

func (s *Supervisor) finish() {
	s.mu.Lock()
	s.running = false
	s.cancel = nil
	s.mu.Unlock()
}
