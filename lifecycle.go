package bikeserial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Communicator is the lifecycle every bike transport implements.
type Communicator interface {
	// Initialize prepares the link and reports whether it is ready.
	Initialize(ctx context.Context) bool
	// Start begins a session. It does not touch the link.
	Start(ctx context.Context, session Session) error
	// Stop ends the current session.
	Stop(ctx context.Context) error
	// ReadData returns the next frame, or false when none arrived in time.
	ReadData(ctx context.Context) (string, bool)
	// SendData writes one frame, best effort.
	SendData(line string)
}

// Session identifies one ride consuming telemetry.
type Session struct {
	ID        string
	Name      string
	StartedAt time.Time
}

func NewSession(name string) Session {
	return Session{
		ID:        uuid.NewString(),
		Name:      name,
		StartedAt: timeNow().UTC(),
	}
}

func (s *Service) Start(ctx context.Context, session Session) error {
	s.setup()

	if _, err := uuid.Parse(session.ID); err != nil {
		return fmt.Errorf("%w: id %q: %v", ErrInvalidSession, session.ID, err)
	}

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	s.session = &session
	if s.MetricsInterval > 0 && s.broadcaster == nil {
		s.broadcaster = NewMetricsBroadcaster(16, s.MetricsInterval)
		s.broadcaster.Start(s.GetMetricsSnapshot)
	}

	s.logger.Info().Str("session", session.ID).Str("name", session.Name).Msg("session started")
	return nil
}

// Stop ends the session and leaves the serial handle open for the next one.
// Close releases the handle at teardown.
func (s *Service) Stop(ctx context.Context) error {
	s.setup()

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	if s.broadcaster != nil {
		s.broadcaster.Stop()
		s.broadcaster = nil
	}
	if s.session != nil {
		s.logger.Info().Str("session", s.session.ID).Msg("session stopped")
		s.session = nil
	}
	return nil
}

// Session returns the active session, if any.
func (s *Service) Session() (Session, bool) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	if s.session == nil {
		return Session{}, false
	}
	return *s.session, true
}

// MetricsChannel returns the snapshot stream of the running session.
func (s *Service) MetricsChannel() (<-chan MetricsSnapshot, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	if s.broadcaster == nil {
		return nil, errors.New("metrics broadcasting not started")
	}
	return s.broadcaster.Channel(), nil
}
