package consult

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthnexus-backend/internal/domain"
	"healthnexus-backend/internal/transport"
	apperrors "healthnexus-backend/pkg/errors"
	"healthnexus-backend/pkg/logger"
	"healthnexus-backend/pkg/metrics"
)

// TransportFactory builds a transport for one caller
type TransportFactory func(callerID uuid.UUID) transport.Transport

// ManagerConfig carries the shared collaborators every controller uses
type ManagerConfig struct {
	Sessions     SessionStore
	Notes        NoteStore
	Messages     MessageStore
	Bus          EventBus
	Transcriber  Transcriber
	Notifier     Notifier
	Artifacts    ArtifactUploader
	NewTransport TransportFactory
	Metrics      *metrics.Metrics
}

// Manager owns the live controllers of this process. It is constructed
// explicitly at startup and shut down with the process; there is no
// package-global instance.
type Manager struct {
	cfg ManagerConfig

	mu          sync.Mutex
	controllers map[uuid.UUID]*Controller
	closed      bool
}

// NewManager creates an empty controller registry
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:         cfg,
		controllers: make(map[uuid.UUID]*Controller),
	}
}

// StartCallInput identifies the appointment and the caller
type StartCallInput struct {
	AppointmentID uuid.UUID
	DoctorID      uuid.UUID
	PatientID     uuid.UUID
	CallerID      uuid.UUID
	CallerRole    string
	CallerName    string
}

// StartCall creates a controller, runs its start sequence and registers
// it. A failed start registers nothing.
func (m *Manager) StartCall(ctx context.Context, input StartCallInput) (*domain.CallSession, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, apperrors.ConflictError("service is shutting down")
	}
	m.mu.Unlock()

	controller := NewController(ControllerConfig{
		AppointmentID: input.AppointmentID,
		DoctorID:      input.DoctorID,
		PatientID:     input.PatientID,
		CallerID:      input.CallerID,
		CallerRole:    input.CallerRole,
		CallerName:    input.CallerName,
		Sessions:      m.cfg.Sessions,
		Notes:         m.cfg.Notes,
		Messages:      m.cfg.Messages,
		Transport:     m.cfg.NewTransport(input.CallerID),
		Bus:           m.cfg.Bus,
		Transcriber:   m.cfg.Transcriber,
		Notifier:      m.cfg.Notifier,
		Artifacts:     m.cfg.Artifacts,
		Metrics:       m.cfg.Metrics,
	})

	session, err := controller.StartCall(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		// Shutdown raced the start; unwind immediately
		_ = controller.EndCall(ctx)
		return nil, apperrors.ConflictError("service is shutting down")
	}
	m.controllers[session.SessionID] = controller
	m.mu.Unlock()

	return session, nil
}

// Get returns the live controller for a session, if this process owns it
func (m *Manager) Get(sessionID uuid.UUID) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	controller, ok := m.controllers[sessionID]
	if !ok {
		return nil, apperrors.SessionNotFoundError()
	}
	return controller, nil
}

// EndCall tears down a session's controller and removes it from the
// registry. Ending an unknown or already removed session is a no-op.
func (m *Manager) EndCall(ctx context.Context, sessionID uuid.UUID) error {
	m.mu.Lock()
	controller, ok := m.controllers[sessionID]
	if ok {
		delete(m.controllers, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	return controller.EndCall(ctx)
}

// ActiveCount reports how many controllers this process owns
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.controllers)
}

// Shutdown ends every live call. Called once during process shutdown.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	remaining := make([]*Controller, 0, len(m.controllers))
	for _, controller := range m.controllers {
		remaining = append(remaining, controller)
	}
	m.controllers = make(map[uuid.UUID]*Controller)
	m.mu.Unlock()

	for _, controller := range remaining {
		if err := controller.EndCall(ctx); err != nil {
			logger.Warn("Controller teardown reported errors during shutdown",
				zap.Error(err))
		}
	}

	logger.Info("Consultation manager shut down",
		zap.Int("calls_ended", len(remaining)))
}
