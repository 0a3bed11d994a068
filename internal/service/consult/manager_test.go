package consult

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"healthnexus-backend/internal/domain"
	"healthnexus-backend/internal/transport"
	"healthnexus-backend/pkg/jwt"
)

type managerFixture struct {
	manager  *Manager
	sessions *MockSessionStore
	bus      *fakeBus
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	f := &managerFixture{
		sessions: new(MockSessionStore),
		bus:      &fakeBus{},
	}

	f.manager = NewManager(ManagerConfig{
		Sessions:    f.sessions,
		Notes:       new(MockNoteStore),
		Messages:    new(MockMessageStore),
		Bus:         f.bus,
		Transcriber: new(MockTranscriber),
		Notifier:    new(MockNotifier),
		NewTransport: func(callerID uuid.UUID) transport.Transport {
			return newFakeTransport()
		},
	})

	return f
}

// expectLifecycle wires the store calls one patient-side call makes from
// start through teardown
func (f *managerFixture) expectLifecycle(session *domain.CallSession) {
	f.sessions.On("CreateSession", mock.Anything, session.AppointmentID, session.DoctorID, session.PatientID).
		Return(session, nil).Once()
	f.sessions.On("MarkActive", mock.Anything, session.SessionID, mock.AnythingOfType("time.Time")).Return(nil)
	f.sessions.On("AddParticipant", mock.Anything, session.SessionID, mock.AnythingOfType("uuid.UUID"), mock.AnythingOfType("string")).Return(nil)
	f.sessions.On("GetParticipants", mock.Anything, session.SessionID).Return([]*domain.SessionParticipant{}, nil)
	f.sessions.On("MarkEnded", mock.Anything, session.SessionID).Return(nil)
	f.sessions.On("RemoveParticipant", mock.Anything, session.SessionID, mock.AnythingOfType("uuid.UUID")).Return(nil)
}

func patientInput(session *domain.CallSession) StartCallInput {
	return StartCallInput{
		AppointmentID: session.AppointmentID,
		DoctorID:      session.DoctorID,
		PatientID:     session.PatientID,
		CallerID:      session.PatientID,
		CallerRole:    jwt.RolePatient,
		CallerName:    "Okafor",
	}
}

func pendingSession() *domain.CallSession {
	return &domain.CallSession{
		SessionID:     uuid.New(),
		AppointmentID: uuid.New(),
		DoctorID:      uuid.New(),
		PatientID:     uuid.New(),
		Status:        domain.SessionPending,
	}
}

func TestManager_StartCallRegistersController(t *testing.T) {
	f := newManagerFixture(t)
	session := pendingSession()
	f.expectLifecycle(session)

	started, err := f.manager.StartCall(context.Background(), patientInput(session))

	require.NoError(t, err)
	assert.Equal(t, session.SessionID, started.SessionID)
	assert.Equal(t, 1, f.manager.ActiveCount())

	controller, err := f.manager.Get(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.SessionID, controller.Session().SessionID)

	assert.NoError(t, f.manager.EndCall(context.Background(), session.SessionID))
}

func TestManager_FailedStartRegistersNothing(t *testing.T) {
	f := newManagerFixture(t)
	session := pendingSession()
	f.sessions.On("CreateSession", mock.Anything, session.AppointmentID, session.DoctorID, session.PatientID).
		Return(session, nil).Once()
	f.bus.subErr = assert.AnError

	_, err := f.manager.StartCall(context.Background(), patientInput(session))

	require.Error(t, err)
	assert.Equal(t, 0, f.manager.ActiveCount())
	_, err = f.manager.Get(session.SessionID)
	assert.Error(t, err)
}

func TestManager_GetUnknownSession(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.manager.Get(uuid.New())
	assert.Error(t, err)
}

func TestManager_EndCallUnknownSessionIsNoOp(t *testing.T) {
	f := newManagerFixture(t)

	assert.NoError(t, f.manager.EndCall(context.Background(), uuid.New()))
}

func TestManager_EndCallRemovesController(t *testing.T) {
	f := newManagerFixture(t)
	session := pendingSession()
	f.expectLifecycle(session)

	_, err := f.manager.StartCall(context.Background(), patientInput(session))
	require.NoError(t, err)

	require.NoError(t, f.manager.EndCall(context.Background(), session.SessionID))
	assert.Equal(t, 0, f.manager.ActiveCount())

	// A second end for the same session finds nothing to do
	assert.NoError(t, f.manager.EndCall(context.Background(), session.SessionID))
}

func TestManager_ShutdownEndsEverything(t *testing.T) {
	f := newManagerFixture(t)

	first := pendingSession()
	second := pendingSession()
	f.expectLifecycle(first)
	f.expectLifecycle(second)

	_, err := f.manager.StartCall(context.Background(), patientInput(first))
	require.NoError(t, err)
	_, err = f.manager.StartCall(context.Background(), patientInput(second))
	require.NoError(t, err)
	require.Equal(t, 2, f.manager.ActiveCount())

	f.manager.Shutdown(context.Background())

	assert.Equal(t, 0, f.manager.ActiveCount())
	assert.Equal(t, 0, f.bus.openSubscriptions())

	// No new calls are admitted after shutdown
	third := pendingSession()
	_, err = f.manager.StartCall(context.Background(), patientInput(third))
	assert.Error(t, err)
}

func TestManager_ShutdownControllersReachEnded(t *testing.T) {
	f := newManagerFixture(t)
	session := pendingSession()
	f.expectLifecycle(session)

	_, err := f.manager.StartCall(context.Background(), patientInput(session))
	require.NoError(t, err)

	controller, err := f.manager.Get(session.SessionID)
	require.NoError(t, err)

	f.manager.Shutdown(context.Background())

	assert.True(t, controller.Ended())
	assert.Equal(t, domain.SessionEnded, controller.Session().Status)
}
