package consult

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"healthnexus-backend/internal/domain"
	"healthnexus-backend/internal/transport"
	"healthnexus-backend/pkg/jwt"
)

type controllerFixture struct {
	controller  *Controller
	sessions    *MockSessionStore
	notes       *MockNoteStore
	messages    *MockMessageStore
	transcriber *MockTranscriber
	notifier    *MockNotifier
	transport   *fakeTransport
	bus         *fakeBus
	session     *domain.CallSession
}

func newFixture(t *testing.T, role string) *controllerFixture {
	t.Helper()

	appointmentID := uuid.New()
	doctorID := uuid.New()
	patientID := uuid.New()

	callerID := doctorID
	if role == jwt.RolePatient {
		callerID = patientID
	}

	session := &domain.CallSession{
		SessionID:     uuid.New(),
		AppointmentID: appointmentID,
		DoctorID:      doctorID,
		PatientID:     patientID,
		Status:        domain.SessionPending,
	}

	f := &controllerFixture{
		sessions:    new(MockSessionStore),
		notes:       new(MockNoteStore),
		messages:    new(MockMessageStore),
		transcriber: new(MockTranscriber),
		notifier:    new(MockNotifier),
		transport:   newFakeTransport(),
		bus:         &fakeBus{},
		session:     session,
	}

	f.controller = NewController(ControllerConfig{
		AppointmentID: appointmentID,
		DoctorID:      doctorID,
		PatientID:     patientID,
		CallerID:      callerID,
		CallerRole:    role,
		CallerName:    "Reyes",
		Sessions:      f.sessions,
		Notes:         f.notes,
		Messages:      f.messages,
		Transport:     f.transport,
		Bus:           f.bus,
		Transcriber:   f.transcriber,
		Notifier:      f.notifier,
	})

	return f
}

// expectStart wires the happy-path store expectations for StartCall
func (f *controllerFixture) expectStart() {
	f.sessions.On("CreateSession", mock.Anything, f.session.AppointmentID, f.session.DoctorID, f.session.PatientID).
		Return(f.session, nil)
	f.sessions.On("MarkActive", mock.Anything, f.session.SessionID, mock.AnythingOfType("time.Time")).Return(nil)
	f.sessions.On("AddParticipant", mock.Anything, f.session.SessionID, mock.AnythingOfType("uuid.UUID"), mock.AnythingOfType("string")).Return(nil)
	f.sessions.On("GetParticipants", mock.Anything, f.session.SessionID).Return([]*domain.SessionParticipant{}, nil)
}

// expectDoctorExtras wires transcription and push for a doctor caller
func (f *controllerFixture) expectDoctorExtras() {
	f.sessions.On("SetTranscribing", mock.Anything, f.session.SessionID, true).Return(nil)
	f.transcriber.On("Start", mock.Anything, f.session.SessionID).Return(nil)
	f.notifier.On("SendCallInvitation", mock.Anything, mock.Anything, f.session.PatientID).Return(nil)
}

// expectEnd wires the teardown expectations
func (f *controllerFixture) expectEnd() {
	f.sessions.On("MarkEnded", mock.Anything, f.session.SessionID).Return(nil)
	f.sessions.On("RemoveParticipant", mock.Anything, f.session.SessionID, mock.AnythingOfType("uuid.UUID")).Return(nil)
	f.sessions.On("SetTranscribing", mock.Anything, f.session.SessionID, false).Return(nil).Maybe()
	f.transcriber.On("Stop", f.session.SessionID).Return(nil).Maybe()
	f.notifier.On("SendCallEndedNotification", mock.Anything, f.session.SessionID, mock.AnythingOfType("int64"), mock.Anything).Return(nil).Maybe()
}

func TestStartCall_DoctorReachesActiveWithTranscription(t *testing.T) {
	f := newFixture(t, jwt.RoleDoctor)
	f.expectStart()
	f.expectDoctorExtras()
	f.expectEnd()

	session, err := f.controller.StartCall(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, session.Status)
	assert.NotNil(t, session.StartedAt)
	assert.True(t, session.IsTranscribing)
	assert.Equal(t, 1, f.bus.openSubscriptions())

	initialized, asDoctor := f.transport.initializedAsDoctor()
	assert.True(t, initialized)
	assert.True(t, asDoctor, "transport should be told the caller is the doctor")

	assert.NoError(t, f.controller.EndCall(context.Background()))
	f.sessions.AssertExpectations(t)
	f.transcriber.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestStartCall_PatientDoesNotTranscribe(t *testing.T) {
	f := newFixture(t, jwt.RolePatient)
	f.expectStart()
	f.expectEnd()

	session, err := f.controller.StartCall(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, session.Status)
	assert.False(t, session.IsTranscribing)
	f.transcriber.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "SendCallInvitation", mock.Anything, mock.Anything, mock.Anything)

	initialized, asDoctor := f.transport.initializedAsDoctor()
	assert.True(t, initialized)
	assert.False(t, asDoctor, "transport should be told the caller is the patient")

	assert.NoError(t, f.controller.EndCall(context.Background()))
}

func TestStartCall_MediaFailureLeavesPending(t *testing.T) {
	f := newFixture(t, jwt.RoleDoctor)
	f.sessions.On("CreateSession", mock.Anything, f.session.AppointmentID, f.session.DoctorID, f.session.PatientID).
		Return(f.session, nil)
	f.transport.initErr = errors.New("camera unavailable")

	session, err := f.controller.StartCall(context.Background())

	require.Error(t, err)
	assert.Nil(t, session)
	assert.Equal(t, domain.SessionPending, f.controller.Session().Status)
	assert.Equal(t, 0, f.bus.openSubscriptions())

	// Exactly one user-facing notice
	select {
	case notice := <-f.controller.Notices():
		assert.Equal(t, NoticeCallStartFailed, notice)
	default:
		t.Fatal("expected a notice")
	}
	select {
	case notice := <-f.controller.Notices():
		t.Fatalf("unexpected second notice: %s", notice)
	default:
	}

	f.sessions.AssertNotCalled(t, "MarkActive", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartCall_SubscribeFailureReleasesMedia(t *testing.T) {
	f := newFixture(t, jwt.RoleDoctor)
	f.sessions.On("CreateSession", mock.Anything, f.session.AppointmentID, f.session.DoctorID, f.session.PatientID).
		Return(f.session, nil)
	f.bus.subErr = errors.New("redis down")

	_, err := f.controller.StartCall(context.Background())

	require.Error(t, err)
	assert.Equal(t, domain.SessionPending, f.controller.Session().Status)
	assert.Equal(t, 1, f.transport.EndCalls())
	f.sessions.AssertNotCalled(t, "MarkActive", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartCall_TranscriptionFailureDegrades(t *testing.T) {
	f := newFixture(t, jwt.RoleDoctor)
	f.expectStart()
	f.expectEnd()
	f.transcriber.On("Start", mock.Anything, f.session.SessionID).Return(errors.New("recognizer offline"))
	f.notifier.On("SendCallInvitation", mock.Anything, mock.Anything, f.session.PatientID).Return(nil)

	session, err := f.controller.StartCall(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, session.Status)
	assert.False(t, session.IsTranscribing)

	select {
	case notice := <-f.controller.Notices():
		assert.Equal(t, NoticeTranscriptionFailed, notice)
	default:
		t.Fatal("expected a transcription notice")
	}

	assert.NoError(t, f.controller.EndCall(context.Background()))
}

func TestEndCall_Idempotent(t *testing.T) {
	f := newFixture(t, jwt.RolePatient)
	f.expectStart()

	f.sessions.On("MarkEnded", mock.Anything, f.session.SessionID).Return(nil).Once()
	f.sessions.On("RemoveParticipant", mock.Anything, f.session.SessionID, mock.AnythingOfType("uuid.UUID")).Return(nil).Once()

	_, err := f.controller.StartCall(context.Background())
	require.NoError(t, err)

	assert.NoError(t, f.controller.EndCall(context.Background()))
	assert.NoError(t, f.controller.EndCall(context.Background()))

	assert.Equal(t, domain.SessionEnded, f.controller.Session().Status)
	assert.Equal(t, 1, f.transport.EndCalls())
	f.sessions.AssertNumberOfCalls(t, "MarkEnded", 1)
}

func TestEndCall_ContinuesPastStepFailures(t *testing.T) {
	f := newFixture(t, jwt.RoleDoctor)
	f.expectStart()
	f.expectDoctorExtras()

	f.sessions.On("MarkEnded", mock.Anything, f.session.SessionID).Return(errors.New("db down"))
	f.sessions.On("RemoveParticipant", mock.Anything, f.session.SessionID, mock.AnythingOfType("uuid.UUID")).Return(errors.New("db down"))
	f.sessions.On("SetTranscribing", mock.Anything, f.session.SessionID, false).Return(nil)
	f.transcriber.On("Stop", f.session.SessionID).Return(nil)
	f.notifier.On("SendCallEndedNotification", mock.Anything, f.session.SessionID, mock.AnythingOfType("int64"), mock.Anything).Return(nil).Maybe()

	_, err := f.controller.StartCall(context.Background())
	require.NoError(t, err)

	err = f.controller.EndCall(context.Background())
	require.Error(t, err)

	// Every later step still ran and the status still reached ended
	assert.Equal(t, domain.SessionEnded, f.controller.Session().Status)
	assert.False(t, f.controller.Session().IsRecording)
	assert.Equal(t, 1, f.transport.EndCalls())
	f.transcriber.AssertCalled(t, "Stop", f.session.SessionID)
	assert.Equal(t, 0, f.bus.openSubscriptions())
}

func TestEndCall_DoctorNotifiesPatientOfEnd(t *testing.T) {
	f := newFixture(t, jwt.RoleDoctor)
	f.expectStart()
	f.expectDoctorExtras()

	f.sessions.On("MarkEnded", mock.Anything, f.session.SessionID).Return(nil)
	f.sessions.On("RemoveParticipant", mock.Anything, f.session.SessionID, mock.AnythingOfType("uuid.UUID")).Return(nil)
	f.sessions.On("SetTranscribing", mock.Anything, f.session.SessionID, false).Return(nil).Maybe()
	f.transcriber.On("Stop", f.session.SessionID).Return(nil)
	f.notifier.On("SendCallEndedNotification", mock.Anything, f.session.SessionID,
		mock.AnythingOfType("int64"), []uuid.UUID{f.session.PatientID}).Return(nil).Once()

	_, err := f.controller.StartCall(context.Background())
	require.NoError(t, err)

	assert.NoError(t, f.controller.EndCall(context.Background()))
	f.notifier.AssertExpectations(t)
}

func TestEndCall_PatientDoesNotNotify(t *testing.T) {
	f := newFixture(t, jwt.RolePatient)
	f.expectStart()
	f.expectEnd()

	_, err := f.controller.StartCall(context.Background())
	require.NoError(t, err)

	assert.NoError(t, f.controller.EndCall(context.Background()))
	f.notifier.AssertNotCalled(t, "SendCallEndedNotification",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestToggleVideo_ReadBackMatches(t *testing.T) {
	f := newFixture(t, jwt.RolePatient)
	f.expectStart()
	f.expectEnd()

	_, err := f.controller.StartCall(context.Background())
	require.NoError(t, err)

	state, err := f.controller.ToggleVideo(context.Background())
	require.NoError(t, err)
	assert.False(t, state)
	assert.Equal(t, state, f.controller.VideoEnabled())

	state, err = f.controller.ToggleVideo(context.Background())
	require.NoError(t, err)
	assert.True(t, state)
	assert.Equal(t, state, f.controller.VideoEnabled())

	assert.NoError(t, f.controller.EndCall(context.Background()))
}

func TestToggleAudio_FailureKeepsPreviousState(t *testing.T) {
	f := newFixture(t, jwt.RolePatient)
	f.expectStart()
	f.expectEnd()

	_, err := f.controller.StartCall(context.Background())
	require.NoError(t, err)

	f.transport.toggleErr = errors.New("track gone")

	state, err := f.controller.ToggleAudio(context.Background())
	require.Error(t, err)
	assert.True(t, state)
	assert.True(t, f.controller.AudioEnabled())

	assert.NoError(t, f.controller.EndCall(context.Background()))
}

func TestToggle_RejectedWhenNotActive(t *testing.T) {
	f := newFixture(t, jwt.RolePatient)

	_, err := f.controller.ToggleVideo(context.Background())
	assert.Error(t, err)
}

func TestScreenShare_CancelIsNotAnError(t *testing.T) {
	f := newFixture(t, jwt.RoleDoctor)
	f.expectStart()
	f.expectDoctorExtras()
	f.expectEnd()

	_, err := f.controller.StartCall(context.Background())
	require.NoError(t, err)

	f.transport.cancelOS = true

	sharing, err := f.controller.ToggleScreenShare(context.Background())
	assert.NoError(t, err)
	assert.False(t, sharing)
	assert.False(t, f.controller.ScreenSharing())

	assert.NoError(t, f.controller.EndCall(context.Background()))
}

func TestScreenShare_ToggleCycle(t *testing.T) {
	f := newFixture(t, jwt.RoleDoctor)
	f.expectStart()
	f.expectDoctorExtras()
	f.expectEnd()

	_, err := f.controller.StartCall(context.Background())
	require.NoError(t, err)

	sharing, err := f.controller.ToggleScreenShare(context.Background())
	require.NoError(t, err)
	assert.True(t, sharing)
	assert.True(t, f.controller.ScreenSharing())

	sharing, err = f.controller.ToggleScreenShare(context.Background())
	require.NoError(t, err)
	assert.False(t, sharing)
	assert.False(t, f.controller.ScreenSharing())
	assert.Equal(t, 1, f.transport.shareStops)

	assert.NoError(t, f.controller.EndCall(context.Background()))
}

func TestSendMessage_OptimisticAppend(t *testing.T) {
	f := newFixture(t, jwt.RolePatient)
	f.expectStart()
	f.expectEnd()
	f.messages.On("Save", mock.AnythingOfType("*domain.CallMessage")).Return(nil)

	_, err := f.controller.StartCall(context.Background())
	require.NoError(t, err)

	msg, err := f.controller.SendMessage(context.Background(), "hello doctor")
	require.NoError(t, err)
	assert.Equal(t, "hello doctor", msg.Body)

	view := f.controller.Messages()
	require.Len(t, view, 1)
	assert.Equal(t, msg.MessageID, view[0].MessageID)
	assert.Equal(t, []string{"hello doctor"}, f.transport.sent)

	assert.NoError(t, f.controller.EndCall(context.Background()))
}

func TestSendMessage_RejectedWhenNotActive(t *testing.T) {
	f := newFixture(t, jwt.RolePatient)

	_, err := f.controller.SendMessage(context.Background(), "too early")
	assert.Error(t, err)
	assert.Empty(t, f.controller.Messages())
}

func TestSaveMedicalNote_NonDoctorIsSilentNoOp(t *testing.T) {
	f := newFixture(t, jwt.RolePatient)
	f.expectStart()
	f.expectEnd()

	_, err := f.controller.StartCall(context.Background())
	require.NoError(t, err)

	note, err := f.controller.SaveMedicalNote(context.Background(), domain.NoteTypeObservation, "patient wrote this")
	assert.NoError(t, err)
	assert.Nil(t, note)
	f.notes.AssertNotCalled(t, "SaveMedicalNote", mock.Anything, mock.Anything)

	assert.NoError(t, f.controller.EndCall(context.Background()))
}

func TestSaveMedicalNote_NotActiveIsSilentNoOp(t *testing.T) {
	f := newFixture(t, jwt.RoleDoctor)

	note, err := f.controller.SaveMedicalNote(context.Background(), domain.NoteTypeDiagnosis, "too early")
	assert.NoError(t, err)
	assert.Nil(t, note)
	f.notes.AssertNotCalled(t, "SaveMedicalNote", mock.Anything, mock.Anything)
}

func TestSaveMedicalNote_TimestampFromDuration(t *testing.T) {
	f := newFixture(t, jwt.RoleDoctor)
	f.expectStart()
	f.expectDoctorExtras()
	f.expectEnd()

	var captured *domain.MedicalNote
	f.notes.On("SaveMedicalNote", mock.Anything, mock.AnythingOfType("*domain.MedicalNote")).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*domain.MedicalNote)
		}).
		Return(&domain.MedicalNote{NoteID: uuid.New()}, nil)

	_, err := f.controller.StartCall(context.Background())
	require.NoError(t, err)

	_, err = f.controller.SaveMedicalNote(context.Background(), domain.NoteTypeDiagnosis, "acute sinusitis",
		WithPrescription("amoxicillin", "500mg 3x daily"))
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.Equal(t, f.session.SessionID, captured.SessionID)
	assert.Equal(t, f.session.DoctorID, captured.AuthorUserID)
	assert.Equal(t, f.controller.Duration(), captured.TimestampInCall)
	assert.True(t, captured.IsPrescription)
	assert.Equal(t, "amoxicillin", captured.MedicationName)

	assert.Len(t, f.controller.Notes(), 1)
	assert.NoError(t, f.controller.EndCall(context.Background()))
}

func TestSaveMedicalNote_StoreFailureRaisesNotice(t *testing.T) {
	f := newFixture(t, jwt.RoleDoctor)
	f.expectStart()
	f.expectDoctorExtras()
	f.expectEnd()
	f.notes.On("SaveMedicalNote", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	_, err := f.controller.StartCall(context.Background())
	require.NoError(t, err)

	_, err = f.controller.SaveMedicalNote(context.Background(), domain.NoteTypeObservation, "bp elevated")
	require.Error(t, err)

	select {
	case notice := <-f.controller.Notices():
		assert.Equal(t, NoticeNoteSaveFailed, notice)
	default:
		t.Fatal("expected a note-save notice")
	}

	assert.Empty(t, f.controller.Notes())
	assert.NoError(t, f.controller.EndCall(context.Background()))
}

func TestDuration_NonDecreasing(t *testing.T) {
	f := newFixture(t, jwt.RolePatient)
	f.expectStart()
	f.expectEnd()

	_, err := f.controller.StartCall(context.Background())
	require.NoError(t, err)

	d1 := f.controller.Duration()
	time.Sleep(1100 * time.Millisecond)
	d2 := f.controller.Duration()
	d3 := f.controller.Duration()

	assert.GreaterOrEqual(t, d2, d1)
	assert.GreaterOrEqual(t, d3, d2)
	assert.GreaterOrEqual(t, d2, 1)

	assert.NoError(t, f.controller.EndCall(context.Background()))
}

func TestParticipants_WholesaleReplacement(t *testing.T) {
	f := newFixture(t, jwt.RoleDoctor)

	first := []*domain.SessionParticipant{
		{SessionID: f.session.SessionID, UserID: f.session.DoctorID, Role: jwt.RoleDoctor},
	}
	second := []*domain.SessionParticipant{
		{SessionID: f.session.SessionID, UserID: f.session.PatientID, Role: jwt.RolePatient},
	}

	f.sessions.On("CreateSession", mock.Anything, f.session.AppointmentID, f.session.DoctorID, f.session.PatientID).
		Return(f.session, nil)
	f.sessions.On("MarkActive", mock.Anything, f.session.SessionID, mock.AnythingOfType("time.Time")).Return(nil)
	f.sessions.On("AddParticipant", mock.Anything, f.session.SessionID, mock.AnythingOfType("uuid.UUID"), mock.AnythingOfType("string")).Return(nil)
	f.sessions.On("GetParticipants", mock.Anything, f.session.SessionID).Return(first, nil).Once()
	f.sessions.On("GetParticipants", mock.Anything, f.session.SessionID).Return(second, nil)
	f.expectDoctorExtras()
	f.expectEnd()

	_, err := f.controller.StartCall(context.Background())
	require.NoError(t, err)

	roster := f.controller.Participants()
	require.Len(t, roster, 1)
	assert.Equal(t, f.session.DoctorID, roster[0].UserID)

	// A participant-update event triggers a fresh fetch that replaces
	// the roster wholesale
	f.bus.subs[0].participants <- nil

	assert.Eventually(t, func() bool {
		roster := f.controller.Participants()
		return len(roster) == 1 && roster[0].UserID == f.session.PatientID
	}, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, f.controller.EndCall(context.Background()))
}

func TestStartRecording_DoctorOnlyAfterStoreAck(t *testing.T) {
	f := newFixture(t, jwt.RoleDoctor)
	f.expectStart()
	f.expectDoctorExtras()
	f.expectEnd()

	var stored *domain.Recording
	f.sessions.On("StartRecording", mock.Anything, mock.AnythingOfType("*domain.Recording")).
		Run(func(args mock.Arguments) {
			stored = args.Get(1).(*domain.Recording)
		}).
		Return(nil)

	_, err := f.controller.StartCall(context.Background())
	require.NoError(t, err)

	assert.False(t, f.controller.Session().IsRecording)

	got, err := f.controller.StartRecording(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, stored.RecordingID, got.RecordingID)
	assert.Equal(t, f.session.SessionID, got.SessionID)
	assert.Equal(t, f.session.DoctorID, got.StartedBy)
	assert.Contains(t, got.ObjectKey, f.session.SessionID.String())
	assert.Contains(t, got.ObjectKey, got.RecordingID.String())
	assert.True(t, f.controller.Session().IsRecording)

	assert.NoError(t, f.controller.EndCall(context.Background()))
}

func TestStartRecording_PatientForbidden(t *testing.T) {
	f := newFixture(t, jwt.RolePatient)
	f.expectStart()
	f.expectEnd()

	_, err := f.controller.StartCall(context.Background())
	require.NoError(t, err)

	_, err = f.controller.StartRecording(context.Background())
	assert.Error(t, err)
	assert.False(t, f.controller.Session().IsRecording)
	f.sessions.AssertNotCalled(t, "StartRecording", mock.Anything, mock.Anything)

	assert.NoError(t, f.controller.EndCall(context.Background()))
}

func TestStartRecording_StoreFailureKeepsFlagOff(t *testing.T) {
	f := newFixture(t, jwt.RoleDoctor)
	f.expectStart()
	f.expectDoctorExtras()
	f.expectEnd()
	f.sessions.On("StartRecording", mock.Anything, mock.AnythingOfType("*domain.Recording")).
		Return(errors.New("db down"))

	_, err := f.controller.StartCall(context.Background())
	require.NoError(t, err)

	_, err = f.controller.StartRecording(context.Background())
	require.Error(t, err)
	assert.False(t, f.controller.Session().IsRecording)

	assert.NoError(t, f.controller.EndCall(context.Background()))
}

func TestInboundMessage_AppendedToView(t *testing.T) {
	f := newFixture(t, jwt.RoleDoctor)
	f.expectStart()
	f.expectDoctorExtras()
	f.expectEnd()

	_, err := f.controller.StartCall(context.Background())
	require.NoError(t, err)

	f.transport.msgs <- &transport.InboundMessage{
		SenderID: f.session.PatientID,
		Body:     "I can hear you now",
		SentAt:   time.Now(),
	}

	assert.Eventually(t, func() bool {
		view := f.controller.Messages()
		return len(view) == 1 && view[0].Body == "I can hear you now"
	}, 2*time.Second, 10*time.Millisecond)

	// The sender's side already persisted this message; a second write
	// here would duplicate the stored history.
	f.messages.AssertNotCalled(t, "Save", mock.Anything)

	assert.NoError(t, f.controller.EndCall(context.Background()))
}
