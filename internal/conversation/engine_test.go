package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/clinicware/atende/internal/models"
	"github.com/clinicware/atende/internal/session"
)

type stubScheduling struct {
	patient    *models.Patient
	patientErr error
	dates      []string
	datesErr   error
	times      []string
	timesErr   error
	created    *models.Appointment
	createErr  error
	fetched    *models.Appointment

	createCalls int
}

func (s *stubScheduling) GetPatient(ctx context.Context, cpf string) (*models.Patient, error) {
	return s.patient, s.patientErr
}

func (s *stubScheduling) GetAvailableDates(ctx context.Context) ([]string, error) {
	return s.dates, s.datesErr
}

func (s *stubScheduling) GetAvailableTimes(ctx context.Context, date string) ([]string, error) {
	return s.times, s.timesErr
}

func (s *stubScheduling) CreateAppointment(ctx context.Context, req models.AppointmentRequest) (*models.Appointment, error) {
	s.createCalls++
	return s.created, s.createErr
}

func (s *stubScheduling) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	return s.fetched, nil
}

func healthyScheduling() *stubScheduling {
	return &stubScheduling{
		patient: &models.Patient{CPF: "12345678909", Name: "Maria Silva"},
		dates:   []string{"15/12/2025", "16/12/2025", "17/12/2025"},
		times:   []string{"08:00", "09:00", "10:00"},
		created: &models.Appointment{ID: "apt-1", Date: "16/12/2025", Time: "09:00"},
	}
}

func newTestEngine(t *testing.T, sched Scheduling) (*Engine, *session.Store) {
	t.Helper()
	sessions := session.NewStore()
	t.Cleanup(func() { sessions.Close() })

	morning := time.Date(2025, 12, 10, 9, 0, 0, 0, time.Local)
	e := NewEngine(
		WithSessions(sessions),
		WithScheduling(sched),
		WithNow(func() time.Time { return morning }),
	)
	return e, sessions
}

const phone = "5511999999999"

func TestGreetingShowsMenu(t *testing.T) {
	e, sessions := newTestEngine(t, healthyScheduling())

	reply := e.ProcessMessage(context.Background(), phone, "oi")
	if !strings.Contains(reply, "Bom dia") {
		t.Errorf("expected morning greeting, got %q", reply)
	}
	if !strings.Contains(reply, "Agendar consulta") {
		t.Errorf("expected menu options, got %q", reply)
	}
	if got := sessions.Get(phone); got.State != models.StateStart {
		t.Errorf("state = %q, want %q", got.State, models.StateStart)
	}
}

func TestGreetingByTimeOfDay(t *testing.T) {
	tests := []struct {
		hour int
		want string
	}{
		{6, "Bom dia"},
		{14, "Boa tarde"},
		{21, "Boa noite"},
		{2, "Boa noite"},
	}
	for _, tt := range tests {
		sessions := session.NewStore()
		at := time.Date(2025, 12, 10, tt.hour, 0, 0, 0, time.Local)
		e := NewEngine(
			WithSessions(sessions),
			WithScheduling(healthyScheduling()),
			WithNow(func() time.Time { return at }),
		)
		reply := e.ProcessMessage(context.Background(), phone, "oi")
		if !strings.Contains(reply, tt.want) {
			t.Errorf("hour %d: expected %q in reply", tt.hour, tt.want)
		}
		sessions.Close()
	}
}

func TestFullBookingFlow(t *testing.T) {
	sched := healthyScheduling()
	e, sessions := newTestEngine(t, sched)
	ctx := context.Background()

	e.ProcessMessage(ctx, phone, "oi")

	reply := e.ProcessMessage(ctx, phone, "1")
	if !strings.Contains(reply, "CPF") {
		t.Errorf("expected CPF prompt, got %q", reply)
	}
	if got := sessions.Get(phone); got.State != models.StateAwaitingIdentifier {
		t.Fatalf("state = %q, want %q", got.State, models.StateAwaitingIdentifier)
	}

	reply = e.ProcessMessage(ctx, phone, "12345678909")
	if !strings.Contains(reply, "Maria Silva") {
		t.Errorf("expected patient name in reply, got %q", reply)
	}
	if !strings.Contains(reply, "123.456.789-09") {
		t.Errorf("expected formatted CPF in reply, got %q", reply)
	}
	if !strings.Contains(reply, "15/12/2025") {
		t.Errorf("expected date list, got %q", reply)
	}
	sess := sessions.Get(phone)
	if sess.State != models.StateChoosingDate {
		t.Fatalf("state = %q, want %q", sess.State, models.StateChoosingDate)
	}
	if sess.Context.CPF != "12345678909" || sess.Context.PatientName != "Maria Silva" {
		t.Fatalf("context = %+v", sess.Context)
	}

	reply = e.ProcessMessage(ctx, phone, "2")
	if !strings.Contains(reply, "16/12/2025") || !strings.Contains(reply, "08:00") {
		t.Errorf("expected slot list for chosen date, got %q", reply)
	}
	if got := sessions.Get(phone); got.State != models.StateChoosingTime {
		t.Fatalf("state = %q, want %q", got.State, models.StateChoosingTime)
	}

	reply = e.ProcessMessage(ctx, phone, "2")
	if !strings.Contains(reply, "09:00") || !strings.Contains(reply, "sim") {
		t.Errorf("expected confirmation prompt, got %q", reply)
	}
	if got := sessions.Get(phone); got.State != models.StateConfirming {
		t.Fatalf("state = %q, want %q", got.State, models.StateConfirming)
	}

	reply = e.ProcessMessage(ctx, phone, "sim")
	if !strings.Contains(reply, "agendada com sucesso") {
		t.Errorf("expected booking confirmation, got %q", reply)
	}
	if sched.createCalls != 1 {
		t.Errorf("CreateAppointment calls = %d, want 1", sched.createCalls)
	}
	sess = sessions.Get(phone)
	if sess.State != models.StateStart {
		t.Errorf("state after booking = %q, want %q", sess.State, models.StateStart)
	}
	if sess.Context.AppointmentID != "apt-1" {
		t.Errorf("appointment id = %q", sess.Context.AppointmentID)
	}
}

func TestInvalidCPFRepromptsWithoutAdvance(t *testing.T) {
	e, sessions := newTestEngine(t, healthyScheduling())
	ctx := context.Background()

	e.ProcessMessage(ctx, phone, "1")

	for _, bad := range []string{"11111111111", "12345678900", "abc"} {
		reply := e.ProcessMessage(ctx, phone, bad)
		if !strings.Contains(reply, "CPF inválido") {
			t.Errorf("input %q: expected invalid-CPF reply, got %q", bad, reply)
		}
		if got := sessions.Get(phone); got.State != models.StateAwaitingIdentifier {
			t.Errorf("input %q: state = %q, want no advance", bad, got.State)
		}
	}
}

func TestMenuCommandResetsFromAnyState(t *testing.T) {
	e, sessions := newTestEngine(t, healthyScheduling())
	ctx := context.Background()

	e.ProcessMessage(ctx, phone, "1")
	e.ProcessMessage(ctx, phone, "12345678909")
	if got := sessions.Get(phone); got.State != models.StateChoosingDate {
		t.Fatalf("setup state = %q", got.State)
	}

	reply := e.ProcessMessage(ctx, phone, "MENU")
	if !strings.Contains(reply, "Bem-vindo") {
		t.Errorf("expected menu reply, got %q", reply)
	}
	sess := sessions.Get(phone)
	if sess.State != models.StateStart {
		t.Errorf("state = %q, want %q", sess.State, models.StateStart)
	}
	if !sess.Context.Empty() {
		t.Errorf("context not cleared: %+v", sess.Context)
	}
}

func TestFastRejectionLeavesStateUntouched(t *testing.T) {
	e, sessions := newTestEngine(t, healthyScheduling())
	ctx := context.Background()

	e.ProcessMessage(ctx, phone, "1")
	before := sessions.Get(phone)

	long := strings.Repeat("a", MaxInboundLength+1)
	if reply := e.ProcessMessage(ctx, phone, long); reply != replyRejected {
		t.Errorf("long message reply = %q", reply)
	}
	if reply := e.ProcessMessage(ctx, phone, "veja http://example.test"); reply != replyRejected {
		t.Errorf("link message reply = %q", reply)
	}
	if reply := e.ProcessMessage(ctx, phone, "a@b@c@d"); reply != replyRejected {
		t.Errorf("at-heavy message reply = %q", reply)
	}

	after := sessions.Get(phone)
	if after.State != before.State || after.Version != before.Version {
		t.Errorf("state changed by rejected message: %+v -> %+v", before, after)
	}
}

func TestUnknownStateSelfHeals(t *testing.T) {
	e, sessions := newTestEngine(t, healthyScheduling())
	ctx := context.Background()

	sess := sessions.Get(phone)
	sessions.CommitIfUnchanged(phone, sess.Version, models.State("legacy_state"), sess.Context)

	reply := e.ProcessMessage(ctx, phone, "oi")
	if !strings.Contains(reply, "Bem-vindo") {
		t.Errorf("expected menu reply after self-heal, got %q", reply)
	}
	if got := sessions.Get(phone); got.State != models.StateStart {
		t.Errorf("state = %q, want %q", got.State, models.StateStart)
	}
}

func TestRemoteFailureDegradesWithoutCorruption(t *testing.T) {
	sched := healthyScheduling()
	sched.patientErr = errors.New("backend down")
	e, sessions := newTestEngine(t, sched)
	ctx := context.Background()

	e.ProcessMessage(ctx, phone, "1")
	reply := e.ProcessMessage(ctx, phone, "12345678909")
	if reply != replyDegraded {
		t.Errorf("reply = %q, want degradation message", reply)
	}
	if got := sessions.Get(phone); got.State != models.StateAwaitingIdentifier {
		t.Errorf("state = %q, session corrupted by remote failure", got.State)
	}

	// Backend recovers; the same message now succeeds.
	sched.patientErr = nil
	e.ProcessMessage(ctx, phone, "12345678909")
	if got := sessions.Get(phone); got.State != models.StateChoosingDate {
		t.Errorf("state after recovery = %q", got.State)
	}
}

func TestBookingFailureKeepsConfirming(t *testing.T) {
	sched := healthyScheduling()
	sched.createErr = errors.New("backend down")
	e, sessions := newTestEngine(t, sched)
	ctx := context.Background()

	e.ProcessMessage(ctx, phone, "1")
	e.ProcessMessage(ctx, phone, "12345678909")
	e.ProcessMessage(ctx, phone, "1")
	e.ProcessMessage(ctx, phone, "1")

	reply := e.ProcessMessage(ctx, phone, "sim")
	if reply != replyDegraded {
		t.Errorf("reply = %q, want degradation message", reply)
	}
	if got := sessions.Get(phone); got.State != models.StateConfirming {
		t.Errorf("state = %q, want to stay confirming", got.State)
	}
}

func TestCancelInConfirming(t *testing.T) {
	e, sessions := newTestEngine(t, healthyScheduling())
	ctx := context.Background()

	e.ProcessMessage(ctx, phone, "1")
	e.ProcessMessage(ctx, phone, "12345678909")
	e.ProcessMessage(ctx, phone, "1")
	e.ProcessMessage(ctx, phone, "1")

	reply := e.ProcessMessage(ctx, phone, "não")
	if !strings.Contains(reply, "cancelado") {
		t.Errorf("reply = %q", reply)
	}
	if got := sessions.Get(phone); got.State != models.StateStart {
		t.Errorf("state = %q, want %q", got.State, models.StateStart)
	}
}

func TestInvalidMenuOption(t *testing.T) {
	e, sessions := newTestEngine(t, healthyScheduling())

	reply := e.ProcessMessage(context.Background(), phone, "7")
	if !strings.Contains(reply, "Opção inválida") {
		t.Errorf("reply = %q", reply)
	}
	if got := sessions.Get(phone); got.State != models.StateStart {
		t.Errorf("state = %q", got.State)
	}
}

func TestHumanHandoffFlow(t *testing.T) {
	e, sessions := newTestEngine(t, healthyScheduling())
	ctx := context.Background()

	reply := e.ProcessMessage(ctx, phone, "5")
	if !strings.Contains(reply, "Falar com Atendente") {
		t.Errorf("reply = %q", reply)
	}
	if got := sessions.Get(phone); got.State != models.StateHumanHandoff {
		t.Fatalf("state = %q", got.State)
	}

	reply = e.ProcessMessage(ctx, phone, "obrigado")
	if !strings.Contains(reply, "Atendente") {
		t.Errorf("reply = %q", reply)
	}
	if got := sessions.Get(phone); got.State != models.StateStart {
		t.Errorf("state = %q, want return to start", got.State)
	}
}

func TestViewingAppointmentsEmpty(t *testing.T) {
	e, sessions := newTestEngine(t, healthyScheduling())
	ctx := context.Background()

	e.ProcessMessage(ctx, phone, "2")
	if got := sessions.Get(phone); got.State != models.StateViewingAppointments {
		t.Fatalf("state = %q", got.State)
	}

	reply := e.ProcessMessage(ctx, phone, "ok")
	if !strings.Contains(reply, "Nenhum agendamento encontrado") {
		t.Errorf("reply = %q", reply)
	}
	if got := sessions.Get(phone); got.State != models.StateStart {
		t.Errorf("state = %q", got.State)
	}
}

func TestRepliesAreDeterministicForSameState(t *testing.T) {
	e, _ := newTestEngine(t, healthyScheduling())
	ctx := context.Background()

	first := e.ProcessMessage(ctx, phone, "oi")
	second := e.ProcessMessage(ctx, phone, "oi")
	if first != second {
		t.Errorf("same state and text produced different replies:\n%q\n%q", first, second)
	}
}
