package gestaods

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clinicware/atende/internal/httpx"
	"github.com/clinicware/atende/internal/models"
)

func appointmentRequest(date, slot string) models.AppointmentRequest {
	return models.AppointmentRequest{
		CPF:         "12345678909",
		PatientName: "Maria Silva",
		Date:        date,
		Time:        slot,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	all := append([]Option{
		WithBaseURL(srv.URL),
		WithToken("tok"),
		WithClientOptions(httpx.WithRetry(2, time.Millisecond, 2*time.Millisecond)),
	}, opts...)
	c, err := NewClient(all...)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestGetPatientFoundAndCached(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if !strings.Contains(r.URL.Path, "/api/dev-paciente/tok/12345678909/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"cpf":"12345678909","nome":"Maria Silva"}`))
	})

	ctx := context.Background()
	p, err := c.GetPatient(ctx, "12345678909")
	if err != nil {
		t.Fatalf("GetPatient failed: %v", err)
	}
	if p == nil || p.Name != "Maria Silva" {
		t.Fatalf("unexpected patient %+v", p)
	}

	// Second lookup hits the cache.
	if _, err := c.GetPatient(ctx, "12345678909"); err != nil {
		t.Fatalf("cached lookup failed: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected one backend call, got %d", n)
	}
}

func TestGetPatientNotFoundIsNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	p, err := c.GetPatient(context.Background(), "12345678909")
	if err != nil {
		t.Fatalf("not-found should not be an error, got %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil patient, got %+v", p)
	}
}

func TestGetAvailableDates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"dias_disponiveis":["15/12/2025","16/12/2025"]}`))
	})
	dates, err := c.GetAvailableDates(context.Background())
	if err != nil {
		t.Fatalf("GetAvailableDates failed: %v", err)
	}
	if len(dates) != 2 || dates[0] != "15/12/2025" {
		t.Fatalf("dates = %v", dates)
	}
}

func TestGetAvailableTimesCachedPerDate(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		date := r.URL.Query().Get("data")
		if date == "15/12/2025" {
			w.Write([]byte(`{"horarios_disponiveis":["08:00","09:00"]}`))
			return
		}
		w.Write([]byte(`{"horarios_disponiveis":["14:00"]}`))
	})

	ctx := context.Background()
	times, err := c.GetAvailableTimes(ctx, "15/12/2025")
	if err != nil {
		t.Fatalf("GetAvailableTimes failed: %v", err)
	}
	if len(times) != 2 {
		t.Fatalf("times = %v", times)
	}

	c.GetAvailableTimes(ctx, "15/12/2025")
	c.GetAvailableTimes(ctx, "16/12/2025")
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected two backend calls (one per date), got %d", n)
	}
}

func TestCreateAppointmentInvalidatesSlotCache(t *testing.T) {
	var timeCalls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "horarios-disponiveis") {
			atomic.AddInt32(&timeCalls, 1)
			w.Write([]byte(`{"horarios_disponiveis":["08:00"]}`))
			return
		}
		w.Write([]byte(`{"agendamento_id":"apt-1","data":"15/12/2025","horario":"08:00"}`))
	})

	ctx := context.Background()
	c.GetAvailableTimes(ctx, "15/12/2025")

	apt, err := c.CreateAppointment(ctx, appointmentRequest("15/12/2025", "08:00"))
	if err != nil {
		t.Fatalf("CreateAppointment failed: %v", err)
	}
	if apt.ID != "apt-1" {
		t.Fatalf("appointment = %+v", apt)
	}

	// The slot cache for the booked date was invalidated: this refetches.
	c.GetAvailableTimes(ctx, "15/12/2025")
	if n := atomic.LoadInt32(&timeCalls); n != 2 {
		t.Fatalf("expected slot refetch after booking, got %d calls", n)
	}
}

func TestRescheduleAppointment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		w.Write([]byte(`{"agendamento_id":"apt-1","data":"20/12/2025","horario":"10:00"}`))
	})
	apt, err := c.RescheduleAppointment(context.Background(), "apt-1", "20/12/2025", "10:00")
	if err != nil {
		t.Fatalf("RescheduleAppointment failed: %v", err)
	}
	if apt.Date != "20/12/2025" || apt.Time != "10:00" {
		t.Fatalf("appointment = %+v", apt)
	}
}

func TestCheckConnection(t *testing.T) {
	healthy := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"dias_disponiveis":[]}`))
	})
	if !healthy.CheckConnection(context.Background()) {
		t.Error("expected healthy backend to report connected")
	}

	broken := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if broken.CheckConnection(context.Background()) {
		t.Error("expected broken backend to report disconnected")
	}
}
