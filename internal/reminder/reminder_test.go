package reminder

import (
	"strings"
	"testing"
	"time"

	"github.com/clinicware/atende/internal/messaging"
)

type staticSource struct {
	bookings []Booking
}

func (s staticSource) PendingBookings() []Booking { return s.bookings }

func newTestScheduler(t *testing.T, source BookingSource, sender messaging.Service) *Scheduler {
	t.Helper()
	now := time.Date(2025, 12, 15, 10, 0, 0, 0, time.Local)
	s, err := NewScheduler(
		WithSource(source),
		WithSender(sender),
		WithNow(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestSweepSendsForTomorrowOnly(t *testing.T) {
	mock := messaging.NewMockService()
	s := newTestScheduler(t, staticSource{bookings: []Booking{
		{Phone: "5511999999999", Date: "16/12/2025", Time: "09:00"},
		{Phone: "5511888888888", Date: "20/12/2025", Time: "10:00"},
	}}, mock)

	s.Sweep()

	if mock.SentCount() != 1 {
		t.Fatalf("sent = %d, want 1", mock.SentCount())
	}
	last := mock.LastSent()
	if last.To != "5511999999999" {
		t.Errorf("to = %q", last.To)
	}
	if !strings.Contains(last.Body, "16/12/2025") || !strings.Contains(last.Body, "09:00") {
		t.Errorf("body = %q", last.Body)
	}
}

func TestSweepDoesNotRepeatReminders(t *testing.T) {
	mock := messaging.NewMockService()
	s := newTestScheduler(t, staticSource{bookings: []Booking{
		{Phone: "5511999999999", Date: "16/12/2025", Time: "09:00"},
	}}, mock)

	s.Sweep()
	s.Sweep()

	if mock.SentCount() != 1 {
		t.Fatalf("sent = %d, want 1 after repeated sweeps", mock.SentCount())
	}
}

func TestSweepRetriesAfterSendFailure(t *testing.T) {
	mock := messaging.NewMockService()
	mock.SendErr = messaging.ErrServiceStopped
	s := newTestScheduler(t, staticSource{bookings: []Booking{
		{Phone: "5511999999999", Date: "16/12/2025", Time: "09:00"},
	}}, mock)

	s.Sweep()
	if mock.SentCount() != 0 {
		t.Fatalf("sent = %d, want 0 while sender failing", mock.SentCount())
	}

	// Sender recovers; the next sweep delivers the reminder.
	mock.SendErr = nil
	s.Sweep()
	if mock.SentCount() != 1 {
		t.Fatalf("sent = %d, want 1 after recovery", mock.SentCount())
	}
}

func TestNewSchedulerValidatesConfig(t *testing.T) {
	if _, err := NewScheduler(); err == nil {
		t.Fatal("expected error without source and sender")
	}
	if _, err := NewScheduler(
		WithSource(staticSource{}),
		WithSender(messaging.NewMockService()),
		WithSchedule("not a cron expr"),
	); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
