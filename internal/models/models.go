// Package models defines the core data structures shared across Atende components.
//
// It includes webhook payloads from the messaging gateway, conversation sessions
// with their typed per-state context, and the DTOs exchanged with the scheduling
// backend.
package models

import "time"

// WebhookEventReceived is the gateway event type that carries an inbound text message.
// All other event types are ignored by the conversation core.
const WebhookEventReceived = "ReceivedCallback"

// WebhookText holds the text body of an inbound message.
type WebhookText struct {
	Message string `json:"message"`
}

// WebhookMessage is the payload delivered by the messaging gateway webhook.
// Only events whose Type is WebhookEventReceived are processed; everything else
// passes through untouched.
type WebhookMessage struct {
	Type      string       `json:"type"`
	Phone     string       `json:"phone,omitempty"`
	Text      *WebhookText `json:"text,omitempty"`
	MessageID string       `json:"messageId,omitempty"`
	Status    string       `json:"status,omitempty"`
	Connected *bool        `json:"connected,omitempty"`
}

// State identifies a dialogue state in the conversation flow.
type State string

// Conversation states. StateStart is both the initial state and the state every
// completed or cancelled flow returns to.
const (
	StateStart               State = "start"
	StateAwaitingIdentifier  State = "awaiting_identifier"
	StateChoosingDate        State = "choosing_date"
	StateChoosingTime        State = "choosing_time"
	StateConfirming          State = "confirming"
	StateViewingAppointments State = "viewing_appointments"
	StateWaitingList         State = "waiting_list"
	StateHumanHandoff        State = "human_handoff"
)

// SessionContext carries the data collected along a conversation flow.
// Fields are typed per state instead of an open-ended string map: each handler
// reads only the fields its state owns.
type SessionContext struct {
	CPF            string   `json:"cpf,omitempty"`
	PatientName    string   `json:"patient_name,omitempty"`
	AvailableDates []string `json:"available_dates,omitempty"`
	SelectedDate   string   `json:"selected_date,omitempty"`
	AvailableTimes []string `json:"available_times,omitempty"`
	SelectedTime   string   `json:"selected_time,omitempty"`
	AppointmentID  string   `json:"appointment_id,omitempty"`
}

// Empty reports whether no flow data has been collected yet.
func (c SessionContext) Empty() bool {
	return c.CPF == "" && c.PatientName == "" &&
		len(c.AvailableDates) == 0 && c.SelectedDate == "" &&
		len(c.AvailableTimes) == 0 && c.SelectedTime == "" && c.AppointmentID == ""
}

// Session is the conversation state for a single identifier (normalized phone
// number). At most one live session exists per identifier.
type Session struct {
	Phone       string         `json:"phone"`
	State       State          `json:"state"`
	Context     SessionContext `json:"context"`
	Version     int64          `json:"version"`
	LastTouched time.Time      `json:"last_touched"`
}

// NewSession returns a fresh session in the initial state.
func NewSession(phone string) Session {
	return Session{
		Phone:       phone,
		State:       StateStart,
		LastTouched: time.Now(),
	}
}

// Patient is the scheduling backend's patient record.
type Patient struct {
	CPF   string `json:"cpf"`
	Name  string `json:"nome"`
	Phone string `json:"telefone,omitempty"`
	Email string `json:"email,omitempty"`
}

// AppointmentRequest is the payload to book a new appointment.
type AppointmentRequest struct {
	CPF         string `json:"cpf"`
	PatientName string `json:"paciente_nome"`
	Date        string `json:"data"`
	Time        string `json:"horario"`
}

// Appointment is a booked appointment as reported by the scheduling backend.
type Appointment struct {
	ID          string `json:"agendamento_id"`
	CPF         string `json:"cpf,omitempty"`
	PatientName string `json:"paciente_nome,omitempty"`
	Date        string `json:"data"`
	Time        string `json:"horario"`
	Status      string `json:"status,omitempty"`
}

// Message directions for the durable message log.
const (
	DirectionInbound  = "in"
	DirectionOutbound = "out"
)

// MessageLog is a durable record of one inbound or outbound message.
type MessageLog struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	MessageID string    `json:"message_id,omitempty"`
	Direction string    `json:"direction"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
