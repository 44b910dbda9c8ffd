package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clinicware/atende/internal/models"
	"github.com/clinicware/atende/internal/validation"
)

// Fixed replies. The degradation reply is used whenever a remote dependency
// fails mid-handler; the session keeps its current state so the patient can
// simply try again.
const (
	replyRejected = "❌ Mensagem muito longa ou inválida. Por favor, tente novamente."
	replyDegraded = "😅 Ops! Algo deu errado. Tente novamente ou digite 'menu' para voltar ao início."
)

const menuOptions = `*1️⃣* - Agendar consulta
*2️⃣* - Ver meus agendamentos
*3️⃣* - Cancelar consulta
*4️⃣* - Lista de espera
*5️⃣* - Falar com atendente`

// greeting returns the time-of-day salutation.
func (e *Engine) greeting() string {
	hour := e.now().Hour()
	switch {
	case hour >= 5 && hour < 12:
		return "🌅 Bom dia"
	case hour >= 12 && hour < 18:
		return "🌞 Boa tarde"
	default:
		return "🌙 Boa noite"
	}
}

func (e *Engine) menuReply() string {
	return fmt.Sprintf(`%s! Bem-vindo(a) à *%s*! 🏥

Sou seu assistente virtual. Como posso ajudar?

%s

Digite o número da opção desejada.`, e.greeting(), e.clinicName, menuOptions)
}

func (e *Engine) attendantReply() string {
	return fmt.Sprintf(`👨‍💼 *Falar com Atendente*

Para falar diretamente com um atendente, ligue:

📞 *%s*

Horário de atendimento:
🕐 Segunda a Sexta: 8h às 18h
🕐 Sábado: 8h às 12h`, e.clinicPhone)
}

// handleStart shows the menu or routes a chosen option.
func (e *Engine) handleStart(ctx context.Context, sess models.Session, text string) (string, models.State, models.SessionContext) {
	switch text {
	case "1":
		return `📋 *Agendamento de Consulta*

Por favor, informe seu CPF (apenas números):

Exemplo: 12345678901`, models.StateAwaitingIdentifier, models.SessionContext{}

	case "2":
		return "🔍 Buscando seus agendamentos...", models.StateViewingAppointments, sess.Context

	case "3":
		return fmt.Sprintf("❌ Funcionalidade em desenvolvimento. Entre em contato: %s", e.clinicPhone),
			models.StateStart, sess.Context

	case "4":
		return "📋 *Lista de Espera*\n\nFuncionalidade em desenvolvimento.",
			models.StateWaitingList, sess.Context

	case "5":
		return e.attendantReply(), models.StateHumanHandoff, sess.Context
	}

	// A bare numeric that is not a menu option is an invalid selection;
	// anything else is treated as a greeting.
	if _, isNumber := selectOption(text, 99); isNumber {
		return fmt.Sprintf(`❌ Opção inválida!

Digite apenas o número da opção desejada:

%s`, menuOptions), models.StateStart, models.SessionContext{}
	}

	return e.menuReply(), models.StateStart, models.SessionContext{}
}

// handleAwaitingIdentifier validates the CPF, looks the patient up and moves
// to date selection.
func (e *Engine) handleAwaitingIdentifier(ctx context.Context, sess models.Session, text string) (string, models.State, models.SessionContext) {
	cpf, ok := validation.ExtractCPF(text)
	if !ok {
		return `❌ CPF inválido!

O CPF informado não é válido. Verifique e tente novamente.

Ou digite 'menu' para voltar ao início.`, models.StateAwaitingIdentifier, sess.Context
	}

	patient, err := e.sched.GetPatient(ctx, cpf)
	if err != nil {
		slog.Error("Patient lookup failed", "cpf", validation.Mask(cpf), "error", err)
		e.sink.Increment("conversation_processing_errors")
		return replyDegraded, models.StateAwaitingIdentifier, sess.Context
	}
	if patient == nil {
		return `❌ CPF não encontrado em nosso cadastro.

Verifique o número e tente novamente, ou digite 'menu' para voltar ao início.`,
			models.StateAwaitingIdentifier, sess.Context
	}

	dates, err := e.sched.GetAvailableDates(ctx)
	if err != nil {
		slog.Error("Date lookup failed", "error", err)
		e.sink.Increment("conversation_processing_errors")
		return replyDegraded, models.StateAwaitingIdentifier, sess.Context
	}
	if len(dates) == 0 {
		return `😔 Não há datas disponíveis no momento.

Digite 'menu' para voltar ao início.`, models.StateStart, models.SessionContext{}
	}
	if len(dates) > maxDateOptions {
		dates = dates[:maxDateOptions]
	}

	next := models.SessionContext{
		CPF:            cpf,
		PatientName:    patient.Name,
		AvailableDates: dates,
	}

	formattedCPF, err := validation.FormatCPF(cpf)
	if err != nil {
		formattedCPF = cpf
	}

	reply := fmt.Sprintf(`✅ CPF validado com sucesso!

👤 Paciente: %s
📋 CPF: %s

📅 *Datas Disponíveis*

%s
Digite o número da data desejada ou 'menu' para voltar.`,
		patient.Name, formattedCPF, numberedList(dates))

	return reply, models.StateChoosingDate, next
}

// handleChoosingDate resolves a numbered date selection and fetches its slots.
func (e *Engine) handleChoosingDate(ctx context.Context, sess models.Session, text string) (string, models.State, models.SessionContext) {
	idx, ok := selectOption(text, len(sess.Context.AvailableDates))
	if !ok {
		return fmt.Sprintf(`❌ Opção inválida!

Escolha uma das datas disponíveis:

%s
Digite o número da data desejada ou 'menu' para voltar.`,
			numberedList(sess.Context.AvailableDates)), models.StateChoosingDate, sess.Context
	}
	selected := sess.Context.AvailableDates[idx-1]

	times, err := e.sched.GetAvailableTimes(ctx, selected)
	if err != nil {
		slog.Error("Slot lookup failed", "date", selected, "error", err)
		e.sink.Increment("conversation_processing_errors")
		return replyDegraded, models.StateChoosingDate, sess.Context
	}
	if len(times) == 0 {
		return fmt.Sprintf(`😔 Não há horários disponíveis para %s.

Escolha outra data:

%s
Digite o número da data desejada ou 'menu' para voltar.`,
			selected, numberedList(sess.Context.AvailableDates)), models.StateChoosingDate, sess.Context
	}
	if len(times) > maxTimeOptions {
		times = times[:maxTimeOptions]
	}

	next := sess.Context
	next.SelectedDate = selected
	next.AvailableTimes = times

	reply := fmt.Sprintf(`⏰ *Horários Disponíveis*

Escolha um horário para %s:

%s
Digite o número do horário desejado ou 'menu' para voltar.`,
		selected, numberedList(times))

	return reply, models.StateChoosingTime, next
}

// handleChoosingTime resolves a numbered slot selection and asks for
// confirmation.
func (e *Engine) handleChoosingTime(ctx context.Context, sess models.Session, text string) (string, models.State, models.SessionContext) {
	idx, ok := selectOption(text, len(sess.Context.AvailableTimes))
	if !ok {
		return fmt.Sprintf(`❌ Opção inválida!

Escolha um horário para %s:

%s
Digite o número do horário desejado ou 'menu' para voltar.`,
			sess.Context.SelectedDate, numberedList(sess.Context.AvailableTimes)),
			models.StateChoosingTime, sess.Context
	}

	next := sess.Context
	next.SelectedTime = sess.Context.AvailableTimes[idx-1]

	reply := fmt.Sprintf(`📋 *Confirme seu agendamento:*

👤 Paciente: %s
📅 Data: %s
⏰ Horário: %s

Digite *sim* para confirmar ou *não* para cancelar.`,
		next.PatientName, next.SelectedDate, next.SelectedTime)

	return reply, models.StateConfirming, next
}

// handleConfirming books the appointment on confirmation.
func (e *Engine) handleConfirming(ctx context.Context, sess models.Session, text string) (string, models.State, models.SessionContext) {
	switch text {
	case "sim", "s", "confirmar", "1":
		apt, err := e.sched.CreateAppointment(ctx, models.AppointmentRequest{
			CPF:         sess.Context.CPF,
			PatientName: sess.Context.PatientName,
			Date:        sess.Context.SelectedDate,
			Time:        sess.Context.SelectedTime,
		})
		if err != nil {
			slog.Error("Appointment booking failed",
				"cpf", validation.Mask(sess.Context.CPF), "error", err)
			e.sink.Increment("conversation_processing_errors")
			return replyDegraded, models.StateConfirming, sess.Context
		}
		e.sink.Increment("appointments_booked")

		next := models.SessionContext{
			CPF:           sess.Context.CPF,
			PatientName:   sess.Context.PatientName,
			AppointmentID: apt.ID,
		}
		reply := fmt.Sprintf(`✅ *Consulta agendada com sucesso!*

📋 *Detalhes do agendamento:*
👤 Paciente: %s
📅 Data: %s
⏰ Horário: %s

📍 *Endereço:*
%s
%s

💡 *Lembretes:*
• Chegue com 15 minutos de antecedência
• Traga documento com foto
• Traga carteira do convênio (se aplicável)

Você receberá um lembrete 24h antes da consulta.

Digite 'menu' para voltar ao início.`,
			sess.Context.PatientName, sess.Context.SelectedDate, sess.Context.SelectedTime,
			e.clinicName, e.clinicAddress)
		return reply, models.StateStart, next

	case "nao", "não", "n", "2":
		return `❌ Agendamento cancelado.

Digite 'menu' para voltar ao início.`, models.StateStart, models.SessionContext{}
	}

	return `Por favor, digite *sim* para confirmar ou *não* para cancelar o agendamento.`,
		models.StateConfirming, sess.Context
}

// handleViewingAppointments lists the stored booking, best effort.
func (e *Engine) handleViewingAppointments(ctx context.Context, sess models.Session, text string) (string, models.State, models.SessionContext) {
	if sess.Context.AppointmentID != "" {
		apt, err := e.sched.GetAppointment(ctx, sess.Context.AppointmentID)
		if err != nil {
			slog.Error("Appointment lookup failed",
				"appointment_id", sess.Context.AppointmentID, "error", err)
			e.sink.Increment("conversation_processing_errors")
			return replyDegraded, models.StateViewingAppointments, sess.Context
		}
		if apt != nil {
			reply := fmt.Sprintf(`📋 *Seus Agendamentos*

📅 Data: %s
⏰ Horário: %s

Digite 'menu' para voltar ao início.`, apt.Date, apt.Time)
			return reply, models.StateStart, sess.Context
		}
	}

	return `📋 *Seus Agendamentos*

Nenhum agendamento encontrado.

Para agendar uma consulta, digite 'menu' e escolha a opção 1.`,
		models.StateStart, sess.Context
}

// handleWaitingList is a placeholder flow: any message returns to start.
func (e *Engine) handleWaitingList(ctx context.Context, sess models.Session, text string) (string, models.State, models.SessionContext) {
	return `📋 *Lista de Espera*

Funcionalidade em desenvolvimento.

Para agendar uma consulta, digite 'menu' e escolha a opção 1.`,
		models.StateStart, sess.Context
}

// handleHumanHandoff repeats the attendant contact and returns to start.
func (e *Engine) handleHumanHandoff(ctx context.Context, sess models.Session, text string) (string, models.State, models.SessionContext) {
	return e.attendantReply() + "\n\nDigite 'menu' para voltar ao início.",
		models.StateStart, sess.Context
}

// numberedList renders options as "1️⃣ - x" lines, one per option.
func numberedList(options []string) string {
	var b strings.Builder
	for i, opt := range options {
		fmt.Fprintf(&b, "%d️⃣ - %s\n", i+1, opt)
	}
	return b.String()
}
