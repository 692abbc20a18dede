package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/WhatsFlow/internal/models"
)

// appointmentStep describes one question of the appointment flow: the answer it
// stores, the step that follows and the prompt for that step.
type appointmentStep struct {
	key    models.DataKey
	next   models.StateType
	prompt string
}

var appointmentSteps = map[models.StateType]appointmentStep{
	models.StateAppointmentName:    {key: models.DataKeyName, next: models.StateAppointmentPetName, prompt: promptPetName},
	models.StateAppointmentPetName: {key: models.DataKeyPetName, next: models.StateAppointmentPetType, prompt: promptPetType},
	models.StateAppointmentPetType: {key: models.DataKeyPetType, next: models.StateAppointmentReason, prompt: promptReason},
}

// handleAppointment stores the message as the answer to the current step. The reason
// step completes the appointment: the record is appended in the background, the state
// is removed and the summary is sent.
func (r *Router) handleAppointment(ctx context.Context, log *slog.Logger, evt models.InboundEvent) error {
	st, err := r.state.GetFlowState(ctx, evt.From, models.FlowTypeAppointment)
	if err != nil {
		return fmt.Errorf("failed to load appointment state: %w", err)
	}
	if st == nil {
		return r.dispatchMenu(ctx, log, evt.From, menuInput(evt))
	}

	if st.CurrentState == models.StateAppointmentReason {
		return r.completeAppointment(ctx, log, st, evt.Body)
	}

	step, ok := appointmentSteps[st.CurrentState]
	if !ok {
		err := fmt.Errorf("%w: appointment step %q", ErrUnknownState, st.CurrentState)
		if rerr := r.state.ResetState(ctx, evt.From, models.FlowTypeAppointment); rerr != nil {
			log.Error("Router.handleAppointment: failed to reset appointment", "error", rerr)
			return errors.Join(err, fmt.Errorf("failed to reset appointment: %w", rerr))
		}
		return err
	}
	if err := r.state.Advance(ctx, evt.From, models.FlowTypeAppointment, step.key, evt.Body, step.next); err != nil {
		return fmt.Errorf("failed to advance appointment: %w", err)
	}
	r.sendText(ctx, log, evt.From, step.prompt, "")
	return nil
}

func (r *Router) completeAppointment(ctx context.Context, log *slog.Logger, st *models.FlowState, reason string) error {
	data := make(map[models.DataKey]string, len(st.StateData)+1)
	for k, v := range st.StateData {
		data[k] = v
	}
	data[models.DataKeyReason] = reason

	record := models.NewAppointmentRecord(st.ParticipantID, data, r.opts.Clock())
	r.appendRecord(ctx, record)

	if err := r.state.ResetState(ctx, st.ParticipantID, models.FlowTypeAppointment); err != nil {
		return fmt.Errorf("failed to clear appointment: %w", err)
	}
	log.Info("Router.completeAppointment: appointment completed", "petType", record.PetType)
	r.sendText(ctx, log, st.ParticipantID, appointmentSummary(data), "")
	return nil
}

// appendRecord hands the record to the appender without waiting for it. The append
// outlives the turn's context and is tracked for Wait.
func (r *Router) appendRecord(ctx context.Context, record models.AppointmentRecord) {
	values := record.Values()
	if r.appender == nil {
		slog.Warn("Router.appendRecord: no record appender configured, dropping record", "sender", record.SenderID)
		r.opts.Metrics.RecordAppend(ErrNoAppender)
		return
	}

	bg := context.WithoutCancel(ctx)
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		actx, cancel := context.WithTimeout(bg, r.opts.AppendTimeout)
		defer cancel()

		start := time.Now()
		err := r.appender.AppendRecord(actx, values)
		r.opts.Metrics.RecordAppend(err)
		if err != nil {
			slog.Error("Router.appendRecord: failed to append appointment record", "sender", record.SenderID, "error", err)
			return
		}
		slog.Debug("Router.appendRecord: appointment record appended", "sender", record.SenderID, "duration", time.Since(start))
	}()
}
