package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BTreeMap/WhatsFlow/internal/models"
)

// handleAssistant forwards the question to the answerer. The state is removed once an
// answer arrives; a failed call counts against the attempt budget and leaves the state
// in place until the budget is spent. Failures send nothing and are returned.
func (r *Router) handleAssistant(ctx context.Context, log *slog.Logger, evt models.InboundEvent) error {
	st, err := r.state.GetFlowState(ctx, evt.From, models.FlowTypeAssistant)
	if err != nil {
		return fmt.Errorf("failed to load assistant state: %w", err)
	}
	if st == nil {
		return r.dispatchMenu(ctx, log, evt.From, menuInput(evt))
	}
	if st.CurrentState != models.StateAssistantQuestion {
		err := fmt.Errorf("%w: assistant step %q", ErrUnknownState, st.CurrentState)
		if rerr := r.state.ResetState(ctx, evt.From, models.FlowTypeAssistant); rerr != nil {
			log.Error("Router.handleAssistant: failed to reset assistant", "error", rerr)
			return errors.Join(err, fmt.Errorf("failed to reset assistant: %w", rerr))
		}
		return err
	}

	answer, err := r.answer(ctx, evt.Body)
	if err != nil {
		if rerr := r.recordFailedAttempt(ctx, log, st); rerr != nil {
			log.Error("Router.handleAssistant: failed to update attempt counter", "error", rerr)
		}
		return fmt.Errorf("assistant answer failed: %w", err)
	}

	if err := r.state.ResetState(ctx, evt.From, models.FlowTypeAssistant); err != nil {
		return fmt.Errorf("failed to clear assistant state: %w", err)
	}
	r.sendText(ctx, log, evt.From, answer, "")
	r.sendButtons(ctx, log, evt.From, followUpMenuBody, followUpButtons)
	return nil
}

func (r *Router) answer(ctx context.Context, question string) (string, error) {
	if r.answerer == nil {
		return "", ErrNoAnswerer
	}
	start := time.Now()
	answer, err := r.answerer.Answer(ctx, question)
	r.opts.Metrics.RecordAnswer(err, time.Since(start).Seconds())
	return answer, err
}

func (r *Router) recordFailedAttempt(ctx context.Context, log *slog.Logger, st *models.FlowState) error {
	attempts, _ := strconv.Atoi(st.StateData[models.DataKeyAnswerAttempts])
	attempts++
	if attempts >= r.opts.AnswerAttempts {
		log.Info("Router.handleAssistant: answer attempts exhausted, dropping assistant flow", "attempts", attempts)
		return r.state.ResetState(ctx, st.ParticipantID, models.FlowTypeAssistant)
	}
	log.Info("Router.handleAssistant: answer failed, keeping question pending", "attempts", attempts, "budget", r.opts.AnswerAttempts)
	return r.state.SetStateData(ctx, st.ParticipantID, models.FlowTypeAssistant, models.DataKeyAnswerAttempts, strconv.Itoa(attempts))
}
