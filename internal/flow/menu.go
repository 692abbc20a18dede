package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/WhatsFlow/internal/models"
)

// dispatchMenu handles a menu selection. Exactly one text reply is sent; location and
// contact payloads go out before it. Unrecognized input gets the default reply and
// leaves state untouched.
func (r *Router) dispatchMenu(ctx context.Context, log *slog.Logger, to, input string) error {
	option := models.ParseMenuOption(input)
	log.Debug("Router.dispatchMenu: option selected", "option", option)

	var reply string
	switch option {
	case models.OptionPrices:
		if err := r.state.StartFlow(ctx, to, models.FlowTypeAppointment, models.StateAppointmentName); err != nil {
			return err
		}
		reply = promptName
	case models.OptionToken:
		if err := r.state.StartFlow(ctx, to, models.FlowTypeAssistant, models.StateAssistantQuestion); err != nil {
			return err
		}
		reply = promptQuestion
	case models.OptionConsulting:
		r.sendLocation(ctx, log, to)
		reply = replyVisit
	case models.OptionEmergency:
		r.sendContact(ctx, log, to)
		reply = replyEmergency
	case models.OptionSatisfied, models.OptionAskAgain, models.OptionUnknown:
		reply = replyNotUnderstood
	default:
		log.Warn("Router.dispatchMenu: unhandled menu option", "option", option)
		reply = replyNotUnderstood
	}

	r.sendText(ctx, log, to, reply, "")
	return nil
}
