// internal/flow/controller.go
package flow

import (
	"context"

	"cashback-bot/internal/metrics"
	"cashback-bot/internal/models"
	"cashback-bot/pkg/logger"
)

// Controller is the qualification state machine. It is stateless between
// invocations: the current position is recomputed from the ledger on every
// message, so overlapping deliveries degrade to last-write-wins per field
// while flags only move forward.
type Controller struct {
	ledger     Ledger
	guard      Guard
	conv       Conversation
	gen        Generator
	classifier *Classifier
	log        *logger.Logger

	article string
	channel string
	marker  string
}

// Options configures campaign-specific behavior.
type Options struct {
	Article      string
	Channel      string
	PayoutMarker string
	AckWords     []string
	LongTextMin  int
}

func NewController(ledger Ledger, guard Guard, conv Conversation, gen Generator, log *logger.Logger, opts Options) *Controller {
	if opts.PayoutMarker == "" {
		opts.PayoutMarker = DefaultPayoutMarker
	}
	if opts.LongTextMin <= 0 {
		opts.LongTextMin = DefaultLongTextMin
	}
	if len(opts.AckWords) == 0 {
		opts.AckWords = DefaultAckWords
	}
	return &Controller{
		ledger:     ledger,
		guard:      guard,
		conv:       conv,
		gen:        gen,
		classifier: NewClassifier(opts.PayoutMarker, opts.AckWords, opts.LongTextMin),
		log:        log,
		article:    opts.Article,
		channel:    opts.Channel,
		marker:     opts.PayoutMarker,
	}
}

// HandleText processes a free-text message from a user.
func (c *Controller) HandleText(ctx context.Context, userID int64, username, text string) {
	known, err := c.guard.IsKnown(ctx, userID)
	if err != nil {
		c.reportError(ctx, userID, "dedup", err)
		return
	}
	if !known {
		c.greet(ctx, userID, username)
		return
	}

	if err := c.ledger.TouchLastContact(ctx, userID); err != nil {
		c.log.Errorw("failed to touch last contact", "user_id", userID, "error", err)
	}

	buyer, err := c.ledger.Buyer(ctx, userID)
	if err != nil {
		c.reportError(ctx, userID, "ledger", err)
		return
	}

	switch state := stateFor(buyer); state {
	case StateComplete:
		c.generateAndSend(ctx, userID, text, instructionComplete)
	case StateRequisites:
		c.handleRequisitesText(ctx, buyer, text)
	default:
		c.routeIdleText(ctx, buyer, state, text)
	}
}

// HandleButton processes a structured button answer.
func (c *Controller) HandleButton(ctx context.Context, userID int64, payload string) {
	ans, ok := ParseButton(payload)
	if !ok {
		c.log.Warnw("unknown button payload", "user_id", userID, "payload", payload)
		return
	}

	if err := c.ledger.TouchLastContact(ctx, userID); err != nil {
		c.log.Errorw("failed to touch last contact", "user_id", userID, "error", err)
	}

	buyer, err := c.ledger.Buyer(ctx, userID)
	if err != nil {
		c.reportError(ctx, userID, "ledger", err)
		return
	}

	state := stateFor(buyer)
	expected, gated := stateStep[state]
	if !gated || ans.Step != expected {
		// Stale or repeated button. A confirmed step is never reverted;
		// just bring the user back to the open question.
		c.send(ctx, userID, c.prompt(state), stepKeyboard(state))
		return
	}

	if !ans.Yes {
		if err := c.ledger.SetStepFlag(ctx, userID, ans.Step, models.FlagNo); err != nil {
			c.reportError(ctx, userID, "ledger", err)
			return
		}
		c.send(ctx, userID, c.retryText(state), stepKeyboard(state))
		return
	}

	// The subscription answer is verified, not self-reported: the external
	// membership check overrides the button.
	if ans.Step == models.StepSubscribe {
		member, err := c.conv.CheckMembership(ctx, c.channel, userID)
		if err != nil {
			metrics.ExternalCallErrors.WithLabelValues("membership").Inc()
			c.log.Errorw("membership check failed", "user_id", userID, "error", err)
			c.send(ctx, userID, msgMembershipCheckFailed, stepKeyboard(state))
			return
		}
		if !member {
			if err := c.ledger.SetStepFlag(ctx, userID, models.StepSubscribe, models.FlagNo); err != nil {
				c.reportError(ctx, userID, "ledger", err)
				return
			}
			c.send(ctx, userID, c.notSubscribedText(), recheckKeyboard())
			return
		}
	}

	if err := c.ledger.SetStepFlag(ctx, userID, ans.Step, models.FlagYes); err != nil {
		c.reportError(ctx, userID, "ledger", err)
		return
	}
	metrics.StepsConfirmed.WithLabelValues(string(ans.Step)).Inc()

	next := nextState(ctx, state)
	c.send(ctx, userID, c.prompt(next), stepKeyboard(next))
}

// HandlePhoto processes a photo event. Photos are proof material on the
// review and label steps but never advance state on their own.
func (c *Controller) HandlePhoto(ctx context.Context, userID int64, username string) {
	known, err := c.guard.IsKnown(ctx, userID)
	if err != nil {
		c.reportError(ctx, userID, "dedup", err)
		return
	}
	if !known {
		c.greet(ctx, userID, username)
		return
	}

	if err := c.ledger.TouchLastContact(ctx, userID); err != nil {
		c.log.Errorw("failed to touch last contact", "user_id", userID, "error", err)
	}

	buyer, err := c.ledger.Buyer(ctx, userID)
	if err != nil {
		c.reportError(ctx, userID, "ledger", err)
		return
	}

	switch state := stateFor(buyer); state {
	case StateFeedback, StateLabelCut:
		c.send(ctx, userID, msgPhotoReceived, stepKeyboard(state))
	default:
		c.send(ctx, userID, c.prompt(state), stepKeyboard(state))
	}
}

// greet runs the once-per-user first-contact transition. The record is
// created before the guard insert so a guard hit always implies an existing
// record; the guard's first-win answer decides who actually greets when the
// same first contact is delivered twice.
func (c *Controller) greet(ctx context.Context, userID int64, username string) {
	if err := c.ledger.CreateBuyer(ctx, userID, username, c.article); err != nil {
		c.reportError(ctx, userID, "ledger", err)
		return
	}
	newly, err := c.guard.MarkKnown(ctx, userID)
	if err != nil {
		c.reportError(ctx, userID, "dedup", err)
		return
	}
	if !newly {
		c.log.Infow("duplicate first contact, greeting suppressed", "user_id", userID)
		return
	}
	metrics.GreetingsSent.Inc()
	c.send(ctx, userID, c.instructionText(), nil)
	c.send(ctx, userID, c.prompt(StateAgreement), stepKeyboard(StateAgreement))
}

// routeIdleText handles free text arriving in a button-gated state. It never
// moves the flow forward.
func (c *Controller) routeIdleText(ctx context.Context, buyer *models.Buyer, state State, text string) {
	switch c.classifier.Classify(text) {
	case IntentQuestion, IntentSubstantive:
		c.generateAndSend(ctx, buyer.UserID, text, instructionSupport)
	case IntentAck:
		c.send(ctx, buyer.UserID, msgAckGlyph, nil)
	case IntentPayoutTag:
		c.acceptPayoutTag(ctx, buyer.UserID)
	case IntentPayoutTagMalformed:
		c.send(ctx, buyer.UserID, c.tagFormatText(), nil)
	default:
		c.send(ctx, buyer.UserID, msgUnrecognized, stepKeyboard(state))
	}
}

// handleRequisitesText runs the extractor over every free-text message in
// the requisites state. Found fields are merged non-destructively; when
// nothing is found the message falls back to the idle-text routing so
// questions still get answered.
func (c *Controller) handleRequisitesText(ctx context.Context, buyer *models.Buyer, text string) {
	// Tag messages are control traffic, not requisites: the day digit of a
	// well-formed tag must not be read as an amount.
	switch c.classifier.Classify(text) {
	case IntentPayoutTag:
		c.acceptPayoutTag(ctx, buyer.UserID)
		return
	case IntentPayoutTagMalformed:
		c.send(ctx, buyer.UserID, c.tagFormatText(), nil)
		return
	}

	ex := ExtractRequisites(text)
	if ex.Empty() {
		switch c.classifier.Classify(text) {
		case IntentQuestion, IntentSubstantive:
			c.generateAndSend(ctx, buyer.UserID, text, instructionSupport)
		case IntentAck:
			c.send(ctx, buyer.UserID, msgAckGlyph, nil)
		default:
			c.send(ctx, buyer.UserID, msgRequisitesNone, nil)
		}
		return
	}

	for field, value := range ex.fields() {
		if value == "" {
			continue
		}
		if err := c.ledger.SetRequisiteField(ctx, buyer.UserID, field, value); err != nil {
			c.reportError(ctx, buyer.UserID, "ledger", err)
			return
		}
		metrics.RequisiteFieldsExtracted.WithLabelValues(string(field)).Inc()
	}

	reply := msgRequisitesSaved(ex)

	// Advisory second reading only; it is shown, never trusted.
	if opinion, err := c.gen.InterpretRequisites(ctx, text); err != nil {
		metrics.ExternalCallErrors.WithLabelValues("generator").Inc()
		c.log.Warnw("requisites cross-check failed", "user_id", buyer.UserID, "error", err)
	} else if opinion != "" {
		reply += "\n\nКак я понял: " + opinion
	}

	c.send(ctx, buyer.UserID, reply, nil)
}

// acceptPayoutTag accepts a well-formed payout tag only once every gate is
// confirmed; earlier attempts get the list of unfinished steps.
func (c *Controller) acceptPayoutTag(ctx context.Context, userID int64) {
	remaining, err := c.ledger.RemainingSteps(ctx, userID)
	if err != nil {
		c.reportError(ctx, userID, "ledger", err)
		return
	}
	if len(remaining) > 0 {
		c.send(ctx, userID, msgStepsRemaining(remaining), nil)
		return
	}
	if err := c.ledger.SetPayoutAccepted(ctx, userID); err != nil {
		c.reportError(ctx, userID, "ledger", err)
		return
	}
	metrics.PayoutTagsAccepted.Inc()
	c.send(ctx, userID, msgTagAccepted, nil)
}

func (c *Controller) generateAndSend(ctx context.Context, userID int64, text, instruction string) {
	reply, err := c.gen.GenerateReply(ctx, text, instruction)
	if err != nil {
		c.reportError(ctx, userID, "generator", err)
		return
	}
	c.send(ctx, userID, reply, nil)
}

// reportError converts an external-call failure into a user-visible message
// and a no-op on state, so the same input can be retried.
func (c *Controller) reportError(ctx context.Context, userID int64, collaborator string, err error) {
	metrics.ExternalCallErrors.WithLabelValues(collaborator).Inc()
	c.log.Errorw("external call failed", "user_id", userID, "collaborator", collaborator, "error", err)
	c.send(ctx, userID, msgGenericError, nil)
}

func (c *Controller) send(ctx context.Context, userID int64, text string, keyboard Keyboard) {
	if err := c.conv.SendText(ctx, userID, text, keyboard); err != nil {
		metrics.ExternalCallErrors.WithLabelValues("conversation").Inc()
		c.log.Errorw("failed to send message", "user_id", userID, "error", err)
	}
}
