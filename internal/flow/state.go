// internal/flow/state.go
package flow

import (
	"context"

	"github.com/looplab/fsm"

	"cashback-bot/internal/models"
)

// State is a position in the qualification flow. The path is a single
// forward chain with self-loops on negative answers.
type State string

const (
	StateGreeting     State = "greeting"
	StateAgreement    State = "awaiting_agreement"
	StateSubscription State = "awaiting_subscription"
	StateOrder        State = "awaiting_order"
	StateReceipt      State = "awaiting_receipt"
	StateFeedback     State = "awaiting_feedback"
	StateLabelCut     State = "awaiting_label_cut"
	StateRequisites   State = "awaiting_requisites"
	StateComplete     State = "complete"
)

const eventAdvance = "advance"

// stateStep maps each waiting state to the gate it guards. Requisites and
// complete have no gate of their own.
var stateStep = map[State]models.Step{
	StateAgreement:    models.StepAgree,
	StateSubscription: models.StepSubscribe,
	StateOrder:        models.StepOrder,
	StateReceipt:      models.StepReceive,
	StateFeedback:     models.StepFeedback,
	StateLabelCut:     models.StepShk,
}

var stepState = map[models.Step]State{
	models.StepAgree:     StateAgreement,
	models.StepSubscribe: StateSubscription,
	models.StepOrder:     StateOrder,
	models.StepReceive:   StateReceipt,
	models.StepFeedback:  StateFeedback,
	models.StepShk:       StateLabelCut,
}

func flowFSM(current State) *fsm.FSM {
	return fsm.NewFSM(
		string(current),
		fsm.Events{
			{Name: eventAdvance, Src: []string{string(StateGreeting)}, Dst: string(StateAgreement)},
			{Name: eventAdvance, Src: []string{string(StateAgreement)}, Dst: string(StateSubscription)},
			{Name: eventAdvance, Src: []string{string(StateSubscription)}, Dst: string(StateOrder)},
			{Name: eventAdvance, Src: []string{string(StateOrder)}, Dst: string(StateReceipt)},
			{Name: eventAdvance, Src: []string{string(StateReceipt)}, Dst: string(StateFeedback)},
			{Name: eventAdvance, Src: []string{string(StateFeedback)}, Dst: string(StateLabelCut)},
			{Name: eventAdvance, Src: []string{string(StateLabelCut)}, Dst: string(StateRequisites)},
		},
		fsm.Callbacks{},
	)
}

// nextState returns the state after a confirmed answer in current.
// States without an outgoing advance edge stay put.
func nextState(ctx context.Context, current State) State {
	f := flowFSM(current)
	if err := f.Event(ctx, eventAdvance); err != nil {
		return current
	}
	return State(f.Current())
}

// stateFor derives the flow position from the persisted record: the first
// unconfirmed gate in order, then requisites, then complete once an operator
// has closed the payout.
func stateFor(b *models.Buyer) State {
	for _, step := range models.Steps {
		if b.StepFlag(step) != models.FlagYes {
			return stepState[step]
		}
	}
	if b.Completed {
		return StateComplete
	}
	return StateRequisites
}
