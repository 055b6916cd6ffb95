// internal/models/buyer.go
package models

import (
	"time"
)

// Step is one verification gate of the qualification flow.
type Step string

const (
	StepAgree     Step = "agree"
	StepSubscribe Step = "subscribe"
	StepOrder     Step = "order"
	StepReceive   Step = "receive"
	StepFeedback  Step = "feedback"
	StepShk       Step = "shk"
)

// Steps lists the gates in the order a buyer passes them.
var Steps = []Step{StepAgree, StepSubscribe, StepOrder, StepReceive, StepFeedback, StepShk}

// Flag is the tri-state completion marker of a step. "no" is a transient
// retry marker, not a terminal failure; a flag never leaves "yes".
type Flag string

const (
	FlagUnset Flag = ""
	FlagYes   Flag = "yes"
	FlagNo    Flag = "no"
)

// RequisiteField names one payment-requisite slot.
type RequisiteField string

const (
	FieldCard   RequisiteField = "card"
	FieldPhone  RequisiteField = "phone"
	FieldAmount RequisiteField = "amount"
	FieldBank   RequisiteField = "bank"
)

// Requisites holds payment details exactly as extracted, no normalization.
type Requisites struct {
	Card   string `json:"card"`
	Phone  string `json:"phone"`
	Amount string `json:"amount"`
	Bank   string `json:"bank"`
}

// Buyer is the persisted per-user state of the qualification workflow.
type Buyer struct {
	UserID         int64         `json:"user_id"`
	Username       string        `json:"username"`
	Article        string        `json:"article"`
	FirstContactAt time.Time     `json:"first_contact_at"`
	LastContactAt  time.Time     `json:"last_contact_at"`
	Flags          map[Step]Flag `json:"flags"`
	Requisites     Requisites    `json:"requisites"`
	PayoutAccepted bool          `json:"payout_accepted"`
	Completed      bool          `json:"completed"`
}

// StepFlag returns the flag for step, treating a missing entry as unset.
func (b *Buyer) StepFlag(step Step) Flag {
	if b.Flags == nil {
		return FlagUnset
	}
	return b.Flags[step]
}

// AllStepsDone reports whether every gate has been confirmed.
func (b *Buyer) AllStepsDone() bool {
	for _, s := range Steps {
		if b.StepFlag(s) != FlagYes {
			return false
		}
	}
	return true
}
