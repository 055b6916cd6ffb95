// internal/flow/ports.go
package flow

import (
	"context"

	"cashback-bot/internal/models"
)

// Button is one pressable control; Data is the callback payload that
// ParseButton understands.
type Button struct {
	Label string
	Data  string
}

// Keyboard is a platform-neutral inline keyboard, rows of buttons.
type Keyboard [][]Button

// Conversation is the chat-transport boundary. The controller never talks
// to the platform directly.
type Conversation interface {
	SendText(ctx context.Context, userID int64, text string, keyboard Keyboard) error
	CheckMembership(ctx context.Context, channel string, userID int64) (bool, error)
}

// Generator produces conversational replies and the advisory second reading
// of requisites text. Its output never overrides extracted fields.
type Generator interface {
	GenerateReply(ctx context.Context, userText, instruction string) (string, error)
	InterpretRequisites(ctx context.Context, text string) (string, error)
}

// Guard ensures at-most-once greeting per user id. MarkKnown is atomic
// first-win: it reports whether the id was newly inserted.
type Guard interface {
	IsKnown(ctx context.Context, userID int64) (bool, error)
	MarkKnown(ctx context.Context, userID int64) (newly bool, err error)
}

// Ledger is the external store of Buyer Records. All operations are
// synchronous and at-least-once idempotent; per-field writes are atomic and
// step flags only move forward (the store enforces that too).
type Ledger interface {
	CreateBuyer(ctx context.Context, userID int64, username, article string) error
	Buyer(ctx context.Context, userID int64) (*models.Buyer, error)
	StepFlags(ctx context.Context, userID int64) (map[models.Step]models.Flag, error)
	SetStepFlag(ctx context.Context, userID int64, step models.Step, flag models.Flag) error
	TouchLastContact(ctx context.Context, userID int64) error
	SetRequisiteField(ctx context.Context, userID int64, field models.RequisiteField, value string) error
	RemainingSteps(ctx context.Context, userID int64) ([]models.Step, error)
	SetPayoutAccepted(ctx context.Context, userID int64) error
}
