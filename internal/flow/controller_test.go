// internal/flow/controller_test.go
package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cashback-bot/internal/dedup"
	"cashback-bot/internal/models"
	"cashback-bot/pkg/logger"
)

type sentMessage struct {
	userID   int64
	text     string
	keyboard Keyboard
}

type fakeConv struct {
	mu        sync.Mutex
	sent      []sentMessage
	member    bool
	memberErr error
}

func (f *fakeConv) SendText(_ context.Context, userID int64, text string, keyboard Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{userID: userID, text: text, keyboard: keyboard})
	return nil
}

func (f *fakeConv) CheckMembership(_ context.Context, _ string, _ int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.member, f.memberErr
}

func (f *fakeConv) last(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func (f *fakeConv) countContaining(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if strings.Contains(m.text, substr) {
			n++
		}
	}
	return n
}

type fakeGen struct {
	mu      sync.Mutex
	reply   string
	opinion string
	err     error
	calls   []string
}

func (f *fakeGen) GenerateReply(_ context.Context, userText, instruction string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, instruction)
	return f.reply, f.err
}

func (f *fakeGen) InterpretRequisites(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opinion, f.err
}

type fakeLedger struct {
	mu     sync.Mutex
	buyers map[int64]*models.Buyer
	fail   bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{buyers: make(map[int64]*models.Buyer)}
}

func (f *fakeLedger) CreateBuyer(_ context.Context, userID int64, username, article string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("ledger down")
	}
	if _, ok := f.buyers[userID]; ok {
		return nil
	}
	f.buyers[userID] = &models.Buyer{
		UserID:   userID,
		Username: username,
		Article:  article,
		Flags:    make(map[models.Step]models.Flag),
	}
	return nil
}

func (f *fakeLedger) Buyer(_ context.Context, userID int64) (*models.Buyer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("ledger down")
	}
	b, ok := f.buyers[userID]
	if !ok {
		return nil, fmt.Errorf("buyer %d not found", userID)
	}
	copied := *b
	copied.Flags = make(map[models.Step]models.Flag, len(b.Flags))
	for k, v := range b.Flags {
		copied.Flags[k] = v
	}
	return &copied, nil
}

func (f *fakeLedger) StepFlags(ctx context.Context, userID int64) (map[models.Step]models.Flag, error) {
	b, err := f.Buyer(ctx, userID)
	if err != nil {
		return nil, err
	}
	return b.Flags, nil
}

func (f *fakeLedger) SetStepFlag(_ context.Context, userID int64, step models.Step, flag models.Flag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("ledger down")
	}
	b, ok := f.buyers[userID]
	if !ok {
		return fmt.Errorf("buyer %d not found", userID)
	}
	// Forward-only, like the real store.
	if b.Flags[step] == models.FlagYes && flag != models.FlagYes {
		return nil
	}
	b.Flags[step] = flag
	return nil
}

func (f *fakeLedger) TouchLastContact(_ context.Context, _ int64) error {
	return nil
}

func (f *fakeLedger) SetRequisiteField(_ context.Context, userID int64, field models.RequisiteField, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("ledger down")
	}
	b, ok := f.buyers[userID]
	if !ok {
		return fmt.Errorf("buyer %d not found", userID)
	}
	switch field {
	case models.FieldCard:
		b.Requisites.Card = value
	case models.FieldPhone:
		b.Requisites.Phone = value
	case models.FieldAmount:
		b.Requisites.Amount = value
	case models.FieldBank:
		b.Requisites.Bank = value
	}
	return nil
}

func (f *fakeLedger) RemainingSteps(ctx context.Context, userID int64) ([]models.Step, error) {
	flags, err := f.StepFlags(ctx, userID)
	if err != nil {
		return nil, err
	}
	var remaining []models.Step
	for _, step := range models.Steps {
		if flags[step] != models.FlagYes {
			remaining = append(remaining, step)
		}
	}
	return remaining, nil
}

func (f *fakeLedger) SetPayoutAccepted(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("ledger down")
	}
	b, ok := f.buyers[userID]
	if !ok {
		return fmt.Errorf("buyer %d not found", userID)
	}
	b.PayoutAccepted = true
	return nil
}

func (f *fakeLedger) get(userID int64) *models.Buyer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buyers[userID]
}

type testEnv struct {
	ctrl   *Controller
	ledger *fakeLedger
	conv   *fakeConv
	gen    *fakeGen
	guard  *dedup.Memory
}

func newTestEnv() *testEnv {
	ld := newFakeLedger()
	conv := &fakeConv{member: true}
	gen := &fakeGen{reply: "сгенерированный ответ"}
	guard := dedup.NewMemory()
	ctrl := NewController(ld, guard, conv, gen, &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}, Options{
		Article: "WB-12345",
		Channel: "@cashback_channel",
	})
	return &testEnv{ctrl: ctrl, ledger: ld, conv: conv, gen: gen, guard: guard}
}

// seedBuyer registers a known user with the given steps already confirmed.
func (e *testEnv) seedBuyer(t *testing.T, userID int64, done ...models.Step) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.ledger.CreateBuyer(ctx, userID, "buyer", "WB-12345"))
	_, err := e.guard.MarkKnown(ctx, userID)
	require.NoError(t, err)
	for _, step := range done {
		require.NoError(t, e.ledger.SetStepFlag(ctx, userID, step, models.FlagYes))
	}
}

func TestFirstContactGreetsExactlyOnce(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.ctrl.HandleText(ctx, 42, "buyer", "Здравствуйте")
		}()
	}
	wg.Wait()

	require.NotNil(t, env.ledger.get(42))
	assert.Equal(t, "WB-12345", env.ledger.get(42).Article)
	assert.Equal(t, 1, env.conv.countContaining("Ваш артикул"), "instruction must be sent once")
}

func TestButtonYesAdvancesToNextStep(t *testing.T) {
	env := newTestEnv()
	env.seedBuyer(t, 1)

	env.ctrl.HandleButton(context.Background(), 1, "agree_yes")

	assert.Equal(t, models.FlagYes, env.ledger.get(1).StepFlag(models.StepAgree))
	last := env.conv.last(t)
	assert.Contains(t, last.text, "Подпишитесь")
	assert.NotNil(t, last.keyboard)
}

func TestButtonNoSelfLoops(t *testing.T) {
	env := newTestEnv()
	env.seedBuyer(t, 1, models.StepAgree, models.StepSubscribe)
	ctx := context.Background()

	env.ctrl.HandleButton(ctx, 1, "order_no")

	assert.Equal(t, models.FlagNo, env.ledger.get(1).StepFlag(models.StepOrder))
	assert.Contains(t, env.conv.last(t).text, "подождём")
	assert.NotNil(t, env.conv.last(t).keyboard)

	// Unlimited retries: "no" then "yes" still moves forward.
	env.ctrl.HandleButton(ctx, 1, "order_yes")
	assert.Equal(t, models.FlagYes, env.ledger.get(1).StepFlag(models.StepOrder))
}

func TestConfirmedStepIsNeverReverted(t *testing.T) {
	env := newTestEnv()
	env.seedBuyer(t, 1, models.StepAgree)

	// Stale "no" for a step already confirmed.
	env.ctrl.HandleButton(context.Background(), 1, "agree_no")

	assert.Equal(t, models.FlagYes, env.ledger.get(1).StepFlag(models.StepAgree))
	// The user is brought back to the open question instead.
	assert.Contains(t, env.conv.last(t).text, "Подпишитесь")
}

func TestSubscriptionButtonIsVerified(t *testing.T) {
	env := newTestEnv()
	env.seedBuyer(t, 1, models.StepAgree)
	env.conv.member = false
	ctx := context.Background()

	env.ctrl.HandleButton(ctx, 1, "subscribe_yes")

	b := env.ledger.get(1)
	assert.Equal(t, models.FlagNo, b.StepFlag(models.StepSubscribe), "membership check overrides the button")
	assert.Contains(t, env.conv.last(t).text, "не подписаны")

	env.conv.member = true
	env.ctrl.HandleButton(ctx, 1, "subscribe_yes")
	assert.Equal(t, models.FlagYes, env.ledger.get(1).StepFlag(models.StepSubscribe))
}

func TestMembershipCheckFailureKeepsState(t *testing.T) {
	env := newTestEnv()
	env.seedBuyer(t, 1, models.StepAgree)
	env.conv.memberErr = errors.New("telegram: not enough rights")

	env.ctrl.HandleButton(context.Background(), 1, "subscribe_yes")

	assert.Equal(t, models.FlagUnset, env.ledger.get(1).StepFlag(models.StepSubscribe))
	assert.Equal(t, msgMembershipCheckFailed, env.conv.last(t).text)
}

func TestFreeTextDoesNotAdvanceButtonStep(t *testing.T) {
	env := newTestEnv()
	env.seedBuyer(t, 1, models.StepAgree, models.StepSubscribe)

	env.ctrl.HandleText(context.Background(), 1, "buyer", "завтра закажу наверное")

	b := env.ledger.get(1)
	assert.Equal(t, models.FlagUnset, b.StepFlag(models.StepOrder))
	last := env.conv.last(t)
	assert.Equal(t, msgUnrecognized, last.text)
	assert.NotNil(t, last.keyboard, "the step keyboard is re-rendered")
}

func TestQuestionRoutesToGenerator(t *testing.T) {
	env := newTestEnv()
	env.seedBuyer(t, 1, models.StepAgree, models.StepSubscribe)

	env.ctrl.HandleText(context.Background(), 1, "buyer", "Когда будет выплата?")

	require.Len(t, env.gen.calls, 1)
	assert.Equal(t, "сгенерированный ответ", env.conv.last(t).text)
	assert.Equal(t, models.FlagUnset, env.ledger.get(1).StepFlag(models.StepOrder))
}

func TestGeneratorFailureIsRecovered(t *testing.T) {
	env := newTestEnv()
	env.seedBuyer(t, 1, models.StepAgree, models.StepSubscribe)
	env.gen.err = errors.New("api unavailable")

	env.ctrl.HandleText(context.Background(), 1, "buyer", "Когда будет выплата?")

	assert.Equal(t, msgGenericError, env.conv.last(t).text)
	assert.Equal(t, models.FlagUnset, env.ledger.get(1).StepFlag(models.StepOrder))
}

func TestAckWordGetsGlyph(t *testing.T) {
	env := newTestEnv()
	env.seedBuyer(t, 1, models.StepAgree)

	env.ctrl.HandleText(context.Background(), 1, "buyer", "спасибо")

	assert.Equal(t, msgAckGlyph, env.conv.last(t).text)
}

func TestPayoutTagRequiresAllSteps(t *testing.T) {
	env := newTestEnv()
	env.seedBuyer(t, 1, models.StepAgree, models.StepSubscribe, models.StepOrder,
		models.StepReceive, models.StepFeedback)
	ctx := context.Background()

	// Well-formed tag, but the shk step is still open.
	env.ctrl.HandleText(ctx, 1, "buyer", "#выплата_5_июня")

	assert.False(t, env.ledger.get(1).PayoutAccepted)
	assert.Contains(t, env.conv.last(t).text, "разрезанный ШК")

	env.ctrl.HandleButton(ctx, 1, "shk_yes")
	env.ctrl.HandleText(ctx, 1, "buyer", "#выплата_5_июня")

	assert.True(t, env.ledger.get(1).PayoutAccepted)
	assert.Equal(t, msgTagAccepted, env.conv.last(t).text)
}

func TestMalformedPayoutTagGetsCorrection(t *testing.T) {
	env := newTestEnv()
	env.seedBuyer(t, 1, models.StepAgree)

	env.ctrl.HandleText(context.Background(), 1, "buyer", "#выплата 5 июня")

	assert.Contains(t, env.conv.last(t).text, "Неверный формат")
	assert.False(t, env.ledger.get(1).PayoutAccepted)
}

func TestRequisitesAreMergedIncrementally(t *testing.T) {
	env := newTestEnv()
	env.seedBuyer(t, 1, models.Steps...)
	ctx := context.Background()

	env.ctrl.HandleText(ctx, 1, "buyer", "карта 4276 1234 5678 9012")
	b := env.ledger.get(1)
	assert.Equal(t, "4276 1234 5678 9012", b.Requisites.Card)
	assert.Empty(t, b.Requisites.Phone)

	env.ctrl.HandleText(ctx, 1, "buyer", "телефон +7 912 345 67 89, банк Сбербанк")
	b = env.ledger.get(1)
	assert.Equal(t, "4276 1234 5678 9012", b.Requisites.Card, "earlier capture survives")
	assert.Equal(t, "+7 912 345 67 89", b.Requisites.Phone)
	assert.Equal(t, "Сбербанк", b.Requisites.Bank)

	// A message with nothing extractable acknowledges receipt and changes
	// no fields.
	env.ctrl.HandleText(ctx, 1, "buyer", "вот мои данные")
	b = env.ledger.get(1)
	assert.Equal(t, "4276 1234 5678 9012", b.Requisites.Card)
	assert.Equal(t, msgRequisitesNone, env.conv.last(t).text)
}

func TestRequisitesAdvisoryOpinionIsDisplayed(t *testing.T) {
	env := newTestEnv()
	env.seedBuyer(t, 1, models.Steps...)
	env.gen.opinion = "вижу карту и сумму"

	env.ctrl.HandleText(context.Background(), 1, "buyer", "4276 1234 5678 9012 и 1500 руб")

	last := env.conv.last(t)
	assert.Contains(t, last.text, "Как я понял: вижу карту и сумму")
	// The extracted fields stay authoritative regardless of the opinion.
	assert.Equal(t, "4276 1234 5678 9012", env.ledger.get(1).Requisites.Card)
	assert.Equal(t, "1500 руб", env.ledger.get(1).Requisites.Amount)
}

func TestPhotoDoesNotAdvanceState(t *testing.T) {
	env := newTestEnv()
	env.seedBuyer(t, 1, models.StepAgree, models.StepSubscribe, models.StepOrder, models.StepReceive)

	env.ctrl.HandlePhoto(context.Background(), 1, "buyer")

	assert.Equal(t, models.FlagUnset, env.ledger.get(1).StepFlag(models.StepFeedback))
	last := env.conv.last(t)
	assert.Equal(t, msgPhotoReceived, last.text)
	assert.NotNil(t, last.keyboard)
}

func TestCompletedBuyerDelegatesToGenerator(t *testing.T) {
	env := newTestEnv()
	env.seedBuyer(t, 1, models.Steps...)
	env.ledger.get(1).Completed = true

	env.ctrl.HandleText(context.Background(), 1, "buyer", "привет")

	require.Len(t, env.gen.calls, 1)
	assert.Equal(t, instructionComplete, env.gen.calls[0])
	assert.Equal(t, "сгенерированный ответ", env.conv.last(t).text)
}

func TestLedgerFailureLeavesStateRetryable(t *testing.T) {
	env := newTestEnv()
	env.seedBuyer(t, 1, models.StepAgree)
	env.ledger.fail = true

	env.ctrl.HandleButton(context.Background(), 1, "subscribe_yes")
	assert.Equal(t, msgGenericError, env.conv.last(t).text)

	// Same input succeeds once the ledger is back.
	env.ledger.fail = false
	env.ctrl.HandleButton(context.Background(), 1, "subscribe_yes")
	assert.Equal(t, models.FlagYes, env.ledger.get(1).StepFlag(models.StepSubscribe))
}

func TestStateForDerivation(t *testing.T) {
	b := &models.Buyer{Flags: make(map[models.Step]models.Flag)}
	assert.Equal(t, StateAgreement, stateFor(b))

	b.Flags[models.StepAgree] = models.FlagYes
	assert.Equal(t, StateSubscription, stateFor(b))

	b.Flags[models.StepSubscribe] = models.FlagNo
	assert.Equal(t, StateSubscription, stateFor(b), "a no answer keeps the state")

	for _, s := range models.Steps {
		b.Flags[s] = models.FlagYes
	}
	assert.Equal(t, StateRequisites, stateFor(b))

	b.Completed = true
	assert.Equal(t, StateComplete, stateFor(b))
}

func TestNextStateFollowsForwardPath(t *testing.T) {
	ctx := context.Background()
	order := []State{
		StateGreeting, StateAgreement, StateSubscription, StateOrder,
		StateReceipt, StateFeedback, StateLabelCut, StateRequisites,
	}
	for i := 0; i < len(order)-1; i++ {
		assert.Equal(t, order[i+1], nextState(ctx, order[i]))
	}
	// No advance edge out of requisites: the transition to complete is an
	// external decision.
	assert.Equal(t, StateRequisites, nextState(ctx, StateRequisites))
}
