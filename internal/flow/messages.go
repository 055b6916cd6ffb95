// internal/flow/messages.go
package flow

import (
	"fmt"
	"strings"

	"cashback-bot/internal/models"
)

// Defaults for the classifier knobs; overridable through Options.
const (
	DefaultPayoutMarker = "выплата"
	DefaultLongTextMin  = 40
)

var DefaultAckWords = []string{
	"ок", "окей", "ok", "хорошо", "спасибо", "благодарю", "понятно", "ясно",
	"ага", "угу", "принято", "принял", "супер", "отлично", "👍",
}

const (
	msgAckGlyph     = "👍"
	msgGenericError = "Извините, произошла ошибка. Пожалуйста, попробуйте ещё раз."

	msgMembershipCheckFailed = "Не удалось проверить подписку. Убедитесь, что бот добавлен в канал с правами администратора, и нажмите кнопку ещё раз."

	msgUnrecognized = "Я вас не понял. Опишите, пожалуйста, вопрос одним подробным сообщением или ответьте кнопками ниже."

	msgPhotoReceived = "Фото получено! Подтвердите шаг кнопкой ниже."

	msgRequisitesPrompt = "Отправьте реквизиты для выплаты одним сообщением: номер карты, номер телефона, сумму и банк."

	msgRequisitesNone = "Принято! Пока не удалось распознать реквизиты — пришлите, пожалуйста, номер карты, телефон, сумму и банк одним сообщением."

	msgTagAccepted = "Заявка на выплату принята! ✅ Ожидайте перевод по указанным реквизитам."

	msgComplete = "Все шаги выполнены, заявка в работе. Если остались вопросы — напишите, я отвечу."
)

// System prompts for the text-generation collaborator.
const (
	instructionSupport = "Ты — вежливый помощник службы поддержки кэшбек-акции в Telegram. " +
		"Покупатель проходит шаги: согласие с условиями, подписка на канал, заказ товара, " +
		"получение, отзыв с фото, разрезанный штрихкод, реквизиты для выплаты. " +
		"Отвечай кратко и по делу на русском языке."

	instructionComplete = "Ты — вежливый помощник службы поддержки кэшбек-акции в Telegram. " +
		"Покупатель уже выполнил все шаги и ждёт выплату. Отвечай кратко на русском языке."
)

var stepTitles = map[models.Step]string{
	models.StepAgree:     "согласие с условиями",
	models.StepSubscribe: "подписка на канал",
	models.StepOrder:     "заказ товара",
	models.StepReceive:   "получение товара",
	models.StepFeedback:  "отзыв с фото",
	models.StepShk:       "разрезанный ШК",
}

func (c *Controller) instructionText() string {
	return fmt.Sprintf(
		"Здравствуйте! 👋 Спасибо за участие в акции с кэшбеком.\n\n"+
			"Ваш артикул: %s\n\n"+
			"Чтобы получить выплату, нужно пройти несколько шагов:\n"+
			"1. Согласиться с условиями акции\n"+
			"2. Подписаться на наш канал %s\n"+
			"3. Заказать товар по артикулу\n"+
			"4. Получить товар\n"+
			"5. Оставить отзыв с фото\n"+
			"6. Разрезать штрихкод (ШК) на этикетке\n"+
			"7. Отправить реквизиты для выплаты\n\n"+
			"Каждый шаг подтверждается кнопками. Начнём!",
		c.article, c.channel,
	)
}

func (c *Controller) prompt(state State) string {
	switch state {
	case StateAgreement:
		return "Вы согласны с условиями акции?"
	case StateSubscription:
		return fmt.Sprintf("Подпишитесь на наш канал %s и подтвердите подписку.", c.channel)
	case StateOrder:
		return fmt.Sprintf("Вы заказали товар по артикулу %s?", c.article)
	case StateReceipt:
		return "Вы получили товар?"
	case StateFeedback:
		return "Вы оставили отзыв с фото на товар?"
	case StateLabelCut:
		return "Вы разрезали штрихкод (ШК) на этикетке? Можно приложить фото."
	case StateRequisites:
		return msgRequisitesPrompt
	case StateComplete:
		return msgComplete
	}
	return msgUnrecognized
}

// retryText is the self-loop reply after a "no" answer; the step stays open.
func (c *Controller) retryText(state State) string {
	switch state {
	case StateAgreement:
		return "Без согласия с условиями участвовать в акции не получится. Готовы согласиться?"
	case StateSubscription:
		return fmt.Sprintf("Подпишитесь на канал %s и нажмите «Да», когда будете готовы.", c.channel)
	case StateOrder:
		return fmt.Sprintf("Хорошо, подождём. Как оформите заказ по артикулу %s — подтвердите кнопкой.", c.article)
	case StateReceipt:
		return "Хорошо, подождём доставку. Как получите товар — подтвердите кнопкой."
	case StateFeedback:
		return "Хорошо. Как опубликуете отзыв с фото — подтвердите кнопкой."
	case StateLabelCut:
		return "Хорошо. Как разрежете ШК на этикетке — подтвердите кнопкой."
	}
	return c.prompt(state)
}

func (c *Controller) notSubscribedText() string {
	return fmt.Sprintf("Похоже, вы ещё не подписаны на канал %s. Подпишитесь и нажмите «Проверить ещё раз».", c.channel)
}

func (c *Controller) tagFormatText() string {
	return fmt.Sprintf(
		"Неверный формат тега. Отправьте отдельным сообщением тег вида #%s_<день>_<месяц>, например: #%s_5_июня",
		c.marker, c.marker,
	)
}

func msgStepsRemaining(steps []models.Step) string {
	titles := make([]string, 0, len(steps))
	for _, s := range steps {
		titles = append(titles, stepTitles[s])
	}
	return "Выплата станет доступна после всех шагов. Осталось: " + strings.Join(titles, ", ") + "."
}

func msgRequisitesSaved(ex ExtractedRequisites) string {
	var b strings.Builder
	b.WriteString("Записал реквизиты:")
	if ex.Card != "" {
		b.WriteString("\n💳 Карта: " + ex.Card)
	}
	if ex.Phone != "" {
		b.WriteString("\n📱 Телефон: " + ex.Phone)
	}
	if ex.Amount != "" {
		b.WriteString("\n💰 Сумма: " + ex.Amount)
	}
	if ex.Bank != "" {
		b.WriteString("\n🏦 Банк: " + ex.Bank)
	}
	return b.String()
}

func stepKeyboard(state State) Keyboard {
	step, ok := stateStep[state]
	if !ok {
		return nil
	}
	return Keyboard{{
		{Label: "Да ✅", Data: ButtonData(step, true)},
		{Label: "Нет ❌", Data: ButtonData(step, false)},
	}}
}

func recheckKeyboard() Keyboard {
	return Keyboard{{
		{Label: "Проверить ещё раз 🔄", Data: ButtonData(models.StepSubscribe, true)},
	}}
}
