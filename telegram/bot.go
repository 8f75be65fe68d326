package telegram

import (
	"fmt"
	"strings"
	"sync"

	"evcsms/internal"
	"evcsms/models"
	"evcsms/registry"
	"evcsms/utility"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
)

const featureName = "Telegram"

// StatusSource lists the stations currently attached
type StatusSource interface {
	ListConnected() []registry.Summary
}

// TgBot implements EventHandler
type TgBot struct {
	api           *tgbotapi.BotAPI
	database      internal.Database
	status        StatusSource
	logger        internal.LogHandler
	mutex         sync.RWMutex
	subscriptions map[int64]models.UserSubscription
	event         chan MessageContent
	send          chan MessageContent
}

type MessageContent struct {
	ChatID int64
	Text   string
}

func NewBot(apiKey string, logger internal.LogHandler) (*TgBot, error) {
	tgBot := &TgBot{
		logger:        logger,
		subscriptions: make(map[int64]models.UserSubscription),
		event:         make(chan MessageContent, 100),
		send:          make(chan MessageContent, 100),
	}
	api, err := tgbotapi.NewBotAPI(apiKey)
	if err != nil {
		return nil, err
	}
	tgBot.api = api
	return tgBot, nil
}

// SetDatabase attach database service
func (b *TgBot) SetDatabase(database internal.Database) {
	b.database = database
}

func (b *TgBot) SetStatusSource(status StatusSource) {
	b.status = status
}

// Start loads stored subscriptions, adds the configured chats and starts the pumps
func (b *TgBot) Start(chatIds []int64) {
	b.mutex.Lock()
	for _, id := range chatIds {
		b.subscriptions[id] = models.UserSubscription{UserID: int(id), SubscriptionType: models.SubscriptionStatus}
	}
	if b.database != nil {
		subscriptions, err := b.database.GetSubscriptions()
		if err != nil {
			b.logger.Error("bot: get subscriptions", err)
		} else {
			for _, subscription := range subscriptions {
				b.subscriptions[int64(subscription.UserID)] = subscription
			}
		}
	}
	b.mutex.Unlock()
	go b.sendPump()
	go b.eventPump()
	go b.updatesPump()
}

// updatesPump handles bot commands
func (b *TgBot) updatesPump() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates, err := b.api.GetUpdatesChan(u)
	if err != nil {
		b.logger.Error("bot: get updates", err)
		return
	}
	for update := range updates {
		if update.Message == nil || !update.Message.IsCommand() {
			continue
		}
		chatId := update.Message.Chat.ID
		switch update.Message.Command() {
		case "start":
			subscription := models.UserSubscription{
				UserID:           update.Message.From.ID,
				User:             update.Message.From.UserName,
				SubscriptionType: models.SubscriptionStatus,
			}
			b.mutex.Lock()
			b.subscriptions[chatId] = subscription
			b.mutex.Unlock()
			msg := fmt.Sprintf("Hello *%v*, you are now subscribed to updates", sanitize(update.Message.From.UserName))
			if b.database != nil {
				if err := b.database.AddSubscription(&subscription); err != nil {
					b.logger.Error("bot: add subscription", err)
					msg = fmt.Sprintf("Error adding subscription:\n `%v`", sanitize(err.Error()))
				}
			}
			b.send <- MessageContent{ChatID: chatId, Text: msg}
		case "stop":
			b.mutex.Lock()
			delete(b.subscriptions, chatId)
			b.mutex.Unlock()
			if b.database != nil {
				if err := b.database.DeleteSubscription(&models.UserSubscription{UserID: update.Message.From.ID}); err != nil {
					b.logger.Error("bot: delete subscription", err)
				}
			}
			b.send <- MessageContent{ChatID: chatId, Text: "Your subscription has been removed"}
		case "status":
			b.send <- MessageContent{ChatID: chatId, Text: b.composeStatusMessage()}
		}
	}
}

// eventPump sends events to all subscribers
func (b *TgBot) eventPump() {
	for event := range b.event {
		b.mutex.RLock()
		chats := make([]int64, 0, len(b.subscriptions))
		for id := range b.subscriptions {
			chats = append(chats, id)
		}
		b.mutex.RUnlock()
		for _, id := range chats {
			b.sendMessage(id, event.Text)
		}
	}
}

func (b *TgBot) sendPump() {
	for event := range b.send {
		b.sendMessage(event.ChatID, event.Text)
	}
}

// sendMessage common routine to send a message via bot API
func (b *TgBot) sendMessage(id int64, text string) {
	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = "MarkdownV2"
	_, err := b.api.Send(msg)
	if err != nil {
		// maybe error was while parsing, so we can send a message about this error
		msg = tgbotapi.NewMessage(id, fmt.Sprintf("Error: %v", err))
		if _, err = b.api.Send(msg); err != nil {
			b.logger.Error("bot: send message", err)
		}
	}
}

// notify queues the text for subscribers; a full queue drops it instead of stalling the bus
func (b *TgBot) notify(text string) {
	select {
	case b.event <- MessageContent{Text: text}:
	default:
		b.logger.Warn(fmt.Sprintf("%s: event queue full, message dropped", featureName))
	}
}

func (b *TgBot) OnConnectionChange(event *internal.EventMessage) {
	b.notify(connectionMessage(event))
}

func (b *TgBot) OnStatusNotification(event *internal.EventMessage) {
	if msg, ok := statusMessage(event); ok {
		b.notify(msg)
	}
}

func (b *TgBot) OnTransactionStart(event *internal.EventMessage) {
	b.notify(transactionStartMessage(event))
}

func (b *TgBot) OnTransactionStop(event *internal.EventMessage) {
	b.notify(transactionStopMessage(event))
}

func (b *TgBot) NotifyAlert(alert *models.Alert) {
	b.notify(alertMessage(alert))
}

func alertMessage(alert *models.Alert) string {
	prefix := "⚠️"
	if alert.Severity == models.SeverityCritical {
		prefix = "🚨"
	}
	msg := fmt.Sprintf("%s *%v*\n", prefix, sanitize(alert.Title))
	msg += fmt.Sprintf("`%v`: %v\n", alert.Type, sanitize(alert.Message))
	return msg
}

func connectionMessage(event *internal.EventMessage) string {
	msg := fmt.Sprintf("*%v*: `%v`\n", sanitize(event.ChargePointId), event.Type)
	if event.Info != "" {
		msg += fmt.Sprintf("%v\n", sanitize(event.Info))
	}
	return msg
}

// statusMessage skips updates of the charger itself, only connectors are reported
func statusMessage(event *internal.EventMessage) (string, bool) {
	if event.ConnectorId == 0 {
		return "", false
	}
	msg := fmt.Sprintf("*%v*: Connector %v: `%v`\n", sanitize(event.ChargePointId), event.ConnectorId, event.Status)
	if event.TransactionId != "" {
		msg += fmt.Sprintf("Transaction ID: %v\n", sanitize(event.TransactionId))
	}
	if event.Info != "" {
		msg += fmt.Sprintf("%v\n", sanitize(event.Info))
	}
	return msg, true
}

func transactionStartMessage(event *internal.EventMessage) string {
	msg := fmt.Sprintf("*%v*: Connector %v\n", sanitize(event.ChargePointId), event.ConnectorId)
	msg += fmt.Sprintf("Transaction ID: %v START\n", sanitize(event.TransactionId))
	msg += fmt.Sprintf("ID Tag: %v\n", sanitize(event.IdTag))
	return msg
}

func transactionStopMessage(event *internal.EventMessage) string {
	msg := fmt.Sprintf("*%v*: Connector %v\n", sanitize(event.ChargePointId), event.ConnectorId)
	msg += fmt.Sprintf("Transaction ID: %v STOP\n", sanitize(event.TransactionId))
	msg += fmt.Sprintf("ID Tag: %v\n", sanitize(event.IdTag))
	msg += fmt.Sprintf("Consumed: %v kWh\n", sanitize(utility.WhToKwh(int(event.Consumed*1000))))
	if event.Amount > 0 {
		msg += fmt.Sprintf("Amount: %v\n", sanitize(utility.FormatPrice(event.Amount)))
	}
	if event.Info != "" {
		msg += fmt.Sprintf("Info: %v\n", sanitize(event.Info))
	}
	return msg
}

func (b *TgBot) composeStatusMessage() string {
	msg := "Status info:\n\n"
	if b.status != nil {
		for _, s := range b.status.ListConnected() {
			msg += fmt.Sprintf("*%v*: `%v`\n", sanitize(s.ChargePointId), s.State)
			msg += fmt.Sprintf("last message %v\n\n", utility.TimeAgo(s.LastMessageAt))
		}
	}
	b.mutex.RLock()
	msg += fmt.Sprintf("Active subscriptions: %v", len(b.subscriptions))
	b.mutex.RUnlock()
	return msg
}

func sanitize(input string) string {
	// reserved characters of MarkdownV2
	reservedChars := "\\`*_{}[]()#+-.!|>~=<"

	var sanitized strings.Builder
	for _, char := range input {
		if strings.ContainsRune(reservedChars, char) {
			sanitized.WriteRune('\\')
		}
		sanitized.WriteRune(char)
	}
	return sanitized.String()
}
