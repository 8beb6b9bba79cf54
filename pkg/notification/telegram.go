// Package notification provides implementations for various notification services
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"slices"

	"github.com/solbot-labs/engine/pkg/core"
	"github.com/solbot-labs/engine/pkg/order"
	log "github.com/sirupsen/logrus"
	tb "gopkg.in/tucnak/telebot.v2"
)

// telegram implements core.NotifierWithStart. It is a push-only alert
// channel (rejected orders and other errors via OnError, closed trades via
// Notify) with a handful of read-only status commands; the
// engine itself is fully automated and takes no trading instructions from
// chat.
type telegram struct {
	settings        *core.Settings
	orderController *order.Controller
	defaultMenu     *tb.ReplyMarkup
	client          *tb.Bot
}

// Option is a function that configures a telegram instance
type Option func(telegram *telegram)

// NewTelegram creates and initializes a new Telegram service
func NewTelegram(controller *order.Controller, settings *core.Settings, options ...Option) (core.NotifierWithStart, error) {
	// Initialize menu and poller
	menu := &tb.ReplyMarkup{ResizeReplyKeyboard: true}
	poller := &tb.LongPoller{Timeout: 10 * time.Second}

	// Create user authorization middleware
	userMiddleware := createAuthMiddleware(poller, settings)

	// Initialize bot client
	client, err := tb.NewBot(tb.Settings{
		ParseMode: tb.ModeMarkdown,
		Token:     settings.Telegram.Token,
		Poller:    userMiddleware,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	// Setup keyboard and commands
	setupKeyboard(menu)
	if err := setupCommands(client); err != nil {
		return nil, fmt.Errorf("failed to set commands: %w", err)
	}

	// Create and configure bot instance
	bot := &telegram{
		orderController: controller,
		client:          client,
		settings:        settings,
		defaultMenu:     menu,
	}

	// Apply custom options if provided
	for _, option := range options {
		option(bot)
	}

	// Register command handlers
	registerHandlers(client, bot)

	return bot, nil
}

// createAuthMiddleware creates a middleware to validate authorized users
func createAuthMiddleware(poller *tb.LongPoller, settings *core.Settings) *tb.MiddlewarePoller {
	return tb.NewMiddlewarePoller(poller, func(u *tb.Update) bool {
		if u.Message == nil || u.Message.Sender == nil {
			log.Error("message or sender is nil ", u)
			return false
		}

		if slices.Contains(settings.Telegram.Users, int(u.Message.Sender.ID)) {
			return true
		}

		log.Error("unauthorized user ", u.Message.Sender.ID)
		return false
	})
}

// setupKeyboard configures the reply keyboard layout
func setupKeyboard(menu *tb.ReplyMarkup) {
	var (
		statusBtn  = menu.Text("/status")
		profitBtn  = menu.Text("/profit")
		balanceBtn = menu.Text("/balance")
		pauseBtn   = menu.Text("/pause")
		resumeBtn  = menu.Text("/resume")
	)

	menu.Reply(
		menu.Row(statusBtn, balanceBtn, profitBtn),
		menu.Row(pauseBtn, resumeBtn),
	)
}

// setupCommands configures available bot commands
func setupCommands(client *tb.Bot) error {
	return client.SetCommands([]tb.Command{
		{Text: "/help", Description: "Display help instructions"},
		{Text: "/status", Description: "Check engine status and system mode"},
		{Text: "/balance", Description: "Account balance and open positions"},
		{Text: "/profit", Description: "Summary of trade results"},
		{Text: "/pause", Description: "Stop accepting new signals"},
		{Text: "/resume", Description: "Resume accepting new signals"},
	})
}

// registerHandlers registers all command handlers
func registerHandlers(client *tb.Bot, bot *telegram) {
	client.Handle("/help", bot.HelpHandle)
	client.Handle("/status", bot.StatusHandle)
	client.Handle("/balance", bot.BalanceHandle)
	client.Handle("/profit", bot.ProfitHandle)
	client.Handle("/pause", bot.PauseHandle)
	client.Handle("/resume", bot.ResumeHandle)
}

// Start begins the Telegram bot and notifies all authorized users.
func (t *telegram) Start(ctx context.Context) error {
	go t.client.Start()
	go func() {
		<-ctx.Done()
		t.client.Stop()
	}()
	t.sendMessageWithOptions("Engine online.", t.defaultMenu)
	return nil
}

// Notify sends a message to all authorized users
func (t *telegram) Notify(text string) {
	for _, user := range t.settings.Telegram.Users {
		_, err := t.client.Send(&tb.User{ID: int64(user)}, text)
		if err != nil {
			log.WithError(err).Error("failed to send notification")
		}
	}
}

// sendMessageWithOptions sends a message to all authorized users with additional options
func (t *telegram) sendMessageWithOptions(text string, options ...interface{}) {
	for _, user := range t.settings.Telegram.Users {
		_, err := t.client.Send(&tb.User{ID: int64(user)}, text, options...)
		if err != nil {
			log.WithError(err).Error("failed to send notification with options")
		}
	}
}

// sendMessage sends a message to a specific user
func (t *telegram) sendMessage(to *tb.User, text string, options ...interface{}) {
	_, err := t.client.Send(to, text, options...)
	if err != nil {
		log.WithError(err).Error("failed to send message")
	}
}

// BalanceHandle shows the account balance and open positions
func (t *telegram) BalanceHandle(m *tb.Message) {
	account, err := t.orderController.Account()
	if err != nil {
		log.WithError(err).Error("failed to get account")
		t.OnError(err)
		return
	}

	message := fmt.Sprintf("*BALANCE*\nBalance: `%.2f`\nAvailable: `%.2f`\nOpen positions: `%d`",
		account.Balance, account.Available, len(account.Positions))
	t.sendMessage(m.Sender, message)
}

// HelpHandle displays available commands
func (t *telegram) HelpHandle(m *tb.Message) {
	commands, err := t.client.GetCommands()
	if err != nil {
		log.WithError(err).Error("failed to get commands")
		t.OnError(err)
		return
	}

	lines := make([]string, 0, len(commands))
	for _, command := range commands {
		lines = append(lines, fmt.Sprintf("/%s - %s", command.Text, command.Description))
	}

	t.sendMessage(m.Sender, strings.Join(lines, "\n"))
}

// ProfitHandle shows trading results
func (t *telegram) ProfitHandle(m *tb.Message) {
	if len(t.orderController.Results) == 0 {
		t.sendMessage(m.Sender, "No trades registered.")
		return
	}

	for pair, summary := range t.orderController.Results {
		t.sendMessage(m.Sender, fmt.Sprintf("*PAIR*: `%s`\n`%s`", pair, summary.String()))
	}
}

// StatusHandle displays the current engine status
func (t *telegram) StatusHandle(m *tb.Message) {
	status := t.orderController.Status()
	t.sendMessage(m.Sender, fmt.Sprintf("Status: `%s`", status))
}

// PauseHandle stops the controller from accepting new signals
func (t *telegram) PauseHandle(m *tb.Message) {
	if t.orderController.Status() == order.StatusStopped {
		t.sendMessage(m.Sender, "Already paused.", t.defaultMenu)
		return
	}

	t.orderController.Stop()
	t.sendMessage(m.Sender, "Paused: no new signals will be accepted.", t.defaultMenu)
}

// ResumeHandle resumes signal acceptance
func (t *telegram) ResumeHandle(m *tb.Message) {
	if t.orderController.Status() == order.StatusRunning {
		t.sendMessage(m.Sender, "Already running.", t.defaultMenu)
		return
	}

	t.orderController.Start()
	t.sendMessage(m.Sender, "Resumed.", t.defaultMenu)
}

// OnOrder notifies users about order status changes
func (t *telegram) OnOrder(order core.Order) {
	var title string

	switch order.Status {
	case core.OrderStatusFilled:
		title = fmt.Sprintf("ORDER FILLED - %s", order.Pair)
	case core.OrderStatusOpen, core.OrderStatusPlaced:
		title = fmt.Sprintf("NEW ORDER - %s", order.Pair)
	case core.OrderStatusCanceled, core.OrderStatusRejected:
		title = fmt.Sprintf("ORDER CANCELED / REJECTED - %s", order.Pair)
	}

	message := fmt.Sprintf("%s\n-----\n%s", title, order)
	t.Notify(message)
}

// OnError notifies users about errors
func (t *telegram) OnError(err error) {
	var sb strings.Builder
	sb.WriteString("ERROR\n-----\n")

	var placementErr *core.PlacementError
	if errors.As(err, &placementErr) {
		fmt.Fprintf(&sb, "Code: %s\n-----\n", placementErr.Code)
	}
	sb.WriteString(err.Error())

	t.Notify(sb.String())
}
