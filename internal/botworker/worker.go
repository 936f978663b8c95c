// Package botworker runs one Telegram bot instance per project, each with
// its own command table, dialog state and lifecycle, built on
// go-telegram/bot.
package botworker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"loyalty-bonus-engine/internal/ledger"
	"loyalty-bonus-engine/internal/referral"
	"loyalty-bonus-engine/internal/store"
)

// Mode selects how a Worker receives Telegram updates.
type Mode int

const (
	PollingMode Mode = iota
	WebhookMode
)

// Status is where a Worker currently sits in its lifecycle.
type Status int

const (
	StatusCreated Status = iota
	StatusRunning
	StatusStopping
	StatusStopped
)

// Worker runs one project's Telegram bot: its own *bot.Bot, its own
// command handlers bound to that project's data, and its own dialog
// session cache.
type Worker struct {
	ProjectID uuid.UUID
	Mode      Mode

	bot      *tgbot.Bot
	sessions *sessionCache

	users    *store.UserRepository
	levels   *store.LevelRepository
	txs      *store.TransactionRepository
	ledger   *ledger.Service
	referral *referral.Engine
	appURL   string

	status Status
	cancel context.CancelFunc
}

// Config bundles everything a Worker needs to talk to one project's data,
// keeping NewWorker's signature from growing with every new capability.
type Config struct {
	ProjectID uuid.UUID
	BotToken  string
	Mode      Mode
	AppURL    string

	Users      *store.UserRepository
	Levels     *store.LevelRepository
	Txs        *store.TransactionRepository
	Ledger     *ledger.Service
	Referral   *referral.Engine
}

// NewWorker constructs a Worker without starting it — callers call Start.
func NewWorker(cfg Config) (*Worker, error) {
	w := &Worker{
		ProjectID: cfg.ProjectID,
		Mode:      cfg.Mode,
		sessions:  newSessionCache(30 * time.Minute),
		users:     cfg.Users,
		levels:    cfg.Levels,
		txs:       cfg.Txs,
		ledger:    cfg.Ledger,
		referral:  cfg.Referral,
		appURL:    cfg.AppURL,
		status:    StatusCreated,
	}

	opts := []tgbot.Option{
		tgbot.WithDefaultHandler(w.fallbackHandler),
	}
	b, err := tgbot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot client for project %s: %w", cfg.ProjectID, err)
	}
	w.bot = b
	w.registerHandlers()
	return w, nil
}

func (w *Worker) registerHandlers() {
	w.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypePrefix, w.handleStart)
	w.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/balance", tgbot.MatchTypeExact, w.handleBalance)
	w.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/level", tgbot.MatchTypeExact, w.handleLevel)
	w.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/history", tgbot.MatchTypeExact, w.handleHistory)
	w.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/referral", tgbot.MatchTypeExact, w.handleReferral)
	w.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/invite", tgbot.MatchTypeExact, w.handleReferral)
	w.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/help", tgbot.MatchTypeExact, w.handleHelp)

	w.bot.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil && update.Message.Contact != nil
	}, w.handleContactShared)
}

// Start begins receiving updates. In PollingMode it runs b.Start in the
// background until ctx is cancelled; in WebhookMode it only marks the
// worker Running and relies on the Bot Supervisor mounting WebhookHandler
// on the shared HTTP server.
func (w *Worker) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.status = StatusRunning

	if w.Mode == PollingMode {
		go w.bot.Start(workerCtx)
	}
}

// Stop cancels the worker's update loop and gives in-flight handlers a
// grace period before returning, mirroring the 2s cancellation grace the
// design calls for.
func (w *Worker) Stop() {
	w.status = StatusStopping
	if w.cancel != nil {
		w.cancel()
	}
	time.Sleep(2 * time.Second)
	w.status = StatusStopped
}

func (w *Worker) Status() Status { return w.status }

// WebhookHandler exposes the bot's own webhook HTTP handler for the Bot
// Supervisor to mount at a per-project path.
func (w *Worker) WebhookHandler() http.HandlerFunc {
	return w.bot.WebhookHandler()
}

// SendMessage is the narrow surface the Notification Service's Telegram
// channel uses to deliver a message to one chat, without needing to know
// anything else about this Worker.
func (w *Worker) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := w.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil && strings.Contains(err.Error(), "terminated by other getUpdates") {
		slog.Warn("telegram getUpdates conflict, another process is polling this token", "projectId", w.ProjectID)
		return nil
	}
	return err
}

// RichButton is one inline-keyboard button a broadcast can attach. It's
// URL-only: a fire-and-forget broadcast has no callback handler behind it to
// route a press to.
type RichButton struct {
	Text string
	URL  string
}

// SendRich delivers a broadcast-style message: a captioned photo when
// imageURL is set, a plain text message otherwise, either way with an
// inline keyboard built from buttons in rows of two, insertion order
// preserved. An empty parseMode defaults to HTML, matching SendMessage.
func (w *Worker) SendRich(ctx context.Context, chatID int64, text, imageURL string, buttons []RichButton, parseMode string) error {
	mode := models.ParseModeHTML
	if parseMode != "" {
		mode = models.ParseMode(parseMode)
	}

	var keyboard *models.InlineKeyboardMarkup
	if len(buttons) > 0 {
		rows := make([][]models.InlineKeyboardButton, 0, (len(buttons)+1)/2)
		for i := 0; i < len(buttons); i += 2 {
			row := []models.InlineKeyboardButton{{Text: buttons[i].Text, URL: buttons[i].URL}}
			if i+1 < len(buttons) {
				row = append(row, models.InlineKeyboardButton{Text: buttons[i+1].Text, URL: buttons[i+1].URL})
			}
			rows = append(rows, row)
		}
		keyboard = &models.InlineKeyboardMarkup{InlineKeyboard: rows}
	}

	var err error
	if imageURL != "" {
		params := &tgbot.SendPhotoParams{
			ChatID:    chatID,
			Photo:     &models.InputFileString{Data: imageURL},
			Caption:   text,
			ParseMode: mode,
		}
		if keyboard != nil {
			params.ReplyMarkup = keyboard
		}
		_, err = w.bot.SendPhoto(ctx, params)
	} else {
		params := &tgbot.SendMessageParams{
			ChatID:    chatID,
			Text:      text,
			ParseMode: mode,
		}
		if keyboard != nil {
			params.ReplyMarkup = keyboard
		}
		_, err = w.bot.SendMessage(ctx, params)
	}
	if err != nil && strings.Contains(err.Error(), "terminated by other getUpdates") {
		slog.Warn("telegram getUpdates conflict, another process is polling this token", "projectId", w.ProjectID)
		return nil
	}
	return err
}

func (w *Worker) fallbackHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	if state, ok := w.sessions.Get(chatID); ok && state == dialogAwaitingContact {
		w.handleRegistrationEmail(ctx, chatID, update.Message.Text)
		return
	}
}
