// Package notify is a channel-agnostic dispatcher that the ledger engine
// calls into, logging every attempt whether it succeeds or not.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"loyalty-bonus-engine/internal/apperr"
	"loyalty-bonus-engine/internal/store"
)

// ErrChannelNotImplemented is returned by channels this engine only models,
// not yet wires to a live provider (email/sms/push).
var ErrChannelNotImplemented = apperr.New(apperr.KindExternalDependency, "channel_not_implemented", "notification channel is not implemented")

// Channel is one way to reach a user. telegramChannel is the only live
// implementation; the others are stubs so the dispatch table and logging
// path are exercised the same way for every channel even before a provider
// is wired in.
type Channel interface {
	Name() string
	Send(ctx context.Context, user *store.User, text string) error
}

// TelegramSender is the narrow surface the Telegram channel needs from the
// Bot Supervisor, declared on the consumer side to avoid importing the bot
// layer into this package. projectID is carried alongside chatID because
// delivery is routed through whichever project's worker owns that chat.
type TelegramSender interface {
	SendMessage(ctx context.Context, projectID uuid.UUID, chatID int64, text string) error
}

type telegramChannel struct {
	sender TelegramSender
}

func (c telegramChannel) Name() string { return "telegram" }

func (c telegramChannel) Send(ctx context.Context, user *store.User, text string) error {
	if user.TelegramID == nil {
		return apperr.New(apperr.KindValidation, "no_telegram_id", "user has no telegram id")
	}
	if c.sender == nil {
		return ErrChannelNotImplemented
	}
	return c.sender.SendMessage(ctx, user.ProjectID, *user.TelegramID, text)
}

type stubChannel struct{ name string }

func (c stubChannel) Name() string { return c.name }
func (c stubChannel) Send(ctx context.Context, user *store.User, text string) error {
	return ErrChannelNotImplemented
}

// Service dispatches a notification over the one channel the caller names
// (falling back to Telegram when that name is not registered) and persists
// the outcome to NotificationLogRepository regardless of success.
type Service struct {
	channels map[string]Channel
	logs     *store.NotificationLogRepository
	users    *store.UserRepository
}

func NewService(telegramSender TelegramSender, logs *store.NotificationLogRepository, users *store.UserRepository) *Service {
	return &Service{
		channels: map[string]Channel{
			"telegram": telegramChannel{sender: telegramSender},
			"email":    stubChannel{name: "email"},
			"sms":      stubChannel{name: "sms"},
			"push":     stubChannel{name: "push"},
		},
		logs:  logs,
		users: users,
	}
}

// Notify renders templateText with vars substituted in "{{key}}" form and
// sends it over channelName, logging the attempt. A failed send is logged
// and swallowed — notification delivery never blocks the caller's own
// transaction.
func (s *Service) Notify(ctx context.Context, projectID uuid.UUID, user *store.User, channelName, templateText string, vars map[string]string) {
	channel, ok := s.channels[channelName]
	if !ok {
		channel = s.channels["telegram"]
		channelName = "telegram"
	}

	text := render(templateText, vars)
	sendErr := channel.Send(ctx, user, text)

	entry := &store.NotificationLog{
		ID:        uuid.New(),
		ProjectID: projectID,
		UserID:    user.ID,
		Channel:   channelName,
		Template:  templateText,
		Success:   sendErr == nil,
	}
	if sendErr != nil {
		msg := sendErr.Error()
		entry.Error = &msg
		slog.Warn("notification delivery failed", "channel", channelName, "userId", user.ID, "error", sendErr)
	}

	if s.logs != nil {
		if _, err := s.logs.Create(ctx, entry); err != nil {
			slog.Error("failed to persist notification log", "error", err)
		}
	}
}

// NotifyBalanceChanged implements ledger.Notifier: it looks userID back up
// to get its current TelegramID (the ledger only carries the id, not the
// full row), builds a short balance-change message, and fires it over
// Telegram. Quiet hours and per-user notification caps are modeled by
// NotificationLogRepository's CountRecentByUser query but not enforced here
// yet.
func (s *Service) NotifyBalanceChanged(ctx context.Context, projectID, userID uuid.UUID, delta decimal.Decimal, reason string) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		slog.Error("failed to load user for balance-change notification", "userId", userID, "error", err)
		return
	}
	if user == nil {
		return
	}
	text := fmt.Sprintf("Your bonus balance changed by %s (%s).", delta.String(), reason)
	s.Notify(ctx, projectID, user, "telegram", text, nil)
}

func render(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
