package botworker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"loyalty-bonus-engine/internal/level"
	"loyalty-bonus-engine/internal/referral"
	"loyalty-bonus-engine/internal/store"
	"loyalty-bonus-engine/utils"
)

func (w *Worker) handleStart(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID

	user, err := w.users.FindByTelegramID(ctx, w.ProjectID, chatID)
	if err != nil {
		slog.Error("find user by telegram id", "error", err)
		return
	}

	if user == nil {
		user, err = w.createUserFromStart(ctx, chatID, update.Message.Text, update.Message.From)
		if err != nil {
			slog.Error("create user from /start", "error", err)
			w.reply(ctx, chatID, "Something went wrong, please try again.")
			return
		}
	}

	w.reply(ctx, chatID, fmt.Sprintf(
		"Welcome%s! Use /balance to check your bonus balance, /level for your tier, "+
			"/history for recent activity, and /referral for your invite link.",
		displaySuffix(user.DisplayName)))
}

func (w *Worker) createUserFromStart(ctx context.Context, chatID int64, text string, from *models.User) (*store.User, error) {
	newID := uuid.New()
	newUser := &store.User{
		ID:           newID,
		ProjectID:    w.ProjectID,
		TelegramID:   &chatID,
		ReferralCode: referral.ReferralCode(newID),
		DisplayName:  displayNameFromTelegram(from, chatID, w.ProjectID),
	}

	if utmRef := parseStartPayload(text); utmRef != "" {
		referrer, err := w.referral.ResolveReferrer(ctx, w.ProjectID, utmRef)
		if err != nil {
			slog.Warn("resolve referrer from /start payload", "error", err)
		}
		created, err := w.users.CreateOrGetByTelegramID(ctx, newUser)
		if err != nil {
			return nil, err
		}
		if referrer != nil {
			if err := w.referral.BindOnRegister(ctx, created, referrer); err != nil {
				slog.Warn("bind referral on register", "error", err)
			}
		}
		return created, nil
	}

	return w.users.CreateOrGetByTelegramID(ctx, newUser)
}

// parseStartPayload extracts a /start deep-link payload of the form
// "/start utm_ref=<uuid>" or the bot-API-encoded "/start utm_ref_<uuid>".
func parseStartPayload(text string) string {
	parts := strings.SplitN(text, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	payload := strings.TrimSpace(parts[1])
	switch {
	case strings.HasPrefix(payload, "utm_ref="):
		return strings.TrimPrefix(payload, "utm_ref=")
	case strings.HasPrefix(payload, "utm_ref_"):
		return strings.TrimPrefix(payload, "utm_ref_")
	default:
		return ""
	}
}

func (w *Worker) handleBalance(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID
	user, err := w.requireUser(ctx, chatID)
	if err != nil || user == nil {
		return
	}

	balance, err := w.ledger.GetBalance(ctx, user.ID)
	if err != nil {
		slog.Error("get balance", "error", err)
		w.reply(ctx, chatID, "Could not fetch your balance right now.")
		return
	}
	w.reply(ctx, chatID, fmt.Sprintf("Your bonus balance is %s.", balance.String()))
}

func (w *Worker) handleLevel(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID
	user, err := w.requireUser(ctx, chatID)
	if err != nil || user == nil {
		return
	}

	ladder, err := w.levels.ListByProject(ctx, w.ProjectID)
	if err != nil {
		slog.Error("list levels", "error", err)
		w.reply(ctx, chatID, "Could not fetch your level right now.")
		return
	}

	bracket := level.Resolve(ladder, user.TotalPurchases)
	if bracket == nil {
		w.reply(ctx, chatID, "This store has no tier program configured yet.")
		return
	}

	remaining, hasNext := level.ProgressToNext(ladder, user.TotalPurchases)
	if !hasNext {
		w.reply(ctx, chatID, fmt.Sprintf("You're at %s, the top tier.", bracket.Level.Name))
		return
	}
	w.reply(ctx, chatID, fmt.Sprintf("You're at %s. Spend %s more to reach the next tier.", bracket.Level.Name, remaining.String()))
}

func (w *Worker) handleHistory(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID
	user, err := w.requireUser(ctx, chatID)
	if err != nil || user == nil {
		return
	}

	txs, err := w.txs.ListByUser(ctx, user.ID, 10)
	if err != nil {
		slog.Error("list transactions", "error", err)
		w.reply(ctx, chatID, "Could not fetch your history right now.")
		return
	}
	if len(txs) == 0 {
		w.reply(ctx, chatID, "No bonus activity yet.")
		return
	}

	var b2 strings.Builder
	b2.WriteString("Recent activity:\n")
	for _, t := range txs {
		b2.WriteString(fmt.Sprintf("%s: %s (%s)\n", t.CreatedAt.Format("2006-01-02"), t.Amount.String(), t.Type))
	}
	w.reply(ctx, chatID, b2.String())
}

func (w *Worker) handleReferral(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID
	user, err := w.requireUser(ctx, chatID)
	if err != nil || user == nil {
		return
	}
	link := referral.GenerateLink(w.appURL, user.ID)
	w.reply(ctx, chatID, fmt.Sprintf("Share your link to earn referral bonuses: %s", link))
}

func (w *Worker) handleHelp(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	w.reply(ctx, update.Message.Chat.ID,
		"/balance - your bonus balance\n/level - your tier and progress\n/history - recent bonus activity\n/referral - your invite link")
}

// handleContactShared completes registration when a user taps "share
// contact" in response to the awaiting-contact dialog state.
func (w *Worker) handleContactShared(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID
	if _, ok := w.sessions.Get(chatID); !ok {
		return
	}
	phone := update.Message.Contact.PhoneNumber
	if err := w.users.UpdateFields(ctx, mustUserID(ctx, w, chatID), map[string]interface{}{"phone": phone}); err != nil {
		slog.Error("update user phone from contact", "error", err)
		return
	}
	w.sessions.Clear(chatID)
	w.reply(ctx, chatID, "Thanks, your account is now linked to this phone number.")
}

func (w *Worker) handleRegistrationEmail(ctx context.Context, chatID int64, text string) {
	email := strings.TrimSpace(text)
	if !strings.Contains(email, "@") {
		w.reply(ctx, chatID, "That doesn't look like an email address. Try again, or share your contact instead.")
		return
	}
	if err := w.users.UpdateFields(ctx, mustUserID(ctx, w, chatID), map[string]interface{}{"email": email}); err != nil {
		slog.Error("update user email from dialog", "error", err)
		return
	}
	w.sessions.Clear(chatID)
	w.reply(ctx, chatID, "Thanks, your account is now linked to that email address.")
}

func (w *Worker) requireUser(ctx context.Context, chatID int64) (*store.User, error) {
	user, err := w.users.FindByTelegramID(ctx, w.ProjectID, chatID)
	if err != nil {
		slog.Error("find user by telegram id", "error", err)
		w.reply(ctx, chatID, "Something went wrong, please try again.")
		return nil, err
	}
	if user == nil {
		w.reply(ctx, chatID, "Send /start first to create your account.")
		return nil, nil
	}
	return user, nil
}

func (w *Worker) reply(ctx context.Context, chatID int64, text string) {
	if err := w.SendMessage(ctx, chatID, text); err != nil {
		slog.Error("send telegram message", "error", err, "chatId", utils.MaskHalfInt64(chatID), "projectId", w.ProjectID)
	}
}

func mustUserID(ctx context.Context, w *Worker, chatID int64) uuid.UUID {
	user, err := w.users.FindByTelegramID(ctx, w.ProjectID, chatID)
	if err != nil || user == nil {
		return uuid.Nil
	}
	return user.ID
}

func displaySuffix(name string) string {
	if name == "" {
		return ""
	}
	return ", " + name
}

// displayNameFromTelegram sanitizes the profile info a /start update carries
// into a safe display name, falling back to the sanitized @username and
// then to a generic placeholder if both are empty or flagged as suspicious
// (impersonation attempts, embedded links). from is nil for updates the
// Telegram API didn't attach sender info to, in which case the store
// default (empty string) is used instead.
func displayNameFromTelegram(from *models.User, chatID int64, projectID uuid.UUID) string {
	if from == nil {
		return ""
	}
	firstName := from.FirstName
	username := from.Username
	if utils.IsSuspiciousUser(&username, &firstName, nil) {
		slog.Warn("suspicious telegram profile on /start", "chatId", utils.MaskHalfInt64(chatID), "projectId", projectID)
	}
	fallback := ""
	if username != "" {
		fallback = utils.UsernameForDisplay(&username, true)
	}
	return utils.DisplayNameOrFallback(&firstName, fallback)
}
