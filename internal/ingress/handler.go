// Package ingress handles storefront webhooks: a storefront posts an order
// event, the handler resolves (or creates) the buyer, dispatches the award
// to the ledger engine, and replies with the outcome.
package ingress

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"loyalty-bonus-engine/internal/apperr"
	"loyalty-bonus-engine/internal/ledger"
	"loyalty-bonus-engine/internal/money"
	"loyalty-bonus-engine/internal/referral"
	"loyalty-bonus-engine/internal/store"
)

// Handler wires a chi router for the webhook ingress endpoint.
type Handler struct {
	projects *store.ProjectRepository
	users    *store.UserRepository
	ledger   *ledger.Service
	referral *referral.Engine
}

func NewHandler(projects *store.ProjectRepository, users *store.UserRepository, ledgerSvc *ledger.Service, referralEngine *referral.Engine) *Handler {
	return &Handler{projects: projects, users: users, ledger: ledgerSvc, referral: referralEngine}
}

// Router returns the chi router mounted at /webhook by cmd/app/main.go.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/{webhookSecret}", h.handleOrderEvent)
	return r
}

func (h *Handler) handleOrderEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	secret := chi.URLParam(r, "webhookSecret")

	project, err := h.projects.FindByWebhookSecret(ctx, secret)
	if err != nil {
		h.renderError(w, r, apperr.Wrap(apperr.KindExternalDependency, "project_lookup_failed", "failed to resolve project", err))
		return
	}
	if project == nil {
		h.renderError(w, r, apperr.New(apperr.KindAuthentication, "unknown_webhook_secret", "unknown webhook secret"))
		return
	}
	if !project.Active {
		h.renderError(w, r, apperr.New(apperr.KindAuthorization, "project_inactive", "project is not active"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.renderError(w, r, apperr.Wrap(apperr.KindValidation, "malformed_payload", "could not read request body", err))
		return
	}
	event, err := DecodeOrderEvent(body)
	if err != nil {
		h.renderError(w, r, apperr.Wrap(apperr.KindValidation, "malformed_payload", "could not parse request body", err))
		return
	}

	if details := validateOrderEvent(&event); details != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, failWithDetails("validation failed", details))
		return
	}
	if !requireEitherIdentity(&event) {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, failWithDetails("validation failed", []fieldErr{
			{Field: "telegramId", Message: "one of telegramId, customerEmail or customerPhone is required"},
		}))
		return
	}

	amount, err := money.Parse(event.Amount)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, failWithDetails("validation failed", []fieldErr{
			{Field: "amount", Message: "could not parse a numeric amount"},
		}))
		return
	}

	dryRun := r.URL.Query().Get("test") == "true"

	if dryRun {
		existing, err := h.findExisting(ctx, project.ID, &event)
		if err != nil {
			h.renderError(w, r, err)
			return
		}
		var userID interface{}
		if existing != nil {
			userID = existing.ID
		}
		render.JSON(w, r, ok(map[string]interface{}{
			"dryRun":     true,
			"projectId":  project.ID,
			"userId":     userID,
			"amount":     amount.String(),
			"wouldAward": true,
		}))
		return
	}

	user, referrer, err := h.resolveUser(ctx, project.ID, &event)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	if referrer != nil {
		if err := h.referral.BindOnRegister(ctx, user, referrer); err != nil {
			slog.Warn("referral binding failed", "error", err, "userId", user.ID)
		}
	}

	var spent *ledger.SpendResult
	if IsSpendPromoCode(event.PromoCode) {
		if requested, perr := money.Parse(event.AppliedBonuses); perr == nil && requested.IsPositive() {
			balance, berr := h.ledger.GetBalance(ctx, user.ID)
			if berr != nil {
				h.renderError(w, r, apperr.Wrap(apperr.KindExternalDependency, "balance_lookup_failed", "failed to load bonus balance", berr))
				return
			}
			spendAmount := decimal.Min(requested, balance)
			if spendAmount.IsPositive() {
				spentResult, serr := h.ledger.Spend(ctx, project.ID, user.ID, spendAmount, "promocode GUPIL redemption for order "+event.OrderID, event.OrderID)
				if serr != nil {
					h.renderError(w, r, serr)
					return
				}
				spent = spentResult
			}
		}
	}

	result, err := h.ledger.AwardPurchase(ctx, project.ID, user.ID, event.OrderID, amount)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	response := map[string]interface{}{
		"transactionId": result.Transaction.ID,
		"amountEarned":  result.Transaction.Amount.String(),
		"replayed":      result.Replayed,
	}
	if spent != nil {
		response["amountSpent"] = spent.TotalAmount().Abs().String()
		response["spendReplayed"] = spent.Replayed
	}
	render.JSON(w, r, ok(response))
}

// resolveUser finds an existing user by telegram id, email or phone, in
// that order, creating a new one if none exists. The second return value is
// the referrer resolved from UtmRef, populated only when the call just
// created the user — binding only ever happens on first contact.
func (h *Handler) resolveUser(ctx context.Context, projectID uuid.UUID, event *OrderEvent) (*store.User, *store.User, error) {
	existing, err := h.findExisting(ctx, projectID, event)
	if err != nil {
		return nil, nil, fmt.Errorf("find existing user: %w", err)
	}
	if existing != nil {
		return existing, nil, nil
	}

	newID := uuid.New()
	newUser := &store.User{
		ID:           newID,
		ProjectID:    projectID,
		ReferralCode: referral.ReferralCode(newID),
	}
	if event.TelegramID != nil {
		newUser.TelegramID = event.TelegramID
	}
	if event.CustomerEmail != "" {
		newUser.Email = &event.CustomerEmail
	}
	if event.CustomerPhone != "" {
		newUser.Phone = &event.CustomerPhone
	}

	referrer, err := h.referral.ResolveReferrer(ctx, projectID, event.UtmRef)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve referrer: %w", err)
	}

	created, err := h.users.Create(ctx, newUser)
	if err != nil {
		return nil, nil, fmt.Errorf("create user: %w", err)
	}
	return created, referrer, nil
}

func (h *Handler) findExisting(ctx context.Context, projectID uuid.UUID, event *OrderEvent) (*store.User, error) {
	if event.TelegramID != nil {
		u, err := h.users.FindByTelegramID(ctx, projectID, *event.TelegramID)
		if err != nil || u != nil {
			return u, err
		}
	}
	if event.CustomerEmail != "" {
		u, err := h.users.FindByEmail(ctx, projectID, event.CustomerEmail)
		if err != nil || u != nil {
			return u, err
		}
	}
	if event.CustomerPhone != "" {
		u, err := h.users.FindByPhone(ctx, projectID, event.CustomerPhone)
		if err != nil || u != nil {
			return u, err
		}
	}
	return nil, nil
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, isAppErr := apperr.As(err)
	if !isAppErr {
		slog.Error("unclassified ingress error", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, fail("internal error"))
		return
	}

	status := statusForKind(appErr.Kind)
	render.Status(r, status)
	if len(appErr.Details) > 0 {
		details := make([]fieldErr, 0, len(appErr.Details))
		for _, d := range appErr.Details {
			details = append(details, fieldErr{Field: d.Field, Message: d.Message})
		}
		render.JSON(w, r, failWithDetails(appErr.Message, details))
		return
	}
	render.JSON(w, r, fail(appErr.Message))
}

func statusForKind(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInsufficientBonuses:
		return http.StatusUnprocessableEntity
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindExternalDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
