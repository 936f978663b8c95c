// Package referral binds a new signup to the referrer named in its deep
// link, and decides what commission that referrer is owed when the referred
// user later makes a purchase. Actually writing the commission's ledger
// entry is the Ledger Engine's job (it is the only package allowed to touch
// bonus_transaction), so Engine only decides and records, it never writes an
// award itself.
package referral

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"loyalty-bonus-engine/internal/apperr"
	"loyalty-bonus-engine/internal/money"
	"loyalty-bonus-engine/internal/store"
)

// Engine resolves utm_ref referrer ids, binds new signups to a referrer and
// decides referral commission, all scoped to a single project at a time.
type Engine struct {
	pool     *pgxpool.Pool
	users    *store.UserRepository
	programs *store.ReferralProgramRepository
}

func NewEngine(pool *pgxpool.Pool, users *store.UserRepository, programs *store.ReferralProgramRepository) *Engine {
	return &Engine{pool: pool, users: users, programs: programs}
}

// ReferralCode derives a short, stable, shareable code from a user id: the
// first 8 hex characters of the id with no dashes. It's deterministic, so
// the same user always gets the same code, and short enough to type into a
// storefront's referral field.
func ReferralCode(userID uuid.UUID) string {
	return strings.ReplaceAll(userID.String(), "-", "")[:8]
}

// GenerateLink builds the deep link a user shares to invite others. Binding
// is resolved strictly from the utm_ref=<userId> query parameter on first
// contact, with no separate short code namespace, so the link just carries
// the referrer's own user id.
func GenerateLink(appURL string, referrerID uuid.UUID) string {
	base := strings.TrimRight(appURL, "/")
	return fmt.Sprintf("%s/?utm_ref=%s", base, referrerID.String())
}

// ResolveReferrer parses a utm_ref value into a referrer user id scoped to
// projectID. It returns nil, nil when utmRef is empty or refers to a user
// outside the project — an absent or foreign referrer is not an error, it
// just means no binding happens.
func (e *Engine) ResolveReferrer(ctx context.Context, projectID uuid.UUID, utmRef string) (*store.User, error) {
	if utmRef == "" {
		return nil, nil
	}
	referrerID, err := uuid.Parse(utmRef)
	if err != nil {
		return nil, nil
	}
	referrer, err := e.users.FindByID(ctx, referrerID)
	if err != nil {
		return nil, fmt.Errorf("resolve referrer: %w", err)
	}
	if referrer == nil || referrer.ProjectID != projectID {
		return nil, nil
	}
	return referrer, nil
}

// BindOnRegister sets newUser.ReferredByID the first time a user is seen,
// if a referrer was resolved from their registration link. It is a no-op if
// the user already has a referrer (binding happens exactly once).
func (e *Engine) BindOnRegister(ctx context.Context, newUser *store.User, referrer *store.User) error {
	if referrer == nil {
		return nil
	}
	if newUser.ReferredByID != nil {
		return nil
	}
	if referrer.ID == newUser.ID {
		return apperr.New(apperr.KindValidation, "self_referral", "a user cannot refer themselves")
	}
	referrerID := referrer.ID
	return e.users.UpdateFields(ctx, newUser.ID, map[string]interface{}{"referred_by_id": referrerID})
}

// Payout is the commission ResolvePayout decided is owed, still unwritten.
type Payout struct {
	ReferrerID uuid.UUID
	Amount     decimal.Decimal
}

// ResolvePayout decides whether purchaser's referrer (if any, and if the
// project's referral program is active and under its MaxPayouts cap) is
// owed a PayoutPercent share of purchaseAmount. It reads inside tx so the
// cap count it sees is consistent with whatever else the caller's unit of
// work is doing, but writes nothing: a nil result means no payout applies,
// a non-nil one is an instruction for the caller to award and then call
// RecordPayout.
func (e *Engine) ResolvePayout(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, purchaser *store.User, purchaseAmount decimal.Decimal) (*Payout, error) {
	if purchaser.ReferredByID == nil {
		return nil, nil
	}

	program, err := e.programs.FindByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load referral program: %w", err)
	}
	if program == nil || !program.Active {
		return nil, nil
	}

	if program.MaxPayouts != nil {
		count, err := e.programs.CountPayoutsForPair(ctx, *purchaser.ReferredByID, purchaser.ID)
		if err != nil {
			return nil, fmt.Errorf("count referral payouts: %w", err)
		}
		if count >= *program.MaxPayouts {
			return nil, nil
		}
	}

	payout := money.Percent(purchaseAmount, program.PayoutPercent)
	if !payout.IsPositive() {
		return nil, nil
	}

	return &Payout{ReferrerID: *purchaser.ReferredByID, Amount: payout}, nil
}

// RecordPayout persists the cap-tracking record for a commission the caller
// has already awarded, once transactionID exists. It must run inside the
// same tx as the award it is recording, or a concurrent purchase could slip
// past MaxPayouts between the decision and the write.
func (e *Engine) RecordPayout(ctx context.Context, tx pgx.Tx, transactionID, referrerID, referredID uuid.UUID) error {
	if err := e.programs.RecordPayout(ctx, tx, transactionID, referrerID, referredID); err != nil {
		return fmt.Errorf("record referral payout: %w", err)
	}
	return nil
}
