// Package ledger is the only code path allowed to create a
// bonus_transaction row. Every award, spend and expiry runs inside
// store.WithinTx at Serializable isolation and is retried through
// store.RetryBackoff on conflict.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"loyalty-bonus-engine/internal/apperr"
	"loyalty-bonus-engine/internal/level"
	"loyalty-bonus-engine/internal/money"
	"loyalty-bonus-engine/internal/referral"
	"loyalty-bonus-engine/internal/store"
)

// ErrInsufficientBonuses is returned by Spend when a user's consumable
// balance is smaller than the requested amount.
var ErrInsufficientBonuses = apperr.New(apperr.KindInsufficientBonuses, "insufficient_bonuses", "user does not have enough bonus balance")

// Notifier is the narrow interface the ledger needs from whatever sends
// balance-change messages, defined here on the consumer side so this
// package never imports the bot layer that actually sends them.
type Notifier interface {
	NotifyBalanceChanged(ctx context.Context, projectID, userID uuid.UUID, delta decimal.Decimal, reason string)
}

// AwardResult reports what an award produced, including whether it was a
// fresh accrual or a replay of an already-processed order.
type AwardResult struct {
	Transaction *store.Transaction
	Lot         *store.BonusLot
	Replayed    bool
}

type Service struct {
	pool       *pgxpool.Pool
	projects   *store.ProjectRepository
	users      *store.UserRepository
	levels     *store.LevelRepository
	lots       *store.BonusLotRepository
	txs        *store.TransactionRepository
	referral   *referral.Engine
	notifier   Notifier
	maxRetries int
}

func NewService(pool *pgxpool.Pool, projects *store.ProjectRepository, users *store.UserRepository,
	levels *store.LevelRepository, lots *store.BonusLotRepository, txs *store.TransactionRepository,
	referralEngine *referral.Engine, notifier Notifier, maxRetries int) *Service {
	return &Service{
		pool: pool, projects: projects, users: users, levels: levels, lots: lots, txs: txs,
		referral: referralEngine, notifier: notifier, maxRetries: maxRetries,
	}
}

// awardParams describes one BonusLot+EARN-Transaction pair. It is the one
// place in the package that writes an EARN row, so Award, AwardPurchase and
// the referral commission path all fall through it instead of each building
// their own lot/transaction pair.
type awardParams struct {
	ProjectID       uuid.UUID
	UserID          uuid.UUID
	Amount          decimal.Decimal
	BonusType       store.BonusType
	Description     string
	OrderID         *string
	ExpiresAt       *time.Time
	Metadata        map[string]string
	UserLevel       *string
	AppliedPercent  *decimal.Decimal
	IsReferralBonus bool
}

func (s *Service) writeEarn(ctx context.Context, tx pgx.Tx, p awardParams) (*AwardResult, error) {
	txRow := &store.Transaction{
		ID:              uuid.New(),
		ProjectID:       p.ProjectID,
		UserID:          p.UserID,
		Type:            store.TransactionEarn,
		Amount:          p.Amount,
		OrderID:         p.OrderID,
		Note:            p.Description,
		Metadata:        p.Metadata,
		UserLevel:       p.UserLevel,
		AppliedPercent:  p.AppliedPercent,
		IsReferralBonus: p.IsReferralBonus,
	}
	created, err := s.txs.Create(ctx, tx, txRow)
	if err != nil {
		return nil, fmt.Errorf("create earn transaction: %w", err)
	}

	var lot *store.BonusLot
	if p.Amount.IsPositive() {
		lot, err = s.lots.Create(ctx, tx, &store.BonusLot{
			ID:                  uuid.New(),
			UserID:              p.UserID,
			ProjectID:           p.ProjectID,
			Type:                p.BonusType,
			Description:         p.Description,
			OriginalAmount:      p.Amount,
			RemainingAmount:     p.Amount,
			SourceTransactionID: created.ID,
			ExpiresAt:           p.ExpiresAt,
		})
		if err != nil {
			return nil, fmt.Errorf("create bonus lot: %w", err)
		}
	}

	return &AwardResult{Transaction: created, Lot: lot}, nil
}

// purchaseExpiry derives the expiry a purchase-driven award (a purchase
// earn, or the referral commission it triggers) should carry, from the
// project's configured bonus lifetime.
func purchaseExpiry(project *store.Project) *time.Time {
	if project.DefaultBonusExpiryDays <= 0 {
		return nil
	}
	e := time.Now().UTC().AddDate(0, 0, project.DefaultBonusExpiryDays)
	return &e
}

// Award is the generic bonus grant operation: a manual adjustment, a
// birthday gift, a promo code redemption, anything that isn't itself a
// purchase accrual. AwardPurchase is a specialised caller of the same
// underlying write, not a separate code path.
func (s *Service) Award(ctx context.Context, projectID, userID uuid.UUID, amount decimal.Decimal, bonusType store.BonusType, description string, expiresAt *time.Time, metadata map[string]string) (*AwardResult, error) {
	if amount.IsNegative() || amount.IsZero() {
		return nil, apperr.New(apperr.KindValidation, "invalid_award_amount", "award amount must be positive")
	}

	var result *AwardResult
	err := store.RetryBackoff(ctx, s.maxRetries, func() error {
		return store.WithinTx(ctx, s.pool, func(tx pgx.Tx) error {
			user, err := s.users.FindByID(ctx, userID)
			if err != nil {
				return fmt.Errorf("load user: %w", err)
			}
			if user == nil {
				return apperr.New(apperr.KindNotFound, "user_not_found", "user does not exist")
			}

			effectiveExpiry := expiresAt
			if effectiveExpiry == nil {
				project, err := s.projects.FindByID(ctx, projectID)
				if err != nil {
					return fmt.Errorf("load project: %w", err)
				}
				if project == nil {
					return apperr.New(apperr.KindNotFound, "project_not_found", "project does not exist")
				}
				effectiveExpiry = purchaseExpiry(project)
			}

			result, err = s.writeEarn(ctx, tx, awardParams{
				ProjectID:       projectID,
				UserID:          userID,
				Amount:          amount,
				BonusType:       bonusType,
				Description:     description,
				ExpiresAt:       effectiveExpiry,
				Metadata:        metadata,
				IsReferralBonus: bonusType == store.BonusTypeReferral,
			})
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil && result != nil {
		go s.notifier.NotifyBalanceChanged(context.WithoutCancel(ctx), projectID, userID, result.Transaction.Amount, "award_"+string(bonusType))
	}
	return result, nil
}

// AwardPurchase accrues bonus for a storefront purchase: orderID makes the
// call idempotent (at most one EARN transaction per order), the earn rate
// comes from the user's level bracket as of their cumulative purchase total
// going into this purchase (or the project default if no ladder is
// configured or they're off-ladder), the user's total_purchases and derived
// level name are updated in the same unit of work, and a referral
// commission is paid in the same transaction when the buyer was referred.
func (s *Service) AwardPurchase(ctx context.Context, projectID, userID uuid.UUID, orderID string, purchaseAmount decimal.Decimal) (*AwardResult, error) {
	if purchaseAmount.IsNegative() || purchaseAmount.IsZero() {
		return nil, apperr.New(apperr.KindValidation, "invalid_purchase_amount", "purchase amount must be positive")
	}

	var result *AwardResult
	err := store.RetryBackoff(ctx, s.maxRetries, func() error {
		return store.WithinTx(ctx, s.pool, func(tx pgx.Tx) error {
			existing, err := s.txs.FindByOrderID(ctx, projectID, orderID, store.TransactionEarn)
			if err != nil {
				return fmt.Errorf("check existing earn transaction: %w", err)
			}
			if existing != nil {
				result = &AwardResult{Transaction: existing, Replayed: true}
				return nil
			}

			project, err := s.projects.FindByID(ctx, projectID)
			if err != nil {
				return fmt.Errorf("load project: %w", err)
			}
			if project == nil {
				return apperr.New(apperr.KindNotFound, "project_not_found", "project does not exist")
			}

			user, err := s.users.FindByID(ctx, userID)
			if err != nil {
				return fmt.Errorf("load user: %w", err)
			}
			if user == nil {
				return apperr.New(apperr.KindNotFound, "user_not_found", "user does not exist")
			}

			ladder, err := s.levels.ListByProject(ctx, projectID)
			if err != nil {
				return fmt.Errorf("load level ladder: %w", err)
			}

			// The rate applied is the one in effect when the purchase happens,
			// i.e. resolved against the total BEFORE this purchase is added to it.
			previousTotal := user.TotalPurchases
			earnPercent := project.DefaultEarnPercent
			var levelAtPurchase *string
			if bracket := level.Resolve(ladder, previousTotal); bracket != nil {
				earnPercent = bracket.Level.EarnPercent.String()
				name := bracket.Level.Name
				levelAtPurchase = &name
			}
			rate, err := decimal.NewFromString(earnPercent)
			if err != nil {
				return fmt.Errorf("parse earn percent: %w", err)
			}
			earned := money.Percent(purchaseAmount, rate)

			newTotal := previousTotal.Add(purchaseAmount)
			newLevelName := levelAtPurchase
			if bracket := level.Resolve(ladder, newTotal); bracket != nil {
				name := bracket.Level.Name
				newLevelName = &name
			}
			if err := s.users.UpdateFieldsTx(ctx, tx, userID, map[string]interface{}{
				"total_purchases":     newTotal,
				"current_level_name": newLevelName,
			}); err != nil {
				return fmt.Errorf("update user purchase total: %w", err)
			}

			orderIDCopy := orderID
			awarded, err := s.writeEarn(ctx, tx, awardParams{
				ProjectID:      projectID,
				UserID:         userID,
				Amount:         earned,
				BonusType:      store.BonusTypePurchase,
				Description:    fmt.Sprintf("earned %s%% on purchase %s", rate.String(), orderID),
				OrderID:        &orderIDCopy,
				ExpiresAt:      purchaseExpiry(project),
				UserLevel:      levelAtPurchase,
				AppliedPercent: &rate,
			})
			if err != nil {
				return err
			}

			payout, err := s.referral.ResolvePayout(ctx, tx, projectID, user, purchaseAmount)
			if err != nil {
				return fmt.Errorf("resolve referral payout: %w", err)
			}
			if payout != nil {
				referralAward, err := s.writeEarn(ctx, tx, awardParams{
					ProjectID:       projectID,
					UserID:          payout.ReferrerID,
					Amount:          payout.Amount,
					BonusType:       store.BonusTypeReferral,
					Description:     "referral commission for " + userID.String(),
					ExpiresAt:       purchaseExpiry(project),
					IsReferralBonus: true,
				})
				if err != nil {
					return fmt.Errorf("pay referral commission: %w", err)
				}
				if err := s.referral.RecordPayout(ctx, tx, referralAward.Transaction.ID, payout.ReferrerID, userID); err != nil {
					return err
				}
			}

			result = awarded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil && result != nil && !result.Replayed {
		go s.notifier.NotifyBalanceChanged(context.WithoutCancel(ctx), projectID, userID, result.Transaction.Amount, "purchase_earn")
	}
	return result, nil
}

// SpendResult reports what a Spend call produced: one SPEND Transaction per
// lot it drew from, or the single transaction already written by an earlier
// call of the same order's spend step when Replayed is true.
type SpendResult struct {
	Transactions []*store.Transaction
	Replayed     bool
}

// TotalAmount sums the (negative) amounts of every transaction the spend
// wrote, the total bonus consumed across all lots touched.
func (r *SpendResult) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, t := range r.Transactions {
		total = total.Add(t.Amount)
	}
	return total
}

// Spend consumes amount of bonus balance from userID's soonest-expiring lots
// first (lots with no expiry last, ties broken by creation time),
// rejecting the call with ErrInsufficientBonuses if the consumable total is
// smaller than amount. It never partially spends: all lots are touched in
// one transaction, or none are. Each lot drawn from gets its own SPEND row,
// stamped with the user's level and applied rate at spend time for
// auditability. orderID, when non-empty, makes the call idempotent the same
// way AwardPurchase is: a replay of the same order's spend step spends
// nothing again and returns, with Replayed set, only the first SPEND row
// written the first time (the one carrying the order id); the other lots'
// SPEND rows from that spend are not included. Pass "" for
// spends with no storefront order behind them (bot commands, admin
// adjustments).
func (s *Service) Spend(ctx context.Context, projectID, userID uuid.UUID, amount decimal.Decimal, note, orderID string) (*SpendResult, error) {
	if amount.IsNegative() || amount.IsZero() {
		return nil, apperr.New(apperr.KindValidation, "invalid_spend_amount", "spend amount must be positive")
	}

	var result *SpendResult
	err := store.RetryBackoff(ctx, s.maxRetries, func() error {
		return store.WithinTx(ctx, s.pool, func(tx pgx.Tx) error {
			if orderID != "" {
				existing, err := s.txs.FindByOrderID(ctx, projectID, spendOrderKey(orderID), store.TransactionSpend)
				if err != nil {
					return fmt.Errorf("check existing spend transaction: %w", err)
				}
				if existing != nil {
					result = &SpendResult{Transactions: []*store.Transaction{existing}, Replayed: true}
					return nil
				}
			}

			user, err := s.users.FindByID(ctx, userID)
			if err != nil {
				return fmt.Errorf("load user: %w", err)
			}
			if user == nil {
				return apperr.New(apperr.KindNotFound, "user_not_found", "user does not exist")
			}
			project, err := s.projects.FindByID(ctx, projectID)
			if err != nil {
				return fmt.Errorf("load project: %w", err)
			}
			if project == nil {
				return apperr.New(apperr.KindNotFound, "project_not_found", "project does not exist")
			}
			ladder, err := s.levels.ListByProject(ctx, projectID)
			if err != nil {
				return fmt.Errorf("load level ladder: %w", err)
			}

			var levelName *string
			var appliedPercent *decimal.Decimal
			if bracket := level.Resolve(ladder, user.TotalPurchases); bracket != nil {
				name := bracket.Level.Name
				levelName = &name
				rate := bracket.Level.EarnPercent
				appliedPercent = &rate
			} else if rate, err := decimal.NewFromString(project.DefaultEarnPercent); err == nil {
				appliedPercent = &rate
			}

			now := time.Now().UTC()
			lots, err := s.lots.FindConsumableLotsForUpdate(ctx, tx, userID, now)
			if err != nil {
				return fmt.Errorf("load consumable lots: %w", err)
			}

			consumed, shortfall := consumeLotsFIFO(lots, amount)
			if shortfall.IsPositive() {
				return ErrInsufficientBonuses
			}

			var spendOrderID *string
			if orderID != "" {
				key := spendOrderKey(orderID)
				spendOrderID = &key
			}

			var created []*store.Transaction
			for i, c := range consumed {
				if err := s.lots.SetRemaining(ctx, tx, c.Lot.ID, c.Lot.RemainingAmount); err != nil {
					return fmt.Errorf("update bonus lot %s: %w", c.Lot.ID, err)
				}

				lotID := c.Lot.ID
				txRow := &store.Transaction{
					ID:             uuid.New(),
					ProjectID:      projectID,
					UserID:         userID,
					BonusID:        &lotID,
					Type:           store.TransactionSpend,
					Amount:         c.Amount.Neg(),
					Note:           note,
					UserLevel:      levelName,
					AppliedPercent: appliedPercent,
				}
				// The (project, order, type) unique index only allows one row with
				// a non-null order_id per spend: the first lot touched carries it
				// as the idempotency anchor, the rest carry no order_id at all.
				if i == 0 {
					txRow.OrderID = spendOrderID
				}

				row, err := s.txs.Create(ctx, tx, txRow)
				if err != nil {
					return fmt.Errorf("create spend transaction: %w", err)
				}
				created = append(created, row)
			}

			result = &SpendResult{Transactions: created}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil && !result.Replayed {
		go s.notifier.NotifyBalanceChanged(context.WithoutCancel(ctx), projectID, userID, result.TotalAmount(), "spend")
	}
	return result, nil
}

// spendOrderKey derives the idempotency key a storefront order's linked
// promocode spend is recorded under: distinct from the order's own EARN key
// so one order can carry both a spend and an accrual transaction.
func spendOrderKey(orderID string) string {
	return orderID + ":spend"
}

// lotConsumption pairs a lot (with RemainingAmount already decremented) with
// the amount that particular lot contributed to the spend.
type lotConsumption struct {
	Lot    store.BonusLot
	Amount decimal.Decimal
}

// consumeLotsFIFO walks lots, already ordered soonest-expiring first by the
// caller's query, taking min(lotRemaining, stillNeeded) from each until amount is
// fully consumed. It returns one entry per lot actually touched and any
// shortfall still owed if the lots didn't cover amount.
func consumeLotsFIFO(lots []store.BonusLot, amount decimal.Decimal) ([]lotConsumption, decimal.Decimal) {
	remaining := amount
	var touched []lotConsumption
	for _, l := range lots {
		if !remaining.IsPositive() {
			break
		}
		consume := decimal.Min(remaining, l.RemainingAmount)
		l.RemainingAmount = l.RemainingAmount.Sub(consume)
		remaining = remaining.Sub(consume)
		touched = append(touched, lotConsumption{Lot: l, Amount: consume})
	}
	return touched, remaining
}

// GetBalance returns userID's currently consumable bonus balance: the sum
// of remaining, unexpired lots.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return s.lots.SumBalance(ctx, userID, time.Now().UTC())
}

// ExpireDueLots zeroes out every lot whose ExpiresAt has passed, writing one
// expire-type transaction per lot so the ledger history explains every
// balance drop. It processes at most limit lots per call so a scheduled
// sweep can run in bounded batches; the scheduled sweep keeps calling it
// until it returns fewer than limit.
func (s *Service) ExpireDueLots(ctx context.Context, limit int) (int, error) {
	now := time.Now().UTC()
	due, err := s.lots.FindExpiring(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("find expiring lots: %w", err)
	}

	expired := 0
	for _, l := range due {
		l := l
		err := store.RetryBackoff(ctx, s.maxRetries, func() error {
			return store.WithinTx(ctx, s.pool, func(tx pgx.Tx) error {
				if err := s.lots.SetRemaining(ctx, tx, l.ID, decimal.Zero); err != nil {
					return fmt.Errorf("zero out lot %s: %w", l.ID, err)
				}
				lotID := l.ID
				_, err := s.txs.Create(ctx, tx, &store.Transaction{
					ID:        uuid.New(),
					ProjectID: l.ProjectID,
					UserID:    l.UserID,
					BonusID:   &lotID,
					Type:      store.TransactionExpire,
					Amount:    l.RemainingAmount.Neg(),
					Note:      fmt.Sprintf("bonus lot %s expired", l.ID),
				})
				if err != nil {
					return fmt.Errorf("create expire transaction: %w", err)
				}
				return nil
			})
		})
		if err != nil {
			slog.Error("failed to expire bonus lot", "lotId", l.ID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}
