package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/domain/ports"
)

const attemptColumns = `transaction_id, order_id, provider, provider_reference, amount, refunded_amount,
	currency, status, branch, guest_token_id, account_id, reason_code, created_at, updated_at`

// LedgerRepository implements ports.PaymentLedger on PostgreSQL
type LedgerRepository struct {
	db           ports.DBTX
	txm          ports.TransactionManager
	queryTimeout time.Duration
}

var _ ports.PaymentLedger = (*LedgerRepository)(nil)

// NewLedgerRepository creates a ledger repository
func NewLedgerRepository(db ports.DBTX, txm ports.TransactionManager, queryTimeout time.Duration) *LedgerRepository {
	if queryTimeout <= 0 {
		queryTimeout = 3 * time.Second
	}
	return &LedgerRepository{db: db, txm: txm, queryTimeout: queryTimeout}
}

// RecordAttempt inserts an attempt or refreshes its status and reference
func (r *LedgerRepository) RecordAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	amount, err := decimalToNumeric(attempt.Amount)
	if err != nil {
		return domain.ErrDatabaseError.Wrap(err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO payment_attempts (transaction_id, order_id, provider, provider_reference, amount,
			currency, status, guest_token_id, account_id, reason_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (transaction_id) DO UPDATE SET
			provider_reference = COALESCE(EXCLUDED.provider_reference, payment_attempts.provider_reference),
			status = EXCLUDED.status,
			reason_code = EXCLUDED.reason_code,
			updated_at = now()`,
		attempt.TransactionID,
		attempt.OrderID,
		attempt.Provider,
		nullText(attempt.ProviderReference),
		amount,
		attempt.Currency,
		string(attempt.Status),
		nullText(attempt.GuestTokenID),
		nullText(attempt.AccountID),
		nullText(attempt.ReasonCode),
	)
	if err != nil {
		return domain.ErrDatabaseError.Wrap(fmt.Errorf("record attempt %s: %w", attempt.TransactionID, err))
	}
	return nil
}

// GetAttempt returns the attempt for a TransactionIdentifier
func (r *LedgerRepository) GetAttempt(ctx context.Context, transactionID string) (*domain.PaymentAttempt, error) {
	return r.queryAttempt(ctx, `SELECT `+attemptColumns+` FROM payment_attempts WHERE transaction_id = $1`, transactionID)
}

// GetAttemptByReference returns the attempt a provider reference belongs to
func (r *LedgerRepository) GetAttemptByReference(ctx context.Context, provider, reference string) (*domain.PaymentAttempt, error) {
	return r.queryAttempt(ctx, `SELECT `+attemptColumns+` FROM payment_attempts
		WHERE provider = $1 AND provider_reference = $2
		ORDER BY created_at DESC LIMIT 1`, provider, reference)
}

// LatestAttemptForOrder returns the most recent attempt for an order
func (r *LedgerRepository) LatestAttemptForOrder(ctx context.Context, orderID string) (*domain.PaymentAttempt, error) {
	return r.queryAttempt(ctx, `SELECT `+attemptColumns+` FROM payment_attempts
		WHERE order_id = $1
		ORDER BY created_at DESC LIMIT 1`, orderID)
}

// MarkPaidGuest approves the attempt on the guest branch
func (r *LedgerRepository) MarkPaidGuest(ctx context.Context, transactionID, guestTokenID string) error {
	return r.markPaid(ctx, `
		UPDATE payment_attempts
		SET status = 'approved', branch = 'guest', guest_token_id = $2, reason_code = NULL, updated_at = now()
		WHERE transaction_id = $1
			AND status IN ('initiated', 'challenge_pending', 'approved')
			AND (branch IS NULL OR branch = 'guest')
			AND account_id IS NULL`, transactionID, guestTokenID)
}

// MarkPaidAccount approves the attempt on the account branch
func (r *LedgerRepository) MarkPaidAccount(ctx context.Context, transactionID, accountID string) error {
	return r.markPaid(ctx, `
		UPDATE payment_attempts
		SET status = 'approved', branch = 'account', account_id = $2, reason_code = NULL, updated_at = now()
		WHERE transaction_id = $1
			AND status IN ('initiated', 'challenge_pending', 'approved')
			AND (branch IS NULL OR branch = 'account')`, transactionID, accountID)
}

func (r *LedgerRepository) markPaid(ctx context.Context, sql, transactionID, owner string) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	tag, err := r.db.Exec(ctx, sql, transactionID, owner)
	if err != nil {
		return domain.ErrDatabaseError.Wrap(fmt.Errorf("mark %s paid: %w", transactionID, err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.conflict(ctx, transactionID, "approved")
}

// MarkDeclined records a decline for an attempt that has not completed yet
func (r *LedgerRepository) MarkDeclined(ctx context.Context, transactionID, reasonCode string) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
		UPDATE payment_attempts
		SET status = 'declined', reason_code = $2, updated_at = now()
		WHERE transaction_id = $1 AND status IN ('initiated', 'challenge_pending', 'declined')`,
		transactionID, nullText(reasonCode))
	if err != nil {
		return domain.ErrDatabaseError.Wrap(fmt.Errorf("mark %s declined: %w", transactionID, err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.conflict(ctx, transactionID, "declined")
}

// conflict explains why a guarded update touched no row
func (r *LedgerRepository) conflict(ctx context.Context, transactionID, target string) error {
	attempt, err := r.GetAttempt(ctx, transactionID)
	if err != nil {
		return err
	}
	return domain.ErrInternalError.Withf("attempt %s is %s on branch %q and cannot become %s",
		transactionID, attempt.Status, attempt.Branch, target)
}

// GetRefundByIdempotencyKey returns a refund recorded under key
func (r *LedgerRepository) GetRefundByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.RefundRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	var (
		rec       domain.RefundRecord
		status    string
		rawStatus pgtype.Text
		amount    pgtype.Numeric
	)
	err := r.db.QueryRow(ctx, `
		SELECT refund_id, idempotency_key, status, raw_status, amount, created_at
		FROM payment_refunds WHERE idempotency_key = $1`, idempotencyKey,
	).Scan(&rec.RefundID, &rec.IdempotencyKey, &status, &rawStatus, &amount, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound.Withf("no refund for idempotency key %s", idempotencyKey)
	}
	if err != nil {
		return nil, domain.ErrDatabaseError.Wrap(fmt.Errorf("get refund %s: %w", idempotencyKey, err))
	}

	rec.Status = domain.RefundStatus(status)
	rec.RawStatus = rawStatus.String
	if rec.Amount, err = numericToDecimal(amount); err != nil {
		return nil, domain.ErrDatabaseError.Wrap(err)
	}
	return &rec, nil
}

// SaveRefund upserts the refund and adds refundedDelta to the attempt's
// refunded total in one transaction.
func (r *LedgerRepository) SaveRefund(ctx context.Context, transactionID string, refund *domain.RefundRecord, refundedDelta decimal.Decimal) error {
	amount, err := decimalToNumeric(refund.Amount)
	if err != nil {
		return domain.ErrDatabaseError.Wrap(err)
	}
	delta, err := decimalToNumeric(refundedDelta)
	if err != nil {
		return domain.ErrDatabaseError.Wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	err = r.txm.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO payment_refunds (idempotency_key, transaction_id, refund_id, status, raw_status, amount)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (idempotency_key) DO UPDATE SET
				refund_id = EXCLUDED.refund_id,
				status = EXCLUDED.status,
				raw_status = EXCLUDED.raw_status,
				updated_at = now()`,
			refund.IdempotencyKey, transactionID, refund.RefundID, string(refund.Status), nullText(refund.RawStatus), amount,
		); err != nil {
			return fmt.Errorf("upsert refund %s: %w", refund.IdempotencyKey, err)
		}

		if refundedDelta.IsZero() {
			return nil
		}
		tag, err := tx.Exec(ctx, `
			UPDATE payment_attempts
			SET refunded_amount = refunded_amount + $2, updated_at = now()
			WHERE transaction_id = $1`, transactionID, delta)
		if err != nil {
			return fmt.Errorf("update refunded amount: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return domain.ErrTransactionNotFound.Withf("attempt %s not found", transactionID)
		}
		return nil
	})
	if err != nil {
		var domainErr *domain.DomainError
		if errors.As(err, &domainErr) {
			return err
		}
		return domain.ErrDatabaseError.Wrap(err)
	}
	return nil
}

func (r *LedgerRepository) queryAttempt(ctx context.Context, sql string, args ...interface{}) (*domain.PaymentAttempt, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	var (
		a                                                       domain.PaymentAttempt
		status                                                  string
		reference, branch, guestTokenID, accountID, reasonCode pgtype.Text
		amount, refunded                                        pgtype.Numeric
	)
	err := r.db.QueryRow(ctx, sql, args...).Scan(
		&a.TransactionID, &a.OrderID, &a.Provider, &reference, &amount, &refunded,
		&a.Currency, &status, &branch, &guestTokenID, &accountID, &reasonCode, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, domain.ErrDatabaseError.Wrap(fmt.Errorf("query attempt: %w", err))
	}

	a.Status = domain.AttemptStatus(status)
	a.ProviderReference = reference.String
	a.Branch = domain.ConfirmationBranch(branch.String)
	a.GuestTokenID = guestTokenID.String
	a.AccountID = accountID.String
	a.ReasonCode = reasonCode.String
	if a.Amount, err = numericToDecimal(amount); err != nil {
		return nil, domain.ErrDatabaseError.Wrap(err)
	}
	if a.RefundedAmount, err = numericToDecimal(refunded); err != nil {
		return nil, domain.ErrDatabaseError.Wrap(err)
	}
	return &a, nil
}
