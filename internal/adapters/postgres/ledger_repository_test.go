package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/testutil/fixtures"
)

// newTestLedger connects to DATABASE_URL, applies the schema and returns a
// repository. Tests are skipped when no database is configured.
func newTestLedger(t *testing.T) *LedgerRepository {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping ledger integration tests")
	}
	logger := zaptest.NewLogger(t)
	require.NoError(t, Migrate(url, logger))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := NewPool(ctx, DefaultConfig(url), logger)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewLedgerRepository(pool, NewDBExecutor(pool), 5*time.Second)
}

func pendingAttempt(orderID string) *domain.PaymentAttempt {
	return fixtures.NewAttempt().
		WithOrderID(orderID).
		WithTransactionID(uuid.NewString()).
		WithProvider(domain.ProviderStripe, "pi_"+uuid.NewString()[:8]).
		WithStatus(domain.AttemptChallengePending).
		Build()
}

func TestLedger_RecordAndGetAttempt(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	attempt := pendingAttempt("ord_" + uuid.NewString())
	require.NoError(t, ledger.RecordAttempt(ctx, attempt))

	got, err := ledger.GetAttempt(ctx, attempt.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, attempt.OrderID, got.OrderID)
	assert.Equal(t, domain.AttemptChallengePending, got.Status)
	assert.True(t, attempt.Amount.Equal(got.Amount))
	assert.True(t, got.RefundedAmount.IsZero())

	byRef, err := ledger.GetAttemptByReference(ctx, domain.ProviderStripe, attempt.ProviderReference)
	require.NoError(t, err)
	assert.Equal(t, attempt.TransactionID, byRef.TransactionID)

	_, err = ledger.GetAttempt(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestLedger_GuestAndAccountBranchesAreExclusive(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	attempt := pendingAttempt("ord_" + uuid.NewString())
	require.NoError(t, ledger.RecordAttempt(ctx, attempt))

	require.NoError(t, ledger.MarkPaidGuest(ctx, attempt.TransactionID, "jti-1"))
	// Repeating the same branch is idempotent
	require.NoError(t, ledger.MarkPaidGuest(ctx, attempt.TransactionID, "jti-1"))

	err := ledger.MarkPaidAccount(ctx, attempt.TransactionID, "acct-1")
	assert.ErrorIs(t, err, domain.ErrInternalError)

	got, err := ledger.GetAttempt(ctx, attempt.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptApproved, got.Status)
	assert.Equal(t, domain.BranchGuest, got.Branch)
	assert.Empty(t, got.AccountID)
}

func TestLedger_DeclineAfterApprovalIsRejected(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	attempt := pendingAttempt("ord_" + uuid.NewString())
	require.NoError(t, ledger.RecordAttempt(ctx, attempt))
	require.NoError(t, ledger.MarkPaidAccount(ctx, attempt.TransactionID, "acct-1"))

	err := ledger.MarkDeclined(ctx, attempt.TransactionID, "insufficient_funds")
	assert.Error(t, err)

	latest, err := ledger.LatestAttemptForOrder(ctx, attempt.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptApproved, latest.Status)
	assert.Equal(t, "acct-1", latest.AccountID)
}

func TestLedger_SaveRefundIsIdempotentPerKey(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	attempt := pendingAttempt("ord_" + uuid.NewString())
	require.NoError(t, ledger.RecordAttempt(ctx, attempt))
	require.NoError(t, ledger.MarkPaidAccount(ctx, attempt.TransactionID, "acct-1"))

	key := attempt.OrderID + "-r1"
	pending := &domain.RefundRecord{
		RefundID:       "re_1",
		IdempotencyKey: key,
		Status:         domain.RefundStatusPending,
		RawStatus:      "pending",
		Amount:         decimal.RequireFromString("10.00"),
	}
	require.NoError(t, ledger.SaveRefund(ctx, attempt.TransactionID, pending, pending.Amount))

	succeeded := *pending
	succeeded.Status = domain.RefundStatusSucceeded
	succeeded.RawStatus = "succeeded"
	require.NoError(t, ledger.SaveRefund(ctx, attempt.TransactionID, &succeeded, decimal.Zero))

	rec, err := ledger.GetRefundByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusSucceeded, rec.Status)
	assert.True(t, decimal.RequireFromString("10").Equal(rec.Amount))

	got, err := ledger.GetAttempt(ctx, attempt.TransactionID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10").Equal(got.RefundedAmount))

	_, err = ledger.GetRefundByIdempotencyKey(ctx, "missing-"+key)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestIsRetryableTxError(t *testing.T) {
	assert.True(t, isRetryableTxError(&pgconn.PgError{Code: sqlStateSerializationFailure}))
	assert.True(t, isRetryableTxError(fmt.Errorf("upsert refund: %w", &pgconn.PgError{Code: sqlStateDeadlockDetected})))
	assert.False(t, isRetryableTxError(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isRetryableTxError(domain.ErrTransactionNotFound))
	assert.False(t, isRetryableTxError(nil))
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/esim", migrateURL("postgres://u:p@db:5432/esim"))
	assert.Equal(t, "pgx5://u@db/esim", migrateURL("postgresql://u@db/esim"))
	assert.Equal(t, "pgx5://already", migrateURL("pgx5://already"))
}
