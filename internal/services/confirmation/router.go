// Package confirmation turns an inbound checkout return into a final payment
// outcome and decides which downstream record the payment attaches to.
package confirmation

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/domain/ports"
	"github.com/kevin07696/esim-checkout/internal/services/challenge"
	pkgerrors "github.com/kevin07696/esim-checkout/pkg/errors"
	"github.com/kevin07696/esim-checkout/pkg/observability"
	"github.com/kevin07696/esim-checkout/pkg/resilience"
)

// AdapterResolver looks adapters up by explicit provider tag
type AdapterResolver interface {
	Get(slug string) (ports.ProviderAdapter, error)
}

// GuestVerifier checks a guest access token's signature and expiry
type GuestVerifier interface {
	Verify(token string) (*domain.GuestAccessContext, error)
}

// Config holds the redirect targets and the re-check budget
type Config struct {
	// GuestOrderURL receives order_id and token query parameters.
	GuestOrderURL string
	// AccountOrdersURL is the signed-in order list.
	AccountOrdersURL string
	// CheckoutURL receives order_id after a decline or a retryable failure.
	CheckoutURL     string
	RecheckAttempts int
}

// ConfirmCommand is one inbound return from checkout
type ConfirmCommand struct {
	Request    domain.ConfirmRequest
	GuestToken string
	AccountID  string
}

// ConfirmResult is the router's answer to the caller
type ConfirmResult struct {
	Outcome       *domain.GatewayOutcome
	Target        *domain.ConfirmationTarget
	OrderID       string
	TransactionID string
	Message       string
	RedirectURL   string
	Success       bool
}

// Router is the single place where a confirmed payment is attached to either
// an anonymous order-access record or an account.
type Router struct {
	adapters    AdapterResolver
	challenges  *challenge.Handler
	ledger      ports.PaymentLedger
	guestTokens ports.GuestTokenStore
	guests      GuestVerifier
	notifier    ports.Notifier
	timeouts    *resilience.TimeoutConfig
	backoff     resilience.BackoffStrategy
	logger      ports.Logger
	cfg         Config
}

// Option configures a Router
type Option func(*Router)

// WithRecheckBackoff overrides the pacing of post-timeout status lookups
func WithRecheckBackoff(b resilience.BackoffStrategy) Option {
	return func(r *Router) { r.backoff = b }
}

// NewRouter creates a confirmation router
func NewRouter(
	adapters AdapterResolver,
	challenges *challenge.Handler,
	ledger ports.PaymentLedger,
	guestTokens ports.GuestTokenStore,
	guests GuestVerifier,
	notifier ports.Notifier,
	timeouts *resilience.TimeoutConfig,
	cfg Config,
	logger ports.Logger,
	opts ...Option,
) *Router {
	if cfg.RecheckAttempts <= 0 {
		cfg.RecheckAttempts = 4
	}
	r := &Router{
		adapters:    adapters,
		challenges:  challenges,
		ledger:      ledger,
		guestTokens: guestTokens,
		guests:      guests,
		notifier:    notifier,
		timeouts:    timeouts,
		backoff:     resilience.StatusRecheckBackoff(),
		logger:      logger,
		cfg:         cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type guestState struct {
	ctx    *domain.GuestAccessContext
	active bool
}

// Confirm dispatches strictly on the explicit provider tag, confirms with
// that adapter and applies the outcome. Guest and account checks run before
// the provider is called.
func (r *Router) Confirm(ctx context.Context, cmd ConfirmCommand) (*ConfirmResult, error) {
	start := time.Now()
	req := cmd.Request
	slug := strings.ToLower(strings.TrimSpace(req.Provider))
	if slug == "" {
		return nil, domain.ErrMissingProvider
	}
	adapter, err := r.adapters.Get(slug)
	if err != nil {
		return nil, err
	}
	req.Provider = slug

	ctx, cancel := r.timeouts.ConfirmationContext(ctx)
	defer cancel()

	guest, err := r.verifyGuest(ctx, cmd.GuestToken)
	if err != nil {
		return nil, err
	}
	if guest == nil && cmd.AccountID == "" {
		return nil, domain.ErrAccountRequired
	}

	var (
		outcome *domain.GatewayOutcome
		attempt *domain.PaymentAttempt
		session *domain.ChallengeSession
	)
	if stepUp, ok := adapter.(ports.StepUpAdapter); ok {
		if guest != nil && !guest.active {
			return nil, domain.ErrGuestTokenConsumed
		}
		guard := func(s *domain.ChallengeSession) error {
			a, err := r.ledger.GetAttempt(ctx, s.TransactionID)
			if err != nil {
				return err
			}
			if err := authorize(a, slug, guest, cmd.AccountID); err != nil {
				return err
			}
			attempt = a
			return nil
		}
		outcome, session, err = r.challenges.Confirm(ctx, stepUp, &req, guard)
	} else {
		attempt, err = r.findAttempt(ctx, slug, &req)
		if err != nil {
			return nil, err
		}
		if err := authorize(attempt, slug, guest, cmd.AccountID); err != nil {
			return nil, err
		}
		if guest != nil && !guest.active {
			return r.replay(attempt, guest)
		}
		outcome, err = adapter.Confirm(ctx, &req)
	}

	if err != nil {
		if attempt == nil || !domain.IsTransientError(err) {
			observability.RecordPaymentOperation(slug, "confirm", "error", time.Since(start).Seconds())
			r.logger.Warn("Confirmation failed",
				ports.String("provider", slug),
				ports.String("code", string(domain.GetErrorCode(err))),
				ports.Err(err),
			)
			return nil, err
		}
		outcome = r.recheck(ctx, adapter, attempt, err)
		if session != nil {
			r.challenges.SettleOutcome(ctx, session, outcome)
		}
	}
	if outcome.TransactionID == "" {
		outcome.TransactionID = attempt.TransactionID
	}
	if err := bindOutcome(attempt, outcome); err != nil {
		observability.RecordPaymentOperation(slug, "confirm", "mismatch", time.Since(start).Seconds())
		r.logger.Error("Provider approval does not match the checkout attempt",
			ports.String("provider", slug),
			ports.String("transaction_id", attempt.TransactionID),
			ports.String("expected_reference", attempt.ProviderReference),
			ports.String("reference", outcome.ProviderReference),
			ports.Err(err),
		)
		return nil, err
	}

	var guestCtx *domain.GuestAccessContext
	if guest != nil {
		guestCtx = guest.ctx
	}
	result, err := r.Settle(ctx, attempt, outcome, guestCtx, cmd.AccountID)
	observability.RecordPaymentOperation(slug, "confirm", string(outcome.Kind), time.Since(start).Seconds())
	return result, err
}

// verifyGuest validates a guest token and reports whether it is still
// unused. A missing token yields nil.
func (r *Router) verifyGuest(ctx context.Context, token string) (*guestState, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	guest, err := r.guests.Verify(token)
	if err != nil {
		return nil, err
	}
	orderID, active, err := r.guestTokens.IsActive(ctx, guest.TokenID)
	if err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, domain.ErrGuestTokenInvalid.Withf("guest access link is unknown or has expired")
	}
	if orderID != guest.OrderID {
		return nil, domain.ErrGuestTokenInvalid.Withf("guest access link does not match its order")
	}
	return &guestState{ctx: guest, active: active}, nil
}

// findAttempt resolves the ledger attempt a return belongs to. Returns of
// redirect-first providers are found through the provider reference recorded
// at initiation; a transaction id sent alongside must name the same attempt.
func (r *Router) findAttempt(ctx context.Context, slug string, req *domain.ConfirmRequest) (*domain.PaymentAttempt, error) {
	for _, ref := range []string{req.PaymentIntentID, req.OrderID} {
		if ref == "" {
			continue
		}
		attempt, err := r.ledger.GetAttemptByReference(ctx, slug, ref)
		if errors.Is(err, domain.ErrTransactionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if req.TransactionID != "" && req.TransactionID != attempt.TransactionID {
			return nil, domain.ErrConfirmationMismatch.Withf("%s return does not match transaction %s", slug, req.TransactionID)
		}
		req.TransactionID = attempt.TransactionID
		return attempt, nil
	}
	if req.TransactionID != "" {
		return r.ledger.GetAttempt(ctx, req.TransactionID)
	}
	return nil, domain.ErrTransactionNotFound.Withf("no %s checkout matches this return", slug)
}

// bindOutcome checks that an approval is for the attempt being confirmed:
// same provider reference, same amount and same currency. Replies that omit
// the amount or currency take the attempt's, as re-checks do.
func bindOutcome(attempt *domain.PaymentAttempt, outcome *domain.GatewayOutcome) error {
	if outcome.Kind != domain.OutcomeApproved {
		return nil
	}
	if outcome.Amount.IsZero() {
		outcome.Amount = attempt.Amount
	}
	if outcome.Currency == "" {
		outcome.Currency = attempt.Currency
	}
	expected := attempt.ProviderReference
	if expected == "" {
		expected = attempt.TransactionID
	}
	switch {
	case outcome.ProviderReference != expected:
		return domain.ErrConfirmationMismatch.Withf("approval reference %q does not match %q", outcome.ProviderReference, expected)
	case !outcome.Amount.Equal(attempt.Amount):
		return domain.ErrConfirmationMismatch.Withf("approved amount %s does not match %s", outcome.Amount.String(), attempt.Amount.String())
	case !strings.EqualFold(outcome.Currency, attempt.Currency):
		return domain.ErrConfirmationMismatch.Withf("approved currency %q does not match %q", outcome.Currency, attempt.Currency)
	}
	return nil
}

// authorize checks that the caller may confirm attempt on the chosen branch
func authorize(attempt *domain.PaymentAttempt, slug string, guest *guestState, accountID string) error {
	if attempt.Provider != slug {
		return domain.ErrTransactionNotFound.Withf("no %s checkout matches this return", slug)
	}
	if guest != nil {
		if guest.ctx.OrderID != attempt.OrderID {
			return domain.ErrGuestTokenInvalid.Withf("guest access link belongs to another order")
		}
		if attempt.AccountID != "" {
			return domain.ErrAccountRequired
		}
		return nil
	}
	if attempt.GuestTokenID != "" {
		return domain.ErrGuestTokenInvalid.Withf("this order was placed as a guest, use the guest access link")
	}
	if attempt.AccountID != "" && attempt.AccountID != accountID {
		return domain.ErrAccountRequired
	}
	return nil
}

// replay answers a repeated guest return after the token was consumed. Only
// the confirmation that consumed it may be repeated; nothing is written.
func (r *Router) replay(attempt *domain.PaymentAttempt, guest *guestState) (*ConfirmResult, error) {
	if attempt.Status != domain.AttemptApproved || attempt.Branch != domain.BranchGuest || attempt.GuestTokenID != guest.ctx.TokenID {
		return nil, domain.ErrGuestTokenConsumed
	}
	outcome := domain.Approved(attempt.TransactionID, attempt.ProviderReference, attempt.Amount, attempt.Currency)
	return &ConfirmResult{
		Outcome:       outcome,
		Target:        r.guestTarget(attempt.OrderID, guest.ctx),
		OrderID:       attempt.OrderID,
		TransactionID: attempt.TransactionID,
		Message:       pkgerrors.UserMessage(pkgerrors.CategoryApproved, ""),
		RedirectURL:   r.guestURL(attempt.OrderID, guest.ctx.Token),
		Success:       true,
	}, nil
}

// recheck queries the provider's status after a confirm failed transiently.
// The call may have reached the provider, so a transient error alone never
// becomes a decline.
func (r *Router) recheck(ctx context.Context, adapter ports.ProviderAdapter, attempt *domain.PaymentAttempt, cause error) *domain.GatewayOutcome {
	ctx, cancel := r.timeouts.StatusRecheckContext(ctx)
	defer cancel()

	reference := attempt.ProviderReference
	if reference == "" {
		reference = attempt.TransactionID
	}

	for i := 0; i < r.cfg.RecheckAttempts; i++ {
		if i > 0 {
			if err := resilience.Sleep(ctx, r.backoff, i-1); err != nil {
				break
			}
		}
		details, err := adapter.Lookup(ctx, reference)
		if err != nil {
			if domain.IsTransientError(err) {
				continue
			}
			r.logger.Warn("Status re-check failed",
				ports.String("provider", adapter.Slug()),
				ports.String("transaction_id", attempt.TransactionID),
				ports.Err(err),
			)
			break
		}

		switch details.Status {
		case domain.PaymentStatusApproved:
			observability.RecordStatusRecheck(adapter.Slug(), "approved")
			r.logger.Info("Status re-check found an approval",
				ports.String("provider", adapter.Slug()),
				ports.String("transaction_id", attempt.TransactionID),
				ports.Int("lookups", i+1),
			)
			amount, currency := details.Amount, details.Currency
			if amount.IsZero() {
				amount = attempt.Amount
			}
			if currency == "" {
				currency = attempt.Currency
			}
			return domain.Approved(attempt.TransactionID, details.Reference, amount, currency)
		case domain.PaymentStatusDeclined:
			observability.RecordStatusRecheck(adapter.Slug(), "declined")
			return domain.Declined(attempt.TransactionID, "", pkgerrors.CategoryDeclined, "")
		}
	}

	observability.RecordStatusRecheck(adapter.Slug(), "unresolved")
	return domain.RequiresRetry(attempt.TransactionID, cause)
}

// Settle applies an outcome to the ledger. Approvals attach to the guest
// branch when guest is set and to accountID otherwise; declines leave the
// order in its pre-payment state; anything else writes nothing.
func (r *Router) Settle(ctx context.Context, attempt *domain.PaymentAttempt, outcome *domain.GatewayOutcome, guest *domain.GuestAccessContext, accountID string) (*ConfirmResult, error) {
	result := &ConfirmResult{
		Outcome:       outcome,
		OrderID:       attempt.OrderID,
		TransactionID: attempt.TransactionID,
	}

	switch outcome.Kind {
	case domain.OutcomeApproved:
		target, err := r.attach(ctx, attempt, guest, accountID)
		if err != nil {
			return nil, err
		}
		result.Success = true
		result.Target = target
		result.RedirectURL = target.RedirectURL
		result.Message = pkgerrors.UserMessage(pkgerrors.CategoryApproved, "")

	case domain.OutcomeDeclined:
		if err := r.ledger.MarkDeclined(ctx, attempt.TransactionID, outcome.ReasonCode); err != nil {
			r.logger.Error("Failed to record decline",
				ports.String("transaction_id", attempt.TransactionID),
				ports.Err(err),
			)
			return nil, err
		}
		result.Message = outcome.ReasonMessage
		result.RedirectURL = r.checkoutURL(attempt.OrderID)

	default:
		result.Message = outcome.ReasonMessage
		if result.Message == "" {
			result.Message = domain.UserMessage(domain.ErrProviderError)
		}
		result.RedirectURL = r.checkoutURL(attempt.OrderID)
	}

	r.logger.Info("Payment settled",
		ports.String("transaction_id", attempt.TransactionID),
		ports.String("order_id", attempt.OrderID),
		ports.String("outcome", string(outcome.Kind)),
	)
	return result, nil
}

func (r *Router) attach(ctx context.Context, attempt *domain.PaymentAttempt, guest *domain.GuestAccessContext, accountID string) (*domain.ConfirmationTarget, error) {
	alreadyPaid := attempt.Status == domain.AttemptApproved

	if guest != nil {
		if err := r.ledger.MarkPaidGuest(ctx, attempt.TransactionID, guest.TokenID); err != nil {
			r.logger.Error("Approved payment could not be attached to guest order",
				ports.String("transaction_id", attempt.TransactionID),
				ports.String("order_id", attempt.OrderID),
				ports.Err(err),
			)
			return nil, err
		}
		if err := r.guestTokens.Consume(ctx, guest.TokenID); err != nil && !errors.Is(err, domain.ErrGuestTokenConsumed) {
			r.logger.Warn("Failed to consume guest token",
				ports.String("order_id", attempt.OrderID),
				ports.Err(err),
			)
		}
		if !alreadyPaid && guest.Email != "" {
			r.notify(attempt.OrderID, func() error { return r.notifier.NotifyGuest(ctx, attempt.OrderID, guest.Email) })
		}
		return r.guestTarget(attempt.OrderID, guest), nil
	}

	if err := r.ledger.MarkPaidAccount(ctx, attempt.TransactionID, accountID); err != nil {
		r.logger.Error("Approved payment could not be attached to account",
			ports.String("transaction_id", attempt.TransactionID),
			ports.String("order_id", attempt.OrderID),
			ports.Err(err),
		)
		return nil, err
	}
	if !alreadyPaid {
		r.notify(attempt.OrderID, func() error { return r.notifier.NotifyAccount(ctx, accountID, attempt.OrderID) })
	}
	return &domain.ConfirmationTarget{
		Branch:      domain.BranchAccount,
		AccountID:   accountID,
		RedirectURL: r.cfg.AccountOrdersURL,
	}, nil
}

// notify never fails the confirmation; delivery belongs to another system
func (r *Router) notify(orderID string, send func() error) {
	if err := send(); err != nil {
		r.logger.Warn("Post-confirmation notice failed",
			ports.String("order_id", orderID),
			ports.Err(err),
		)
	}
}

func (r *Router) guestTarget(orderID string, guest *domain.GuestAccessContext) *domain.ConfirmationTarget {
	return &domain.ConfirmationTarget{
		Guest:       guest,
		Branch:      domain.BranchGuest,
		RedirectURL: r.guestURL(orderID, guest.Token),
	}
}

func (r *Router) guestURL(orderID, token string) string {
	return withQuery(r.cfg.GuestOrderURL, url.Values{"order_id": {orderID}, "token": {token}})
}

func (r *Router) checkoutURL(orderID string) string {
	return withQuery(r.cfg.CheckoutURL, url.Values{"order_id": {orderID}})
}

func withQuery(base string, values url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, vs := range values {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
