// Package checkout starts payment attempts: it picks the adapter, mints the
// TransactionIdentifier, issues guest access and records the attempt.
package checkout

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/domain/ports"
	"github.com/kevin07696/esim-checkout/internal/services/challenge"
	"github.com/kevin07696/esim-checkout/internal/services/confirmation"
	"github.com/kevin07696/esim-checkout/pkg/observability"
	"github.com/kevin07696/esim-checkout/pkg/resilience"
)

// AdapterResolver resolves a provider tag, falling back to the default
// provider when the tag is empty.
type AdapterResolver interface {
	Resolve(slug string) (ports.ProviderAdapter, error)
}

// GuestIssuer mints guest access tokens
type GuestIssuer interface {
	Issue(orderID, email string) (*domain.GuestAccessContext, error)
	TTL() time.Duration
}

// Settler applies an outcome that was final at initiation
type Settler interface {
	Settle(ctx context.Context, attempt *domain.PaymentAttempt, outcome *domain.GatewayOutcome, guest *domain.GuestAccessContext, accountID string) (*confirmation.ConfirmResult, error)
}

// Config holds the public URLs payers are sent back to
type Config struct {
	// CallbackBaseURL is the public origin of this service. When set, every
	// provider returns the payer to /api/v1/payments/{provider}/callback.
	CallbackBaseURL string
	// CheckoutURL receives order_id when the payer cancels at the provider.
	CheckoutURL string
}

// InitiateCommand starts one checkout attempt. An empty AccountID makes it a
// guest checkout.
type InitiateCommand struct {
	Request   domain.PaymentIntentRequest
	Provider  string
	AccountID string
}

// InitiateResult is what the payer's browser needs to continue
type InitiateResult struct {
	Outcome       *domain.GatewayOutcome
	Guest         *domain.GuestAccessContext
	Provider      string
	OrderID       string
	TransactionID string
	// ReturnURL is where the provider sends the payer back to.
	ReturnURL string
	// RedirectURL is set when the outcome was final at initiation.
	RedirectURL string
}

// PaymentStatus is the order's latest attempt as seen by the processing page
type PaymentStatus struct {
	OrderID       string               `json:"orderId"`
	TransactionID string               `json:"transactionId"`
	Provider      string               `json:"provider"`
	Status        domain.AttemptStatus `json:"status"`
	ReasonCode    string               `json:"reasonCode,omitempty"`
	Completed     bool                 `json:"completed"`
}

// Service runs the initiate leg of checkout
type Service struct {
	adapters    AdapterResolver
	challenges  *challenge.Handler
	ledger      ports.PaymentLedger
	guestTokens ports.GuestTokenStore
	guests      GuestIssuer
	settler     Settler
	timeouts    *resilience.TimeoutConfig
	logger      ports.Logger
	cfg         Config
}

// NewService creates a checkout service
func NewService(
	adapters AdapterResolver,
	challenges *challenge.Handler,
	ledger ports.PaymentLedger,
	guestTokens ports.GuestTokenStore,
	guests GuestIssuer,
	settler Settler,
	timeouts *resilience.TimeoutConfig,
	cfg Config,
	logger ports.Logger,
) *Service {
	return &Service{
		adapters:    adapters,
		challenges:  challenges,
		ledger:      ledger,
		guestTokens: guestTokens,
		guests:      guests,
		settler:     settler,
		timeouts:    timeouts,
		logger:      logger,
		cfg:         cfg,
	}
}

// Initiate starts a payment with the chosen provider. Every call mints a new
// TransactionIdentifier. A transient provider failure yields a requires-retry
// outcome and nothing is recorded.
func (s *Service) Initiate(ctx context.Context, cmd InitiateCommand) (*InitiateResult, error) {
	start := time.Now()

	adapter, err := s.adapters.Resolve(cmd.Provider)
	if err != nil {
		return nil, err
	}
	slug := adapter.Slug()

	req := cmd.Request
	req.TransactionID = domain.NewTransactionID()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var guest *domain.GuestAccessContext
	if cmd.AccountID == "" {
		guest, err = s.issueGuest(ctx, &req)
		if err != nil {
			return nil, err
		}
	}
	if s.cfg.CallbackBaseURL != "" {
		req.ReturnURL = s.callbackURL(slug, guest)
		if s.cfg.CheckoutURL != "" {
			req.CancelURL = withQuery(s.cfg.CheckoutURL, url.Values{"order_id": {req.OrderID}})
		}
	}

	outcome, err := s.initiate(ctx, adapter, &req)
	if err != nil {
		observability.RecordPaymentOperation(slug, "initiate", "error", time.Since(start).Seconds())
		s.logger.Warn("Initiate rejected",
			ports.String("provider", slug),
			ports.String("order_id", req.OrderID),
			ports.String("code", string(domain.GetErrorCode(err))),
			ports.Err(err),
		)
		return nil, err
	}

	result := &InitiateResult{
		Outcome:       outcome,
		Guest:         guest,
		Provider:      slug,
		OrderID:       req.OrderID,
		TransactionID: req.TransactionID,
		ReturnURL:     req.ReturnURL,
	}
	defer func() {
		observability.RecordPaymentOperation(slug, "initiate", string(outcome.Kind), time.Since(start).Seconds())
	}()

	if outcome.Kind == domain.OutcomeRequiresRetry {
		s.logger.Warn("Initiate failed transiently, attempt discarded",
			ports.String("provider", slug),
			ports.String("transaction_id", req.TransactionID),
			ports.String("order_id", req.OrderID),
		)
		return result, nil
	}

	attempt := &domain.PaymentAttempt{
		TransactionID:     req.TransactionID,
		OrderID:           req.OrderID,
		Provider:          slug,
		ProviderReference: outcome.ProviderReference,
		Amount:            req.Amount,
		Currency:          strings.ToUpper(req.Currency),
		AccountID:         cmd.AccountID,
		ReasonCode:        outcome.ReasonCode,
		Status:            domain.AttemptStatusFor(outcome.Kind),
	}
	if guest != nil {
		attempt.GuestTokenID = guest.TokenID
	}
	// Approvals are attached by the settler, which needs a non-final row.
	if outcome.Kind == domain.OutcomeApproved {
		attempt.Status = domain.AttemptInitiated
	}
	if err := s.ledger.RecordAttempt(ctx, attempt); err != nil {
		s.logger.Error("Failed to record attempt",
			ports.String("transaction_id", attempt.TransactionID),
			ports.String("order_id", attempt.OrderID),
			ports.Err(err),
		)
		return nil, err
	}

	if outcome.Kind == domain.OutcomeApproved {
		settled, err := s.settler.Settle(ctx, attempt, outcome, guest, cmd.AccountID)
		if err != nil {
			return nil, err
		}
		result.RedirectURL = settled.RedirectURL
	}

	s.logger.Info("Checkout initiated",
		ports.String("provider", slug),
		ports.String("transaction_id", attempt.TransactionID),
		ports.String("order_id", attempt.OrderID),
		ports.String("outcome", string(outcome.Kind)),
		ports.Bool("guest", guest != nil),
	)
	return result, nil
}

func (s *Service) initiate(ctx context.Context, adapter ports.ProviderAdapter, req *domain.PaymentIntentRequest) (*domain.GatewayOutcome, error) {
	ctx, cancel := s.timeouts.ProviderCallContext(ctx)
	defer cancel()

	if stepUp, ok := adapter.(ports.StepUpAdapter); ok {
		return s.challenges.Initiate(ctx, stepUp, req)
	}
	outcome, err := adapter.Initiate(ctx, req)
	if err != nil {
		if domain.IsTransientError(err) {
			return domain.RequiresRetry(req.TransactionID, err), nil
		}
		return nil, err
	}
	return outcome, nil
}

func (s *Service) issueGuest(ctx context.Context, req *domain.PaymentIntentRequest) (*domain.GuestAccessContext, error) {
	var email string
	if req.Customer != nil {
		email = req.Customer.Email
	}
	guest, err := s.guests.Issue(req.OrderID, email)
	if err != nil {
		return nil, err
	}
	if err := s.guestTokens.Activate(ctx, guest.TokenID, guest.OrderID, s.guests.TTL()); err != nil {
		s.logger.Error("Failed to activate guest token",
			ports.String("order_id", req.OrderID),
			ports.Err(err),
		)
		return nil, err
	}
	return guest, nil
}

func (s *Service) callbackURL(slug string, guest *domain.GuestAccessContext) string {
	base := strings.TrimRight(s.cfg.CallbackBaseURL, "/") + "/api/v1/payments/" + url.PathEscape(slug) + "/callback"
	if guest == nil {
		return base
	}
	return withQuery(base, url.Values{"guest_token": {guest.Token}})
}

// Status reports the latest attempt for an order
func (s *Service) Status(ctx context.Context, orderID string) (*PaymentStatus, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, domain.ErrValidationFailed.Withf("order id is required")
	}
	attempt, err := s.ledger.LatestAttemptForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &PaymentStatus{
		OrderID:       attempt.OrderID,
		TransactionID: attempt.TransactionID,
		Provider:      attempt.Provider,
		Status:        attempt.Status,
		ReasonCode:    attempt.ReasonCode,
		Completed:     attempt.IsTerminal(),
	}, nil
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
