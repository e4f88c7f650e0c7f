// Package notification hands post-confirmation notices to the delivery
// system. Delivery itself happens elsewhere; this implementation records the
// notice in the structured log stream that the delivery pipeline tails.
package notification

import (
	"context"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/domain/ports"
)

// LoggingNotifier implements ports.Notifier by emitting one log entry per notice
type LoggingNotifier struct {
	logger *zap.Logger
}

var _ ports.Notifier = (*LoggingNotifier)(nil)

// NewLoggingNotifier creates a notifier writing to logger
func NewLoggingNotifier(logger *zap.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger.Named("notification")}
}

// NotifyGuest records a guest order confirmation notice
func (n *LoggingNotifier) NotifyGuest(ctx context.Context, orderID, email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return domain.ErrValidationFailed.Withf("guest email is not deliverable")
	}
	n.logger.Info("Order confirmation notice",
		zap.String("channel", "guest_email"),
		zap.String("order_id", orderID),
		zap.String("recipient", maskEmail(addr.Address)),
	)
	return nil
}

// NotifyAccount records an account order confirmation notice
func (n *LoggingNotifier) NotifyAccount(ctx context.Context, accountID, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.Info("Order confirmation notice",
		zap.String("channel", "account"),
		zap.String("order_id", orderID),
		zap.String("account_id", accountID),
	)
	return nil
}

// maskEmail keeps the first character of the local part and the domain
func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
