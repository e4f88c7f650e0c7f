package errors

// ErrorCategory represents the category of a provider response, independent
// of the originating provider's vocabulary.
type ErrorCategory string

const (
	CategoryApproved             ErrorCategory = "approved"
	CategoryDeclined             ErrorCategory = "declined"
	CategoryInsufficientFunds    ErrorCategory = "insufficient_funds"
	CategoryInvalidCard          ErrorCategory = "invalid_card"
	CategoryExpiredCard          ErrorCategory = "expired_card"
	CategoryFraud                ErrorCategory = "fraud"
	CategoryAuthenticationFailed ErrorCategory = "authentication_failed"
	CategorySystemError          ErrorCategory = "system_error"
	CategoryNetworkError         ErrorCategory = "network_error"
	CategoryInvalidRequest       ErrorCategory = "invalid_request"
)

var userMessages = map[ErrorCategory]string{
	CategoryApproved:             "Payment successful",
	CategoryDeclined:             "Your payment was declined. Please use a different payment method.",
	CategoryInsufficientFunds:    "Insufficient funds. Please use a different payment method.",
	CategoryInvalidCard:          "Card details are invalid. Please check them and try again.",
	CategoryExpiredCard:          "Your card has expired. Please use a different payment method.",
	CategoryFraud:                "Transaction declined for security reasons. Please contact your bank.",
	CategoryAuthenticationFailed: "Card authentication failed. Please try again or use a different card.",
	CategorySystemError:          "The payment could not be completed. Please try again.",
	CategoryNetworkError:         "The payment provider could not be reached. Please try again.",
	CategoryInvalidRequest:       "The payment request was invalid.",
}

// UserMessage returns the payer-facing text for a category. Unknown
// categories fall back to the provider's own message when one is available.
func UserMessage(category ErrorCategory, providerMessage string) string {
	if msg, ok := userMessages[category]; ok {
		return msg
	}
	if providerMessage != "" {
		return providerMessage
	}
	return userMessages[CategoryDeclined]
}

// IsRetriable reports whether a decline in this category may succeed when the
// payer tries again with the same instrument.
func (c ErrorCategory) IsRetriable() bool {
	switch c {
	case CategorySystemError, CategoryNetworkError:
		return true
	default:
		return false
	}
}
