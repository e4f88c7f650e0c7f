package domain

import (
	"errors"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct runs tag validation and folds failures into ErrValidationFailed.
func ValidateStruct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+" ("+fe.Tag()+")")
			}
			return ErrValidationFailed.Withf("invalid fields: %s", strings.Join(fields, ", ")).WithDetail("fields", fields)
		}
		return ErrValidationFailed.Wrap(err)
	}
	return nil
}

// Validate checks an initiate request before any adapter sees it.
func (r *PaymentIntentRequest) Validate() error {
	if err := ValidateStruct(r); err != nil {
		return err
	}
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	_, err := LookupCurrency(r.Currency)
	return err
}

// Validate checks a refund request's shape. Balance checks need the ledger and
// happen in the orchestrator.
func (r *RefundRequest) Validate() error {
	if !r.Reason.Valid() {
		return ErrInvalidRefundReason
	}
	if err := ValidateStruct(r); err != nil {
		return err
	}
	if r.Amount != nil && !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}
