package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/kevin07696/esim-checkout/internal/domain"
)

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Success   bool   `json:"success"`
	Retryable bool   `json:"retryable"`
}

// writeError maps a domain error onto an HTTP status and a body that never
// carries provider internals
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorBody{
		Code:      string(domain.GetErrorCode(err)),
		Message:   domain.UserMessage(err),
		Retryable: domain.IsRetryable(err),
	})
}

func httpStatus(err error) int {
	code := domain.GetErrorCode(err)
	switch domain.KindOf(err) {
	case domain.KindConfiguration:
		if code == domain.ErrorCodeMissingCredentials {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadRequest
	case domain.KindValidation:
		if code == domain.ErrorCodeAccountRequired {
			return http.StatusUnauthorized
		}
		return http.StatusBadRequest
	case domain.KindDecline:
		return http.StatusPaymentRequired
	case domain.KindTransient:
		if code == domain.ErrorCodeRefundInProgress {
			return http.StatusConflict
		}
		return http.StatusServiceUnavailable
	case domain.KindChallengeToken:
		return http.StatusGone
	case domain.KindRefund:
		switch code {
		case domain.ErrorCodeRefundTransactionAbsent:
			return http.StatusNotFound
		case domain.ErrorCodeRefundExceedsRemaining:
			return http.StatusUnprocessableEntity
		default:
			return http.StatusConflict
		}
	case domain.KindGuestToken:
		if code == domain.ErrorCodeGuestTokenConsumed {
			return http.StatusGone
		}
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.ErrValidationFailed.Withf("request body is empty")
		}
		return domain.ErrValidationFailed.Withf("malformed JSON body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
