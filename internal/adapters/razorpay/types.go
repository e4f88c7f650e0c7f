package razorpay

import (
	"bytes"
	"encoding/json"

	"github.com/kevin07696/esim-checkout/internal/domain"
)

// Payment statuses reported by Razorpay
const (
	paymentCreated    = "created"
	paymentAuthorized = "authorized"
	paymentCaptured   = "captured"
	paymentRefunded   = "refunded"
	paymentFailed     = "failed"
)

// notes is Razorpay's free-form key/value map. Razorpay encodes an empty map
// as [], so decoding tolerates an array.
type notes map[string]string

func (n *notes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] == '[' || bytes.Equal(data, []byte("null")) {
		*n = notes{}
		return nil
	}
	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*n = m
	return nil
}

type createOrderRequest struct {
	Notes    notes  `json:"notes,omitempty"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Amount   int64  `json:"amount"`
}

type orderResponse struct {
	Notes    notes  `json:"notes"`
	ID       string `json:"id"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
}

type payment struct {
	Notes            notes  `json:"notes"`
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Currency         string `json:"currency"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	ErrorReason      string `json:"error_reason"`
	Amount           int64  `json:"amount"`
	AmountRefunded   int64  `json:"amount_refunded"`
	Captured         bool   `json:"captured"`
}

func (p *payment) isCaptured() bool {
	return p.Captured || p.Status == paymentCaptured || p.Status == paymentRefunded
}

type paymentList struct {
	Items []payment `json:"items"`
	Count int       `json:"count"`
}

type captureRequest struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

type refundRequest struct {
	Notes   notes  `json:"notes"`
	Speed   string `json:"speed"`
	Receipt string `json:"receipt"`
	Amount  int64  `json:"amount"`
}

type refund struct {
	Notes     notes  `json:"notes"`
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Currency  string `json:"currency"`
	Amount    int64  `json:"amount"`
	CreatedAt int64  `json:"created_at"`
}

type refundList struct {
	Items []refund `json:"items"`
	Count int      `json:"count"`
}

// checkoutOptions is what the storefront hands to Razorpay Checkout
type checkoutOptions struct {
	Key      string `json:"key"`
	OrderID  string `json:"order_id"`
	Currency string `json:"currency"`
	Name     string `json:"name,omitempty"`
	// CallbackURL makes Checkout post the payment triple back to the server.
	CallbackURL string `json:"callback_url,omitempty"`
	Amount      int64  `json:"amount"`
	Redirect    bool   `json:"redirect,omitempty"`
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Reason      string `json:"reason"`
		Source      string `json:"source"`
		Step        string `json:"step"`
	} `json:"error"`
}

func refundStatus(s string) domain.RefundStatus {
	switch s {
	case "processed":
		return domain.RefundStatusSucceeded
	case "pending", "created":
		return domain.RefundStatusPending
	default:
		return domain.RefundStatusFailed
	}
}
