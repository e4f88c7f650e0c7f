package razorpay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	valid := Sign("order_1", "pay_1", testKeySecret)

	tests := []struct {
		name      string
		orderID   string
		paymentID string
		signature string
		want      bool
	}{
		{"valid", "order_1", "pay_1", valid, true},
		{"tampered", "order_1", "pay_1", "ZZ" + valid[2:], false},
		{"swapped ids", "pay_1", "order_1", valid, false},
		{"other payment", "order_1", "pay_2", valid, false},
		{"empty signature", "order_1", "pay_1", "", false},
		{"not hex", "order_1", "pay_1", "not-a-signature", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifySignature(tt.orderID, tt.paymentID, tt.signature, testKeySecret))
		})
	}
}

func TestSign_DependsOnSecret(t *testing.T) {
	sig := Sign("order_1", "pay_1", testKeySecret)
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, Sign("order_1", "pay_1", testKeySecret))
	assert.NotEqual(t, sig, Sign("order_1", "pay_1", "other"))
}
