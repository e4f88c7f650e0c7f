package powertranz

import (
	pkgerrors "github.com/kevin07696/esim-checkout/pkg/errors"
)

const (
	// isoApproved is returned by Auth and Confirm for an approved transaction.
	isoApproved = "00"
	// isoChallengeRequired means the issuer wants step-up authentication
	// before the Auth phase can complete.
	isoChallengeRequired = "SP4"
)

// ResponseCodeInfo describes one ISO response code returned by PowerTranz
type ResponseCodeInfo struct {
	Code        string
	Display     string
	Description string
	IsApproved  bool
	IsDeclined  bool
	IsRetriable bool
	Category    pkgerrors.ErrorCategory
}

var responseCodes = map[string]ResponseCodeInfo{
	"00": {
		Code:        "00",
		Display:     "APPROVAL",
		Description: "Transaction approved",
		IsApproved:  true,
		Category:    pkgerrors.CategoryApproved,
	},
	"SP4": {
		Code:        "SP4",
		Display:     "3DS CHALLENGE",
		Description: "Additional cardholder authentication required",
		Category:    pkgerrors.CategoryApproved,
	},
	"05": {
		Code:        "05",
		Display:     "DECLINE",
		Description: "Do not honor",
		IsDeclined:  true,
		Category:    pkgerrors.CategoryDeclined,
	},
	"14": {
		Code:        "14",
		Display:     "INVALID ACCT",
		Description: "Invalid card number",
		IsDeclined:  true,
		Category:    pkgerrors.CategoryInvalidCard,
	},
	"41": {
		Code:        "41",
		Display:     "LOST CARD",
		Description: "Lost card, pick up",
		IsDeclined:  true,
		Category:    pkgerrors.CategoryFraud,
	},
	"43": {
		Code:        "43",
		Display:     "STOLEN CARD",
		Description: "Stolen card, pick up",
		IsDeclined:  true,
		Category:    pkgerrors.CategoryFraud,
	},
	"51": {
		Code:        "51",
		Display:     "INSUFF FUNDS",
		Description: "Insufficient funds in account",
		IsDeclined:  true,
		IsRetriable: true,
		Category:    pkgerrors.CategoryInsufficientFunds,
	},
	"54": {
		Code:        "54",
		Display:     "EXP CARD",
		Description: "Expired card",
		IsDeclined:  true,
		Category:    pkgerrors.CategoryExpiredCard,
	},
	"59": {
		Code:        "59",
		Display:     "SUSPECTED FRAUD",
		Description: "Suspected fraud",
		IsDeclined:  true,
		Category:    pkgerrors.CategoryFraud,
	},
	"82": {
		Code:        "82",
		Display:     "CVV ERROR",
		Description: "CVV verification failed",
		IsDeclined:  true,
		IsRetriable: true,
		Category:    pkgerrors.CategoryInvalidCard,
	},
	"91": {
		Code:        "91",
		Display:     "ISSUER UNAVAILABLE",
		Description: "Issuer or switch timeout",
		IsDeclined:  true,
		IsRetriable: true,
		Category:    pkgerrors.CategorySystemError,
	},
	"96": {
		Code:        "96",
		Display:     "SYSTEM ERROR",
		Description: "System malfunction",
		IsDeclined:  true,
		IsRetriable: true,
		Category:    pkgerrors.CategorySystemError,
	},
	// 3DS outcomes reported on the Confirm leg
	"3D5": {
		Code:        "3D5",
		Display:     "3DS FAILED",
		Description: "Cardholder authentication failed",
		IsDeclined:  true,
		Category:    pkgerrors.CategoryAuthenticationFailed,
	},
	"3D6": {
		Code:        "3D6",
		Display:     "3DS UNAVAILABLE",
		Description: "Authentication could not be performed",
		IsDeclined:  true,
		IsRetriable: true,
		Category:    pkgerrors.CategoryAuthenticationFailed,
	},
}

// GetResponseCode returns information about a response code. Unknown codes are
// declines: anything but approval or a challenge request ends the attempt.
func GetResponseCode(code string) ResponseCodeInfo {
	if info, ok := responseCodes[code]; ok {
		return info
	}
	return ResponseCodeInfo{
		Code:        code,
		Display:     "UNKNOWN",
		Description: "Unknown response code",
		IsDeclined:  true,
		Category:    pkgerrors.CategoryDeclined,
	}
}

// IsApprovalCode reports whether code means approved
func IsApprovalCode(code string) bool {
	return code == isoApproved
}

// IsChallengeCode reports whether code asks for step-up authentication
func IsChallengeCode(code string) bool {
	return code == isoChallengeRequired
}
