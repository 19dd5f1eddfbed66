// Package apperr описывает закрытую таксономию ошибок сервиса доступа.
package apperr

import (
	"errors"
	"fmt"
)

// Kind определяет вид ошибки.
type Kind string

const (
	InvalidAmount             Kind = "INVALID_AMOUNT"
	NotConnected              Kind = "NOT_CONNECTED"
	UserRejected              Kind = "USER_REJECTED"
	InsufficientFunds         Kind = "INSUFFICIENT_FUNDS"
	WalletVerificationFailed  Kind = "WALLET_VERIFICATION_FAILED"
	InvoiceGenerationFailed   Kind = "INVOICE_GENERATION_FAILED"
	PaymentVerificationFailed Kind = "PAYMENT_VERIFICATION_FAILED"
	Unknown                   Kind = "UNKNOWN"

	InvalidFormat   Kind = "INVALID_FORMAT"
	ProofMissing    Kind = "PROOF_MISSING"
	ProofTooLarge   Kind = "PROOF_TOO_LARGE"
	AlreadyRedeemed Kind = "ALREADY_REDEEMED"
	InvalidPackage  Kind = "INVALID_PACKAGE"

	TrialUnavailable Kind = "TRIAL_UNAVAILABLE"

	ShareFailed      Kind = "SHARE_FAILED"
	EncryptionFailed Kind = "ENCRYPTION_FAILED"
	DecryptionFailed Kind = "DECRYPTION_FAILED"

	OperationInFlight Kind = "OPERATION_IN_FLIGHT"
)

var defaultMessages = map[Kind]string{
	InvalidAmount:             "Invalid payment amount",
	NotConnected:              "Please connect your wallet first",
	UserRejected:              "Payment was rejected - please try again",
	InsufficientFunds:         "Insufficient funds in wallet",
	WalletVerificationFailed:  "Failed to verify wallet connection",
	InvoiceGenerationFailed:   "Failed to generate invoice",
	PaymentVerificationFailed: "Payment verification failed",
	Unknown:                   "Payment failed - please try again",
	InvalidFormat:             "Please enter the key in format: XXXXX-XXXXX-XXXXX-XXXXX",
	ProofMissing:              "Please upload your proof of payment",
	ProofTooLarge:             "Image must be less than 5MB",
	AlreadyRedeemed:           "This license key has already been used",
	InvalidPackage:            "Unknown access package",
	TrialUnavailable:          "Trial not available",
	ShareFailed:               "Failed to share conversation",
	EncryptionFailed:          "Failed to encrypt conversation",
	DecryptionFailed:          "Failed to decrypt conversation",
	OperationInFlight:         "Operation already in progress",
}

// Error описывает ошибку с видом из таксономии и отображаемым сообщением.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New создаёт ошибку указанного вида со стандартным сообщением.
func New(kind Kind) *Error {
	return &Error{Kind: kind, Message: defaultMessages[kind]}
}

// Newf создаёт ошибку указанного вида с собственным сообщением.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap создаёт ошибку указанного вида со стандартным сообщением и причиной.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: defaultMessages[kind], Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по виду, что позволяет писать errors.Is(err, apperr.New(apperr.UserRejected)).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Permanent сообщает, что повтор операции с теми же входными данными не имеет смысла.
func (e *Error) Permanent() bool {
	return e.Kind == AlreadyRedeemed
}

// As извлекает *Error из цепочки ошибок.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf возвращает вид ошибки. Ошибки вне таксономии считаются Unknown.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return Unknown
}

// DefaultMessage возвращает стандартное отображаемое сообщение для вида ошибки.
func DefaultMessage(kind Kind) string {
	return defaultMessages[kind]
}
