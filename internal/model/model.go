// Package model содержит доменные сущности сервиса доступа.
package model

import "time"

// AccessPackage описывает позицию каталога: длительность доступа и её цену.
type AccessPackage struct {
	ProductID string        `json:"product_id" validate:"required,alphanum,len=5"`
	Label     string        `json:"label" validate:"required"`
	Duration  time.Duration `json:"-" validate:"gt=0"`
	PriceSats int64         `json:"price_sats" validate:"gt=0"`
	PriceUSD  int64         `json:"price_usd" validate:"gt=0"`
}

// Minutes возвращает длительность пакета в минутах.
func (p AccessPackage) Minutes() int64 {
	return int64(p.Duration / time.Minute)
}

// GrantSource описывает способ, которым был получен доступ.
type GrantSource string

const (
	GrantSourcePayment GrantSource = "PAYMENT"
	GrantSourceLicense GrantSource = "LICENSE"
	GrantSourceTrial   GrantSource = "TRIAL"
)

// Grant описывает выданный доступ.
type Grant struct {
	Source   GrantSource
	Duration time.Duration
}

// Receipt подтверждает оплаченный счёт.
type Receipt struct {
	Preimage string
	Amount   int64
}

// LicenseRecord описывает погашенный лицензионный ключ.
type LicenseRecord struct {
	LicenseKey string    `json:"license_key"`
	ProductID  string    `json:"product_id"`
	ProofImage []byte    `json:"proof_image,omitempty"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

// TrialState содержит момент последней выдачи пробного доступа.
type TrialState struct {
	LastGrantedAt *time.Time
}

// TrialInfo описывает доступность пробного периода на указанный момент.
type TrialInfo struct {
	IsAvailable       bool
	RemainingCooldown time.Duration
}

// Sender описывает автора сообщения переписки.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderSystem Sender = "system"
)

// Message описывает одно сообщение переписки.
type Message struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	Sender    Sender `json:"sender"`
	Timestamp int64  `json:"timestamp"`
}
