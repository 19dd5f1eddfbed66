// Package service связывает компоненты выдачи доступа в единый фасад для HTTP-слоя.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/accessgate/internal/apperr"
	"github.com/mmeshcher/accessgate/internal/model"
	"github.com/mmeshcher/accessgate/internal/payment"
	"github.com/mmeshcher/accessgate/internal/share"
)

// Catalog описывает справочник пакетов доступа.
type Catalog interface {
	Packages() []model.AccessPackage
	ByProductID(id string) (model.AccessPackage, bool)
}

// Ledger описывает чтение баланса кредитов.
type Ledger interface {
	Balance(ctx context.Context) (int64, error)
}

// Payments описывает проведение платежа через кошелёк.
type Payments interface {
	MakePayment(ctx context.Context, amount int64, memo string) (*model.Receipt, error)
	State() payment.State
}

// Licenses описывает погашение лицензионных ключей.
type Licenses interface {
	Redeem(ctx context.Context, key, productID string, proof []byte) (model.Grant, error)
	History(ctx context.Context) ([]model.LicenseRecord, error)
}

// Trials описывает выдачу пробного доступа.
type Trials interface {
	Evaluate(ctx context.Context, now time.Time) (model.TrialInfo, error)
	Grant(ctx context.Context, now time.Time) (model.Grant, error)
}

// Sharer описывает шифрование и отправку переписки.
type Sharer interface {
	Initialize(ctx context.Context) (string, error)
	Encrypt(transcript []model.Message, password string) (*share.Envelope, error)
	Send(ctx context.Context, remotePeerID string, env *share.Envelope) error
}

// Inbox описывает хранилище полученных конвертов.
type Inbox interface {
	List() []share.Received
}

// Deps набор зависимостей сервиса.
type Deps struct {
	Catalog  Catalog
	Ledger   Ledger
	Payments Payments
	Licenses Licenses
	Trials   Trials
	Sharer   Sharer
	Inbox    Inbox
}

// Service фасад над компонентами выдачи доступа.
type Service struct {
	catalog  Catalog
	ledger   Ledger
	payments Payments
	licenses Licenses
	trials   Trials
	sharer   Sharer
	inbox    Inbox
	now      func() time.Time
}

// NewService создаёт сервис из готовых компонентов.
func NewService(d Deps) *Service {
	return &Service{
		catalog:  d.Catalog,
		ledger:   d.Ledger,
		payments: d.Payments,
		licenses: d.Licenses,
		trials:   d.Trials,
		sharer:   d.Sharer,
		inbox:    d.Inbox,
		now:      time.Now,
	}
}

// PurchaseResult итог успешной покупки пакета.
type PurchaseResult struct {
	Receipt *model.Receipt
	Grant   model.Grant
}

// Catalog возвращает доступные пакеты.
func (s *Service) Catalog() []model.AccessPackage {
	return s.catalog.Packages()
}

// Balance возвращает текущий баланс кредитов.
func (s *Service) Balance(ctx context.Context) (int64, error) {
	return s.ledger.Balance(ctx)
}

// Purchase оплачивает пакет через кошелёк и возвращает выданный доступ.
func (s *Service) Purchase(ctx context.Context, productID string) (*PurchaseResult, error) {
	pkg, ok := s.catalog.ByProductID(productID)
	if !ok {
		return nil, apperr.New(apperr.InvalidPackage)
	}

	memo := fmt.Sprintf("Access: %d minutes", pkg.Minutes())
	receipt, err := s.payments.MakePayment(ctx, pkg.PriceSats, memo)
	if err != nil {
		return nil, err
	}

	return &PurchaseResult{
		Receipt: receipt,
		Grant:   model.Grant{Source: model.GrantSourcePayment, Duration: pkg.Duration},
	}, nil
}

// PaymentState возвращает текущее состояние платёжного процесса.
func (s *Service) PaymentState() payment.State {
	return s.payments.State()
}

// RedeemLicense погашает лицензионный ключ с подтверждением покупки.
func (s *Service) RedeemLicense(ctx context.Context, key, productID string, proof []byte) (model.Grant, error) {
	return s.licenses.Redeem(ctx, key, productID, proof)
}

// LicenseHistory возвращает погашенные ключи.
func (s *Service) LicenseHistory(ctx context.Context) ([]model.LicenseRecord, error) {
	return s.licenses.History(ctx)
}

// TrialInfo сообщает, доступен ли пробный период и сколько ждать до следующего.
func (s *Service) TrialInfo(ctx context.Context) (model.TrialInfo, error) {
	return s.trials.Evaluate(ctx, s.now())
}

// StartTrial выдаёт пробный доступ, если период ожидания истёк.
func (s *Service) StartTrial(ctx context.Context) (model.Grant, error) {
	return s.trials.Grant(ctx, s.now())
}

// ShareInit готовит транспорт и возвращает локальный адрес для обмена.
func (s *Service) ShareInit(ctx context.Context) (string, error) {
	return s.sharer.Initialize(ctx)
}

// Encrypt шифрует переписку паролем.
func (s *Service) Encrypt(transcript []model.Message, password string) (*share.Envelope, error) {
	return s.sharer.Encrypt(transcript, password)
}

// Send отправляет конверт удалённому узлу.
func (s *Service) Send(ctx context.Context, remotePeerID string, env *share.Envelope) error {
	return s.sharer.Send(ctx, remotePeerID, env)
}

// Inbox возвращает полученные конверты.
func (s *Service) Inbox() []share.Received {
	return s.inbox.List()
}

// Decrypt расшифровывает конверт. Если env пуст, конверт ищется во входящих по envelopeID.
func (s *Service) Decrypt(env *share.Envelope, envelopeID, password string) ([]model.Message, error) {
	if env == nil && envelopeID != "" {
		for _, rec := range s.inbox.List() {
			if rec.Envelope != nil && rec.Envelope.ID == envelopeID {
				env = rec.Envelope
				break
			}
		}
		if env == nil {
			return nil, apperr.Newf(apperr.DecryptionFailed, "Conversation not found")
		}
	}
	return share.Decrypt(env, password)
}
