// Package license погашает одноразовые лицензионные ключи с защитой от повторного использования.
package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/accessgate/internal/apperr"
	"github.com/mmeshcher/accessgate/internal/model"
	"github.com/mmeshcher/accessgate/internal/repository"
	"github.com/mmeshcher/accessgate/internal/validation"
)

// MaxProofSize предельный размер изображения с подтверждением оплаты.
const MaxProofSize = 5 << 20

// Store описывает хранилище погашенных ключей с ограничением уникальности по ключу.
// InsertLicense возвращает repository.ErrLicenseExists, если ключ уже сохранён.
type Store interface {
	InsertLicense(ctx context.Context, rec model.LicenseRecord) error
	ListLicenses(ctx context.Context) ([]model.LicenseRecord, error)
}

// Catalog описывает поиск пакета доступа по идентификатору продукта.
type Catalog interface {
	ByProductID(id string) (model.AccessPackage, bool)
}

// Redeemer проверяет и погашает лицензионные ключи.
type Redeemer struct {
	store   Store
	catalog Catalog
	logger  *zap.Logger
	now     func() time.Time
}

// NewRedeemer создаёт погашатель ключей.
func NewRedeemer(store Store, catalog Catalog, logger *zap.Logger) *Redeemer {
	return &Redeemer{
		store:   store,
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
}

// Redeem проверяет ключ и подтверждение, атомарно сохраняет запись и возвращает доступ
// на длительность купленного пакета. Проверки идут по порядку, первая неудачная прерывает погашение.
func (r *Redeemer) Redeem(ctx context.Context, key, productID string, proof []byte) (model.Grant, error) {
	if !validation.IsValidLicenseKey(key) {
		return model.Grant{}, apperr.New(apperr.InvalidFormat)
	}
	if len(proof) == 0 {
		return model.Grant{}, apperr.New(apperr.ProofMissing)
	}
	if len(proof) > MaxProofSize {
		return model.Grant{}, apperr.New(apperr.ProofTooLarge)
	}

	pkg, ok := r.catalog.ByProductID(productID)
	if !ok {
		return model.Grant{}, apperr.New(apperr.InvalidPackage)
	}

	rec := model.LicenseRecord{
		LicenseKey: key,
		ProductID:  pkg.ProductID,
		ProofImage: proof,
		RedeemedAt: r.now().UTC(),
	}

	if err := r.store.InsertLicense(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrLicenseExists) {
			r.logger.Warn("license replay rejected", zap.String("product", pkg.ProductID))
			return model.Grant{}, apperr.Wrap(apperr.AlreadyRedeemed, err)
		}
		return model.Grant{}, fmt.Errorf("save license: %w", err)
	}

	r.logger.Info("license redeemed",
		zap.String("product", pkg.ProductID),
		zap.Int("proof_bytes", len(proof)),
	)

	return model.Grant{Source: model.GrantSourceLicense, Duration: pkg.Duration}, nil
}

// History возвращает погашенные ключи, начиная с последних.
func (r *Redeemer) History(ctx context.Context) ([]model.LicenseRecord, error) {
	return r.store.ListLicenses(ctx)
}
