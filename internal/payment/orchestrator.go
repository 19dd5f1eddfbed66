// Package payment проводит оплату доступа через кошелёк Lightning и зачисляет её на баланс.
package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mmeshcher/accessgate/internal/apperr"
	"github.com/mmeshcher/accessgate/internal/model"
	"github.com/mmeshcher/accessgate/internal/wallet"
)

const (
	defaultMemo = "Access payment"

	// предел на зачисление после подтверждения оплаты
	settleTimeout = 10 * time.Second
)

// Wallet описывает возможности кошелька, которыми пользуется оркестратор.
// Ошибки кошелька не структурированы и классифицируются по тексту.
type Wallet interface {
	Enable(ctx context.Context) error
	GetInfo(ctx context.Context) (*wallet.Info, error)
	MakeInvoice(ctx context.Context, req wallet.InvoiceRequest) (*wallet.Invoice, error)
	SendPayment(ctx context.Context, paymentRequest string) (*wallet.PaymentResponse, error)
}

// Ledger описывает баланс, на который зачисляется подтверждённая оплата.
type Ledger interface {
	Credit(ctx context.Context, amount int64) (int64, error)
}

// Orchestrator проводит протокол подключение -> счёт -> оплата -> проверка.
// Одновременно выполняется не более одной оплаты.
type Orchestrator struct {
	wallet    Wallet
	ledger    Ledger
	logger    *zap.Logger
	payerName string
	now       func() time.Time

	inFlight *semaphore.Weighted

	mu    sync.RWMutex
	state State
}

// NewOrchestrator создаёт оркестратор. wallet может быть nil, тогда оплата завершается NotConnected.
func NewOrchestrator(w Wallet, ledger Ledger, payerName string, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		wallet:    w,
		ledger:    ledger,
		logger:    logger,
		payerName: payerName,
		now:       time.Now,
		inFlight:  semaphore.NewWeighted(1),
		state:     StateDisconnected,
	}
}

// State возвращает текущий этап протокола.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// MakePayment оплачивает amount сатоши и зачисляет их на баланс после проверки прообраза.
// Если оплата уже выполняется, вызов ничего не делает и возвращает OperationInFlight.
func (o *Orchestrator) MakePayment(ctx context.Context, amount int64, memo string) (*model.Receipt, error) {
	if !o.inFlight.TryAcquire(1) {
		return nil, apperr.New(apperr.OperationInFlight)
	}
	defer o.inFlight.Release(1)

	o.reset()

	receipt, err := o.run(ctx, amount, memo)
	if err != nil {
		classified := Classify(err)
		o.advance(StateFailed)
		o.logger.Warn("payment failed",
			zap.String("kind", string(classified.Kind)),
			zap.Int64("amount", amount),
			zap.Error(err),
		)
		return nil, classified
	}

	o.advance(StateVerified)
	return receipt, nil
}

func (o *Orchestrator) run(ctx context.Context, amount int64, memo string) (*model.Receipt, error) {
	if amount <= 0 {
		return nil, apperr.New(apperr.InvalidAmount)
	}
	if o.wallet == nil {
		return nil, apperr.New(apperr.NotConnected)
	}

	o.advance(StateConnecting)
	if err := o.wallet.Enable(ctx); err != nil {
		return nil, err
	}
	info, err := o.wallet.GetInfo(ctx)
	if err != nil {
		return nil, err
	}
	if info == nil || info.Node.Pubkey == "" {
		return nil, apperr.New(apperr.WalletVerificationFailed)
	}
	o.advance(StateConnected)

	if memo == "" {
		memo = defaultMemo
	}

	o.advance(StateInvoicing)
	invoice, err := o.wallet.MakeInvoice(ctx, wallet.InvoiceRequest{
		Amount:      amount,
		DefaultMemo: memo,
		PayerData: &wallet.PayerData{
			Name:       o.payerName,
			Identifier: fmt.Sprintf("%s-%d", o.payerName, o.now().UnixMilli()),
		},
	})
	if err != nil {
		return nil, err
	}
	if invoice == nil || invoice.PaymentRequest == "" {
		return nil, apperr.New(apperr.InvoiceGenerationFailed)
	}

	o.advance(StatePaying)
	paid, err := o.wallet.SendPayment(ctx, invoice.PaymentRequest)
	if err != nil {
		return nil, err
	}
	if paid == nil || paid.Preimage == "" {
		return nil, apperr.New(apperr.PaymentVerificationFailed)
	}

	// платёж уже проведён: отмена запроса вызывающим не должна лишить его зачисления
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	balance, err := o.ledger.Credit(settleCtx, amount)
	if err != nil {
		// деньги списаны, но баланс не сохранён: прообраз нужен для ручной сверки
		o.logger.Error("credit after verified payment failed",
			zap.Int64("amount", amount),
			zap.String("preimage", paid.Preimage),
			zap.Error(err),
		)
		return nil, &apperr.Error{Kind: apperr.Unknown, Message: "Payment settled but credit failed", Err: err}
	}

	o.logger.Info("payment verified",
		zap.Int64("amount", amount),
		zap.Int64("balance", balance),
		zap.String("preimage_prefix", prefix(paid.Preimage, 8)),
	)

	return &model.Receipt{Preimage: paid.Preimage, Amount: amount}, nil
}

func (o *Orchestrator) reset() {
	o.mu.Lock()
	o.state = StateDisconnected
	o.mu.Unlock()
}

func (o *Orchestrator) advance(next State) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !CanTransition(o.state, next) {
		o.logger.DPanic("illegal payment transition",
			zap.String("from", string(o.state)),
			zap.String("to", string(next)),
		)
	}
	o.state = next
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
