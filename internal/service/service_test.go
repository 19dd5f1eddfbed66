package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/accessgate/internal/apperr"
	"github.com/mmeshcher/accessgate/internal/catalog"
	"github.com/mmeshcher/accessgate/internal/ledger"
	"github.com/mmeshcher/accessgate/internal/model"
	"github.com/mmeshcher/accessgate/internal/payment"
	"github.com/mmeshcher/accessgate/internal/share"
	"github.com/mmeshcher/accessgate/internal/trial"
	"github.com/mmeshcher/accessgate/internal/wallet"
)

type memStore struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

type stubWallet struct {
	memo   string
	amount int64
	payErr error
}

func (w *stubWallet) Enable(ctx context.Context) error { return nil }

func (w *stubWallet) GetInfo(ctx context.Context) (*wallet.Info, error) {
	return &wallet.Info{Node: wallet.Node{Pubkey: "02abc"}}, nil
}

func (w *stubWallet) MakeInvoice(ctx context.Context, req wallet.InvoiceRequest) (*wallet.Invoice, error) {
	w.memo = req.DefaultMemo
	w.amount = req.Amount
	return &wallet.Invoice{PaymentRequest: "lnbc1"}, nil
}

func (w *stubWallet) SendPayment(ctx context.Context, paymentRequest string) (*wallet.PaymentResponse, error) {
	if w.payErr != nil {
		return nil, w.payErr
	}
	return &wallet.PaymentResponse{Preimage: "preimage"}, nil
}

type stubLicenses struct {
	key, productID string
	grant          model.Grant
	err            error
}

func (l *stubLicenses) Redeem(ctx context.Context, key, productID string, proof []byte) (model.Grant, error) {
	l.key, l.productID = key, productID
	return l.grant, l.err
}

func (l *stubLicenses) History(ctx context.Context) ([]model.LicenseRecord, error) {
	return nil, nil
}

type stubInbox struct {
	items []share.Received
}

func (i *stubInbox) List() []share.Received { return i.items }

func newPaymentService(t *testing.T, w *stubWallet) (*Service, *ledger.Ledger) {
	t.Helper()

	l := ledger.New(&memStore{values: map[string]string{}})
	orch := payment.NewOrchestrator(w, l, "accessgate", zap.NewNop())

	return NewService(Deps{
		Catalog:  catalog.Default(),
		Ledger:   l,
		Payments: orch,
	}), l
}

func TestPurchase_CreditsPriceAndGrantsDuration(t *testing.T) {
	w := &stubWallet{}
	svc, l := newPaymentService(t, w)

	res, err := svc.Purchase(context.Background(), "cThEx")
	if err != nil {
		t.Fatalf("Purchase error: %v", err)
	}

	if res.Grant.Source != model.GrantSourcePayment || res.Grant.Duration != 10*time.Minute {
		t.Fatalf("unexpected grant: %+v", res.Grant)
	}
	if res.Receipt.Amount != 4000 || w.amount != 4000 {
		t.Fatalf("paid %d, receipt %d, want 4000", w.amount, res.Receipt.Amount)
	}
	if w.memo != "Access: 10 minutes" {
		t.Fatalf("memo = %q", w.memo)
	}

	balance, err := l.Balance(context.Background())
	if err != nil || balance != 4000 {
		t.Fatalf("balance = %d, %v; want 4000", balance, err)
	}
	if svc.PaymentState() != payment.StateVerified {
		t.Fatalf("state = %s, want VERIFIED", svc.PaymentState())
	}
}

func TestPurchase_UnknownPackage(t *testing.T) {
	svc, _ := newPaymentService(t, &stubWallet{})

	_, err := svc.Purchase(context.Background(), "nope0")
	if apperr.KindOf(err) != apperr.InvalidPackage {
		t.Fatalf("kind = %s, want INVALID_PACKAGE", apperr.KindOf(err))
	}
}

func TestPurchase_RejectedLeavesBalance(t *testing.T) {
	svc, l := newPaymentService(t, &stubWallet{payErr: errors.New("User rejected the request")})

	_, err := svc.Purchase(context.Background(), "2wOUu")
	if apperr.KindOf(err) != apperr.UserRejected {
		t.Fatalf("kind = %s, want USER_REJECTED", apperr.KindOf(err))
	}

	balance, _ := l.Balance(context.Background())
	if balance != 0 {
		t.Fatalf("balance = %d after rejected payment", balance)
	}
}

func TestTrial_UsesServiceClock(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	gk := trial.NewGatekeeper(&memStore{values: map[string]string{}}, 24*time.Hour, 10*time.Minute)

	svc := NewService(Deps{Trials: gk})
	svc.now = func() time.Time { return now }

	grant, err := svc.StartTrial(context.Background())
	if err != nil || grant.Duration != 10*time.Minute {
		t.Fatalf("StartTrial = %+v, %v", grant, err)
	}

	now = now.Add(time.Hour)
	info, err := svc.TrialInfo(context.Background())
	if err != nil {
		t.Fatalf("TrialInfo error: %v", err)
	}
	if info.IsAvailable || info.RemainingCooldown != 23*time.Hour {
		t.Fatalf("unexpected trial info: %+v", info)
	}
}

func TestRedeemLicense_PassThrough(t *testing.T) {
	lic := &stubLicenses{grant: model.Grant{Source: model.GrantSourceLicense, Duration: time.Hour}}
	svc := NewService(Deps{Licenses: lic})

	grant, err := svc.RedeemLicense(context.Background(), "ABCDE-12345-FGHIJ-67890", "Dm7O3", []byte{1})
	if err != nil || grant.Duration != time.Hour {
		t.Fatalf("RedeemLicense = %+v, %v", grant, err)
	}
	if lic.key != "ABCDE-12345-FGHIJ-67890" || lic.productID != "Dm7O3" {
		t.Fatalf("arguments not forwarded: %+v", lic)
	}
}

func TestDecrypt_FromInbox(t *testing.T) {
	transcript := []model.Message{{ID: 1, Text: "hi", Sender: model.SenderUser, Timestamp: 1}}
	env, err := share.Encrypt(transcript, "secret")
	if err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}

	svc := NewService(Deps{Inbox: &stubInbox{items: []share.Received{{From: "peer", Envelope: env}}}})

	got, err := svc.Decrypt(nil, env.ID, "secret")
	if err != nil || len(got) != 1 || got[0].Text != "hi" {
		t.Fatalf("Decrypt = %+v, %v", got, err)
	}

	_, err = svc.Decrypt(nil, "missing", "secret")
	if apperr.KindOf(err) != apperr.DecryptionFailed {
		t.Fatalf("kind = %s, want DECRYPTION_FAILED", apperr.KindOf(err))
	}
}
