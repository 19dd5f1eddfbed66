// Package handler содержит HTTP-обработчики API сервиса доступа.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/accessgate/internal/apperr"
	"github.com/mmeshcher/accessgate/internal/catalog"
	"github.com/mmeshcher/accessgate/internal/license"
	"github.com/mmeshcher/accessgate/internal/middleware"
	"github.com/mmeshcher/accessgate/internal/model"
	"github.com/mmeshcher/accessgate/internal/p2p"
	"github.com/mmeshcher/accessgate/internal/payment"
	"github.com/mmeshcher/accessgate/internal/service"
	"github.com/mmeshcher/accessgate/internal/share"
	"github.com/mmeshcher/accessgate/internal/trial"
	"github.com/mmeshcher/accessgate/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Catalog() []model.AccessPackage
	Balance(ctx context.Context) (int64, error)
	Purchase(ctx context.Context, productID string) (*service.PurchaseResult, error)
	PaymentState() payment.State
	RedeemLicense(ctx context.Context, key, productID string, proof []byte) (model.Grant, error)
	LicenseHistory(ctx context.Context) ([]model.LicenseRecord, error)
	TrialInfo(ctx context.Context) (model.TrialInfo, error)
	StartTrial(ctx context.Context) (model.Grant, error)
	ShareInit(ctx context.Context) (string, error)
	Encrypt(transcript []model.Message, password string) (*share.Envelope, error)
	Send(ctx context.Context, remotePeerID string, env *share.Envelope) error
	Inbox() []share.Received
	Decrypt(env *share.Envelope, envelopeID, password string) ([]model.Message, error)
}

// Handler реализует HTTP-обработчики API сервиса доступа.
type Handler struct {
	service        Service
	logger         *zap.Logger
	access         *middleware.AccessMiddleware
	licenseLimiter *middleware.RateLimiter
	peer           http.Handler
}

// NewHandler создаёт обработчик. peer принимает входящие P2P-соединения и может быть nil.
func NewHandler(s Service, logger *zap.Logger, access *middleware.AccessMiddleware, licenseLimiter *middleware.RateLimiter, peer http.Handler) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		access:         access,
		licenseLimiter: licenseLimiter,
		peer:           peer,
	}
}

type errorResponse struct {
	Kind  apperr.Kind `json:"kind"`
	Error string      `json:"error"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.InvalidAmount, apperr.InvalidFormat, apperr.ProofMissing, apperr.InvalidPackage,
		apperr.EncryptionFailed:
		return http.StatusBadRequest
	case apperr.ProofTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperr.AlreadyRedeemed, apperr.OperationInFlight:
		return http.StatusConflict
	case apperr.TrialUnavailable:
		return http.StatusTooManyRequests
	case apperr.UserRejected, apperr.InsufficientFunds:
		return http.StatusPaymentRequired
	case apperr.NotConnected:
		return http.StatusServiceUnavailable
	case apperr.DecryptionFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

// writeError отвечает видом и сообщением ошибки. Ошибки вне таксономии скрываются за 500.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		h.logger.Error(op+" error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Kind:  apperr.Unknown,
			Error: http.StatusText(http.StatusInternalServerError),
		})
		return
	}

	writeJSON(w, statusFor(appErr.Kind), errorResponse{Kind: appErr.Kind, Error: appErr.Message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// предел тела JSON-запроса, конверт в нём не больше сообщения P2P
const maxJSONBody = p2p.MaxMessageSize

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// badRequest отвечает 413 на превышение предела тела и 400 на остальные ошибки разбора.
func badRequest(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
}

type grantResponse struct {
	Source    model.GrantSource `json:"source"`
	Minutes   int64             `json:"minutes"`
	ExpiresAt string            `json:"expires_at"`
}

// grant продлевает окно доступа клиента и описывает выданный доступ.
func (h *Handler) grant(w http.ResponseWriter, r *http.Request, g model.Grant) grantResponse {
	expiresAt := h.access.Extend(r.Context(), g.Duration)
	h.access.SetAccessCookie(w, expiresAt)

	return grantResponse{
		Source:    g.Source,
		Minutes:   int64(g.Duration / time.Minute),
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	}
}

type packageResponse struct {
	ProductID   string `json:"product_id"`
	Label       string `json:"label"`
	Minutes     int64  `json:"minutes"`
	PriceSats   int64  `json:"price_sats"`
	PriceUSD    int64  `json:"price_usd"`
	CheckoutURL string `json:"checkout_url"`
}

// GetCatalog возвращает пакеты доступа.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	pkgs := h.service.Catalog()

	resp := make([]packageResponse, 0, len(pkgs))
	for _, p := range pkgs {
		resp = append(resp, packageResponse{
			ProductID:   p.ProductID,
			Label:       p.Label,
			Minutes:     p.Minutes(),
			PriceSats:   p.PriceSats,
			PriceUSD:    p.PriceUSD,
			CheckoutURL: catalog.CheckoutURL(p),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetBalance возвращает баланс кредитов.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.Balance(r.Context())
	if err != nil {
		h.writeError(w, "get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"credits": balance, "has_balance": balance > 0})
}

type purchaseRequest struct {
	ProductID string `json:"product_id"`
}

type purchaseResponse struct {
	grantResponse
	Preimage string `json:"preimage"`
	Amount   int64  `json:"amount"`
}

// Purchase оплачивает пакет через кошелёк.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}

	res, err := h.service.Purchase(r.Context(), req.ProductID)
	if err != nil {
		h.writeError(w, "purchase", err)
		return
	}

	writeJSON(w, http.StatusOK, purchaseResponse{
		grantResponse: h.grant(w, r, res.Grant),
		Preimage:      res.Receipt.Preimage,
		Amount:        res.Receipt.Amount,
	})
}

// GetPaymentState возвращает этап текущего или последнего платежа.
func (h *Handler) GetPaymentState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]payment.State{"state": h.service.PaymentState()})
}

// запас на поля формы и служебные заголовки multipart
const multipartOverhead = 1 << 20

// предел размера текстового поля формы
const maxFieldSize = 256

// RedeemLicense погашает лицензионный ключ. Ожидает multipart-форму с полями key, product_id и файлом proof.
// Порядок проверок задаёт погашение, поэтому даже слишком большое тело доходит до него с прочитанными полями.
func (h *Handler) RedeemLicense(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, license.MaxProofSize+multipartOverhead)

	form, err := readLicenseForm(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	key := validation.NormalizeLicenseKey(form.key)

	g, err := h.service.RedeemLicense(r.Context(), key, form.productID, form.proof)
	if err != nil {
		h.writeError(w, "redeem license", err)
		return
	}

	writeJSON(w, http.StatusOK, h.grant(w, r, g))
}

type licenseForm struct {
	key       string
	productID string
	proof     []byte
}

// readLicenseForm читает форму потоком. Изображение читается на байт больше предела,
// чтобы погашение увидело превышение. Если тело обрезано по общему пределу,
// уже прочитанные поля сохраняются, а изображение считается слишком большим.
func readLicenseForm(r *http.Request) (licenseForm, error) {
	var form licenseForm

	mr, err := r.MultipartReader()
	if err != nil {
		return form, err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return form, nil
		}
		if err != nil {
			return truncated(form, err)
		}

		switch part.FormName() {
		case "key":
			form.key, err = readField(part)
		case "product_id":
			form.productID, err = readField(part)
		case "proof":
			form.proof, err = io.ReadAll(io.LimitReader(part, license.MaxProofSize+1))
		}
		part.Close()
		if err != nil {
			return truncated(form, err)
		}
	}
}

func readField(part io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(part, maxFieldSize))
	return string(b), err
}

func truncated(form licenseForm, err error) (licenseForm, error) {
	var tooLarge *http.MaxBytesError
	if !errors.As(err, &tooLarge) {
		return form, err
	}
	if len(form.proof) <= license.MaxProofSize {
		form.proof = make([]byte, license.MaxProofSize+1)
	}
	return form, nil
}

// GetLicenses возвращает историю погашенных ключей.
func (h *Handler) GetLicenses(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.LicenseHistory(r.Context())
	if err != nil {
		h.writeError(w, "get licenses", err)
		return
	}

	if len(records) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

type trialResponse struct {
	Available        bool   `json:"available"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	Remaining        string `json:"remaining"`
}

// GetTrial сообщает, доступен ли пробный период.
func (h *Handler) GetTrial(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.TrialInfo(r.Context())
	if err != nil {
		h.writeError(w, "get trial", err)
		return
	}

	writeJSON(w, http.StatusOK, trialResponse{
		Available:        info.IsAvailable,
		RemainingSeconds: int64(info.RemainingCooldown / time.Second),
		Remaining:        trial.FormatCooldown(info.RemainingCooldown),
	})
}

// StartTrial выдаёт пробный доступ.
func (h *Handler) StartTrial(w http.ResponseWriter, r *http.Request) {
	g, err := h.service.StartTrial(r.Context())
	if err != nil {
		h.writeError(w, "start trial", err)
		return
	}

	writeJSON(w, http.StatusOK, h.grant(w, r, g))
}

// GetAccess сообщает оставшееся время доступа клиента.
func (h *Handler) GetAccess(w http.ResponseWriter, r *http.Request) {
	expiresAt, ok := middleware.ExpiresFromContext(r.Context())
	remaining := time.Until(expiresAt)
	if !ok || remaining <= 0 {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"expires_at":        expiresAt.UTC().Format(time.RFC3339),
		"remaining_seconds": int64(remaining / time.Second),
	})
}

// ShareInit возвращает локальный адрес узла для обмена.
func (h *Handler) ShareInit(w http.ResponseWriter, r *http.Request) {
	id, err := h.service.ShareInit(r.Context())
	if err != nil {
		h.writeError(w, "share init", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"peer_id": id})
}

type encryptRequest struct {
	Messages []model.Message `json:"messages"`
	Password string          `json:"password"`
}

// Encrypt шифрует переписку и возвращает конверт.
func (h *Handler) Encrypt(w http.ResponseWriter, r *http.Request) {
	var req encryptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}

	env, err := h.service.Encrypt(req.Messages, req.Password)
	if err != nil {
		h.writeError(w, "encrypt", err)
		return
	}

	writeJSON(w, http.StatusOK, env)
}

type sendRequest struct {
	PeerID   string          `json:"peer_id"`
	Envelope *share.Envelope `json:"envelope"`
}

// Send передаёт конверт удалённому узлу.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}

	if err := h.service.Send(r.Context(), req.PeerID, req.Envelope); err != nil {
		h.writeError(w, "share send", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type exportRequest struct {
	Envelope *share.Envelope `json:"envelope"`
}

// Export отдаёт конверт файлом для передачи вне P2P-канала.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.Envelope == nil || req.Envelope.ID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+share.ExportFileName(req.Envelope)+`"`)
	if err := share.Export(w, req.Envelope); err != nil {
		h.logger.Error("export envelope error", zap.Error(err))
	}
}

type decryptRequest struct {
	Envelope   *share.Envelope `json:"envelope,omitempty"`
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Password   string          `json:"password"`
}

// Decrypt расшифровывает присланный конверт или конверт из входящих.
func (h *Handler) Decrypt(w http.ResponseWriter, r *http.Request) {
	var req decryptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}

	messages, err := h.service.Decrypt(req.Envelope, req.EnvelopeID, req.Password)
	if err != nil {
		h.writeError(w, "decrypt", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string][]model.Message{"messages": messages})
}

// GetInbox возвращает полученные конверты.
func (h *Handler) GetInbox(w http.ResponseWriter, r *http.Request) {
	items := h.service.Inbox()
	if len(items) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, items)
}
