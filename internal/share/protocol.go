package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mmeshcher/accessgate/internal/apperr"
	"github.com/mmeshcher/accessgate/internal/model"
)

// Conn описывает установленное соединение с удалённым экземпляром.
// Send возвращает nil только после того, как получатель подтвердил приём всего сообщения.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Transport описывает внешний P2P-транспорт с адресацией по идентификатору узла.
type Transport interface {
	Initialize(ctx context.Context) (string, error)
	Connect(ctx context.Context, remotePeerID string) (Conn, error)
}

// Sharer координирует получение адреса, шифрование и отправку переписки.
type Sharer struct {
	transport Transport
	logger    *zap.Logger
	inFlight  *semaphore.Weighted

	mu          sync.RWMutex
	localPeerID string
}

// NewSharer создаёт координатор обмена поверх указанного транспорта.
func NewSharer(t Transport, logger *zap.Logger) *Sharer {
	return &Sharer{
		transport: t,
		logger:    logger,
		inFlight:  semaphore.NewWeighted(1),
	}
}

// Initialize получает у транспорта локальный адрес. Повторный вызов возвращает тот же адрес.
func (s *Sharer) Initialize(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.localPeerID != "" {
		return s.localPeerID, nil
	}

	id, err := s.transport.Initialize(ctx)
	if err != nil {
		s.logger.Warn("p2p initialize failed", zap.Error(err))
		return "", apperr.Newf(apperr.ShareFailed, "Failed to initialize P2P connection")
	}

	s.localPeerID = id
	return id, nil
}

// LocalPeerID возвращает полученный адрес или пустую строку до инициализации.
func (s *Sharer) LocalPeerID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localPeerID
}

// Encrypt шифрует переписку паролем.
func (s *Sharer) Encrypt(transcript []model.Message, password string) (*Envelope, error) {
	env, err := Encrypt(transcript, password)
	if err != nil {
		s.logger.Warn("encrypt conversation failed", zap.Error(err))
		return nil, err
	}
	return env, nil
}

// Send подключается к удалённому узлу и передаёт конверт целиком.
// Любая ошибка подключения или передачи возвращается как ShareFailed, конверт остаётся у вызывающего.
func (s *Sharer) Send(ctx context.Context, remotePeerID string, env *Envelope) error {
	if env == nil {
		return apperr.Newf(apperr.ShareFailed, "Please encrypt the conversation first")
	}
	if remotePeerID == "" {
		return apperr.Newf(apperr.ShareFailed, "Please enter a peer ID")
	}

	if !s.inFlight.TryAcquire(1) {
		return apperr.New(apperr.OperationInFlight)
	}
	defer s.inFlight.Release(1)

	payload, err := json.Marshal(env)
	if err != nil {
		return apperr.Wrap(apperr.ShareFailed, fmt.Errorf("encode envelope: %w", err))
	}

	conn, err := s.transport.Connect(ctx, remotePeerID)
	if err != nil {
		s.logger.Warn("connect to peer failed", zap.String("peer", remotePeerID), zap.Error(err))
		return apperr.Wrap(apperr.ShareFailed, err)
	}
	defer conn.Close()

	if err := conn.Send(ctx, payload); err != nil {
		s.logger.Warn("send conversation failed", zap.String("peer", remotePeerID), zap.Error(err))
		return apperr.Wrap(apperr.ShareFailed, err)
	}

	s.logger.Info("conversation shared",
		zap.String("peer", remotePeerID),
		zap.String("envelope", env.ID),
		zap.Int("bytes", len(payload)),
	)

	return nil
}

// ExportFileName имя файла для выгрузки конверта.
func ExportFileName(env *Envelope) string {
	return fmt.Sprintf("encrypted-conversation-%s.json", env.ID)
}

// Export записывает конверт в w в виде JSON, минуя транспорт.
func Export(w io.Writer, env *Envelope) error {
	if env == nil {
		return apperr.Newf(apperr.ShareFailed, "Please encrypt the conversation first")
	}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

// Import читает конверт, выгруженный Export.
func Import(r io.Reader) (*Envelope, error) {
	var env Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, apperr.Wrap(apperr.DecryptionFailed, fmt.Errorf("decode envelope: %w", err))
	}
	if env.ID == "" || len(env.Ciphertext) == 0 {
		return nil, apperr.Wrap(apperr.DecryptionFailed, errors.New("envelope is incomplete"))
	}
	return &env, nil
}

// Received описывает конверт, полученный от другого экземпляра.
type Received struct {
	From       string    `json:"from"`
	Envelope   *Envelope `json:"envelope"`
	ReceivedAt time.Time `json:"received_at"`
}

// Inbox хранит полученные конверты в памяти процесса.
type Inbox struct {
	mu    sync.RWMutex
	items []Received
	limit int
}

// NewInbox создаёт входящий ящик, хранящий не более limit последних конвертов.
func NewInbox(limit int) *Inbox {
	return &Inbox{limit: limit}
}

// Accept разбирает присланный конверт и сохраняет его.
func (in *Inbox) Accept(from string, payload []byte) error {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.ID == "" || len(env.Ciphertext) == 0 {
		return errors.New("envelope is incomplete")
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	in.items = append(in.items, Received{From: from, Envelope: &env, ReceivedAt: time.Now().UTC()})
	if in.limit > 0 && len(in.items) > in.limit {
		in.items = in.items[len(in.items)-in.limit:]
	}

	return nil
}

// List возвращает полученные конверты в порядке поступления.
func (in *Inbox) List() []Received {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return append([]Received(nil), in.items...)
}
