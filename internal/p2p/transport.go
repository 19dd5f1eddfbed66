// Package p2p реализует прямой обмен сообщениями между экземплярами сервиса поверх WebSocket.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mmeshcher/accessgate/internal/share"
)

const (
	// MaxMessageSize предел размера одного принимаемого сообщения.
	MaxMessageSize = 8 << 20

	// PeerHeader заголовок, в котором отправитель сообщает свой адрес.
	PeerHeader = "X-Peer-ID"

	defaultTimeout = 30 * time.Second
	ackMessage     = "ack"
	nackPrefix     = "nack: "
)

// ErrPeerNotFound возвращается, когда по адресу нет узла с таким идентификатором.
var ErrPeerNotFound = errors.New("peer not found")

// Receiver обрабатывает принятое сообщение. Ошибка возвращается отправителю как отказ.
type Receiver func(from string, payload []byte) error

// Transport адресует узлы строкой вида <uuid>@<host:port>.
type Transport struct {
	advertise string
	onReceive Receiver
	logger    *zap.Logger
	dialer    *websocket.Dialer
	upgrader  websocket.Upgrader

	mu    sync.RWMutex
	token string
}

var _ share.Transport = (*Transport)(nil)

// New создаёт транспорт, доступный другим узлам по адресу advertiseAddr.
func New(advertiseAddr string, logger *zap.Logger, onReceive Receiver) *Transport {
	return &Transport{
		advertise: advertiseAddr,
		onReceive: onReceive,
		logger:    logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		upgrader: websocket.Upgrader{
			// узлы обращаются друг к другу напрямую, без браузера
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Initialize выдаёт локальный идентификатор узла. Повторные вызовы возвращают тот же идентификатор.
func (t *Transport) Initialize(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, _, err := net.SplitHostPort(t.advertise); err != nil {
		return "", fmt.Errorf("invalid advertise address %q: %w", t.advertise, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token == "" {
		t.token = uuid.NewString()
	}

	return t.token + "@" + t.advertise, nil
}

func (t *Transport) localPeerID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.token == "" {
		return ""
	}
	return t.token + "@" + t.advertise
}

// ParsePeerID разбирает идентификатор узла на токен и сетевой адрес.
func ParsePeerID(peerID string) (token, addr string, err error) {
	token, addr, ok := strings.Cut(strings.TrimSpace(peerID), "@")
	if !ok {
		return "", "", fmt.Errorf("invalid peer id %q", peerID)
	}
	if _, err := uuid.Parse(token); err != nil {
		return "", "", fmt.Errorf("invalid peer id %q: %w", peerID, err)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return "", "", fmt.Errorf("invalid peer address %q: %w", addr, err)
	}
	return token, addr, nil
}

// Connect устанавливает соединение с удалённым узлом.
func (t *Transport) Connect(ctx context.Context, remotePeerID string) (share.Conn, error) {
	token, addr, err := ParsePeerID(remotePeerID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if local := t.localPeerID(); local != "" {
		header.Set(PeerHeader, local)
	}

	url := fmt.Sprintf("ws://%s/p2p/%s", addr, token)
	ws, resp, err := t.dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ErrPeerNotFound
		}
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	return &conn{ws: ws}, nil
}

type conn struct {
	ws *websocket.Conn
}

// Send передаёт сообщение одним кадром и ждёт подтверждения получателя.
func (c *conn) Send(ctx context.Context, payload []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultTimeout)
	}

	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return err
	}
	_, reply, err := c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("read acknowledgement: %w", err)
	}

	switch text := string(reply); {
	case text == ackMessage:
		return nil
	case strings.HasPrefix(text, nackPrefix):
		return fmt.Errorf("peer rejected message: %s", strings.TrimPrefix(text, nackPrefix))
	default:
		return fmt.Errorf("unexpected reply %q", text)
	}
}

func (c *conn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// Handler принимает входящие соединения на маршруте /p2p/{peerID}.
func (t *Transport) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.mu.RLock()
		token := t.token
		t.mu.RUnlock()

		if token == "" || chi.URLParam(r, "peerID") != token {
			http.Error(w, "peer not found", http.StatusNotFound)
			return
		}

		ws, err := t.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer ws.Close()

		from := r.Header.Get(PeerHeader)

		ws.SetReadLimit(MaxMessageSize)
		_ = ws.SetReadDeadline(time.Now().Add(defaultTimeout))

		_, payload, err := ws.ReadMessage()
		if err != nil {
			t.logger.Warn("read peer message failed", zap.String("from", from), zap.Error(err))
			return
		}

		reply := ackMessage
		if err := t.onReceive(from, payload); err != nil {
			t.logger.Warn("peer message rejected", zap.String("from", from), zap.Error(err))
			reply = nackPrefix + err.Error()
		} else {
			t.logger.Info("peer message received", zap.String("from", from), zap.Int("bytes", len(payload)))
		}

		_ = ws.SetWriteDeadline(time.Now().Add(defaultTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			t.logger.Warn("write acknowledgement failed", zap.String("from", from), zap.Error(err))
		}
	}
}
