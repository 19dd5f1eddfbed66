// Package wallet предоставляет клиент для локального моста к кошельку Lightning.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Node описывает узел кошелька.
type Node struct {
	Pubkey string `json:"pubkey"`
	Alias  string `json:"alias,omitempty"`
}

// Info описывает ответ кошелька на запрос сведений об узле.
type Info struct {
	Node Node `json:"node"`
}

// PayerData описывает данные плательщика, передаваемые в счёт.
type PayerData struct {
	Name       string `json:"name,omitempty"`
	Identifier string `json:"identifier,omitempty"`
}

// InvoiceRequest описывает запрос на выставление счёта.
type InvoiceRequest struct {
	Amount      int64      `json:"amount"`
	DefaultMemo string     `json:"defaultMemo,omitempty"`
	PayerData   *PayerData `json:"payerData,omitempty"`
}

// Invoice описывает выставленный счёт.
type Invoice struct {
	PaymentRequest string `json:"paymentRequest"`
}

// PaymentResponse описывает ответ кошелька на оплату счёта.
type PaymentResponse struct {
	Preimage string `json:"preimage"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client инкапсулирует HTTP-взаимодействие с мостом кошелька.
// Сообщения об ошибках моста передаются вызывающему как есть.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент для обращения к мосту кошелька по указанному адресу.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// Enable запрашивает у кошелька разрешение на работу.
func (c *Client) Enable(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/enable", nil, nil)
}

// GetInfo возвращает сведения об узле кошелька.
func (c *Client) GetInfo(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.do(ctx, http.MethodGet, "/info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// MakeInvoice выставляет счёт на указанную сумму в сатоши.
func (c *Client) MakeInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	var inv Invoice
	if err := c.do(ctx, http.MethodPost, "/invoices", req, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// SendPayment оплачивает счёт и возвращает прообраз платежа.
func (c *Client) SendPayment(ctx context.Context, paymentRequest string) (*PaymentResponse, error) {
	var resp PaymentResponse
	body := map[string]string{"paymentRequest": paymentRequest}
	if err := c.do(ctx, http.MethodPost, "/payments", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c == nil || c.baseURL == "" {
		return errors.New("wallet not connected")
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e); err == nil && e.Error != "" {
			return errors.New(e.Error)
		}
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
