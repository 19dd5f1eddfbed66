package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_FullFlow(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/enable":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && r.URL.Path == "/info":
			_ = json.NewEncoder(w).Encode(Info{Node: Node{Pubkey: "02abc", Alias: "node"}})
		case r.Method == http.MethodPost && r.URL.Path == "/invoices":
			var req InvoiceRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode invoice request: %v", err)
			}
			if req.Amount != 4000 || req.DefaultMemo != "memo" || req.PayerData == nil || req.PayerData.Name != "gate" {
				t.Fatalf("unexpected invoice request: %+v", req)
			}
			_ = json.NewEncoder(w).Encode(Invoice{PaymentRequest: "lnbc4000"})
		case r.Method == http.MethodPost && r.URL.Path == "/payments":
			var req map[string]string
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req["paymentRequest"] != "lnbc4000" {
				t.Fatalf("paymentRequest = %q", req["paymentRequest"])
			}
			_ = json.NewEncoder(w).Encode(PaymentResponse{Preimage: "deadbeef"})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL + "/")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Enable(ctx); err != nil {
		t.Fatalf("Enable error: %v", err)
	}

	info, err := client.GetInfo(ctx)
	if err != nil || info.Node.Pubkey != "02abc" {
		t.Fatalf("GetInfo = %+v, %v", info, err)
	}

	inv, err := client.MakeInvoice(ctx, InvoiceRequest{Amount: 4000, DefaultMemo: "memo", PayerData: &PayerData{Name: "gate"}})
	if err != nil || inv.PaymentRequest != "lnbc4000" {
		t.Fatalf("MakeInvoice = %+v, %v", inv, err)
	}

	res, err := client.SendPayment(ctx, inv.PaymentRequest)
	if err != nil || res.Preimage != "deadbeef" {
		t.Fatalf("SendPayment = %+v, %v", res, err)
	}
}

func TestClient_PassesWalletErrorText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "User rejected the payment"})
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).SendPayment(context.Background(), "lnbc1")
	if err == nil || err.Error() != "User rejected the payment" {
		t.Fatalf("err = %v, want wallet message", err)
	}
}

func TestClient_StatusWithoutBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	err := NewClient(ts.URL).Enable(context.Background())
	if err == nil || err.Error() != "unexpected status: 502" {
		t.Fatalf("err = %v", err)
	}
}

func TestClient_NotConfigured(t *testing.T) {
	var c *Client
	if _, err := c.GetInfo(context.Background()); err == nil || err.Error() != "wallet not connected" {
		t.Fatalf("err = %v, want wallet not connected", err)
	}

	if err := NewClient("").Enable(context.Background()); err == nil {
		t.Fatalf("expected error for empty address")
	}
}
