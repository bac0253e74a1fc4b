package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"escrow-quiz-service/internal/domain"
	"escrow-quiz-service/internal/settle"
	"github.com/shopspring/decimal"
)

func TestReceiptSourceDecodesResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Method != "eq_getOperationReceipt" || req.Params[0] != "0xhandle" {
			t.Fatalf("unexpected rpc call: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"transactionHash": "0xfeed", "logs": []any{}},
		})
	}))
	defer server.Close()

	source := NewRPCReceiptSource("bundler", server.URL, "eq_getOperationReceipt", nil)
	receipt, err := source.Receipt(context.Background(), "0xhandle")
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if receipt.Payload["transactionHash"] != "0xfeed" {
		t.Fatalf("unexpected payload: %+v", receipt.Payload)
	}
}

func TestReceiptSourceNotFound(t *testing.T) {
	replies := []string{
		`{"result": null}`,
		`{"error": {"code": -32601, "message": "method not found"}}`,
	}
	i := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(replies[i]))
		i++
	}))
	defer server.Close()

	source := NewRPCReceiptSource("bundler", server.URL, "eq_getOperationReceipt", nil)
	for range replies {
		if _, err := source.Receipt(context.Background(), "0xhandle"); !errors.Is(err, settle.ErrReceiptNotFound) {
			t.Fatalf("expected not-found, got %v", err)
		}
	}
}

func TestReceiptSourceTransportErrorIsNotNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	source := NewRPCReceiptSource("bundler", server.URL, "eq_getOperationReceipt", nil)
	_, err := source.Receipt(context.Background(), "0xhandle")
	if err == nil || errors.Is(err, settle.ErrReceiptNotFound) {
		t.Fatalf("expected transport error distinct from not-found, got %v", err)
	}
}

func TestRelaySubmitSettlement(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settlements" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Creator != "0xabc" {
			t.Fatalf("unexpected creator %s", req.Creator)
		}
		_ = json.NewEncoder(w).Encode(submitResponse{Handle: "0xop"})
	}))
	defer server.Close()

	client := NewRelayClient(server.URL, nil)
	handle, err := client.SubmitSettlement(context.Background(), domain.RewardConfig{
		FundingAmount: decimal.NewFromInt(10),
	}, "0xabc")
	if err != nil || handle != "0xop" {
		t.Fatalf("expected handle, got %q err=%v", handle, err)
	}
}

func TestRelayInsufficientBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	client := NewRelayClient(server.URL, nil)
	_, err := client.SubmitSettlement(context.Background(), domain.RewardConfig{}, "0xabc")
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestRelayWalletLookup(t *testing.T) {
	provisioned := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !provisioned {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(walletResponse{Address: "0xabc"})
	}))
	defer server.Close()

	client := NewRelayClient(server.URL, nil)
	if _, err := client.WalletAddress(context.Background(), "u1"); !errors.Is(err, domain.ErrWalletUnavailable) {
		t.Fatalf("expected unavailable before provisioning, got %v", err)
	}

	provisioned = true
	address, err := client.WalletAddress(context.Background(), "u1")
	if err != nil || address != "0xabc" {
		t.Fatalf("expected address, got %q err=%v", address, err)
	}
}
