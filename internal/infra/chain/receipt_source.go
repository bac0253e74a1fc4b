package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"escrow-quiz-service/internal/settle"
)

// RPCReceiptSource queries one JSON-RPC endpoint/method pair for operation
// receipts. Configure one source per query path; the resolver walks them in
// order. Method -32601 (unknown method) is reported as not-found rather
// than as a transport failure.
type RPCReceiptSource struct {
	name     string
	endpoint string
	method   string
	client   *http.Client
}

func NewRPCReceiptSource(name, endpoint, method string, client *http.Client) *RPCReceiptSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &RPCReceiptSource{name: name, endpoint: endpoint, method: method, client: client}
}

func (s *RPCReceiptSource) Name() string { return s.name }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *RPCReceiptSource) Receipt(ctx context.Context, handle string) (settle.Receipt, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  s.method,
		Params:  []any{handle},
		ID:      1,
	})
	if err != nil {
		return settle.Receipt{}, fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return settle.Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return settle.Receipt{}, fmt.Errorf("%s: %w", s.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return settle.Receipt{}, fmt.Errorf("%s: unexpected status %d", s.name, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return settle.Receipt{}, fmt.Errorf("%s: decode response: %w", s.name, err)
	}
	if decoded.Error != nil {
		if decoded.Error.Code == -32601 {
			return settle.Receipt{}, settle.ErrReceiptNotFound
		}
		return settle.Receipt{}, fmt.Errorf("%s: rpc error %d: %s", s.name, decoded.Error.Code, decoded.Error.Message)
	}
	if len(decoded.Result) == 0 || string(decoded.Result) == "null" {
		return settle.Receipt{}, settle.ErrReceiptNotFound
	}

	var payload map[string]any
	if err := json.Unmarshal(decoded.Result, &payload); err != nil {
		return settle.Receipt{}, fmt.Errorf("%s: decode result: %w", s.name, err)
	}
	return settle.Receipt{Payload: payload}, nil
}
