package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"escrow-quiz-service/internal/domain"
)

// RelayClient talks to the smart-account relay: it submits escrow
// settlements and resolves user identities to wallet addresses. Only the
// request/response contract lives here; relay internals are the relay's
// problem.
type RelayClient struct {
	baseURL string
	client  *http.Client
}

func NewRelayClient(baseURL string, client *http.Client) *RelayClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &RelayClient{baseURL: baseURL, client: client}
}

type submitRequest struct {
	Reward  domain.RewardConfig `json:"reward"`
	Creator string              `json:"creatorAddress"`
}

type submitResponse struct {
	Handle string `json:"handle"`
}

// SubmitSettlement posts the escrow request and returns the relay's opaque
// operation handle. HTTP 402 maps to domain.ErrInsufficientBalance.
func (c *RelayClient) SubmitSettlement(ctx context.Context, reward domain.RewardConfig, creatorAddress string) (string, error) {
	body, err := json.Marshal(submitRequest{Reward: reward, Creator: creatorAddress})
	if err != nil {
		return "", fmt.Errorf("marshal settlement: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/settlements", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit settlement: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
	case http.StatusPaymentRequired:
		return "", domain.ErrInsufficientBalance
	default:
		return "", fmt.Errorf("submit settlement: unexpected status %d", resp.StatusCode)
	}

	var decoded submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode settlement response: %w", err)
	}
	if decoded.Handle == "" {
		return "", fmt.Errorf("relay returned empty handle")
	}
	return decoded.Handle, nil
}

type walletResponse struct {
	Address string `json:"address"`
}

// WalletAddress resolves a user to a wallet address. A 404 means the wallet
// is not provisioned yet; callers poll.
func (c *RelayClient) WalletAddress(ctx context.Context, userID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/wallets/"+url.PathEscape(userID), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("wallet lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", domain.ErrWalletUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wallet lookup: unexpected status %d", resp.StatusCode)
	}

	var decoded walletResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode wallet response: %w", err)
	}
	return decoded.Address, nil
}
