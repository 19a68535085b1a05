package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tolelom/cipherforge/core"
	"github.com/tolelom/cipherforge/fhe"
)

// Client is a minimal JSON-RPC client for tools and tests.
type Client struct {
	url       string
	authToken string
	http      *http.Client
}

// NewClient creates a Client for the node at url (e.g. http://localhost:8545).
func NewClient(url, authToken string) *Client {
	return &Client{url: url, authToken: authToken, http: &http.Client{Timeout: 15 * time.Second}}
}

// Call invokes method with params and decodes the result into out (which
// may be nil). JSON-RPC errors are returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	body, err := json.Marshal(Request{JSONRPC: "2.0", ID: uuid.NewString(), Method: method, Params: raw})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decode response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

// SendTx submits a signed transaction and returns its ID.
func (c *Client) SendTx(ctx context.Context, tx *core.Transaction) (string, error) {
	var out struct {
		TxID string `json:"tx_id"`
	}
	if err := c.Call(ctx, "sendTx", tx, &out); err != nil {
		return "", err
	}
	return out.TxID, nil
}

// Account fetches player's account record.
func (c *Client) Account(ctx context.Context, player string) (*core.Account, error) {
	var acc core.Account
	if err := c.Call(ctx, "getAccount", map[string]string{"player": player}, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// Decrypt asks the node to decrypt a handle for the signer of req and opens
// the sealed result with key.
func (c *Client) Decrypt(ctx context.Context, req *core.DecryptRequest, key *core.DecryptKey) (uint64, error) {
	var out DecryptResult
	if err := c.Call(ctx, "userDecrypt", req, &out); err != nil {
		return 0, err
	}
	return key.Open(out.Sealed)
}

// WaitTx polls getTxStatus until the transaction leaves the mempool. A
// rejected transaction surfaces as an *Error with CodeLedgerRejected.
func (c *Client) WaitTx(ctx context.Context, id string, poll time.Duration) (int64, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		var st struct {
			Status      string `json:"status"`
			BlockHeight int64  `json:"block_height"`
		}
		if err := c.Call(ctx, "getTxStatus", map[string]string{"id": id}, &st); err != nil {
			return 0, err
		}
		if st.Status != StatusPending {
			return st.BlockHeight, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Buildings fetches the encrypted building handles of player.
func (c *Client) Buildings(ctx context.Context, player string) ([]fhe.Handle, error) {
	var out struct {
		Buildings []fhe.Handle `json:"buildings"`
	}
	if err := c.Call(ctx, "getBuildings", map[string]string{"player": player}, &out); err != nil {
		return nil, err
	}
	return out.Buildings, nil
}
