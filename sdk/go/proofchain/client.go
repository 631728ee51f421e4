// Package proofchain is a small Go client for the ProofChain gateway REST API.
package proofchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Transaction submission waits on the node, so it is longer than a plain read.
const DefaultHTTPTimeout = 30 * time.Second

// ErrProofNotFound is returned by GetProof when no proof is stored under the
// requested tracking id.
var ErrProofNotFound = errors.New("proofchain: proof not found")

// Client wraps the HTTP interactions with the gateway.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Proof is a stored proof.
type Proof struct {
	Owner              common.Address `json:"owner"`
	EncryptedProof     string         `json:"encrypted_proof"`
	PublicProof        string         `json:"public_proof"`
	PreviousTrackingID string         `json:"previous_tracking_id"`
}

// Account names the node-managed account that signs a transaction.
type Account struct {
	From     common.Address `json:"from"`
	Password string         `json:"password"`
}

// StoreProof is the payload of a storeProof submission.
type StoreProof struct {
	TrackingID         string  `json:"tracking_id"`
	PreviousTrackingID string  `json:"previous_tracking_id"`
	EncryptedProof     string  `json:"encrypted_proof"`
	PublicProof        string  `json:"public_proof"`
	Config             Account `json:"config"`
}

// Transaction is the node's acknowledgement of a submission.
type Transaction struct {
	TxHash common.Hash `json:"tx_hash"`
	Gas    uint64      `json:"gas"`
}

// Estimate is a gas quote.
type Estimate struct {
	Price uint64 `json:"price"`
}

// EstimateRequest asks for a quote. Operation is "storeProof" or "transfer".
type EstimateRequest struct {
	Operation          string         `json:"operation"`
	TrackingID         string         `json:"tracking_id"`
	PreviousTrackingID string         `json:"previous_tracking_id,omitempty"`
	EncryptedProof     string         `json:"encrypted_proof,omitempty"`
	PublicProof        string         `json:"public_proof,omitempty"`
	TransferTo         common.Address `json:"transfer_to"`
	From               common.Address `json:"from"`
}

// LedgerEntry is one transaction from the gateway ledger.
type LedgerEntry struct {
	ID          string `json:"id"`
	Operation   string `json:"operation"`
	TrackingID  string `json:"tracking_id"`
	From        string `json:"from"`
	TxHash      string `json:"tx_hash"`
	Gas         uint64 `json:"gas"`
	Status      string `json:"status"`
	Event       string `json:"event,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// APIError represents a failure reported by the gateway.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("proofchain api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("proofchain api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the gateway at rawURL. When httpClient
// is nil a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// GetProof reads a proof. It returns ErrProofNotFound when none is stored.
func (c *Client) GetProof(ctx context.Context, trackingID string) (*Proof, error) {
	var proof Proof
	err := c.do(ctx, http.MethodGet, "/api/v1/proofs/"+url.PathEscape(trackingID), nil, &proof)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, ErrProofNotFound
	}
	if err != nil {
		return nil, err
	}
	return &proof, nil
}

// StoreProof submits a storeProof transaction.
func (c *Client) StoreProof(ctx context.Context, req StoreProof) (Transaction, error) {
	var tx Transaction
	if err := c.do(ctx, http.MethodPost, "/api/v1/proofs", req, &tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Transfer submits a transfer transaction for trackingID.
func (c *Client) Transfer(ctx context.Context, trackingID string, to common.Address, account Account) (Transaction, error) {
	payload := struct {
		TransferTo common.Address `json:"transfer_to"`
		From       common.Address `json:"from"`
		Password   string         `json:"password"`
	}{TransferTo: to, From: account.From, Password: account.Password}

	var tx Transaction
	endpoint := "/api/v1/proofs/" + url.PathEscape(trackingID) + "/transfer"
	if err := c.do(ctx, http.MethodPost, endpoint, payload, &tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Estimate asks the gateway for a gas quote.
func (c *Client) Estimate(ctx context.Context, req EstimateRequest) (Estimate, error) {
	var quote Estimate
	if err := c.do(ctx, http.MethodPost, "/api/v1/proofs/estimate", req, &quote); err != nil {
		return Estimate{}, err
	}
	return quote, nil
}

// Transactions lists the most recent ledger entries.
func (c *Client) Transactions(ctx context.Context, limit int) ([]LedgerEntry, error) {
	endpoint := "/api/v1/transactions"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var entries []LedgerEntry
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	rel, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	rel.Path = path.Join(c.baseURL.Path, rel.Path)
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		_ = json.Unmarshal(data, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
