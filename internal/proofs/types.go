package proofs

import (
	"log/slog"
	"strings"

	xerrors "ProofChain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// ProofRecord is the decoded result of getProof.
type ProofRecord struct {
	Owner              common.Address `json:"owner"`
	EncryptedProof     string         `json:"encrypted_proof"`
	PublicProof        string         `json:"public_proof"`
	PreviousTrackingID string         `json:"previous_tracking_id"`
}

// TxConfig names the node-managed account that signs a transaction. It is
// never modified by the gateway; the computed gas travels in GasPlan.
type TxConfig struct {
	From     common.Address `json:"from"`
	Password string         `json:"password"`
}

// LogValue keeps the password out of structured logs.
func (c TxConfig) LogValue() slog.Value {
	return slog.GroupValue(slog.String("from", c.From.Hex()))
}

func (c TxConfig) validate() error {
	if c.From == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "from account is required")
	}
	return nil
}

// GasPlan is the gas computed for one submission.
type GasPlan struct {
	Estimated  uint64 `json:"estimated"`
	Multiplier uint64 `json:"multiplier"`
	Limit      uint64 `json:"limit"`
}

// PriceEstimate is the node's gas estimate for a pending call.
type PriceEstimate struct {
	Price uint64 `json:"price"`
}

// TransactionResult wraps the hash acknowledged by eth_sendTransaction.
// Gas is the limit that was attached to the transaction.
type TransactionResult struct {
	TxHash common.Hash `json:"tx_hash"`
	Gas    uint64      `json:"gas"`
}

// StoreProofRequest carries the storeProof arguments.
type StoreProofRequest struct {
	TrackingID         string   `json:"tracking_id"`
	PreviousTrackingID string   `json:"previous_tracking_id"`
	EncryptedProof     string   `json:"encrypted_proof"`
	PublicProof        string   `json:"public_proof"`
	Config             TxConfig `json:"config"`
}

func (r StoreProofRequest) args() []any {
	return []any{r.TrackingID, r.PreviousTrackingID, r.EncryptedProof, r.PublicProof}
}

func (r StoreProofRequest) validate() error {
	if strings.TrimSpace(r.TrackingID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "tracking id is required")
	}
	return r.Config.validate()
}

// TransferRequest carries the transfer arguments.
type TransferRequest struct {
	TrackingID string         `json:"tracking_id"`
	TransferTo common.Address `json:"transfer_to"`
	Config     TxConfig       `json:"config"`
}

func (r TransferRequest) args() []any {
	return []any{r.TrackingID, r.TransferTo}
}

func (r TransferRequest) validate() error {
	if strings.TrimSpace(r.TrackingID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "tracking id is required")
	}
	if r.TransferTo == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "transfer target is required")
	}
	return r.Config.validate()
}

// Submission describes an accepted transaction, handed to the Recorder.
type Submission struct {
	Operation  string
	TrackingID string
	From       common.Address
	TxHash     common.Hash
	Gas        GasPlan
}
