package proofs

import (
	"fmt"
	"math"

	xerrors "ProofChain/internal/errors"
)

// Mode selects how an operation reaches the contract.
type Mode int

const (
	// ModeCall runs the function as a constant call against current state.
	ModeCall Mode = iota
	// ModeTransact submits the function as a signed transaction.
	ModeTransact
)

func (m Mode) String() string {
	switch m {
	case ModeCall:
		return "call"
	case ModeTransact:
		return "sendTransaction"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Operation describes one contract function exposed by the gateway.
type Operation struct {
	Name            string
	Mode            Mode
	CompletionEvent string
	// GasMultiplier scales the node's estimate into the gas limit that is
	// actually attached to the transaction.
	GasMultiplier uint64
	// RelockAfterSubmit locks the sending account again once the
	// transaction has been accepted. transfer does this, storeProof does
	// not, and the gateway keeps that difference as it is.
	RelockAfterSubmit bool
}

// The contract surface.
var (
	OpGetProof = Operation{
		Name: "getProof",
		Mode: ModeCall,
	}
	OpStoreProof = Operation{
		Name:            "storeProof",
		Mode:            ModeTransact,
		CompletionEvent: "StoreProofCompleted",
		GasMultiplier:   2,
	}
	OpTransfer = Operation{
		Name:              "transfer",
		Mode:              ModeTransact,
		CompletionEvent:   "TransferCompleted",
		GasMultiplier:     1,
		RelockAfterSubmit: true,
	}
)

// Operations returns every descriptor in a stable order.
func Operations() []Operation {
	return []Operation{OpGetProof, OpStoreProof, OpTransfer}
}

// OperationByName resolves a descriptor by contract function name.
func OperationByName(name string) (Operation, bool) {
	for _, op := range Operations() {
		if op.Name == name {
			return op, true
		}
	}
	return Operation{}, false
}

// Plan turns a node estimate into the gas limit for this operation.
func (op Operation) Plan(estimated uint64) (GasPlan, error) {
	multiplier := op.GasMultiplier
	if multiplier == 0 {
		multiplier = 1
	}
	if estimated > math.MaxUint64/multiplier {
		return GasPlan{}, xerrors.New(xerrors.CodeContractCall,
			fmt.Sprintf("gas estimate %d for '%s' overflows when multiplied by %d", estimated, op.Name, multiplier))
	}
	return GasPlan{
		Estimated:  estimated,
		Multiplier: multiplier,
		Limit:      estimated * multiplier,
	}, nil
}
