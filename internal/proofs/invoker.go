package proofs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Invocation carries the per-call inputs of an operation.
type Invocation struct {
	From common.Address
	Gas  uint64
	Args []any
}

// Result is the normalised outcome of an invocation. Exactly one of the
// fields is set, depending on how the operation was reached.
type Result struct {
	Outputs []any
	Tx      *TransactionResult
	Price   *PriceEstimate
}

// Invoker reaches contract functions either for real or as a gas estimate,
// using the same packed arguments for both.
type Invoker struct {
	contract common.Address
	abi      abi.ABI
	backend  web3.ContractBackend
	accounts web3.Accounts
	logger   *slog.Logger
}

// NewInvoker binds an invoker to one contract deployment.
func NewInvoker(contract common.Address, backend web3.ContractBackend, accounts web3.Accounts, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		contract: contract,
		abi:      registryABI,
		backend:  backend,
		accounts: accounts,
		logger:   logger,
	}
}

// Invoke runs op as a constant call or as a transaction, depending on its mode.
func (i *Invoker) Invoke(ctx context.Context, op Operation, in Invocation) (Result, error) {
	return i.settle(op, op.Mode.String(), in, func(data []byte) (Result, error) {
		if op.Mode == ModeCall {
			return i.call(ctx, op, in, data)
		}
		return i.transact(ctx, in, data)
	})
}

// EstimatePrice dry-runs op with the node's gas estimator.
func (i *Invoker) EstimatePrice(ctx context.Context, op Operation, in Invocation) (Result, error) {
	return i.settle(op, "estimateGas", in, func(data []byte) (Result, error) {
		gas, err := i.backend.EstimateGas(ctx, gethcore.CallMsg{
			From: in.From,
			To:   &i.contract,
			Data: data,
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Price: &PriceEstimate{Price: gas}}, nil
	})
}

func (i *Invoker) call(ctx context.Context, op Operation, in Invocation, data []byte) (Result, error) {
	raw, err := i.backend.CallContract(ctx, gethcore.CallMsg{
		From: in.From,
		To:   &i.contract,
		Data: data,
	}, nil)
	if err != nil {
		return Result{}, err
	}
	outputs, err := i.abi.Unpack(op.Name, raw)
	if err != nil {
		return Result{}, xerrors.Wrap(xerrors.CodeContractCall, err, fmt.Sprintf("decode '%s' result", op.Name))
	}
	return Result{Outputs: outputs}, nil
}

func (i *Invoker) transact(ctx context.Context, in Invocation, data []byte) (Result, error) {
	hash, err := i.accounts.SendTransaction(ctx, web3.TxArgs{
		From: in.From,
		To:   &i.contract,
		Gas:  hexutil.Uint64(in.Gas),
		Data: data,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Tx: &TransactionResult{TxHash: hash, Gas: in.Gas}}, nil
}

// settle packs the arguments, runs fn and normalises its outcome. Every
// invocation is logged before it runs and every failure is logged with the
// method name and arguments.
func (i *Invoker) settle(op Operation, method string, in Invocation, fn func(data []byte) (Result, error)) (Result, error) {
	i.logger.Info("executing function",
		slog.String("function", op.Name),
		slog.String("method", method),
		slog.Any("args", in.Args),
	)

	data, err := i.abi.Pack(op.Name, in.Args...)
	if err != nil {
		err = xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("encode arguments for '%s'", op.Name))
		i.logFailure(op, method, in, err)
		return Result{}, err
	}

	res, err := fn(data)
	if err != nil {
		if _, ok := xerrors.From(err); !ok {
			err = xerrors.Wrap(classify(err, xerrors.CodeContractCall), err,
				fmt.Sprintf("error executing function '%s'", op.Name),
				xerrors.WithMetadata("method", method),
				xerrors.WithCauseMessage())
		}
		i.logFailure(op, method, in, err)
		return Result{}, err
	}

	i.logger.Info("function completed successfully",
		slog.String("function", op.Name),
		slog.String("method", method),
	)
	if res.Tx != nil {
		i.logger.Info("tx hash", slog.String("function", op.Name), slog.String("tx_hash", res.Tx.TxHash.Hex()))
	}
	return res, nil
}

func (i *Invoker) logFailure(op Operation, method string, in Invocation, err error) {
	i.logger.Error("error executing function",
		slog.String("function", op.Name),
		slog.String("method", method),
		slog.Any("args", in.Args),
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.String("error", err.Error()),
	)
}

// classify separates errors reported by the node, such as reverts or a
// rejected password, from transport failures.
func classify(err error, nodeCode xerrors.Code) xerrors.Code {
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return nodeCode
	}
	return xerrors.CodeRPCFailure
}
