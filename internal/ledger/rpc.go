package ledger

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCLedger talks to a real Solana-compatible cluster over JSON-RPC. It is
// the direct-RPC half of the dual-path router (§4.E.1) and the only source
// of truth the escrow client has when no transaction optimizer is
// configured.
type RPCLedger struct {
	client *rpc.Client
}

// NewRPCLedger wraps rpcURL in an RPCLedger.
func NewRPCLedger(rpcURL string) *RPCLedger {
	return &RPCLedger{client: rpc.New(rpcURL)}
}

func (l *RPCLedger) GetAccountInfo(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	out, err := l.client.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if err == rpc.ErrNotFound {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get_account_info: %w", err)
	}
	if out == nil || out.Value == nil {
		return nil, ErrAccountNotFound
	}
	return out.Value.Data.GetBinary(), nil
}

func (l *RPCLedger) GetLatestBlockhash(ctx context.Context) (Blockhash, error) {
	out, err := l.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return Blockhash{}, fmt.Errorf("get_latest_blockhash: %w", err)
	}
	return Blockhash{
		Blockhash:            out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

func (l *RPCLedger) SendTransaction(ctx context.Context, raw []byte, skipPreflight bool) (solana.Signature, error) {
	tx, err := solana.TransactionFromBytes(raw)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("decoding transaction: %w", err)
	}
	sig, err := l.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       skipPreflight,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send_transaction: %w", err)
	}
	return sig, nil
}
