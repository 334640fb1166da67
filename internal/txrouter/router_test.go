package txrouter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/umbraforge/escrowgate/internal/escrow"
	"github.com/umbraforge/escrowgate/internal/ledger"
)

type fakeLedger struct {
	blockhash    solana.Hash
	blockhashErr error
	sendFn       func(raw []byte, skipPreflight bool) (solana.Signature, error)
	sendCalls    int
}

func (f *fakeLedger) GetAccountInfo(context.Context, solana.PublicKey) ([]byte, error) {
	return nil, ledger.ErrAccountNotFound
}

func (f *fakeLedger) GetLatestBlockhash(context.Context) (ledger.Blockhash, error) {
	if f.blockhashErr != nil {
		return ledger.Blockhash{}, f.blockhashErr
	}
	return ledger.Blockhash{Blockhash: f.blockhash}, nil
}

func (f *fakeLedger) SendTransaction(_ context.Context, raw []byte, skipPreflight bool) (solana.Signature, error) {
	f.sendCalls++
	return f.sendFn(raw, skipPreflight)
}

func mustPayerAndSigner() (solana.PublicKey, SignerFunc, *solana.Wallet) {
	wallet := solana.NewWallet()
	signer := SignerFunc(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(wallet.PublicKey()) {
			return &wallet.PrivateKey
		}
		return nil
	})
	return wallet.PublicKey(), signer, wallet
}

func memoInstruction(payer solana.PublicKey) solana.Instruction {
	memoProgram := solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")
	return solana.NewInstruction(memoProgram, solana.AccountMetaSlice{
		{PublicKey: payer, IsSigner: true, IsWritable: false},
	}, []byte("hi"))
}

func TestSubmitDirectRPCWhenNoOptimizer(t *testing.T) {
	payer, signer, _ := mustPayerAndSigner()
	var expectSig solana.Signature
	expectSig[0] = 9

	fl := &fakeLedger{
		sendFn: func([]byte, bool) (solana.Signature, error) { return expectSig, nil },
	}
	r := NewRouter(nil, fl)

	sig, usedGateway, routing, err := r.Submit(context.Background(), []solana.Instruction{memoInstruction(payer)}, payer, signer)
	require.NoError(t, err)
	require.False(t, usedGateway)
	require.Equal(t, RoutingRpcDirect, routing)
	require.Equal(t, expectSig, sig)
	require.Equal(t, 1, fl.sendCalls)
}

func TestSubmitFallsBackWhenOptimizerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	payer, signer, _ := mustPayerAndSigner()
	var expectSig solana.Signature
	expectSig[0] = 7

	fl := &fakeLedger{
		sendFn: func([]byte, bool) (solana.Signature, error) { return expectSig, nil },
	}
	opt := NewOptimizer(srv.URL, "key", "devnet", 2*time.Second)
	r := NewRouter(opt, fl)

	sig, usedGateway, routing, err := r.Submit(context.Background(), []solana.Instruction{memoInstruction(payer)}, payer, signer)
	require.NoError(t, err)
	require.False(t, usedGateway)
	require.Equal(t, RoutingRpcFallback, routing)
	require.Equal(t, expectSig, sig)
}

func TestSubmitViaOptimizerSuccess(t *testing.T) {
	var sentSig solana.Signature
	sentSig[1] = 42

	mux := http.NewServeMux()
	mux.HandleFunc("/devnet", func(w http.ResponseWriter, r *http.Request) {
		var req jsonRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.Method {
		case "buildGatewayTransaction":
			params := req.Params.([]interface{})
			b64 := params[0].(string)
			resp := buildGatewayTransactionResponse{
				Result: &buildGatewayTransactionResult{Transaction: b64, LatestBlockhash: "11111111111111111111111111111111"},
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		case "sendTransaction":
			resp := sendTransactionResponse{Result: sentSig.String()}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		default:
			t.Fatalf("unexpected method %s", req.Method)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	payer, signer, _ := mustPayerAndSigner()
	fl := &fakeLedger{
		sendFn: func([]byte, bool) (solana.Signature, error) {
			t.Fatal("rpc fallback should not be used when optimizer succeeds")
			return solana.Signature{}, nil
		},
	}
	opt := NewOptimizer(srv.URL, "key", "devnet", 2*time.Second)
	r := NewRouter(opt, fl)

	sig, usedGateway, routing, err := r.Submit(context.Background(), []solana.Instruction{memoInstruction(payer)}, payer, signer)
	require.NoError(t, err)
	require.True(t, usedGateway)
	require.Equal(t, RoutingGateway, routing)
	require.Equal(t, sentSig, sig)
}

func TestSubmitViaRPCDoesNotRetryDeterministicError(t *testing.T) {
	payer, signer, _ := mustPayerAndSigner()
	fl := &fakeLedger{
		sendFn: func([]byte, bool) (solana.Signature, error) {
			return solana.Signature{}, &escrow.Error{Kind: escrow.ErrWrongStatus, Msg: "bad status"}
		},
	}
	r := NewRouter(nil, fl)

	_, _, routing, err := r.Submit(context.Background(), []solana.Instruction{memoInstruction(payer)}, payer, signer)
	require.Error(t, err)
	require.Equal(t, escrow.ErrWrongStatus, escrow.KindOf(err))
	require.Equal(t, RoutingRpcDirect, routing)
	require.Equal(t, 1, fl.sendCalls, "deterministic errors must not be retried")
}

func TestSubmitViaRPCRetriesTransientError(t *testing.T) {
	payer, signer, _ := mustPayerAndSigner()
	var expectSig solana.Signature
	expectSig[0] = 3

	calls := 0
	fl := &fakeLedger{
		sendFn: func([]byte, bool) (solana.Signature, error) {
			calls++
			if calls < 2 {
				return solana.Signature{}, &escrow.Error{Kind: escrow.ErrTransientNetwork, Msg: "timeout"}
			}
			return expectSig, nil
		},
	}
	r := NewRouter(nil, fl)
	r.retryDelay = time.Millisecond

	sig, _, _, err := r.Submit(context.Background(), []solana.Instruction{memoInstruction(payer)}, payer, signer)
	require.NoError(t, err)
	require.Equal(t, expectSig, sig)
	require.Equal(t, 2, calls)
}

func TestBase64RoundTripSanity(t *testing.T) {
	raw := []byte("hello world")
	encoded := base64.StdEncoding.EncodeToString(raw)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	require.Equal(t, raw, decoded)
}
