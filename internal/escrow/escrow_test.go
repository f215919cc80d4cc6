package escrow

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrorezn/escrow-pay/internal/domain"
	"github.com/dmitrorezn/escrow-pay/internal/faults"
	"github.com/dmitrorezn/escrow-pay/internal/ledger"
	"github.com/dmitrorezn/escrow-pay/internal/token"
)

const (
	testFee = uint64(1_000_000)

	admin    = domain.Addr("shade-protocol")
	treasury = domain.Addr("mock-treasury-address")
	gary     = domain.Addr("gary")
	bob      = domain.Addr("bob")
)

var (
	feeToken = domain.TokenContract{
		Address:  "mock-sscrt-address",
		CodeHash: "mock-sscrt-contract-hash",
	}
	viewKeyToken = domain.TokenContract{
		Address:  "mock-shade-address",
		CodeHash: "mock-shade-contract-hash",
	}
	silk = domain.TokenContract{
		Address:  "mock-silk-address",
		CodeHash: "mock-silk-contract-hash",
	}
)

func testConfig() Config {
	return Config{
		Admin:        admin,
		Fee:          testFee,
		FeeToken:     feeToken,
		ViewKeyToken: viewKeyToken,
		Treasury:     treasury,
		EndTimeLimit: 100_000,
	}
}

func newTestService(t *testing.T) (*Service, *token.MemoryClient) {
	t.Helper()
	store, err := ledger.Open(ledger.Cfg{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	tokens := token.NewMemoryClient()
	svc := NewService(store, tokens, zerolog.Nop())
	_, err = svc.InstallGenesis(testConfig())
	require.NoError(t, err)

	return svc, tokens
}

// feeEnv is a call relayed through the fee token contract.
func feeEnv() Env {
	return feeEnvAt(500)
}

func feeEnvAt(blockTime uint64) Env {
	return Env{Sender: feeToken.Address, BlockTime: blockTime, BlockHeight: 1}
}

// tokenEnv is a call arriving with a transfer in the given token.
func tokenEnv(tok domain.TokenContract) Env {
	return tokenEnvAt(tok, 500)
}

func tokenEnvAt(tok domain.TokenContract, blockTime uint64) Env {
	return Env{Sender: tok.Address, BlockTime: blockTime, BlockHeight: 1}
}

func assertCode(t *testing.T, err error, want faults.Code) {
	t.Helper()
	code, ok := faults.CodeOf(err)
	require.Truef(t, ok, "expected a detailed fault, got %v", err)
	assert.Equal(t, want, code)
}

// getTx reads one ledger record directly, bypassing the viewing-key
// gate.
func getTx(t *testing.T, svc *Service, account domain.Addr, position uint32) *domain.Tx {
	t.Helper()
	btx, closer, err := svc.store.Read()
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, closer(nil))
	}()
	rec, err := svc.store.Get(btx, account, position)
	require.NoError(t, err)

	return rec
}

func accountLen(t *testing.T, svc *Service, account domain.Addr) uint32 {
	t.Helper()
	btx, closer, err := svc.store.Read()
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, closer(nil))
	}()

	return svc.store.Len(btx, account)
}

func createSendRequest(t *testing.T, svc *Service, creator, counterparty domain.Addr, amount uint64) uint32 {
	t.Helper()
	position := accountLen(t, svc, creator)
	_, err := svc.Receive(context.Background(), feeEnv(), creator, testFee, ReceiveMsg{
		CreateSendRequest: &CreateRequestMsg{
			Address: counterparty,
			Amount:  amount,
			Token:   silk,
		},
	})
	require.NoError(t, err)

	return position
}

func TestCreateSendRequest(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	t.Run("wrong fee amount", func(t *testing.T) {
		_, err := svc.Receive(ctx, feeEnv(), gary, testFee-1, ReceiveMsg{
			CreateSendRequest: &CreateRequestMsg{Address: bob, Amount: 500, Token: silk},
		})
		assertCode(t, err, faults.CodeWrongAmount)
	})

	t.Run("fee paid in wrong token", func(t *testing.T) {
		_, err := svc.Receive(ctx, tokenEnv(silk), gary, testFee, ReceiveMsg{
			CreateSendRequest: &CreateRequestMsg{Address: bob, Amount: 500, Token: silk},
		})
		assertCode(t, err, faults.CodeWrongToken)
	})

	t.Run("self payment rejected and nothing is appended", func(t *testing.T) {
		_, err := svc.Receive(ctx, feeEnv(), gary, testFee, ReceiveMsg{
			CreateSendRequest: &CreateRequestMsg{Address: gary, Amount: 500, Token: silk},
		})
		assertCode(t, err, faults.CodeSelfPaymentRejected)
		assert.Zero(t, accountLen(t, svc, gary))
	})

	t.Run("stores a mirrored pair", func(t *testing.T) {
		resp, err := svc.Receive(ctx, feeEnv(), gary, testFee, ReceiveMsg{
			CreateSendRequest: &CreateRequestMsg{
				Address:     bob,
				Amount:      500,
				Description: "lunch",
				Token:       silk,
			},
		})
		require.NoError(t, err)
		// First sighting of the payment token registers it.
		require.Len(t, resp.Instructions, 1)
		assert.Equal(t, KindRegisterReceive, resp.Instructions[0].Kind)
		assert.Equal(t, silk, resp.Instructions[0].Token)

		payer := getTx(t, svc, gary, 0)
		payee := getTx(t, svc, bob, 0)
		assert.Equal(t, payer.CounterpartPosition, payee.Position)
		assert.Equal(t, payee.CounterpartPosition, payer.Position)
		assert.Equal(t, domain.StatusPending, payer.Status)
		assert.Equal(t, payer.Status, payee.Status)
		assert.Equal(t, payer.Amount, payee.Amount)
		assert.Equal(t, payer.Fee, payee.Fee)
		assert.Equal(t, payer.Token, payee.Token)
		assert.Equal(t, payer.Class, payee.Class)
		assert.Equal(t, gary, payer.From)
		assert.Equal(t, bob, payer.To)
		assert.Equal(t, gary, payer.Creator)
	})

	t.Run("receive request starts confirmed", func(t *testing.T) {
		_, err := svc.Receive(ctx, feeEnv(), bob, testFee, ReceiveMsg{
			CreateReceiveRequest: &CreateRequestMsg{Address: gary, Amount: 300, Token: silk},
		})
		require.NoError(t, err)

		rec := getTx(t, svc, bob, 1)
		assert.Equal(t, domain.StatusConfirmed, rec.Status)
		assert.Equal(t, gary, rec.From)
		assert.Equal(t, bob, rec.To)
		assert.Equal(t, bob, rec.Creator)
	})
}

func TestConfirmAddress(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	position := createSendRequest(t, svc, gary, bob, 500)
	confirm := ReceiveMsg{ConfirmAddress: &PositionMsg{Position: position}}

	t.Run("must be relayed through the fee token", func(t *testing.T) {
		_, err := svc.Receive(ctx, tokenEnv(silk), bob, 0, confirm)
		assertCode(t, err, faults.CodeUnauthorized)
	})

	t.Run("amount sent in must be zero", func(t *testing.T) {
		_, err := svc.Receive(ctx, feeEnv(), bob, 1, confirm)
		assertCode(t, err, faults.CodeWrongAmount)
	})

	t.Run("only the receiver may confirm", func(t *testing.T) {
		_, err := svc.Receive(ctx, feeEnv(), gary, 0, ReceiveMsg{
			ConfirmAddress: &PositionMsg{Position: position},
		})
		assertCode(t, err, faults.CodeUnauthorized)
	})

	t.Run("confirms both halves", func(t *testing.T) {
		_, err := svc.Receive(ctx, feeEnv(), bob, 0, confirm)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusConfirmed, getTx(t, svc, gary, position).Status)
		assert.Equal(t, domain.StatusConfirmed, getTx(t, svc, bob, position).Status)
	})

	t.Run("second confirmation is rejected", func(t *testing.T) {
		_, err := svc.Receive(ctx, feeEnv(), bob, 0, confirm)
		assertCode(t, err, faults.CodeTxNotConfirmationReady)
	})
}

func TestSendPayment(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	position := createSendRequest(t, svc, gary, bob, 500)
	payment := ReceiveMsg{SendPayment: &SendPaymentMsg{Position: position, ContractHash: silk.CodeHash}}

	t.Run("rejected before the receiver confirmed", func(t *testing.T) {
		_, err := svc.Receive(ctx, tokenEnv(silk), gary, 500, payment)
		assertCode(t, err, faults.CodeTxNotConfirmed)
	})

	_, err := svc.Receive(ctx, feeEnv(), bob, 0, ReceiveMsg{ConfirmAddress: &PositionMsg{Position: position}})
	require.NoError(t, err)

	t.Run("wrong amount", func(t *testing.T) {
		_, err := svc.Receive(ctx, tokenEnv(silk), gary, 499, payment)
		assertCode(t, err, faults.CodeWrongAmount)
	})

	t.Run("wrong token", func(t *testing.T) {
		_, err := svc.Receive(ctx, feeEnv(), gary, 500, payment)
		assertCode(t, err, faults.CodeWrongToken)
	})

	t.Run("only the payer may settle", func(t *testing.T) {
		_, err := svc.Receive(ctx, tokenEnv(silk), bob, 500, ReceiveMsg{
			SendPayment: &SendPaymentMsg{Position: position, ContractHash: silk.CodeHash},
		})
		assertCode(t, err, faults.CodeUnauthorized)
	})

	t.Run("settles fee to treasury and principal to receiver", func(t *testing.T) {
		resp, err := svc.Receive(ctx, tokenEnv(silk), gary, 500, payment)
		require.NoError(t, err)
		require.Len(t, resp.Instructions, 2)

		feeIns, payIns := resp.Instructions[0], resp.Instructions[1]
		assert.Equal(t, KindTransfer, feeIns.Kind)
		assert.Equal(t, feeToken, feeIns.Token)
		assert.Equal(t, treasury, feeIns.Recipient)
		assert.Equal(t, testFee, feeIns.Amount)

		assert.Equal(t, KindTransfer, payIns.Kind)
		assert.Equal(t, silk, payIns.Token)
		assert.Equal(t, bob, payIns.Recipient)
		assert.Equal(t, uint64(500), payIns.Amount)

		assert.Equal(t, domain.StatusCompleted, getTx(t, svc, gary, position).Status)
		assert.Equal(t, domain.StatusCompleted, getTx(t, svc, bob, position).Status)
	})

	t.Run("completed payment cannot be settled again", func(t *testing.T) {
		_, err := svc.Receive(ctx, tokenEnv(silk), gary, 500, payment)
		assertCode(t, err, faults.CodeTxNotConfirmed)
	})

	t.Run("completed payment cannot be cancelled", func(t *testing.T) {
		_, err := svc.Receive(ctx, feeEnv(), gary, 0, ReceiveMsg{Cancel: &PositionMsg{Position: position}})
		assertCode(t, err, faults.CodeTxAlreadyCompleted)
	})
}

func TestCancel(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	position := createSendRequest(t, svc, gary, bob, 500)
	cancel := ReceiveMsg{Cancel: &PositionMsg{Position: position}}

	t.Run("must be relayed through the fee token", func(t *testing.T) {
		_, err := svc.Receive(ctx, tokenEnv(silk), gary, 0, cancel)
		assertCode(t, err, faults.CodeUnauthorized)
	})

	t.Run("cancels both halves and refunds the creator", func(t *testing.T) {
		resp, err := svc.Receive(ctx, feeEnv(), gary, 0, cancel)
		require.NoError(t, err)
		require.Len(t, resp.Instructions, 1)
		refund := resp.Instructions[0]
		assert.Equal(t, KindTransfer, refund.Kind)
		assert.Equal(t, feeToken, refund.Token)
		assert.Equal(t, gary, refund.Recipient)
		assert.Equal(t, testFee, refund.Amount)

		assert.Equal(t, domain.StatusCancelled, getTx(t, svc, gary, position).Status)
		assert.Equal(t, domain.StatusCancelled, getTx(t, svc, bob, position).Status)
	})

	t.Run("second cancel is rejected", func(t *testing.T) {
		_, err := svc.Receive(ctx, feeEnv(), gary, 0, cancel)
		assertCode(t, err, faults.CodeTxAlreadyCancelled)
	})

	t.Run("cancelled payment cannot be confirmed", func(t *testing.T) {
		_, err := svc.Receive(ctx, feeEnv(), bob, 0, ReceiveMsg{ConfirmAddress: &PositionMsg{Position: position}})
		assertCode(t, err, faults.CodeTxNotConfirmationReady)
	})

	t.Run("cancelled payment cannot be settled", func(t *testing.T) {
		_, err := svc.Receive(ctx, tokenEnv(silk), gary, 500, ReceiveMsg{
			SendPayment: &SendPaymentMsg{Position: position, ContractHash: silk.CodeHash},
		})
		assertCode(t, err, faults.CodeTxNotConfirmed)
	})
}

func TestReceive_UnknownVariantAndBounds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	t.Run("empty msg", func(t *testing.T) {
		_, err := svc.Receive(ctx, feeEnv(), gary, 0, ReceiveMsg{})
		assert.ErrorIs(t, err, ErrUnknownReceiveMsg)
	})

	t.Run("position out of bounds", func(t *testing.T) {
		_, err := svc.Receive(ctx, feeEnv(), gary, 0, ReceiveMsg{Cancel: &PositionMsg{Position: 42}})
		assertCode(t, err, faults.CodeOutOfBounds)
	})
}

func TestTxsQuery(t *testing.T) {
	svc, tokens := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		createSendRequest(t, svc, gary, bob, uint64(100+i))
	}
	tokens.SetKey(gary, "api-key")

	t.Run("invalid viewing key", func(t *testing.T) {
		_, err := svc.Txs(ctx, gary, "wrong", 0, 10)
		assertCode(t, err, faults.CodeUnauthorized)
	})

	t.Run("lists most recent first", func(t *testing.T) {
		answer, err := svc.Txs(ctx, gary, "api-key", 0, 2)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), answer.Total)
		require.Len(t, answer.Txs, 2)
		assert.Equal(t, uint32(2), answer.Txs[0].Position)
		assert.Equal(t, uint64(102), answer.Txs[0].Amount)
		assert.Nil(t, answer.Txs[0].StartTime)
	})

	t.Run("checks the key against the viewing key token", func(t *testing.T) {
		calls := tokens.Calls()
		require.NotEmpty(t, calls)
		assert.Equal(t, viewKeyToken.Address, calls[0].Token)
		assert.Equal(t, gary, calls[0].Address)
	})
}
