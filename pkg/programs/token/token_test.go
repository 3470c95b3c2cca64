package token_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/fortiblox/cirrus/pkg/contracts"
	"github.com/fortiblox/cirrus/pkg/executor"
	"github.com/fortiblox/cirrus/pkg/programs/token"
	"github.com/fortiblox/cirrus/pkg/programs/walletshell"
	"github.com/fortiblox/cirrus/pkg/slots"
	"github.com/fortiblox/cirrus/pkg/standards"
)

// setup bootstraps a shard and deploys two wallet shells to move balances
// between.
func setup(t *testing.T) (*executor.Executor, *slots.Slots, [2]contracts.Address) {
	t.Helper()

	exec, err := executor.NewBuilder(1, nil).
		WithContract(walletshell.Contract()).
		WithContractTrait(walletshell.Contract(), walletshell.TxHandler()).
		Build()
	if err != nil {
		t.Fatalf("Failed to build executor: %v", err)
	}
	st, err := exec.NewStorage()
	if err != nil {
		t.Fatalf("Failed to bootstrap storage: %v", err)
	}

	var wallets [2]contracts.Address
	err = exec.TransactionEmulate(contracts.AddressNull, st, func(env *contracts.Env) error {
		for i := range wallets {
			publicKey, _, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return err
			}
			wallets[i], err = walletshell.Deploy(env, contracts.MethodContextReset, publicKey)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to deploy wallets: %v", err)
	}
	return exec, st, wallets
}

func balanceOf(t *testing.T, exec *executor.Executor, st *slots.Slots, addr contracts.Address) contracts.Balance {
	t.Helper()
	var balance contracts.Balance
	err := exec.WithEnvRO(st, func(env *contracts.Env) error {
		var err error
		balance, err = token.BalanceOf(env, addr)
		return err
	})
	if err != nil {
		t.Fatalf("Failed to read balance of %s: %v", addr, err)
	}
	return balance
}

func TestTransferMovesBalance(t *testing.T) {
	exec, st, wallets := setup(t)
	amount := contracts.BalanceFromUint64(1000)

	err := exec.TransactionEmulate(contracts.AddressNull, st, func(env *contracts.Env) error {
		return token.Transfer(env, contracts.MethodContextReset, token.Address, wallets[0], amount)
	})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	if got := balanceOf(t, exec, st, wallets[0]); got != amount {
		t.Errorf("Recipient balance mismatch: got %s", got)
	}
	want, _ := contracts.BalanceMax.Sub(amount)
	if got := balanceOf(t, exec, st, token.Address); got != want {
		t.Errorf("Issuance balance mismatch: got %s", got)
	}
}

func TestTransferExactBalanceClearsSlot(t *testing.T) {
	exec, st, wallets := setup(t)
	amount := contracts.BalanceFromUint64(500)

	err := exec.TransactionEmulate(contracts.AddressNull, st, func(env *contracts.Env) error {
		if err := token.Transfer(env, contracts.MethodContextReset, token.Address, wallets[0], amount); err != nil {
			return err
		}
		// Spend it all on the second wallet.
		return token.Transfer(env, contracts.MethodContextReset, wallets[0], wallets[1], amount)
	})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	if got := balanceOf(t, exec, st, wallets[0]); !got.IsZero() {
		t.Errorf("Spent wallet balance mismatch: got %s", got)
	}
	if got := balanceOf(t, exec, st, wallets[1]); got != amount {
		t.Errorf("Recipient balance mismatch: got %s", got)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	exec, st, wallets := setup(t)

	err := exec.TransactionEmulate(contracts.AddressNull, st, func(env *contracts.Env) error {
		return token.Transfer(env, contracts.MethodContextReset,
			wallets[0], wallets[1], contracts.BalanceFromUint64(1))
	})
	if !errors.Is(err, contracts.ErrBadInput) {
		t.Errorf("Insufficient balance error mismatch: %v", err)
	}
}

func TestTransferUnauthorizedSpender(t *testing.T) {
	exec, st, wallets := setup(t)
	amount := contracts.BalanceFromUint64(100)

	err := exec.TransactionEmulate(contracts.AddressNull, st, func(env *contracts.Env) error {
		return token.Transfer(env, contracts.MethodContextReset, token.Address, wallets[0], amount)
	})
	if err != nil {
		t.Fatalf("Funding transfer failed: %v", err)
	}

	// Impersonating wallets[1] must not move wallets[0]'s balance.
	err = exec.TransactionEmulate(wallets[1], st, func(env *contracts.Env) error {
		return token.Transfer(env, contracts.MethodContextReset, wallets[0], wallets[1], amount)
	})
	if !errors.Is(err, contracts.ErrForbidden) {
		t.Errorf("Unauthorized spend error mismatch: %v", err)
	}
	if got := balanceOf(t, exec, st, wallets[0]); got != amount {
		t.Errorf("Balance should be untouched: got %s", got)
	}
}

func TestContextHolderCanSpend(t *testing.T) {
	exec, st, wallets := setup(t)
	amount := contracts.BalanceFromUint64(100)

	err := exec.TransactionEmulate(contracts.AddressNull, st, func(env *contracts.Env) error {
		return token.Transfer(env, contracts.MethodContextReset, token.Address, wallets[0], amount)
	})
	if err != nil {
		t.Fatalf("Funding transfer failed: %v", err)
	}

	// Keeping wallets[0]'s context authorizes spending its balance.
	err = exec.TransactionEmulate(wallets[0], st, func(env *contracts.Env) error {
		return token.Transfer(env, contracts.MethodContextKeep, wallets[0], wallets[1], amount)
	})
	if err != nil {
		t.Fatalf("Context-authorized transfer failed: %v", err)
	}
	if got := balanceOf(t, exec, st, wallets[1]); got != amount {
		t.Errorf("Recipient balance mismatch: got %s", got)
	}
}

func TestFungibleTrait(t *testing.T) {
	exec, st, wallets := setup(t)
	amount := contracts.BalanceFromUint64(250)

	err := exec.TransactionEmulate(contracts.AddressNull, st, func(env *contracts.Env) error {
		return standards.FungibleTransfer(env, token.Address, token.Address, wallets[0], amount)
	})
	if err != nil {
		t.Fatalf("Trait transfer failed: %v", err)
	}

	var balance contracts.Balance
	err = exec.WithEnvRO(st, func(env *contracts.Env) error {
		var err error
		balance, err = standards.FungibleBalance(env, token.Address, wallets[0])
		return err
	})
	if err != nil {
		t.Fatalf("Trait balance read failed: %v", err)
	}
	if balance != amount {
		t.Errorf("Trait balance mismatch: got %s", balance)
	}
}
