package executor

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/fortiblox/cirrus/pkg/contracts"
	"github.com/fortiblox/cirrus/pkg/programs/addralloc"
	"github.com/fortiblox/cirrus/pkg/programs/code"
	"github.com/fortiblox/cirrus/pkg/programs/flipper"
	"github.com/fortiblox/cirrus/pkg/programs/state"
	"github.com/fortiblox/cirrus/pkg/programs/token"
	"github.com/fortiblox/cirrus/pkg/programs/wallet"
	"github.com/fortiblox/cirrus/pkg/programs/walletshell"
	"github.com/fortiblox/cirrus/pkg/slots"
	"github.com/fortiblox/cirrus/pkg/standards"
	"github.com/fortiblox/cirrus/pkg/transaction"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	exec, err := NewBuilder(1, nil).
		WithContract(flipper.Contract()).
		WithContract(walletshell.Contract()).
		WithContractTrait(walletshell.Contract(), walletshell.TxHandler()).
		Build()
	if err != nil {
		t.Fatalf("Failed to build executor: %v", err)
	}
	return exec
}

func newTestStorage(t *testing.T, exec *Executor) *slots.Slots {
	t.Helper()
	st, err := exec.NewStorage()
	if err != nil {
		t.Fatalf("Failed to bootstrap storage: %v", err)
	}
	return st
}

func TestBuildRejectsInvalidShard(t *testing.T) {
	if _, err := NewBuilder(0, nil).Build(); !errors.Is(err, ErrInvalidShardIndex) {
		t.Errorf("Shard 0 build error mismatch: %v", err)
	}
	if _, err := NewBuilder(contracts.MaxShardIndex+1, nil).Build(); !errors.Is(err, ErrInvalidShardIndex) {
		t.Errorf("Out-of-range shard build error mismatch: %v", err)
	}
}

func TestBuildRejectsDuplicateMethod(t *testing.T) {
	_, err := NewBuilder(1, nil).
		WithContract(flipper.Contract()).
		WithContract(flipper.Contract()).
		Build()
	if !errors.Is(err, ErrDuplicateMethodInContract) {
		t.Errorf("Duplicate method build error mismatch: %v", err)
	}
}

func TestBuildRejectsTraitMetadata(t *testing.T) {
	bogus := &contracts.Contract{
		Code:     []byte("bogus"),
		Metadata: standards.TxHandlerMetadata,
	}
	_, err := NewBuilder(1, nil).WithContract(bogus).Build()
	if !errors.Is(err, ErrExpectedContractMetadataFoundTrait) {
		t.Errorf("Trait metadata build error mismatch: %v", err)
	}
}

func TestBuildRejectsMissingMetadata(t *testing.T) {
	bogus := &contracts.Contract{Code: []byte("bogus")}
	_, err := NewBuilder(1, nil).WithContract(bogus).Build()
	if !errors.Is(err, ErrContractMetadataNotFound) {
		t.Errorf("Missing metadata build error mismatch: %v", err)
	}
}

func TestNewStorageBootstrap(t *testing.T) {
	exec := newTestExecutor(t)
	st := newTestStorage(t, exec)

	err := exec.WithEnvRO(st, func(env *contracts.Env) error {
		for _, sys := range []struct {
			address contracts.Address
			code    []byte
		}{
			{state.Address, state.Contract().Code},
			{exec.Allocator(), addralloc.Contract().Code},
			{token.Address, token.Contract().Code},
			{wallet.Address, wallet.Contract().Code},
		} {
			stored, err := code.Read(env, sys.address)
			if err != nil {
				t.Fatalf("Failed to read code of %s: %v", sys.address, err)
			}
			if !bytes.Equal(stored, sys.code) {
				t.Errorf("Code mismatch for %s: got %q", sys.address, stored)
			}
		}

		balance, err := token.BalanceOf(env, token.Address)
		if err != nil {
			t.Fatalf("Failed to read issuance balance: %v", err)
		}
		if balance != contracts.BalanceMax {
			t.Errorf("Issuance balance mismatch: got %s", balance)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestFlipperLifecycle(t *testing.T) {
	exec := newTestExecutor(t)
	st := newTestStorage(t, exec)

	var addr contracts.Address
	err := exec.TransactionEmulate(contracts.AddressNull, st, func(env *contracts.Env) error {
		var err error
		addr, err = flipper.Deploy(env, contracts.MethodContextReset, false)
		if err != nil {
			return err
		}

		value, err := flipper.Value(env, addr)
		if err != nil {
			return err
		}
		if value {
			t.Error("Fresh flipper should start false")
		}

		if err := flipper.Flip(env, contracts.MethodContextReset, addr); err != nil {
			return err
		}
		value, err = flipper.Value(env, addr)
		if err != nil {
			return err
		}
		if !value {
			t.Error("Flipped flipper should read true")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Flipper lifecycle failed: %v", err)
	}

	// Initializing twice must fail.
	err = exec.TransactionEmulate(contracts.AddressNull, st, func(env *contracts.Env) error {
		return flipper.New(env, contracts.MethodContextReset, addr, true)
	})
	if !errors.Is(err, contracts.ErrForbidden) {
		t.Errorf("Double init error mismatch: %v", err)
	}
}

func TestViewScopeForbidsUpdates(t *testing.T) {
	exec := newTestExecutor(t)
	st := newTestStorage(t, exec)

	var addr contracts.Address
	err := exec.TransactionEmulate(contracts.AddressNull, st, func(env *contracts.Env) error {
		var err error
		addr, err = flipper.Deploy(env, contracts.MethodContextReset, false)
		return err
	})
	if err != nil {
		t.Fatalf("Failed to deploy flipper: %v", err)
	}

	err = exec.WithEnvRO(st, func(env *contracts.Env) error {
		return flipper.Flip(env, contracts.MethodContextReset, addr)
	})
	if !errors.Is(err, contracts.ErrForbidden) {
		t.Errorf("Update through read-only scope error mismatch: %v", err)
	}
}

func TestCallToUnknownContract(t *testing.T) {
	exec := newTestExecutor(t)
	st := newTestStorage(t, exec)

	bogus := contracts.AddressFromUint64(12345)
	err := exec.WithEnvRO(st, func(env *contracts.Env) error {
		_, err := flipper.Value(env, bogus)
		return err
	})
	if !errors.Is(err, contracts.ErrNotFound) {
		t.Errorf("Unknown contract error mismatch: %v", err)
	}
}

// signedFlipTx builds a signed transaction flipping addr through the shell
// wallet.
func signedFlipTx(t *testing.T, privateKey ed25519.PrivateKey, shell, addr contracts.Address, nonce uint64) *transaction.Transaction {
	t.Helper()

	var payload transaction.PayloadBuilder
	err := payload.AddMethodCall(addr, flipper.FingerprintFlip,
		transaction.MethodContextWallet, nil, nil, nil)
	if err != nil {
		t.Fatalf("Failed to build payload: %v", err)
	}

	tx := &transaction.Transaction{
		Header: transaction.Header{
			GasLimit: 1_000_000,
			Contract: shell,
		},
		ReadSlots: []transaction.Slot{
			{Owner: addr, Contract: contracts.AddressSystemCode},
		},
		WriteSlots: []transaction.Slot{
			{Owner: shell, Contract: contracts.AddressSystemState},
			{Owner: addr, Contract: contracts.AddressSystemState},
		},
		Payload: payload.Bytes(),
	}
	wallet.SignTransaction(privateKey, tx, nonce)
	return tx
}

func TestSignedTransactionFlow(t *testing.T) {
	exec := newTestExecutor(t)
	st := newTestStorage(t, exec)

	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	var flipperAddr, shell contracts.Address
	err = exec.TransactionEmulate(contracts.AddressNull, st, func(env *contracts.Env) error {
		flipperAddr, err = flipper.Deploy(env, contracts.MethodContextReset, false)
		if err != nil {
			return err
		}
		shell, err = walletshell.Deploy(env, contracts.MethodContextReset, publicKey)
		return err
	})
	if err != nil {
		t.Fatalf("Failed to deploy contracts: %v", err)
	}

	tx := signedFlipTx(t, privateKey, shell, flipperAddr, 0)
	if err := exec.TransactionVerifyExecute(tx, st); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	err = exec.WithEnvRO(st, func(env *contracts.Env) error {
		value, err := flipper.Value(env, flipperAddr)
		if err != nil {
			return err
		}
		if !value {
			t.Error("Flipper should be true after the transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// The wallet nonce advanced, so the same transaction no longer
	// verifies.
	if err := exec.TransactionVerify(tx, st); !errors.Is(err, contracts.ErrBadInput) {
		t.Errorf("Replay error mismatch: %v", err)
	}

	// A transaction signed at the next nonce goes through.
	next := signedFlipTx(t, privateKey, shell, flipperAddr, 1)
	if err := exec.TransactionVerifyExecute(next, st); err != nil {
		t.Fatalf("Next transaction failed: %v", err)
	}
}

func TestBadSignatureRejected(t *testing.T) {
	exec := newTestExecutor(t)
	st := newTestStorage(t, exec)

	publicKey, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	_, wrongKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	var flipperAddr, shell contracts.Address
	err = exec.TransactionEmulate(contracts.AddressNull, st, func(env *contracts.Env) error {
		flipperAddr, err = flipper.Deploy(env, contracts.MethodContextReset, false)
		if err != nil {
			return err
		}
		shell, err = walletshell.Deploy(env, contracts.MethodContextReset, publicKey)
		return err
	})
	if err != nil {
		t.Fatalf("Failed to deploy contracts: %v", err)
	}

	tx := signedFlipTx(t, wrongKey, shell, flipperAddr, 0)
	if err := exec.TransactionVerify(tx, st); !errors.Is(err, contracts.ErrForbidden) {
		t.Errorf("Bad signature error mismatch: %v", err)
	}
}

func TestFailedExecutionRollsBack(t *testing.T) {
	exec := newTestExecutor(t)
	st := newTestStorage(t, exec)

	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	var flipperAddr, shell contracts.Address
	err = exec.TransactionEmulate(contracts.AddressNull, st, func(env *contracts.Env) error {
		flipperAddr, err = flipper.Deploy(env, contracts.MethodContextReset, false)
		if err != nil {
			return err
		}
		shell, err = walletshell.Deploy(env, contracts.MethodContextReset, publicKey)
		return err
	})
	if err != nil {
		t.Fatalf("Failed to deploy contracts: %v", err)
	}

	// Payload flips the flipper and then calls a contract that doesn't
	// exist. The whole transaction must roll back, including the flip.
	bogus := contracts.AddressFromUint64(54321)
	var payload transaction.PayloadBuilder
	if err := payload.AddMethodCall(flipperAddr, flipper.FingerprintFlip,
		transaction.MethodContextWallet, nil, nil, nil); err != nil {
		t.Fatalf("Failed to build payload: %v", err)
	}
	if err := payload.AddMethodCall(bogus, flipper.FingerprintFlip,
		transaction.MethodContextWallet, nil, nil, nil); err != nil {
		t.Fatalf("Failed to build payload: %v", err)
	}

	tx := &transaction.Transaction{
		Header: transaction.Header{
			GasLimit: 1_000_000,
			Contract: shell,
		},
		WriteSlots: []transaction.Slot{
			{Owner: shell, Contract: contracts.AddressSystemState},
			{Owner: flipperAddr, Contract: contracts.AddressSystemState},
		},
		Payload: payload.Bytes(),
	}
	wallet.SignTransaction(privateKey, tx, 0)

	if err := exec.TransactionVerify(tx, st); err != nil {
		t.Fatalf("Transaction failed verification: %v", err)
	}
	if err := exec.TransactionExecute(tx, st); !errors.Is(err, contracts.ErrNotFound) {
		t.Fatalf("Execution error mismatch: %v", err)
	}

	err = exec.WithEnvRO(st, func(env *contracts.Env) error {
		value, err := flipper.Value(env, flipperAddr)
		if err != nil {
			return err
		}
		if value {
			t.Error("Flip should have rolled back with the failed transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// The rollback covers the wallet nonce too: the transaction still
	// verifies at nonce 0.
	if err := exec.TransactionVerify(tx, st); err != nil {
		t.Errorf("Nonce should not have advanced: %v", err)
	}
}

func TestEmulateRollsBackOnError(t *testing.T) {
	exec := newTestExecutor(t)
	st := newTestStorage(t, exec)

	var addr contracts.Address
	err := exec.TransactionEmulate(contracts.AddressNull, st, func(env *contracts.Env) error {
		var err error
		addr, err = flipper.Deploy(env, contracts.MethodContextReset, false)
		if err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("Emulation should have failed")
	}

	err = exec.WithEnvRO(st, func(env *contracts.Env) error {
		_, err := flipper.Value(env, addr)
		return err
	})
	if !errors.Is(err, contracts.ErrNotFound) {
		t.Errorf("Rolled-back deployment error mismatch: %v", err)
	}
}
