package executor

import (
	"fmt"

	"github.com/fortiblox/cirrus/pkg/contracts"
	"github.com/fortiblox/cirrus/pkg/programs/addralloc"
	"github.com/fortiblox/cirrus/pkg/programs/code"
	"github.com/fortiblox/cirrus/pkg/programs/state"
	"github.com/fortiblox/cirrus/pkg/programs/token"
	"github.com/fortiblox/cirrus/pkg/programs/wallet"
	"github.com/fortiblox/cirrus/pkg/slots"
	"github.com/fortiblox/cirrus/pkg/standards"
	"github.com/fortiblox/cirrus/pkg/transaction"
)

// NewStorage creates empty slot storage with the system contracts of this
// executor's shard deployed and initialized. The genesis of a shard runs
// through here; loading an existing shard goes through slots.New with the
// persisted records instead.
func (e *Executor) NewStorage() (*slots.Slots, error) {
	st := slots.New(map[slots.SlotKey][]byte{
		{Owner: code.Address, Contract: contracts.AddressSystemCode}: code.Contract().Code,
	}, e.logger)

	for _, owner := range []contracts.Address{
		state.Address,
		e.allocator,
		token.Address,
		wallet.Address,
	} {
		if !st.AddNewContract(owner) {
			return nil, fmt.Errorf("%w: failed to register system contract %s",
				contracts.ErrInternalError, owner)
		}
	}

	err := e.TransactionEmulate(contracts.AddressNull, st, func(env *contracts.Env) error {
		for _, sys := range []struct {
			address contracts.Address
			code    []byte
		}{
			{state.Address, state.Contract().Code},
			{e.allocator, addralloc.Contract().Code},
			{token.Address, token.Contract().Code},
			{wallet.Address, wallet.Contract().Code},
		} {
			if err := code.Store(env, contracts.MethodContextReset, sys.address, sys.code); err != nil {
				return fmt.Errorf("failed to store code for %s: %w", sys.address, err)
			}
		}
		if err := addralloc.New(env, contracts.MethodContextReset, e.allocator); err != nil {
			return fmt.Errorf("failed to initialize address allocator: %w", err)
		}
		if err := token.Initialize(env, contracts.MethodContextReset, contracts.BalanceMax); err != nil {
			return fmt.Errorf("failed to initialize native token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// TransactionVerify runs the transaction's authorization without executing
// it. Only view methods run, so storage is left untouched.
func (e *Executor) TransactionVerify(tx *transaction.Transaction, st *slots.Slots) error {
	return e.WithEnvRO(st, func(env *contracts.Env) error {
		return e.verify(env, tx)
	})
}

// TransactionExecute executes a previously verified transaction.
func (e *Executor) TransactionExecute(tx *transaction.Transaction, st *slots.Slots) error {
	return e.transactionExecute(tx, st)
}

// TransactionVerifyExecute verifies and, if authorization succeeds, executes
// a transaction.
func (e *Executor) TransactionVerifyExecute(tx *transaction.Transaction, st *slots.Slots) error {
	if err := e.TransactionVerify(tx, st); err != nil {
		return err
	}
	return e.transactionExecute(tx, st)
}

// TransactionEmulate runs fn with a read-write environment impersonating
// contract, bypassing transaction authorization. Intended for testing and
// for the genesis bootstrap.
func (e *Executor) TransactionEmulate(contract contracts.Address, st *slots.Slots, fn func(env *contracts.Env) error) error {
	scope := st.NestedRW()
	defer scope.Close()

	env := contracts.NewEnv(contracts.EnvState{
		Shard:          e.shard,
		OwnAddress:     contract,
		ContextAddress: contract,
	}, &execContext{
		exec:             e,
		scope:            scope,
		allowEnvMutation: true,
	})
	if err := fn(env); err != nil {
		scope.Reset()
		return err
	}
	return nil
}

// WithEnvRO runs fn with an anonymous read-only environment. Only view
// methods can be called through it.
func (e *Executor) WithEnvRO(st *slots.Slots, fn func(env *contracts.Env) error) error {
	scope := st.NestedRO()
	defer scope.Close()

	env := contracts.NewEnv(contracts.EnvState{
		Shard: e.shard,
	}, &execContext{
		exec:  e,
		scope: scope,
	})
	return fn(env)
}

func (e *Executor) verify(env *contracts.Env, tx *transaction.Transaction) error {
	return standards.TxHandlerAuthorize(env, tx.Header.Contract,
		tx.Header.Encode(),
		transaction.EncodeSlots(tx.ReadSlots),
		transaction.EncodeSlots(tx.WriteSlots),
		tx.Payload,
		tx.Seal)
}

func (e *Executor) transactionExecute(tx *transaction.Transaction, st *slots.Slots) error {
	scope := st.NestedRW()
	defer scope.Close()

	env := contracts.NewEnv(contracts.EnvState{
		Shard: e.shard,
	}, &execContext{
		exec:             e,
		scope:            scope,
		allowEnvMutation: true,
	})
	err := standards.TxHandlerExecute(env, contracts.MethodContextReset, tx.Header.Contract,
		tx.Header.Encode(),
		transaction.EncodeSlots(tx.ReadSlots),
		transaction.EncodeSlots(tx.WriteSlots),
		tx.Payload,
		tx.Seal)
	if err != nil {
		scope.Reset()
		return err
	}
	return nil
}
