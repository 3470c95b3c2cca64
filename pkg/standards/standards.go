// Package standards defines the method shapes contracts agree on without
// sharing code: the transaction handler interface the executor drives and
// the fungible token interface. Both are published as trait metadata;
// the fingerprints derived from it let any contract implement them or call
// an implementation without knowing which contract is behind the address.
package standards

import (
	"github.com/fortiblox/cirrus/pkg/buffer"
	"github.com/fortiblox/cirrus/pkg/contracts"
	"github.com/fortiblox/cirrus/pkg/contracts/metadata"
)

// Wire types shared by the transaction handler methods. They mirror the
// transaction package's fixed encodings byte for byte.
var (
	TypeTransactionHeader = Must(metadata.TypeStruct("TransactionHeader",
		metadata.Field{Name: "block_hash", Type: metadata.TypeFixedBytes(32)},
		metadata.Field{Name: "gas_limit", Type: metadata.TypeU64()},
		metadata.Field{Name: "contract", Type: metadata.TypeAddress()},
	))
	TypeTransactionSlot = Must(metadata.TypeStruct("TransactionSlot",
		metadata.Field{Name: "owner", Type: metadata.TypeAddress()},
		metadata.Field{Name: "contract", Type: metadata.TypeAddress()},
	))
	TypeTransactionSlots   = metadata.TypeVariableElements(0, TypeTransactionSlot)
	TypeTransactionPayload = metadata.TypeVariableElements(0, metadata.TypeU128())
	TypeTransactionSeal    = metadata.TypeVariableBytes(0)
)

// TxHandler is the transaction handler trait. The executor calls authorize
// against read-only slots to admit a transaction and execute against
// writable slots to apply it. Handlers see the same raw bytes the
// transaction was hashed over.
var (
	TxHandlerMetadata []byte

	TxHandlerAuthorizeMetadata []byte
	TxHandlerExecuteMetadata   []byte

	FingerprintTxHandlerAuthorize contracts.MethodFingerprint
	FingerprintTxHandlerExecute   contracts.MethodFingerprint
)

// Fungible is the fungible token trait.
var (
	FungibleMetadata []byte

	FungibleTransferMetadata []byte
	FungibleBalanceMetadata  []byte

	FingerprintFungibleTransfer contracts.MethodFingerprint
	FingerprintFungibleBalance  contracts.MethodFingerprint
)

func init() {
	authorize := metadata.NewMethod(metadata.MethodViewStateless, "authorize").
		EnvRo().
		Input("header", TypeTransactionHeader).
		Input("read_slots", TypeTransactionSlots).
		Input("write_slots", TypeTransactionSlots).
		Input("payload", TypeTransactionPayload).
		Input("seal", TypeTransactionSeal)
	execute := metadata.NewMethod(metadata.MethodUpdateStateless, "execute").
		EnvRw().
		Input("header", TypeTransactionHeader).
		Input("read_slots", TypeTransactionSlots).
		Input("write_slots", TypeTransactionSlots).
		Input("payload", TypeTransactionPayload).
		Input("seal", TypeTransactionSeal)
	TxHandlerAuthorizeMetadata, FingerprintTxHandlerAuthorize = MustMethod(authorize)
	TxHandlerExecuteMetadata, FingerprintTxHandlerExecute = MustMethod(execute)
	TxHandlerMetadata = Must(metadata.NewTrait("TxHandler").
		Method(authorize).
		Method(execute).
		Build())

	transfer := metadata.NewMethod(metadata.MethodUpdateStateless, "transfer").
		EnvRw().
		Input("from", metadata.TypeAddress()).
		Input("to", metadata.TypeAddress()).
		Input("amount", metadata.TypeBalance())
	balance := metadata.NewMethod(metadata.MethodViewStateless, "balance").
		EnvRo().
		Input("address", metadata.TypeAddress()).
		Output("balance", metadata.TypeBalance())
	FungibleTransferMetadata, FingerprintFungibleTransfer = MustMethod(transfer)
	FungibleBalanceMetadata, FingerprintFungibleBalance = MustMethod(balance)
	FungibleMetadata = Must(metadata.NewTrait("Fungible").
		Method(transfer).
		Method(balance).
		Build())
}

// TxHandlerAuthorize asks handler to admit the transaction described by the
// raw header, slot and payload bytes.
func TxHandlerAuthorize(env *contracts.Env, handler contracts.Address, header, readSlots, writeSlots, payload, seal []byte) error {
	return env.Call(contracts.MethodContextReset, &contracts.PreparedMethod{
		Contract:    handler,
		Fingerprint: FingerprintTxHandlerAuthorize,
		Inputs:      [][]byte{header, readSlots, writeSlots, payload, seal},
	})
}

// TxHandlerExecute asks handler to apply the transaction described by the
// raw header, slot and payload bytes.
func TxHandlerExecute(env *contracts.Env, method contracts.MethodContext, handler contracts.Address, header, readSlots, writeSlots, payload, seal []byte) error {
	return env.Call(method, &contracts.PreparedMethod{
		Contract:    handler,
		Fingerprint: FingerprintTxHandlerExecute,
		Inputs:      [][]byte{header, readSlots, writeSlots, payload, seal},
	})
}

// FungibleTransfer moves amount from one address to another through any
// contract implementing the fungible trait. The context is kept so the
// callee can authorize the spend against it.
func FungibleTransfer(env *contracts.Env, token, from, to contracts.Address, amount contracts.Balance) error {
	return env.Call(contracts.MethodContextKeep, &contracts.PreparedMethod{
		Contract:    token,
		Fingerprint: FingerprintFungibleTransfer,
		Inputs:      [][]byte{from[:], to[:], amount[:]},
	})
}

// FungibleBalance reads the balance of address from any contract
// implementing the fungible trait.
func FungibleBalance(env *contracts.Env, token, address contracts.Address) (contracts.Balance, error) {
	out := buffer.New(16)
	err := env.Call(contracts.MethodContextReset, &contracts.PreparedMethod{
		Contract:    token,
		Fingerprint: FingerprintFungibleBalance,
		Inputs:      [][]byte{address[:]},
		Outputs:     []*buffer.Buffer{out},
	})
	if err != nil {
		return contracts.Balance{}, err
	}
	if out.Len() != 16 {
		return contracts.Balance{}, contracts.ErrBadOutput
	}
	var balance contracts.Balance
	copy(balance[:], out.Bytes())
	return balance, nil
}

// Must returns encoded, panicking on error. Native contract and interface
// metadata is static, so a failure here is a programming error.
func Must(encoded []byte, err error) []byte {
	if err != nil {
		panic(err)
	}
	return encoded
}

// MustMethod builds the method metadata and derives its fingerprint,
// panicking on error.
func MustMethod(b *metadata.MethodBuilder) ([]byte, contracts.MethodFingerprint) {
	encoded, err := b.Build()
	if err != nil {
		panic(err)
	}
	fingerprint, ok := metadata.Fingerprint(encoded)
	if !ok {
		panic("standards: method metadata does not compact")
	}
	return encoded, fingerprint
}
