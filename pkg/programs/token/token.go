// Package token implements the system native token contract. Balances are
// slot records owned by the holder; the whole issuance is minted into the
// contract's own balance at bootstrap and only moves with transfers. The
// contract also implements the fungible trait by recursing into its own
// methods.
package token

import (
	"github.com/fortiblox/cirrus/pkg/buffer"
	"github.com/fortiblox/cirrus/pkg/contracts"
	"github.com/fortiblox/cirrus/pkg/contracts/metadata"
	"github.com/fortiblox/cirrus/pkg/standards"
)

// Address of the native token contract.
var Address = contracts.AddressSystemNativeToken

// CodeName identifies the native implementation in the code registry.
const CodeName = "system-native-token"

// Method metadata and fingerprints.
var (
	InitializeMetadata []byte
	BalanceMetadata    []byte
	TransferMetadata   []byte

	FingerprintInitialize contracts.MethodFingerprint
	FingerprintBalance    contracts.MethodFingerprint
	FingerprintTransfer   contracts.MethodFingerprint
)

var contract *contracts.Contract

func init() {
	initializeMethod := metadata.NewMethod(metadata.MethodUpdateStateless, "initialize").
		EnvRo().
		SlotRw("own").
		Input("max_issuance", metadata.TypeBalance())
	balanceMethod := metadata.NewMethod(metadata.MethodViewStateless, "balance").
		SlotRo("target").
		Output("balance", metadata.TypeBalance())
	transferMethod := metadata.NewMethod(metadata.MethodUpdateStateless, "transfer").
		EnvRo().
		SlotRw("from").
		SlotRw("to").
		Input("amount", metadata.TypeBalance())

	InitializeMetadata, FingerprintInitialize = standards.MustMethod(initializeMethod)
	BalanceMetadata, FingerprintBalance = standards.MustMethod(balanceMethod)
	TransferMetadata, FingerprintTransfer = standards.MustMethod(transferMethod)

	contractMetadata := standards.Must(metadata.NewContract(
		standards.Must(metadata.TypeStruct("NativeToken")),
		standards.Must(metadata.TypeStruct("Slot",
			metadata.Field{Name: "balance", Type: metadata.TypeBalance()},
		)),
		metadata.TypeUnit(),
	).
		Method(initializeMethod).
		Method(balanceMethod).
		Method(transferMethod).
		Build())

	contract = &contracts.Contract{
		Code:     []byte(CodeName),
		Metadata: contractMetadata,
		Methods: []contracts.Method{
			{Fingerprint: FingerprintInitialize, Metadata: InitializeMetadata, Fn: initialize},
			{Fingerprint: FingerprintBalance, Metadata: BalanceMetadata, Fn: balance},
			{Fingerprint: FingerprintTransfer, Metadata: TransferMetadata, Fn: transfer},
		},
	}
}

// Contract returns the native contract definition.
func Contract() *contracts.Contract {
	return contract
}

// Fungible returns the fungible trait implementation, registered next to
// the contract's own methods.
func Fungible() []contracts.Method {
	return []contracts.Method{
		{
			Fingerprint: standards.FingerprintFungibleTransfer,
			Metadata:    standards.FungibleTransferMetadata,
			Fn:          fungibleTransfer,
		},
		{
			Fingerprint: standards.FingerprintFungibleBalance,
			Metadata:    standards.FungibleBalanceMetadata,
			Fn:          fungibleBalance,
		},
	}
}

func parseBalance(b []byte) (contracts.Balance, bool) {
	var out contracts.Balance
	switch len(b) {
	case 0:
		// A missing slot is a zero balance.
		return out, true
	case 16:
		copy(out[:], b)
		return out, true
	default:
		return out, false
	}
}

func initialize(env *contracts.Env, call *contracts.MethodCall) error {
	if !env.Caller().IsNull() {
		return contracts.ErrForbidden
	}
	slot := &call.Slots[0]
	if slot.Address != env.OwnAddress() {
		return contracts.ErrBadInput
	}
	if slot.RW.Len() != 0 {
		return contracts.ErrConflict
	}
	if len(call.Inputs[0]) != 16 {
		return contracts.ErrBadInput
	}
	if !slot.RW.CopyFrom(call.Inputs[0]) {
		return contracts.ErrBadInput
	}
	return nil
}

func balance(_ *contracts.Env, call *contracts.MethodCall) error {
	amount, ok := parseBalance(call.Slots[0].RO)
	if !ok {
		return contracts.ErrBadInput
	}
	if !call.Outputs[0].CopyFrom(amount[:]) {
		return contracts.ErrBadOutput
	}
	return nil
}

func transfer(env *contracts.Env, call *contracts.MethodCall) error {
	from := &call.Slots[0]
	to := &call.Slots[1]

	if !canSpend(env, from.Address) {
		return contracts.ErrForbidden
	}

	var amount contracts.Balance
	if len(call.Inputs[0]) != 16 {
		return contracts.ErrBadInput
	}
	copy(amount[:], call.Inputs[0])

	fromBalance, ok := parseBalance(from.RW.Bytes())
	if !ok {
		return contracts.ErrBadInput
	}
	remaining, ok := fromBalance.Sub(amount)
	if !ok {
		// Insufficient funds.
		return contracts.ErrBadInput
	}

	toBalance, ok := parseBalance(to.RW.Bytes())
	if !ok {
		return contracts.ErrBadInput
	}
	increased, ok := toBalance.Add(amount)
	if !ok {
		return contracts.ErrBadInput
	}

	if remaining.IsZero() {
		// Spending the whole balance removes the record.
		if !from.RW.SetLen(0) {
			return contracts.ErrInternalError
		}
	} else if !from.RW.CopyFrom(remaining[:]) {
		return contracts.ErrInternalError
	}
	if !to.RW.CopyFrom(increased[:]) {
		return contracts.ErrInternalError
	}
	return nil
}

// canSpend reports whether the current call may move funds out of from:
// the holder's own context, the holder calling directly, the token
// contract itself or the bootstrap.
func canSpend(env *contracts.Env, from contracts.Address) bool {
	return env.ContextAddress() == from ||
		env.Caller() == from ||
		env.Caller() == env.OwnAddress() ||
		env.Caller().IsNull()
}

func fungibleTransfer(env *contracts.Env, call *contracts.MethodCall) error {
	if len(call.Inputs[0]) != 16 || len(call.Inputs[1]) != 16 || len(call.Inputs[2]) != 16 {
		return contracts.ErrBadInput
	}
	var from, to contracts.Address
	var amount contracts.Balance
	copy(from[:], call.Inputs[0])
	copy(to[:], call.Inputs[1])
	copy(amount[:], call.Inputs[2])

	if !canSpend(env, from) {
		return contracts.ErrForbidden
	}
	// Recurse into the direct method; the token contract calling itself
	// passes the spend check above.
	return Transfer(env, contracts.MethodContextKeep, from, to, amount)
}

func fungibleBalance(env *contracts.Env, call *contracts.MethodCall) error {
	if len(call.Inputs[0]) != 16 {
		return contracts.ErrBadInput
	}
	var target contracts.Address
	copy(target[:], call.Inputs[0])

	amount, err := BalanceOf(env, target)
	if err != nil {
		return err
	}
	if !call.Outputs[0].CopyFrom(amount[:]) {
		return contracts.ErrBadOutput
	}
	return nil
}

// Initialize mints maxIssuance into the contract's own balance. Only the
// bootstrap may call it and only once.
func Initialize(env *contracts.Env, method contracts.MethodContext, maxIssuance contracts.Balance) error {
	return env.Call(method, &contracts.PreparedMethod{
		Contract:    Address,
		Fingerprint: FingerprintInitialize,
		Slots:       []contracts.Address{Address},
		Inputs:      [][]byte{maxIssuance[:]},
	})
}

// BalanceOf returns target's balance. Missing records read as zero.
func BalanceOf(env *contracts.Env, target contracts.Address) (contracts.Balance, error) {
	out := buffer.New(16)
	err := env.Call(contracts.MethodContextReset, &contracts.PreparedMethod{
		Contract:    Address,
		Fingerprint: FingerprintBalance,
		Slots:       []contracts.Address{target},
		Outputs:     []*buffer.Buffer{out},
	})
	if err != nil {
		return contracts.Balance{}, err
	}
	if out.Len() != 16 {
		return contracts.Balance{}, contracts.ErrBadOutput
	}
	var amount contracts.Balance
	copy(amount[:], out.Bytes())
	return amount, nil
}

// Transfer moves amount from one holder to another.
func Transfer(env *contracts.Env, method contracts.MethodContext, from, to contracts.Address, amount contracts.Balance) error {
	return env.Call(method, &contracts.PreparedMethod{
		Contract:    Address,
		Fingerprint: FingerprintTransfer,
		Slots:       []contracts.Address{from, to},
		Inputs:      [][]byte{amount[:]},
	})
}
