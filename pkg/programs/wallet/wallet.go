// Package wallet implements the reusable simple wallet base contract.
// Deployed wallets carry only a thin shell; the base holds the actual
// logic: ed25519 signature checks over the transaction hash, a
// monotonically increasing nonce against replays and payload execution.
// The base is stateless; callers pass the wallet state in and get the new
// state back.
package wallet

import (
	"crypto/ed25519"
	"encoding/binary"
	"math"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/cirrus/pkg/buffer"
	"github.com/fortiblox/cirrus/pkg/contracts"
	"github.com/fortiblox/cirrus/pkg/contracts/metadata"
	"github.com/fortiblox/cirrus/pkg/standards"
	"github.com/fortiblox/cirrus/pkg/transaction"
)

// Address of the wallet base contract.
var Address = contracts.AddressSystemSimpleWalletBase

// CodeName identifies the native implementation in the code registry.
const CodeName = "system-simple-wallet-base"

// SigningContext is the domain separator prepended to the transaction hash
// before signing.
const SigningContext = "system-simple-wallet"

// Fixed encoding sizes.
const (
	SealSize  = 64 + 8
	StateSize = 32 + 8
)

// Seal is the signature a wallet transaction carries.
type Seal struct {
	Signature [64]byte
	Nonce     uint64
}

// Encode returns the fixed wire encoding.
func (s *Seal) Encode() []byte {
	b := make([]byte, 0, SealSize)
	b = append(b, s.Signature[:]...)
	return binary.LittleEndian.AppendUint64(b, s.Nonce)
}

// DecodeSeal parses the fixed wire encoding.
func DecodeSeal(b []byte) (Seal, bool) {
	if len(b) != SealSize {
		return Seal{}, false
	}
	var s Seal
	copy(s.Signature[:], b[:64])
	s.Nonce = binary.LittleEndian.Uint64(b[64:])
	return s, true
}

// WalletState is the persistent wallet state.
type WalletState struct {
	PublicKey [32]byte
	Nonce     uint64
}

// Encode returns the fixed wire encoding.
func (s *WalletState) Encode() []byte {
	b := make([]byte, 0, StateSize)
	b = append(b, s.PublicKey[:]...)
	return binary.LittleEndian.AppendUint64(b, s.Nonce)
}

// DecodeWalletState parses the fixed wire encoding.
func DecodeWalletState(b []byte) (WalletState, bool) {
	if len(b) != StateSize {
		return WalletState{}, false
	}
	var s WalletState
	copy(s.PublicKey[:], b[:32])
	s.Nonce = binary.LittleEndian.Uint64(b[32:])
	return s, true
}

// Method metadata and fingerprints.
var (
	InitializeMetadata      []byte
	AuthorizeMetadata       []byte
	ExecuteMetadata         []byte
	IncreaseNonceMetadata   []byte
	ChangePublicKeyMetadata []byte

	FingerprintInitialize      contracts.MethodFingerprint
	FingerprintAuthorize       contracts.MethodFingerprint
	FingerprintExecute         contracts.MethodFingerprint
	FingerprintIncreaseNonce   contracts.MethodFingerprint
	FingerprintChangePublicKey contracts.MethodFingerprint
)

var contract *contracts.Contract

func init() {
	typeState := standards.Must(metadata.TypeStruct("WalletState",
		metadata.Field{Name: "public_key", Type: metadata.TypeFixedBytes(32)},
		metadata.Field{Name: "nonce", Type: metadata.TypeU64()},
	))
	typeSeal := standards.Must(metadata.TypeStruct("Seal",
		metadata.Field{Name: "signature", Type: metadata.TypeFixedBytes(64)},
		metadata.Field{Name: "nonce", Type: metadata.TypeU64()},
	))

	initializeMethod := metadata.NewMethod(metadata.MethodViewStateless, "initialize").
		Input("public_key", metadata.TypeFixedBytes(32)).
		Output("state", typeState)
	authorizeMethod := metadata.NewMethod(metadata.MethodViewStateless, "authorize").
		Input("state", typeState).
		Input("header", standards.TypeTransactionHeader).
		Input("read_slots", standards.TypeTransactionSlots).
		Input("write_slots", standards.TypeTransactionSlots).
		Input("payload", standards.TypeTransactionPayload).
		Input("seal", typeSeal)
	executeMethod := metadata.NewMethod(metadata.MethodUpdateStateless, "execute").
		EnvRw().
		Input("header", standards.TypeTransactionHeader).
		Input("read_slots", standards.TypeTransactionSlots).
		Input("write_slots", standards.TypeTransactionSlots).
		Input("payload", standards.TypeTransactionPayload).
		Input("seal", typeSeal)
	increaseNonceMethod := metadata.NewMethod(metadata.MethodViewStateless, "increase_nonce").
		Input("state", typeState).
		Input("seal", typeSeal).
		Output("new_state", typeState)
	changePublicKeyMethod := metadata.NewMethod(metadata.MethodViewStateless, "change_public_key").
		Input("state", typeState).
		Input("public_key", metadata.TypeFixedBytes(32)).
		Output("new_state", typeState)

	InitializeMetadata, FingerprintInitialize = standards.MustMethod(initializeMethod)
	AuthorizeMetadata, FingerprintAuthorize = standards.MustMethod(authorizeMethod)
	ExecuteMetadata, FingerprintExecute = standards.MustMethod(executeMethod)
	IncreaseNonceMetadata, FingerprintIncreaseNonce = standards.MustMethod(increaseNonceMethod)
	ChangePublicKeyMetadata, FingerprintChangePublicKey = standards.MustMethod(changePublicKeyMethod)

	contractMetadata := standards.Must(metadata.NewContract(
		standards.Must(metadata.TypeStruct("SimpleWalletBase")),
		metadata.TypeUnit(),
		metadata.TypeUnit(),
	).
		Method(initializeMethod).
		Method(authorizeMethod).
		Method(executeMethod).
		Method(increaseNonceMethod).
		Method(changePublicKeyMethod).
		Build())

	contract = &contracts.Contract{
		Code:     []byte(CodeName),
		Metadata: contractMetadata,
		Methods: []contracts.Method{
			{Fingerprint: FingerprintInitialize, Metadata: InitializeMetadata, Fn: initialize},
			{Fingerprint: FingerprintAuthorize, Metadata: AuthorizeMetadata, Fn: authorize},
			{Fingerprint: FingerprintExecute, Metadata: ExecuteMetadata, Fn: execute},
			{Fingerprint: FingerprintIncreaseNonce, Metadata: IncreaseNonceMetadata, Fn: increaseNonce},
			{Fingerprint: FingerprintChangePublicKey, Metadata: ChangePublicKeyMetadata, Fn: changePublicKey},
		},
	}
}

// Contract returns the native contract definition.
func Contract() *contracts.Contract {
	return contract
}

// HashTransaction computes the hash a wallet signs: the transaction bytes
// in wire order with the nonce appended.
func HashTransaction(header, readSlots, writeSlots, payload []byte, nonce uint64) [32]byte {
	hasher := blake3.New()
	hasher.Write(header)
	hasher.Write(readSlots)
	hasher.Write(writeSlots)
	hasher.Write(payload)
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], nonce)
	hasher.Write(n[:])

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

func signingMessage(hash [32]byte) []byte {
	return append([]byte(SigningContext), hash[:]...)
}

// Sign seals the transaction bytes with the given nonce.
func Sign(privateKey ed25519.PrivateKey, header, readSlots, writeSlots, payload []byte, nonce uint64) Seal {
	hash := HashTransaction(header, readSlots, writeSlots, payload, nonce)
	var seal Seal
	copy(seal.Signature[:], ed25519.Sign(privateKey, signingMessage(hash)))
	seal.Nonce = nonce
	return seal
}

// SignTransaction seals tx in place with the given nonce.
func SignTransaction(privateKey ed25519.PrivateKey, tx *transaction.Transaction, nonce uint64) {
	seal := Sign(
		privateKey,
		tx.Header.Encode(),
		transaction.EncodeSlots(tx.ReadSlots),
		transaction.EncodeSlots(tx.WriteSlots),
		tx.Payload,
		nonce,
	)
	tx.Seal = seal.Encode()
}

func initialize(_ *contracts.Env, call *contracts.MethodCall) error {
	if len(call.Inputs[0]) != ed25519.PublicKeySize {
		return contracts.ErrBadInput
	}
	var state WalletState
	copy(state.PublicKey[:], call.Inputs[0])
	if !call.Outputs[0].CopyFrom(state.Encode()) {
		return contracts.ErrBadOutput
	}
	return nil
}

func authorize(_ *contracts.Env, call *contracts.MethodCall) error {
	state, ok := DecodeWalletState(call.Inputs[0])
	if !ok {
		return contracts.ErrBadInput
	}
	seal, ok := DecodeSeal(call.Inputs[5])
	if !ok {
		return contracts.ErrBadInput
	}
	// A saturated nonce would replay forever.
	if state.Nonce == math.MaxUint64 {
		return contracts.ErrForbidden
	}
	if seal.Nonce != state.Nonce {
		return contracts.ErrBadInput
	}

	hash := HashTransaction(call.Inputs[1], call.Inputs[2], call.Inputs[3], call.Inputs[4], seal.Nonce)
	if !ed25519.Verify(state.PublicKey[:], signingMessage(hash), seal.Signature[:]) {
		return contracts.ErrForbidden
	}
	return nil
}

func execute(env *contracts.Env, call *contracts.MethodCall) error {
	// Only the shell that delegated to the base may drive execution, and
	// only under its own context.
	if env.Caller() != env.ContextAddress() {
		return contracts.ErrForbidden
	}

	decoder := transaction.NewPayloadDecoder(call.Inputs[3], nil)
	for {
		prepared, err := decoder.DecodeNextMethod()
		if err != nil {
			return contracts.ErrBadInput
		}
		if prepared == nil {
			return nil
		}
		if err := env.Call(prepared.Context, prepared.Method); err != nil {
			return err
		}
	}
}

func increaseNonce(_ *contracts.Env, call *contracts.MethodCall) error {
	state, ok := DecodeWalletState(call.Inputs[0])
	if !ok {
		return contracts.ErrBadInput
	}
	if _, ok := DecodeSeal(call.Inputs[1]); !ok {
		return contracts.ErrBadInput
	}
	if state.Nonce == math.MaxUint64 {
		return contracts.ErrForbidden
	}
	state.Nonce++
	if !call.Outputs[0].CopyFrom(state.Encode()) {
		return contracts.ErrBadOutput
	}
	return nil
}

func changePublicKey(_ *contracts.Env, call *contracts.MethodCall) error {
	state, ok := DecodeWalletState(call.Inputs[0])
	if !ok {
		return contracts.ErrBadInput
	}
	if len(call.Inputs[1]) != ed25519.PublicKeySize {
		return contracts.ErrBadInput
	}
	copy(state.PublicKey[:], call.Inputs[1])
	if !call.Outputs[0].CopyFrom(state.Encode()) {
		return contracts.ErrBadOutput
	}
	return nil
}

// Initialize returns the initial wallet state for publicKey.
func Initialize(env *contracts.Env, publicKey []byte) ([]byte, error) {
	out := buffer.New(StateSize)
	err := env.Call(contracts.MethodContextReset, &contracts.PreparedMethod{
		Contract:    Address,
		Fingerprint: FingerprintInitialize,
		Inputs:      [][]byte{publicKey},
		Outputs:     []*buffer.Buffer{out},
	})
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Authorize verifies the seal over the transaction bytes against state.
func Authorize(env *contracts.Env, state, header, readSlots, writeSlots, payload, seal []byte) error {
	return env.Call(contracts.MethodContextReset, &contracts.PreparedMethod{
		Contract:    Address,
		Fingerprint: FingerprintAuthorize,
		Inputs:      [][]byte{state, header, readSlots, writeSlots, payload, seal},
	})
}

// Execute runs the transaction payload through the environment.
func Execute(env *contracts.Env, method contracts.MethodContext, header, readSlots, writeSlots, payload, seal []byte) error {
	return env.Call(method, &contracts.PreparedMethod{
		Contract:    Address,
		Fingerprint: FingerprintExecute,
		Inputs:      [][]byte{header, readSlots, writeSlots, payload, seal},
	})
}

// IncreaseNonce returns state with the nonce advanced past seal's.
func IncreaseNonce(env *contracts.Env, state, seal []byte) ([]byte, error) {
	out := buffer.New(StateSize)
	err := env.Call(contracts.MethodContextReset, &contracts.PreparedMethod{
		Contract:    Address,
		Fingerprint: FingerprintIncreaseNonce,
		Inputs:      [][]byte{state, seal},
		Outputs:     []*buffer.Buffer{out},
	})
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// ChangePublicKey returns state with the public key replaced.
func ChangePublicKey(env *contracts.Env, state, publicKey []byte) ([]byte, error) {
	out := buffer.New(StateSize)
	err := env.Call(contracts.MethodContextReset, &contracts.PreparedMethod{
		Contract:    Address,
		Fingerprint: FingerprintChangePublicKey,
		Inputs:      [][]byte{state, publicKey},
		Outputs:     []*buffer.Buffer{out},
	})
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
