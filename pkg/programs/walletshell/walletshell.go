// Package walletshell implements the deployable wallet contract. The shell
// keeps its wallet state in the system state contract and delegates all
// logic to the wallet base: it is the transaction handler the executor
// talks to, the base does the signature and nonce work.
package walletshell

import (
	"github.com/fortiblox/cirrus/pkg/contracts"
	"github.com/fortiblox/cirrus/pkg/contracts/metadata"
	"github.com/fortiblox/cirrus/pkg/programs/code"
	"github.com/fortiblox/cirrus/pkg/programs/state"
	"github.com/fortiblox/cirrus/pkg/programs/wallet"
	"github.com/fortiblox/cirrus/pkg/standards"
)

// CodeName identifies the native implementation in the code registry.
const CodeName = "wallet-shell"

// Method metadata and fingerprints of the shell's own methods. The
// transaction handler methods carry the trait fingerprints.
var (
	InitializeMetadata      []byte
	ChangePublicKeyMetadata []byte

	FingerprintInitialize      contracts.MethodFingerprint
	FingerprintChangePublicKey contracts.MethodFingerprint
)

var contract *contracts.Contract

func init() {
	initializeMethod := metadata.NewMethod(metadata.MethodUpdateStateless, "initialize").
		EnvRw().
		Input("public_key", metadata.TypeFixedBytes(32))
	changePublicKeyMethod := metadata.NewMethod(metadata.MethodUpdateStateless, "change_public_key").
		EnvRw().
		Input("public_key", metadata.TypeFixedBytes(32))

	InitializeMetadata, FingerprintInitialize = standards.MustMethod(initializeMethod)
	ChangePublicKeyMetadata, FingerprintChangePublicKey = standards.MustMethod(changePublicKeyMethod)

	contractMetadata := standards.Must(metadata.NewContract(
		standards.Must(metadata.TypeStruct("WalletShell")),
		metadata.TypeUnit(),
		metadata.TypeUnit(),
	).
		Method(initializeMethod).
		Method(changePublicKeyMethod).
		Build())

	contract = &contracts.Contract{
		Code:     []byte(CodeName),
		Metadata: contractMetadata,
		Methods: []contracts.Method{
			{Fingerprint: FingerprintInitialize, Metadata: InitializeMetadata, Fn: initialize},
			{Fingerprint: FingerprintChangePublicKey, Metadata: ChangePublicKeyMetadata, Fn: changePublicKey},
		},
	}
}

// Contract returns the native contract definition.
func Contract() *contracts.Contract {
	return contract
}

// TxHandler returns the transaction handler trait implementation.
func TxHandler() []contracts.Method {
	return []contracts.Method{
		{
			Fingerprint: standards.FingerprintTxHandlerAuthorize,
			Metadata:    standards.TxHandlerAuthorizeMetadata,
			Fn:          authorize,
		},
		{
			Fingerprint: standards.FingerprintTxHandlerExecute,
			Metadata:    standards.TxHandlerExecuteMetadata,
			Fn:          execute,
		},
	}
}

func authorize(env *contracts.Env, call *contracts.MethodCall) error {
	walletState, err := state.Read(env, env.OwnAddress())
	if err != nil {
		return err
	}
	return wallet.Authorize(env, walletState,
		call.Inputs[0], call.Inputs[1], call.Inputs[2], call.Inputs[3], call.Inputs[4])
}

func execute(env *contracts.Env, call *contracts.MethodCall) error {
	// Transaction execution is only ever driven by the executor directly.
	if !env.Caller().IsNull() {
		return contracts.ErrForbidden
	}

	oldState, err := state.Read(env, env.OwnAddress())
	if err != nil {
		return err
	}
	err = wallet.Execute(env, contracts.MethodContextReplace,
		call.Inputs[0], call.Inputs[1], call.Inputs[2], call.Inputs[3], call.Inputs[4])
	if err != nil {
		return err
	}
	newState, err := wallet.IncreaseNonce(env, oldState, call.Inputs[4])
	if err != nil {
		return err
	}
	// Losing the compare against a key rotation the payload performed is
	// fine: the rotation already advanced the stored state.
	_, err = state.CompareAndWrite(env, contracts.MethodContextReset, env.OwnAddress(), oldState, newState)
	return err
}

func initialize(env *contracts.Env, call *contracts.MethodCall) error {
	walletState, err := wallet.Initialize(env, call.Inputs[0])
	if err != nil {
		return err
	}
	return state.Initialize(env, contracts.MethodContextReset, env.OwnAddress(), walletState)
}

func changePublicKey(env *contracts.Env, call *contracts.MethodCall) error {
	// Key rotation must come through the wallet's own signed payload: the
	// base executes it under the shell's context.
	if env.ContextAddress() != env.OwnAddress() || env.Caller() != wallet.Address {
		return contracts.ErrForbidden
	}

	oldState, err := state.Read(env, env.OwnAddress())
	if err != nil {
		return err
	}
	newState, err := wallet.ChangePublicKey(env, oldState, call.Inputs[0])
	if err != nil {
		return err
	}
	return state.Write(env, contracts.MethodContextReset, env.OwnAddress(), newState)
}

// Deploy deploys a new shell wallet controlled by publicKey.
func Deploy(env *contracts.Env, method contracts.MethodContext, publicKey []byte) (contracts.Address, error) {
	shell, err := code.Deploy(env, method, contract.Code)
	if err != nil {
		return contracts.AddressNull, err
	}
	if err := Initialize(env, method, shell, publicKey); err != nil {
		return contracts.AddressNull, err
	}
	return shell, nil
}

// Initialize sets a freshly deployed shell's public key.
func Initialize(env *contracts.Env, method contracts.MethodContext, shell contracts.Address, publicKey []byte) error {
	return env.Call(method, &contracts.PreparedMethod{
		Contract:    shell,
		Fingerprint: FingerprintInitialize,
		Inputs:      [][]byte{publicKey},
	})
}
