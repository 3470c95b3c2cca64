package wallet

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/fortiblox/cirrus/pkg/contracts"
	"github.com/fortiblox/cirrus/pkg/transaction"
)

func TestSealRoundTrip(t *testing.T) {
	seal := Seal{Nonce: 42}
	for i := range seal.Signature {
		seal.Signature[i] = byte(i)
	}

	encoded := seal.Encode()
	if len(encoded) != SealSize {
		t.Fatalf("Seal encoding size mismatch: got %d", len(encoded))
	}
	decoded, ok := DecodeSeal(encoded)
	if !ok {
		t.Fatal("Failed to decode seal")
	}
	if decoded != seal {
		t.Errorf("Seal round trip mismatch: got %+v", decoded)
	}

	if _, ok := DecodeSeal(encoded[:SealSize-1]); ok {
		t.Error("Truncated seal should not decode")
	}
}

func TestWalletStateRoundTrip(t *testing.T) {
	state := WalletState{Nonce: 7}
	for i := range state.PublicKey {
		state.PublicKey[i] = byte(255 - i)
	}

	encoded := state.Encode()
	if len(encoded) != StateSize {
		t.Fatalf("State encoding size mismatch: got %d", len(encoded))
	}
	decoded, ok := DecodeWalletState(encoded)
	if !ok {
		t.Fatal("Failed to decode wallet state")
	}
	if decoded != state {
		t.Errorf("State round trip mismatch: got %+v", decoded)
	}

	if _, ok := DecodeWalletState(append(encoded, 0)); ok {
		t.Error("Oversized state should not decode")
	}
}

func TestHashTransactionCoversEverySection(t *testing.T) {
	header := []byte("header")
	readSlots := []byte("reads")
	writeSlots := []byte("writes")
	payload := []byte("payload")

	base := HashTransaction(header, readSlots, writeSlots, payload, 0)

	variants := [][32]byte{
		HashTransaction([]byte("headerx"), readSlots, writeSlots, payload, 0),
		HashTransaction(header, []byte("readsx"), writeSlots, payload, 0),
		HashTransaction(header, readSlots, []byte("writesx"), payload, 0),
		HashTransaction(header, readSlots, writeSlots, []byte("payloadx"), 0),
		HashTransaction(header, readSlots, writeSlots, payload, 1),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("Variant %d should change the hash", i)
		}
	}

	if HashTransaction(header, readSlots, writeSlots, payload, 0) != base {
		t.Error("Hash should be deterministic")
	}
}

func TestSignVerify(t *testing.T) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	header := []byte("header")
	payload := []byte("payload")
	seal := Sign(privateKey, header, nil, nil, payload, 3)
	if seal.Nonce != 3 {
		t.Errorf("Seal nonce mismatch: got %d", seal.Nonce)
	}

	hash := HashTransaction(header, nil, nil, payload, 3)
	if !ed25519.Verify(publicKey, signingMessage(hash), seal.Signature[:]) {
		t.Error("Seal signature should verify")
	}

	// The domain separator is part of the signed message.
	if ed25519.Verify(publicKey, hash[:], seal.Signature[:]) {
		t.Error("Signature must not verify without the signing context")
	}
}

func TestSignTransactionSealsWireSections(t *testing.T) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	tx := &transaction.Transaction{
		Header: transaction.Header{
			GasLimit: 100,
			Contract: contracts.AddressFromUint64(99),
		},
		WriteSlots: []transaction.Slot{
			{Owner: contracts.AddressFromUint64(99), Contract: contracts.AddressSystemState},
		},
		Payload: bytes.Repeat([]byte{1}, 16),
	}
	SignTransaction(privateKey, tx, 5)

	seal, ok := DecodeSeal(tx.Seal)
	if !ok {
		t.Fatal("Failed to decode transaction seal")
	}
	if seal.Nonce != 5 {
		t.Errorf("Seal nonce mismatch: got %d", seal.Nonce)
	}

	hash := HashTransaction(
		tx.Header.Encode(),
		transaction.EncodeSlots(tx.ReadSlots),
		transaction.EncodeSlots(tx.WriteSlots),
		tx.Payload,
		5,
	)
	if !ed25519.Verify(publicKey, signingMessage(hash), seal.Signature[:]) {
		t.Error("Transaction seal should verify")
	}
}
