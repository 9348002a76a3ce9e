package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}

	privHex := signer.PrivateKeyHex()
	if len(privHex) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(privHex))
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()
	privHex := signer1.PrivateKeyHex()

	signer2, err := FromPrivateKeyHex(privHex)
	if err != nil {
		t.Fatalf("failed to load key: %v", err)
	}
	if signer2.Address() != signer1.Address() {
		t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
	}

	// 0x prefix accepted too
	signer3, err := FromPrivateKeyHex("0x" + privHex)
	if err != nil {
		t.Fatalf("failed to load 0x-prefixed key: %v", err)
	}
	if signer3.Address() != signer1.Address() {
		t.Error("0x-prefixed key produced different address")
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()

	digest := eth_crypto.Keccak256([]byte("listing digest"))
	signature, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(signature) != 65 {
		t.Errorf("signature length = %d, want 65", len(signature))
	}

	recovered, err := RecoverAddress(digest, signature)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
	}

	if !VerifySignature(signer.Address(), digest, signature) {
		t.Error("VerifySignature failed for valid signature")
	}
	wrong := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if VerifySignature(wrong, digest, signature) {
		t.Error("VerifySignature accepted wrong address")
	}
}

func TestSignRejectsBadDigest(t *testing.T) {
	signer, _ := GenerateKey()
	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("expected error signing non-32-byte digest")
	}
}

func TestRecoverMalformedSignature(t *testing.T) {
	digest := eth_crypto.Keccak256([]byte("x"))

	if _, err := RecoverAddress(digest, []byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated signature")
	}

	// right length, garbage content
	junk := make([]byte, 65)
	for i := range junk {
		junk[i] = 0xff
	}
	if _, err := RecoverAddress(digest, junk); err == nil {
		t.Error("expected error for garbage signature")
	}
}
