package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AttestationSigner signs canonical attestation payloads on behalf of one
// oracle operator. The signature scheme mirrors what the verifier expects:
// a 65-byte recoverable secp256k1 signature over keccak256(payload).
type AttestationSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewAttestationSigner creates a signer from a hex-encoded secp256k1 private
// key (with or without 0x prefix).
func NewAttestationSigner(privateKeyHex string) (*AttestationSigner, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &AttestationSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the operator address derived from the signing key. This is
// the identity registered with the oracle verifier.
func (s *AttestationSigner) Address() common.Address {
	return s.address
}

// Sign produces a 65-byte recoverable signature over keccak256(payload).
func (s *AttestationSigner) Sign(payload []byte) ([]byte, error) {
	digest := ethcrypto.Keccak256(payload)
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign payload: %w", err)
	}
	return sig, nil
}

// BuildProof assembles a proof blob from a canonical payload and the
// collected operator signatures: payload ‖ sig1 ‖ ... ‖ sigN.
func BuildProof(payload []byte, sigs ...[]byte) []byte {
	out := make([]byte, 0, len(payload)+65*len(sigs))
	out = append(out, payload...)
	for _, sig := range sigs {
		out = append(out, sig...)
	}
	return out
}
