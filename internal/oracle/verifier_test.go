package oracle

import (
	"encoding/hex"
	"errors"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/emberhedge/firemark/internal/crypto"
	"github.com/emberhedge/firemark/internal/domain"
)

// newOperator generates a fresh operator keypair and returns its signer and
// hex address.
func newOperator(t *testing.T) (*crypto.AttestationSigner, string) {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := crypto.NewAttestationSigner(hex.EncodeToString(ethcrypto.FromECDSA(pk)))
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return signer, signer.Address().Hex()
}

func signedProof(t *testing.T, payload domain.AttestationPayload, signers ...*crypto.AttestationSigner) []byte {
	t.Helper()
	raw := EncodePayload(payload)
	sigs := make([][]byte, 0, len(signers))
	for _, s := range signers {
		sig, err := s.Sign(raw)
		if err != nil {
			t.Fatalf("sign payload: %v", err)
		}
		sigs = append(sigs, sig)
	}
	return crypto.BuildProof(raw, sigs...)
}

func TestVerifierQuorum(t *testing.T) {
	s1, a1 := newOperator(t)
	s2, a2 := newOperator(t)
	_, a3 := newOperator(t)

	v, err := NewVerifier([]string{a1, a2, a3}, 2)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	want := domain.AttestationPayload{Latitude: 35676200, Longitude: 139650300, FireFlag: 1}

	got, err := v.Verify(signedProof(t, want, s1, s2))
	if err != nil {
		t.Fatalf("Verify with quorum: %v", err)
	}
	if got != want {
		t.Fatalf("payload = %+v, want %+v", got, want)
	}

	// One signature is below the threshold.
	if _, err := v.Verify(signedProof(t, want, s1)); !errors.Is(err, domain.ErrInvalidOracleData) {
		t.Fatalf("below quorum: err = %v, want ErrInvalidOracleData", err)
	}
}

func TestVerifierRejectsUnregisteredSigners(t *testing.T) {
	s1, a1 := newOperator(t)
	outsider1, _ := newOperator(t)
	outsider2, _ := newOperator(t)

	v, err := NewVerifier([]string{a1}, 1)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	payload := domain.AttestationPayload{Latitude: 1_000_000, Longitude: 2_000_000, FireFlag: 0}

	// Outsider signatures never count toward the quorum.
	if _, err := v.Verify(signedProof(t, payload, outsider1, outsider2)); !errors.Is(err, domain.ErrInvalidOracleData) {
		t.Fatalf("outsider quorum: err = %v, want ErrInvalidOracleData", err)
	}
	if _, err := v.Verify(signedProof(t, payload, outsider1, s1)); err != nil {
		t.Fatalf("mixed signatures with one registered: %v", err)
	}
}

func TestVerifierCountsDistinctSigners(t *testing.T) {
	s1, a1 := newOperator(t)
	_, a2 := newOperator(t)

	v, err := NewVerifier([]string{a1, a2}, 2)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	payload := domain.AttestationPayload{Latitude: 1_000_000, Longitude: 2_000_000, FireFlag: 1}

	// The same operator signing twice is one vote, not two.
	if _, err := v.Verify(signedProof(t, payload, s1, s1)); !errors.Is(err, domain.ErrInvalidOracleData) {
		t.Fatalf("duplicate signer: err = %v, want ErrInvalidOracleData", err)
	}
}

func TestVerifierRejectsMalformedBlobs(t *testing.T) {
	_, a1 := newOperator(t)
	v, err := NewVerifier([]string{a1}, 1)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	// Too short for payload plus one signature.
	if _, err := v.Verify(make([]byte, PayloadSize)); !errors.Is(err, domain.ErrInvalidOracleData) {
		t.Fatalf("no signatures: err = %v, want ErrInvalidOracleData", err)
	}
	// Truncated signature section.
	if _, err := v.Verify(make([]byte, PayloadSize+64)); !errors.Is(err, domain.ErrInvalidOracleData) {
		t.Fatalf("truncated signature: err = %v, want ErrInvalidOracleData", err)
	}
}

func TestVerifierConfigValidation(t *testing.T) {
	_, a1 := newOperator(t)

	if _, err := NewVerifier(nil, 1); err == nil {
		t.Fatalf("empty operator set accepted")
	}
	if _, err := NewVerifier([]string{a1}, 0); err == nil {
		t.Fatalf("zero threshold accepted")
	}
	if _, err := NewVerifier([]string{a1}, 2); err == nil {
		t.Fatalf("threshold above operator count accepted")
	}
	if _, err := NewVerifier([]string{"not-an-address"}, 1); err == nil {
		t.Fatalf("invalid operator address accepted")
	}
	if _, err := NewVerifier([]string{a1, a1}, 2); err == nil {
		t.Fatalf("duplicate operators meeting threshold only nominally accepted")
	}
}

func TestBlobHash(t *testing.T) {
	h1 := BlobHash([]byte("a"))
	h2 := BlobHash([]byte("b"))
	if len(h1) != 64 || h1 == h2 {
		t.Fatalf("unexpected blob hashes %q %q", h1, h2)
	}
}
