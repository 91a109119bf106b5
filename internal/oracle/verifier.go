package oracle

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/emberhedge/firemark/internal/domain"
)

// sigSize is the length of one recoverable secp256k1 signature (r ‖ s ‖ v).
const sigSize = 65

// Verifier checks that a proof blob was produced by a quorum of independent
// attestation operators. A blob is valid when at least threshold distinct
// registered operators signed keccak256 of the embedded payload.
type Verifier struct {
	operators map[common.Address]bool
	threshold int
}

// NewVerifier creates a Verifier from hex-encoded operator addresses and a
// quorum threshold. The threshold must be at least 1 and no greater than the
// operator set size; these are deployment-time wiring errors and fail fast.
func NewVerifier(operatorAddrs []string, threshold int) (*Verifier, error) {
	if len(operatorAddrs) == 0 {
		return nil, fmt.Errorf("oracle: verifier needs at least one operator")
	}
	if threshold < 1 || threshold > len(operatorAddrs) {
		return nil, fmt.Errorf("oracle: threshold %d out of range for %d operators", threshold, len(operatorAddrs))
	}

	operators := make(map[common.Address]bool, len(operatorAddrs))
	for _, a := range operatorAddrs {
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("oracle: invalid operator address %q", a)
		}
		operators[common.HexToAddress(a)] = true
	}
	if len(operators) < threshold {
		return nil, fmt.Errorf("oracle: duplicate operators reduce set below threshold %d", threshold)
	}

	return &Verifier{operators: operators, threshold: threshold}, nil
}

// Operators returns the number of registered operators.
func (v *Verifier) Operators() int { return len(v.operators) }

// Threshold returns the quorum threshold.
func (v *Verifier) Threshold() int { return v.threshold }

// Verify checks the blob's quorum signatures and, on success, decodes the
// embedded payload. Structural and signature failures wrap
// domain.ErrInvalidOracleData; a correctly signed but undecodable payload
// wraps domain.ErrMalformedPayload. Verify never mutates anything.
func (v *Verifier) Verify(blob []byte) (domain.AttestationPayload, error) {
	if len(blob) < PayloadSize+sigSize {
		return domain.AttestationPayload{}, fmt.Errorf(
			"oracle: proof blob too short (%d bytes): %w", len(blob), domain.ErrInvalidOracleData)
	}
	if (len(blob)-PayloadSize)%sigSize != 0 {
		return domain.AttestationPayload{}, fmt.Errorf(
			"oracle: proof blob has truncated signature section: %w", domain.ErrInvalidOracleData)
	}

	payload := blob[:PayloadSize]
	digest := ethcrypto.Keccak256(payload)

	signers := make(map[common.Address]bool)
	for off := PayloadSize; off < len(blob); off += sigSize {
		sig := blob[off : off+sigSize]
		pub, err := ethcrypto.SigToPub(digest, sig)
		if err != nil {
			return domain.AttestationPayload{}, fmt.Errorf(
				"oracle: recover signature at offset %d: %w", off, domain.ErrInvalidOracleData)
		}
		addr := ethcrypto.PubkeyToAddress(*pub)
		if v.operators[addr] {
			signers[addr] = true
		}
	}

	if len(signers) < v.threshold {
		return domain.AttestationPayload{}, fmt.Errorf(
			"oracle: quorum not met (%d of %d required): %w", len(signers), v.threshold, domain.ErrInvalidOracleData)
	}

	return DecodePayload(payload)
}

// BlobHash returns the hex-encoded keccak256 of a raw proof blob, used as
// the archive and audit key for a submission.
func BlobHash(blob []byte) string {
	return hex.EncodeToString(ethcrypto.Keccak256(blob))
}
