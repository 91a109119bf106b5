// Package oracle implements attestation proof handling: the canonical
// payload encoding and the quorum signature verifier. A proof blob is the
// 96-byte payload followed by one or more 65-byte recoverable secp256k1
// signatures over keccak256(payload).
package oracle

import (
	"fmt"
	"math/big"

	"github.com/emberhedge/firemark/internal/domain"
)

// PayloadSize is the canonical payload length: three 32-byte words in fixed
// order: latitude, longitude (two's-complement, degrees * 1e6) and the
// unsigned fire flag.
const PayloadSize = 96

const wordSize = 32

// two256 converts between 256-bit words and their two's-complement signed
// values.
var two256 = new(big.Int).Lsh(big.NewInt(1), 256)

// EncodePayload packs the three attestation fields into the canonical
// 96-byte layout. It is the exact inverse of DecodePayload and is used by
// operator signing tooling and tests.
func EncodePayload(p domain.AttestationPayload) []byte {
	out := make([]byte, PayloadSize)
	putSignedWord(out[0:wordSize], int64(p.Latitude))
	putSignedWord(out[wordSize:2*wordSize], int64(p.Longitude))
	new(big.Int).SetUint64(p.FireFlag).FillBytes(out[2*wordSize : 3*wordSize])
	return out
}

// DecodePayload unpacks a canonical payload. Wrong length, coordinate words
// outside the int64 range, and flag words outside the int64 range are all
// hard errors wrapping domain.ErrMalformedPayload; a malformed payload is
// never treated as a silent no-op. The flag bound keeps every decoded value
// representable in the attestation log's integer column.
func DecodePayload(data []byte) (domain.AttestationPayload, error) {
	if len(data) != PayloadSize {
		return domain.AttestationPayload{}, fmt.Errorf(
			"oracle: payload length %d, want %d: %w", len(data), PayloadSize, domain.ErrMalformedPayload)
	}

	lat, err := signedWord(data[0:wordSize])
	if err != nil {
		return domain.AttestationPayload{}, fmt.Errorf("oracle: latitude word: %w", err)
	}
	lon, err := signedWord(data[wordSize : 2*wordSize])
	if err != nil {
		return domain.AttestationPayload{}, fmt.Errorf("oracle: longitude word: %w", err)
	}

	flagWord := new(big.Int).SetBytes(data[2*wordSize : 3*wordSize])
	if !flagWord.IsInt64() {
		return domain.AttestationPayload{}, fmt.Errorf("oracle: fire flag word overflows int64: %w", domain.ErrMalformedPayload)
	}

	return domain.AttestationPayload{
		Latitude:  domain.Coordinate(lat),
		Longitude: domain.Coordinate(lon),
		FireFlag:  flagWord.Uint64(),
	}, nil
}

// putSignedWord writes v into dst as a 32-byte two's-complement word.
func putSignedWord(dst []byte, v int64) {
	bi := big.NewInt(v)
	if bi.Sign() < 0 {
		bi.Add(bi, two256)
	}
	bi.FillBytes(dst)
}

// signedWord interprets a 32-byte word as a two's-complement signed value
// and rejects anything outside the int64 range.
func signedWord(word []byte) (int64, error) {
	bi := new(big.Int).SetBytes(word)
	// Bit 255 set means negative in two's complement.
	if bi.Bit(255) == 1 {
		bi.Sub(bi, two256)
	}
	if !bi.IsInt64() {
		return 0, fmt.Errorf("value outside int64 range: %w", domain.ErrMalformedPayload)
	}
	return bi.Int64(), nil
}
