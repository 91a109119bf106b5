package oracle

import (
	"errors"
	"testing"

	"github.com/emberhedge/firemark/internal/domain"
)

func TestPayloadRoundTrip(t *testing.T) {
	cases := []domain.AttestationPayload{
		{Latitude: 35676200, Longitude: 139650300, FireFlag: 1},
		{Latitude: -33868800, Longitude: 151209300, FireFlag: 0},
		{Latitude: 35676200, Longitude: -118243700, FireFlag: 1},
	}

	for _, want := range cases {
		blob := EncodePayload(want)
		if len(blob) != PayloadSize {
			t.Fatalf("encoded length = %d, want %d", len(blob), PayloadSize)
		}
		got, err := DecodePayload(blob)
		if err != nil {
			t.Fatalf("DecodePayload(%+v): %v", want, err)
		}
		if got != want {
			t.Fatalf("round trip = %+v, want %+v", got, want)
		}
	}
}

func TestDecodePayloadRejectsWrongLength(t *testing.T) {
	for _, n := range []int{0, 95, 97, 128} {
		if _, err := DecodePayload(make([]byte, n)); !errors.Is(err, domain.ErrMalformedPayload) {
			t.Fatalf("length %d: err = %v, want ErrMalformedPayload", n, err)
		}
	}
}

func TestDecodePayloadRejectsOverflow(t *testing.T) {
	// A coordinate word far outside the int64 range.
	blob := make([]byte, PayloadSize)
	blob[10] = 0x01
	if _, err := DecodePayload(blob); !errors.Is(err, domain.ErrMalformedPayload) {
		t.Fatalf("oversized latitude word: err = %v, want ErrMalformedPayload", err)
	}

	// A flag word above uint64.
	blob = EncodePayload(domain.AttestationPayload{Latitude: 1, Longitude: 1})
	blob[70] = 0x01
	if _, err := DecodePayload(blob); !errors.Is(err, domain.ErrMalformedPayload) {
		t.Fatalf("oversized flag word: err = %v, want ErrMalformedPayload", err)
	}
}

func TestDecodePayloadRejectsFlagAboveInt64(t *testing.T) {
	// Flag at exactly 2^63 must be rejected, not wrapped to a negative
	// value when the attestation log stores it.
	blob := EncodePayload(domain.AttestationPayload{Latitude: 1, Longitude: 1})
	blob[2*wordSize+24] = 0x80
	if _, err := DecodePayload(blob); !errors.Is(err, domain.ErrMalformedPayload) {
		t.Fatalf("flag 2^63: err = %v, want ErrMalformedPayload", err)
	}

	// The largest representable flag still decodes.
	blob = EncodePayload(domain.AttestationPayload{Latitude: 1, Longitude: 1, FireFlag: 1<<63 - 1})
	p, err := DecodePayload(blob)
	if err != nil {
		t.Fatalf("flag 2^63-1: %v", err)
	}
	if p.FireFlag != 1<<63-1 {
		t.Fatalf("flag = %d", p.FireFlag)
	}
}
