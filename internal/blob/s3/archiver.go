package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emberhedge/firemark/internal/domain"
)

// ProofArchiver implements domain.Archiver by uploading raw oracle proof
// blobs to object storage. Every submitted proof is archived, accepted or
// rejected, so disputed adjudications can be replayed later.
//
// Archival is best effort: the caller treats an upload failure as an
// observability gap, never as a reason to unwind a market transition.
type ProofArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

var _ domain.Archiver = (*ProofArchiver)(nil)

// NewProofArchiver creates a ProofArchiver backed by the given writer and
// reader. A nil reader disables retrieval; FetchProof then reports every
// blob as missing.
func NewProofArchiver(writer domain.BlobWriter, reader domain.BlobReader) *ProofArchiver {
	return &ProofArchiver{writer: writer, reader: reader}
}

// ArchiveProof uploads the raw proof blob under a key derived from the
// market id, submission time, and blob hash:
//
//	attestations/{marketID}/{submittedAt}-{hash}.bin
//
// The hash in the key makes repeated submissions of the same blob land on
// the same object, so retries are idempotent.
func (a *ProofArchiver) ArchiveProof(ctx context.Context, id domain.MarketID, submittedAt int64, blobHash string, blob []byte) error {
	path := proofPath(id, submittedAt, blobHash)
	if err := a.writer.Put(ctx, path, bytes.NewReader(blob), "application/octet-stream"); err != nil {
		return fmt.Errorf("s3blob: archive proof %s: %w", path, err)
	}
	return nil
}

// FetchProof retrieves an archived proof blob by its hash. The submission
// time is part of the key but not of the lookup, so the market's prefix is
// listed and matched on the hash suffix.
func (a *ProofArchiver) FetchProof(ctx context.Context, id domain.MarketID, blobHash string) ([]byte, error) {
	if a.reader == nil {
		return nil, fmt.Errorf("s3blob: fetch proof %s for market %d: %w", blobHash, id, domain.ErrNotFound)
	}

	prefix := fmt.Sprintf("attestations/%d/", id)
	keys, err := a.reader.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list proofs for market %d: %w", id, err)
	}

	suffix := "-" + blobHash + ".bin"
	for _, key := range keys {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		rc, err := a.reader.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("s3blob: fetch proof %s: %w", key, err)
		}
		defer rc.Close()
		blob, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("s3blob: read proof %s: %w", key, err)
		}
		return blob, nil
	}

	return nil, fmt.Errorf("s3blob: proof %s for market %d: %w", blobHash, id, domain.ErrNotFound)
}

// proofPath builds the S3 key for an archived proof blob, partitioned by
// market so all proofs for one market share a prefix.
func proofPath(id domain.MarketID, submittedAt int64, blobHash string) string {
	return fmt.Sprintf("attestations/%d/%d-%s.bin", id, submittedAt, blobHash)
}
