package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/emberhedge/firemark/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.err != nil {
		return m.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

// memReader reads back what a memWriter stored.
type memReader struct {
	objects map[string][]byte
	err     error
}

func (m *memReader) Get(_ context.Context, path string) (io.ReadCloser, error) {
	if m.err != nil {
		return nil, m.err
	}
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memReader) List(_ context.Context, prefix string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func TestArchiveProofKeyLayout(t *testing.T) {
	w := newMemWriter()
	a := NewProofArchiver(w, nil)

	blob := []byte{0x01, 0x02, 0x03}
	if err := a.ArchiveProof(context.Background(), 42, 1700000000, "deadbeef", blob); err != nil {
		t.Fatalf("ArchiveProof: %v", err)
	}

	const key = "attestations/42/1700000000-deadbeef.bin"
	got, ok := w.objects[key]
	if !ok {
		t.Fatalf("object %q not written; have %v", key, w.objects)
	}
	if string(got) != string(blob) {
		t.Fatalf("stored blob = %x, want %x", got, blob)
	}
	if ct := w.types[key]; ct != "application/octet-stream" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestArchiveProofPropagatesWriterError(t *testing.T) {
	w := newMemWriter()
	w.err = errors.New("bucket gone")
	a := NewProofArchiver(w, nil)

	err := a.ArchiveProof(context.Background(), 1, 0, "ab", nil)
	if err == nil || !errors.Is(err, w.err) {
		t.Fatalf("err = %v, want wrapped writer error", err)
	}
}

func TestFetchProofByHash(t *testing.T) {
	w := newMemWriter()
	a := NewProofArchiver(w, &memReader{objects: w.objects})
	ctx := context.Background()

	blob := []byte{0xAA, 0xBB}
	if err := a.ArchiveProof(ctx, 7, 1700000000, "cafe", blob); err != nil {
		t.Fatalf("ArchiveProof: %v", err)
	}
	if err := a.ArchiveProof(ctx, 7, 1700000100, "f00d", []byte{0xCC}); err != nil {
		t.Fatalf("ArchiveProof: %v", err)
	}

	got, err := a.FetchProof(ctx, 7, "cafe")
	if err != nil {
		t.Fatalf("FetchProof: %v", err)
	}
	if string(got) != string(blob) {
		t.Fatalf("blob = %x, want %x", got, blob)
	}
}

func TestFetchProofUnknownHashIsNotFound(t *testing.T) {
	w := newMemWriter()
	a := NewProofArchiver(w, &memReader{objects: w.objects})

	_, err := a.FetchProof(context.Background(), 7, "0000")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFetchProofWithoutReaderIsNotFound(t *testing.T) {
	a := NewProofArchiver(newMemWriter(), nil)

	_, err := a.FetchProof(context.Background(), 1, "ab")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
