package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// CompressedStore zstd-compresses blobs before handing them to the wrapped
// Store and decompresses them on Open. Native libraries shrink well, and the
// decoder rejects corrupted frames, so a damaged object never reaches a client.
type CompressedStore struct {
	next    Store
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ Store = (*CompressedStore)(nil)

func NewCompressedStore(next Store) (*CompressedStore, error) {
	if next == nil {
		return nil, errors.New("object store is required")
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &CompressedStore{next: next, encoder: encoder, decoder: decoder}, nil
}

// Put reads body fully and stores its compressed form. size is the
// uncompressed length; -1 skips the check.
func (s *CompressedStore) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read blob %s: %w", key, err)
	}
	if size >= 0 && int64(len(raw)) != size {
		return fmt.Errorf("blob %s is %d bytes, declared %d", key, len(raw), size)
	}
	compressed := s.encoder.EncodeAll(raw, nil)
	return s.next.Put(ctx, key, bytes.NewReader(compressed), int64(len(compressed)))
}

func (s *CompressedStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.next.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	compressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	raw, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress blob %s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *CompressedStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.next.Exists(ctx, key)
}
