package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (m *memoryStore) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func TestCompressedStore_RoundTrip(t *testing.T) {
	mem := newMemoryStore()
	store, err := NewCompressedStore(mem)
	if err != nil {
		t.Fatalf("NewCompressedStore() err=%v", err)
	}
	ctx := context.Background()
	payload := []byte(strings.Repeat("libapp.so section ", 4096))

	if err := store.Put(ctx, "blobs/x", bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	if stored := len(mem.objects["blobs/x"]); stored >= len(payload) {
		t.Fatalf("stored size %d not smaller than payload %d", stored, len(payload))
	}
	if ok, err := store.Exists(ctx, "blobs/x"); err != nil || !ok {
		t.Fatalf("Exists()=%v err=%v", ok, err)
	}

	reader, err := store.Open(ctx, "blobs/x")
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	defer reader.Close()
	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch")
	}
}

func TestCompressedStore_RejectsShortBody(t *testing.T) {
	store, err := NewCompressedStore(newMemoryStore())
	if err != nil {
		t.Fatalf("NewCompressedStore() err=%v", err)
	}
	if err := store.Put(context.Background(), "k", strings.NewReader("abc"), 10); err == nil {
		t.Fatalf("Put() expected size mismatch error")
	}
}

func TestCompressedStore_CorruptObject(t *testing.T) {
	mem := newMemoryStore()
	mem.objects["blobs/bad"] = []byte("not a zstd frame")
	store, err := NewCompressedStore(mem)
	if err != nil {
		t.Fatalf("NewCompressedStore() err=%v", err)
	}
	if _, err := store.Open(context.Background(), "blobs/bad"); err == nil {
		t.Fatalf("Open() expected decompress error")
	}
}

func TestCompressedStore_MissingObject(t *testing.T) {
	store, err := NewCompressedStore(newMemoryStore())
	if err != nil {
		t.Fatalf("NewCompressedStore() err=%v", err)
	}
	_, err = store.Open(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}
