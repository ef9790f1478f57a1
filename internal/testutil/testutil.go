// Package testutil provides shared test helpers for databases and blob stores.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/starford/councilhub/internal/blob"
	"github.com/starford/councilhub/internal/store"
)

// TestDB creates a migrated temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "councilhub-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})

	db, err := store.Open(store.Options{
		Driver: store.DriverSQLite,
		DSN:    dbFile.Name(),
		Logger: Logger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ErrInjected is returned by MemBlobs operations configured to fail.
var ErrInjected = errors.New("injected blob failure")

// MemBlobs is an in-memory blob.Store with per-name failure injection.
type MemBlobs struct {
	mu         sync.Mutex
	objects    map[string][]byte
	failPut    map[string]bool
	failDelete map[string]bool
	deleted    []string
}

var _ blob.Store = (*MemBlobs)(nil)

// NewMemBlobs returns an empty store.
func NewMemBlobs() *MemBlobs {
	return &MemBlobs{
		objects:    map[string][]byte{},
		failPut:    map[string]bool{},
		failDelete: map[string]bool{},
	}
}

// FailPut makes Put fail for name.
func (m *MemBlobs) FailPut(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPut[name] = true
}

// FailDelete makes Delete fail for name.
func (m *MemBlobs) FailDelete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDelete[name] = true
}

func (m *MemBlobs) Put(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut[name] {
		return ErrInjected
	}
	m.objects[name] = data
	return nil
}

func (m *MemBlobs) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete[name] {
		return ErrInjected
	}
	delete(m.objects, name)
	m.deleted = append(m.deleted, name)
	return nil
}

func (m *MemBlobs) Exists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[name]
	return ok, nil
}

func (m *MemBlobs) URL(name string) string {
	return blob.S3URL("test-bucket", "s3.example.com", name)
}

// Seed stores content under name without going through Put.
func (m *MemBlobs) Seed(name string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = bytes.Clone(content)
}

// Get returns the stored bytes or fs.ErrNotExist.
func (m *MemBlobs) Get(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[name]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

// Names lists stored blobs in sorted order.
func (m *MemBlobs) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.objects))
	for n := range m.objects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Deleted lists every name passed to a successful Delete, in call order.
func (m *MemBlobs) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}
