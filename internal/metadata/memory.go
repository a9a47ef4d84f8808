package metadata

import (
	"context"
	"sync"
)

// MemoryStore is a mutex-guarded Store for tests and throwaway servers.
type MemoryStore struct {
	mu        sync.Mutex
	files     map[string]FileRecord
	downloads map[string][]DownloadRecord
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:     make(map[string]FileRecord),
		downloads: make(map[string][]DownloadRecord),
	}
}

// RecordUpload creates or replaces the record for name, keeping its download count.
func (m *MemoryStore) RecordUpload(_ context.Context, name string, size int64, uploader string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[name] = FileRecord{
		Name:          name,
		Size:          size,
		Uploader:      uploader,
		UploadedAt:    now(),
		DownloadCount: m.files[name].DownloadCount,
	}
	return nil
}

// RecordChecksum stores the digest of an uploaded file.
func (m *MemoryStore) RecordChecksum(_ context.Context, name, checksum string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.files[name]
	if !ok {
		return ErrUnknownFile
	}
	rec.Checksum = checksum
	m.files[name] = rec
	return nil
}

// RecordDownload appends a download and bumps the count.
func (m *MemoryStore) RecordDownload(_ context.Context, name, downloader string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.files[name]
	if !ok {
		rec = FileRecord{Name: name}
	}
	rec.DownloadCount++
	m.files[name] = rec
	m.downloads[name] = append(m.downloads[name], DownloadRecord{Name: name, Downloader: downloader, At: now()})
	return nil
}

// Lookup returns the record for name or ErrUnknownFile.
func (m *MemoryStore) Lookup(_ context.Context, name string) (FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.files[name]
	if !ok {
		return FileRecord{}, ErrUnknownFile
	}
	return rec, nil
}

// Downloads lists the downloads of name, oldest first.
func (m *MemoryStore) Downloads(_ context.Context, name string) ([]DownloadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]DownloadRecord(nil), m.downloads[name]...), nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
