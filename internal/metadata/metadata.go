// Package metadata records what the server stores and who fetched it.
package metadata

import (
	"context"
	stderrors "errors"
	"time"
)

// ErrUnknownFile is returned by Lookup for names that were never uploaded.
var ErrUnknownFile = stderrors.New("no metadata for file")

// FileRecord describes one stored file. Re-uploading a name replaces the
// record but keeps its download count.
type FileRecord struct {
	Name          string    `json:"name"`
	Size          int64     `json:"size"`
	Uploader      string    `json:"uploader"`
	UploadedAt    time.Time `json:"uploaded_at"`
	DownloadCount int64     `json:"download_count"`
	Checksum      string    `json:"checksum,omitempty"`
}

// DownloadRecord is one completed download.
type DownloadRecord struct {
	Name       string    `json:"name"`
	Downloader string    `json:"downloader"`
	At         time.Time `json:"at"`
}

// Store is the server's metadata collaborator. Implementations must be safe
// for concurrent use by many connection handlers.
type Store interface {
	RecordUpload(ctx context.Context, name string, size int64, uploader string) error
	RecordChecksum(ctx context.Context, name, checksum string) error
	RecordDownload(ctx context.Context, name, downloader string) error
	Lookup(ctx context.Context, name string) (FileRecord, error)
	Downloads(ctx context.Context, name string) ([]DownloadRecord, error)
	Close() error
}

var now = time.Now
