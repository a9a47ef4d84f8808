package metadata

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
)

const (
	filePrefix     = "file/"
	downloadPrefix = "download/"

	// Optimistic transactions from concurrent handlers can collide on the
	// same file record.
	maxConflictRetries = 32
)

// BadgerStore keeps metadata in a badger key space:
//
//	file/<name>                       FileRecord JSON
//	download/<name>/<unixnano>/<uuid> DownloadRecord JSON
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the store at path.
func OpenBadger(path string) (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions(path))
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory() (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts.WithLogger(slogAdapter{}))
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func fileKey(name string) []byte {
	return []byte(filePrefix + name)
}

func downloadKey(name string, rec DownloadRecord) []byte {
	return []byte(fmt.Sprintf("%s%s/%019d/%s", downloadPrefix, name, rec.At.UnixNano(), uuid.NewString()))
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = s.db.Update(fn)
		if !stderrors.Is(err, badger.ErrConflict) {
			return err
		}
		slog.Debug("Metadata transaction conflict, retrying", "attempt", attempt+1)
	}
	return err
}

func getFile(txn *badger.Txn, name string) (FileRecord, error) {
	var rec FileRecord
	item, err := txn.Get(fileKey(name))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return rec, ErrUnknownFile
	}
	if err != nil {
		return rec, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// RecordUpload creates or replaces the record for name. A re-upload keeps the
// download count and drops the checksum of the previous contents.
func (s *BadgerStore) RecordUpload(ctx context.Context, name string, size int64, uploader string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, err := getFile(txn, name)
		if err != nil && !stderrors.Is(err, ErrUnknownFile) {
			return err
		}
		rec = FileRecord{
			Name:          name,
			Size:          size,
			Uploader:      uploader,
			UploadedAt:    now(),
			DownloadCount: rec.DownloadCount,
		}
		return putJSON(txn, fileKey(name), rec)
	})
}

// RecordChecksum stores the digest of the uploaded file. It fails with
// ErrUnknownFile when name has no record.
func (s *BadgerStore) RecordChecksum(ctx context.Context, name, checksum string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, err := getFile(txn, name)
		if err != nil {
			return err
		}
		rec.Checksum = checksum
		return putJSON(txn, fileKey(name), rec)
	})
}

// RecordDownload appends a download record and bumps the file's count. Files
// that reached storage without an upload get a bare record.
func (s *BadgerStore) RecordDownload(ctx context.Context, name, downloader string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, err := getFile(txn, name)
		if stderrors.Is(err, ErrUnknownFile) {
			rec = FileRecord{Name: name}
		} else if err != nil {
			return err
		}
		rec.DownloadCount++
		if err := putJSON(txn, fileKey(name), rec); err != nil {
			return err
		}

		dl := DownloadRecord{Name: name, Downloader: downloader, At: now()}
		return putJSON(txn, downloadKey(name, dl), dl)
	})
}

// Lookup returns the record for name or ErrUnknownFile.
func (s *BadgerStore) Lookup(ctx context.Context, name string) (FileRecord, error) {
	var rec FileRecord
	if err := ctx.Err(); err != nil {
		return rec, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getFile(txn, name)
		return err
	})
	return rec, err
}

// Downloads lists the downloads of name, oldest first.
func (s *BadgerStore) Downloads(ctx context.Context, name string) ([]DownloadRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []DownloadRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(downloadPrefix + name + "/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec DownloadRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// slogAdapter routes badger's internal logging into slog.
type slogAdapter struct{}

func (slogAdapter) Errorf(format string, args ...interface{}) {
	slog.Error(badgerMessage(format, args), "component", "badger")
}

func (slogAdapter) Warningf(format string, args ...interface{}) {
	slog.Warn(badgerMessage(format, args), "component", "badger")
}

func (slogAdapter) Infof(format string, args ...interface{}) {
	slog.Debug(badgerMessage(format, args), "component", "badger")
}

func (slogAdapter) Debugf(format string, args ...interface{}) {
	slog.Debug(badgerMessage(format, args), "component", "badger")
}

func badgerMessage(format string, args []interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
