package transfer

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"ftplite/internal/compression"
	"ftplite/internal/config"
	"ftplite/internal/errors"
	"ftplite/internal/filesystem"
	"ftplite/internal/network"
	"ftplite/internal/protocol"
)

// DefaultChunkSize is the number of file bytes moved per send/receive call.
const DefaultChunkSize = config.DefaultChunkSize

const (
	compressedSuffix = ".gz"
	partialSuffix    = ".part"
)

// ErrNoData is returned when a download receives nothing: the server closes
// without data for files it does not have and for requests it rejects.
var ErrNoData = stderrors.New("server sent no data")

// Executor runs the client side of a transfer over an already open connection.
type Executor struct {
	ChunkSize   int
	DownloadDir string
}

// NewExecutor creates an executor with the given chunk size and download directory
func NewExecutor(chunkSize int, downloadDir string) *Executor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Executor{ChunkSize: chunkSize, DownloadDir: downloadDir}
}

// Upload sends the file at path over conn starting at offset. With compress set
// the whole file is gzipped to a hidden temporary beside it first and the compressed bytes are
// sent from the beginning; the offset is ignored because compressed and
// uncompressed byte positions do not correspond.
func (e *Executor) Upload(ctx context.Context, path string, conn io.Writer, offset int64, user string, onProgress ProgressFunc, compress bool) error {
	info, err := filesystem.GetFileInfo(path)
	if err != nil {
		return err
	}
	if info.IsDir {
		return errors.NewValidationError("file_path", path, "cannot transfer directories")
	}
	if err := protocol.ValidateFileName(info.Name); err != nil {
		return err
	}

	sendPath := path
	if compress {
		if offset > 0 {
			slog.Warn("Ignoring resume offset for compressed upload", "file", info.Name, "offset", offset)
			offset = 0
		}
		if filesystem.IsAlreadyCompressed(info.Name) {
			slog.Info("File is already in a compressed format", "file", info.Name)
		}

		tmp, err := os.CreateTemp(filepath.Dir(path), "."+info.Name+"-*"+compressedSuffix)
		if err != nil {
			return errors.NewTransferIOError("create_temp", path, err)
		}
		tmp.Close()
		sendPath = tmp.Name()
		defer filesystem.RemoveIfExists(sendPath)

		if err := compression.CompressFile(path, sendPath); err != nil {
			return err
		}
	}

	file, err := os.Open(sendPath)
	if err != nil {
		return errors.NewTransferIOError("open", sendPath, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return errors.NewTransferIOError("stat", sendPath, err)
	}
	totalSize := stat.Size()

	if offset < 0 || offset > totalSize {
		slog.Warn("Resume offset out of range, starting over",
			"file", info.Name, "offset", offset, "size", totalSize)
		offset = 0
	}

	header := protocol.Encode(protocol.NewUpload(info.Name, totalSize, offset, user, compress))
	if err := network.SendAll(conn, []byte(header)); err != nil {
		return errors.NewTransferIOError("send_command", info.Name, err)
	}

	if offset > 0 {
		slog.Info("Resuming upload", "file", info.Name, "offset", humanize.IBytes(uint64(offset)))
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			return errors.NewTransferIOError("seek", sendPath, err)
		}
	}

	s := newSession(info.Name, offset, totalSize, e.ChunkSize, onProgress)
	if err := s.send(ctx, file, conn); err != nil {
		return err
	}
	if s.transferred != totalSize {
		return errors.NewTransferIOError("upload", sendPath, io.ErrUnexpectedEOF)
	}

	return nil
}

// Download requests fileName over conn and stores it in the download
// directory. It returns the local path of the finished file.
//
// The bytes arrive in <name>.part; when resuming, the offset sent to the server
// is capped at what that file actually holds. Reception ends when the server
// closes the connection.
func (e *Executor) Download(ctx context.Context, fileName string, conn io.ReadWriter, offset int64, user string, onProgress ProgressFunc, decompress bool) (string, error) {
	if err := protocol.ValidateFileName(fileName); err != nil {
		return "", err
	}
	if decompress && offset > 0 {
		return "", errors.NewValidationError("offset", offset, "compressed downloads cannot be resumed")
	}
	if err := filesystem.EnsureDirectoryExists(e.DownloadDir); err != nil {
		return "", err
	}

	tempPath := filepath.Join(e.DownloadDir, fileName+partialSuffix)
	finalPath := filepath.Join(e.DownloadDir, fileName)

	offset, err := reconcileOffset(tempPath, offset)
	if err != nil {
		return "", err
	}

	header := protocol.Encode(protocol.NewDownload(fileName, offset, user, decompress))
	if err := network.SendAll(conn, []byte(header)); err != nil {
		return "", errors.NewTransferIOError("send_command", fileName, err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if offset > 0 {
		slog.Info("Resuming download", "file", fileName, "offset", humanize.IBytes(uint64(offset)))
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	file, err := os.OpenFile(tempPath, flags, config.FilePerms)
	if err != nil {
		return "", errors.NewTransferIOError("open", tempPath, err)
	}

	s := newSession(fileName, offset, 0, e.ChunkSize, onProgress)
	received, err := s.drain(ctx, conn, file)
	if cerr := file.Close(); cerr != nil && err == nil {
		err = errors.NewTransferIOError("close", tempPath, cerr)
	}
	if err != nil {
		return "", err
	}

	// The server closes without data when it has nothing to send. A resumed
	// download keeps its partial file for the next attempt.
	if received == 0 {
		if offset == 0 {
			filesystem.RemoveIfExists(tempPath)
		}
		return "", errors.NewTransferIOError("download", fileName, ErrNoData)
	}

	if decompress {
		if err := compression.DecompressFile(tempPath, finalPath); err != nil {
			return "", err
		}
		filesystem.RemoveIfExists(tempPath)
	} else if err := filesystem.ReplaceFile(tempPath, finalPath); err != nil {
		return "", err
	}

	return finalPath, nil
}

// reconcileOffset makes the requested offset agree with the partial file on
// disk: never ask for less than we would append after, never claim bytes we
// do not have.
func reconcileOffset(tempPath string, offset int64) (int64, error) {
	if offset <= 0 {
		return 0, nil
	}

	have, err := filesystem.FileSize(tempPath)
	if err != nil {
		return 0, err
	}

	switch {
	case have < offset:
		slog.Warn("Partial file shorter than recorded offset",
			"path", tempPath, "recorded", offset, "on_disk", have)
		return have, nil
	case have > offset:
		if err := os.Truncate(tempPath, offset); err != nil {
			return 0, errors.NewTransferIOError("truncate", tempPath, err)
		}
	}
	return offset, nil
}
