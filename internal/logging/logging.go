package logging

import (
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"ftplite/internal/config"
	"ftplite/internal/errors"
	"ftplite/internal/filesystem"
)

// SetupLogger initializes structured logging with console output plus a
// timestamped file under logDir. An empty logDir logs to the console only.
func SetupLogger(logDir string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: false,
	}

	var out io.Writer = os.Stdout
	if logDir != "" {
		if err := filesystem.EnsureDirectoryExists(logDir); err != nil {
			return err
		}

		logFileName := filepath.Join(logDir, "ftplite_"+time.Now().Format("20060102_150405")+".log")
		logFile, err := os.Create(logFileName)
		if err != nil {
			// Continue with console logging only
			slog.Warn("Failed to create log file, using console only", "error", err)
		} else {
			out = io.MultiWriter(os.Stdout, logFile)
		}
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, opts)))

	slog.Info("Logging initialized", "session_id", time.Now().Format("20060102_150405"))
	return nil
}

// LogConfig logs the current configuration
func LogConfig(cfg *config.Config) {
	mode := "Client"
	if cfg.IsServer {
		mode = "Server"
	}

	slog.Info("Configuration loaded",
		"mode", mode,
		"chunk_size", humanize.IBytes(uint64(cfg.ChunkSize)),
		"buffer_size", humanize.IBytes(uint64(cfg.BufferSize)),
		"idle_timeout", cfg.IdleTimeout)

	if cfg.IsServer {
		slog.Info("Server configuration",
			"listen_address", cfg.ListenAddress,
			"storage_dir", cfg.StorageDir,
			"metadata", cfg.MetadataPath,
			"max_connections", cfg.MaxConnections,
			"advertise", cfg.Advertise)
		return
	}

	slog.Info("Client configuration",
		"server_address", cfg.ServerAddress,
		"download_dir", cfg.DownloadDir,
		"resume_file", cfg.ResumeFile,
		"discover", cfg.Discover)
}

// LogError logs an error with appropriate context
func LogError(err error, context string) {
	var (
		connErr  *errors.ConnectionError
		ioErr    *errors.TransferIOError
		protoErr *errors.ProtocolError
		compErr  *errors.CompressionError
		valErr   *errors.ValidationError
	)

	switch {
	case stderrors.As(err, &connErr):
		slog.Error("Connection error",
			"context", context,
			"operation", connErr.Op,
			"address", connErr.Addr,
			"error", connErr.Err,
			"error_type", "connection")
	case stderrors.As(err, &protoErr):
		slog.Error("Protocol error",
			"context", context,
			"operation", protoErr.Op,
			"message", protoErr.Message,
			"error_type", "protocol")
	case stderrors.As(err, &compErr):
		slog.Error("Compression error",
			"context", context,
			"operation", compErr.Op,
			"error", compErr.Err,
			"error_type", "compression")
	case stderrors.As(err, &ioErr):
		slog.Error("Transfer I/O error",
			"context", context,
			"operation", ioErr.Op,
			"path", ioErr.Path,
			"error", ioErr.Err,
			"error_type", "transfer_io")
	case stderrors.As(err, &valErr):
		slog.Error("Validation error",
			"context", context,
			"field", valErr.Field,
			"message", valErr.Message,
			"error_type", "validation")
	case stderrors.Is(err, errors.ErrBusy):
		slog.Error("Transfer rejected",
			"context", context,
			"error", err,
			"error_type", "busy")
	default:
		slog.Error("Unhandled error",
			"context", context,
			"error", err,
			"error_type", "unknown")
	}
}

// LogTransferProgress logs transfer progress information. total may be zero
// when the size is not known in advance.
func LogTransferProgress(filename string, transferred, total int64) {
	if total <= 0 {
		slog.Info("Transfer progress",
			"file", filename,
			"transferred", humanize.IBytes(uint64(transferred)))
		return
	}

	slog.Info("Transfer progress",
		"file", filename,
		"transferred", humanize.IBytes(uint64(transferred)),
		"total", humanize.IBytes(uint64(total)),
		"percent_complete", float64(transferred)/float64(total)*100,
		"remaining", humanize.IBytes(uint64(total-transferred)))
}

// LogTransferComplete logs successful transfer completion
func LogTransferComplete(filename string, size int64, duration time.Duration) {
	slog.Info("Transfer completed successfully",
		"file", filename,
		"total_size", humanize.IBytes(uint64(size)),
		"duration", duration.Round(time.Millisecond),
		"average_rate", humanize.IBytes(uint64(rate(size, duration)))+"/s")
}

// LogSessionStart logs the start of a transfer session
func LogSessionStart(mode, filename string, totalSize, offset int64) {
	slog.Info("Transfer session started",
		"mode", mode,
		"file", filename,
		"total_size", humanize.IBytes(uint64(max(totalSize, 0))),
		"offset", offset,
		"session_start", time.Now().Format("15:04:05"))
}

// LogSessionEnd logs the end of a transfer session
func LogSessionEnd(success bool, totalBytes int64, duration time.Duration) {
	status := "SUCCESS"
	if !success {
		status = "FAILED"
	}

	slog.Info("Transfer session ended",
		"status", status,
		"total_bytes_transferred", totalBytes,
		"session_duration", duration.Round(time.Millisecond),
		"average_throughput", humanize.IBytes(uint64(rate(totalBytes, duration)))+"/s",
		"session_end", time.Now().Format("15:04:05"))
}

func rate(bytes int64, duration time.Duration) float64 {
	if duration <= 0 || bytes <= 0 {
		return 0
	}
	return float64(bytes) / duration.Seconds()
}
