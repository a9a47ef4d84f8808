package compression

import (
	"io"
	"log/slog"
	"os"

	"github.com/klauspost/compress/gzip"

	"ftplite/internal/config"
	"ftplite/internal/errors"
	"ftplite/internal/filesystem"
)

const copyBufferSize = 256 * 1024

// CompressFile gzips the whole of src into dst. Text-like files get the default
// level, everything else BestSpeed. dst is removed if compression fails.
func CompressFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return errors.NewTransferIOError("open", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, config.FilePerms)
	if err != nil {
		return errors.NewTransferIOError("create", dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = errors.NewTransferIOError("close", dst, cerr)
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	level := gzip.BestSpeed
	if filesystem.IsCompressible(src) {
		level = gzip.DefaultCompression
	}

	writer, err := gzip.NewWriterLevel(out, level)
	if err != nil {
		return errors.NewCompressionError("create_writer", err)
	}

	written, err := io.CopyBuffer(writer, in, make([]byte, copyBufferSize))
	if err != nil {
		writer.Close()
		return errors.NewCompressionError("write_data", err)
	}

	if err := writer.Close(); err != nil {
		return errors.NewCompressionError("close_writer", err)
	}

	if stat, serr := out.Stat(); serr == nil {
		slog.Debug("File compressed",
			"original_size", written,
			"compressed_size", stat.Size(),
			"ratio", GetCompressionRatio(written, stat.Size()))
	}

	return nil
}

// DecompressFile inflates the gzip file src into dst. dst is removed if
// decompression fails.
func DecompressFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return errors.NewTransferIOError("open", src, err)
	}
	defer in.Close()

	reader, err := gzip.NewReader(in)
	if err != nil {
		return errors.NewCompressionError("create_reader", err)
	}
	defer reader.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, config.FilePerms)
	if err != nil {
		return errors.NewTransferIOError("create", dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = errors.NewTransferIOError("close", dst, cerr)
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	n, err := io.CopyBuffer(out, reader, make([]byte, copyBufferSize))
	if err != nil {
		return errors.NewCompressionError("read_data", err)
	}

	slog.Debug("File decompressed", "source", src, "decompressed_size", n)
	return nil
}

// GetCompressionRatio calculates the compression ratio
func GetCompressionRatio(originalSize, compressedSize int64) float64 {
	if compressedSize == 0 {
		return 0
	}
	return float64(originalSize) / float64(compressedSize)
}
