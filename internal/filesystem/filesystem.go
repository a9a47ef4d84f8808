package filesystem

import (
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"ftplite/internal/config"
	"ftplite/internal/errors"
)

// FileInfo represents information about a file to be transferred
type FileInfo struct {
	Name     string
	Size     int64
	Path     string
	IsDir    bool
	Modified time.Time
}

// ValidateFilePath checks if a file path is safe and valid
func ValidateFilePath(path string) error {
	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return errors.NewValidationError("file_path", path, "path contains directory traversal")
	}

	return nil
}

// GetFileInfo returns information about a file
func GetFileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewTransferIOError("stat", path, err)
	}

	return &FileInfo{
		Name:     stat.Name(),
		Size:     stat.Size(),
		Path:     path,
		IsDir:    stat.IsDir(),
		Modified: stat.ModTime(),
	}, nil
}

// FileSize returns the size of path, or 0 when it does not exist.
func FileSize(path string) (int64, error) {
	stat, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.NewTransferIOError("stat", path, err)
	}
	return stat.Size(), nil
}

// EnsureDirectoryExists creates a directory if it doesn't exist
func EnsureDirectoryExists(dir string) error {
	if err := ValidateFilePath(dir); err != nil {
		return err
	}

	if err := os.MkdirAll(dir, config.DirPerms); err != nil {
		return errors.NewTransferIOError("mkdir", dir, err)
	}

	return nil
}

// ReplaceFile atomically moves src over dst.
func ReplaceFile(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return errors.NewTransferIOError("rename", dst, err)
	}
	return nil
}

// RemoveIfExists deletes path, ignoring a missing file.
func RemoveIfExists(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove file", "path", path, "error", err)
	}
}

// CalculateFileHash returns the hex BLAKE2b-256 digest of the whole file. The
// file offset is reset to the start first.
func CalculateFileHash(file *os.File) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", errors.NewTransferIOError("hash_init", file.Name(), err)
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", errors.NewTransferIOError("seek", file.Name(), err)
	}

	buffer := make([]byte, config.HashBufferSize)
	if _, err := io.CopyBuffer(h, file, buffer); err != nil {
		return "", errors.NewTransferIOError("read_hash", file.Name(), err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashPath opens path and hashes it.
func HashPath(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", errors.NewTransferIOError("open", path, err)
	}
	defer file.Close()

	return CalculateFileHash(file)
}

// GetCompressibleExtensions returns a map of file extensions that compress well
func GetCompressibleExtensions() map[string]bool {
	return map[string]bool{
		".txt":  true,
		".log":  true,
		".csv":  true,
		".json": true,
		".xml":  true,
		".html": true,
		".htm":  true,
		".css":  true,
		".js":   true,
		".sql":  true,
		".md":   true,
		".yaml": true,
		".yml":  true,
		".ini":  true,
		".conf": true,
		".cfg":  true,
	}
}

// GetAlreadyCompressedExtensions returns a map of file extensions that are already compressed
func GetAlreadyCompressedExtensions() map[string]bool {
	return map[string]bool{
		".zip":  true,
		".gz":   true,
		".bz2":  true,
		".xz":   true,
		".rar":  true,
		".7z":   true,
		".mp3":  true,
		".mp4":  true,
		".avi":  true,
		".mkv":  true,
		".jpg":  true,
		".jpeg": true,
		".png":  true,
		".gif":  true,
		".webp": true,
		".pdf":  true,
		".docx": true,
		".xlsx": true,
		".pptx": true,
	}
}

// IsCompressible reports whether the extension is known to compress well
func IsCompressible(filename string) bool {
	return GetCompressibleExtensions()[strings.ToLower(filepath.Ext(filename))]
}

// IsAlreadyCompressed reports whether the extension is a compressed format
func IsAlreadyCompressed(filename string) bool {
	return GetAlreadyCompressedExtensions()[strings.ToLower(filepath.Ext(filename))]
}
