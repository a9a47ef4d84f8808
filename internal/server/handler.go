package server

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"ftplite/internal/compression"
	"ftplite/internal/config"
	"ftplite/internal/errors"
	"ftplite/internal/filesystem"
	"ftplite/internal/logging"
	"ftplite/internal/network"
	"ftplite/internal/protocol"
	"ftplite/internal/transfer"
)

// handle serves exactly one command and closes the connection. Failures are
// logged only; the protocol has no error reply, so a failed upload is closed
// with a reset.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	log := slog.With("conn_id", connID, "remote_addr", conn.RemoteAddr().String())
	log.Info("New connection")

	if err := network.OptimizeTCPConnection(conn); err != nil {
		log.Warn("Failed to optimize TCP connection", "error", err)
	}

	rw := network.WithIdleTimeout(conn, s.cfg.IdleTimeout)
	reader := bufio.NewReaderSize(rw, s.cfg.BufferSize)

	line, err := protocol.ReadLine(reader)
	if err == io.EOF {
		log.Info("Connection closed by client")
		return
	}
	if err != nil {
		logging.LogError(err, "read_command "+connID)
		return
	}

	cmd := protocol.Decode(line)
	switch cmd.Verb {
	case protocol.VerbUpload:
		err = s.receiveUpload(ctx, log, cmd, reader)
	case protocol.VerbDownload:
		err = s.sendDownload(ctx, log, cmd, rw)
	default:
		log.Warn("Ignoring unknown command", "verb", cmd.Verb)
		return
	}

	if err != nil {
		// An upload that is not stored must not look like one that is: the
		// client treats an orderly close as success.
		if cmd.Verb == protocol.VerbUpload {
			network.Abort(conn)
		}
		logging.LogError(err, string(cmd.Verb)+" "+connID)
		return
	}
	log.Info("Connection finished", "verb", cmd.Verb, "file", cmd.FileName)
}

// receiveUpload stores the payload that follows an UPLOAD line. A partial
// file is left in place when the stream breaks so the client can resume.
func (s *Server) receiveUpload(ctx context.Context, log *slog.Logger, cmd protocol.Command, r io.Reader) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	size, _ := cmd.TotalSize()
	offset, _ := cmd.StartOffset()
	name := cmd.FileName

	if cmd.Compressed() && offset != 0 {
		return errors.NewProtocolError("upload", "compressed uploads cannot resume", nil)
	}
	if err := s.checkSpace(size - offset); err != nil {
		return err
	}

	unlock := s.locks.Lock(name)
	defer unlock()

	start := time.Now()
	logging.LogSessionStart("SERVER", name, size, offset)

	finalPath := filepath.Join(s.cfg.StorageDir, name)
	var err error
	if cmd.Compressed() {
		err = s.receiveCompressed(ctx, name, finalPath, size, r)
	} else {
		err = s.receivePlain(ctx, name, finalPath, offset, size, r)
	}
	if err != nil {
		logging.LogSessionEnd(false, 0, time.Since(start))
		return err
	}

	stored, err := filesystem.FileSize(finalPath)
	if err != nil {
		return err
	}
	if err := s.store.RecordUpload(ctx, name, stored, cmd.User); err != nil {
		log.Error("Failed to record upload", "file", name, "error", err)
	} else if sum, err := filesystem.HashPath(finalPath); err != nil {
		log.Warn("Failed to checksum stored file", "file", name, "error", err)
	} else if err := s.store.RecordChecksum(ctx, name, sum); err != nil {
		log.Warn("Failed to record checksum", "file", name, "error", err)
	}

	logging.LogTransferComplete(name, size-offset, time.Since(start))
	log.Info("Stored upload", "file", name, "size", humanize.IBytes(uint64(stored)), "user", cmd.User)
	return nil
}

func (s *Server) receivePlain(ctx context.Context, name, path string, offset, size int64, r io.Reader) error {
	file, err := openForUpload(path, offset)
	if err != nil {
		return err
	}

	err = transfer.Receive(ctx, name, r, file, offset, size, s.cfg.ChunkSize, nil)
	if cerr := file.Close(); cerr != nil && err == nil {
		err = errors.NewTransferIOError("close", path, cerr)
	}
	return err
}

// receiveCompressed writes the gzip payload to a hidden temporary, inflates
// it next to the destination and renames it into place.
func (s *Server) receiveCompressed(ctx context.Context, name, finalPath string, size int64, r io.Reader) error {
	gzPath := filepath.Join(s.cfg.StorageDir, "."+name+".gz.part")
	plainPath := filepath.Join(s.cfg.StorageDir, "."+name+".part")
	defer filesystem.RemoveIfExists(gzPath)

	file, err := os.OpenFile(gzPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, config.FilePerms)
	if err != nil {
		return errors.NewTransferIOError("open", gzPath, err)
	}
	err = transfer.Receive(ctx, name, r, file, 0, size, s.cfg.ChunkSize, nil)
	if cerr := file.Close(); cerr != nil && err == nil {
		err = errors.NewTransferIOError("close", gzPath, cerr)
	}
	if err != nil {
		return err
	}

	if err := compression.DecompressFile(gzPath, plainPath); err != nil {
		return err
	}
	return filesystem.ReplaceFile(plainPath, finalPath)
}

// openForUpload opens the destination positioned at offset. Offset zero
// truncates; a longer stored file is cut back to offset; a shorter one is
// rejected because the gap cannot be filled.
func openForUpload(path string, offset int64) (*os.File, error) {
	if offset == 0 {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, config.FilePerms)
		if err != nil {
			return nil, errors.NewTransferIOError("open", path, err)
		}
		return file, nil
	}

	have, err := filesystem.FileSize(path)
	if err != nil {
		return nil, err
	}
	if have < offset {
		return nil, errors.NewProtocolError("upload", "resume offset beyond stored length", nil)
	}

	file, err := os.OpenFile(path, os.O_WRONLY, config.FilePerms)
	if err != nil {
		return nil, errors.NewTransferIOError("open", path, err)
	}
	if have > offset {
		if err := file.Truncate(offset); err != nil {
			file.Close()
			return nil, errors.NewTransferIOError("truncate", path, err)
		}
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		file.Close()
		return nil, errors.NewTransferIOError("seek", path, err)
	}
	return file, nil
}

func (s *Server) checkSpace(needed int64) error {
	available, err := filesystem.AvailableSpace(s.cfg.StorageDir)
	if err != nil {
		slog.Warn("Could not determine free disk space", "error", err)
		return nil
	}
	if needed > 0 && uint64(needed) > available {
		return errors.NewValidationError("size", needed,
			"insufficient disk space: "+humanize.IBytes(available)+" available")
	}
	return nil
}

// sendDownload streams a stored file to the client, then closes. Unknown
// files get an immediate close with no data.
func (s *Server) sendDownload(ctx context.Context, log *slog.Logger, cmd protocol.Command, w io.Writer) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	offset, _ := cmd.StartOffset()
	name := cmd.FileName

	if cmd.Compressed() && offset != 0 {
		return errors.NewProtocolError("download", "compressed downloads cannot resume", nil)
	}

	unlock := s.locks.RLock(name)
	defer unlock()

	path := filepath.Join(s.cfg.StorageDir, name)
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		log.Warn("Requested file not found", "file", name)
		return nil
	}
	if err != nil {
		return errors.NewTransferIOError("open", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return errors.NewTransferIOError("stat", path, err)
	}
	if info.IsDir() {
		log.Warn("Requested name is a directory", "file", name)
		return nil
	}

	start := time.Now()
	var src io.Reader = file
	total := info.Size()

	if cmd.Compressed() {
		gz, gzSize, err := s.compressForDownload(path, name)
		if err != nil {
			return err
		}
		defer func() {
			gz.Close()
			filesystem.RemoveIfExists(gz.Name())
		}()
		src, total = gz, gzSize
	} else {
		if offset > total {
			return errors.NewProtocolError("download", "offset beyond file length", nil)
		}
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			return errors.NewTransferIOError("seek", path, err)
		}
	}

	logging.LogSessionStart("SERVER", name, total, offset)
	sent, err := transfer.Send(ctx, name, src, w, offset, total, s.cfg.ChunkSize, nil)
	if err != nil {
		logging.LogSessionEnd(false, sent, time.Since(start))
		return err
	}

	if err := s.store.RecordDownload(ctx, name, cmd.User); err != nil {
		log.Error("Failed to record download", "file", name, "error", err)
	}
	logging.LogTransferComplete(name, sent, time.Since(start))
	return nil
}

// compressForDownload gzips path into a temporary next to it and returns the
// temporary opened for reading.
func (s *Server) compressForDownload(path, name string) (*os.File, int64, error) {
	tmp, err := os.CreateTemp(s.cfg.StorageDir, "."+name+"-*.gz")
	if err != nil {
		return nil, 0, errors.NewTransferIOError("create_temp", s.cfg.StorageDir, err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := compression.CompressFile(path, tmpPath); err != nil {
		filesystem.RemoveIfExists(tmpPath)
		return nil, 0, err
	}

	gz, err := os.Open(tmpPath)
	if err != nil {
		filesystem.RemoveIfExists(tmpPath)
		return nil, 0, errors.NewTransferIOError("open", tmpPath, err)
	}
	info, err := gz.Stat()
	if err != nil {
		gz.Close()
		filesystem.RemoveIfExists(tmpPath)
		return nil, 0, errors.NewTransferIOError("stat", tmpPath, err)
	}
	return gz, info.Size(), nil
}
