package client

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"ftplite/internal/config"
	"ftplite/internal/errors"
	"ftplite/internal/logging"
	"ftplite/internal/network"
	"ftplite/internal/resume"
	"ftplite/internal/transfer"
)

var errNotConnected = stderrors.New("not connected")

// Session drives transfers against one server. The server closes the socket
// after every transfer, so each operation after the first re-dials the
// remembered address.
//
// A session runs one transfer at a time; a call made while another is in
// flight fails with errors.ErrBusy. This is what keeps the shared resume
// file consistent.
type Session struct {
	cfg      *config.Config
	tracker  *resume.Tracker
	executor *transfer.Executor

	busy sync.Mutex

	mu         sync.Mutex
	addr       string
	conn       net.Conn
	onProgress transfer.ProgressFunc
}

// NewSession creates a session that keeps resume offsets in tracker
func NewSession(cfg *config.Config, tracker *resume.Tracker) *Session {
	return &Session{
		cfg:      cfg,
		tracker:  tracker,
		executor: transfer.NewExecutor(cfg.ChunkSize, cfg.DownloadDir),
	}
}

// SetProgress installs a callback that receives every progress report
func (s *Session) SetProgress(fn transfer.ProgressFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onProgress = fn
}

// Connect dials address and remembers it for later operations.
func (s *Session) Connect(ctx context.Context, address string) error {
	conn, err := s.dial(ctx, address)
	if err != nil {
		logging.LogError(err, "connect")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.addr = address
	s.conn = conn

	slog.Info("Connected to server", "address", address)
	return nil
}

// Disconnect closes any open connection and forgets the address.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addr = ""
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil && !stderrors.Is(err, net.ErrClosed) {
		return errors.NewConnectionError("close", "", err)
	}
	return nil
}

func (s *Session) dial(ctx context.Context, address string) (net.Conn, error) {
	conn, err := network.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	if err := network.OptimizeTCPConnection(conn); err != nil {
		slog.Warn("Failed to optimize TCP connection", "error", err)
	}
	return conn, nil
}

// take hands out the connection opened by Connect, or a fresh one to the
// same address once that has been used.
func (s *Session) take(ctx context.Context) (net.Conn, error) {
	s.mu.Lock()
	conn, addr := s.conn, s.addr
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		return conn, nil
	}
	if addr == "" {
		return nil, errors.NewConnectionError("dial", "", errNotConnected)
	}
	return s.dial(ctx, addr)
}

// progress returns the per-chunk callback. With checkpoint set, the resume
// record for key follows the position checkpoint reports as safe.
func (s *Session) progress(key string, checkpoint func(int64) (int64, bool), position *int64) transfer.ProgressFunc {
	s.mu.Lock()
	external := s.onProgress
	s.mu.Unlock()

	return func(p transfer.Progress) {
		*position = p.Transferred
		if checkpoint != nil {
			if offset, ok := checkpoint(p.Transferred); ok {
				if err := s.tracker.SetOffset(key, offset); err != nil {
					slog.Warn("Failed to save resume offset", "file", key, "error", err)
				}
			}
		}
		if external != nil {
			external(p)
		}
	}
}

// downloaded is the checkpoint for downloads: every reported byte is already
// in the local partial file.
func downloaded(position int64) (int64, bool) {
	return position, true
}

// inFlight bounds the upload bytes that have left this process but may not be
// on the server's disk yet: both socket buffers (the kernel doubles the
// requested size), the server's read buffer and the chunk it is writing.
func (s *Session) inFlight() int64 {
	return 4*config.TCPBufferSize + int64(s.cfg.BufferSize) + int64(s.cfg.ChunkSize)
}

// uploaded returns the checkpoint for an upload that started at start. Only
// positions more than inFlight past start are known to be stored.
func (s *Session) uploaded(start int64) func(int64) (int64, bool) {
	margin := s.inFlight()
	return func(position int64) (int64, bool) {
		if safe := position - margin; safe > start {
			return safe, true
		}
		return 0, false
	}
}

// fallback is the record left after a failed upload that never got more than
// inFlight past start. The server may have rejected start outright, so each
// such failure steps the record back by inFlight; the server cuts a longer
// file back to whatever offset arrives next.
func (s *Session) fallback(start int64) int64 {
	return max(start-s.inFlight(), 0)
}

// countingWriter tracks whether anything reached the connection
type countingWriter struct {
	net.Conn
	written int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.written += int64(n)
	return n, err
}

// Upload sends the file at path. Unless compress is set, the transfer starts
// at the offset recorded for path by an earlier interrupted attempt, and the
// record trails the bytes sent by what may still be in flight, so it never
// claims more than the server has stored. Upload returns nil only once the
// server has closed the connection in order after storing the file.
func (s *Session) Upload(ctx context.Context, path, user string, compress bool) error {
	if !s.busy.TryLock() {
		return errors.ErrBusy
	}
	defer s.busy.Unlock()

	start := time.Now()

	var offset int64
	if !compress {
		var err error
		if offset, err = s.tracker.Offset(path); err != nil {
			logging.LogError(err, "upload")
			return err
		}
		if offset > 0 {
			slog.Info("Found resume record", "file", path, "offset", humanize.IBytes(uint64(offset)))
		}
	}

	conn, err := s.take(ctx)
	if err != nil {
		logging.LogError(err, "upload")
		return err
	}
	defer conn.Close()
	rw := &countingWriter{Conn: network.WithIdleTimeout(conn, s.cfg.IdleTimeout)}

	var checkpoint func(int64) (int64, bool)
	if !compress {
		checkpoint = s.uploaded(offset)
	}

	position := offset
	err = s.executor.Upload(ctx, path, rw, offset, user, s.progress(path, checkpoint, &position), compress)
	if err == nil {
		if cerr := awaitClose(conn, rw); cerr != nil {
			err = errors.NewTransferIOError("upload", path, cerr)
		}
	}
	if err != nil {
		if checkpoint != nil && rw.written > 0 {
			if _, ok := checkpoint(position); !ok {
				if serr := s.tracker.SetOffset(path, s.fallback(offset)); serr != nil {
					slog.Warn("Failed to save resume offset", "file", path, "error", serr)
				}
			}
		}
		logging.LogError(err, "upload")
		logging.LogSessionEnd(false, position-offset, time.Since(start))
		return err
	}

	if err := s.tracker.Clear(path); err != nil {
		slog.Warn("Failed to clear resume record", "file", path, "error", err)
	}
	logging.LogSessionEnd(true, position-offset, time.Since(start))
	return nil
}

// Download fetches fileName into the download directory. With resume set the
// transfer continues from the recorded offset; resume and compress are
// mutually exclusive.
func (s *Session) Download(ctx context.Context, fileName, user string, compress, resume bool) error {
	if compress && resume {
		err := errors.NewValidationError("resume", resume, "compressed downloads cannot be resumed")
		logging.LogError(err, "download")
		return err
	}
	if !s.busy.TryLock() {
		return errors.ErrBusy
	}
	defer s.busy.Unlock()

	start := time.Now()

	var offset int64
	if resume {
		var err error
		if offset, err = s.tracker.Offset(fileName); err != nil {
			logging.LogError(err, "download")
			return err
		}
	}

	conn, err := s.take(ctx)
	if err != nil {
		logging.LogError(err, "download")
		return err
	}
	defer conn.Close()
	rw := network.WithIdleTimeout(conn, s.cfg.IdleTimeout)

	position := offset
	var checkpoint func(int64) (int64, bool)
	if !compress {
		checkpoint = downloaded
	}
	path, err := s.executor.Download(ctx, fileName, rw, offset, user, s.progress(fileName, checkpoint, &position), compress)
	if err != nil {
		logging.LogError(err, "download")
		logging.LogSessionEnd(false, position-offset, time.Since(start))
		return err
	}

	if err := s.tracker.Clear(fileName); err != nil {
		slog.Warn("Failed to clear resume record", "file", fileName, "error", err)
	}
	slog.Info("Download saved", "path", path)
	logging.LogSessionEnd(true, position-offset, time.Since(start))
	return nil
}

// awaitClose half-closes the connection and waits for the server to finish
// with it. The server closes an upload it stored in order and resets one it
// did not, so only a clean end of stream counts.
func awaitClose(conn net.Conn, r io.Reader) error {
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			return err
		}
	}
	_, err := io.Copy(io.Discard, r)
	return err
}
