package server

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"ftplite/internal/config"
	"ftplite/internal/discovery"
	"ftplite/internal/errors"
	"ftplite/internal/filesystem"
	"ftplite/internal/logging"
	"ftplite/internal/metadata"
	"ftplite/internal/network"
)

// acceptBackoff is the pause after a failed Accept before trying again
const acceptBackoff = 50 * time.Millisecond

// Server accepts connections and runs one handler goroutine per connection,
// at most cfg.MaxConnections at a time.
type Server struct {
	cfg   *config.Config
	store metadata.Store
	slots *semaphore.Weighted
	locks *nameLocks

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	stopped  bool

	handlers sync.WaitGroup
	loop     sync.WaitGroup
}

// New creates a server. Nothing is bound until Start.
func New(cfg *config.Config, store metadata.Store) *Server {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = config.DefaultMaxConnections
	}

	return &Server{
		cfg:   cfg,
		store: store,
		slots: semaphore.NewWeighted(int64(maxConns)),
		locks: newNameLocks(),
	}
}

// Start binds the listen address and runs the accept loop in the background.
// Cancelling ctx has the same effect as Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.NewConnectionError("start", s.cfg.ListenAddress, stderrors.New("server already started"))
	}

	if err := filesystem.EnsureDirectoryExists(s.cfg.StorageDir); err != nil {
		return err
	}

	listener, err := network.Listen(ctx, s.cfg.ListenAddress)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.listener = listener
	s.cancel = cancel
	context.AfterFunc(loopCtx, s.Stop)

	slog.Info("Server ready to accept connections",
		"address", listener.Addr().String(),
		"max_connections", s.cfg.MaxConnections)

	s.loop.Add(1)
	go s.acceptLoop(loopCtx, listener)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener. Handlers already running are left to finish.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.listener == nil {
		return
	}
	s.stopped = true

	s.cancel()
	if err := s.listener.Close(); err != nil && !stderrors.Is(err, net.ErrClosed) {
		slog.Warn("Failed to close listener", "error", err)
	}
	slog.Info("Server stopped accepting connections")
}

// Wait blocks until the accept loop has exited and every handler has returned.
func (s *Server) Wait() {
	s.loop.Wait()
	s.handlers.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	defer s.loop.Done()

	// Handlers outlive Stop, so they get a context that is never cancelled.
	handlerCtx := context.WithoutCancel(ctx)

	for {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			s.slots.Release(1)
			if stderrors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			logging.LogError(errors.NewConnectionError("accept", listener.Addr().String(), err), "accept_loop")
			time.Sleep(acceptBackoff)
			continue
		}

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			defer s.slots.Release(1)
			s.handle(handlerCtx, conn)
		}()
	}
}

// Run starts a server for cfg, backed by the badger store at
// cfg.MetadataPath, and blocks until ctx is cancelled and all in-flight
// transfers have finished.
func Run(ctx context.Context, cfg *config.Config) error {
	store, err := metadata.OpenBadger(cfg.MetadataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := New(cfg, store)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	if cfg.Advertise {
		if tcpAddr, ok := srv.Addr().(*net.TCPAddr); ok {
			shutdown, err := discovery.Advertise(tcpAddr.Port)
			if err != nil {
				logging.LogError(err, "advertise")
			} else {
				defer shutdown()
			}
		}
	}

	<-ctx.Done()
	srv.Stop()
	slog.Info("Waiting for in-flight transfers to finish")
	srv.Wait()
	return nil
}
