package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftplite/internal/config"
	ftperrors "ftplite/internal/errors"
	"ftplite/internal/metadata"
	"ftplite/internal/network"
	"ftplite/internal/resume"
	"ftplite/internal/server"
	"ftplite/internal/transfer"
)

type fixture struct {
	session    *Session
	tracker    *resume.Tracker
	store      *metadata.MemoryStore
	storageDir string
	clientDir  string
	addr       string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	serverCfg := config.Default()
	serverCfg.IsServer = true
	serverCfg.ListenAddress = "127.0.0.1:0"
	serverCfg.StorageDir = t.TempDir()

	store := metadata.NewMemoryStore()
	srv := server.New(serverCfg, store)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		srv.Stop()
		srv.Wait()
	})

	clientDir := t.TempDir()
	cfg := config.Default()
	cfg.DownloadDir = filepath.Join(clientDir, "downloads")
	cfg.ResumeFile = filepath.Join(clientDir, "resume.json")

	tracker := resume.NewTracker(cfg.ResumeFile)
	return &fixture{
		session:    NewSession(cfg, tracker),
		tracker:    tracker,
		store:      store,
		storageDir: serverCfg.StorageDir,
		clientDir:  clientDir,
		addr:       srv.Addr().String(),
	}
}

func randomData(n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	return data
}

func (f *fixture) writeLocal(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(f.clientDir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestUploadThenDownload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := randomData(700000)
	path := f.writeLocal(t, "report.txt", data)

	require.NoError(t, f.session.Connect(ctx, f.addr))
	require.NoError(t, f.session.Upload(ctx, path, "alice", false))

	stored, err := os.ReadFile(filepath.Join(f.storageDir, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	records, err := f.tracker.Records()
	require.NoError(t, err)
	assert.Empty(t, records, "completed uploads leave no resume record")

	// Second operation re-dials the remembered address
	require.NoError(t, f.session.Download(ctx, "report.txt", "bob", false, false))
	got, err := os.ReadFile(filepath.Join(f.session.cfg.DownloadDir, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	rec, err := f.store.Lookup(ctx, "report.txt")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Uploader)
	assert.Equal(t, int64(1), rec.DownloadCount)

	require.NoError(t, f.session.Disconnect())
}

func TestCompressedRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := bytes.Repeat([]byte("compressible line of text\n"), 20000)
	path := f.writeLocal(t, "notes.txt", data)

	require.NoError(t, f.session.Connect(ctx, f.addr))
	require.NoError(t, f.session.Upload(ctx, path, "alice", true))

	stored, err := os.ReadFile(filepath.Join(f.storageDir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, data, stored)
	assert.NoFileExists(t, path+".gz")

	require.NoError(t, f.session.Download(ctx, "notes.txt", "bob", true, false))
	got, err := os.ReadFile(filepath.Join(f.session.cfg.DownloadDir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	records, err := f.tracker.Records()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestUploadResumesFromRecordedOffset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := randomData(1048576)
	path := f.writeLocal(t, "report.txt", data)

	require.NoError(t, os.WriteFile(filepath.Join(f.storageDir, "report.txt"), data[:500000], 0644))
	require.NoError(t, f.tracker.SetOffset(path, 500000))

	var first transfer.Progress
	f.session.SetProgress(func(p transfer.Progress) {
		if first.Transferred == 0 {
			first = p
		}
	})

	require.NoError(t, f.session.Connect(ctx, f.addr))
	require.NoError(t, f.session.Upload(ctx, path, "alice", false))

	assert.Equal(t, int64(500000+transfer.DefaultChunkSize), first.Transferred, "only the remainder is sent")
	assert.Equal(t, int64(1048576), first.Total)

	stored, err := os.ReadFile(filepath.Join(f.storageDir, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	offset, err := f.tracker.Offset(path)
	require.NoError(t, err)
	assert.Zero(t, offset)
}

func TestDownloadResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := randomData(400000)
	require.NoError(t, os.WriteFile(filepath.Join(f.storageDir, "movie.mkv"), data, 0644))

	downloads := f.session.cfg.DownloadDir
	require.NoError(t, os.MkdirAll(downloads, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(downloads, "movie.mkv.part"), data[:100000], 0644))
	require.NoError(t, f.tracker.SetOffset("movie.mkv", 100000))

	require.NoError(t, f.session.Connect(ctx, f.addr))
	require.NoError(t, f.session.Download(ctx, "movie.mkv", "bob", false, true))

	got, err := os.ReadFile(filepath.Join(downloads, "movie.mkv"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	offset, err := f.tracker.Offset("movie.mkv")
	require.NoError(t, err)
	assert.Zero(t, offset)
}

func TestDownloadRejectsCompressedResume(t *testing.T) {
	f := newFixture(t)
	err := f.session.Download(context.Background(), "movie.mkv", "bob", true, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ftperrors.ErrValidation))
}

func TestDownloadUnknownFileFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.session.Connect(ctx, f.addr))
	err := f.session.Download(ctx, "missing.txt", "bob", false, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, transfer.ErrNoData))
	assert.NoFileExists(t, filepath.Join(f.session.cfg.DownloadDir, "missing.txt"))
}

func TestOperationsRequireConnect(t *testing.T) {
	f := newFixture(t)
	path := f.writeLocal(t, "a.txt", []byte("a"))

	err := f.session.Upload(context.Background(), path, "alice", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ftperrors.ErrConnection))

	require.NoError(t, f.session.Connect(context.Background(), f.addr))
	require.NoError(t, f.session.Disconnect())

	err = f.session.Download(context.Background(), "a.txt", "alice", false, false)
	assert.True(t, errors.Is(err, ftperrors.ErrConnection))
}

func TestConnectRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	f := newFixture(t)
	err = f.session.Connect(context.Background(), addr)
	assert.True(t, errors.Is(err, ftperrors.ErrConnection))
}

func TestOneTransferAtATime(t *testing.T) {
	f := newFixture(t)
	path := f.writeLocal(t, "a.txt", []byte("a"))

	f.session.busy.Lock()
	defer f.session.busy.Unlock()

	assert.ErrorIs(t, f.session.Upload(context.Background(), path, "alice", false), ftperrors.ErrBusy)
	assert.ErrorIs(t, f.session.Download(context.Background(), "a.txt", "alice", false, false), ftperrors.ErrBusy)
}

func TestMissingSourceKeepsResumeRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := filepath.Join(f.clientDir, "gone.bin")
	require.NoError(t, f.tracker.SetOffset(path, 1234))

	require.NoError(t, f.session.Connect(ctx, f.addr))
	require.Error(t, f.session.Upload(ctx, path, "alice", false))

	offset, err := f.tracker.Offset(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), offset)
}

func TestInterruptedUploadRecordsOffset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	size := 16 * 1024 * 1024
	read := int64(6 * 1024 * 1024)
	path := f.writeLocal(t, "big.bin", randomData(size))

	// A peer with fixed socket buffers that stores a prefix and hangs up
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		network.OptimizeTCPConnection(conn)
		io.CopyN(io.Discard, conn, read)
		conn.Close()
	}()

	require.NoError(t, f.session.Connect(ctx, listener.Addr().String()))
	require.Error(t, f.session.Upload(ctx, path, "alice", false))

	offset, err := f.tracker.Offset(path)
	require.NoError(t, err)
	assert.Greater(t, offset, int64(0))
	assert.LessOrEqual(t, offset, read, "never more than the peer took in")
}

func TestRejectedUploadFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := randomData(300000)
	path := f.writeLocal(t, "big.bin", data)

	// The server holds less than the record claims and refuses the offset
	stored := filepath.Join(f.storageDir, "big.bin")
	require.NoError(t, os.WriteFile(stored, data[:100000], 0644))
	require.NoError(t, f.tracker.SetOffset(path, 150000))

	require.NoError(t, f.session.Connect(ctx, f.addr))
	err := f.session.Upload(ctx, path, "alice", false)
	require.Error(t, err)

	have, err := os.ReadFile(stored)
	require.NoError(t, err)
	assert.Len(t, have, 100000)
	_, err = f.store.Lookup(ctx, "big.bin")
	assert.ErrorIs(t, err, metadata.ErrUnknownFile)

	offset, err := f.tracker.Offset(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, offset, int64(100000))

	// The stepped back record lets the next attempt go through
	require.NoError(t, f.session.Upload(ctx, path, "alice", false))
	have, err = os.ReadFile(stored)
	require.NoError(t, err)
	assert.Equal(t, data, have)

	offset, err = f.tracker.Offset(path)
	require.NoError(t, err)
	assert.Zero(t, offset)
}

func TestResumedDownloadOfMissingFileKeepsPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	downloads := f.session.cfg.DownloadDir
	require.NoError(t, os.MkdirAll(downloads, 0755))
	part := filepath.Join(downloads, "ghost.bin.part")
	require.NoError(t, os.WriteFile(part, []byte("0123456789"), 0644))
	require.NoError(t, f.tracker.SetOffset("ghost.bin", 10))

	require.NoError(t, f.session.Connect(ctx, f.addr))
	err := f.session.Download(ctx, "ghost.bin", "bob", false, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, transfer.ErrNoData))

	assert.NoFileExists(t, filepath.Join(downloads, "ghost.bin"))
	assert.FileExists(t, part)
	offset, err := f.tracker.Offset("ghost.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(10), offset)
}
