package transfer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftplite/internal/compression"
	ftperrors "ftplite/internal/errors"
	"ftplite/internal/protocol"
)

// fakeConn plays the server side: it records what the client writes and
// returns a canned payload on read.
type fakeConn struct {
	io.Reader
	written bytes.Buffer
}

func (c *fakeConn) Write(p []byte) (int, error) {
	return c.written.Write(p)
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	return data
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func splitHeader(t *testing.T, raw []byte) (protocol.Command, []byte) {
	t.Helper()
	r := bufio.NewReader(bytes.NewReader(raw))
	line, err := protocol.ReadLine(r)
	require.NoError(t, err)
	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	return protocol.Decode(line), rest
}

func TestUploadSendsHeaderAndChunks(t *testing.T) {
	data := randomBytes(t, 3*DefaultChunkSize+123)
	path := writeFile(t, t.TempDir(), "report.txt", data)

	var reports []Progress
	var out bytes.Buffer
	exec := NewExecutor(0, "")
	err := exec.Upload(context.Background(), path, &out, 0, "alice", func(p Progress) {
		reports = append(reports, p)
	}, false)
	require.NoError(t, err)

	cmd, payload := splitHeader(t, out.Bytes())
	assert.Equal(t, protocol.NewUpload("report.txt", int64(len(data)), 0, "alice", false), cmd)
	assert.Equal(t, data, payload)

	require.Len(t, reports, 4)
	assert.Equal(t, int64(DefaultChunkSize), reports[0].Transferred)
	last := reports[len(reports)-1]
	assert.Equal(t, int64(len(data)), last.Transferred)
	assert.Equal(t, 100.0, last.Percent())
}

func TestUploadResumesFromOffset(t *testing.T) {
	data := randomBytes(t, 1048576)
	path := writeFile(t, t.TempDir(), "report.txt", data)

	var out bytes.Buffer
	err := NewExecutor(DefaultChunkSize, "").Upload(context.Background(), path, &out, 500000, "alice", nil, false)
	require.NoError(t, err)

	cmd, payload := splitHeader(t, out.Bytes())
	assert.Equal(t, "UPLOAD report.txt 1048576 500000 alice 0\n", protocol.Encode(cmd))
	assert.Len(t, payload, 548576)
	assert.Equal(t, data[500000:], payload)
}

func TestUploadOffsetOutOfRangeStartsOver(t *testing.T) {
	data := []byte("short file")
	path := writeFile(t, t.TempDir(), "short.txt", data)

	var out bytes.Buffer
	require.NoError(t, NewExecutor(0, "").Upload(context.Background(), path, &out, 9999, "alice", nil, false))

	cmd, payload := splitHeader(t, out.Bytes())
	assert.Equal(t, "0", cmd.Offset)
	assert.Equal(t, data, payload)
}

func TestUploadCompressed(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte("compress me please\n"), 20000)
	path := writeFile(t, dir, "notes.txt", data)
	writeFile(t, dir, "notes.txt.gz", []byte("an archive the user keeps"))

	var out bytes.Buffer
	require.NoError(t, NewExecutor(0, "").Upload(context.Background(), path, &out, 4096, "bob", nil, true))

	cmd, payload := splitHeader(t, out.Bytes())
	assert.Equal(t, "notes.txt", cmd.FileName)
	assert.True(t, cmd.Compressed())
	assert.Equal(t, "0", cmd.Offset, "compressed uploads never resume")

	size, err := cmd.TotalSize()
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)
	assert.Less(t, size, int64(len(data)))

	// The temporary is cleaned up, an unrelated notes.txt.gz is left alone
	// and the payload inflates back to the source
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	kept, err := os.ReadFile(path + ".gz")
	require.NoError(t, err)
	assert.Equal(t, "an archive the user keeps", string(kept))
	gz := writeFile(t, dir, "received.gz", payload)
	restored := filepath.Join(dir, "restored")
	require.NoError(t, compression.DecompressFile(gz, restored))
	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestUploadFailures(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing source", func(t *testing.T) {
		var out bytes.Buffer
		err := NewExecutor(0, "").Upload(context.Background(), filepath.Join(dir, "nope.bin"), &out, 0, "a", nil, false)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ftperrors.ErrTransferIO))
		assert.Zero(t, out.Len(), "nothing is sent for a missing file")
	})

	t.Run("whitespace in name", func(t *testing.T) {
		path := writeFile(t, dir, "my report.txt", []byte("x"))
		var out bytes.Buffer
		err := NewExecutor(0, "").Upload(context.Background(), path, &out, 0, "a", nil, false)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ftperrors.ErrValidation))
	})

	t.Run("directory", func(t *testing.T) {
		var out bytes.Buffer
		err := NewExecutor(0, "").Upload(context.Background(), dir, &out, 0, "a", nil, false)
		assert.True(t, errors.Is(err, ftperrors.ErrValidation))
	})

	t.Run("send interrupted", func(t *testing.T) {
		path := writeFile(t, dir, "big.bin", randomBytes(t, 200000))
		err := NewExecutor(0, "").Upload(context.Background(), path, &limitedWriter{left: 100000}, 0, "a", nil, false)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ftperrors.ErrTransferIO))
	})
}

type limitedWriter struct{ left int }

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.left <= 0 {
		return 0, errors.New("connection reset by peer")
	}
	n := min(len(p), w.left)
	w.left -= n
	return n, nil
}

func TestDownloadFresh(t *testing.T) {
	dir := t.TempDir()
	data := randomBytes(t, 2*DefaultChunkSize+5)
	conn := &fakeConn{Reader: bytes.NewReader(data)}

	var last Progress
	path, err := NewExecutor(0, dir).Download(context.Background(), "movie.mkv", conn, 0, "bob", func(p Progress) {
		last = p
	}, false)
	require.NoError(t, err)

	assert.Equal(t, "DOWNLOAD movie.mkv 0 bob 0\n", conn.written.String())
	assert.Equal(t, filepath.Join(dir, "movie.mkv"), path)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.NoFileExists(t, path+partialSuffix)
	assert.Equal(t, int64(len(data)), last.Transferred)
	assert.Equal(t, -1.0, last.Percent())
}

func TestDownloadResumeAppends(t *testing.T) {
	dir := t.TempDir()
	data := randomBytes(t, 300000)
	writeFile(t, dir, "movie.mkv.part", data[:120000])

	conn := &fakeConn{Reader: bytes.NewReader(data[120000:])}
	path, err := NewExecutor(0, dir).Download(context.Background(), "movie.mkv", conn, 120000, "bob", nil, false)
	require.NoError(t, err)

	assert.Equal(t, "DOWNLOAD movie.mkv 120000 bob 0\n", conn.written.String())
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDownloadResumeReconcilesOffset(t *testing.T) {
	t.Run("partial file shorter than record", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.bin.part", make([]byte, 1000))
		conn := &fakeConn{Reader: bytes.NewReader(make([]byte, 500))}

		_, err := NewExecutor(0, dir).Download(context.Background(), "a.bin", conn, 4000, "u", nil, false)
		require.NoError(t, err)
		assert.Equal(t, "DOWNLOAD a.bin 1000 u 0\n", conn.written.String())
	})

	t.Run("partial file longer than record", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.bin.part", bytes.Repeat([]byte{1}, 1000))
		conn := &fakeConn{Reader: bytes.NewReader(bytes.Repeat([]byte{2}, 100))}

		path, err := NewExecutor(0, dir).Download(context.Background(), "a.bin", conn, 600, "u", nil, false)
		require.NoError(t, err)
		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Len(t, got, 700)
		assert.Equal(t, byte(2), got[600])
	})

	t.Run("no partial file", func(t *testing.T) {
		dir := t.TempDir()
		conn := &fakeConn{Reader: bytes.NewReader([]byte("all of it"))}

		_, err := NewExecutor(0, dir).Download(context.Background(), "a.bin", conn, 50, "u", nil, false)
		require.NoError(t, err)
		assert.Equal(t, "DOWNLOAD a.bin 0 u 0\n", conn.written.String())
	})
}

func TestDownloadDecompresses(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte("line of text\n"), 5000)
	src := writeFile(t, dir, "src.txt", data)
	require.NoError(t, compression.CompressFile(src, src+".gz"))
	compressed, err := os.ReadFile(src + ".gz")
	require.NoError(t, err)

	downloads := filepath.Join(dir, "downloads")
	conn := &fakeConn{Reader: bytes.NewReader(compressed)}
	path, err := NewExecutor(0, downloads).Download(context.Background(), "src.txt", conn, 0, "u", nil, true)
	require.NoError(t, err)

	assert.Equal(t, "DOWNLOAD src.txt 0 u 1\n", conn.written.String())
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.NoFileExists(t, path+partialSuffix)
}

func TestDownloadRejections(t *testing.T) {
	dir := t.TempDir()

	t.Run("resume with decompress", func(t *testing.T) {
		conn := &fakeConn{Reader: bytes.NewReader(nil)}
		_, err := NewExecutor(0, dir).Download(context.Background(), "a.txt", conn, 10, "u", nil, true)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ftperrors.ErrValidation))
		assert.Zero(t, conn.written.Len())
	})

	t.Run("server sent nothing", func(t *testing.T) {
		conn := &fakeConn{Reader: bytes.NewReader(nil)}
		_, err := NewExecutor(0, dir).Download(context.Background(), "ghost.txt", conn, 0, "u", nil, false)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNoData))
		assert.NoFileExists(t, filepath.Join(dir, "ghost.txt"))
		assert.NoFileExists(t, filepath.Join(dir, "ghost.txt"+partialSuffix))
	})

	t.Run("server sent nothing on resume", func(t *testing.T) {
		writeFile(t, dir, "ghost.bin.part", []byte("0123456789"))
		conn := &fakeConn{Reader: bytes.NewReader(nil)}
		_, err := NewExecutor(0, dir).Download(context.Background(), "ghost.bin", conn, 10, "u", nil, false)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNoData))
		assert.Equal(t, "DOWNLOAD ghost.bin 10 u 0\n", conn.written.String())
		assert.NoFileExists(t, filepath.Join(dir, "ghost.bin"))

		part, err := os.ReadFile(filepath.Join(dir, "ghost.bin"+partialSuffix))
		require.NoError(t, err)
		assert.Equal(t, "0123456789", string(part))
	})

	t.Run("bad name", func(t *testing.T) {
		conn := &fakeConn{Reader: bytes.NewReader(nil)}
		_, err := NewExecutor(0, dir).Download(context.Background(), "../etc/passwd", conn, 0, "u", nil, false)
		assert.Error(t, err)
	})
}

func TestReceive(t *testing.T) {
	payload := randomBytes(t, 150000)

	t.Run("exact length", func(t *testing.T) {
		var dst bytes.Buffer
		src := bytes.NewReader(append(append([]byte{}, payload...), []byte("trailing")...))
		err := Receive(context.Background(), "a", src, &dst, 50000, 200000, DefaultChunkSize, nil)
		require.NoError(t, err)
		assert.Equal(t, payload, dst.Bytes(), "reads exactly total-offset bytes")
	})

	t.Run("stream ends early", func(t *testing.T) {
		var dst bytes.Buffer
		err := Receive(context.Background(), "a", bytes.NewReader(payload[:1000]), &dst, 0, int64(len(payload)), DefaultChunkSize, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
		assert.Equal(t, 1000, dst.Len(), "partial data is kept")
	})

	t.Run("offset beyond total", func(t *testing.T) {
		err := Receive(context.Background(), "a", bytes.NewReader(nil), io.Discard, 10, 5, DefaultChunkSize, nil)
		assert.Error(t, err)
	})
}

func TestSend(t *testing.T) {
	payload := randomBytes(t, 100000)
	var dst bytes.Buffer
	var last Progress

	n, err := Send(context.Background(), "a", bytes.NewReader(payload), &dst, 500, 100500, 4096, func(p Progress) { last = p })
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, dst.Bytes())
	assert.Equal(t, int64(100500), last.Transferred)
}

func TestSendHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Send(ctx, "a", bytes.NewReader([]byte("data")), io.Discard, 0, 4, 0, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
