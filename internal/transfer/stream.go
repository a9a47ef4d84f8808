package transfer

import (
	"context"
	"io"

	"ftplite/internal/errors"
	"ftplite/internal/network"
)

// Progress is reported after every chunk. Transferred counts from the start of
// the file, so a resumed transfer starts at its offset. Total is zero when the
// receiver cannot know the size in advance.
type Progress struct {
	FileName    string
	Transferred int64
	Total       int64
}

// Percent returns the completed percentage, or -1 when the total is unknown.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	return float64(p.Transferred) * 100 / float64(p.Total)
}

// ProgressFunc receives progress reports. It runs on the transferring
// goroutine and must not block for long.
type ProgressFunc func(Progress)

// session is the state of one transfer over one socket. It is never shared
// between goroutines.
type session struct {
	name        string
	transferred int64
	total       int64
	buf         []byte
	onProgress  ProgressFunc
}

func newSession(name string, start, total int64, chunkSize int, onProgress ProgressFunc) *session {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &session{
		name:        name,
		transferred: start,
		total:       total,
		buf:         make([]byte, chunkSize),
		onProgress:  onProgress,
	}
}

func (s *session) advance(n int) {
	s.transferred += int64(n)
	if s.onProgress != nil {
		s.onProgress(Progress{FileName: s.name, Transferred: s.transferred, Total: s.total})
	}
}

// send copies src to dst chunk by chunk until src is exhausted.
func (s *session) send(ctx context.Context, src io.Reader, dst io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := src.Read(s.buf)
		if n > 0 {
			if serr := network.SendAll(dst, s.buf[:n]); serr != nil {
				return serr
			}
			s.advance(n)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.NewTransferIOError("read_chunk", s.name, err)
		}
	}
}

// receive copies exactly remaining bytes from src to dst.
func (s *session) receive(ctx context.Context, src io.Reader, dst io.Writer, remaining int64) error {
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		want := int64(len(s.buf))
		if remaining < want {
			want = remaining
		}

		n, err := src.Read(s.buf[:want])
		if n > 0 {
			if _, werr := dst.Write(s.buf[:n]); werr != nil {
				return errors.NewTransferIOError("write_chunk", s.name, werr)
			}
			remaining -= int64(n)
			s.advance(n)
		}
		if err == io.EOF && remaining > 0 {
			return errors.NewTransferIOError("receive_chunk", s.name, io.ErrUnexpectedEOF)
		}
		if err != nil && err != io.EOF {
			return errors.NewTransferIOError("receive_chunk", s.name, err)
		}
	}
	return nil
}

// drain copies src to dst until the peer closes the stream and returns the
// number of bytes moved.
func (s *session) drain(ctx context.Context, src io.Reader, dst io.Writer) (int64, error) {
	var moved int64
	for {
		if err := ctx.Err(); err != nil {
			return moved, err
		}

		n, err := src.Read(s.buf)
		if n > 0 {
			if _, werr := dst.Write(s.buf[:n]); werr != nil {
				return moved, errors.NewTransferIOError("write_chunk", s.name, werr)
			}
			moved += int64(n)
			s.advance(n)
		}
		if err == io.EOF {
			return moved, nil
		}
		if err != nil {
			return moved, errors.NewTransferIOError("receive_chunk", s.name, err)
		}
	}
}

// Receive reads the payload of an upload: exactly total-offset bytes from src,
// written to dst. It fails if the stream ends early.
func Receive(ctx context.Context, name string, src io.Reader, dst io.Writer, offset, total int64, chunkSize int, onProgress ProgressFunc) error {
	if offset > total {
		return errors.NewValidationError("offset", offset, "beyond declared size")
	}
	s := newSession(name, offset, total, chunkSize, onProgress)
	return s.receive(ctx, src, dst, total-offset)
}

// Send streams src to dst until src is exhausted and returns the number of
// bytes sent. start is only used for progress accounting.
func Send(ctx context.Context, name string, src io.Reader, dst io.Writer, start, total int64, chunkSize int, onProgress ProgressFunc) (int64, error) {
	s := newSession(name, start, total, chunkSize, onProgress)
	err := s.send(ctx, src, dst)
	return s.transferred - start, err
}
