package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/ValentinKolb/dStream/lib/sequencer"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Content Stream
// --------------------------------------------------------------------------

// ContentStream is the reader side of an incoming content stream.
// Data can be read while the stream is still being received. After the last
// byte Read returns io.EOF, a failed stream returns its error instead.
// A ContentStream must only be read from one goroutine at a time.
type ContentStream struct {
	ID          uuid.UUID
	ContentType string
	Length      int64 // announced length, common.UnknownLength if unknown

	buf *streamBuffer
}

func newContentStream(desc common.StreamDescription, id uuid.UUID, buf *streamBuffer) *ContentStream {
	return &ContentStream{
		ID:          id,
		ContentType: desc.ContentType,
		Length:      desc.Length,
		buf:         buf,
	}
}

// Read implements io.Reader
func (s *ContentStream) Read(p []byte) (int, error) {
	return s.ReadContext(context.Background(), p)
}

// ReadContext reads like Read, but gives up waiting for data once ctx is done
func (s *ContentStream) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b := s.buf
	for {
		b.mu.Lock()
		if b.err != nil {
			err := b.err
			b.mu.Unlock()
			return 0, err
		}

		if len(b.chunks) > 0 {
			n := 0
			for n < len(p) && len(b.chunks) > 0 {
				c := copy(p[n:], b.chunks[0])
				n += c
				if c == len(b.chunks[0]) {
					b.chunks[0] = nil
					b.chunks = b.chunks[1:]
				} else {
					b.chunks[0] = b.chunks[0][c:]
				}
			}
			b.buffered -= int64(n)
			b.mu.Unlock()

			b.mgr.release(int64(n))
			return n, nil
		}

		if b.complete {
			b.mu.Unlock()
			// fully consumed, the registry no longer needs the buffer
			b.mgr.removeIf(b)
			return 0, io.EOF
		}

		notify := b.notify
		b.mu.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// ReadAll reads the stream until io.EOF
func (s *ContentStream) ReadAll(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	if s.Length > 0 && s.Length <= common.MaxPayloadLength {
		buf.Grow(int(s.Length))
	}

	chunk := make([]byte, 32*1024)
	for {
		n, err := s.ReadContext(ctx, chunk)
		buf.Write(chunk[:n])
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return buf.Bytes(), err
		}
	}
}

// ReadString reads the complete stream as string
func (s *ContentStream) ReadString(ctx context.Context) (string, error) {
	b, err := s.ReadAll(ctx)
	return string(b), err
}

// ReadJSON reads the complete stream and unmarshals it into v
func (s *ContentStream) ReadJSON(ctx context.Context, v any) error {
	b, err := s.ReadAll(ctx)
	if err != nil {
		return err
	}
	return errors.Wrapf(json.Unmarshal(b, v), "stream %s is not valid json", s.ID)
}

// IsComplete reports whether all bytes of the stream were received
func (s *ContentStream) IsComplete() bool {
	s.buf.mu.Lock()
	defer s.buf.mu.Unlock()
	return s.buf.complete
}

// Cancel stops the stream. If it is not complete yet the peer is told to stop
// sending. Further reads return common.ErrStreamCancelled.
func (s *ContentStream) Cancel() {
	b := s.buf
	b.mu.Lock()
	incomplete := !b.complete && b.err == nil
	b.mu.Unlock()

	if b.fail(errors.Wrapf(common.ErrStreamCancelled, "stream %s cancelled locally", s.ID)) && incomplete && b.mgr.onCancel != nil {
		b.mgr.onCancel(s.ID)
	}
	b.mgr.removeIf(b)
}

// Discard releases the stream without reading it. Incomplete streams are cancelled.
func (s *ContentStream) Discard() {
	b := s.buf
	b.mu.Lock()
	complete := b.complete || b.err != nil
	b.mu.Unlock()

	if !complete {
		s.Cancel()
		return
	}
	b.fail(errors.Wrapf(common.ErrStreamCancelled, "stream %s discarded", s.ID))
	b.mgr.removeIf(b)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ReadAllStreams reads all streams concurrently and returns their contents in
// the order of streams. The first failing stream (in order) aborts the result.
func ReadAllStreams(ctx context.Context, streams []*ContentStream) ([][]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	seq := sequencer.New[[]byte]()
	futures := make([]*sequencer.Future[[]byte], len(streams))
	for i, s := range streams {
		s := s
		futures[i] = seq.Go(func() ([]byte, error) {
			return s.ReadAll(ctx)
		})
	}

	results := make([][]byte, len(streams))
	for i, f := range futures {
		b, err := f.Result()
		if err != nil {
			// stop the readers of the remaining streams
			cancel()
			for _, rest := range futures[i+1:] {
				_, _ = rest.Result()
			}
			return nil, errors.Wrapf(err, "failed to read stream %s", streams[i].ID)
		}
		results[i] = b
	}
	return results, nil
}
