package protocol

import (
	"context"
	"io"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/serializer"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Send Operations
// --------------------------------------------------------------------------

// SendOperations split requests, responses and their content streams into frames.
// No frame payload is larger than the configured chunk size.
type SendOperations struct {
	sender     *PayloadSender
	serializer serializer.IPayloadSerializer
	chunkSize  int

	// outgoing streams that are currently sent, a CancelStream of the peer stops them
	outgoing *xsync.MapOf[uuid.UUID, context.CancelCauseFunc]
}

// NewSendOperations creates the send operations of a connection
func NewSendOperations(sender *PayloadSender, s serializer.IPayloadSerializer, conf common.ProtocolConfig) *SendOperations {
	chunkSize := conf.MaxChunkSize
	if chunkSize <= 0 || chunkSize > common.MaxPayloadLength {
		chunkSize = common.DefaultMaxChunkSize
	}
	return &SendOperations{
		sender:     sender,
		serializer: s,
		chunkSize:  chunkSize,
		outgoing:   xsync.NewMapOf[uuid.UUID, context.CancelCauseFunc](),
	}
}

// SendRequest sends the request descriptor followed by all content streams of the request
func (o *SendOperations) SendRequest(ctx context.Context, id uuid.UUID, req *StreamingRequest) error {
	payload, err := o.serializer.SerializeRequest(req.payload())
	if err != nil {
		return errors.Wrap(err, "failed to serialize request")
	}
	if err := o.sendChunked(common.PayloadTypeRequest, id, payload); err != nil {
		return err
	}
	return o.sendStreams(ctx, req.Streams)
}

// SendResponse sends the response descriptor for request id followed by all content streams
func (o *SendOperations) SendResponse(ctx context.Context, id uuid.UUID, resp *StreamingResponse) error {
	payload, err := o.serializer.SerializeResponse(resp.payload())
	if err != nil {
		return errors.Wrap(err, "failed to serialize response")
	}
	if err := o.sendChunked(common.PayloadTypeResponse, id, payload); err != nil {
		return err
	}
	return o.sendStreams(ctx, resp.Streams)
}

// SendCancelStream tells the peer to stop sending (or expecting) the payload of id
func (o *SendOperations) SendCancelStream(id uuid.UUID) error {
	return o.sender.SendPayload(Header{PayloadType: common.PayloadTypeCancelStream, ID: id, End: true}, nil)
}

// SendCancelAll tells the peer to stop all streams of the connection
func (o *SendOperations) SendCancelAll() error {
	return o.sender.SendPayload(Header{PayloadType: common.PayloadTypeCancelAll, End: true}, nil)
}

// CancelOutgoing stops sending the outgoing stream id. Returns false if no such stream is sent.
func (o *SendOperations) CancelOutgoing(id uuid.UUID, cause error) bool {
	cancel, ok := o.outgoing.LoadAndDelete(id)
	if ok {
		cancel(cause)
	}
	return ok
}

// CancelAllOutgoing stops every outgoing stream
func (o *SendOperations) CancelAllOutgoing(cause error) {
	o.outgoing.Range(func(id uuid.UUID, cancel context.CancelCauseFunc) bool {
		o.outgoing.Delete(id)
		cancel(cause)
		return true
	})
}

// Outgoing returns the number of streams currently sent
func (o *SendOperations) Outgoing() int {
	return o.outgoing.Size()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sendChunked sends payload as frames of at most chunkSize bytes, the last one with end set.
// An empty payload is sent as a single empty end frame.
func (o *SendOperations) sendChunked(t common.PayloadType, id uuid.UUID, payload []byte) error {
	for {
		n := min(len(payload), o.chunkSize)
		end := n == len(payload)

		if err := o.sender.SendPayload(Header{PayloadType: t, ID: id, End: end}, payload[:n]); err != nil {
			return errors.Wrapf(err, "failed to send %s %s", t, id)
		}
		if end {
			return nil
		}
		payload = payload[n:]
	}
}

// sendStreams sends all streams one after the other
func (o *SendOperations) sendStreams(ctx context.Context, streams []*OutgoingStream) error {
	for _, s := range streams {
		if err := o.sendStream(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// sendStream sends the source of s as stream frames. Every read that returns data becomes
// one frame right away, so a live producer is streamed as it writes. The frame of the read
// that reports io.EOF carries the end flag, it is empty if that read returned no data.
// Sources that report their remaining length (bytes.Reader, strings.Reader, bytes.Buffer)
// get the end flag on the last data frame. If the source fails the stream is cancelled at the peer.
func (o *SendOperations) sendStream(ctx context.Context, s *OutgoingStream) error {
	ctx, cancel := context.WithCancelCause(ctx)
	o.outgoing.Store(s.ID, cancel)
	defer func() {
		o.outgoing.Delete(s.ID)
		cancel(nil)
	}()

	send := func(data []byte, end bool) error {
		if err := o.sender.SendPayload(Header{PayloadType: common.PayloadTypeStream, ID: s.ID, End: end}, data); err != nil {
			return errors.Wrapf(err, "failed to send stream %s", s.ID)
		}
		return nil
	}

	if s.Source == nil {
		return send(nil, true)
	}

	sized, _ := s.Source.(interface{ Len() int })
	buf := make([]byte, o.chunkSize)
	for {
		n, err := s.Source.Read(buf)
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			return o.abortStream(s.ID, err)
		}
		if n == 0 && !eof {
			continue
		}
		if !eof && sized != nil && sized.Len() == 0 {
			eof = true
		}

		if cause := context.Cause(ctx); cause != nil {
			return o.stopped(s.ID, cause)
		}
		if err := send(buf[:n], eof); err != nil {
			return err
		}
		if eof {
			return nil
		}
	}
}

// abortStream cancels a stream whose source failed
func (o *SendOperations) abortStream(id uuid.UUID, err error) error {
	if cerr := o.SendCancelStream(id); cerr != nil {
		Logger.Debugf("Failed to cancel stream %s: %v", id, cerr)
	}
	return errors.Wrapf(err, "failed to read source of stream %s", id)
}

// stopped handles a stream that was cancelled while it was sent
func (o *SendOperations) stopped(id uuid.UUID, cause error) error {
	if errors.Is(cause, common.ErrStreamCancelled) {
		// cancelled by the peer, it already dropped the stream
		return cause
	}
	// cancelled locally (context), the peer must be told
	if err := o.SendCancelStream(id); err != nil {
		Logger.Debugf("Failed to cancel stream %s: %v", id, err)
	}
	return errors.Wrapf(common.ErrStreamCancelled, "stream %s stopped: %v", id, cause)
}
