package client

import (
	"context"
	"io"
	"math/rand"
	"time"

	"github.com/ValentinKolb/dStream/lib/sequencer"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/ValentinKolb/dStream/rpc/serializer"
	"github.com/ValentinKolb/dStream/rpc/transport"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var (
	Logger = logger.GetLogger("client")
)

// initial backoff between two attempts, doubled for every retry
const initialBackoff = 50 * time.Millisecond

// Client is the connecting peer of a dStream connection. It can send requests
// and, if a handler is given, serve the requests of the server.
type Client struct {
	config  common.ClientConfig
	adapter *protocol.Adapter
}

// NewClient connects the transport to the configured endpoint and starts the protocol.
// handler serves requests sent by the server and may be nil.
func NewClient(
	config common.ClientConfig,
	t transport.ITransport,
	s serializer.IPayloadSerializer,
	handler protocol.RequestHandler,
) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid client config")
	}

	// Connect the transport
	if err := t.Connect(config.Endpoint); err != nil {
		return nil, err
	}

	c := &Client{
		config:  config,
		adapter: protocol.NewAdapter(t, s, handler, config.Protocol),
	}
	c.adapter.Start()

	Logger.Infof("Connected to %s", t.RemoteAddr())
	return c, nil
}

// SendRequest sends req and waits for the response.
//
// A request that timed out is sent again (with a new id) up to RetryCount times,
// if all of its stream sources can be rewound (io.Seeker). Attempts are separated by
// an exponential backoff with a small random jitter.
func (c *Client) SendRequest(ctx context.Context, req *protocol.StreamingRequest) (*protocol.ReceiveResponse, error) {
	offsets, retryable := seekOffsets(req)
	attempts := 1
	if retryable {
		attempts += c.config.RetryCount
	}

	backoff := initialBackoff
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := time.Duration(float64(backoff) * (0.9 + 0.2*rand.Float64()))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "retry aborted")
			}
			backoff *= 2

			if err := rewind(req, offsets); err != nil {
				return nil, errors.Wrapf(lastErr, "can not retry (%v)", err)
			}
		}

		resp, err := c.adapter.Send(ctx, uuid.New(), req, 0)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, common.ErrRequestTimeout) {
			return nil, err
		}

		lastErr = err
		Logger.Debugf("Request attempt %d/%d failed: %v", i+1, attempts, err)
	}

	if attempts == 1 {
		return nil, lastErr
	}
	return nil, errors.Wrapf(lastErr, "failed to send request after %d attempts", attempts)
}

// SendRequestAsync sends req without retries and returns a future for the response
func (c *Client) SendRequestAsync(ctx context.Context, req *protocol.StreamingRequest) *sequencer.Future[*protocol.ReceiveResponse] {
	return c.adapter.SendRequestAsync(ctx, req)
}

// Adapter returns the protocol adapter of the connection
func (c *Client) Adapter() *protocol.Adapter {
	return c.adapter
}

// Done returns a channel that is closed once the connection is gone
func (c *Client) Done() <-chan struct{} {
	return c.adapter.Done()
}

// Close closes the connection, pending requests fail with common.ErrTransportClosed
func (c *Client) Close() error {
	return c.adapter.Close()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// seekOffsets returns the current offset of every stream source.
// retryable is false if a source can not be rewound.
func seekOffsets(req *protocol.StreamingRequest) (offsets []int64, retryable bool) {
	offsets = make([]int64, len(req.Streams))
	for i, s := range req.Streams {
		if s.Source == nil {
			continue
		}
		seeker, ok := s.Source.(io.Seeker)
		if !ok {
			return nil, false
		}
		off, err := seeker.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, false
		}
		offsets[i] = off
	}
	return offsets, true
}

// rewind resets all stream sources to their offsets. The streams get new ids,
// the peer has dropped the old ones.
func rewind(req *protocol.StreamingRequest, offsets []int64) error {
	for i, s := range req.Streams {
		s.ID = uuid.Nil
		if s.Source == nil {
			continue
		}
		if _, err := s.Source.(io.Seeker).Seek(offsets[i], io.SeekStart); err != nil {
			return errors.Wrapf(err, "failed to rewind stream %d", i)
		}
	}
	return nil
}
