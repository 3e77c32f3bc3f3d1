package serve

import (
	"context"
	"net/http"

	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/pkg/errors"
)

// EchoContentType is the content type of the X-Echo stream
const EchoContentType = "text/plain; x-echo"

// EchoHandler answers every request with an X-Echo stream ("VERB PATH") followed by
// copies of all request streams. Request streams are read completely before the
// response is sent, they are discarded once the handler returns.
var EchoHandler = protocol.RequestHandlerFunc(func(ctx context.Context, req *protocol.ReceiveRequest) (*protocol.StreamingResponse, error) {
	resp := protocol.NewResponse(http.StatusOK)
	resp.SetBody(EchoContentType, []byte(req.Verb+" "+req.Path))

	for _, s := range req.Streams {
		b, err := s.ReadAll(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read stream %s", s.ID)
		}
		resp.SetBody(s.ContentType, b)
	}

	Logger.Debugf("Echo %s %s with %d streams", req.Verb, req.Path, len(req.Streams))
	return resp, nil
})
