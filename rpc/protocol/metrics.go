package protocol

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/ValentinKolb/dStream/rpc/common"
	vmetrics "github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Process Metrics (prometheus)
// --------------------------------------------------------------------------

var (
	bytesSentTotal        = vmetrics.NewCounter("dstream_bytes_sent_total")
	bytesReceivedTotal    = vmetrics.NewCounter("dstream_bytes_received_total")
	requestsSentTotal     = vmetrics.NewCounter("dstream_requests_sent_total")
	requestTimeoutsTotal  = vmetrics.NewCounter("dstream_request_timeouts_total")
	streamsCancelledTotal = vmetrics.NewCounter("dstream_streams_cancelled_total")
	roundTripSeconds      = vmetrics.NewHistogram("dstream_request_duration_seconds")

	// gauges summed over all connections of the process
	openConnections atomic.Int64
	pendingRequests atomic.Int64
	bufferedBytes   atomic.Int64
)

func init() {
	vmetrics.NewGauge("dstream_connections", func() float64 {
		return float64(openConnections.Load())
	})
	vmetrics.NewGauge("dstream_pending_requests", func() float64 {
		return float64(pendingRequests.Load())
	})
	vmetrics.NewGauge("dstream_buffered_stream_bytes", func() float64 {
		return float64(bufferedBytes.Load())
	})
}

// framesSentTotal returns the counter of sent frames of a payload type
func framesSentTotal(t common.PayloadType) *vmetrics.Counter {
	return vmetrics.GetOrCreateCounter(fmt.Sprintf(`dstream_frames_sent_total{type=%q}`, t.String()))
}

// framesReceivedTotal returns the counter of received frames of a payload type
func framesReceivedTotal(t common.PayloadType) *vmetrics.Counter {
	return vmetrics.GetOrCreateCounter(fmt.Sprintf(`dstream_frames_received_total{type=%q}`, t.String()))
}

// requestsHandledTotal returns the counter of handled requests with the given status code
func requestsHandledTotal(status int) *vmetrics.Counter {
	return vmetrics.GetOrCreateCounter(fmt.Sprintf(`dstream_requests_handled_total{status="%d"}`, status))
}

func recordFrame(frames func(common.PayloadType) *vmetrics.Counter, bytes *vmetrics.Counter, h Header) {
	frames(h.PayloadType).Inc()
	bytes.Add(HeaderSize + int(h.PayloadLength))
}

// WritePrometheus writes all dStream metrics (and the process metrics) in prometheus text format
func WritePrometheus(w io.Writer) {
	vmetrics.WritePrometheus(w, true)
}
