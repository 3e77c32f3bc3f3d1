package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/pkg/errors"
	gometrics "github.com/rcrowley/go-metrics"
)

// --------------------------------------------------------------------------
// Connection Statistics
// --------------------------------------------------------------------------

// ConnStats holds the statistics of a single connection in a go-metrics registry.
// Only counters and histograms are used, they need no background goroutine.
type ConnStats struct {
	registry gometrics.Registry

	framesSent     gometrics.Counter
	framesReceived gometrics.Counter
	bytesSent      gometrics.Counter
	bytesReceived  gometrics.Counter

	requestsSent     gometrics.Counter
	requestsHandled  gometrics.Counter
	timeouts         gometrics.Counter
	streamsCancelled gometrics.Counter

	roundTrip gometrics.Histogram // microseconds
}

// StatsSnapshot is a point in time copy of ConnStats
type StatsSnapshot struct {
	FramesSent       int64
	FramesReceived   int64
	BytesSent        int64
	BytesReceived    int64
	RequestsSent     int64
	RequestsHandled  int64
	Timeouts         int64
	StreamsCancelled int64

	RoundTripCount int64
	RoundTripMean  time.Duration
	RoundTripP50   time.Duration
	RoundTripP99   time.Duration
	RoundTripMax   time.Duration
}

func newConnStats() *ConnStats {
	r := gometrics.NewRegistry()
	return &ConnStats{
		registry:         r,
		framesSent:       gometrics.NewRegisteredCounter("frames.sent", r),
		framesReceived:   gometrics.NewRegisteredCounter("frames.received", r),
		bytesSent:        gometrics.NewRegisteredCounter("bytes.sent", r),
		bytesReceived:    gometrics.NewRegisteredCounter("bytes.received", r),
		requestsSent:     gometrics.NewRegisteredCounter("requests.sent", r),
		requestsHandled:  gometrics.NewRegisteredCounter("requests.handled", r),
		timeouts:         gometrics.NewRegisteredCounter("requests.timeouts", r),
		streamsCancelled: gometrics.NewRegisteredCounter("streams.cancelled", r),
		roundTrip:        gometrics.NewRegisteredHistogram("requests.roundtrip", r, gometrics.NewUniformSample(1028)),
	}
}

// Registry returns the underlying go-metrics registry
func (s *ConnStats) Registry() gometrics.Registry {
	return s.registry
}

// Snapshot returns the current values of all statistics
func (s *ConnStats) Snapshot() StatsSnapshot {
	rt := s.roundTrip.Snapshot()
	micros := func(v float64) time.Duration {
		return time.Duration(v) * time.Microsecond
	}
	return StatsSnapshot{
		FramesSent:       s.framesSent.Count(),
		FramesReceived:   s.framesReceived.Count(),
		BytesSent:        s.bytesSent.Count(),
		BytesReceived:    s.bytesReceived.Count(),
		RequestsSent:     s.requestsSent.Count(),
		RequestsHandled:  s.requestsHandled.Count(),
		Timeouts:         s.timeouts.Count(),
		StreamsCancelled: s.streamsCancelled.Count(),
		RoundTripCount:   rt.Count(),
		RoundTripMean:    micros(rt.Mean()),
		RoundTripP50:     micros(rt.Percentile(0.5)),
		RoundTripP99:     micros(rt.Percentile(0.99)),
		RoundTripMax:     micros(float64(rt.Max())),
	}
}

// String returns a formatted string representation of the snapshot
func (s StatsSnapshot) String() string {
	var sb strings.Builder

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	sb.WriteString("CONNECTION STATS\n")
	addField("Frames Sent", fmt.Sprintf("%d (%d bytes)", s.FramesSent, s.BytesSent))
	addField("Frames Received", fmt.Sprintf("%d (%d bytes)", s.FramesReceived, s.BytesReceived))
	addField("Requests Sent", fmt.Sprintf("%d", s.RequestsSent))
	addField("Requests Handled", fmt.Sprintf("%d", s.RequestsHandled))
	addField("Timeouts", fmt.Sprintf("%d", s.Timeouts))
	addField("Streams Cancelled", fmt.Sprintf("%d", s.StreamsCancelled))
	if s.RoundTripCount > 0 {
		addField("Round Trip (mean)", s.RoundTripMean.String())
		addField("Round Trip (p50)", s.RoundTripP50.String())
		addField("Round Trip (p99)", s.RoundTripP99.String())
		addField("Round Trip (max)", s.RoundTripMax.String())
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// Recording
// --------------------------------------------------------------------------

func (s *ConnStats) frameSent(h Header) {
	s.framesSent.Inc(1)
	s.bytesSent.Inc(int64(HeaderSize) + int64(h.PayloadLength))
	recordFrame(framesSentTotal, bytesSentTotal, h)
}

func (s *ConnStats) frameReceived(h Header) {
	s.framesReceived.Inc(1)
	s.bytesReceived.Inc(int64(HeaderSize) + int64(h.PayloadLength))
	recordFrame(framesReceivedTotal, bytesReceivedTotal, h)
}

func (s *ConnStats) requestSent() {
	s.requestsSent.Inc(1)
	requestsSentTotal.Inc()
}

func (s *ConnStats) requestHandled(status int) {
	s.requestsHandled.Inc(1)
	requestsHandledTotal(status).Inc()
}

func (s *ConnStats) requestDone(start time.Time, err error) {
	s.roundTrip.Update(time.Since(start).Microseconds())
	roundTripSeconds.UpdateDuration(start)
	if errors.Is(err, common.ErrRequestTimeout) {
		s.timeouts.Inc(1)
		requestTimeoutsTotal.Inc()
	}
}

func (s *ConnStats) streamCancelled() {
	s.streamsCancelled.Inc(1)
	streamsCancelledTotal.Inc()
}
