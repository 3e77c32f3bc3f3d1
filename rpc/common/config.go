package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Protocol configuration struct
// --------------------------------------------------------------------------

const (
	// DefaultMaxChunkSize is the default upper bound for the payload of a single outgoing frame
	DefaultMaxChunkSize = 4096
	// MaxPayloadLength is the largest payload length a peer accepts in a single frame
	MaxPayloadLength = 1 << 20
	// MaxDescriptorLength is the largest request or response descriptor a peer assembles
	MaxDescriptorLength = MaxPayloadLength
)

// ProtocolConfig holds the parameters of a single protocol connection.
// Both peers of a connection may use different values.
type ProtocolConfig struct {
	// MaxChunkSize bounds the payload size of every outgoing frame
	MaxChunkSize int
	// RequestTimeout is the default time to wait for a response
	RequestTimeout time.Duration
	// IdleStreamTimeout is the time after which a payload without new frames is abandoned
	IdleStreamTimeout time.Duration
	// MaxBufferedBytes caps the bytes buffered for incoming content streams that are not read yet
	MaxBufferedBytes int64
	// BackpressureTimeout is the time the receiver waits for buffer space before failing a stream
	BackpressureTimeout time.Duration
}

// DefaultProtocolConfig returns the protocol configuration used when nothing else is configured
func DefaultProtocolConfig() ProtocolConfig {
	return ProtocolConfig{
		MaxChunkSize:        DefaultMaxChunkSize,
		RequestTimeout:      30 * time.Second,
		IdleStreamTimeout:   60 * time.Second,
		MaxBufferedBytes:    64 << 20,
		BackpressureTimeout: 30 * time.Second,
	}
}

// Validate checks the protocol configuration for invalid values
func (c *ProtocolConfig) Validate() error {
	if c.MaxChunkSize <= 0 || c.MaxChunkSize > MaxPayloadLength {
		return errors.Errorf("max chunk size must be in (0, %d], got %d", MaxPayloadLength, c.MaxChunkSize)
	}
	if c.RequestTimeout <= 0 {
		return errors.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.IdleStreamTimeout <= 0 {
		return errors.Errorf("idle stream timeout must be positive, got %s", c.IdleStreamTimeout)
	}
	if c.MaxBufferedBytes < int64(c.MaxChunkSize) {
		return errors.Errorf("max buffered bytes (%d) must be at least the max chunk size (%d)", c.MaxBufferedBytes, c.MaxChunkSize)
	}
	if c.BackpressureTimeout <= 0 {
		return errors.Errorf("backpressure timeout must be positive, got %s", c.BackpressureTimeout)
	}
	return nil
}

// --------------------------------------------------------------------------
// Transport configuration struct
// --------------------------------------------------------------------------

// TransportConfig holds the socket options of a transport. Zero values keep the OS defaults.
type TransportConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// DefaultTransportConfig returns the default socket options
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ReadBufferSize:  512 * 1024,
		WriteBufferSize: 512 * 1024,
		TCPNoDelay:      true,
		TCPKeepAliveSec: 30,
		TCPLingerSec:    0,
	}
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a dStream server.
type ServerConfig struct {
	// Endpoint to listen on (host:port, socket path or ws url depending on the transport)
	Endpoint string

	Protocol  ProtocolConfig
	Transport TransportConfig

	// MetricsEndpoint serves prometheus metrics if not empty
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
	LogFile  string
}

// Validate checks the server configuration for invalid values
func (c *ServerConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint must not be empty")
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return errors.Wrap(c.Protocol.Validate(), "invalid protocol config")
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Server settings
	addSection("Server")
	addField("Endpoint", c.Endpoint)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	writeProtocol(&c.Protocol, addSection, addField)
	writeTransport(&c.Transport, addSection, addField)

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)
	if c.LogFile != "" {
		addField("Log File", c.LogFile)
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all configuration parameters of a dStream client
type ClientConfig struct {
	Endpoint   string
	RetryCount int

	Protocol  ProtocolConfig
	Transport TransportConfig
}

// Validate checks the client configuration for invalid values
func (c *ClientConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint must not be empty")
	}
	if c.RetryCount < 0 {
		return errors.Errorf("retry count must not be negative, got %d", c.RetryCount)
	}
	return errors.Wrap(c.Protocol.Validate(), "invalid protocol config")
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Endpoint", c.Endpoint)
	addField("Retry Count", strconv.Itoa(c.RetryCount))

	writeProtocol(&c.Protocol, addSection, addField)
	writeTransport(&c.Transport, addSection, addField)

	return sb.String()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func writeProtocol(c *ProtocolConfig, addSection func(string), addField func(string, string)) {
	addSection("Protocol")
	addField("Max Chunk Size", fmt.Sprintf("%d bytes", c.MaxChunkSize))
	addField("Request Timeout", c.RequestTimeout.String())
	addField("Idle Stream Timeout", c.IdleStreamTimeout.String())
	addField("Max Buffered Bytes", fmt.Sprintf("%d bytes", c.MaxBufferedBytes))
	addField("Backpressure Timeout", c.BackpressureTimeout.String())
}

func writeTransport(c *TransportConfig, addSection func(string), addField func(string, string)) {
	addSection("Transport")
	addField("Read Buffer Size", fmt.Sprintf("%d bytes", c.ReadBufferSize))
	addField("Write Buffer Size", fmt.Sprintf("%d bytes", c.WriteBufferSize))
	addField("TCP No Delay", strconv.FormatBool(c.TCPNoDelay))
	addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.TCPLingerSec))
}
