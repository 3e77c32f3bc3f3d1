package util

import (
	"strings"
	"time"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/serializer"
	"github.com/ValentinKolb/dStream/rpc/transport"
	"github.com/ValentinKolb/dStream/rpc/transport/tcp"
	"github.com/ValentinKolb/dStream/rpc/transport/unix"
	"github.com/ValentinKolb/dStream/rpc/transport/ws"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Flags
// --------------------------------------------------------------------------

// SetupProtocolFlags adds the protocol flags shared by server and client commands
func SetupProtocolFlags(cmd *cobra.Command) {
	defaults := common.DefaultProtocolConfig()

	key := "max-chunk-size"
	cmd.PersistentFlags().Int(key, defaults.MaxChunkSize, WrapString("Largest payload of a single outgoing frame in bytes"))

	key = "request-timeout"
	cmd.PersistentFlags().Duration(key, defaults.RequestTimeout, WrapString("How long a request waits for its response"))

	key = "idle-stream-timeout"
	cmd.PersistentFlags().Duration(key, defaults.IdleStreamTimeout, WrapString("Partially received payloads without activity for this long are dropped"))

	key = "max-buffered"
	cmd.PersistentFlags().Int64(key, defaults.MaxBufferedBytes/1024, WrapString("Upper bound for the unread stream bytes of a connection (in KB)"))

	key = "backpressure-timeout"
	cmd.PersistentFlags().Duration(key, defaults.BackpressureTimeout, WrapString("How long the receiver waits for a reader to free buffer space before the stream fails"))
}

// SetupTransportFlags adds the socket flags shared by server and client commands
func SetupTransportFlags(cmd *cobra.Command) {
	defaults := common.DefaultTransportConfig()

	key := "transport-write-buffer"
	cmd.PersistentFlags().Int(key, defaults.WriteBufferSize/1024, WrapString("The size of the write buffer for the transport (in KB)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, defaults.ReadBufferSize/1024, WrapString("The size of the read buffer for the transport (in KB)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, defaults.TCPNoDelay, WrapString("Whether to enable TCP_NODELAY for the transport (only for tcp)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, defaults.TCPKeepAliveSec, WrapString("The keepalive interval for the transport (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, defaults.TCPLingerSec, WrapString("The linger time for the transport (in seconds, only for tcp)"))
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// InitConfig loads .env files and enables the DSTREAM_ environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dstream")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// InitLogging configures the loggers from the log-level and log-file flags
func InitLogging() error {
	return common.InitLoggers(viper.GetString("log-level"), viper.GetString("log-file"))
}

// GetProtocolConfig reads the protocol configuration from viper
func GetProtocolConfig() common.ProtocolConfig {
	return common.ProtocolConfig{
		MaxChunkSize:        viper.GetInt("max-chunk-size"),
		RequestTimeout:      durationOr(viper.GetDuration("request-timeout"), common.DefaultProtocolConfig().RequestTimeout),
		IdleStreamTimeout:   durationOr(viper.GetDuration("idle-stream-timeout"), common.DefaultProtocolConfig().IdleStreamTimeout),
		MaxBufferedBytes:    viper.GetInt64("max-buffered") * 1024,
		BackpressureTimeout: durationOr(viper.GetDuration("backpressure-timeout"), common.DefaultProtocolConfig().BackpressureTimeout),
	}
}

// GetTransportConfig reads the socket configuration from viper
func GetTransportConfig() common.TransportConfig {
	return common.TransportConfig{
		WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
		TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
		TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
	}
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IPayloadSerializer, error) {
	return serializer.New(viper.GetString("serializer"))
}

// GetClientTransport creates a client transport based on configuration
func GetClientTransport(config common.TransportConfig) (transport.ITransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPClientTransport(config), nil
	case "unix":
		return unix.NewUnixClientTransport(config), nil
	case "ws":
		return ws.NewWSClientTransport(config), nil
	default:
		return nil, errors.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport creates a server transport based on configuration
func GetServerTransport() (transport.IServerTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPServerTransport(), nil
	case "unix":
		return unix.NewUnixServerTransport(), nil
	case "ws":
		return ws.NewWSServerTransport(), nil
	default:
		return nil, errors.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
