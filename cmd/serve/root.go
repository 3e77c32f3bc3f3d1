package serve

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dStream/cmd/util"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/ValentinKolb/dStream/rpc/server"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	Logger = logger.GetLogger("cmd")

	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dStream echo server",
		Long:    `Start a dStream server that echoes every request. The configuration can be set via command line flags or environment variables. The format of the environment variables is DSTREAM_<flag> (e.g. DSTREAM_REQUEST_TIMEOUT=15s)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the server will listen (e.g. localhost:8080, /tmp/dstream.sock, ...)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("If set, prometheus metrics are served at http://<metrics-endpoint>/metrics"))

	cmdUtil.SetupProtocolFlags(ServeCmd)
	cmdUtil.SetupTransportFlags(ServeCmd)
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.LogFile = viper.GetString("log-file")
	serveCmdConfig.Protocol = cmdUtil.GetProtocolConfig()
	serveCmdConfig.Transport = cmdUtil.GetTransportConfig()

	if err := serveCmdConfig.Validate(); err != nil {
		return err
	}
	return cmdUtil.InitLogging()
}

// run starts the server and blocks until it receives SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	serv := server.NewServer(*serveCmdConfig, t, s, EchoHandler)
	if err := serv.Listen(); err != nil {
		return err
	}

	var metrics *http.Server
	if serveCmdConfig.MetricsEndpoint != "" {
		metrics = startMetrics(serveCmdConfig.MetricsEndpoint)
	}

	// stop on signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		Logger.Infof("Shutting down")
		if metrics != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = metrics.Shutdown(ctx)
			cancel()
		}
		_ = serv.Close()
	}()

	return serv.Serve()
}

// startMetrics serves the prometheus metrics of the process
func startMetrics(endpoint string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		protocol.WritePrometheus(w)
	})

	srv := &http.Server{Addr: endpoint, Handler: mux}
	go func() {
		Logger.Infof("Serving metrics on http://%s/metrics", endpoint)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			Logger.Errorf("Metrics server failed: %v", err)
		}
	}()
	return srv
}
