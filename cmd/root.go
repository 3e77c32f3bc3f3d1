package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dStream/cmd/send"
	"github.com/ValentinKolb/dStream/cmd/serve"
	"github.com/ValentinKolb/dStream/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dstream",
		Short: "streaming request/response protocol",
		Long: fmt.Sprintf(`dStream (v%s)

A streaming transport protocol written in Go. Requests, responses and
content streams of any size are multiplexed over a single connection
(tcp, unix domain socket or websocket), both peers can send requests.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dStream",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dStream v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(send.SendCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use for request and response descriptors (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix, ws)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
	key = "log-file"
	RootCmd.PersistentFlags().String(key, "", util.WrapString("Write logs to this file instead of stdout, the file is rotated at 100 MB"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
