package send

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	cmdUtil "github.com/ValentinKolb/dStream/cmd/util"
	"github.com/ValentinKolb/dStream/lib/sequencer"
	"github.com/ValentinKolb/dStream/rpc/client"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	c *client.Client

	// SendCmd sends requests to a dStream server
	SendCmd = &cobra.Command{
		Use:   "send [verb] [path]",
		Short: "Send requests to a dStream server",
		Long: `Send one or more concurrent requests to a dStream server and print the responses.
The responses are printed in the order the requests were submitted. The configuration
can also be set via environment variables of the format DSTREAM_<flag> (e.g. DSTREAM_ENDPOINT=localhost:9000)`,
		Args:              cobra.ExactArgs(2),
		PersistentPreRunE: setupClient,
		RunE:              run,
		PersistentPostRun: func(*cobra.Command, []string) {
			if c != nil {
				_ = c.Close()
			}
		},
	}
)

func init() {
	key := "endpoint"
	SendCmd.PersistentFlags().String(key, "localhost:8080", cmdUtil.WrapString("The address of the dStream server (e.g. localhost:8080, /tmp/dstream.sock, ...)"))

	key = "retries"
	SendCmd.PersistentFlags().Int(key, 3, cmdUtil.WrapString("How many times a timed out request is sent again (only for requests whose body can be rewound)"))

	key = "body"
	SendCmd.Flags().String(key, "", cmdUtil.WrapString("Send this text as the body stream of every request"))

	key = "body-file"
	SendCmd.Flags().String(key, "", cmdUtil.WrapString("Send the content of this file as the body stream of every request"))

	key = "content-type"
	SendCmd.Flags().String(key, "text/plain; charset=utf-8", cmdUtil.WrapString("Content type of the body stream"))

	key = "count"
	SendCmd.Flags().Int(key, 1, cmdUtil.WrapString("Number of concurrent requests"))

	key = "stats"
	SendCmd.Flags().Bool(key, false, cmdUtil.WrapString("Print the statistics of the connection after all responses arrived"))

	cmdUtil.SetupProtocolFlags(SendCmd)
	cmdUtil.SetupTransportFlags(SendCmd)
}

// setupClient connects the client
func setupClient(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := cmdUtil.InitLogging(); err != nil {
		return err
	}

	config := common.ClientConfig{
		Endpoint:   viper.GetString("endpoint"),
		RetryCount: viper.GetInt("retries"),
		Protocol:   cmdUtil.GetProtocolConfig(),
		Transport:  cmdUtil.GetTransportConfig(),
	}

	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetClientTransport(config.Transport)
	if err != nil {
		return err
	}

	c, err = client.NewClient(config, t, s, nil)
	return err
}

// run sends the requests and prints the responses in submission order
func run(_ *cobra.Command, args []string) error {
	verb, path := strings.ToUpper(args[0]), args[1]

	body, err := readBody()
	if err != nil {
		return err
	}

	count := viper.GetInt("count")
	if count < 1 {
		return errors.Errorf("count must be at least 1, got %d", count)
	}

	ctx := context.Background()
	seq := sequencer.New[string]()
	results := make([]*sequencer.Future[string], count)
	for i := 0; i < count; i++ {
		req := protocol.NewRequest(verb, path)
		if body != nil {
			req.SetBody(viper.GetString("content-type"), body)
		}
		results[i] = seq.Go(func() (string, error) {
			return roundTrip(ctx, req)
		})
	}

	failed := 0
	for i, f := range results {
		out, err := f.Result()
		if err != nil {
			failed++
			fmt.Printf("#%d error: %v\n", i+1, err)
			continue
		}
		fmt.Printf("#%d %s", i+1, out)
	}

	if viper.GetBool("stats") {
		fmt.Print(c.Adapter().Stats().Snapshot().String())
	}

	if failed > 0 {
		return errors.Errorf("%d of %d requests failed", failed, count)
	}
	return nil
}

// roundTrip sends one request and formats its response
func roundTrip(ctx context.Context, req *protocol.StreamingRequest) (string, error) {
	resp, err := c.SendRequest(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Close()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d (%d streams)\n", resp.StatusCode, len(resp.Streams)))

	bodies, err := protocol.ReadAllStreams(ctx, resp.Streams)
	if err != nil {
		return "", err
	}
	for i, b := range bodies {
		sb.WriteString(fmt.Sprintf("  [%s] %s\n", resp.Streams[i].ContentType, printable(b)))
	}
	return sb.String(), nil
}

// readBody returns the request body from the body or body-file flag, nil if none is set
func readBody() ([]byte, error) {
	if file := viper.GetString("body-file"); file != "" {
		if file == "-" {
			return io.ReadAll(os.Stdin)
		}
		b, err := os.ReadFile(file)
		return b, errors.Wrap(err, "failed to read body file")
	}
	if body := viper.GetString("body"); body != "" {
		return []byte(body), nil
	}
	return nil, nil
}

// printable returns b as text, or its size if it is binary or long
func printable(b []byte) string {
	const maxPrint = 256
	if len(b) > maxPrint || bytes.ContainsFunc(b, func(r rune) bool { return r < 0x20 && r != '\n' && r != '\t' }) {
		return fmt.Sprintf("<%d bytes>", len(b))
	}
	return string(b)
}
