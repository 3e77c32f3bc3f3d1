package util

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("line exceeds %d characters: %q", Wrap, line)
		}
	}

	if got := WrapString("  short   text "); got != "short text" {
		t.Errorf("expected %q, got %q", "short text", got)
	}
}

func TestConfigFromFlags(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cmd := &cobra.Command{Use: "test"}
	SetupProtocolFlags(cmd)
	SetupTransportFlags(cmd)
	if err := cmd.PersistentFlags().Parse([]string{"--max-chunk-size=1024", "--request-timeout=5s", "--transport-read-buffer=64"}); err != nil {
		t.Fatal(err)
	}
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		t.Fatal(err)
	}

	p := GetProtocolConfig()
	if p.MaxChunkSize != 1024 || p.RequestTimeout != 5*time.Second {
		t.Errorf("unexpected protocol config: %+v", p)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("config from defaults should be valid: %v", err)
	}

	tc := GetTransportConfig()
	if tc.ReadBufferSize != 64*1024 || !tc.TCPNoDelay {
		t.Errorf("unexpected transport config: %+v", tc)
	}
}

func TestInvalidTransport(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("transport", "carrier-pigeon")
	if _, err := GetServerTransport(); err == nil {
		t.Error("expected error for unknown transport")
	}
	if _, err := GetClientTransport(GetTransportConfig()); err == nil {
		t.Error("expected error for unknown transport")
	}
}
