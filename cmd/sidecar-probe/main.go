// Command sidecar-probe connects to a host the way an editor would, prints
// the negotiated capabilities and optionally runs one request.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gaspardpetit/sidecar/internal/bridge"
	"github.com/gaspardpetit/sidecar/internal/component"
	"github.com/gaspardpetit/sidecar/internal/config"
	"github.com/gaspardpetit/sidecar/internal/logx"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	op := flag.String("op", "", "operation to request after the handshake")
	payload := flag.String("payload", "", "JSON payload for -op")
	var cfg config.ComponentConfig
	cfg.SetDefaults()
	cfg.ApplyEnv()
	for i := 1; i < len(os.Args); i++ {
		a := os.Args[i]
		if (a == "--config" || a == "-config") && i+1 < len(os.Args) {
			cfg.ConfigFile = os.Args[i+1]
			break
		}
		if strings.HasPrefix(a, "--config=") || strings.HasPrefix(a, "-config=") {
			cfg.ConfigFile = a[strings.Index(a, "=")+1:]
			break
		}
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	cfg.ApplyEnv()
	cfg.BindFlagsFromCurrent(nil)
	flag.Parse()
	if *showVersion {
		fmt.Printf("sidecar-probe version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	logx.Configure(cfg.LogLevel)
	os.Exit(run(cfg, *op, *payload))
}

func run(cfg config.ComponentConfig, op, payload string) int {
	var body json.RawMessage
	if payload != "" {
		if !json.Valid([]byte(payload)) {
			logx.Log.Error().Str("payload", payload).Msg("payload is not valid JSON")
			return 1
		}
		body = json.RawMessage(payload)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := component.Dial(ctx, cfg, component.Options{})
	if err != nil {
		logx.Log.Error().Err(err).Str("url", cfg.URL).Msg("dial host")
		return 1
	}
	defer c.Close()

	caps := c.Start(ctx)
	if caps == nil {
		logx.Log.Error().Str("url", cfg.URL).Msg("host did not answer the handshake")
		return 2
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(caps)

	if op == "" {
		return 0
	}
	res, err := c.Bridge().Request(ctx, op, body, cfg.RequestTimeout)
	if err != nil {
		var re *bridge.RequestError
		if errors.As(err, &re) && len(re.Payload) > 0 {
			_ = enc.Encode(re.Payload)
		}
		logx.Log.Error().Err(err).Str("op", op).Msg("request failed")
		return 1
	}
	if len(res) == 0 {
		res = json.RawMessage("null")
	}
	_ = enc.Encode(res)
	return 0
}
