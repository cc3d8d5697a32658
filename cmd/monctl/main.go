package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/monproto/internal/config"
	"github.com/danmuck/monproto/internal/logging"
)

func main() {
	path := flag.String("config", "", "monctl TOML config (defaults apply when empty)")
	mode := flag.String("mode", "", "connect|accept")
	address := flag.String("address", "", "peer address: host:port, unix:/path or ws:// URL")
	transportKind := flag.String("transport", "", "jsonl|framed|ws")
	attempts := flag.Int("attempts", -1, "connect attempts, 0 retries forever")
	echo := flag.Bool("echo", false, "send every received message back to the peer")
	adminAddr := flag.String("admin", "", "admin HTTP listen address")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := config.Default()
	if *path != "" {
		loaded, err := config.Load(*path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "monctl: %v\n", err)
			os.Exit(2)
		}
		cfg = loaded
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = *mode
		case "address":
			cfg.Address = *address
		case "transport":
			cfg.Transport = *transportKind
		case "attempts":
			cfg.ConnectAttempts = *attempts
		case "echo":
			cfg.Echo = *echo
		case "admin":
			cfg.Admin.Addr = *adminAddr
		}
	})
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "monctl: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, os.Stdin, os.Stdout)
	if err := a.run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "monctl: %v\n", err)
		os.Exit(1)
	}
}
