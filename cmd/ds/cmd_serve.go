package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/daviddao/docsync/pkg/config"
	"github.com/daviddao/docsync/pkg/server"
)

func cmdServe(args []string) int {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfgPath := flags.String("config", envOr("DOCSYNC_CONFIG", ""), "TOML config file")
	listen := flags.String("listen", "", "listen address override")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: serve: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := server.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ds: serve: %v\n", err)
		return 1
	}
	if err := s.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ds: serve: %v\n", err)
		return 1
	}
	return 0
}
