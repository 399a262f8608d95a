package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/nomis52/gosdm/buildinfo"
	"github.com/nomis52/gosdm/logging"
	"github.com/nomis52/gosdm/server"
	serverconfig "github.com/nomis52/gosdm/server/config"
)

type Args struct {
	ConfigPath  string
	ListenAddr  string
	ShowVersion bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	args := parseArgs()

	if args.ShowVersion {
		fmt.Println(buildinfo.Version())
		return nil
	}

	if args.ConfigPath == "" {
		return fmt.Errorf("config flag (-c or --config) is required")
	}

	// Load server configuration
	srvCfg, err := serverconfig.LoadConfig(args.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load server config: %w", err)
	}
	if args.ListenAddr != "" {
		srvCfg.Listener.Addr = args.ListenAddr
	}

	srv, err := server.New(srvCfg.DeliveryConfig,
		server.WithListenAddr(srvCfg.Listener.Addr),
		server.WithCron(srvCfg.CronSpec()),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	level, err := logging.ParseLevel(srvCfg.LogLevel)
	if err != nil {
		return err
	}
	srv.SetLogLevel(level)

	props := buildinfo.Get()
	srv.Logger().Info("gosdm server started",
		"version", props.Version,
		"git_commit", props.GitCommit,
		"config_path", args.ConfigPath,
	)

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		srv.Logger().Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	return srv.Run(ctx)
}

func parseArgs() Args {
	var args Args
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	fs.StringVarP(&args.ConfigPath, "config", "c", "", "Path to server config file")
	fs.StringVar(&args.ListenAddr, "listen", "", "Listen address, overrides listener.addr")
	fs.BoolVarP(&args.ShowVersion, "version", "v", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nGoSDM Server - goal lifecycles for pushed commits\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --config /etc/gosdm/server.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -c server.yaml --listen :9090\n", os.Args[0])
	}

	fs.Parse(os.Args[1:])
	return args
}
