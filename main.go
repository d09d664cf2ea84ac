package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"PChatCore/global/config"
	"PChatCore/logger"
	"PChatCore/service/rpc"
)

func main() {
	var (
		confPath = flag.String("config", config.DefaultPath, "yaml config file; PCHAT_* env vars override it")
		probe    = flag.Bool("healthcheck", false, "probe the local grpc health endpoint and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*confPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if *probe {
		os.Exit(healthcheck(cfg))
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	config.Global = cfg
	config.ConfigIds(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	if err := a.run(ctx); err != nil {
		logger.Error("exit", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("bye")
}

// healthcheck 容器探活：本机 grpc 地址
func healthcheck(cfg config.AppConfig) int {
	if cfg.Grpc.Addr == "" {
		fmt.Fprintln(os.Stderr, "grpc.addr is empty")
		return 1
	}
	host, port, err := net.SplitHostPort(cfg.Grpc.Addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	if err := rpc.Check(context.Background(), net.JoinHostPort(host, port), rpc.ServiceChat); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
