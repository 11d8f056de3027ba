package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mysensors/gwproxy/internal/config"
	"github.com/mysensors/gwproxy/internal/firmware"
	"github.com/mysensors/gwproxy/internal/logger"
	"github.com/mysensors/gwproxy/internal/proxy"
	"github.com/mysensors/gwproxy/internal/store"
	"github.com/mysensors/gwproxy/internal/transport"
	"go.uber.org/zap"
)

var Version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "./gwproxy.ini", "path to the INI config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gwproxy: %v\n", err)
		return 1
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Server.LogLevel
	logCfg.LogDir = cfg.Server.LogDir
	if err := logger.Init(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "gwproxy: logger init: %v\n", err)
		return 1
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("starting", zap.String("version", Version))

	fwStore, err := firmware.NewStore(cfg.Server.FirmwaresDirectory, log.With(zap.String("component", "firmware")))
	if err != nil {
		log.Error("firmware store init failed", zap.Error(err))
		return 1
	}
	defer fwStore.Close()

	hook, err := store.NewSQLiteStore(cfg.Server.DatabaseURL)
	if err != nil {
		log.Error("persistence store init failed", zap.Error(err))
		return 1
	}
	defer hook.Close()

	gw, err := buildTransport(cfg.Gateway, log.With(zap.String("endpoint", "gateway")))
	if err != nil {
		log.Error("gateway endpoint config invalid", zap.Error(err))
		return 1
	}
	defer gw.Close()

	ctrl, err := buildTransport(cfg.Controller, log.With(zap.String("endpoint", "controller")))
	if err != nil {
		log.Error("controller endpoint config invalid", zap.Error(err))
		return 1
	}
	defer ctrl.Close()

	p := proxy.New(gw, ctrl, fwStore, hook, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := p.Run(ctx); err != nil {
		log.Error("proxy stopped with error", zap.Error(err))
		return 2
	}

	log.Info("shutdown complete")
	return 0
}

// buildTransport constructs the concrete transport.Transport for one
// configured endpoint. Config.Validate has already rejected unknown
// types, so the default case here is unreachable in practice.
func buildTransport(ep config.Endpoint, log *zap.Logger) (transport.Transport, error) {
	switch ep.Type {
	case config.Serial:
		return &transport.Serial{Port: ep.Port, Baud: ep.BaudRate, Log: log}, nil
	case config.TCP:
		if ep.TCPMode == config.TCPModeServer {
			return &transport.TCPServer{Addr: ep.Address, Log: log}, nil
		}
		return &transport.TCPClient{Addr: ep.Address, Log: log}, nil
	case config.MQTT:
		return &transport.MQTT{Broker: ep.Broker, PublishTopicPrefix: ep.PublishTopicPrefix, Log: log}, nil
	default:
		return nil, fmt.Errorf("unsupported endpoint type %q", ep.Type)
	}
}
