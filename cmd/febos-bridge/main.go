package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gofebos/febos-bridge/internal/config"
	"github.com/gofebos/febos-bridge/internal/coordinator"
	"github.com/gofebos/febos-bridge/internal/febos"
	"github.com/gofebos/febos-bridge/internal/model"
	"github.com/gofebos/febos-bridge/internal/mqtt"
	"github.com/gofebos/febos-bridge/internal/rate"
	"github.com/gofebos/febos-bridge/internal/registry"
	"github.com/gofebos/febos-bridge/internal/server"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config file")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := model.NewStore()
	reg := registry.New(store, febos.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: time.Duration(cfg.API.TimeoutSeconds) * time.Second,
	}, log)
	defer reg.Close()

	var bridge *mqtt.Bridge
	if cfg.MQTT != nil {
		bridge, err = mqtt.NewBridge(mqtt.Config{
			Broker:          cfg.MQTT.Broker,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
		}, log)
		if err != nil {
			log.Error("mqtt connect", "error", err)
			os.Exit(1)
		}
		defer bridge.Close()
	}

	for _, account := range cfg.Accounts {
		acc, err := reg.Setup(ctx, febos.Credentials{
			Username: account.Username,
			Password: account.Password,
		}, coordinator.Config{
			Interval:         time.Duration(account.PollIntervalSeconds) * time.Second,
			FailureThreshold: account.FailureThreshold,
		})
		if err != nil {
			log.Error("account setup", "account", account.Username, "error", err)
			os.Exit(1)
		}
		if bridge != nil {
			bridge.AttachAccount(acc)
		}
		log.Info("account started", "account", acc.ID)
	}

	httpServer := server.NewHTTPServer(cfg.HTTPAddr, server.NewMux(reg, metricsRegistry()))
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
}

func metricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range febos.MetricsCollectors() {
		registry.MustRegister(c)
	}
	for _, c := range rate.MetricsCollectors() {
		registry.MustRegister(c)
	}
	for _, c := range coordinator.MetricsCollectors() {
		registry.MustRegister(c)
	}
	for _, c := range mqtt.MetricsCollectors() {
		registry.MustRegister(c)
	}
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "febos_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))
	return registry
}
