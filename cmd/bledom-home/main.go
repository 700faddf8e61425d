package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"bledom-go-home/internal/ble"
	"bledom-go-home/internal/controller"
	"bledom-go-home/internal/store"
	"bledom-go-home/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	BLE struct {
		// ScanOnStartup runs one discovery pass right after boot.
		ScanOnStartup       bool `yaml:"scan_on_startup"`
		ScanDurationSeconds int  `yaml:"scan_duration_seconds"`
		AutoAdd             bool `yaml:"auto_add"`
	} `yaml:"ble"`
	// Devices are registered at startup without scanning. Useful for
	// controllers that advertise rarely or from rooms the adapter barely
	// reaches.
	Devices []struct {
		Address      string `yaml:"address"`
		Name         string `yaml:"name"`
		FriendlyName string `yaml:"friendly_name"`
	} `yaml:"devices"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	if c.BLE.ScanDurationSeconds < 0 || c.BLE.ScanDurationSeconds > 120 {
		return fmt.Errorf("ble.scan_duration_seconds must be 0-120, got %d", c.BLE.ScanDurationSeconds)
	}
	for i, dev := range c.Devices {
		if dev.Address == "" || dev.Name == "" {
			return fmt.Errorf("devices[%d]: address and name are required", i)
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	// Create configured logger.
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("bledom-go-home starting", "version", version)

	// Open store
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Bring up the host Bluetooth stack.
	adapter := ble.NewTinygoAdapter()
	if err := adapter.Enable(); err != nil {
		logger.Error("enable bluetooth adapter", "err", err)
		os.Exit(1)
	}

	// Create registry and restore persisted devices.
	events := controller.NewEventBus(logger)
	registry := controller.NewRegistry(adapter, db, events, logger)
	if err := registry.Load(); err != nil {
		logger.Error("restore devices", "err", err)
		os.Exit(1)
	}

	// Register statically configured devices.
	for _, dev := range cfg.Devices {
		if _, err := registry.Add(dev.Address, dev.Name, dev.FriendlyName); err != nil {
			logger.Error("add configured device", "address", dev.Address, "err", err)
		}
	}

	if cfg.BLE.ScanOnStartup {
		go func() {
			duration := time.Duration(cfg.BLE.ScanDurationSeconds) * time.Second
			if _, err := registry.Scan(context.Background(), duration, cfg.BLE.AutoAdd); err != nil {
				logger.Warn("startup scan", "err", err)
			}
		}()
	}

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(registry, cfg, logger)

	// Start web server
	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webOpts = append(webOpts, autoWebOpts...)

	webServer, err := web.NewServer(registry, logger, webOpts...)
	if err != nil {
		logger.Error("create web server", "err", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(registry, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	registry.Shutdown(shutdownCtx)

	logger.Info("goodbye")
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "bledom-home.db"
	}
	if cfg.BLE.ScanDurationSeconds == 0 {
		cfg.BLE.ScanDurationSeconds = 10
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "bledom"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
