package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/redteltel/regi/internal/api"
	"github.com/redteltel/regi/internal/cart"
	"github.com/redteltel/regi/internal/catalog"
	"github.com/redteltel/regi/internal/config"
	"github.com/redteltel/regi/internal/ocr"
	"github.com/redteltel/regi/internal/preview"
	"github.com/redteltel/regi/internal/printer"
	"github.com/redteltel/regi/internal/settings"
)

// Version is set during build via ldflags
var Version = "dev"

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.App.LogLevel); err == nil {
		log = log.Level(level)
	}

	store, err := settings.New(cfg.App.SettingsPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.App.SettingsPath).Msg("failed to load settings")
	}

	catalogURL := cfg.Catalog.URL
	if catalogURL == "" {
		catalogURL = store.Get().CatalogURL
	}

	picker := buildPicker(cfg, store, log)

	printerOpts := printer.Options{
		DiscoveryTimeout: cfg.Printer.DiscoveryTimeout,
		ChunkSize:        cfg.Printer.ChunkSize,
		ChunkDelay:       cfg.Printer.ChunkDelay,
		Logger:           log,
	}
	if s := store.Get(); s.VendorServiceUUID != "" {
		printerOpts.VendorServiceUUID = s.VendorServiceUUID
		printerOpts.VendorCharUUID = s.VendorCharUUID
	}
	manager := printer.NewManager(picker, printerOpts)

	server := api.NewServer(api.Deps{
		Cart: cart.New(),
		Catalog: catalog.NewStore(catalog.Options{
			URL:          catalogURL,
			TTL:          cfg.Catalog.TTL,
			FetchTimeout: cfg.Catalog.FetchTimeout,
			Logger:       log,
		}),
		OCR: ocr.NewClient(ocr.Options{
			Endpoint: cfg.OCR.Endpoint,
			APIKey:   cfg.OCR.APIKey,
			Model:    cfg.OCR.Model,
			Timeout:  cfg.OCR.Timeout,
			Logger:   log,
		}),
		Printer:  manager,
		Settings: store,
		Preview:  preview.New(preview.Options{}),
		Logger:   log,
	})

	go server.PumpPrinterEvents(manager.Events())

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.App.Addr).Str("version", Version).Msg("starting till server")
		serverErr <- server.Run(cfg.App.Addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatal().Err(err).Msg("server stopped")
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		manager.Disconnect()
	}
}

func buildPicker(cfg *config.Config, store *settings.Store, log zerolog.Logger) printer.Picker {
	if cfg.Printer.Transport == "serial" {
		return &printer.SerialPicker{
			Device: cfg.Printer.SerialDevice,
			Baud:   cfg.Printer.SerialBaud,
		}
	}

	target := cfg.Printer.Target
	if target == "" {
		target = store.Get().PrinterTarget
	}
	svcUUID := store.Get().VendorServiceUUID
	if svcUUID == "" {
		svcUUID = printer.DefaultVendorServiceUUID
	}
	return printer.NewBLEPicker(target, svcUUID, cfg.Printer.DiscoveryTimeout, log)
}
