// Package config loads till configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "REGI"

type Config struct {
	App     AppConfig
	Printer PrinterConfig
	OCR     OCRConfig
	Catalog CatalogConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Addr         string `envconfig:"REGI_ADDR" default:":8080"`
	LogLevel     string `envconfig:"REGI_LOG_LEVEL" default:"info"`
	SettingsPath string `envconfig:"REGI_SETTINGS_PATH" default:"regi-settings.json"`
}

func (a AppConfig) IsDebug() bool {
	return strings.EqualFold(a.LogLevel, "debug")
}

type PrinterConfig struct {
	// Transport selects the link type: ble or serial.
	Transport string `envconfig:"REGI_PRINTER_TRANSPORT" default:"ble"`
	// Target narrows BLE scanning to a device address or name fragment.
	Target string `envconfig:"REGI_PRINTER_TARGET"`
	// SerialDevice is the RFCOMM device path for the serial transport.
	SerialDevice string `envconfig:"REGI_PRINTER_SERIAL_DEVICE" default:"/dev/rfcomm0"`
	SerialBaud   int    `envconfig:"REGI_PRINTER_SERIAL_BAUD" default:"9600"`

	DiscoveryTimeout time.Duration `envconfig:"REGI_PRINTER_DISCOVERY_TIMEOUT" default:"45s"`
	ChunkSize        int           `envconfig:"REGI_PRINTER_CHUNK_SIZE" default:"20"`
	ChunkDelay       time.Duration `envconfig:"REGI_PRINTER_CHUNK_DELAY" default:"20ms"`
}

type OCRConfig struct {
	Endpoint string        `envconfig:"REGI_OCR_ENDPOINT" default:"https://api.openai.com/v1/chat/completions"`
	APIKey   string        `envconfig:"REGI_OCR_API_KEY"`
	Model    string        `envconfig:"REGI_OCR_MODEL" default:"gpt-4o-mini"`
	Timeout  time.Duration `envconfig:"REGI_OCR_TIMEOUT" default:"30s"`
}

type CatalogConfig struct {
	// URL overrides the catalog source from settings, mainly for tests
	// and staging.
	URL          string        `envconfig:"REGI_CATALOG_URL"`
	TTL          time.Duration `envconfig:"REGI_CATALOG_TTL" default:"15m"`
	FetchTimeout time.Duration `envconfig:"REGI_CATALOG_FETCH_TIMEOUT" default:"20s"`
}
