// Package settings manages persistent till configuration
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/redteltel/regi/internal/document"
)

// Settings holds everything the operator can change from the settings
// screen. The zero value is usable; Defaults fills in the fields a fresh
// install needs.
type Settings struct {
	Store document.StoreInfo `json:"store"`
	Bank  document.BankInfo  `json:"bank"`

	// CatalogURL is the published CSV the part-number catalog refreshes from.
	CatalogURL string `json:"catalog_url,omitempty"`

	// Printer identity remembered from the last successful connect, so a
	// restore after restart can skip the picker UI.
	PrinterTarget string `json:"printer_target,omitempty"`
	PrinterName   string `json:"printer_name,omitempty"`

	// Vendor UUID overrides for printers that expose ESC/POS on a
	// non-standard service. Empty means the defaults apply.
	VendorServiceUUID string `json:"vendor_service_uuid,omitempty"`
	VendorCharUUID    string `json:"vendor_char_uuid,omitempty"`

	// AllowZeroTotal permits checkout when discounts bring the total to
	// zero, for giveaway and warranty-exchange receipts.
	AllowZeroTotal bool `json:"allow_zero_total"`

	// Proviso is the default 但し書き printed on formal receipts.
	Proviso string `json:"proviso,omitempty"`
}

// Defaults returns the settings a fresh install starts from.
func Defaults() Settings {
	return Settings{
		Proviso: "お品代として",
	}
}

// Store persists Settings to a JSON file.
type Store struct {
	filePath string
	mu       sync.RWMutex
	data     Settings
}

// New creates a Store backed by filePath, loading it if it exists.
func New(filePath string) (*Store, error) {
	s := &Store{
		filePath: filePath,
		data:     Defaults(),
	}

	if err := s.load(); err != nil {
		// If file doesn't exist, that's okay - we'll create it on first save
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}
	}

	return s, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// Put replaces the settings and saves them to disk.
func (s *Store) Put(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = settings
	return s.save()
}

// RememberPrinter records the identity of the printer the till last
// connected to.
func (s *Store) RememberPrinter(target, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.PrinterTarget == target && s.data.PrinterName == name {
		return nil
	}
	s.data.PrinterTarget = target
	s.data.PrinterName = name
	return s.save()
}

// ForgetPrinter clears the remembered printer identity.
func (s *Store) ForgetPrinter() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.PrinterTarget == "" && s.data.PrinterName == "" {
		return nil
	}
	s.data.PrinterTarget = ""
	s.data.PrinterName = ""
	return s.save()
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &s.data)
}

func (s *Store) save() error {
	if dir := filepath.Dir(s.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.filePath, data, 0644)
}
