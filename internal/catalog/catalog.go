// Package catalog resolves scanned part numbers against the remote product
// list. The list is a published spreadsheet fetched as CSV, cached in memory
// with a TTL, and searched with exact and fuzzy matching.
package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when neither exact nor fuzzy lookup produced
	// a usable entry.
	ErrNotFound = errors.New("part number not found in catalog")
	// ErrEmptyCatalog is returned when the remote sheet yielded no rows.
	ErrEmptyCatalog = errors.New("catalog source returned no rows")
)

// Entry is one product row. Read-only once loaded.
type Entry struct {
	PartNumber string `json:"part_number"`
	Name       string `json:"name"`
	Price      int64  `json:"price"`
}

// Options configures a Store.
type Options struct {
	// URL of the CSV export of the product sheet.
	URL string
	// TTL before cached rows are considered stale. Defaults to 15 minutes.
	TTL time.Duration
	// FetchTimeout bounds one remote fetch. Defaults to 20 seconds.
	FetchTimeout time.Duration
	// Client defaults to http.DefaultClient.
	Client *http.Client
	Logger zerolog.Logger
}

// Store is the cached catalog. A fetch failure while a previous snapshot
// exists serves the stale snapshot rather than failing lookups.
type Store struct {
	opts Options
	log  zerolog.Logger

	mu        sync.RWMutex
	entries   []Entry
	byKey     map[string]int
	fetchedAt time.Time
}

// NewStore creates a catalog store. No network access happens until the
// first lookup or an explicit Refresh.
func NewStore(opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 20 * time.Second
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return &Store{
		opts: opts,
		log:  opts.Logger.With().Str("component", "catalog").Logger(),
	}
}

// Refresh fetches the sheet unconditionally and replaces the cache.
func (s *Store) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("building catalog request: %w", err)
	}

	resp, err := s.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching catalog: HTTP %d", resp.StatusCode)
	}

	entries, err := parseCSV(resp.Body)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return ErrEmptyCatalog
	}

	byKey := make(map[string]int, len(entries))
	for i, e := range entries {
		byKey[Normalize(e.PartNumber)] = i
	}

	s.mu.Lock()
	s.entries = entries
	s.byKey = byKey
	s.fetchedAt = time.Now()
	s.mu.Unlock()

	s.log.Info().Int("rows", len(entries)).Msg("catalog refreshed")
	return nil
}

// ensureFresh refreshes when the cache is stale. A refresh failure with a
// previous snapshot in hand is logged and the stale data served; with no
// snapshot at all it is returned.
func (s *Store) ensureFresh(ctx context.Context) error {
	s.mu.RLock()
	fresh := !s.fetchedAt.IsZero() && time.Since(s.fetchedAt) < s.opts.TTL
	empty := len(s.entries) == 0
	s.mu.RUnlock()

	if fresh {
		return nil
	}

	if err := s.Refresh(ctx); err != nil {
		if empty {
			return err
		}
		s.log.Warn().Err(err).Msg("catalog refresh failed, serving stale data")
	}
	return nil
}

// Lookup resolves a part number by normalized exact match.
func (s *Store) Lookup(ctx context.Context, partNumber string) (Entry, error) {
	if err := s.ensureFresh(ctx); err != nil {
		return Entry{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if i, ok := s.byKey[Normalize(partNumber)]; ok {
		return s.entries[i], nil
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, partNumber)
}

// Len returns the number of cached rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// FetchedAt returns when the cache was last filled.
func (s *Store) FetchedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchedAt
}

// Normalize folds a part number for matching: upper-cased, whitespace and
// hyphens stripped. "ab 12-3" and "AB123" are the same key.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case ' ', '\t', '-', '　':
			continue
		}
		b.WriteRune(unicodeUpper(r))
	}
	return b.String()
}

func unicodeUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - 'a' + 'A'
	}
	return r
}

// parseCSV reads {partNumber, name, price} rows. A header row is detected by
// a non-numeric price column and skipped; short or malformed rows are
// dropped rather than failing the whole sheet.
func parseCSV(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var entries []Entry
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing catalog csv: %w", err)
		}
		if len(record) < 3 {
			continue
		}

		price, err := strconv.ParseInt(strings.TrimSpace(record[2]), 10, 64)
		if err != nil || price < 0 {
			continue
		}

		part := strings.TrimSpace(record[0])
		name := strings.TrimSpace(record[1])
		if part == "" {
			continue
		}

		entries = append(entries, Entry{
			PartNumber: part,
			Name:       name,
			Price:      price,
		})
	}
	return entries, nil
}
