// Package worklist persists crawl targets and their statuses as a CSV file
// with a url,status header.
package worklist

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/olx-listings-pipeline/internal/listing"
)

// ErrInvalidStatus is returned for status values outside the known set.
var ErrInvalidStatus = errors.New("invalid status")

var header = []string{"url", "status"}

// Store reads and rewrites one work list file. Writes are serialized within
// the process; concurrent processes are last-writer-wins.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a Store backed by path. The file need not exist yet.
func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("work list path is required")
	}
	return &Store{path: path}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads every item in file order. A missing file is an empty list.
func (s *Store) Load(_ context.Context) ([]listing.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() ([]listing.WorkItem, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open work list: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

// Decode parses work list CSV. Rows with an empty status are pending.
func Decode(r io.Reader) ([]listing.WorkItem, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var items []listing.WorkItem
	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read work list line %d: %w", line, err)
		}
		if line == 1 && len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), header[0]) {
			continue
		}
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		item := listing.WorkItem{URL: strings.TrimSpace(row[0]), Status: listing.StatusPending}
		if len(row) > 1 && strings.TrimSpace(row[1]) != "" {
			status, err := listing.ParseStatus(strings.TrimSpace(row[1]))
			if err != nil {
				return nil, fmt.Errorf("work list line %d: %w: %v", line, ErrInvalidStatus, err)
			}
			item.Status = status
		}
		items = append(items, item)
	}
}

// Encode writes items as work list CSV, header first.
func Encode(w io.Writer, items []listing.WorkItem) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, item := range items {
		if err := writer.Write([]string{item.URL, string(item.Status)}); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush work list: %w", err)
	}
	return nil
}

// Save replaces the file with items. Readers never observe a partial file.
func (s *Store) Save(_ context.Context, items []listing.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(items)
}

func (s *Store) save(items []listing.WorkItem) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create work list directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".worklist-*.csv")
	if err != nil {
		return fmt.Errorf("create temp work list: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if err := Encode(tmp, items); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp work list: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace work list: %w", err)
	}
	return nil
}

// Seed merges items into the file. URLs already present keep their status;
// new URLs are appended in the order given. It returns the number added.
func (s *Store) Seed(_ context.Context, items []listing.WorkItem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load()
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, item := range existing {
		seen[item.URL] = struct{}{}
	}
	added := 0
	for _, item := range items {
		if _, ok := seen[item.URL]; ok || item.URL == "" {
			continue
		}
		if item.Status == "" {
			item.Status = listing.StatusPending
		}
		seen[item.URL] = struct{}{}
		existing = append(existing, item)
		added++
	}
	if err := s.save(existing); err != nil {
		return 0, err
	}
	return added, nil
}

// UpdateStatus sets the status of the row whose URL matches exactly. It
// reports false, without rewriting the file, when no row matches.
func (s *Store) UpdateStatus(_ context.Context, url string, status listing.Status) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return false, err
	}
	matched := false
	for i := range items {
		if items[i].URL == url {
			items[i].Status = status
			matched = true
		}
	}
	if !matched {
		return false, nil
	}
	if err := s.save(items); err != nil {
		return false, err
	}
	return true, nil
}

// Pending returns items that are not finished.
func (s *Store) Pending(ctx context.Context) ([]listing.WorkItem, error) {
	items, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := items[:0:0]
	for _, item := range items {
		if item.Status != listing.StatusFinished {
			out = append(out, item)
		}
	}
	return out, nil
}

// Summary counts items per status.
func (s *Store) Summary(ctx context.Context) (map[listing.Status]int, error) {
	items, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[listing.Status]int)
	for _, item := range items {
		counts[item.Status]++
	}
	return counts, nil
}
