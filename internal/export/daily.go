package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

const dayLayout = "2006-01-02"

// DailyWriter appends records to one CSV file per kind and UTC day:
//
//	<dir>/trade/2026-03-01.csv
//	<dir>/market/2026-03-01.csv
//
// A header row is written when a file is created. Safe for concurrent use.
type DailyWriter struct {
	dir string
	mu  sync.Mutex
}

// NewDailyWriter creates the export directory tree if needed.
func NewDailyWriter(dir string) (*DailyWriter, error) {
	for _, k := range []domain.Kind{domain.KindTrade, domain.KindMarket} {
		if err := os.MkdirAll(filepath.Join(dir, string(k)), 0o755); err != nil {
			return nil, fmt.Errorf("export: create dir: %w", err)
		}
	}
	return &DailyWriter{dir: dir}, nil
}

// Dir returns the export root.
func (w *DailyWriter) Dir() string {
	return w.dir
}

// Path returns the file that holds records of kind received on day.
func (w *DailyWriter) Path(kind domain.Kind, day time.Time) string {
	return filepath.Join(w.dir, string(kind), day.UTC().Format(dayLayout)+".csv")
}

// Append writes rec as one line of the file for its receive day.
func (w *DailyWriter) Append(rec domain.Record) error {
	row, err := Row(rec)
	if err != nil {
		return err
	}
	path := w.Path(rec.Kind, rec.ReceivedAt())

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("export: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("export: stat %s: %w", path, err)
	}

	cw := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := cw.Write(Header(rec.Kind)); err != nil {
			return fmt.Errorf("export: write header %s: %w", path, err)
		}
	}
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("export: append %s: %w", path, err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flush %s: %w", path, err)
	}
	return nil
}

// Files lists export files whose day is strictly before the UTC day of
// before, oldest first.
func (w *DailyWriter) Files(before time.Time) ([]domain.ExportFile, error) {
	cutoff := before.UTC().Truncate(24 * time.Hour)

	var files []domain.ExportFile
	for _, k := range []domain.Kind{domain.KindTrade, domain.KindMarket} {
		entries, err := os.ReadDir(filepath.Join(w.dir, string(k)))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("export: list %s: %w", k, err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".csv") {
				continue
			}
			day, err := time.Parse(dayLayout, strings.TrimSuffix(name, ".csv"))
			if err != nil || !day.Before(cutoff) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				return nil, fmt.Errorf("export: stat %s: %w", name, err)
			}
			files = append(files, domain.ExportFile{
				Kind: k,
				Day:  day,
				Path: filepath.Join(w.dir, string(k), name),
				Size: info.Size(),
			})
		}
	}

	sort.Slice(files, func(i, j int) bool {
		if !files[i].Day.Equal(files[j].Day) {
			return files[i].Day.Before(files[j].Day)
		}
		return files[i].Kind < files[j].Kind
	})
	return files, nil
}

// Open opens an export file for reading.
func (w *DailyWriter) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("export: open %s: %w", path, err)
	}
	return f, nil
}

// Remove deletes an export file. Missing files are not an error.
func (w *DailyWriter) Remove(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("export: remove %s: %w", path, err)
	}
	return nil
}
