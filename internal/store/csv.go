package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
)

// Record is one accepted attendance submission. DeviceID is persisted for
// duplicate enforcement only and is stripped from every admin projection.
type Record struct {
	Timestamp time.Time
	SlotKey   string
	Name      string
	Email     string
	DeviceID  string
}

var header = []string{"timestamp", "slot_key", "name", "email", "cid"}

// CSVStore is the append-only flat-file attendance store.
type CSVStore struct {
	path       string
	archiveDir string
}

// NewCSVStore creates a store writing to path and archiving into archiveDir.
func NewCSVStore(path, archiveDir string) *CSVStore {
	return &CSVStore{path: path, archiveDir: archiveDir}
}

// Path returns the location of the live store file.
func (s *CSVStore) Path() string { return s.path }

// Append writes one record, creating the file with a header row first if it
// does not exist yet. The write is flushed and fsynced before returning.
func (s *CSVStore) Append(rec Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	_, statErr := os.Stat(s.path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	row := []string{
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.SlotKey,
		rec.Name,
		rec.Email,
		rec.DeviceID,
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush record: %w", err)
	}
	return f.Sync()
}

// ReadAll returns every stored record. A missing store yields an empty slice,
// and a store we cannot parse does too: admin and submission pages must render
// regardless of what happened to the file.
func (s *CSVStore) ReadAll() []Record {
	f, err := os.Open(s.path)
	if err != nil {
		return nil
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		log.WithError(err).Warn("attendance store unreadable, treating as empty")
		return nil
	}

	var records []Record
	for i, row := range rows {
		if i == 0 || len(row) < 5 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			continue
		}
		records = append(records, Record{
			Timestamp: ts,
			SlotKey:   row[1],
			Name:      row[2],
			Email:     row[3],
			DeviceID:  row[4],
		})
	}
	return records
}

// Archive moves the live store to a timestamp-named backup and reinitializes
// an empty store with headers. It returns the backup location.
func (s *CSVStore) Archive() (string, error) {
	if err := os.MkdirAll(s.archiveDir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	base := fmt.Sprintf("attendance_archive_%s", time.Now().UTC().Format("20060102_150405"))
	dest := filepath.Join(s.archiveDir, base+".csv")
	for n := 1; ; n++ {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			break
		}
		dest = filepath.Join(s.archiveDir, fmt.Sprintf("%s_%d.csv", base, n))
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := os.Rename(s.path, dest); err != nil {
			return "", fmt.Errorf("move store aside: %w", err)
		}
	} else {
		// Nothing to move; still leave a backup so archive stays idempotent.
		if err := writeHeaderOnly(dest); err != nil {
			return "", err
		}
	}
	if err := writeHeaderOnly(s.path); err != nil {
		return "", err
	}
	log.WithField("archive", dest).Info("attendance store archived")
	return dest, nil
}

// Clear discards all records in place, leaving a header-only store.
func (s *CSVStore) Clear() error {
	if err := writeHeaderOnly(s.path); err != nil {
		return err
	}
	log.Info("attendance store cleared")
	return nil
}

func writeHeaderOnly(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reinitialize store: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush header: %w", err)
	}
	return f.Sync()
}
