package slot

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"qrmark/internal/metrics"
)

// Slot is the current time-boxed attendance window. All submissions must carry
// its key; rotating the slot invalidates every previously issued link.
type Slot struct {
	Key     string `json:"slot_key"`
	Created int64  `json:"created"`
}

// ExpiresIn returns the seconds remaining before the slot rotates, clamped at
// zero.
func (s Slot) ExpiresIn(ttl time.Duration, now time.Time) int {
	remaining := int(ttl.Seconds()) - int(now.Unix()-s.Created)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Manager owns the shared slot state file so that every page view — the admin
// screen rendering the QR and the phone submitting the form — agrees on the
// current slot.
type Manager struct {
	path string
	ttl  time.Duration
	now  func() time.Time
}

// NewManager creates a manager persisting slot state at path.
func NewManager(path string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{path: path, ttl: ttl, now: time.Now}
}

// TTL reports the configured slot lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Current returns the persisted slot if it is still inside its TTL window and
// mints, persists, and returns a fresh one otherwise. A missing or corrupt
// state file is treated as absent: the page must never fail because slot state
// went bad on disk.
func (m *Manager) Current() (Slot, error) {
	now := m.now()
	if s, ok := m.readExisting(); ok && now.Unix()-s.Created <= int64(m.ttl.Seconds()) {
		return s, nil
	}

	fresh := Slot{Key: newKey(), Created: now.Unix()}
	if err := m.writeAtomic(fresh); err != nil {
		// Fail open: the minted slot is still usable by this request even if
		// persisting it failed.
		log.WithError(err).Warn("slot state write failed")
		return fresh, err
	}
	metrics.SlotRotations.Inc()
	log.WithField("slot_key", fresh.Key).Info("slot rotated")
	return fresh, nil
}

func (m *Manager) readExisting() (Slot, bool) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return Slot{}, false
	}
	var s Slot
	if err := json.Unmarshal(raw, &s); err != nil || s.Key == "" {
		return Slot{}, false
	}
	return s, true
}

// writeAtomic persists the slot via a temp file and rename so a concurrent
// reader never observes a half-written file.
func (m *Manager) writeAtomic(s Slot) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".slot-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), m.path)
}

func newKey() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
