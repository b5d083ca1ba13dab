package attendance

import (
	"errors"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"qrmark/internal/store"
)

// Rejection reasons. Each is surfaced to the submitter verbatim; none is ever
// collapsed into a generic failure.
var (
	ErrInvalidLink     = errors.New("this link is invalid or has expired, scan the current QR code again")
	ErrMissingDevice   = errors.New("this link does not include a valid device identifier, use the open-on-this-device button and try again")
	ErrMissingFields   = errors.New("please enter both name and email")
	ErrDuplicateDevice = errors.New("this device has already submitted attendance for this slot")
	ErrDuplicateEmail  = errors.New("this email has already been recorded for this slot")
)

// Device ids shorter than this fail the shape check; anything a browser
// generates (UUID or fallback hex token) is far longer.
const minDeviceIDLen = 9

// Request carries everything a submission arrives with.
type Request struct {
	SlotKey  string
	Secret   string
	DeviceID string
	Name     string
	Email    string
}

// Store is the slice of the attendance store the service needs.
type Store interface {
	Append(rec store.Record) error
	ReadAll() []store.Record
}

// Service validates submissions against the current slot and deduplicates per
// device (and optionally per email) before appending to the store.
type Service struct {
	store        Store
	secret       string
	dedupByEmail bool
	now          func() time.Time

	// Serializes the duplicate check and the append so two near-simultaneous
	// submissions from one device cannot both pass the check.
	mu sync.Mutex
}

// NewService creates a validator backed by st.
func NewService(st Store, secret string, dedupByEmail bool) *Service {
	return &Service{store: st, secret: secret, dedupByEmail: dedupByEmail, now: time.Now}
}

// Submit validates req against the current slot key and appends a record on
// acceptance. On rejection it returns one of the sentinel errors above.
func (s *Service) Submit(currentSlotKey string, req Request) (store.Record, error) {
	if req.SlotKey == "" || req.SlotKey != currentSlotKey || req.Secret != s.secret {
		return store.Record{}, ErrInvalidLink
	}
	if len(req.DeviceID) < minDeviceIDLen {
		return store.Record{}, ErrMissingDevice
	}
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	if name == "" || email == "" {
		return store.Record{}, ErrMissingFields
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.store.ReadAll() {
		if rec.SlotKey != currentSlotKey {
			continue
		}
		if rec.DeviceID == req.DeviceID {
			return store.Record{}, ErrDuplicateDevice
		}
		if s.dedupByEmail && strings.EqualFold(rec.Email, email) {
			return store.Record{}, ErrDuplicateEmail
		}
	}

	rec := store.Record{
		Timestamp: s.now().UTC(),
		SlotKey:   currentSlotKey,
		Name:      name,
		Email:     email,
		DeviceID:  req.DeviceID,
	}
	if err := s.store.Append(rec); err != nil {
		return store.Record{}, err
	}
	log.WithFields(log.Fields{"slot_key": rec.SlotKey, "email": rec.Email}).Info("attendance recorded")
	return rec, nil
}
