// Package redirect implements the TTL-backed temporary redirect store.
//
// Entries live in an in-memory table guarded by a mutex and are mirrored to
// a durable JSON file, rewritten in full on every mutation. The in-memory
// table is authoritative for the life of the process: persistence failures
// are logged and swallowed, never surfaced to the triggering operation.
package redirect

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/koltyakov/passage/internal/domain"
)

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
const idLength = 5

const maxIDAttempts = 100

// Store owns all temporary redirect entries. Only ids cross its boundary;
// callers never hold live references into the table.
type Store struct {
	path string
	log  *slog.Logger

	mu      sync.Mutex
	entries map[string]domain.TempRedirect
	seq     uint64

	writeMu     sync.Mutex
	lastWritten uint64

	now   func() time.Time
	newID func() (string, error)
}

// CreateOptions carries the optional fields of a new temporary redirect.
type CreateOptions struct {
	ExtraHeaders     map[string]string
	TimeoutMS        int64
	ConnectTimeoutMS int64
	RedirectOnly     bool
}

// Update describes a partial modification: only non-nil fields change.
// A nil ExtraHeaders map means "leave headers as they are".
type Update struct {
	Name             *string           `json:"name"`
	TargetURL        *string           `json:"target_url"`
	ExtraHeaders     map[string]string `json:"extra_headers"`
	TimeoutMS        *int64            `json:"timeout"`
	ConnectTimeoutMS *int64            `json:"connect_timeout"`
	RedirectOnly     *bool             `json:"redirect_only"`
}

type persistState struct {
	seq     uint64
	entries []domain.TempRedirect
}

// NewStore creates a store persisting to path. Call [Store.Load] before
// serving traffic.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:    path,
		log:     logger,
		entries: make(map[string]domain.TempRedirect),
		now:     time.Now,
		newID:   randomID,
	}
}

// Load reads the durable file, drops already-expired entries, and persists
// the filtered set if anything was dropped. A missing file means an empty
// store; any other failure is logged and also leaves the store empty so
// startup never blocks on a bad file.
func (s *Store) Load() {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Info("no temporary redirects file found, starting empty", "path", s.path)
		return
	}
	if err != nil {
		s.log.Error("failed to load temporary redirects", "path", s.path, "err", err)
		return
	}
	var stored []domain.TempRedirect
	if err := json.Unmarshal(data, &stored); err != nil {
		s.log.Error("failed to parse temporary redirects", "path", s.path, "err", err)
		return
	}

	nowMS := s.now().UnixMilli()
	dropped := 0
	s.mu.Lock()
	for _, e := range stored {
		if e.Expired(nowMS) {
			dropped++
			continue
		}
		s.entries[e.ID] = e
	}
	loaded := len(s.entries)
	var st persistState
	if dropped > 0 {
		st = s.snapshotLocked()
	}
	s.mu.Unlock()

	if dropped > 0 {
		s.persist(st)
	}
	s.log.Info("temporary redirects loaded", "count", loaded, "expired_dropped", dropped)
}

// Create allocates a fresh unique id, computes the expiry from expiresIn
// seconds (domain.NeverExpires for no expiry), persists, and returns the
// entry.
func (s *Store) Create(targetURL string, expiresIn int64, opts CreateOptions) (domain.TempRedirect, error) {
	targetURL = strings.TrimSpace(targetURL)
	if targetURL == "" {
		return domain.TempRedirect{}, errors.New("target_url is required")
	}

	nowMS := s.now().UnixMilli()
	expiresAt := int64(domain.NeverExpires)
	if expiresIn != domain.NeverExpires {
		expiresAt = nowMS + expiresIn*1000
	}

	s.mu.Lock()
	id, err := s.uniqueIDLocked()
	if err != nil {
		s.mu.Unlock()
		return domain.TempRedirect{}, err
	}
	entry := domain.TempRedirect{
		ID:               id,
		Name:             id,
		Path:             "/" + id,
		TargetURL:        targetURL,
		ExtraHeaders:     opts.ExtraHeaders,
		TimeoutMS:        opts.TimeoutMS,
		ConnectTimeoutMS: opts.ConnectTimeoutMS,
		RedirectOnly:     opts.RedirectOnly,
		CreatedAt:        nowMS,
		ExpiresAt:        expiresAt,
	}
	s.entries[id] = entry
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(st)
	return entry, nil
}

// Get returns the entry for id. Expiry is not checked here; callers decide
// whether a stale entry still counts.
func (s *Store) Get(id string) (domain.TempRedirect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// List returns all entries, newest first.
func (s *Store) List() []domain.TempRedirect {
	s.mu.Lock()
	out := make([]domain.TempRedirect, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Update applies the non-nil fields of upd and persists before returning.
func (s *Store) Update(id string, upd Update) (domain.TempRedirect, error) {
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return domain.TempRedirect{}, errors.New("name cannot be empty")
	}
	if upd.TargetURL != nil && strings.TrimSpace(*upd.TargetURL) == "" {
		return domain.TempRedirect{}, errors.New("target_url cannot be empty")
	}

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return domain.TempRedirect{}, domain.ErrRedirectNotFound
	}
	if upd.Name != nil {
		e.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.TargetURL != nil {
		e.TargetURL = strings.TrimSpace(*upd.TargetURL)
	}
	if upd.ExtraHeaders != nil {
		e.ExtraHeaders = upd.ExtraHeaders
	}
	if upd.TimeoutMS != nil {
		e.TimeoutMS = *upd.TimeoutMS
	}
	if upd.ConnectTimeoutMS != nil {
		e.ConnectTimeoutMS = *upd.ConnectTimeoutMS
	}
	if upd.RedirectOnly != nil {
		e.RedirectOnly = *upd.RedirectOnly
	}
	s.entries[id] = e
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(st)
	return e, nil
}

// Delete removes id and persists. Deleting an unknown id is a no-op that
// reports false without rewriting the durable file.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	if _, ok := s.entries[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.entries, id)
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(st)
	return true
}

// DeleteExpired removes an entry discovered expired mid-request. The delete
// is visible to subsequent routing immediately; the durable write happens
// asynchronously.
func (s *Store) DeleteExpired(id string) {
	s.mu.Lock()
	if _, ok := s.entries[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.entries, id)
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Info("expired temporary redirect removed", "id", id)
	go s.persist(st)
}

// Sweep removes every expired entry and persists once if any were removed.
// It returns the number of entries removed.
func (s *Store) Sweep() int {
	nowMS := s.now().UnixMilli()

	s.mu.Lock()
	removed := 0
	for id, e := range s.entries {
		if e.Expired(nowMS) {
			delete(s.entries, id)
			removed++
		}
	}
	var st persistState
	if removed > 0 {
		st = s.snapshotLocked()
	}
	s.mu.Unlock()

	if removed > 0 {
		s.persist(st)
		s.log.Info("expired temporary redirects swept", "count", removed)
	}
	return removed
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) uniqueIDLocked() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id, err := s.newID()
		if err != nil {
			return "", err
		}
		if _, taken := s.entries[id]; !taken {
			return id, nil
		}
	}
	return "", errors.New("failed to generate unique redirect id")
}

// snapshotLocked captures the table and a sequence number so file writes
// outside the table lock cannot clobber a newer state with an older one.
func (s *Store) snapshotLocked() persistState {
	s.seq++
	entries := make([]domain.TempRedirect, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt < entries[j].CreatedAt
		}
		return entries[i].ID < entries[j].ID
	})
	return persistState{seq: s.seq, entries: entries}
}

func (s *Store) persist(st persistState) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if st.seq <= s.lastWritten {
		return
	}
	s.lastWritten = st.seq

	data, err := json.MarshalIndent(st.entries, "", "  ")
	if err != nil {
		s.log.Error("failed to encode temporary redirects", "err", err)
		return
	}
	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.log.Error("failed to create redirects directory", "dir", dir, "err", err)
			return
		}
	}
	if err := os.WriteFile(s.path, append(data, '\n'), 0o644); err != nil {
		s.log.Error("failed to save temporary redirects", "path", s.path, "err", err)
	}
}

// randomID draws idLength symbols from the 62-character alphabet using
// rejection sampling to avoid modulo bias.
func randomID() (string, error) {
	const n = byte(len(idAlphabet))
	const maxFair = 256 - (256 % int(n))
	id := make([]byte, idLength)
	buf := make([]byte, idLength+16)
	filled := 0
	for filled < idLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("crypto/rand: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxFair {
				continue
			}
			id[filled] = idAlphabet[b%n]
			filled++
			if filled == idLength {
				break
			}
		}
	}
	return string(id), nil
}
