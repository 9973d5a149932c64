package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/koltyakov/passage/internal/domain"
)

const defaultRequestTimeoutMS = 60_000
const defaultConnectTimeoutMS = 15_000

// Routes is the routing document: an ordered set of prefix mappings plus
// file-level defaults. Mapping order follows the JSON file's key order and
// determines first-match precedence during resolution.
type Routes struct {
	Mappings                map[string]domain.RouteMapping
	LogLevel                string
	DefaultTimeoutMS        int64
	DefaultConnectTimeoutMS int64

	order []string
}

type routesWire struct {
	APIMappings             map[string]domain.RouteMapping `json:"api_mappings"`
	LogLevel                string                         `json:"log_level,omitempty"`
	DefaultTimeoutMS        int64                          `json:"default_timeout"`
	DefaultConnectTimeoutMS int64                          `json:"default_connect_timeout"`
}

// DefaultRoutes returns an empty routing document with stock defaults.
func DefaultRoutes() *Routes {
	return &Routes{
		Mappings:                map[string]domain.RouteMapping{},
		LogLevel:                "info",
		DefaultTimeoutMS:        defaultRequestTimeoutMS,
		DefaultConnectTimeoutMS: defaultConnectTimeoutMS,
	}
}

func (r *Routes) UnmarshalJSON(data []byte) error {
	var w routesWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return err
	}
	var order []string
	if raw, ok := top["api_mappings"]; ok {
		var err error
		order, err = objectKeyOrder(raw)
		if err != nil {
			return fmt.Errorf("api_mappings: %w", err)
		}
	}

	if w.APIMappings == nil {
		w.APIMappings = map[string]domain.RouteMapping{}
	}
	r.Mappings = w.APIMappings
	r.LogLevel = w.LogLevel
	r.DefaultTimeoutMS = w.DefaultTimeoutMS
	r.DefaultConnectTimeoutMS = w.DefaultConnectTimeoutMS
	r.order = order
	return nil
}

func (r *Routes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"api_mappings":{`)
	for i, prefix := range r.Prefixes() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(prefix)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Mappings[prefix])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	if r.LogLevel != "" {
		fmt.Fprintf(&buf, `,"log_level":%q`, r.LogLevel)
	}
	fmt.Fprintf(&buf, `,"default_timeout":%d`, r.DefaultTimeoutMS)
	fmt.Fprintf(&buf, `,"default_connect_timeout":%d`, r.DefaultConnectTimeoutMS)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Prefixes returns the mapping prefixes in precedence order: file order
// first, then any prefixes missing from the recorded order, sorted.
func (r *Routes) Prefixes() []string {
	out := make([]string, 0, len(r.Mappings))
	seen := make(map[string]bool, len(r.Mappings))
	for _, p := range r.order {
		if _, ok := r.Mappings[p]; ok && !seen[p] {
			out = append(out, p)
			seen[p] = true
		}
	}
	var extra []string
	for p := range r.Mappings {
		if !seen[p] {
			extra = append(extra, p)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// Resolve returns the first mapping whose prefix is a prefix of path.
func (r *Routes) Resolve(path string) (string, domain.RouteMapping, bool) {
	for _, prefix := range r.Prefixes() {
		if strings.HasPrefix(path, prefix) {
			return prefix, r.Mappings[prefix], true
		}
	}
	return "", domain.RouteMapping{}, false
}

// RequestTimeout resolves an effective timeout: the per-route value when
// set, then the file default, then the stock 60s.
func (r *Routes) RequestTimeout(routeTimeoutMS int64) time.Duration {
	switch {
	case routeTimeoutMS > 0:
		return time.Duration(routeTimeoutMS) * time.Millisecond
	case r.DefaultTimeoutMS > 0:
		return time.Duration(r.DefaultTimeoutMS) * time.Millisecond
	default:
		return defaultRequestTimeoutMS * time.Millisecond
	}
}

// Table holds the live routing document behind an atomic pointer so request
// handling never blocks on admin updates.
type Table struct {
	path    string
	log     *slog.Logger
	current atomic.Pointer[Routes]
}

// NewTable creates a table persisting to path. Call [Table.Load] before use.
func NewTable(path string, logger *slog.Logger) *Table {
	t := &Table{path: path, log: logger}
	t.current.Store(DefaultRoutes())
	return t
}

// Load reads the routing file, creating a default one if missing. Mappings
// without a name are assigned one and the migrated file is written back.
func (t *Table) Load() error {
	data, err := os.ReadFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		t.log.Info("no route config found, creating default", "path", t.path)
		routes := DefaultRoutes()
		t.current.Store(routes)
		return t.save(routes)
	}
	if err != nil {
		return fmt.Errorf("read route config: %w", err)
	}

	routes := DefaultRoutes()
	if err := json.Unmarshal(data, routes); err != nil {
		return fmt.Errorf("parse route config %s: %w", t.path, err)
	}
	if routes.DefaultTimeoutMS <= 0 {
		routes.DefaultTimeoutMS = defaultRequestTimeoutMS
	}
	if routes.DefaultConnectTimeoutMS <= 0 {
		routes.DefaultConnectTimeoutMS = defaultConnectTimeoutMS
	}

	migrated := false
	for prefix, m := range routes.Mappings {
		if strings.TrimSpace(m.Name) == "" {
			m.Name = strings.Trim(prefix, "/")
			if m.Name == "" {
				m.Name = "default"
			}
			routes.Mappings[prefix] = m
			migrated = true
		}
	}

	t.current.Store(routes)
	t.log.Info("route config loaded", "path", t.path, "mappings", len(routes.Mappings))

	if migrated {
		if err := t.save(routes); err != nil {
			t.log.Error("failed to write migrated route config", "err", err)
		}
	}
	return nil
}

// Current returns the live routing document. Callers must treat it as
// read-only; updates go through [Table.Replace].
func (t *Table) Current() *Routes {
	return t.current.Load()
}

// Replace persists routes and swaps them in. The swap happens even when the
// file write fails so the admin's change is effective immediately; the
// failure is logged and returned.
func (t *Table) Replace(routes *Routes) error {
	err := t.save(routes)
	t.current.Store(routes)
	if err != nil {
		t.log.Error("failed to persist route config", "err", err)
	}
	return err
}

func (t *Table) save(routes *Routes) error {
	data, err := json.MarshalIndent(routes, "", "  ")
	if err != nil {
		return fmt.Errorf("encode route config: %w", err)
	}
	if dir := filepath.Dir(t.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(t.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write route config: %w", err)
	}
	return nil
}

// objectKeyOrder scans a JSON object and returns its keys in document
// order, which encoding/json's map decoding discards.
func objectKeyOrder(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		if tok == nil {
			return nil, nil
		}
		return nil, errors.New("expected object")
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("expected object key")
		}
		keys = append(keys, key)
		if err := skipValue(dec); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); ok && (d == '{' || d == '[') {
		for dec.More() {
			if err := skipValue(dec); err != nil {
				return err
			}
		}
		if _, err := dec.Token(); err != nil {
			return err
		}
	}
	return nil
}
