package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"logtools/internal/collector"
	"logtools/internal/config"
	"logtools/internal/export"
	"logtools/internal/parser"
	"logtools/internal/storage"

	"go.uber.org/zap"
)

const maxParseBody = 1 << 20

// API holds shared state for all handlers
type API struct {
	Config    *config.Config
	Store     storage.Store
	Collector *collector.LineCollector
	logger    *zap.SugaredLogger
}

func NewAPI(cfg *config.Config, store storage.Store, coll *collector.LineCollector, logger *zap.SugaredLogger) *API {
	return &API{Config: cfg, Store: store, Collector: coll, logger: logger}
}

// RegisterRoutes mounts all API endpoints on the given mux
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/lines", a.cors(a.handleLines))
	mux.HandleFunc("/api/lines/", a.cors(a.handleLine))
	mux.HandleFunc("/api/stats", a.cors(a.handleStats))
	mux.HandleFunc("/api/export", a.cors(a.handleExport))
	mux.HandleFunc("/api/parse", a.cors(a.handleParse))
	mux.HandleFunc("/api/parsers", a.cors(a.handleParsers))
	mux.HandleFunc("/api/sources", a.cors(a.handleSources))
	mux.HandleFunc("/api/health", a.cors(a.handleHealth))
}

// ── CORS middleware ──────────────────────────────────────────────
func (a *API) cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

// ── Lines ────────────────────────────────────────────────────────

func (a *API) handleLines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	opts, err := listOptsFromQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := a.Store.ListLines(opts)
	if err != nil {
		a.logger.Errorf("API: list lines: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleLine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/lines/")
	if id == "" {
		http.Error(w, "Missing line id", http.StatusBadRequest)
		return
	}
	rec, err := a.Store.GetLine(id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Line not found: "+id, http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := a.Store.GetStats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleExport streams every matching line as JSON lines, newest first.
// ?compress=zstd compresses the stream.
func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	opts, err := listOptsFromQuery(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	compress := false
	switch q.Get("compress") {
	case "":
		w.Header().Set("Content-Type", "application/x-ndjson")
	case "zstd":
		compress = true
		w.Header().Set("Content-Type", "application/zstd")
	default:
		http.Error(w, "Unsupported compression: "+q.Get("compress"), http.StatusBadRequest)
		return
	}

	ew, err := export.NewWriter(w, compress)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer ew.Close()

	err = a.Store.WalkLines(opts, func(rec *storage.Record) error {
		return ew.Write(rec.Source, &rec.LogLine)
	})
	if err != nil {
		a.logger.Warnf("API: export aborted after %d lines: %v", ew.Written(), err)
	}
}

// ── Parse ────────────────────────────────────────────────────────

type parseResult struct {
	Line   string          `json:"line"`
	Parsed *parser.LogLine `json:"parsed"`
}

func (a *API) handleParse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("parser")
	if name == "" {
		name = "raw"
	}
	p, err := parser.Get(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	results := []parseResult{}
	scanner := bufio.NewScanner(http.MaxBytesReader(w, r.Body, maxParseBody))
	scanner.Buffer(make([]byte, 0, 64*1024), maxParseBody)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		results = append(results, parseResult{Line: line, Parsed: p.Parse(line)})
	}
	// A cut-off body would leave a truncated last line, so nothing is
	// returned unless the whole body was read.
	if err := scanner.Err(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, bufio.ErrTooLong) {
			http.Error(w, fmt.Sprintf("Body exceeds %d bytes", maxParseBody), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// ── Parsers / Sources ────────────────────────────────────────────

func (a *API) handleParsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, parser.AvailableParsers())
}

type sourceStatus struct {
	config.SourceDef
	LastCount *int64 `json:"last_count,omitempty"`
}

func (a *API) handleSources(w http.ResponseWriter, _ *http.Request) {
	out := make([]sourceStatus, 0, len(a.Config.Sources))
	for _, src := range a.Config.Sources {
		st := sourceStatus{SourceDef: src}
		if v, ok := a.Collector.LastCountOf(src.Name); ok {
			st.LastCount = &v
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}

// ── Health ───────────────────────────────────────────────────────

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"sources": len(a.Config.Sources),
		"parsers": len(parser.AvailableParsers()),
	})
}

// ── Helpers ──────────────────────────────────────────────────────

func listOptsFromQuery(q url.Values) (storage.ListOpts, error) {
	opts := storage.ListOpts{
		Source:   q.Get("source"),
		Topic:    q.Get("topic"),
		Contains: q.Get("q"),
	}
	if v := q.Get("level"); v != "" {
		lvl, err := parser.ParseLevel(v)
		if err != nil {
			return opts, err
		}
		opts.MinLevel = &lvl
	}
	for _, f := range []struct {
		key string
		dst *time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		if v := q.Get(f.key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return opts, fmt.Errorf("invalid %s: %w", f.key, err)
			}
			*f.dst = t
		}
	}
	for _, f := range []struct {
		key string
		dst *int
	}{{"page", &opts.Page}, {"page_size", &opts.PageSize}} {
		if v := q.Get(f.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return opts, fmt.Errorf("invalid %s: %q", f.key, v)
			}
			*f.dst = n
		}
	}
	return opts, nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
