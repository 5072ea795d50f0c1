package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"logtools/internal/collector"
	"logtools/internal/config"
	"logtools/internal/logging"
	"logtools/internal/parser"
	"logtools/internal/storage"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wantList = `TRC 2023-10-16 17:28:46.579+00:00 Sending want list to peer                  ` +
	`topics="codex blockexcnetwork" tid=1 peer=16U*7mogoM type=WantBlock items=1 count=870781`

type fixture struct {
	server *httptest.Server
	store  *storage.BoltStore
	coll   *collector.LineCollector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "logtools.db"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{Sources: []config.SourceDef{
		{Name: "node-1", Path: "/var/log/codex/node1.log", Parser: "raw", Enabled: true},
		{Name: "node-2", Path: "/var/log/codex/node2.log", Parser: "raw"},
	}}
	coll := collector.NewLineCollector()

	mux := http.NewServeMux()
	NewAPI(cfg, store, coll, logging.Nop()).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &fixture{server: srv, store: store, coll: coll}
}

func (f *fixture) save(t *testing.T, source, raw string) *storage.Record {
	t.Helper()
	line := parser.ParseRaw(raw, true)
	require.NotNil(t, line)
	rec := &storage.Record{Source: source, LogLine: *line}
	require.NoError(t, f.store.SaveLine(rec))
	return rec
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestParseEndpoint(t *testing.T) {
	f := newFixture(t)

	body := wantList + "\n\nThis is not a log line\n"
	resp, err := http.Post(f.server.URL+"/api/parse", "text/plain", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results []struct {
		Line   string                 `json:"line"`
		Parsed map[string]interface{} `json:"parsed"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	require.Len(t, results, 2)

	assert.Equal(t, "trace", results[0].Parsed["level"])
	assert.Equal(t, "2023-10-16T17:28:46.579Z", results[0].Parsed["timestamp"])
	assert.Equal(t, "Sending want list to peer", results[0].Parsed["message"])
	assert.Equal(t, 870781.0, results[0].Parsed["count"])
	assert.Nil(t, results[1].Parsed)
}

func TestParseEndpoint_Errors(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.server.URL+"/api/parse?parser=nginx", "text/plain", strings.NewReader(wantList))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, http.StatusMethodNotAllowed, getJSON(t, f.server.URL+"/api/parse", nil))
}

func TestParseEndpoint_NoDate(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.server.URL+"/api/parse?parser=raw-nodate", "text/plain", strings.NewReader(wantList))
	require.NoError(t, err)
	defer resp.Body.Close()

	var results []parseResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Parsed)
	assert.Nil(t, results[0].Parsed.Timestamp)
}

func TestLinesEndpoint(t *testing.T) {
	f := newFixture(t)
	f.save(t, "node-1", wantList)
	f.save(t, "node-2", `ERR 2023-10-16 17:28:50.000+00:00 Failed to store block   topics="codex repostore" count=4`)

	var res storage.ListResult[storage.Record]
	require.Equal(t, http.StatusOK, getJSON(t, f.server.URL+"/api/lines", &res))
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, "Failed to store block", res.Items[0].Message)

	require.Equal(t, http.StatusOK, getJSON(t, f.server.URL+"/api/lines?level=warn", &res))
	require.Len(t, res.Items, 1)
	assert.Equal(t, parser.LevelError, res.Items[0].Level)

	require.Equal(t, http.StatusOK, getJSON(t, f.server.URL+"/api/lines?topic=blockexcnetwork&source=node-1", &res))
	require.Len(t, res.Items, 1)
	assert.Equal(t, "node-1", res.Items[0].Source)

	require.Equal(t, http.StatusOK, getJSON(t, f.server.URL+"/api/lines?until=2023-10-16T17:28:47Z", &res))
	require.Len(t, res.Items, 1)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, f.server.URL+"/api/lines?level=loud", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, f.server.URL+"/api/lines?since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, f.server.URL+"/api/lines?page=two", nil))
}

func TestLineEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.save(t, "node-1", wantList)

	var got storage.Record
	require.Equal(t, http.StatusOK, getJSON(t, f.server.URL+"/api/lines/"+rec.ID, &got))
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, `topics="codex blockexcnetwork" tid=1 peer=16U*7mogoM type=WantBlock items=1`, got.Topics)

	assert.Equal(t, http.StatusNotFound, getJSON(t, f.server.URL+"/api/lines/nope", nil))
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.save(t, "node-1", wantList)

	var stats storage.AggregatedStats
	require.Equal(t, http.StatusOK, getJSON(t, f.server.URL+"/api/stats", &stats))
	assert.Equal(t, 1, stats.TotalLines)
	assert.Equal(t, map[string]int{"trace": 1}, stats.ByLevel)
}

func TestExportEndpoint(t *testing.T) {
	f := newFixture(t)
	f.save(t, "node-1", wantList)
	f.save(t, "node-1", `INF 2023-10-16 17:28:47.000+00:00 Stored block  topics="codex" count=870782`)

	resp, err := http.Get(f.server.URL + "/api/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	var n int
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		n++
	}
	assert.Equal(t, 2, n)

	resp, err = http.Get(f.server.URL + "/api/export?compress=zstd&level=info")
	require.NoError(t, err)
	defer resp.Body.Close()
	dec, err := zstd.NewReader(resp.Body)
	require.NoError(t, err)
	defer dec.Close()

	var entry struct {
		Source  string `json:"source"`
		Message string `json:"message"`
	}
	d := json.NewDecoder(dec)
	require.NoError(t, d.Decode(&entry))
	assert.Equal(t, "node-1", entry.Source)
	assert.Equal(t, "Stored block", entry.Message)
	assert.False(t, d.More())

	assert.Equal(t, http.StatusBadRequest, getJSON(t, f.server.URL+"/api/export?compress=gzip", nil))
}

func TestSourcesAndHealth(t *testing.T) {
	f := newFixture(t)
	line := parser.ParseRaw(wantList, false)
	f.coll.ProcessLine("node-1", line)

	var sources []map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, f.server.URL+"/api/sources", &sources))
	require.Len(t, sources, 2)
	assert.Equal(t, "node-1", sources[0]["name"])
	assert.Equal(t, 870781.0, sources[0]["last_count"])
	assert.NotContains(t, sources[1], "last_count")

	var parsers []string
	require.Equal(t, http.StatusOK, getJSON(t, f.server.URL+"/api/parsers", &parsers))
	assert.Contains(t, parsers, "raw")

	var health map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, f.server.URL+"/api/health", &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, 2.0, health["sources"])
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodOptions, f.server.URL+"/api/lines", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func parseBody(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/api/parse", "text/plain", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// fillTo returns filler lines of exactly n bytes, newline terminated.
func fillTo(n int) string {
	var b strings.Builder
	for b.Len()+100 < n {
		b.WriteString(strings.Repeat("x", 99) + "\n")
	}
	b.WriteString(strings.Repeat("y", n-b.Len()-1) + "\n")
	return b.String()
}

func TestParseEndpoint_BodyTooLarge(t *testing.T) {
	f := newFixture(t)

	// The limit falls inside "count=870781", which must not come back as count=870.
	body := fillTo(maxParseBody-len(wantList)+3) + wantList
	require.Greater(t, len(body), maxParseBody)

	resp := parseBody(t, f.server.URL, body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestParseEndpoint_BodyAtLimit(t *testing.T) {
	f := newFixture(t)

	body := fillTo(maxParseBody-len(wantList)) + wantList
	require.Equal(t, maxParseBody, len(body))

	resp := parseBody(t, f.server.URL, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results []parseResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	last := results[len(results)-1]
	require.NotNil(t, last.Parsed)
	require.NotNil(t, last.Parsed.Count)
	assert.Equal(t, int64(870781), *last.Parsed.Count)
}

func TestParseEndpoint_OversizedLine(t *testing.T) {
	f := newFixture(t)

	resp := parseBody(t, f.server.URL, strings.Repeat("z", maxParseBody+10))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}
