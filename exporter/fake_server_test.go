package exporter

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const servicePath = "/arcgis/rest/services/Basemap/VectorTileServer"

// fakeTileServer mimics the exportTiles, jobs and output endpoints of a
// VectorTileServer. Tile counts are estimated from the extent area.
type fakeTileServer struct {
	t   *testing.T
	srv *httptest.Server

	density  float64
	maxTiles int
	// pending is how many status checks report the job as executing.
	pending int

	// estimate overrides the area based tile estimate.
	estimate func(ext Extent) int
	// submitHook, when it returns a body, answers the submission instead.
	submitHook func(ext Extent) (int, string)
	// jobStatus, when set, decides the status of every check.
	jobStatus func(jobID string, check int) string

	describes atomic.Int32
	submits   atomic.Int32
	polls     atomic.Int32
	downloads atomic.Int32

	mu        sync.Mutex
	jobs      map[string]Extent
	checks    map[string]int
	forms     []map[string][]string
	active    int
	maxActive int
}

func newFakeTileServer(t *testing.T) *fakeTileServer {
	t.Helper()
	f := &fakeTileServer{
		t:        t,
		density:  1.5,
		maxTiles: 5000,
		pending:  1,
		jobs:     make(map[string]Extent),
		checks:   make(map[string]int),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeTileServer) URL() string { return f.srv.URL + servicePath }

func (f *fakeTileServer) serve(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	switch {
	case p == servicePath && r.Method == http.MethodGet:
		f.describes.Add(1)
		writeJSON(w, map[string]any{"minLOD": 0, "maxLOD": 3})
	case p == servicePath+"/exportTiles" && r.Method == http.MethodPost:
		f.handleSubmit(w, r)
	case strings.HasPrefix(p, servicePath+"/jobs/"):
		f.handleStatus(w, strings.TrimPrefix(p, servicePath+"/jobs/"))
	case strings.HasPrefix(p, "/output/"):
		f.handleDownload(w, strings.TrimPrefix(p, "/output/"))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeTileServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	n := f.submits.Add(1)
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ext, err := ParseExtent([]byte(r.PostForm.Get("exportExtent")))
	if err != nil {
		writeJSON(w, map[string]any{"error": map[string]any{"code": 400, "message": err.Error()}})
		return
	}

	f.mu.Lock()
	f.forms = append(f.forms, r.PostForm)
	f.mu.Unlock()

	if f.submitHook != nil {
		if code, body := f.submitHook(ext); body != "" {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(body))
			return
		}
	}

	est := f.estimateOf(ext)
	if est > f.maxTiles {
		writeJSON(w, map[string]any{"error": map[string]any{
			"code":    500,
			"message": overflowMessage(est, f.maxTiles),
			"details": []string{},
		}})
		return
	}

	id := fmt.Sprintf("j%d", n)
	f.mu.Lock()
	f.jobs[id] = ext
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()
	writeJSON(w, map[string]any{"jobId": id, "jobStatus": "esriJobSubmitted"})
}

func (f *fakeTileServer) handleStatus(w http.ResponseWriter, id string) {
	f.polls.Add(1)
	f.mu.Lock()
	_, ok := f.jobs[id]
	f.checks[id]++
	check := f.checks[id]
	f.mu.Unlock()
	if !ok {
		writeJSON(w, map[string]any{"error": map[string]any{"code": 404, "message": "job not found"}})
		return
	}

	status := StatusSucceeded
	if f.jobStatus != nil {
		status = f.jobStatus(id, check)
	} else if check <= f.pending {
		status = "esriJobExecuting"
	}
	body := map[string]any{"jobId": id, "jobStatus": status}
	if status == StatusSucceeded {
		body["output"] = map[string]any{
			"outputUrl": []string{f.srv.URL + "/output/" + id + "/Basemap.vtpk?token=abc"},
		}
	}
	writeJSON(w, body)
}

func (f *fakeTileServer) handleDownload(w http.ResponseWriter, rest string) {
	f.downloads.Add(1)
	id := strings.SplitN(rest, "/", 2)[0]

	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	// give sibling pipelines a chance to overlap
	time.Sleep(2 * time.Millisecond)
	_, _ = w.Write([]byte("vtpk:" + id))
}

func (f *fakeTileServer) estimateOf(ext Extent) int {
	if f.estimate != nil {
		return f.estimate(ext)
	}
	return int(math.Round((ext.XMax - ext.XMin) * (ext.YMax - ext.YMin) * f.density))
}

func (f *fakeTileServer) submittedExtents() []Extent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Extent, 0, len(f.forms))
	for _, form := range f.forms {
		ext, err := ParseExtent([]byte(form["exportExtent"][0]))
		require.NoError(f.t, err)
		out = append(out, ext)
	}
	return out
}

func (f *fakeTileServer) form(i int) map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(f.t, len(f.forms), i)
	return f.forms[i]
}

func (f *fakeTileServer) peakActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func overflowMessage(est, max int) string {
	return fmt.Sprintf("Requested operation exceeds the allowed limits. The estimated tile count of (%d) is greater than the max export tiles count of (%d).", est, max)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// testConfig returns a fast polling config against the fake server.
func testConfig(f *fakeTileServer) Config {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return Config{
		URL:          f.URL(),
		Token:        "secret",
		PollInterval: time.Millisecond,
		Workers:      2,
		Client: ClientConfig{
			Timeout:         5 * time.Second,
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
		Logger: logger,
	}
}

func newTestService(t *testing.T, f *fakeTileServer, mutate ...func(*Config)) *Service {
	t.Helper()
	cfg := testConfig(f)
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

var testExtent = Extent{
	XMin: 0, YMin: 0, XMax: 100, YMax: 100,
	SpatialReference: SpatialReference{WKID: 102100, LatestWKID: 3857},
}
