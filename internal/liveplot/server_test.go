package liveplot_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/specsweep/internal/export"
	"codeberg.org/mutker/specsweep/internal/history"
	"codeberg.org/mutker/specsweep/internal/instrument/sim"
	"codeberg.org/mutker/specsweep/internal/liveplot"
	"codeberg.org/mutker/specsweep/internal/logger"
	"codeberg.org/mutker/specsweep/internal/sweep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gateMono blocks every move until release is closed.
type gateMono struct {
	release chan struct{}
	moves   atomic.Int32
}

func (m *gateMono) MoveTo(context.Context, float64) error {
	m.moves.Add(1)
	<-m.release
	return nil
}

type harness struct {
	ts      *httptest.Server
	srv     *liveplot.Server
	hub     *liveplot.Broadcaster
	ctrl    *sweep.Controller
	archive history.Archive
}

func newHarness(t *testing.T, mono sweep.Monochromator, scope sweep.Scope, archive history.Archive) *harness {
	t.Helper()

	hub := liveplot.NewBroadcaster(logger.Nop())
	observers := sweep.Observers{hub}
	if archive != nil {
		observers = append(observers, history.NewRecorder(archive, logger.Nop()))
	}
	ctrl := sweep.New(mono, scope,
		sweep.WithPlotSink(hub),
		sweep.WithObserver(observers),
	)
	srv := liveplot.NewServer(context.Background(), ctrl, hub, export.NewService(nil), archive,
		liveplot.Defaults{Start: 500, Stop: 510, Step: 1}, logger.Nop())

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})

	return &harness{ts: ts, srv: srv, hub: hub, ctrl: ctrl, archive: archive}
}

func simScope() (*sim.Monochromator, sweep.Scope) {
	mono := &sim.Monochromator{}
	osc := sim.NewOscilloscope(mono, 3, sim.Line{Center: 502, Width: 1, Amplitude: 1})
	return mono, sweep.WithScope(osc, sweep.Channel1)
}

func (h *harness) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, rd)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	return body.Code
}

func TestStartWhileRunningConflicts(t *testing.T) {
	mono := &gateMono{release: make(chan struct{})}
	h := newHarness(t, mono, sweep.NoScope(), nil)

	resp, _ := h.do(t, http.MethodPost, "/api/sweep", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return mono.moves.Load() == 1 }, time.Second, 5*time.Millisecond)

	resp, data := h.do(t, http.MethodPost, "/api/sweep", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "sweep_running", errorCode(t, data))

	resp, _ = h.do(t, http.MethodPost, "/api/sweep/cancel", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	close(mono.release)
	h.srv.Wait()

	resp, data = h.do(t, http.MethodGet, "/api/sweep", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state struct {
		Phase     string `json:"phase"`
		Running   bool   `json:"running"`
		Cancelled bool   `json:"cancelled"`
	}
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, "completed", state.Phase)
	assert.False(t, state.Running)
	assert.True(t, state.Cancelled)
	assert.Equal(t, int32(1), mono.moves.Load(), "cancel takes effect at the next step")

	resp, data = h.do(t, http.MethodGet, "/api/sweep/dataset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ds struct {
		Cancelled bool           `json:"cancelled"`
		Samples   []sweep.Sample `json:"samples"`
	}
	require.NoError(t, json.Unmarshal(data, &ds))
	assert.True(t, ds.Cancelled)
	assert.Empty(t, ds.Samples)
}

func TestNoDatasetBeforeFirstSweep(t *testing.T) {
	mono, scope := simScope()
	h := newHarness(t, mono, scope, nil)

	resp, data := h.do(t, http.MethodGet, "/api/sweep/dataset", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "no_dataset", errorCode(t, data))

	resp, _ = h.do(t, http.MethodGet, "/api/sweep/export/csv", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartRejectsBadRequests(t *testing.T) {
	mono, scope := simScope()
	h := newHarness(t, mono, scope, nil)

	resp, data := h.do(t, http.MethodPost, "/api/sweep", `{"start": 600, "stop": 500}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_range", errorCode(t, data))

	resp, data = h.do(t, http.MethodPost, "/api/sweep", `{"start": 0, "stop": 1e12, "step": 1e-9}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_range", errorCode(t, data))

	resp, data = h.do(t, http.MethodPost, "/api/sweep", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_argument", errorCode(t, data))

	assert.Zero(t, mono.Moves())
}

func TestExportLastSweep(t *testing.T) {
	mono, scope := simScope()
	h := newHarness(t, mono, scope, nil)

	resp, _ := h.do(t, http.MethodPost, "/api/sweep", `{"start": 500, "stop": 504, "step": 1}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	h.srv.Wait()

	resp, data := h.do(t, http.MethodGet, "/api/sweep/export/csv", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "Spectrum_range_500_504_step_1_")
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "Wavelength,Amplitude", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "500,"))

	resp, data = h.do(t, http.MethodGet, "/api/sweep/export/pdf", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "unsupported_export_format", errorCode(t, data))

	resp, data = h.do(t, http.MethodGet, "/api/sweep/dataset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ds struct {
		Samples []sweep.Sample `json:"samples"`
		Stats   sweep.Stats    `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(data, &ds))
	assert.Len(t, ds.Samples, 5)
	assert.Equal(t, 5, ds.Stats.Sampled)
}

func TestHistoryEndpoints(t *testing.T) {
	dir := t.TempDir()
	archive, err := history.NewService(history.Config{
		DBPath:  filepath.Join(dir, "history.db"),
		Enabled: true,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	mono, scope := simScope()
	h := newHarness(t, mono, scope, archive)

	resp, _ := h.do(t, http.MethodPost, "/api/sweep", `{"start": 500, "stop": 502, "step": 1}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	h.srv.Wait()

	resp, data := h.do(t, http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []history.Summary
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].Samples)

	resp, data = h.do(t, http.MethodGet, "/api/history/"+strconv.FormatInt(list[0].ID, 10)+"/export/csv", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 4)

	resp, _ = h.do(t, http.MethodGet, "/api/history/999/export/csv", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/api/history/abc/export/csv", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/api/history?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
