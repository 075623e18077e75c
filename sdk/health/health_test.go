package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmorn/m4d-automod/sdk/status"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func healthy() *status.Tracker {
	st := status.NewTracker()
	st.Set(status.ConnectionAlive, true)
	st.Set(status.PersistenceHealthy, true)
	st.Set(status.ClassifierHealthy, true)
	return st
}

func getHealth(t *testing.T, h http.Handler) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestHealthOK(t *testing.T) {
	code, resp := getHealth(t, NewRouter(Options{Status: healthy(), Store: pinger{}}))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, status.Snapshot{ConnectionAlive: true, PersistenceHealthy: true, ClassifierHealthy: true}, resp.Flags)
	assert.Equal(t, "ok", resp.Checks["database"])
}

func TestHealthDisconnected(t *testing.T) {
	st := healthy()
	st.Set(status.ConnectionAlive, false)
	code, resp := getHealth(t, NewRouter(Options{Status: st}))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", resp.Status)
	assert.False(t, resp.Flags.ConnectionAlive)
}

func TestHealthDegraded(t *testing.T) {
	st := healthy()
	st.Set(status.ClassifierHealthy, false)
	code, resp := getHealth(t, NewRouter(Options{Status: st}))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", resp.Status)

	code, resp = getHealth(t, NewRouter(Options{Status: healthy(), Store: pinger{err: errors.New("refused")}}))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unreachable", resp.Checks["database"])
}

func TestStatusGaugesAndMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	st := healthy()
	st.Set(status.PersistenceHealthy, false)
	require.NoError(t, RegisterStatusGauges(reg, st))

	expected := `
# HELP automod_status Health flags of the bot (1 healthy, 0 not).
# TYPE automod_status gauge
automod_status{flag="classifierHealthy"} 1
automod_status{flag="connectionAlive"} 1
automod_status{flag="persistenceHealthy"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "automod_status"))

	rec := httptest.NewRecorder()
	NewRouter(Options{Status: st, Gatherer: reg}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `automod_status{flag="persistenceHealthy"} 0`)
}

func TestRegisterStatusGaugesTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterStatusGauges(reg, healthy()))
	assert.Error(t, RegisterStatusGauges(reg, healthy()))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveListener(ctx, ln, NewRouter(Options{Status: healthy()}), nil)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
