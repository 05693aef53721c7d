package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pass(_ context.Context) error { return nil }

func fail(msg string) CheckFunc {
	return func(_ context.Context) error { return errors.New(msg) }
}

func drive(c *check, times int) {
	for range times {
		c.run(context.Background())
	}
}

func decodeProbe(t *testing.T, w *httptest.ResponseRecorder) probeResponse {
	t.Helper()
	var resp probeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestServeLive_AllPassing(t *testing.T) {
	h := New()
	h.AddLiveness("goroutines", time.Second, pass)
	h.AddLiveness("gc", time.Second, pass)

	w := httptest.NewRecorder()
	h.ServeLive(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "up", decodeProbe(t, w).Status)
}

func TestServeLive_FailureThreshold(t *testing.T) {
	h := New()
	h.AddLiveness("db", time.Second, fail("connection refused"))

	// Two consecutive failures stay under the threshold of three.
	drive(h.live[0], 2)

	w := httptest.NewRecorder()
	h.ServeLive(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	drive(h.live[0], 1)

	w = httptest.NewRecorder()
	h.ServeLive(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	resp := decodeProbe(t, w)
	assert.Equal(t, "down", resp.Status)
	assert.Equal(t, "connection refused", resp.Failures["db"])
}

func TestServeLive_Recovery(t *testing.T) {
	h := New()
	healthy := false
	h.AddLiveness("flaky", time.Second, func(_ context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("still down")
	})

	drive(h.live[0], 3)
	assert.False(t, h.live[0].healthy.Load())

	// A single success is enough to flip back.
	healthy = true
	drive(h.live[0], 1)
	assert.True(t, h.live[0].healthy.Load())
}

func TestServeReady_GatedOnSetReady(t *testing.T) {
	h := New()
	h.AddReadiness("db", time.Second, pass)

	w := httptest.NewRecorder()
	h.ServeReady(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decodeProbe(t, w).Failures, "startup")

	h.SetReady(true)

	w = httptest.NewRecorder()
	h.ServeReady(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestIsReady_FailingCheck(t *testing.T) {
	h := New()
	h.AddReadiness("db", time.Second, fail("timeout"))
	h.SetReady(true)

	assert.True(t, h.IsReady())

	drive(h.readyc[0], 3)
	assert.False(t, h.IsReady())
}

func TestStart_RunsChecks(t *testing.T) {
	h := New()
	ran := make(chan struct{}, 1)
	h.AddLiveness("tick", time.Second, func(_ context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})

	h.Start(context.Background(), 10*time.Millisecond)
	defer h.Stop()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("check never ran")
	}
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}
