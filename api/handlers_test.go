package api

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"portscope/scanner"
)

func TestCreateAndPollScan(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	id := env.create(t, `{"host":"192.0.2.10","ports":"20-22","workers":2,"timeout":0.5}`)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	env.wait(t, id)

	w := env.do(t, http.MethodGet, "/api/v1/scans/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[scanner.Snapshot](t, w)
	require.Equal(t, scanner.JobCompleted, snap.State)
	require.Equal(t, 100, snap.ProgressPercent)
	require.Equal(t, 3, snap.Total)
	require.Equal(t, 3, snap.Closed)
	require.Equal(t, 2, snap.EffectiveWorkers)
	require.Equal(t, 4, snap.SystemCores)
	require.Equal(t, 8, snap.MaxRecommendedWorkers)
	require.NotNil(t, snap.DurationSeconds)
	require.Empty(t, snap.Results)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/scans/%s?logs_index=%d", id, snap.NextLogIndex-1), "")
	require.Equal(t, http.StatusOK, w.Code)
	tail := decode[scanner.Snapshot](t, w)
	require.Len(t, tail.Logs, 1)
	require.Equal(t, snap.Logs[len(snap.Logs)-1], tail.Logs[0])
}

func TestCreateAppliesDefaults(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	id := env.create(t, `{"host":"192.0.2.10","ports":"80"}`)
	env.wait(t, id)

	snap, err := env.registry.Get(id, 0)
	require.NoError(t, err)
	require.Equal(t, 3, snap.RequestedWorkers)
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	for name, tc := range map[string]struct {
		body  string
		field string
	}{
		"bad ports":         {`{"host":"h","ports":"10-1"}`, "ports"},
		"out of range":      {`{"host":"h","ports":"70000"}`, "ports"},
		"blank host":        {`{"host":"   ","ports":"22"}`, "host"},
		"negative workers":  {`{"host":"h","ports":"22","workers":-1}`, "workers"},
		"negative timeout":  {`{"host":"h","ports":"22","timeout":-2}`, "timeout"},
		"excessive timeout": {`{"host":"h","ports":"22","timeout":3600}`, "timeout"},
	} {
		t.Run(name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/scans", tc.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			require.Equal(t, tc.field, decode[ErrorResponse](t, w).Field)
		})
	}
	require.Zero(t, env.registry.Len())
}

func TestCreateMalformedPayload(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, http.MethodPost, "/api/v1/scans", `{"host":`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/scans", `{"ports":"22"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, decode[ErrorResponse](t, w).Error, "invalid request payload")
}

func TestGetScanErrors(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, http.MethodGet, "/api/v1/scans/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/scans/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	id := env.create(t, `{"host":"192.0.2.10","ports":"22"}`)
	w = env.do(t, http.MethodGet, "/api/v1/scans/"+id+"?logs_index=-1", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "logs_index", decode[ErrorResponse](t, w).Field)
	env.wait(t, id)
}

func TestStopScan(t *testing.T) {
	env := newTestEnv(t, envOptions{dialer: hangDialer{}})

	w := env.do(t, http.MethodPost, "/api/v1/scans/"+uuid.NewString()+"/stop", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	id := env.create(t, `{"host":"192.0.2.10","ports":"1-100","workers":1,"timeout":0.2}`)
	for range 2 {
		w = env.do(t, http.MethodPost, "/api/v1/scans/"+id+"/stop", "")
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[StopResponse](t, w)
		require.True(t, resp.Acknowledged)
		require.Equal(t, id, resp.ID)
	}
	env.wait(t, id)

	snap, err := env.registry.Get(id, 0)
	require.NoError(t, err)
	require.Equal(t, scanner.JobStopped, snap.State)
	require.Less(t, snap.Probed, snap.Total)

	w = env.do(t, http.MethodPost, "/api/v1/scans/"+id+"/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, scanner.JobStopped, decode[StopResponse](t, w).Status)
}

func TestHistoryDisabled(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, http.MethodGet, "/api/v1/history/"+uuid.NewString(), "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHistoryArchive(t *testing.T) {
	archive := newMemArchive()
	env := newTestEnv(t, envOptions{archive: archive})

	id := env.create(t, `{"host":"192.0.2.10","ports":"22"}`)
	env.wait(t, id)
	require.Eventually(t, func() bool { return archive.has(id) }, 5*time.Second, 10*time.Millisecond)

	w := env.do(t, http.MethodGet, "/api/v1/history/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	archived := decode[ArchivedScan](t, w)
	require.Equal(t, id, archived.Snapshot.ID)
	require.Equal(t, scanner.JobCompleted, archived.Snapshot.State)

	w = env.do(t, http.MethodGet, "/api/v1/history/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, envOptions{apiKey: "s3cret"})

	w := env.do(t, http.MethodGet, "/api/v1/scans/"+uuid.NewString(), "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/scans/"+uuid.NewString(), "", "Authorization", "Basic czNjcmV0")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/scans/"+uuid.NewString(), "", "Authorization", "Bearer wrong")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/scans/"+uuid.NewString(), "", "Authorization", "Bearer s3cret")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHealthAndHeaders(t *testing.T) {
	archive := newMemArchive()
	env := newTestEnv(t, envOptions{archive: archive})

	w := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, HealthResponse{Status: "ok", Archive: "enabled"}, decode[HealthResponse](t, w))
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	_, err := uuid.Parse(w.Header().Get(requestIDHeader))
	require.NoError(t, err)

	archive.pingErr = errTransient
	w = env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, "unavailable", decode[HealthResponse](t, w).Archive)

	given := uuid.NewString()
	w = env.do(t, http.MethodGet, "/healthz", "", requestIDHeader, given)
	require.Equal(t, given, w.Header().Get(requestIDHeader))
}

func TestSwaggerServed(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, http.MethodGet, "/swagger/doc.json", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "/scans/{id}/stop")
}
