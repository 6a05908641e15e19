package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbt-oracle/internal/backend"
	"github.com/pbt-oracle/internal/batch"
	"github.com/pbt-oracle/internal/circuitbreaker"
	"github.com/pbt-oracle/internal/config"
	"github.com/pbt-oracle/internal/errors"
	"github.com/pbt-oracle/internal/pbt"
	"github.com/pbt-oracle/internal/types"
)

// Mock services for testing

type mockProcessor struct {
	processFunc func(ctx context.Context, mode batch.Mode, rec *batch.Record) (types.Status, error)
	modes       []batch.Mode
}

func (m *mockProcessor) Process(ctx context.Context, mode batch.Mode, rec *batch.Record) (types.Status, error) {
	m.modes = append(m.modes, mode)
	if m.processFunc != nil {
		return m.processFunc(ctx, mode, rec)
	}
	return types.StatusPass, rec.Set("status", types.StatusPass)
}

type mockRuns struct {
	runs    map[string]*types.RunSummary
	records map[string][]types.RunRecord
}

func (m *mockRuns) GetRun(ctx context.Context, runID string) (*types.RunSummary, error) {
	run, ok := m.runs[runID]
	if !ok {
		return nil, errors.NewNotFoundError("run", runID)
	}
	return run, nil
}

func (m *mockRuns) ListRecords(ctx context.Context, runID string) ([]types.RunRecord, error) {
	return m.records[runID], nil
}

const addRecord = `{"id":"a1","description":"Add two numbers.","function_signature":"def add (a b : Nat) : Nat","property_def":"def add_spec (a b r : Nat) : Prop := r = a + b","code_solution":"def add (a b : Nat) : Nat := a + b"}`

func testServer(p RecordProcessor, opts ...Option) *Server {
	return NewServer(&ServerConfig{Host: "localhost", Port: "0"}, p, opts...)
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) types.ServiceError {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Error
}

func TestHandleModeRoutes(t *testing.T) {
	tests := []struct {
		path string
		mode batch.Mode
	}{
		{"/api/pbt", batch.ModePBT},
		{"/api/tests", batch.ModeTests},
		{"/api/verify", batch.ModeVerify},
		{"/api/examples", batch.ModeExamples},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			p := &mockProcessor{}
			rr := doRequest(testServer(p), http.MethodPost, tt.path, addRecord)

			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, []batch.Mode{tt.mode}, p.modes)

			var body map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.JSONEq(t, `"a1"`, string(body["id"]))
			assert.JSONEq(t, `"pass"`, string(body["status"]))
		})
	}
}

func TestHandleModePassesDecodedSpec(t *testing.T) {
	p := &mockProcessor{processFunc: func(ctx context.Context, mode batch.Mode, rec *batch.Record) (types.Status, error) {
		assert.Equal(t, "def add (a b : Nat) : Nat", rec.Spec.FunctionSignature)
		assert.Equal(t, "Sum.", rec.Spec.Description)
		return types.StatusUnknown, rec.Set("tests", []types.GeneratedTest{{Input: "(1) (2)", Output: "3"}})
	}}
	body := `{"statement":"Sum.","function_signature":"def add (a b : Nat) : Nat"}`

	rr := doRequest(testServer(p), http.MethodPost, "/api/tests", body)
	require.Equal(t, http.StatusOK, rr.Code)

	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.JSONEq(t, `[{"input":"(1) (2)","output":"3"}]`, string(got["tests"]))
	assert.JSONEq(t, `"Sum."`, string(got["description"]))
}

func TestHandleModeInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{"id":`},
		{"not an object", `null`},
		{"array", `[1,2]`},
		{"missing signature", `{"id":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProcessor{}
			rr := doRequest(testServer(p), http.MethodPost, "/api/pbt", tt.body)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Empty(t, p.modes)
		})
	}
}

func TestHandleModeServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "script error",
			err:        errors.NewScriptError("#sample T", "", "failed to synthesize", 1),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   errors.CodeScriptError,
		},
		{
			name:       "backend unavailable",
			err:        errors.NewBackendUnavailableError("lake", fmt.Errorf("not found")),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   ErrCodeServiceUnavailable,
		},
		{
			name:       "internal error hides message",
			err:        fmt.Errorf("connection reset by peer"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   ErrCodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProcessor{processFunc: func(ctx context.Context, mode batch.Mode, rec *batch.Record) (types.Status, error) {
				return "", tt.err
			}}
			rr := doRequest(testServer(p), http.MethodPost, "/api/verify", addRecord)

			assert.Equal(t, tt.wantStatus, rr.Code)
			svcErr := decodeError(t, rr)
			assert.Equal(t, tt.wantCode, svcErr.Code)
			assert.NotContains(t, svcErr.Message, "connection reset")
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	p := &mockProcessor{processFunc: func(ctx context.Context, mode batch.Mode, rec *batch.Record) (types.Status, error) {
		panic("boom")
	}}
	rr := doRequest(testServer(p), http.MethodPost, "/api/pbt", addRecord)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, ErrCodeInternalError, decodeError(t, rr).Code)
}

func TestHandleGetRun(t *testing.T) {
	runID := "5b0e5f5e-8a6b-4c55-9d2c-0f6f3f1b2a10"
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	runs := &mockRuns{
		runs: map[string]*types.RunSummary{
			runID: {ID: runID, Mode: "verify", StartedAt: started, Processed: 1},
		},
		records: map[string][]types.RunRecord{
			runID: {{RunID: runID, Index: 0, Status: types.StatusFail, Payload: []byte(`{"id":"a1","status":"fail"}`), CreatedAt: started}},
		},
	}
	s := testServer(&mockProcessor{}, WithRunReader(runs))

	t.Run("found", func(t *testing.T) {
		rr := doRequest(s, http.MethodGet, "/api/runs/"+runID, "")
		require.Equal(t, http.StatusOK, rr.Code)

		var resp runResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, runID, resp.Run.ID)
		assert.Equal(t, 1, resp.Run.Processed)
		require.Len(t, resp.Records, 1)
		assert.Equal(t, types.StatusFail, resp.Records[0].Status)
		assert.JSONEq(t, `{"id":"a1","status":"fail"}`, string(resp.Records[0].Record))
	})

	t.Run("not found", func(t *testing.T) {
		rr := doRequest(s, http.MethodGet, "/api/runs/9d7c0a52-1111-4c55-9d2c-0f6f3f1b2a10", "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, ErrCodeNotFound, decodeError(t, rr).Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		rr := doRequest(s, http.MethodGet, "/api/runs/not-a-uuid", "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("no ledger", func(t *testing.T) {
		rr := doRequest(testServer(&mockProcessor{}), http.MethodGet, "/api/runs/"+runID, "")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("prover:test"))
		s := testServer(&mockProcessor{},
			WithBreaker(cb),
			WithHealthCheck("redis", func(ctx context.Context) error { return nil }),
		)
		rr := doRequest(s, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, rr.Code)

		var body struct {
			Status       string                `json:"status"`
			Dependencies map[string]string     `json:"dependencies"`
			Prover       *circuitbreaker.Stats `json:"prover"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body.Status)
		assert.Equal(t, "ok", body.Dependencies["redis"])
		require.NotNil(t, body.Prover)
		assert.Equal(t, circuitbreaker.StateClosed, body.Prover.State)
	})

	t.Run("degraded", func(t *testing.T) {
		s := testServer(&mockProcessor{},
			WithHealthCheck("postgres", func(ctx context.Context) error { return fmt.Errorf("connection refused") }),
		)
		rr := doRequest(s, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Contains(t, rr.Body.String(), "connection refused")
	})
}

func TestMetricsRoute(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pbt_records_total 1\n")
	})
	rr := doRequest(testServer(&mockProcessor{}, WithMetrics(h)), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "pbt_records_total")

	rr = doRequest(testServer(&mockProcessor{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	s := NewServer(&ServerConfig{RequestsPerMinute: 1, Burst: 1}, &mockProcessor{})

	rr := doRequest(s, http.MethodPost, "/api/pbt", addRecord)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(s, http.MethodPost, "/api/pbt", addRecord)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, ErrCodeRateLimitExceeded, decodeError(t, rr).Code)

	// another client has its own bucket
	req := httptest.NewRequest(http.MethodPost, "/api/pbt", bytes.NewBufferString(addRecord))
	req.Header.Set("X-Client-ID", "other")
	other := httptest.NewRecorder()
	s.Handler().ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)

	// health is never limited
	rr = doRequest(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	rr := doRequest(testServer(&mockProcessor{}), http.MethodOptions, "/api/pbt", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	s := testServer(&mockProcessor{})

	rr := doRequest(s, http.MethodGet, "/health", "")
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, "req-42", rr.Header().Get("X-Request-ID"))
}

func TestCompressionMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/pbt", bytes.NewBufferString(addRecord))
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	testServer(&mockProcessor{}).Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(rr.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Contains(t, string(plain), `"id":"a1"`)
}

func TestConcurrentRequestsAreSerialized(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
	)
	exec := backend.ExecutorFunc(func(ctx context.Context, s backend.Script) (*backend.Result, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		mu.Unlock()
		defer func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		}()

		time.Sleep(10 * time.Millisecond)
		if s.Kind == backend.KindSample {
			return &backend.Result{Stdout: "1\n2"}, nil
		}
		return &backend.Result{Stdout: "3"}, nil
	})
	tester := pbt.NewTester(exec, backend.DefaultMarkers(), nil, config.SamplingConfig{GenerateCount: 2, MaxAttempts: 1}, nil)
	s := testServer(batch.NewDriver(tester, nil, nil, config.BatchConfig{}, nil))

	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = doRequest(s, http.MethodPost, "/api/tests", addRecord).Code
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []int{http.StatusOK, http.StatusOK}, codes)
	assert.Equal(t, 1, maxSeen)
}

func TestPaceDeadlineIsServiceUnavailable(t *testing.T) {
	p := &mockProcessor{processFunc: func(ctx context.Context, mode batch.Mode, rec *batch.Record) (types.Status, error) {
		return "", fmt.Errorf("%w: rate: Wait(n=1) would exceed context deadline", batch.ErrPaceDeadline)
	}}

	rr := doRequest(testServer(p), http.MethodPost, "/api/pbt", addRecord)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, ErrCodeServiceUnavailable, decodeError(t, rr).Code)
}
