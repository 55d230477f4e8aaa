package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/votetally/internal/config"
	"github.com/Clark-Hu/votetally/internal/domain"
	"github.com/Clark-Hu/votetally/internal/fraud"
	"github.com/Clark-Hu/votetally/internal/ledger"
	"github.com/Clark-Hu/votetally/internal/memstore"
)

type stubTrigger struct {
	report fraud.RunReport
	err    error
	calls  int
}

func (s *stubTrigger) TriggerNow(context.Context) (fraud.RunReport, error) {
	s.calls++
	return s.report, s.err
}

type failingHealth struct{}

func (failingHealth) HealthCheck(context.Context) error { return errors.New("db down") }

type testEnv struct {
	srv     *Server
	store   *memstore.Store
	ledger  *ledger.Ledger
	clock   *clockwork.FakeClock
	trigger *stubTrigger
}

func buildTestServer(tb testing.TB) *testEnv {
	tb.Helper()
	cfg := config.Config{
		Port:             "0",
		AuthToken:        "secret",
		ReadTimeoutSecs:  15,
		WriteTimeoutSecs: 15,
		IdleTimeoutSecs:  60,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	l := ledger.New(store, ledger.Options{Clock: clock, Logger: logger})
	trigger := &stubTrigger{}

	return &testEnv{
		srv:     New(cfg, store, l, trigger, logger),
		store:   store,
		ledger:  l,
		clock:   clock,
		trigger: trigger,
	}
}

func (e *testEnv) do(t testing.TB, method, path, voter, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if voter != "" {
		req.Header.Set(voterHeader, voter)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHandleCastVote_CreateThenUpdate(t *testing.T) {
	env := buildTestServer(t)

	rec := env.do(t, http.MethodPut, "/items/post-1/vote", "alice", `{"score":4}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	vote := decodeBody[voteResponse](t, rec)
	assert.Equal(t, "post-1", vote.ItemID)
	assert.Equal(t, "alice", vote.VoterID)
	assert.Equal(t, 4, vote.Score)
	assert.False(t, vote.Reversed)

	rec = env.do(t, http.MethodPut, "/items/post-1/vote", "alice", `{"score":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeBody[voteResponse](t, rec).Score)

	rec = env.do(t, http.MethodGet, "/items/post-1/vote", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeBody[voteResponse](t, rec).Score)
}

func TestHandleCastVote_Validation(t *testing.T) {
	tests := []struct {
		name   string
		voter  string
		body   string
		status int
	}{
		{"missing voter", "", `{"score":3}`, http.StatusUnauthorized},
		{"score above range", "v", `{"score":6}`, http.StatusUnprocessableEntity},
		{"negative score", "v", `{"score":-1}`, http.StatusUnprocessableEntity},
		{"fractional score", "v", `{"score":3.5}`, http.StatusUnprocessableEntity},
		{"missing score", "v", `{}`, http.StatusUnprocessableEntity},
		{"malformed json", "v", `{"score":`, http.StatusUnprocessableEntity},
		{"empty body", "v", ``, http.StatusUnprocessableEntity},
		{"unknown field", "v", `{"score":3,"weight":2}`, http.StatusBadRequest},
		{"boundary zero", "v", `{"score":0}`, http.StatusCreated},
		{"boundary five", "v", `{"score":5}`, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := buildTestServer(t)
			rec := env.do(t, http.MethodPut, "/items/post/vote", tt.voter, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			if tt.status != http.StatusCreated {
				agg, err := env.ledger.GetAggregate(context.Background(), "post")
				require.NoError(t, err)
				assert.Zero(t, agg.TotalVotes, "rejected request must not touch the aggregate")
			}
		})
	}
}

func TestHandleGetVote_NotFound(t *testing.T) {
	env := buildTestServer(t)
	rec := env.do(t, http.MethodGet, "/items/nope/vote", "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody[errorResponse](t, rec).Code)
}

func TestHandleGetAggregate(t *testing.T) {
	env := buildTestServer(t)

	rec := env.do(t, http.MethodGet, "/items/fresh/aggregate", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"itemId":"fresh","totalVotes":0,"averageScore":0.000}`, rec.Body.String())

	for i, s := range []int{3, 2, 4, 3, 2, 5, 3, 2, 3, 4, 0} {
		rec := env.do(t, http.MethodPut, "/items/post/vote", fmt.Sprintf("user%d", i), fmt.Sprintf(`{"score":%d}`, s))
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	_, err := env.ledger.ReverseVote(context.Background(), "user10", "post")
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/items/post/aggregate", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"averageScore":3.100`)
	agg := decodeBody[aggregateResponse](t, rec)
	assert.Equal(t, int64(10), agg.TotalVotes)
}

func TestHandleTriggerFraudDetection(t *testing.T) {
	t.Run("requires bearer token", func(t *testing.T) {
		env := buildTestServer(t)
		rec := env.do(t, http.MethodPost, "/admin/fraud-detection", "", "", "Authorization", "Bearer wrong")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Zero(t, env.trigger.calls)
	})

	t.Run("returns run report", func(t *testing.T) {
		env := buildTestServer(t)
		env.trigger.report = fraud.RunReport{Candidates: 2, Reversed: 1, BaselineSize: 11}
		rec := env.do(t, http.MethodPost, "/admin/fraud-detection", "", "", "Authorization", "Bearer secret")
		require.Equal(t, http.StatusOK, rec.Code)
		report := decodeBody[fraud.RunReport](t, rec)
		assert.Equal(t, 1, report.Reversed)
		assert.Equal(t, int64(11), report.BaselineSize)
	})

	t.Run("conflict while running", func(t *testing.T) {
		env := buildTestServer(t)
		env.trigger.err = fraud.ErrRunInProgress
		rec := env.do(t, http.MethodPost, "/admin/fraud-detection", "", "", "Authorization", "Bearer secret")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		env := buildTestServer(t)
		env.trigger.err = domain.NewStoreError("list votes", errors.New("timeout"))
		rec := env.do(t, http.MethodPost, "/admin/fraud-detection", "", "", "Authorization", "Bearer secret")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandleHealthz(t *testing.T) {
	env := buildTestServer(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	env.srv.health = failingHealth{}
	rec = env.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := buildTestServer(t)
	env.do(t, http.MethodPut, "/items/m/vote", "alice", `{"score":1}`)

	rec := env.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "votes_cast_total")
}

func TestHandleCastVote_DirectWithRouteParam(t *testing.T) {
	env := buildTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/items/a%2Fb/vote", bytes.NewBufferString(`{"score":3}`))
	req.Header.Set(voterHeader, "bob")
	req = attachItemParam(req, "a%2Fb")
	rec := httptest.NewRecorder()

	env.srv.handleCastVote(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "a/b", decodeBody[voteResponse](t, rec).ItemID)
}

func attachItemParam(req *http.Request, itemID string) *http.Request {
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("itemID", itemID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, ctx))
}
