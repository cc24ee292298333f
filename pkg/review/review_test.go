package review

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwonlabs/kwon-backplane/pkg/flow"
	"github.com/kwonlabs/kwon-backplane/pkg/store"
)

type fakeOrchestrator struct {
	lastPeriod   string
	lastThread   string
	lastTaskID   int64
	lastDecision string
	lastReviewer string
	err          error
}

func (f *fakeOrchestrator) Run(ctx context.Context, period string) (*flow.RunStatus, error) {
	f.lastPeriod = period
	if f.err != nil {
		return nil, f.err
	}
	return &flow.RunStatus{ThreadID: "thread-1", TaskID: 7, Status: "pending", FinalGrade: "B"}, nil
}

func (f *fakeOrchestrator) Resume(ctx context.Context, threadID, decision, comment, reviewer string) (*flow.RunStatus, error) {
	f.lastThread, f.lastDecision, f.lastReviewer = threadID, decision, reviewer
	if f.err != nil {
		return nil, f.err
	}
	return &flow.RunStatus{ThreadID: threadID, Status: "completed", FinalGrade: "B"}, nil
}

func (f *fakeOrchestrator) ResumeTask(ctx context.Context, taskID int64, decision, comment, reviewer string) (*flow.RunStatus, error) {
	f.lastTaskID, f.lastDecision, f.lastReviewer = taskID, decision, reviewer
	if f.err != nil {
		return nil, f.err
	}
	return &flow.RunStatus{ThreadID: "thread-1", TaskID: taskID, Status: "completed"}, nil
}

func newReviewStore(t *testing.T) *store.ReviewStore {
	t.Helper()
	db, driver, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := store.NewReviewStore(db, driver)
	require.NoError(t, err)
	return s
}

func postJSON(t *testing.T, mux *http.ServeMux, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestRunEndpoint(t *testing.T) {
	orch := &fakeOrchestrator{}
	h := NewHandler(newReviewStore(t), orch, nil, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := postJSON(t, mux, "/api/orchestrator/run", map[string]string{"period": "2025-10"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-10", orch.lastPeriod)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp["status"])
	assert.Equal(t, float64(7), resp["task_id"])

	rec = postJSON(t, mux, "/api/orchestrator/run", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitDecisionByThread(t *testing.T) {
	orch := &fakeOrchestrator{}
	h := NewHandler(newReviewStore(t), orch, nil, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := postJSON(t, mux, "/api/review/submit",
		map[string]any{"thread_id": "thread-1", "decision": "approve", "reviewer": "kim"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "thread-1", orch.lastThread)
	assert.Equal(t, "approve", orch.lastDecision)
	assert.Equal(t, "kim", orch.lastReviewer)

	rec = postJSON(t, mux, "/api/review/submit",
		map[string]any{"task_id": 9, "decision": "revise", "comment": "redo"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(9), orch.lastTaskID)

	rec = postJSON(t, mux, "/api/review/submit",
		map[string]any{"thread_id": "thread-1", "decision": "maybe"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, mux, "/api/review/submit", map[string]any{"decision": "approve"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitErrorMapping(t *testing.T) {
	orch := &fakeOrchestrator{err: store.ErrCheckpointMissing}
	h := NewHandler(newReviewStore(t), orch, nil, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := postJSON(t, mux, "/api/review/submit",
		map[string]any{"thread_id": "gone", "decision": "approve"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	orch.err = flow.ErrNotInterrupted
	rec = postJSON(t, mux, "/api/review/submit",
		map[string]any{"thread_id": "thread-1", "decision": "approve"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTaskListingAndHistory(t *testing.T) {
	tasks := newReviewStore(t)
	ctx := context.Background()
	id, err := tasks.CreateTask(ctx, &store.ReviewTask{
		Period: "2025-10", Status: "pending", FlowRunID: "thread-1", ReportPath: "artifacts/REP-2025-10.docx",
	})
	require.NoError(t, err)

	h := NewHandler(tasks, &fakeOrchestrator{}, nil, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/review/tasks?status=pending", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Tasks []store.ReviewTask `json:"tasks"`
		Count int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "thread-1", list.Tasks[0].FlowRunID)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/review/tasks/"+itoa(id), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/review/tasks/99999", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/review/history/2025-10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var hist struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Equal(t, 1, hist.Count)
}

func itoa(id int64) string {
	data, _ := json.Marshal(id)
	return string(data)
}

func TestAuthTokenRoundTrip(t *testing.T) {
	a := NewAuth("secret", newReviewStore(t))
	token, err := a.TokenFor("kim")
	require.NoError(t, err)

	reviewer, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "kim", reviewer)

	_, err = a.Verify(token + "x")
	assert.Error(t, err)

	expired := NewAuth("secret", nil).WithClock(func() time.Time {
		return time.Now().Add(48 * time.Hour)
	})
	_, err = expired.Verify(token)
	assert.Error(t, err)
}

func TestAuthMiddlewareGuardsEndpoints(t *testing.T) {
	tasks := newReviewStore(t)
	require.NoError(t, tasks.UpsertReviewer(context.Background(), "kim", "hunter2"))

	auth := NewAuth("secret", tasks)
	orch := &fakeOrchestrator{}
	h := NewHandler(tasks, orch, auth, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	auth.RegisterRoutes(mux)

	// no token
	rec := postJSON(t, mux, "/api/orchestrator/run", map[string]string{"period": "2025-10"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// login with bad credentials
	rec = postJSON(t, mux, "/api/review/login",
		map[string]string{"reviewer": "kim", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// login and use the token
	rec = postJSON(t, mux, "/api/review/login",
		map[string]string{"reviewer": "kim", "password": "hunter2"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)

	headers := map[string]string{"Authorization": "Bearer " + login.Token}
	rec = postJSON(t, mux, "/api/review/submit",
		map[string]any{"thread_id": "thread-1", "decision": "approve"}, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	// the token subject overrides any client-claimed reviewer
	assert.Equal(t, "kim", orch.lastReviewer)
}
