package processing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/posnetek/backend/internal/middleware"
	"github.com/posnetek/backend/internal/recordings"
)

type stubRunner struct {
	res *Result
	err error
	got uuid.UUID
}

func (s *stubRunner) Process(_ context.Context, _, recordingID uuid.UUID) (*Result, error) {
	s.got = recordingID
	return s.res, s.err
}

func serveProcess(t *testing.T, runner Runner, dev bool, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	userID := uuid.New()
	r.POST("/process", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
	}, NewHandler(runner, dev, nil).Process)

	req := httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandlerProcessOK(t *testing.T) {
	id := uuid.New()
	runner := &stubRunner{res: &Result{RecordingID: id, Status: "completed", Summary: "povzetek", Title: "Naslov"}}

	w := serveProcess(t, runner, false, `{"recordingId":"`+id.String()+`"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, runner.got)
	assert.Contains(t, w.Body.String(), `"recordingId":"`+id.String()+`"`)
	assert.Contains(t, w.Body.String(), `"summary":"povzetek"`)
}

func TestHandlerProcessErrors(t *testing.T) {
	id := uuid.New().String()
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"bad json", `{`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"bad id", `{"recordingId":"nope"}`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"not found", `{"recordingId":"` + id + `"}`, recordings.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"locked", `{"recordingId":"` + id + `"}`, ErrAlreadyProcessing, http.StatusConflict, "CONFLICT"},
		{"failed", `{"recordingId":"` + id + `"}`, errors.Join(ErrProcessingFailed, errors.New("groq said no")), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serveProcess(t, &stubRunner{err: tc.err}, false, tc.body)
			assert.Equal(t, tc.status, w.Code)
			assert.Contains(t, w.Body.String(), tc.code)
			assert.NotContains(t, w.Body.String(), "groq")
			assert.NotContains(t, w.Body.String(), "detail")
		})
	}
}

func TestHandlerProcessDevDetail(t *testing.T) {
	w := serveProcess(t, &stubRunner{}, true, `{"recordingId":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_RECORDING_ID")
}
