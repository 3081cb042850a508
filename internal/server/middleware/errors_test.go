package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	apperrors "github.com/phoenix-pocx/phoenixd/internal/errors"
)

func chain(h http.Handler, logger *zap.Logger) http.Handler {
	return RequestID(AccessLog(logger)(Recovery(h)))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestRecovery(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		status  int
		message string
	}{
		{
			name: "no panic passes through",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusAccepted)
			},
			status: http.StatusAccepted,
		},
		{
			name:    "string panic",
			handler: func(http.ResponseWriter, *http.Request) { panic("plan index out of range") },
			status:  http.StatusInternalServerError,
			message: "panic: plan index out of range",
		},
		{
			name:    "error panic",
			handler: func(http.ResponseWriter, *http.Request) { panic(assert.AnError) },
			status:  http.StatusInternalServerError,
			message: "panic: " + assert.AnError.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			require.NotPanics(t, func() {
				Recovery(tt.handler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/plotter/start", nil))
			})
			assert.Equal(t, tt.status, rec.Code)
			if tt.message == "" {
				return
			}
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			detail := decode(t, rec)
			assert.Equal(t, apperrors.CodeInternal, detail.Code)
			assert.Equal(t, tt.message, detail.Message)
		})
	}
}

func TestRecovery_RepanicsAbortHandler(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	})
}

func TestChain_PanicCarriesCallerRequestID(t *testing.T) {
	h := chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plotter", nil)
	req.Header.Set(RequestIDHeader, "  op-42  ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "op-42", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "op-42", decode(t, rec).RequestID)
}

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = apperrors.RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}

func TestAccessLog_RecordsStatusAndBytes(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("busy"))
	}), zap.New(core))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/plotter/start", nil))

	entries := logs.FilterMessage("HTTP request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, http.MethodPost, fields["method"])
	assert.Equal(t, "/api/v1/plotter/start", fields["path"])
	assert.EqualValues(t, http.StatusConflict, fields["status"])
	assert.EqualValues(t, 4, fields["bytes"])
	assert.NotEmpty(t, fields["request_id"])
}

func TestWriteErrorResponse_OmitsEmptyDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	writeErrorResponse(rec, ErrorDetail{Code: apperrors.CodeConflict, Message: "plotter busy"}, http.StatusConflict)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotContains(t, rec.Body.String(), "details")
	assert.NotContains(t, rec.Body.String(), "request_id")
}
