package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"britepool/pkg/errutil"
	"britepool/pkg/identity"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type errorBody struct {
	Error struct {
		Code    string           `json:"code"`
		Message string           `json:"message"`
		Details []errutil.Detail `json:"details"`
	} `json:"error"`
}

func newEngine(v TokenVerifier) *gin.Engine {
	r := gin.New()
	r.Use(Error())
	r.GET("/me", Authenticate(v), func(c *gin.Context) {
		a, err := identity.FromContext(c.Request.Context())
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, a)
	})
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("db down"))
	})
	r.GET("/missing", func(c *gin.Context) {
		_ = c.Error(errutil.NotFound("entry not found", nil))
	})
	return r
}

func TestAuthenticate(t *testing.T) {
	signer, err := identity.NewSigner([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	r := newEngine(signer)

	tok, err := signer.Issue(identity.Actor{MemberID: "m-1", Role: identity.RoleMember})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var actor identity.Actor
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &actor))
	require.Equal(t, "m-1", actor.MemberID)

	for _, header := range []string{"", "Bearer", "Basic abc", "Bearer garbage"} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code, header)

		var body errorBody
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, string(errutil.StatusUnauthorized), body.Error.Code)
	}
}

func TestErrorRendering(t *testing.T) {
	r := newEngine(nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, string(errutil.StatusInternal), body.Error.Code)
	require.NotContains(t, body.Error.Message, "db down")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestLoggerContinuesTrace(t *testing.T) {
	otel.SetTracerProvider(sdktrace.NewTracerProvider())
	otel.SetTextMapPropagator(propagation.TraceContext{})

	var got trace.SpanContext
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/ping", func(c *gin.Context) {
		got = trace.SpanContextFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.True(t, got.IsValid())
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", got.TraceID().String())
	require.NotEqual(t, "00f067aa0ba902b7", got.SpanID().String())
}
