package httpapi_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podcloud/balados-sync/internal/aggregate"
	"github.com/podcloud/balados-sync/internal/authctx"
	"github.com/podcloud/balados-sync/internal/dispatcher"
	"github.com/podcloud/balados-sync/internal/eventstore/eventstoretest"
	"github.com/podcloud/balados-sync/internal/httpapi"
	"github.com/podcloud/balados-sync/internal/notify"
	"github.com/podcloud/balados-sync/internal/ratelimit"
)

const testSigningKey = "test-signing-key-0123456789ABCD"

func signToken(t *testing.T, subject string) string {
	t.Helper()
	claims := authctx.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return tok
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store := eventstoretest.New()
	rt := aggregate.NewRuntime(store, aggregate.DefaultRuntimeConfig())
	d := dispatcher.New(rt, notify.Noop(), 0)
	limiter := ratelimit.New(ratelimit.DefaultConfig())
	h := httpapi.NewHandler(d, limiter)
	v, err := authctx.NewVerifier(testSigningKey)
	require.NoError(t, err)
	return httpapi.NewRouter(h, v, httpapi.Config{CORSOrigins: []string{"*"}, RateLimitRPS: 1000}, nil)
}

func TestHandleCommand_SubscribeSucceeds(t *testing.T) {
	router := newTestRouter(t)
	tok := signToken(t, "user-1")

	body := `{"type":"Subscribe","payload":{"feed":"https://example.com/feed.xml"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/commands", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleCommand_UnauthenticatedRejected(t *testing.T) {
	router := newTestRouter(t)
	body := `{"type":"Subscribe","payload":{"feed":"https://example.com/feed.xml"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/commands", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleCommand_UnknownTypeRejected(t *testing.T) {
	router := newTestRouter(t)
	tok := signToken(t, "user-1")

	body := `{"type":"NotACommand","payload":{}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/commands", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCommand_InvalidPositionSurfacesReasonCode(t *testing.T) {
	router := newTestRouter(t)
	tok := signToken(t, "user-1")

	body := `{"type":"RecordPlay","payload":{"feed":"F1","item":"I1","position":-1}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/commands", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_position")
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
