package wsapi_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podcloud/balados-sync/internal/aggregate"
	"github.com/podcloud/balados-sync/internal/authctx"
	"github.com/podcloud/balados-sync/internal/dispatcher"
	"github.com/podcloud/balados-sync/internal/eventstore/eventstoretest"
	"github.com/podcloud/balados-sync/internal/httpapi"
	"github.com/podcloud/balados-sync/internal/notify"
	"github.com/podcloud/balados-sync/internal/wsapi"
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

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := eventstoretest.New()
	rt := aggregate.NewRuntime(store, aggregate.DefaultRuntimeConfig())
	d := dispatcher.New(rt, notify.Noop(), 0)
	v, err := authctx.NewVerifier(testSigningKey)
	require.NoError(t, err)
	srv := wsapi.NewServer(d, v, httpapi.DecodeCommand, []string{"*"})
	return httptest.NewServer(srv)
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestServeHTTP_RejectsMissingToken(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestServeHTTP_SubscribeDispatchesAndAcks(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	conn := dial(t, srv, signToken(t, "user-1"))
	defer conn.Close()

	req := map[string]any{
		"request_id": "r1",
		"type":       "Subscribe",
		"payload":    map[string]any{"feed": "https://example.com/feed.xml"},
	}
	require.NoError(t, conn.WriteJSON(req))

	var ack struct {
		RequestID string `json:"request_id"`
		OK        bool   `json:"ok"`
		Version   int64  `json:"version"`
	}
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "r1", ack.RequestID)
	assert.True(t, ack.OK)
	assert.EqualValues(t, 1, ack.Version)
}

func TestServeHTTP_UnknownCommandAcksError(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	conn := dial(t, srv, signToken(t, "user-1"))
	defer conn.Close()

	req := map[string]any{"request_id": "r2", "type": "NotACommand", "payload": map[string]any{}}
	require.NoError(t, conn.WriteJSON(req))

	var ack struct {
		RequestID string `json:"request_id"`
		OK        bool   `json:"ok"`
		Error     string `json:"error"`
	}
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "r2", ack.RequestID)
	assert.False(t, ack.OK)
	assert.Equal(t, "invalid_command", ack.Error)
}
