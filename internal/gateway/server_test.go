package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kronos/internal/config"
	"kronos/internal/gateway/handlers"
	"kronos/internal/storage"
)

type stubService struct {
	title string
}

func (s *stubService) Send(ctx context.Context, title, userInput string) (string, string, error) {
	if title == "" {
		title = s.title
	}
	return title, "echo: " + userInput, nil
}

func (s *stubService) List(ctx context.Context) ([]storage.Conversation, error) {
	return []storage.Conversation{{Title: s.title}}, nil
}

func (s *stubService) Context(ctx context.Context, title string) (storage.Record, error) {
	return storage.Record{Title: title, SummarizedContext: "summary"}, nil
}

func (s *stubService) History(ctx context.Context, title string) ([]storage.Message, error) {
	return nil, nil
}

func (s *stubService) Delete(ctx context.Context, title string) error {
	return nil
}

func testServer() *Server {
	cfg := config.GatewayConfig{Host: "127.0.0.1", Port: 0, CORSOrigins: []string{"*"}}
	return NewServer(cfg, &stubService{title: "Trip Planning"}, "v1.0.0-test")
}

func TestNewServer(t *testing.T) {
	s := testServer()
	require.NotNil(t, s.Router())
	assert.Equal(t, "127.0.0.1:0", s.Addr())
}

func TestServerHomeAndHealth(t *testing.T) {
	s := testServer()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Welcome to the Kronos API", w.Body.String())

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var health handlers.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "v1.0.0-test", health.Version)
}

func TestServerSendMessage(t *testing.T) {
	s := testServer()

	req := httptest.NewRequest(http.MethodPost, "/send_message",
		strings.NewReader(`{"user_input":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp handlers.SendMessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Trip Planning", resp.ChatName)
	assert.Equal(t, "echo: hello", resp.Response)
}

func TestServerMiddleware(t *testing.T) {
	s := testServer()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/send_message", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestServerNotFound(t *testing.T) {
	s := testServer()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), handlers.ErrCodeNotFound)
}

func TestServerServeAndShutdown(t *testing.T) {
	s := testServer()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get(url)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `"status":"ok"`)

	require.NoError(t, s.Shutdown(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}
