package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kronos/internal/generation"
	"kronos/internal/session"
	"kronos/internal/storage"
)

// mockService implements ChatService for testing.
type mockService struct {
	sendFunc  func(ctx context.Context, title, input string) (string, string, error)
	records   map[string]storage.Record
	histories map[string][]storage.Message
	deleted   []string
}

func (m *mockService) Send(ctx context.Context, title, input string) (string, string, error) {
	if m.sendFunc != nil {
		return m.sendFunc(ctx, title, input)
	}
	return "Recursion Basics", "It calls itself.", nil
}

func (m *mockService) List(ctx context.Context) ([]storage.Conversation, error) {
	var out []storage.Conversation
	for title := range m.records {
		out = append(out, storage.Conversation{Title: title})
	}
	return out, nil
}

func (m *mockService) Context(ctx context.Context, title string) (storage.Record, error) {
	return m.records[title], nil
}

func (m *mockService) History(ctx context.Context, title string) ([]storage.Message, error) {
	return m.histories[title], nil
}

func (m *mockService) Delete(ctx context.Context, title string) error {
	if _, ok := m.records[title]; !ok {
		return storage.ErrNotFound
	}
	m.deleted = append(m.deleted, title)
	return nil
}

func newRouter(svc ChatService) *mux.Router {
	r := mux.NewRouter()
	NewChatHandler(svc).RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSendMessage(t *testing.T) {
	var gotTitle string
	svc := &mockService{sendFunc: func(ctx context.Context, title, input string) (string, string, error) {
		gotTitle = title
		return "Recursion Basics", "answer to " + input, nil
	}}
	r := newRouter(svc)

	w := do(r, http.MethodPost, "/send_message", `{"user_input":"Explain recursion","chat_title":"New Chat"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SendMessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Recursion Basics", resp.ChatName)
	assert.Equal(t, "answer to Explain recursion", resp.Response)
	assert.Equal(t, "New Chat", gotTitle)
}

func TestSendMessage_BadRequests(t *testing.T) {
	r := newRouter(&mockService{})

	tests := []struct {
		name string
		body string
	}{
		{"empty input", `{"user_input":"   "}`},
		{"missing input", `{"chat_title":"x"}`},
		{"malformed", `{"user_input":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/send_message", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, ErrCodeInvalidRequest, resp.Error.Code)
		})
	}
}

func TestSendMessage_TerminalErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		status   int
	}{
		{"persist", fmt.Errorf("%w: disk full", session.ErrPersist), ErrCodePersistenceFailed, http.StatusInternalServerError},
		{"unknown", fmt.Errorf("%w: boom", generation.ErrUnknown), ErrCodeGenerationFailed, http.StatusInternalServerError},
		{"timeout", context.DeadlineExceeded, ErrCodeGatewayTimeout, http.StatusGatewayTimeout},
		{"other", fmt.Errorf("weird"), ErrCodeInternalError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			svc := &mockService{sendFunc: func(ctx context.Context, title, input string) (string, string, error) {
				calls++
				return "", "", tt.err
			}}
			w := do(newRouter(svc), http.MethodPost, "/send_message", `{"user_input":"hi"}`)
			assert.Equal(t, tt.status, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestConversationEndpoints(t *testing.T) {
	svc := &mockService{
		records: map[string]storage.Record{
			"Trip Planning": {Title: "Trip Planning", SummarizedContext: "Paris itinerary discussed.", Segments: []string{"Paris itinerary discussed."}},
		},
		histories: map[string][]storage.Message{
			"Trip Planning": {{Speaker: "You", Content: "Plan a Paris trip"}},
		},
	}
	r := newRouter(svc)
	escaped := "/conversations/" + url.PathEscape("Trip Planning")

	w := do(r, http.MethodGet, "/conversations", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list ConversationsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Conversations, 1)

	w = do(r, http.MethodGet, escaped+"/context", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rec storage.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "Paris itinerary discussed.", rec.SummarizedContext)

	w = do(r, http.MethodGet, "/conversations/Nope/context", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, escaped+"/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	var hist HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	assert.Equal(t, "Trip Planning", hist.Title)
	require.Len(t, hist.History, 1)

	w = do(r, http.MethodDelete, escaped, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"Trip Planning"}, svc.deleted)

	w = do(r, http.MethodDelete, "/conversations/Nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHomeHandler_Chat(t *testing.T) {
	w := httptest.NewRecorder()
	HomeHandler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Kronos")
}
