package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"kronos/internal/generation"
	"kronos/internal/session"
	"kronos/internal/storage"
	"kronos/pkg/logger"
)

// ChatService is the conversation core as seen by the gateway.
// *session.Manager implements it.
type ChatService interface {
	Send(ctx context.Context, title, userInput string) (string, string, error)
	List(ctx context.Context) ([]storage.Conversation, error)
	Context(ctx context.Context, title string) (storage.Record, error)
	History(ctx context.Context, title string) ([]storage.Message, error)
	Delete(ctx context.Context, title string) error
}

// SendMessageRequest is the body of POST /send_message.
type SendMessageRequest struct {
	UserInput string `json:"user_input"`
	ChatTitle string `json:"chat_title,omitempty"`
}

// SendMessageResponse is the reply of POST /send_message.
type SendMessageResponse struct {
	Response string `json:"response"`
	ChatName string `json:"chat_name"`
}

// ConversationsResponse lists stored conversations.
type ConversationsResponse struct {
	Conversations []storage.Conversation `json:"conversations"`
}

// HistoryResponse carries a conversation transcript.
type HistoryResponse struct {
	Title   string            `json:"title"`
	History []storage.Message `json:"history"`
}

// ChatHandler serves the conversation endpoints.
type ChatHandler struct {
	svc ChatService
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// RegisterRoutes adds the conversation routes to r.
func (h *ChatHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/send_message", h.SendMessage).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/conversations", h.ListConversations).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{title}/context", h.GetContext).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{title}/history", h.GetHistory).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{title}", h.DeleteConversation).Methods(http.MethodDelete)
}

// SendMessage runs one conversation turn. The handler never retries;
// retrying belongs to the generation client.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserInput) == "" {
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "User input is required")
		return
	}

	name, response, err := h.svc.Send(r.Context(), req.ChatTitle, req.UserInput)
	if err != nil {
		status, code, msg := classify(err)
		logger.Error().Err(err).Str("chat_title", req.ChatTitle).Str("code", code).Msg("send_message failed")
		SendError(w, status, code, msg)
		return
	}

	SendJSON(w, http.StatusOK, SendMessageResponse{Response: response, ChatName: name})
}

// ListConversations returns stored conversations.
func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("list conversations")
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to list conversations")
		return
	}
	if list == nil {
		list = []storage.Conversation{}
	}
	SendJSON(w, http.StatusOK, ConversationsResponse{Conversations: list})
}

// GetContext returns the stored rolling context of a conversation.
func (h *ChatHandler) GetContext(w http.ResponseWriter, r *http.Request) {
	title := mux.Vars(r)["title"]
	rec, err := h.svc.Context(r.Context(), title)
	if err != nil {
		status, code, msg := classify(err)
		SendError(w, status, code, msg)
		return
	}
	if rec.IsEmpty() {
		SendError(w, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		return
	}
	SendJSON(w, http.StatusOK, rec)
}

// GetHistory returns the display transcript of a conversation.
func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	title := mux.Vars(r)["title"]
	history, err := h.svc.History(r.Context(), title)
	if err != nil {
		status, code, msg := classify(err)
		SendError(w, status, code, msg)
		return
	}
	if history == nil {
		history = []storage.Message{}
	}
	SendJSON(w, http.StatusOK, HistoryResponse{Title: title, History: history})
}

// DeleteConversation removes a conversation's context and transcript.
func (h *ChatHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	title := mux.Vars(r)["title"]
	if err := h.svc.Delete(r.Context(), title); err != nil {
		status, code, msg := classify(err)
		SendError(w, status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// classify maps core errors to HTTP status, error code and message.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, session.ErrEmptyInput), errors.Is(err, storage.ErrEmptyTitle):
		return http.StatusBadRequest, ErrCodeInvalidRequest, err.Error()
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "conversation not found"
	case errors.Is(err, session.ErrPersist):
		return http.StatusInternalServerError, ErrCodePersistenceFailed, "failed to save conversation context"
	case errors.Is(err, generation.ErrUnknown):
		return http.StatusInternalServerError, ErrCodeGenerationFailed, "text generation failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, ErrCodeInternalError, "internal server error"
	}
}
