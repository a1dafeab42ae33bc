package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/agape-peninsula/counsel-api/internal/app/chat"
	"github.com/agape-peninsula/counsel-api/internal/domain"
)

// Server exposes the session/message orchestration over REST. Identity is
// taken from trusted headers set by the auth collaborator upstream; see
// withIdentity in middleware.go.
type Server struct {
	svc    *chat.Service
	oracle domain.Oracle
	opts   Options
}

// Options tunes the middleware chain.
type Options struct {
	FrontendURL     string
	RateLimitWindow time.Duration
	RateLimitMax    int
}

func NewServer(svc *chat.Service, oracle domain.Oracle, opts Options) http.Handler {
	s := &Server{svc: svc, oracle: oracle, opts: opts}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)

	// /api/chat/sessions            → POST: create, GET: list
	// /api/chat/sessions/{token}    → GET: session + messages, DELETE: archive
	// /api/chat/sessions/{token}/message → POST: send message
	// /api/chat/sessions/{token}/end     → POST: end with summary
	mux.HandleFunc("/api/chat/sessions", s.handleSessions)
	mux.HandleFunc("/api/chat/sessions/", s.handleSessionWithToken)

	// /api/chat/messages/{id}/reaction → POST: upsert reaction
	mux.HandleFunc("/api/chat/messages/", s.handleMessageWithID)

	// Oracle diagnostics.
	mux.HandleFunc("/api/ai/status", s.handleAIStatus)
	mux.HandleFunc("/api/ai/test-connection", s.handleAITestConnection)
	mux.HandleFunc("/api/ai/test-chat", s.handleAITestChat)

	var limiter func(http.Handler) http.Handler
	if opts.RateLimitMax > 0 {
		limiter = withRateLimit(opts.RateLimitWindow, opts.RateLimitMax)
	} else {
		limiter = func(h http.Handler) http.Handler { return h }
	}

	return chainMiddlewares(mux,
		withIdentity,
		limiter,
		withCORS(opts.FrontendURL),
		withLogging,
	)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type createSessionRequest struct {
	CounsellingType string   `json:"counselling_type,omitempty"`
	Title           string   `json:"title,omitempty"`
	Goals           []string `json:"goals,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

type sessionResponse struct {
	Token         string    `json:"session_token"`
	Title         string    `json:"title"`
	Track         string    `json:"counselling_type"`
	Status        string    `json:"status"`
	Summary       string    `json:"summary,omitempty"`
	Goals         []string  `json:"goals,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	Archived      bool      `json:"archived"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type reactionResponse struct {
	UserID string    `json:"user_id"`
	Kind   string    `json:"type"`
	At     time.Time `json:"timestamp"`
}

type messageResponse struct {
	ID        string             `json:"id"`
	Sender    string             `json:"sender"`
	Body      string             `json:"message"`
	Sequence  int64              `json:"sequence"`
	WordCount int                `json:"word_count"`
	Sentiment string             `json:"sentiment,omitempty"`
	Reactions []reactionResponse `json:"reactions,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

type sendMessageRequest struct {
	Body string `json:"message"`
}

type sendMessageResponse struct {
	UserMessage messageResponse `json:"userMessage"`
	AIMessage   messageResponse `json:"aiMessage"`
}

type listSessionsResponse struct {
	Sessions   []sessionResponse  `json:"sessions"`
	Pagination paginationResponse `json:"pagination"`
}

type paginationResponse struct {
	Current int `json:"current"`
	Pages   int `json:"pages"`
	Total   int `json:"total"`
}

type getSessionResponse struct {
	Session  sessionResponse   `json:"session"`
	Messages []messageResponse `json:"messages"`
}

type reactionRequest struct {
	Kind string `json:"type"`
}

type testChatRequest struct {
	Message string `json:"message"`
}

// ─────────────────────────────────────────────
// Basic routing
// ─────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateSession(w, r)
	case http.MethodGet:
		s.handleListSessions(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /api/chat/sessions/{token}[/message|/end]
func (s *Server) handleSessionWithToken(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/chat/sessions/")
	if path == "" {
		http.NotFound(w, r)
		return
	}

	parts := strings.Split(path, "/")
	token := domain.SessionToken(parts[0])
	if token == "" {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGetSession(w, r, token)
		case http.MethodDelete:
			s.handleArchiveSession(w, r, token)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) == 2 {
		switch {
		case parts[1] == "message" && r.Method == http.MethodPost:
			s.handleSendMessage(w, r, token)
			return
		case parts[1] == "end" && r.Method == http.MethodPost:
			s.handleEndSession(w, r, token)
			return
		}
	}

	http.NotFound(w, r)
}

// /api/chat/messages/{id}/reaction
func (s *Server) handleMessageWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/chat/messages/")
	parts := strings.Split(path, "/")
	if len(parts) == 2 && parts[1] == "reaction" && parts[0] != "" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleReaction(w, r, domain.MessageID(parts[0]))
		return
	}
	http.NotFound(w, r)
}

// ─────────────────────────────────────────────
// Concrete handlers
// ─────────────────────────────────────────────

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}

	var req createSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
	}

	out, err := s.svc.StartSession(r.Context(), chat.StartSessionInput{
		Identity: identity,
		Track:    domain.Track(strings.ToLower(strings.TrimSpace(req.CounsellingType))),
		Title:    req.Title,
		Goals:    req.Goals,
		Tags:     req.Tags,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, apiResponse{
		Success: true,
		Message: "Chat session created successfully",
		Data:    map[string]any{"session": toSessionResponse(out.Session)},
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 10)

	out, err := s.svc.ListSessions(r.Context(), identity, page, limit)
	if err != nil {
		respondError(w, err)
		return
	}

	sessions := make([]sessionResponse, 0, len(out.Sessions))
	for _, sess := range out.Sessions {
		sessions = append(sessions, toSessionResponse(sess))
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Data: listSessionsResponse{
			Sessions: sessions,
			Pagination: paginationResponse{
				Current: out.Pagination.Current,
				Pages:   out.Pagination.Pages,
				Total:   out.Pagination.Total,
			},
		},
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, token domain.SessionToken) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}

	session, msgs, err := s.svc.SessionTimeline(r.Context(), token, identity)
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Data: getSessionResponse{
			Session:  toSessionResponse(session),
			Messages: toMessagesResponse(msgs),
		},
	})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, token domain.SessionToken) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	out, err := s.svc.SendMessage(r.Context(), chat.SendMessageInput{
		Token:    token,
		Identity: identity,
		Body:     req.Body,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Message sent successfully",
		Data: sendMessageResponse{
			UserMessage: toMessageResponse(out.UserMessage),
			AIMessage:   toMessageResponse(out.AIMessage),
		},
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request, token domain.SessionToken) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}

	out, err := s.svc.EndSession(r.Context(), token, identity)
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Session ended successfully",
		Data:    map[string]string{"summary": out.Summary},
	})
}

func (s *Server) handleArchiveSession(w http.ResponseWriter, r *http.Request, token domain.SessionToken) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}

	if err := s.svc.ArchiveSession(r.Context(), token, identity); err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Session archived successfully",
	})
}

func (s *Server) handleReaction(w http.ResponseWriter, r *http.Request, id domain.MessageID) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}

	var req reactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	if err := s.svc.React(r.Context(), id, identity, domain.ReactionKind(req.Kind)); err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Reaction added successfully",
	})
}

// ─────────────────────────────────────────────
// Oracle diagnostics
// ─────────────────────────────────────────────

func (s *Server) handleAIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	type configured interface{ Configured() bool }
	ready := true
	if c, ok := s.oracle.(configured); ok {
		ready = c.Configured()
	}

	state := "ready"
	if !ready {
		state = "needs-configuration"
	}
	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Data: map[string]any{
			"configured": ready,
			"status":     state,
		},
	})
}

func (s *Server) handleAITestConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	if err := s.oracle.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, apiResponse{
			Success: false,
			Message: oracleKindOf(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "oracle connection working",
	})
}

func (s *Server) handleAITestChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}

	var req testChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		badRequest(w, "message is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	track := identity.Track
	if track == "" {
		track = domain.TrackGeneral
	}
	replyText, err := s.oracle.GetReply(ctx, req.Message, domain.ReplyContext{
		UserID:   identity.UserID,
		Track:    track,
		UserType: identity.UserType,
	})
	if err != nil {
		var oerr *domain.OracleError
		kind := domain.OracleTransient
		if errors.As(err, &oerr) {
			kind = oerr.Kind
		}
		replyText = chat.Fallback(kind, track)
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Data: map[string]any{
			"userMessage": req.Message,
			"aiResponse":  replyText,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// ─────────────────────────────────────────────
// Response helpers
// ─────────────────────────────────────────────

func toSessionResponse(s *domain.Session) sessionResponse {
	return sessionResponse{
		Token:         string(s.Token),
		Title:         s.Title,
		Track:         string(s.Track),
		Status:        string(s.Status),
		Summary:       s.Summary,
		Goals:         s.Goals,
		Tags:          s.Tags,
		Archived:      s.Archived,
		LastMessageAt: s.LastMessageAt,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func toMessageResponse(m *domain.Message) messageResponse {
	var reactions []reactionResponse
	for user, r := range m.Reactions {
		reactions = append(reactions, reactionResponse{
			UserID: string(user),
			Kind:   string(r.Kind),
			At:     r.At,
		})
	}
	return messageResponse{
		ID:        string(m.ID),
		Sender:    string(m.Sender),
		Body:      m.Body,
		Sequence:  m.Sequence,
		WordCount: m.WordCount,
		Sentiment: string(m.Sentiment),
		Reactions: reactions,
		CreatedAt: m.CreatedAt,
	}
}

func toMessagesResponse(msgs []*domain.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return out
}

func oracleKindOf(err error) string {
	var oerr *domain.OracleError
	if errors.As(err, &oerr) {
		return string(oerr.Kind)
	}
	return string(domain.OracleTransient)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	if n == 0 {
		return def
	}
	return n
}

// ─────────────────────────────────────────────
// HTTP helpers
// ─────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, apiResponse{Success: false, Message: verr.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, apiResponse{Success: false, Message: "Session not found"})
	case errors.Is(err, domain.ErrSessionNotActive):
		writeJSON(w, http.StatusConflict, apiResponse{Success: false, Message: "Session is not active"})
	default:
		// Storage and unexpected failures: never leak internals.
		writeJSON(w, http.StatusInternalServerError, apiResponse{Success: false, Message: "Something went wrong"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, apiResponse{Success: false, Message: msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, apiResponse{Success: false, Message: "method not allowed"})
}
