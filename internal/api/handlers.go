package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BTreeMap/PromptBridge/internal/bridge"
	"github.com/BTreeMap/PromptBridge/internal/models"
)

// healthHandler reports store liveness and delivery credential presence.
// It always answers 200; the body carries the degraded state.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.HealthTimeout)
	defer cancel()

	report := models.NewHealthReport(s.history.Ping(ctx), s.delivery.CredentialsConfigured())
	if report.Status != models.HealthOK {
		slog.Warn("Server.healthHandler: service degraded", "checks", report.Checks)
	}
	writeJSONResponse(w, http.StatusOK, report)
}

// webhookHandler serves GET (subscription verification) and POST (inbound messages).
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.verifyHandler(w, r)
	case http.MethodPost:
		s.receiveHandler(w, r)
	default:
		writeMethodNotAllowed(w, "GET, POST")
	}
}

// verifyHandler answers the platform's subscription handshake.
func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := queryParam(q.Get, "hub.mode", "mode")
	challenge := queryParam(q.Get, "hub.challenge", "challenge")
	token := queryParam(q.Get, "hub.verify_token", "verify_token")

	echo, err := bridge.VerifySubscription(mode, challenge, token, s.opts.VerifyToken)
	if err != nil {
		slog.Warn("Server.verifyHandler: verification failed", "mode", mode, "challenge_set", challenge != "")
		writeTextResponse(w, http.StatusForbidden, "Forbidden")
		return
	}
	slog.Info("Server.verifyHandler: webhook subscription verified")
	writeTextResponse(w, http.StatusOK, echo)
}

func queryParam(get func(string) string, keys ...string) string {
	for _, k := range keys {
		if v := get(k); v != "" {
			return v
		}
	}
	return ""
}

// receiveHandler runs an inbound webhook body through the pipeline.
func (s *Server) receiveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	body, err := readBody(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn("Server.receiveHandler: request body too large", "limit", tooLarge.Limit)
			writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error("Request body too large"))
			return
		}
		slog.Warn("Server.receiveHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read request body"))
		return
	}

	resp, err := s.pipeline.Process(r.Context(), body, r.Header.Get(bridge.SecretHeader))
	if err != nil {
		status, message := statusForError(err)
		slog.Warn("Server.receiveHandler: request rejected",
			"request_id", RequestIDFromContext(r.Context()), "status", status, "error", err)
		writeJSONResponse(w, status, models.Error(message))
		return
	}

	slog.Info("Server.receiveHandler: webhook processed",
		"request_id", RequestIDFromContext(r.Context()),
		"outcome", resp.Outcome,
		"reason", resp.Reason)
	writeJSONResponse(w, http.StatusOK, resp)
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	return io.ReadAll(r.Body)
}

// statusForError maps pipeline errors onto HTTP status codes and fixed messages.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, bridge.ErrMalformedJSON):
		return http.StatusBadRequest, "Invalid JSON"
	case errors.Is(err, bridge.ErrMalformedPayload):
		return http.StatusUnprocessableEntity, "Invalid payload"
	case errors.Is(err, bridge.ErrPolicyRejected):
		return http.StatusForbidden, "Native webhook payloads are not accepted"
	case errors.Is(err, bridge.ErrUnauthorized):
		return http.StatusUnauthorized, "Invalid secret"
	case errors.Is(err, bridge.ErrServiceMisconfigured):
		return http.StatusServiceUnavailable, "Service not configured"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// authorizeAdmin checks the shared secret and writes the error response on failure.
func (s *Server) authorizeAdmin(w http.ResponseWriter, r *http.Request) bool {
	if err := s.auth.Authenticate(r.Header.Get(bridge.SecretHeader)); err != nil {
		status, message := statusForError(err)
		slog.Warn("Server.authorizeAdmin: admin request rejected", "path", r.URL.Path, "status", status)
		writeJSONResponse(w, status, models.Error(message))
		return false
	}
	return true
}

// senderFromPath extracts the single path segment after prefix.
func senderFromPath(path, prefix string) (string, bool) {
	sender := strings.TrimPrefix(path, prefix)
	if sender == "" || strings.Contains(sender, "/") {
		return "", false
	}
	return sender, true
}

// conversationsHandler handles GET and DELETE /admin/conversations/{sender}.
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.conversationsHandler invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		writeMethodNotAllowed(w, "GET, DELETE")
		return
	}
	if !s.authorizeAdmin(w, r) {
		return
	}
	sender, ok := senderFromPath(r.URL.Path, "/admin/conversations/")
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown conversation endpoint"))
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.history.Clear(r.Context(), sender); err != nil {
			slog.Error("Server.conversationsHandler: failed to clear conversation", "sender", sender, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to clear conversation"))
			return
		}
		slog.Info("Server.conversationsHandler: conversation cleared", "sender", sender)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation cleared", nil))
		return
	}

	limit := s.opts.MaxContextMessages
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	turns, err := s.history.Read(r.Context(), sender, limit)
	if err != nil {
		slog.Error("Server.conversationsHandler: failed to read conversation", "sender", sender, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read conversation"))
		return
	}
	if turns == nil {
		turns = []models.ConversationTurn{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"sender": sender,
		"turns":  turns,
		"count":  len(turns),
	}))
}

// rateLimitsHandler handles DELETE /admin/ratelimits/{sender}.
func (s *Server) rateLimitsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.rateLimitsHandler invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w, http.MethodDelete)
		return
	}
	if !s.authorizeAdmin(w, r) {
		return
	}
	sender, ok := senderFromPath(r.URL.Path, "/admin/ratelimits/")
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown rate limit endpoint"))
		return
	}
	if err := s.limiter.Reset(r.Context(), sender); err != nil {
		slog.Error("Server.rateLimitsHandler: failed to reset counter", "sender", sender, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset rate limit"))
		return
	}
	slog.Info("Server.rateLimitsHandler: rate limit reset", "sender", sender)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Rate limit reset", nil))
}

