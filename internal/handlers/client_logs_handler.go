// -----------------------------------------------------------------------
// Client Logs API - Batch ingestion and session read endpoints
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/klauspost/compress/gzip"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/seqlog/internal/common"
	"github.com/ternarybob/seqlog/internal/interfaces"
	"github.com/ternarybob/seqlog/internal/models"
)

const (
	sessionsPath      = "/api/logs/sessions/"
	defaultLinesLimit = 200
	maxLinesLimit     = 10000
)

// LogBuffer is the session buffer as seen by the HTTP layer
type LogBuffer interface {
	SubmitBatch(ctx context.Context, entries []models.ClientLogEntry) error
	Sessions() []models.SessionInfo
	Session(sessionID string) (models.SessionInfo, bool)
	Evict(ctx context.Context, sessionID string) (int, error)
}

// ClientLogsHandler serves client log ingestion and the session read API
type ClientLogsHandler struct {
	buffer   LogBuffer
	reader   interfaces.SessionReader
	validate *validator.Validate
	limiter  *sessionLimiter
	config   *common.Config
	logger   arbor.ILogger
}

// IngestResponse is returned for an accepted batch
type IngestResponse struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

// SessionDetail combines buffer state with persisted lines
type SessionDetail struct {
	SessionID string              `json:"session_id"`
	Buffered  *models.SessionInfo `json:"buffered,omitempty"`
	Lines     []string            `json:"lines"`
}

func NewClientLogsHandler(buffer LogBuffer, reader interfaces.SessionReader, config *common.Config, logger arbor.ILogger) *ClientLogsHandler {
	return &ClientLogsHandler{
		buffer:   buffer,
		reader:   reader,
		validate: newBatchValidator(),
		limiter:  newSessionLimiter(config.Server.RateLimit, config.Server.RateBurst),
		config:   config,
		logger:   logger,
	}
}

// IngestHandler accepts POST {"logs":[...]}. The whole batch is rejected if
// any entry is invalid; nothing reaches the buffer in that case.
func (h *ClientLogsHandler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	if HideInProduction(w, h.config) {
		return
	}
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	batch, status, msg := h.decodeBatch(w, r)
	if msg != "" {
		h.logger.Debug().Int("status", status).Str("reason", msg).Msg("Rejected client log batch")
		WriteError(w, status, msg)
		return
	}

	// No session's tokens are spent unless every session in the batch has one
	if denied, ok := h.limiter.AllowAll(distinctSessions(batch.Logs)); !ok {
		h.logger.Warn().Str("session_id", denied).Msg("Client log rate limit exceeded")
		WriteError(w, http.StatusTooManyRequests, fmt.Sprintf("Rate limit exceeded for session %s", denied))
		return
	}

	// A client disconnect must not abandon a batch halfway through its drain
	ctx := context.WithoutCancel(r.Context())
	if err := h.buffer.SubmitBatch(ctx, batch.Logs); err != nil {
		h.logger.Error().Err(err).Int("count", len(batch.Logs)).Msg("Failed to process client logs")
		WriteError(w, http.StatusInternalServerError, "Failed to process logs")
		return
	}

	WriteJSON(w, http.StatusOK, IngestResponse{Success: true, Count: len(batch.Logs)})
}

// decodeBatch reads, decompresses and validates the body. A non-empty msg
// is the client-facing reason for rejecting it with status.
func (h *ClientLogsHandler) decodeBatch(w http.ResponseWriter, r *http.Request) (batch *models.ClientLogBatch, status int, msg string) {
	maxBytes := h.config.Server.MaxBodyBytes
	body := http.MaxBytesReader(w, r.Body, maxBytes)
	defer body.Close()

	var reader io.Reader = body
	if strings.EqualFold(strings.TrimSpace(r.Header.Get("Content-Encoding")), "gzip") {
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, http.StatusBadRequest, "Invalid gzip body"
		}
		defer zr.Close()
		// Bound the decompressed size as well
		reader = http.MaxBytesReader(w, zr, maxBytes)
	}

	batch = &models.ClientLogBatch{}
	if err := json.NewDecoder(reader).Decode(batch); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, "Request body too large"
		}
		return nil, http.StatusBadRequest, "Invalid JSON body"
	}

	if err := h.validate.Struct(batch); err != nil {
		return nil, http.StatusBadRequest, validationMessage(err)
	}
	return batch, http.StatusOK, ""
}

// ListSessionsHandler returns buffered sessions and sessions with persisted lines
func (h *ClientLogsHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	if HideInProduction(w, h.config) {
		return
	}
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	persisted, err := h.reader.ListSessions(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list persisted sessions")
		WriteError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"buffered":  h.buffer.Sessions(),
		"persisted": persisted,
	})
}

// SessionLinesHandler returns the most recent lines of one session (?limit=)
func (h *ClientLogsHandler) SessionLinesHandler(w http.ResponseWriter, r *http.Request) {
	if HideInProduction(w, h.config) {
		return
	}
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	sessionID := PathID(r.URL.Path, sessionsPath)
	if !models.ValidSessionID(sessionID) {
		WriteError(w, http.StatusBadRequest, "Invalid session id")
		return
	}
	limit := GetLimitParam(r, defaultLinesLimit, maxLinesLimit)

	detail := SessionDetail{SessionID: sessionID, Lines: []string{}}
	info, buffered := h.buffer.Session(sessionID)
	if buffered {
		detail.Buffered = &info
	}

	lines, err := h.reader.ReadLines(r.Context(), sessionID, limit)
	switch {
	case err == nil:
		detail.Lines = lines
	case errors.Is(err, interfaces.ErrSessionNotFound):
		if !buffered {
			WriteError(w, http.StatusNotFound, "Session not found")
			return
		}
	default:
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to read session lines")
		WriteError(w, http.StatusInternalServerError, "Failed to read session")
		return
	}

	WriteJSON(w, http.StatusOK, detail)
}

// EvictSessionHandler drops a session's buffer. Persisted lines and the
// cursor are kept.
func (h *ClientLogsHandler) EvictSessionHandler(w http.ResponseWriter, r *http.Request) {
	if HideInProduction(w, h.config) {
		return
	}
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	sessionID := PathID(r.URL.Path, sessionsPath)
	if !models.ValidSessionID(sessionID) {
		WriteError(w, http.StatusBadRequest, "Invalid session id")
		return
	}

	dropped, err := h.buffer.Evict(r.Context(), sessionID)
	if errors.Is(err, interfaces.ErrSessionNotFound) {
		WriteError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to evict session")
		WriteError(w, http.StatusInternalServerError, "Failed to evict session")
		return
	}

	h.logger.Info().Str("session_id", sessionID).Int("dropped", dropped).Msg("Session evicted")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"dropped": dropped,
	})
}

func distinctSessions(entries []models.ClientLogEntry) []string {
	seen := make(map[string]struct{}, len(entries))
	var ids []string
	for _, entry := range entries {
		if _, ok := seen[entry.SessionID]; !ok {
			seen[entry.SessionID] = struct{}{}
			ids = append(ids, entry.SessionID)
		}
	}
	return ids
}
