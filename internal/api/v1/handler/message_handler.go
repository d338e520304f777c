package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"app/internal/api/v1/dto"
	"app/internal/model"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type MessageHandler struct {
	queueService service.QueueService
	validate     *validator.Validate
	logger       zerolog.Logger
}

func NewMessageHandler(queueService service.QueueService, v *validator.Validate, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		queueService: queueService,
		validate:     v,
		logger:       logger.With().Str("handler", "MessageHandler").Logger(),
	}
}

// RegisterRoutes mounts v1 message and queue routes. adminMw guards the
// administrative endpoints (reset, status override).
func (h *MessageHandler) RegisterRoutes(mux *http.ServeMux, adminMw func(http.Handler) http.Handler) {
	mux.Handle("/messages", http.HandlerFunc(h.getLatest))
	mux.Handle("/messages/create", http.HandlerFunc(h.createMessage))
	mux.Handle("/messages/next", http.HandlerFunc(h.dequeueNext))
	mux.Handle("/messages/all", http.HandlerFunc(h.listAll))
	mux.Handle("/messages/", adminMw(http.HandlerFunc(h.handleMessage)))
	mux.Handle("/queue/reset", adminMw(http.HandlerFunc(h.resetQueue)))
}

// getLatest returns up to the 5 most recent approved messages, newest first.
// Rows are not marked fetched and stay in the delivery queue.
func (h *MessageHandler) getLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	messages, err := h.queueService.GetLatest(r.Context(), parseLimit(r, 5))
	if err != nil {
		http.Error(w, "Failed to retrieve messages: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponseList(messages))
}

// createMessage accepts a submission, runs it through moderation and stores
// the verdict. The service call runs on a detached context: a client that
// disconnects mid-flight must not lose an in-progress moderation and insert.
func (h *MessageHandler) createMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req dto.CreateMessageDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	stored, err := h.queueService.Submit(context.WithoutCancel(r.Context()), service.Submission{
		Name:   req.Name,
		Age:    req.Age,
		Gender: req.Gender,
		Mood:   req.Mood,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("name", req.Name).Msg("Failed to store submission")
		http.Error(w, "Failed to create message: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(stored))
}

// dequeueNext hands the oldest unfetched approved message to the delivery
// consumer and marks it fetched. An empty queue is 204, never an error.
func (h *MessageHandler) dequeueNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	m, err := h.queueService.DequeueNext(r.Context())
	if err != nil {
		http.Error(w, "Failed to dequeue message: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if m == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(m))
}

func (h *MessageHandler) listAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	messages, err := h.queueService.ListAll(r.Context())
	if err != nil {
		http.Error(w, "Failed to list messages: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponseList(messages))
}

func (h *MessageHandler) resetQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	count, err := h.queueService.Reset(r.Context())
	if err != nil {
		http.Error(w, "Failed to reset queue: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, dto.ResetQueueResponseDTO{
		Message:    fmt.Sprintf("Queue reset. Messages marked unfetched: %d", count),
		ResetCount: count,
	})
}

// handleMessage routes /messages/{id}/status
func (h *MessageHandler) handleMessage(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if r.Method == http.MethodPatch && strings.HasSuffix(path, "/status") {
		h.updateStatus(w, r)
		return
	}
	http.NotFound(w, r)
}

func (h *MessageHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/messages/"), "/status")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid message id: "+idStr, http.StatusBadRequest)
		return
	}

	var req dto.UpdateStatusDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	err = h.queueService.OverrideStatus(r.Context(), id, model.Status(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMessageNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, service.ErrInvalidStatus):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, dto.UpdateStatusResponseDTO{
		Message:   "Status updated successfully",
		MessageID: id,
		Status:    req.Status,
	})
}

func parseLimit(r *http.Request, def int) int {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return def
	}
	if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
		return l
	}
	return def
}

func toResponse(m *model.Message) dto.MessageResponseDTO {
	payload := json.RawMessage(m.ModerationPayload)
	if !json.Valid(payload) {
		payload = json.RawMessage("null")
	}
	return dto.MessageResponseDTO{
		ID:                m.ID,
		Name:              m.Name,
		Age:               m.Age,
		Gender:            m.Gender,
		Mood:              m.Mood,
		MessageText:       m.MessageText,
		ModerationPayload: payload,
		Status:            string(m.Status),
		CreatedAt:         m.CreatedAt,
		IsFetched:         m.IsFetched,
		FetchedAt:         m.FetchedAt,
	}
}

func toResponseList(messages []model.Message) []dto.MessageResponseDTO {
	out := make([]dto.MessageResponseDTO, 0, len(messages))
	for i := range messages {
		out = append(out, toResponse(&messages[i]))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
