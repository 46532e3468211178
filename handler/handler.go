package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"security-checker/internal/domain"
	"security-checker/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"

	errInvalidInput       = "INVALID_INPUT"
	errUnknownParticipant = "UNKNOWN_PARTICIPANT"
	errMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	errInternal           = "INTERNAL_ERROR"
)

type chatRequest struct {
	Participant    string           `json:"participant"`
	Prompt         string           `json:"prompt"`
	History        []domain.Turn    `json:"history"`
	ActiveDocument *domain.Document `json:"activeDocument"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// requestError is a failure detected before any event is streamed.
type requestError struct {
	status int
	code   string
	reason string
}

// session is a validated request bound to its participant.
type session struct {
	participantID string
	participant   Participant
	req           usecase.ChatRequest
}

type Handler struct {
	router *Router
	logger *slog.Logger
}

func NewHandler(router *Router, logger *slog.Logger) (*Handler, error) {
	if router == nil {
		return nil, errors.New("handler: router must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{router: router, logger: logger}, nil
}

// prepare decodes body and resolves its participant. pathID, when set,
// names the participant from the URL and must agree with the body.
func (h *Handler) prepare(body []byte, pathID string) (*session, *requestError) {
	var in chatRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return nil, &requestError{status: http.StatusBadRequest, code: errInvalidInput, reason: "invalid_body"}
	}

	id := strings.TrimSpace(in.Participant)
	if pathID = strings.TrimSpace(pathID); pathID != "" {
		if id != "" && id != pathID {
			return nil, &requestError{status: http.StatusBadRequest, code: errInvalidInput, reason: "participant_mismatch"}
		}
		id = pathID
	}
	p, id, ok := h.router.Lookup(id)
	if !ok {
		return nil, &requestError{status: http.StatusNotFound, code: errUnknownParticipant, reason: "unknown_participant"}
	}

	return &session{
		participantID: id,
		participant:   p,
		req: usecase.ChatRequest{
			Prompt:   in.Prompt,
			History:  in.History,
			Document: in.ActiveDocument,
		},
	}, nil
}

// stream runs the participant and writes its events to w. Exactly one
// terminal event is written: done on success or cancellation, error otherwise.
func (h *Handler) stream(ctx context.Context, s *session, correlationID string, w io.Writer) {
	log := h.logger.With("correlation_id", correlationID, "participant", s.participantID)
	ev := newEventWriter(w)

	res, err := s.participant.Respond(ctx, s.req, ev)
	if err == nil {
		log.Info("chat request completed", "fragments", res.Fragments, "cancelled", res.Cancelled)
		if werr := ev.done(res.Fragments, res.Cancelled); werr != nil {
			log.Warn("failed to write done event", "err", werr)
		}
		return
	}

	code, reason := errInternal, "unexpected_error"
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		code, reason = string(ucErr.Code), ucErr.Reason
	}
	log.Error("chat request failed", "code", code, "reason", reason, "state", res.State, "fragments", res.Fragments, "err", err)
	if code == string(usecase.ErrorSink) {
		return
	}
	if werr := ev.fail(code, reason); werr != nil {
		log.Warn("failed to write error event", "err", werr)
	}
}

func (h *Handler) reject(correlationID string, rerr *requestError) []byte {
	h.logger.Warn("chat request rejected", "correlation_id", correlationID, "code", rerr.code, "reason", rerr.reason)
	body, _ := json.Marshal(errorResponse{Error: rerr.code})
	return body
}

func correlationIDFrom(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, headerCorrelationID) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return newCorrelationID()
}

var newCorrelationID = func() string {
	return uuid.NewString()
}
