package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
)

// HandleFunctionURL serves a Lambda function URL configured for response
// streaming. Validation failures are answered with a JSON error body; once
// the participant runs, its events are streamed as NDJSON.
func (h *Handler) HandleFunctionURL(ctx context.Context, req events.LambdaFunctionURLRequest) (*events.LambdaFunctionURLStreamingResponse, error) {
	correlationID := correlationIDFrom(req.Headers)

	if req.RequestContext.HTTP.Method != "" && req.RequestContext.HTTP.Method != http.MethodPost {
		return h.rejectFunctionURL(correlationID, &requestError{status: http.StatusMethodNotAllowed, code: errMethodNotAllowed, reason: "method_not_allowed"}), nil
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return h.rejectFunctionURL(correlationID, &requestError{status: http.StatusBadRequest, code: errInvalidInput, reason: "invalid_base64"}), nil
		}
		body = decoded
	}

	s, rerr := h.prepare(body, "")
	if rerr != nil {
		return h.rejectFunctionURL(correlationID, rerr), nil
	}

	pr, pw := io.Pipe()
	go func() {
		h.stream(ctx, s, correlationID, pw)
		_ = pw.Close()
	}()

	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":      contentTypeNDJSON,
			headerCorrelationID: correlationID,
		},
		Body: pr,
	}, nil
}

func (h *Handler) rejectFunctionURL(correlationID string, rerr *requestError) *events.LambdaFunctionURLStreamingResponse {
	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: rerr.status,
		Headers: map[string]string{
			"Content-Type":      "application/json",
			headerCorrelationID: correlationID,
		},
		Body: bytes.NewReader(h.reject(correlationID, rerr)),
	}
}
