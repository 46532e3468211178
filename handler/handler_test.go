package handler

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"security-checker/internal/domain"
	"security-checker/internal/usecase"
)

type stubParticipant struct {
	refs      []string
	fragments []string
	res       usecase.ChatResult
	err       error
	in        usecase.ChatRequest
	calls     int
}

func (s *stubParticipant) Respond(_ context.Context, in usecase.ChatRequest, sink usecase.ResponseSink) (usecase.ChatResult, error) {
	s.calls++
	s.in = in
	for _, r := range s.refs {
		if err := sink.Reference(r); err != nil {
			return s.res, err
		}
	}
	for _, f := range s.fragments {
		if err := sink.Markdown(f); err != nil {
			return s.res, err
		}
	}
	return s.res, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T, participants map[string]Participant) *Handler {
	t.Helper()
	r := NewRouter()
	for id, p := range participants {
		require.NoError(t, r.Register(id, p))
	}
	h, err := NewHandler(r, discardLogger())
	require.NoError(t, err)
	return h
}

func makeEvent(body string) events.LambdaFunctionURLRequest {
	return events.LambdaFunctionURLRequest{
		Headers: map[string]string{"content-type": "application/json"},
		Body:    body,
		RequestContext: events.LambdaFunctionURLRequestContext{
			HTTP: events.LambdaFunctionURLRequestContextHTTPDescription{Method: http.MethodPost, Path: "/"},
		},
	}
}

// readEvents decodes an NDJSON body into generic maps, one per line.
func readEvents(t *testing.T, r io.Reader) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		out = append(out, ev)
	}
	require.NoError(t, sc.Err())
	return out
}

func parseBody[T any](t *testing.T, r io.Reader) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(r).Decode(&v))
	return v
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil, nil)
	require.Error(t, err)
}

func TestHandleFunctionURL_HappyPath(t *testing.T) {
	p := &stubParticipant{
		refs:      []string{"file:///src/app.ts"},
		fragments: []string{"Found ", "<XSS> & more"},
		res:       usecase.ChatResult{State: usecase.StateDone, Fragments: 2},
	}
	h := newTestHandler(t, map[string]Participant{"security-checker": p})

	body := `{
		"participant": "security-checker",
		"prompt": "Review this",
		"history": [
			{"kind": "request", "prompt": "earlier"},
			{"kind": "response", "response": [{"kind": "markdown", "value": "answer"}]}
		],
		"activeDocument": {"uri": "file:///src/app.ts", "text": "x"}
	}`
	resp, err := h.HandleFunctionURL(context.Background(), makeEvent(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, contentTypeNDJSON, resp.Headers["Content-Type"])
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])

	evs := readEvents(t, resp.Body)
	require.Equal(t, []map[string]any{
		{"type": "reference", "uri": "file:///src/app.ts"},
		{"type": "markdown", "value": "Found "},
		{"type": "markdown", "value": "<XSS> & more"},
		{"type": "done", "fragments": float64(2), "cancelled": false},
	}, evs)

	require.Equal(t, "Review this", p.in.Prompt)
	require.Equal(t, &domain.Document{URI: "file:///src/app.ts", Text: "x"}, p.in.Document)
	require.Equal(t, []domain.Turn{
		{Kind: domain.TurnRequest, Prompt: "earlier"},
		{Kind: domain.TurnResponse, Response: []domain.ResponsePart{{Kind: domain.PartMarkdown, Value: "answer"}}},
	}, p.in.History)
}

func TestHandleFunctionURL_DefaultParticipant(t *testing.T) {
	p := &stubParticipant{res: usecase.ChatResult{State: usecase.StateDone}}
	h := newTestHandler(t, map[string]Participant{"security-checker": p})

	resp, err := h.HandleFunctionURL(context.Background(), makeEvent(`{"prompt":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = readEvents(t, resp.Body)
	require.Equal(t, 1, p.calls)
	require.Nil(t, p.in.Document)
}

func TestHandleFunctionURL_Base64Body(t *testing.T) {
	p := &stubParticipant{res: usecase.ChatResult{State: usecase.StateDone}}
	h := newTestHandler(t, map[string]Participant{"security-checker": p})

	ev := makeEvent(base64.StdEncoding.EncodeToString([]byte(`{"prompt":"encoded"}`)))
	ev.IsBase64Encoded = true
	resp, err := h.HandleFunctionURL(context.Background(), ev)
	require.NoError(t, err)
	_ = readEvents(t, resp.Body)
	require.Equal(t, "encoded", p.in.Prompt)
}

func TestHandleFunctionURL_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		event  func() events.LambdaFunctionURLRequest
		status int
		code   string
	}{
		{name: "invalid json", event: func() events.LambdaFunctionURLRequest { return makeEvent(`not-json`) }, status: http.StatusBadRequest, code: errInvalidInput},
		{name: "unknown field", event: func() events.LambdaFunctionURLRequest { return makeEvent(`{"prompt":"x","temperature":1}`) }, status: http.StatusBadRequest, code: errInvalidInput},
		{name: "unknown participant", event: func() events.LambdaFunctionURLRequest { return makeEvent(`{"participant":"linter","prompt":"x"}`) }, status: http.StatusNotFound, code: errUnknownParticipant},
		{name: "bad base64", event: func() events.LambdaFunctionURLRequest {
			ev := makeEvent("%%%")
			ev.IsBase64Encoded = true
			return ev
		}, status: http.StatusBadRequest, code: errInvalidInput},
		{name: "method", event: func() events.LambdaFunctionURLRequest {
			ev := makeEvent(`{"prompt":"x"}`)
			ev.RequestContext.HTTP.Method = http.MethodGet
			return ev
		}, status: http.StatusMethodNotAllowed, code: errMethodNotAllowed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &stubParticipant{}
			h := newTestHandler(t, map[string]Participant{"security-checker": p})

			resp, err := h.HandleFunctionURL(context.Background(), tc.event())
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
			require.Zero(t, p.calls)
		})
	}
}

func TestHandleFunctionURL_MapsParticipantErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   string
		reason string
	}{
		{name: "retrieval", err: &usecase.Error{Code: usecase.ErrorRetrieval, Reason: "checklist_not_found"}, code: "RETRIEVAL_ERROR", reason: "checklist_not_found"},
		{name: "configuration", err: &usecase.Error{Code: usecase.ErrorConfiguration, Reason: "object_store_unauthorized"}, code: "CONFIGURATION_ERROR", reason: "object_store_unauthorized"},
		{name: "completion", err: &usecase.Error{Code: usecase.ErrorCompletionService, Reason: "completion_error"}, code: "COMPLETION_SERVICE_ERROR", reason: "completion_error"},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "completion_rate_limited"}, code: "RATE_LIMITED", reason: "completion_rate_limited"},
		{name: "unexpected", err: errors.New("boom"), code: errInternal, reason: "unexpected_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &stubParticipant{fragments: []string{"partial"}, err: tc.err, res: usecase.ChatResult{State: usecase.StateError, Fragments: 1}}
			h := newTestHandler(t, map[string]Participant{"security-checker": p})

			resp, err := h.HandleFunctionURL(context.Background(), makeEvent(`{"prompt":"x"}`))
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			evs := readEvents(t, resp.Body)
			require.Equal(t, []map[string]any{
				{"type": "markdown", "value": "partial"},
				{"type": "error", "error": tc.code, "message": tc.reason},
			}, evs)
		})
	}
}

func TestHandleFunctionURL_CancelledIsDone(t *testing.T) {
	p := &stubParticipant{res: usecase.ChatResult{State: usecase.StateDone, Cancelled: true}}
	h := newTestHandler(t, map[string]Participant{"security-checker": p})

	resp, err := h.HandleFunctionURL(context.Background(), makeEvent(`{"prompt":"x"}`))
	require.NoError(t, err)
	evs := readEvents(t, resp.Body)
	require.Equal(t, []map[string]any{{"type": "done", "fragments": float64(0), "cancelled": true}}, evs)
}

func TestHandleFunctionURL_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	p := &stubParticipant{res: usecase.ChatResult{State: usecase.StateDone}}
	h := newTestHandler(t, map[string]Participant{"security-checker": p})

	ev := makeEvent(`{"prompt":"x"}`)
	ev.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.HandleFunctionURL(context.Background(), ev)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])

	ev = makeEvent(`not-json`)
	ev.Headers["X-CORRELATION-ID"] = "corr-456"
	resp, err = h.HandleFunctionURL(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, "corr-456", resp.Headers["X-Correlation-Id"])
}

func TestEventWriter_DoesNotEscapeHTML(t *testing.T) {
	var b strings.Builder
	ev := newEventWriter(&b)
	require.NoError(t, ev.Markdown("<b>&</b>"))
	require.Equal(t, `{"type":"markdown","value":"<b>&</b>"}`+"\n", b.String())
}
