package usecase

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"security-checker/internal/domain"
	"security-checker/internal/integrations/blobstore"
)

const defaultModel = "gpt-4o"

// State is the position of one request in the pipeline.
type State string

const (
	StateIdle      State = "idle"
	StateFetching  State = "fetching"
	StateComposing State = "composing"
	StateStreaming State = "streaming"
	StateDone      State = "done"
	StateError     State = "error"
)

type ChecklistFetcher interface {
	Fetch(ctx context.Context, loc blobstore.Location) (string, error)
}

// FragmentStream yields completion text in arrival order and returns io.EOF
// when the completion is finished.
type FragmentStream interface {
	Recv() (string, error)
	Close() error
}

type CompletionClient interface {
	Stream(ctx context.Context, model string, messages []domain.ChatMessage) (FragmentStream, error)
}

// ResponseSink receives what the participant shows the user.
type ResponseSink interface {
	Reference(uri string) error
	Markdown(fragment string) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type ServiceConfig struct {
	Checklist      blobstore.Location
	Model          string
	Prompt         PromptTemplate
	AssistantTurns AssistantTurnPolicy
}

type ChatService struct {
	checklist ChecklistFetcher
	llm       CompletionClient
	location  blobstore.Location
	model     string
	prompt    PromptTemplate
	policy    AssistantTurnPolicy
}

type ChatRequest struct {
	Prompt   string
	History  []domain.Turn
	Document *domain.Document
}

type ChatResult struct {
	State     State
	Fragments int
	Cancelled bool
}

func NewChatService(checklist ChecklistFetcher, llm CompletionClient, cfg ServiceConfig) (*ChatService, error) {
	if checklist == nil {
		return nil, errors.New("usecase: checklist fetcher must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: completion client must not be nil")
	}
	if strings.TrimSpace(cfg.Checklist.Bucket) == "" || strings.TrimSpace(cfg.Checklist.Key) == "" {
		return nil, errors.New("usecase: checklist location must not be empty")
	}
	if cfg.Prompt.preamble == nil {
		return nil, errors.New("usecase: prompt template must not be empty")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	policy := cfg.AssistantTurns
	if policy == "" {
		policy = AssistantTurnsOmit
	}
	return &ChatService{
		checklist: checklist,
		llm:       llm,
		location:  cfg.Checklist,
		model:     model,
		prompt:    cfg.Prompt,
		policy:    policy,
	}, nil
}

// Respond runs one request: fetch the checklist, compose the messages, and
// relay the completion to sink fragment by fragment. Cancelling ctx ends the
// request without an error; fragments already relayed stay relayed.
func (s *ChatService) Respond(ctx context.Context, req ChatRequest, sink ResponseSink) (ChatResult, error) {
	res := ChatResult{State: StateIdle}
	if sink == nil {
		return failed(res, newError(ErrorSink, "nil_sink", nil))
	}

	res.State = StateFetching
	checklist, err := s.checklist.Fetch(ctx, s.location)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(res)
		}
		return failed(res, fetchError(err))
	}

	res.State = StateComposing
	history := reconstructHistory(req.History, s.policy)
	messages, ref, err := composeMessages(s.prompt, checklist, history, req.Prompt, req.Document)
	if err != nil {
		return failed(res, newError(ErrorConfiguration, "preamble_render_error", err))
	}
	if req.Document != nil {
		if err := sink.Reference(ref); err != nil {
			return failed(res, newError(ErrorSink, "reference_write_error", err))
		}
	}

	res.State = StateStreaming
	return s.streamCompletion(ctx, res, messages, sink)
}

func (s *ChatService) streamCompletion(ctx context.Context, res ChatResult, messages []domain.ChatMessage, sink ResponseSink) (ChatResult, error) {
	stream, err := s.llm.Stream(ctx, s.model, messages)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(res)
		}
		return failed(res, completionError("completion", err))
	}
	defer func() { _ = stream.Close() }()

	for {
		if ctx.Err() != nil {
			return cancelled(res)
		}
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return cancelled(res)
			}
			return failed(res, completionError("completion_stream", err))
		}
		if ctx.Err() != nil {
			return cancelled(res)
		}
		if err := sink.Markdown(fragment); err != nil {
			return failed(res, newError(ErrorSink, "markdown_write_error", err))
		}
		res.Fragments++
	}

	res.State = StateDone
	return res, nil
}

func failed(res ChatResult, err *Error) (ChatResult, error) {
	res.State = StateError
	return res, err
}

func cancelled(res ChatResult) (ChatResult, error) {
	res.State = StateDone
	res.Cancelled = true
	return res, nil
}

func fetchError(err error) *Error {
	switch {
	case errors.Is(err, blobstore.ErrUnauthorized):
		return newError(ErrorConfiguration, "object_store_unauthorized", err)
	case errors.Is(err, blobstore.ErrNotFound):
		return newError(ErrorRetrieval, "checklist_not_found", err)
	default:
		return newError(ErrorRetrieval, "checklist_fetch_error", err)
	}
}

func completionError(reason string, err error) *Error {
	status, ok := upstreamStatusCode(err)
	switch {
	case ok && status == http.StatusTooManyRequests:
		return newError(ErrorRateLimited, reason+"_rate_limited", err)
	case ok && (status == http.StatusUnauthorized || status == http.StatusForbidden):
		return newError(ErrorCompletionService, reason+"_unauthorized", err)
	default:
		return newError(ErrorCompletionService, reason+"_error", err)
	}
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
