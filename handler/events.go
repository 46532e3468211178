package handler

import (
	"encoding/json"
	"io"
)

const contentTypeNDJSON = "application/x-ndjson"

type referenceEvent struct {
	Type string `json:"type"`
	URI  string `json:"uri"`
}

type markdownEvent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type doneEvent struct {
	Type      string `json:"type"`
	Fragments int    `json:"fragments"`
	Cancelled bool   `json:"cancelled"`
}

type flusher interface {
	Flush()
}

// eventWriter is the response sink handed to participants: every call is
// written as one NDJSON line and flushed straight away.
type eventWriter struct {
	w   io.Writer
	enc *json.Encoder
}

func newEventWriter(w io.Writer) *eventWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &eventWriter{w: w, enc: enc}
}

func (e *eventWriter) Reference(uri string) error {
	return e.write(referenceEvent{Type: "reference", URI: uri})
}

func (e *eventWriter) Markdown(fragment string) error {
	return e.write(markdownEvent{Type: "markdown", Value: fragment})
}

func (e *eventWriter) fail(code, message string) error {
	return e.write(errorEvent{Type: "error", Error: code, Message: message})
}

func (e *eventWriter) done(fragments int, cancelled bool) error {
	return e.write(doneEvent{Type: "done", Fragments: fragments, Cancelled: cancelled})
}

func (e *eventWriter) write(v any) error {
	if err := e.enc.Encode(v); err != nil {
		return err
	}
	if f, ok := e.w.(flusher); ok {
		f.Flush()
	}
	return nil
}
