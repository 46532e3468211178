package domain

// TurnKind tags a prior conversation turn as either side of the exchange.
type TurnKind string

const (
	TurnRequest  TurnKind = "request"
	TurnResponse TurnKind = "response"
)

// PartKind identifies the payload of one rendered response part.
type PartKind string

const (
	PartText     PartKind = "text"
	PartMarkdown PartKind = "markdown"
)

// ResponsePart is one fragment the host rendered for an earlier assistant
// turn. Kinds other than text and markdown (references, buttons, trees) are
// carried through but never contribute text.
type ResponsePart struct {
	Kind  PartKind `json:"kind"`
	Value string   `json:"value,omitempty"`
}

// Turn is a host-owned prior conversation turn. Prompt is set for
// TurnRequest, Response for TurnResponse.
type Turn struct {
	Kind     TurnKind       `json:"kind"`
	Prompt   string         `json:"prompt,omitempty"`
	Response []ResponsePart `json:"response,omitempty"`
}

// Document is the editor document focused when the request was issued.
type Document struct {
	URI  string `json:"uri"`
	Text string `json:"text"`
}
