package usecase

import (
	"errors"
	"fmt"
	"strings"
	"text/template"

	"security-checker/internal/domain"
)

// AssistantTurnPolicy decides what prior assistant turns contribute to the
// message list.
type AssistantTurnPolicy string

const (
	// AssistantTurnsOmit drops assistant turns; only earlier user prompts are
	// replayed. This is how the participant has always behaved.
	AssistantTurnsOmit AssistantTurnPolicy = "omit"
	// AssistantTurnsInclude replays assistant turns as assistant messages
	// built from their text and markdown parts. A turn without such parts
	// becomes an empty message rather than being skipped.
	AssistantTurnsInclude AssistantTurnPolicy = "include"
)

func ParseAssistantTurnPolicy(s string) (AssistantTurnPolicy, error) {
	switch p := AssistantTurnPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return AssistantTurnsOmit, nil
	case AssistantTurnsOmit, AssistantTurnsInclude:
		return p, nil
	default:
		return "", fmt.Errorf("usecase: unknown assistant turn policy %q", s)
	}
}

const checklistProbe = "\x00checklist\x00"

var builtinPrompts = map[string]struct {
	preamble      string
	sourceHeading string
}{
	"ja": {
		preamble: "あなたはウェブアプリ開発におけるセキュリティの専門家です。" +
			"以下の {# チェックリスト} を参考にし、セキュリティ上の問題点を指摘してください。" +
			"問題点がある場合は、修正案も提示してください。\n\n# チェックリスト\n\n{{.Checklist}}",
		sourceHeading: "# ソース コード",
	},
	"en": {
		preamble: "You are a security expert in web application development. " +
			"Using the {# Checklist} below as a reference, point out any security issues. " +
			"If there are issues, also propose fixes.\n\n# Checklist\n\n{{.Checklist}}",
		sourceHeading: "# Source Code",
	},
}

// PromptTemplate holds the wording of one participant variant.
type PromptTemplate struct {
	preamble      *template.Template
	sourceHeading string
}

// NewPromptTemplate parses preamble as a text/template. The template must
// render {{.Checklist}} so the checklist always reaches the model.
func NewPromptTemplate(preamble, sourceHeading string) (PromptTemplate, error) {
	if strings.TrimSpace(sourceHeading) == "" {
		return PromptTemplate{}, errors.New("usecase: source heading must not be empty")
	}
	tmpl, err := template.New("preamble").Option("missingkey=error").Parse(preamble)
	if err != nil {
		return PromptTemplate{}, fmt.Errorf("usecase: parse preamble template: %w", err)
	}
	pt := PromptTemplate{preamble: tmpl, sourceHeading: sourceHeading}
	rendered, err := pt.renderPreamble(checklistProbe)
	if err != nil {
		return PromptTemplate{}, err
	}
	if !strings.Contains(rendered, checklistProbe) {
		return PromptTemplate{}, errors.New("usecase: preamble template must include {{.Checklist}}")
	}
	return pt, nil
}

// BuiltinPromptTemplate returns the bundled wording for locale, with an
// optional preamble and heading override.
func BuiltinPromptTemplate(locale, preambleOverride, headingOverride string) (PromptTemplate, error) {
	p, ok := builtinPrompts[strings.ToLower(strings.TrimSpace(locale))]
	if !ok {
		return PromptTemplate{}, fmt.Errorf("usecase: unknown prompt locale %q", locale)
	}
	preamble, heading := p.preamble, p.sourceHeading
	if strings.TrimSpace(preambleOverride) != "" {
		preamble = preambleOverride
	}
	if strings.TrimSpace(headingOverride) != "" {
		heading = headingOverride
	}
	return NewPromptTemplate(preamble, heading)
}

func (p PromptTemplate) renderPreamble(checklist string) (string, error) {
	if p.preamble == nil {
		return "", errors.New("usecase: prompt template not initialized")
	}
	var b strings.Builder
	if err := p.preamble.Execute(&b, struct{ Checklist string }{checklist}); err != nil {
		return "", fmt.Errorf("usecase: render preamble: %w", err)
	}
	return b.String(), nil
}

// reconstructHistory maps host turns to messages in their original order.
func reconstructHistory(turns []domain.Turn, policy AssistantTurnPolicy) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(turns))
	for _, turn := range turns {
		switch turn.Kind {
		case domain.TurnRequest:
			messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: turn.Prompt})
		case domain.TurnResponse:
			if policy != AssistantTurnsInclude {
				continue
			}
			messages = append(messages, domain.ChatMessage{Role: domain.RoleAssistant, Content: responseText(turn.Response)})
		}
	}
	return messages
}

func responseText(parts []domain.ResponsePart) string {
	var b strings.Builder
	for _, part := range parts {
		if part.Kind == domain.PartText || part.Kind == domain.PartMarkdown {
			b.WriteString(part.Value)
		}
	}
	return b.String()
}

// composeMessages builds the outgoing list: the rendered preamble, the
// history, then the new request. It returns the URI of the document that was
// embedded, or "" when none was focused.
func composeMessages(p PromptTemplate, checklist string, history []domain.ChatMessage, prompt string, doc *domain.Document) ([]domain.ChatMessage, string, error) {
	preamble, err := p.renderPreamble(checklist)
	if err != nil {
		return nil, "", err
	}

	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: preamble})
	messages = append(messages, history...)

	if doc == nil {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: prompt})
		return messages, "", nil
	}
	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: withSourceBlock(prompt, p.sourceHeading, doc.Text),
	})
	return messages, doc.URI, nil
}

func withSourceBlock(prompt, heading, source string) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n")
	b.WriteString(heading)
	b.WriteString("\n```\n")
	b.WriteString(source)
	if !strings.HasSuffix(source, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```")
	return b.String()
}
