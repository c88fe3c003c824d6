// Package normalize turns loosely structured model output into news items.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/bhuvisx/area-news/backend/internal/models"
)

var (
	// ErrEnvelope is returned when a completion envelope lacks choices[0].message.content.
	ErrEnvelope = errors.New("invalid completion envelope")
	// ErrParse is returned when the extracted text is not valid JSON.
	ErrParse = errors.New("extracted text is not valid JSON")
	// ErrShape is returned when the parsed value is not an array.
	ErrShape = errors.New("parsed value is not an array")
	// ErrInvalidItem is returned by validators rejecting an element.
	ErrInvalidItem = errors.New("invalid news item")
)

// Kind tells the normalizer what the input text is.
type Kind int

const (
	// KindAuto detects an envelope and otherwise treats the text as content.
	KindAuto Kind = iota
	// KindEnvelope is the full chat-completions response body.
	KindEnvelope
	// KindContent is already-extracted message content.
	KindContent
)

func (k Kind) String() string {
	switch k {
	case KindEnvelope:
		return "envelope"
	case KindContent:
		return "content"
	default:
		return "auto"
	}
}

// Input is raw upstream text tagged with its kind.
type Input struct {
	Kind Kind
	Text string
}

// Validator inspects the decoded items after parsing succeeded.
type Validator func([]models.NewsItem) error

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithRepair enables a single jsonrepair pass before giving up with ErrParse.
func WithRepair() Option {
	return func(n *Normalizer) { n.repair = true }
}

// WithValidator appends a post-parse validator.
func WithValidator(v Validator) Option {
	return func(n *Normalizer) {
		if v != nil {
			n.validators = append(n.validators, v)
		}
	}
}

// WithSteps replaces the extraction chain.
func WithSteps(steps ...Step) Option {
	return func(n *Normalizer) { n.steps = steps }
}

// Normalizer is stateless after construction and safe for concurrent use.
type Normalizer struct {
	steps      []Step
	repair     bool
	validators []Validator
}

// New builds a Normalizer with the default extraction chain.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{steps: DefaultSteps()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var defaultNormalizer = New()

// Normalize runs the default normalizer with envelope auto-detection.
func Normalize(raw string) ([]models.NewsItem, error) {
	return defaultNormalizer.NormalizeInput(Input{Kind: KindAuto, Text: raw})
}

// NormalizeInput extracts, parses and validates the news array from in.
func (n *Normalizer) NormalizeInput(in Input) ([]models.NewsItem, error) {
	text := in.Text

	if in.Kind != KindContent {
		content, ok, err := unwrapEnvelope(text)
		if err != nil {
			return nil, err
		}
		switch {
		case ok:
			text = content
		case in.Kind == KindEnvelope:
			return nil, fmt.Errorf("%w: missing choices", ErrEnvelope)
		}
	}

	for _, step := range n.steps {
		text = step(text)
	}

	value, err := n.parse(text)
	if err != nil {
		return nil, err
	}

	elems, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrShape, kindOf(value))
	}

	items := make([]models.NewsItem, 0, len(elems))
	for _, elem := range elems {
		items = append(items, toItem(elem))
	}

	for _, validate := range n.validators {
		if err := validate(items); err != nil {
			return nil, err
		}
	}

	return items, nil
}

func (n *Normalizer) parse(text string) (any, error) {
	value, err := decodeStrict(text)
	if err == nil {
		return value, nil
	}
	if !n.repair {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	repaired, repairErr := jsonrepair.JSONRepair(text)
	if repairErr != nil {
		return nil, fmt.Errorf("%w: %v (repair: %v)", ErrParse, err, repairErr)
	}
	value, err = decodeStrict(repaired)
	if err != nil {
		return nil, fmt.Errorf("%w: repaired text: %v", ErrParse, err)
	}
	return value, nil
}

// decodeStrict parses exactly one JSON value with nothing but whitespace after it.
func decodeStrict(text string) (any, error) {
	var raw json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

func toItem(elem any) models.NewsItem {
	obj, ok := elem.(map[string]any)
	if !ok {
		return models.NewsItem{}
	}
	return models.NewsItem{
		Title:       field(obj, "title"),
		Description: field(obj, "description"),
		Source:      field(obj, "source"),
		Link:        field(obj, "link"),
	}
}

func field(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		// Nested objects and arrays are not renderable card text.
		return ""
	}
}

func kindOf(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// RequireTitle rejects any element whose title is blank.
func RequireTitle(items []models.NewsItem) error {
	for i, item := range items {
		if strings.TrimSpace(item.Title) == "" {
			return fmt.Errorf("%w: element %d has no title", ErrInvalidItem, i)
		}
	}
	return nil
}
