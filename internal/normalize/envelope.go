package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
)

type envelope struct {
	Choices *[]struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// unwrapEnvelope reports whether text is a chat-completions envelope and, if
// so, returns the first choice's message content.
func unwrapEnvelope(text string) (content string, ok bool, err error) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return "", false, nil
	}

	var env envelope
	if json.Unmarshal([]byte(trimmed), &env) != nil || env.Choices == nil {
		return "", false, nil
	}

	choices := *env.Choices
	if len(choices) == 0 {
		return "", true, fmt.Errorf("%w: no choices", ErrEnvelope)
	}
	if choices[0].Message == nil || choices[0].Message.Content == nil {
		return "", true, fmt.Errorf("%w: first choice has no message content", ErrEnvelope)
	}

	return *choices[0].Message.Content, true, nil
}
