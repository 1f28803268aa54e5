// Package proxy is an OpenAI-compatible forwarding proxy that answers repeated
// prompts from the semantic index instead of the upstream model.
package proxy

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrInvalidBody is returned when a request body is not a JSON object.
var ErrInvalidBody = errors.New("request body is not a JSON object")

// Parser extracts the text that identifies a request for caching.
type Parser interface {
	// Parse returns the request's text fragments in order. An empty result
	// means the request cannot be cached.
	Parse(body []byte) ([]string, error)
}

// ChatParser reads chat completion requests: the content of every message,
// including the text parts of multi-part content. Legacy completion requests
// contribute their prompt.
type ChatParser struct{}

// Parse implements Parser.
func (ChatParser) Parse(body []byte) ([]string, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidBody
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, ErrInvalidBody
	}

	var parts []string
	for _, msg := range root.Get("messages").Array() {
		content := msg.Get("content")
		if !content.IsArray() {
			if s := strings.TrimSpace(content.String()); s != "" {
				parts = append(parts, s)
			}
			continue
		}
		for _, p := range content.Array() {
			if p.Get("type").String() != "text" {
				continue
			}
			if s := strings.TrimSpace(p.Get("text").String()); s != "" {
				parts = append(parts, s)
			}
		}
	}
	if len(parts) == 0 {
		prompt := root.Get("prompt")
		if prompt.IsArray() {
			for _, p := range prompt.Array() {
				if s := strings.TrimSpace(p.String()); s != "" {
					parts = append(parts, s)
				}
			}
		} else if s := strings.TrimSpace(prompt.String()); s != "" {
			parts = append(parts, s)
		}
	}
	return parts, nil
}

// streaming reports whether the request asks for a server-sent event stream.
func streaming(body []byte) bool {
	return gjson.GetBytes(body, "stream").Bool()
}
