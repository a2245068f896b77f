// Package redact implements structural redaction of decoded JSON payloads.
//
// Redaction is keyed by field name, not by string scanning: any field whose
// name appears in a tool's sensitive set is replaced with a placeholder at
// every nesting depth. The input payload is never mutated.
package redact

import (
	"fmt"
	"strings"
)

// Placeholder replaces sensitive values in records, responses, and messages.
const Placeholder = "[REDACTED]"

// Map returns a deep copy of payload with every field named in sensitive
// replaced by Placeholder, at any depth, including inside array elements.
func Map(payload map[string]any, sensitive []string) map[string]any {
	if payload == nil {
		return nil
	}
	set := fieldSet(sensitive)
	return redactMap(payload, set)
}

func fieldSet(fields []string) map[string]struct{} {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func redactMap(in map[string]any, sensitive map[string]struct{}) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if _, hit := sensitive[k]; hit {
			out[k] = Placeholder
			continue
		}
		out[k] = redactValue(v, sensitive)
	}
	return out
}

func redactValue(v any, sensitive map[string]struct{}) any {
	switch t := v.(type) {
	case map[string]any:
		return redactMap(t, sensitive)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redactValue(e, sensitive)
		}
		return out
	default:
		return v
	}
}

// Scrub removes sensitive values from a free-text message, typically a
// handler error. Values are collected from the original payload's sensitive
// fields and replaced wherever they occur verbatim in the message. Handler
// errors may echo inputs, so this runs on every captured error message.
func Scrub(msg string, payload map[string]any, sensitive []string) string {
	if msg == "" || payload == nil || len(sensitive) == 0 {
		return msg
	}
	set := fieldSet(sensitive)
	values := collectValues(payload, set, nil)
	for _, v := range values {
		if v == "" {
			continue
		}
		msg = strings.ReplaceAll(msg, v, Placeholder)
	}
	return msg
}

// collectValues gathers string forms of every sensitive field's value.
func collectValues(in map[string]any, sensitive map[string]struct{}, acc []string) []string {
	for k, v := range in {
		if _, hit := sensitive[k]; hit {
			acc = appendValueStrings(v, acc)
			continue
		}
		switch t := v.(type) {
		case map[string]any:
			acc = collectValues(t, sensitive, acc)
		case []any:
			for _, e := range t {
				if m, ok := e.(map[string]any); ok {
					acc = collectValues(m, sensitive, acc)
				}
			}
		}
	}
	return acc
}

func appendValueStrings(v any, acc []string) []string {
	switch t := v.(type) {
	case nil:
		return acc
	case string:
		return append(acc, t)
	case map[string]any:
		for _, e := range t {
			acc = appendValueStrings(e, acc)
		}
		return acc
	case []any:
		for _, e := range t {
			acc = appendValueStrings(e, acc)
		}
		return acc
	default:
		return append(acc, fmt.Sprintf("%v", t))
	}
}
