package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Kind classifies gateway failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindModelNotFound
	KindInvalidMediaReference
	KindUnresolvedMediaReference
	KindTransport
	KindUpstreamHTTP
	KindProvider
)

func (k Kind) String() string {
	switch k {
	case KindModelNotFound:
		return "ModelNotFound"
	case KindInvalidMediaReference:
		return "InvalidMediaReference"
	case KindUnresolvedMediaReference:
		return "UnresolvedMediaReference"
	case KindTransport:
		return "TransportError"
	case KindUpstreamHTTP:
		return "UpstreamHttpError"
	case KindProvider:
		return "ProviderError"
	default:
		return "ServerError"
	}
}

// Error is the single failure type surfaced by providers and the dispatcher.
// Which payload fields are set depends on Kind.
type Error struct {
	Kind     Kind
	Provider string
	Model    string

	// media reference that could not be classified or was left unresolved
	Value string

	// upstream HTTP failure
	Status int
	Reason string
	Body   string
	Header http.Header

	// human readable message; for KindUpstreamHTTP it is extracted from Body
	Message string

	// transport failure details
	Timeout   bool
	Temporary bool

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}

	switch e.Kind {
	case KindModelNotFound:
		fmt.Fprintf(&b, "model %s not found", e.Model)
	case KindInvalidMediaReference:
		fmt.Fprintf(&b, "invalid media reference: %s", Truncate(e.Value, 200))
	case KindUnresolvedMediaReference:
		fmt.Fprintf(&b, "media was not downloaded: %s", Truncate(e.Value, 200))
	case KindUpstreamHTTP:
		fmt.Fprintf(&b, "HTTP %d %s", e.Status, e.Reason)
		if e.Message != "" {
			b.WriteString(": ")
			b.WriteString(e.Message)
		}
	default:
		if e.Message != "" {
			b.WriteString(e.Message)
		} else if e.Err != nil {
			b.WriteString(e.Err.Error())
		} else {
			b.WriteString(e.Kind.String())
		}
		return b.String()
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another provider may succeed where this one failed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindUpstreamHTTP, KindProvider:
		return true
	default:
		return false
	}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func ModelNotFound(model string) *Error {
	return &Error{Kind: KindModelNotFound, Model: model}
}

func InvalidMediaReference(value string, err error) *Error {
	return &Error{Kind: KindInvalidMediaReference, Value: value, Err: err}
}

func UnresolvedMediaReference(value string) *Error {
	return &Error{Kind: KindUnresolvedMediaReference, Value: value}
}

func TransportError(provider string, err error) *Error {
	return &Error{Kind: KindTransport, Provider: provider, Err: err}
}

func ProviderError(provider, message string) *Error {
	return &Error{Kind: KindProvider, Provider: provider, Message: message}
}

// UpstreamHTTPError records a non-2xx response. The raw body is kept and a
// display message is extracted from it when one can be found.
func UpstreamHTTPError(provider string, status int, body string, header http.Header) *Error {
	return &Error{
		Kind:     KindUpstreamHTTP,
		Provider: provider,
		Status:   status,
		Reason:   http.StatusText(status),
		Body:     body,
		Header:   header,
		Message:  ExtractUpstreamMessage(body),
	}
}

// ExtractUpstreamMessage pulls the most useful message out of an upstream
// error body. Known shapes:
//
//	{"error":{"message":"...","code":..,"metadata":{"raw":".."},"provider":".."}}
//	{"error":"..."}
//	{"message":"..."}
//	{"message":{"detail":[{"msg":"..","loc":[..]}]}}
//
// Bodies that are not valid JSON are repaired first; if nothing can be
// extracted the result is empty.
func ExtractUpstreamMessage(body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(body)
		if rerr != nil {
			return ""
		}
		if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
			return ""
		}
	}

	if e, ok := obj["error"]; ok {
		switch v := e.(type) {
		case string:
			return v
		case map[string]any:
			msg, ok := v["message"].(string)
			if !ok {
				return ""
			}
			if code, ok := v["code"]; ok && code != nil {
				msg = fmt.Sprintf("%v %s", code, msg)
			}
			if meta, ok := v["metadata"].(map[string]any); ok {
				if raw, ok := meta["raw"]; ok {
					msg += fmt.Sprintf(" - %v", raw)
				}
			}
			if p, ok := v["provider"]; ok {
				msg += fmt.Sprintf(" (%v)", p)
			}
			return msg
		}
		return ""
	}

	switch m := obj["message"].(type) {
	case string:
		return m
	case map[string]any:
		details, ok := m["detail"].([]any)
		if !ok || len(details) == 0 {
			return ""
		}
		first, ok := details[0].(map[string]any)
		if !ok {
			return ""
		}
		msg, _ := first["msg"].(string)
		if loc, ok := first["loc"].([]any); ok && len(loc) > 0 {
			parts := make([]string, 0, len(loc))
			for _, l := range loc {
				parts = append(parts, fmt.Sprint(l))
			}
			msg += " (in " + strings.Join(parts, " ") + ")"
		}
		return msg
	}
	return ""
}

// Truncate limits string length for logs and error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
