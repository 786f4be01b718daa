package apierrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind int

const (
	KindInternal Kind = iota
	KindInvalidRequest
	KindUpstreamTimeout
	KindUpstreamHTTP
	KindUpstreamTransport
	KindUpstreamMalformed
)

var kindNames = map[Kind]string{
	KindInternal:          "internal",
	KindInvalidRequest:    "invalid_request",
	KindUpstreamTimeout:   "upstream_timeout",
	KindUpstreamHTTP:      "upstream_http_error",
	KindUpstreamTransport: "upstream_transport_error",
	KindUpstreamMalformed: "upstream_malformed_response",
}

var kindStatus = map[Kind]int{
	KindInternal:          http.StatusInternalServerError,
	KindInvalidRequest:    http.StatusBadRequest,
	KindUpstreamTimeout:   http.StatusGatewayTimeout,
	KindUpstreamHTTP:      http.StatusBadGateway,
	KindUpstreamTransport: http.StatusBadGateway,
	KindUpstreamMalformed: http.StatusInternalServerError,
}

// Messages returned to clients. Upstream detail never goes here.
var kindMessage = map[Kind]string{
	KindInternal:          "An internal error occurred while processing your request",
	KindInvalidRequest:    "Invalid request",
	KindUpstreamTimeout:   "Request timeout - the Claude API took too long to respond",
	KindUpstreamHTTP:      "Claude API returned an error",
	KindUpstreamTransport: "Failed to communicate with Claude API",
	KindUpstreamMalformed: "An internal error occurred while processing your request",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindInternal]
}

func StatusFor(k Kind) int {
	if status, ok := kindStatus[k]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func PublicMessage(k Kind) string {
	if msg, ok := kindMessage[k]; ok {
		return msg
	}
	return kindMessage[KindInternal]
}

// Error is a classified request-path failure. Message is safe to show to
// clients only for KindInvalidRequest; Status carries the upstream HTTP status
// for KindUpstreamHTTP.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func InvalidRequest(message string) *Error {
	return New(KindInvalidRequest, message)
}

// KindOf returns KindInternal for errors that were never classified.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}

// ClientMessage picks the text a client may see for err.
func ClientMessage(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Kind == KindInvalidRequest && strings.TrimSpace(apiErr.Message) != "" {
		return apiErr.Message
	}
	return PublicMessage(KindOf(err))
}

type Envelope struct {
	Error string `json:"error"`
}

func Marshal(message string) []byte {
	if strings.TrimSpace(message) == "" {
		message = "request failed"
	}
	body, err := json.Marshal(Envelope{Error: message})
	if err != nil {
		return []byte(`{"error":"Internal server error"}`)
	}
	return body
}

func Write(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(Marshal(message))
}

// WriteError maps err to its status and client-safe message.
func WriteError(w http.ResponseWriter, err error) {
	Write(w, StatusFor(KindOf(err)), ClientMessage(err))
}
