// Package api defines the request/response envelope shared by the network
// path and the offline emulation path. Callers cannot tell which side
// produced a response.
package api

import (
	"encoding/json"
	"net/http"
)

// ErrRequiresConnection is the machine-readable error returned for routes
// that cannot be served without the backend.
const ErrRequiresConnection = "requires connection"

// Upload carries an audio file submitted for ingestion.
type Upload struct {
	Filename string
	MimeType string
	Data     []byte
}

// Request is an HTTP-shaped request routed either to the network or to the
// offline emulation layer.
type Request struct {
	Method string
	Path   string
	Body   json.RawMessage
	Upload *Upload
	UserID string // filled in from the session by the router
}

// Response is the envelope returned by both paths.
type Response struct {
	Status  int    `json:"-"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// OK returns a 200 success envelope.
func OK(data any) *Response {
	return &Response{Status: http.StatusOK, Success: true, Data: data}
}

// Created returns a 201 success envelope.
func Created(data any) *Response {
	return &Response{Status: http.StatusCreated, Success: true, Data: data}
}

// Fail returns a failure envelope with the given status and error string.
func Fail(status int, err string) *Response {
	return &Response{Status: status, Success: false, Error: err}
}

// FailMsg returns a failure envelope carrying a human-readable message
// alongside the stable error code.
func FailMsg(status int, err, msg string) *Response {
	return &Response{Status: status, Success: false, Error: err, Message: msg}
}

// Unavailable returns the 503 envelope used when a route needs the backend
// and the backend cannot be reached.
func Unavailable() *Response {
	return Fail(http.StatusServiceUnavailable, ErrRequiresConnection)
}

// DecodeData re-marshals the envelope data into out. Needed when a response
// crossed the network and Data is a decoded map rather than a typed value.
func (r *Response) DecodeData(out any) error {
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
