// Package route implements the JSON-line wire protocol and the routed
// client that multiplexes commands to named backend destinations through
// the central server.
package route

import (
	"fmt"
	"strings"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/npy"
)

// Request is one command addressed to a logical destination.
type Request struct {
	Dest    domain.ModuleName `json:"dest"`
	Command string            `json:"command"`
	Args    map[string]any    `json:"args,omitempty"`
}

// ResponseKind discriminates the polymorphic reply payload.
type ResponseKind string

const (
	KindStatus ResponseKind = "status"
	KindState  ResponseKind = "state"
	KindImage  ResponseKind = "image"
	KindError  ResponseKind = "error"
)

// Response is the tagged result variant carried on the wire. Exactly one
// payload field is populated, selected by Kind.
type Response struct {
	Kind   ResponseKind   `json:"kind"`
	Status string         `json:"status,omitempty"`
	State  map[string]any `json:"state,omitempty"`
	Image  *ImagePayload  `json:"image,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// ImagePayload carries a serialized numeric array: flattened row-major
// values plus shape and dtype, mirroring how instrument servers serialize
// arrays for transport.
type ImagePayload struct {
	Rows  int       `json:"rows"`
	Cols  int       `json:"cols"`
	Dtype string    `json:"dtype"`
	Data  []float64 `json:"data"`
}

// StatusResponse builds a plain status reply.
func StatusResponse(format string, args ...any) Response {
	return Response{Kind: KindStatus, Status: fmt.Sprintf(format, args...)}
}

// StateResponse builds a structured state reply.
func StateResponse(state map[string]any) Response {
	return Response{Kind: KindState, State: state}
}

// ImageResponse builds an image reply.
func ImageResponse(img *ImagePayload) Response {
	return Response{Kind: KindImage, Image: img}
}

// ErrorResponse builds an error reply. The text is prefixed with the ERROR
// marker callers scan for.
func ErrorResponse(format string, args ...any) Response {
	msg := fmt.Sprintf(format, args...)
	if !strings.Contains(msg, "ERROR") {
		msg = "ERROR: " + msg
	}
	return Response{Kind: KindError, Error: msg}
}

// IsError reports whether the reply denotes failure, covering both the
// tagged error kind and legacy ERROR markers inside status text.
func (r Response) IsError() bool {
	if r.Kind == KindError {
		return true
	}
	return strings.Contains(r.Status, "ERROR")
}

// Text returns the human-readable payload for status and error replies.
func (r Response) Text() string {
	if r.Kind == KindError {
		return r.Error
	}
	return r.Status
}

// Array converts an image reply into an npy array.
func (r Response) Array() (*npy.Array, error) {
	if r.Kind != KindImage || r.Image == nil {
		return nil, domain.ErrBadResponse
	}
	return &npy.Array{
		Shape: []int{r.Image.Rows, r.Image.Cols},
		Dtype: r.Image.Dtype,
		Data:  r.Image.Data,
	}, nil
}

// FromArray serializes an npy array into an image payload. Only 2-D arrays
// travel on the wire.
func FromArray(a *npy.Array) (*ImagePayload, error) {
	if len(a.Shape) != 2 {
		return nil, fmt.Errorf("image payload wants a 2-D array, got shape %v", a.Shape)
	}
	return &ImagePayload{
		Rows:  a.Shape[0],
		Cols:  a.Shape[1],
		Dtype: a.Dtype,
		Data:  a.Data,
	}, nil
}
