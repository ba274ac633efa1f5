// Package dispatch implements envelope-wrapped tool calls over pub/sub:
// a server side that routes calls to registered handlers with queue-group
// load balancing, and a caller side with reply inboxes, timeouts, and
// discovery.
package dispatch

import (
	"encoding/json"
	"errors"

	"github.com/meshwire/meshwire/internal/runtime/jsoncodec"
)

// ErrAmbiguousPayload is returned when a message body does not carry
// exactly one of the four payload kinds.
var ErrAmbiguousPayload = errors.New("meshwire: payload must carry exactly one of tool_call, tool_response, tool_registration, discovery_data")

// QueryListTools is the discovery query answered from the registration
// catalog.
const QueryListTools = "list_tools"

// Payload is the body of every dispatcher message. Exactly one field is
// non-nil; this is enforced on both send and receive.
type Payload struct {
	ToolCall     *ToolCall     `json:"tool_call,omitempty"`
	ToolResponse *ToolResponse `json:"tool_response,omitempty"`
	Registration *Registration `json:"tool_registration,omitempty"`
	Discovery    *Discovery    `json:"discovery_data,omitempty"`
}

// Validate enforces the exactly-one contract.
func (p *Payload) Validate() error {
	if p == nil {
		return ErrAmbiguousPayload
	}
	count := 0
	if p.ToolCall != nil {
		count++
	}
	if p.ToolResponse != nil {
		count++
	}
	if p.Registration != nil {
		count++
	}
	if p.Discovery != nil {
		count++
	}
	if count != 1 {
		return ErrAmbiguousPayload
	}
	return nil
}

// ToolCall asks a named tool to run with JSON arguments.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Content is one item of a tool response. Type is free-form; "text" is the
// common case.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// ToolResponse answers a ToolCall. IsError marks handler-level failures;
// those are never transport errors and are never retried.
type ToolResponse struct {
	ID      string    `json:"id"`
	Content []Content `json:"content,omitempty"`
	IsError bool      `json:"is_error,omitempty"`
}

// Registration describes one tool: its argument schema, the declaring
// service, and a capability set.
type Registration struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Schema       json.RawMessage `json:"schema,omitempty"`
	Service      string          `json:"service"`
	Version      string          `json:"version,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
}

// Discovery carries a catalog query or its answer.
type Discovery struct {
	QueryType string         `json:"query_type"`
	Service   string         `json:"service,omitempty"`
	Catalog   []Registration `json:"catalog,omitempty"`
}

// errorResponse builds the tool_response payload for a failed call.
func errorResponse(callID, text string) *Payload {
	return &Payload{ToolResponse: &ToolResponse{
		ID:      callID,
		IsError: true,
		Content: []Content{{Type: "text", Text: text}},
	}}
}

func encodePayload(p *Payload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return jsoncodec.Marshal(p)
}

func decodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := jsoncodec.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
