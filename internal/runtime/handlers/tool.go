package handlers

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/meshwire/meshwire/internal/runtime/dispatch"
	"github.com/meshwire/meshwire/internal/runtime/envelope"
	errspkg "github.com/meshwire/meshwire/internal/runtime/errors"
	jsoncodec "github.com/meshwire/meshwire/internal/runtime/jsoncodec"
)

// JSONToolHandler processes decoded tool arguments and returns a result that
// is serialized back into the tool response.
type JSONToolHandler[In any, Out any] func(ctx context.Context, meta envelope.Meta, in In) (Out, error)

// BuildJSONTool wraps a typed handler as a dispatch tool handler. Arguments
// are decoded into In; the returned Out is serialized as a single JSON text
// content item.
func BuildJSONTool[In any, Out any](handler JSONToolHandler[In, Out]) (dispatch.ToolHandler, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	return func(ctx context.Context, meta envelope.Meta, call dispatch.ToolCall) (dispatch.ToolResponse, error) {
		var in In
		if len(call.Arguments) > 0 {
			if err := jsoncodec.Unmarshal(call.Arguments, &in); err != nil {
				return dispatch.ToolResponse{}, fmt.Errorf("decode arguments for %s: %w", call.Name, err)
			}
		}

		out, err := handler(ctx, meta, in)
		if err != nil {
			return dispatch.ToolResponse{}, err
		}

		payload, err := jsoncodec.Marshal(out)
		if err != nil {
			return dispatch.ToolResponse{}, fmt.Errorf("encode result for %s: %w", call.Name, err)
		}
		return dispatch.ToolResponse{
			ID:      call.ID,
			Content: []dispatch.Content{{Type: "text", Text: string(payload)}},
		}, nil
	}, nil
}

// ProtoToolHandler processes a typed protobuf argument message.
type ProtoToolHandler[In proto.Message] func(ctx context.Context, meta envelope.Meta, in In) (proto.Message, error)

var toolProtoJSON = protojson.MarshalOptions{EmitUnpopulated: true}

// BuildProtoTool wraps a typed protobuf handler as a dispatch tool handler.
// Arguments arrive and results leave as protojson.
func BuildProtoTool[In proto.Message](handler ProtoToolHandler[In]) (dispatch.ToolHandler, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	var zero In
	prototype, err := EnsureProtoPrototype(zero)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, meta envelope.Meta, call dispatch.ToolCall) (dispatch.ToolResponse, error) {
		typed, err := clonePrototype(prototype)
		if err != nil {
			return dispatch.ToolResponse{}, err
		}
		if len(call.Arguments) > 0 {
			if err := protojson.Unmarshal(call.Arguments, typed); err != nil {
				return dispatch.ToolResponse{}, fmt.Errorf("decode arguments for %s: %w", call.Name, err)
			}
		}

		out, err := handler(ctx, meta, typed)
		if err != nil {
			return dispatch.ToolResponse{}, err
		}
		if out == nil {
			return dispatch.ToolResponse{ID: call.ID}, nil
		}

		payload, err := toolProtoJSON.Marshal(out)
		if err != nil {
			return dispatch.ToolResponse{}, fmt.Errorf("encode result for %s: %w", call.Name, err)
		}
		return dispatch.ToolResponse{
			ID:      call.ID,
			Content: []dispatch.Content{{Type: "text", Text: string(payload)}},
		}, nil
	}, nil
}
