package socketioexecutor

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/specialistvlad/deploygrid/internal/pipeline"
	"github.com/zclconf/go-cty/cty"
)

// reply is an agent answer to one request.
type reply struct {
	address string
	err     error
}

// encodeRequest builds the payload of a deploy event.
func encodeRequest(id string, req pipeline.Request) (map[string]any, error) {
	args := make([]any, 0, len(req.Args))
	for i, v := range req.Args {
		native, err := valueToNative(v)
		if err != nil {
			return nil, fmt.Errorf("arg %d of %s: %w", i, req.Step, err)
		}
		args = append(args, native)
	}
	return map[string]any{
		"id":        id,
		"network":   req.Network,
		"step":      req.Step,
		"artifact":  req.Artifact,
		"from":      req.From,
		"args":      args,
		"args_hash": req.ArgsHash,
	}, nil
}

// parseReply decodes a deployed or deploy_failed payload of the form
// {"id": "...", "address": "..."} or {"id": "...", "error": "..."}.
func parseReply(event string, data []any) (string, reply, error) {
	if len(data) == 0 {
		return "", reply{}, errors.New("empty payload")
	}
	m, ok := data[0].(map[string]any)
	if !ok {
		return "", reply{}, fmt.Errorf("payload is %T, want an object", data[0])
	}
	id, _ := m["id"].(string)
	if id == "" {
		return "", reply{}, errors.New("payload has no request id")
	}

	switch event {
	case EventDeployed:
		addr, _ := m["address"].(string)
		if addr == "" {
			return id, reply{}, errors.New("deployed payload has no address")
		}
		return id, reply{address: addr}, nil
	case EventDeployFailed:
		reason, _ := m["error"].(string)
		if reason == "" {
			reason = "no reason given"
		}
		return id, reply{err: fmt.Errorf("%w: %s", ErrRejected, reason)}, nil
	default:
		return id, reply{}, fmt.Errorf("unexpected event %q", event)
	}
}

// valueToNative converts a cty value into JSON-friendly Go values. Integers
// that fit an int64 stay numbers; other numbers become decimal strings so
// that large token amounts keep every digit.
func valueToNative(val cty.Value) (any, error) {
	if !val.IsKnown() {
		return nil, errors.New("value is not known")
	}
	if val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString(), nil
	case ty == cty.Bool:
		return val.True(), nil
	case ty == cty.Number:
		bf := val.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i, nil
			}
		}
		return bf.Text('f', -1), nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			native, err := valueToNative(v)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = native
		}
		return out, nil
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		out := make([]any, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			native, err := valueToNative(v)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %s", ty.FriendlyName())
	}
}
