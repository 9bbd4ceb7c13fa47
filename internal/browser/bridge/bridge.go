// File: internal/browser/bridge/bridge.go
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/noticescan/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotAnObject is returned when a script result that should be an object
// handle is a primitive instead.
var ErrNotAnObject = errors.New("remote value is not an object")

// Remote is the slice of the DevTools protocol the bridge needs. Node handles
// (cdp.NodeID) and heap handles (runtime.RemoteObjectID) never mix outside
// this interface.
type Remote interface {
	ResolveNode(ctx context.Context, node cdp.NodeID) (runtime.RemoteObjectID, error)
	RequestNode(ctx context.Context, obj runtime.RemoteObjectID) (cdp.NodeID, error)
	DescribeNode(ctx context.Context, node cdp.NodeID) (*cdp.Node, error)
	GetProperties(ctx context.Context, obj runtime.RemoteObjectID) ([]*runtime.PropertyDescriptor, error)
	CallFunctionOn(ctx context.Context, declaration string, obj runtime.RemoteObjectID) (*runtime.RemoteObject, error)
	Evaluate(ctx context.Context, expression string) (*runtime.RemoteObject, error)
}

// Bridge lets the rest of the engine work with node handles only. It turns a
// node into a heap object to run a script on it, and turns returned heap
// objects back into nodes or plain Go values. All handles are session scoped.
type Bridge struct {
	remote   Remote
	warnings schemas.WarningSink
	logger   *zap.Logger
}

// New creates a bridge over remote. Resolution failures are reported to sink.
func New(remote Remote, sink schemas.WarningSink, logger *zap.Logger) *Bridge {
	return &Bridge{
		remote:   remote,
		warnings: sink,
		logger:   logger.Named("bridge"),
	}
}

// Remote exposes the underlying protocol surface.
func (b *Bridge) Remote() Remote { return b.remote }

// Warn records a non-fatal failure of a call made by method.
func (b *Bridge) Warn(method string, err error) {
	b.logger.Debug("Protocol call failed", zap.String("method", method), zap.Error(err))
	if b.warnings != nil {
		b.warnings.AddWarning(schemas.NewWarning(method, err))
	}
}

// CallOn runs a function declaration with `this` bound to node.
func (b *Bridge) CallOn(ctx context.Context, node cdp.NodeID, declaration string) (*runtime.RemoteObject, error) {
	objectID, err := b.remote.ResolveNode(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve node %d: %w", node, err)
	}
	res, err := b.remote.CallFunctionOn(ctx, declaration, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to call function on node %d: %w", node, err)
	}
	return res, nil
}

// Evaluate runs an expression in the page's main world.
func (b *Bridge) Evaluate(ctx context.Context, expression string) (*runtime.RemoteObject, error) {
	res, err := b.remote.Evaluate(ctx, expression)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression: %w", err)
	}
	return res, nil
}

// NodeFor materializes a script result holding an element as a node handle.
func (b *Bridge) NodeFor(ctx context.Context, obj *runtime.RemoteObject) (cdp.NodeID, error) {
	if !isObject(obj) {
		return 0, ErrNotAnObject
	}
	node, err := b.remote.RequestNode(ctx, obj.ObjectID)
	if err != nil {
		return 0, fmt.Errorf("failed to request node: %w", err)
	}
	return node, nil
}

// Nodes converts a script result holding an array of elements into node
// handles. Elements that cannot be materialized are skipped with a warning.
func (b *Bridge) Nodes(ctx context.Context, obj *runtime.RemoteObject) ([]cdp.NodeID, error) {
	if !isObject(obj) {
		return nil, ErrNotAnObject
	}
	props, err := b.remote.GetProperties(ctx, obj.ObjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get array properties: %w", err)
	}
	nodes := make([]cdp.NodeID, 0, len(props))
	for _, p := range props {
		if !p.Enumerable || !isObject(p.Value) {
			continue
		}
		node, err := b.remote.RequestNode(ctx, p.Value.ObjectID)
		if err != nil {
			b.Warn("bridge.Nodes", err)
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// Value reconstructs a script result as a Go value: primitives become their
// JSON equivalents, arrays become []any and objects map[string]any.
func (b *Bridge) Value(ctx context.Context, obj *runtime.RemoteObject) (any, error) {
	switch classify(obj) {
	case kindObject:
		return b.object(ctx, obj.ObjectID)
	case kindArray:
		return b.array(ctx, obj.ObjectID)
	default:
		return primitive(obj)
	}
}

// Decode reconstructs a script result and unmarshals it into out, which
// should carry json tags matching the script's property names.
func (b *Bridge) Decode(ctx context.Context, obj *runtime.RemoteObject, out any) error {
	v, err := b.Value(ctx, obj)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to re-encode remote value: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode remote value: %w", err)
	}
	return nil
}

func (b *Bridge) object(ctx context.Context, id runtime.RemoteObjectID) (map[string]any, error) {
	props, err := b.remote.GetProperties(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get object properties: %w", err)
	}
	out := make(map[string]any, len(props))
	for _, p := range props {
		if !p.Enumerable {
			continue
		}
		v, err := b.Value(ctx, p.Value)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", p.Name, err)
		}
		out[p.Name] = v
	}
	return out, nil
}

func (b *Bridge) array(ctx context.Context, id runtime.RemoteObjectID) ([]any, error) {
	props, err := b.remote.GetProperties(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get array properties: %w", err)
	}
	out := make([]any, 0, len(props))
	for _, p := range props {
		// Own properties of an array include "length", which is not enumerable.
		if !p.Enumerable {
			continue
		}
		v, err := b.Value(ctx, p.Value)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", p.Name, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Exists reports whether node still resolves to a live DOM node.
func (b *Bridge) Exists(ctx context.Context, node cdp.NodeID) bool {
	_, err := b.remote.DescribeNode(ctx, node)
	return err == nil
}

// NodeName returns the lower-cased node name, e.g. "div" or "#text".
func (b *Bridge) NodeName(ctx context.Context, node cdp.NodeID) (string, error) {
	n, err := b.remote.DescribeNode(ctx, node)
	if err != nil {
		return "", err
	}
	return lower(n.NodeName), nil
}
