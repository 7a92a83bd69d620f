// Package apperrors defines the error-kind taxonomy shared by the workflow
// engine, durable runtime and orchestrator.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way §7 of the core specification requires.
type Kind string

const (
	KindValidation Kind = "validation"
	KindInput      Kind = "input"
	KindTimeout    Kind = "timeout"
	KindRuntime    Kind = "runtime"
	KindExternal   Kind = "external"
	KindCancelled  Kind = "cancelled"
	KindNotFound   Kind = "not_found"
)

// Retriable reports whether the dispatcher/executor should consider retrying
// a failure of this kind automatically.
func (k Kind) Retriable() bool {
	switch k {
	case KindTimeout, KindRuntime, KindExternal:
		return true
	default:
		return false
	}
}

// Classified is a typed error carrying a Kind, the node it originated from
// (when applicable) and the underlying cause.
type Classified struct {
	Kind    Kind
	NodeID  string
	Message string
	Cause   error
}

func (e *Classified) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: %s (node=%s)", e.Kind, e.Message, e.NodeID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Classified) Unwrap() error { return e.Cause }

// New builds a Classified error.
func New(kind Kind, nodeID, message string) *Classified {
	return &Classified{Kind: kind, NodeID: nodeID, Message: message}
}

// Wrap builds a Classified error around an existing cause.
func Wrap(kind Kind, nodeID string, cause error) *Classified {
	if cause == nil {
		return nil
	}
	return &Classified{Kind: kind, NodeID: nodeID, Message: cause.Error(), Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Classified, falling
// back to KindRuntime for unclassified errors.
func KindOf(err error) Kind {
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind
	}
	return KindRuntime
}

var (
	ErrNotFound        = New(KindNotFound, "", "not found")
	ErrNoAvailableRobot = New(KindExternal, "", "no available robot")
	ErrInputMissing    = New(KindInput, "", "required input missing")
)
