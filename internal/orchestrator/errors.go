package orchestrator

import "errors"

// Sentinel errors returned by Run and New.
var (
	ErrEmptyInput      = errors.New("input text is empty")
	ErrNoPolicyTable   = errors.New("no label policy table configured")
	ErrModelInvocation = errors.New("model invocation failed")
	ErrUnmappedLabel   = errors.New("classifier label has no policy")
	ErrMisaligned      = errors.New("classifier labels do not align with tokens")
)
