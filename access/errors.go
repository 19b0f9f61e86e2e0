package access

import "errors"

var (
	// ErrEvaluation indicates the access probe could not be executed or its
	// result could not be decoded. The decision is always false.
	ErrEvaluation = errors.New("access: evaluation failed")
)
