package gateway

import "errors"

// ErrClientRequired indicates that a backing model.Client must be supplied.
var ErrClientRequired = errors.New("gateway: client is required")
