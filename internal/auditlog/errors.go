package auditlog

import "errors"

// ErrNotFound is returned when a lookup finds no matching audit record.
var ErrNotFound = errors.New("not found")
