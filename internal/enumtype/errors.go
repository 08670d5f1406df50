package enumtype

import "errors"

// ErrVerificationFailed indicates DDL appeared to succeed but the live
// catalog disagrees with the expected state. Fatal and never retried:
// it points at a logic or environment bug, not a transient fault.
var ErrVerificationFailed = errors.New("catalog verification failed")

// ErrInvalidPosition indicates an AddEnumValue position other than before/after.
var ErrInvalidPosition = errors.New("invalid enum value position")
