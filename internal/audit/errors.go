package audit

import "errors"

// ErrTableCreation indicates the schema_change_audit table could not be created.
var ErrTableCreation = errors.New("creating schema_change_audit table")
