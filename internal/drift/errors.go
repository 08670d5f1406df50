package drift

import "errors"

// ErrBackupIncomplete indicates a backup copy's row count does not match
// the original table. The original is left untouched.
var ErrBackupIncomplete = errors.New("backup row count mismatch")
