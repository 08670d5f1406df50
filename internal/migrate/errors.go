package migrate

import "errors"

// ErrNoCommand indicates no migration tool command is configured.
var ErrNoCommand = errors.New("no migration command configured")

// ErrToolTimeout indicates the migration tool exceeded its timeout and was killed.
var ErrToolTimeout = errors.New("migration tool timed out")

// ErrToolFailed indicates the tool failed and the catalog never converged.
var ErrToolFailed = errors.New("migration tool failed")

// ErrTablesStillMissing indicates the tool reported success but required
// tables are absent from the catalog.
var ErrTablesStillMissing = errors.New("required tables missing after migration")
