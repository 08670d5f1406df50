package database

import "errors"

// ErrInvalidDatabaseURL indicates the provided database URL could not be parsed.
var ErrInvalidDatabaseURL = errors.New("invalid database URL")

// ErrConnectionFailed indicates a connection to the database could not be established.
var ErrConnectionFailed = errors.New("database connection failed")

// ErrLockTimeout indicates an advisory lock could not be acquired within the
// configured wait. The operation that requested it must fail, never proceed.
var ErrLockTimeout = errors.New("advisory lock wait timed out")
