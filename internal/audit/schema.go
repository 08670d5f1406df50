package audit

// createAuditSQL is the DDL for the schema_change_audit table. It is
// executed with IF EXISTS semantics before every write, so the table
// bootstraps itself the first time anything needs to be audited.
const createAuditSQL = `CREATE TABLE IF NOT EXISTS schema_change_audit (
    id           UUID PRIMARY KEY,
    action       TEXT NOT NULL,
    object_name  TEXT NOT NULL,
    detail       TEXT NOT NULL DEFAULT '',
    backup_table TEXT,
    rows_copied  BIGINT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
