// Package preflight scans the external migration tool's SQL files for
// dangerous DDL before the tool is invoked. Findings are advisory only:
// a concurrent peer may already be applying these migrations, so the
// runner is never blocked, but operators get a logged warning with a
// safer alternative for every risky statement.
package preflight

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Severity of a finding.
const (
	SeverityWarning  = "warning"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Finding is one risky statement detected in a migration file.
type Finding struct {
	File       string
	StmtIndex  int
	Rule       string
	Severity   string
	Table      string
	Message    string
	Suggestion string
}

// Analyzer parses migration SQL with the real PostgreSQL parser and
// applies a fixed set of danger checks.
type Analyzer struct {
	logger *slog.Logger
}

// New creates an Analyzer.
func New(logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Analyzer{logger: logger}
}

// AnalyzeDir scans every .sql file under dir (sorted by name) and returns
// all findings. A missing directory is not an error: the migration tool
// may keep its files elsewhere or embed them.
func (a *Analyzer) AnalyzeDir(dir string) ([]Finding, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			a.logger.Debug("no migrations directory to preflight", "dir", dir)

			return nil, nil
		}

		return nil, fmt.Errorf("reading migrations directory %s: %w", dir, err)
	}

	var files []string

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)

	var findings []Finding

	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading migration file %s: %w", name, err)
		}

		fs, err := a.AnalyzeSQL(name, string(data))
		if err != nil {
			// Unparseable SQL is the migration tool's problem to report;
			// we only log and move on.
			a.logger.Warn("preflight could not parse migration file", "file", name, "error", err)

			continue
		}

		findings = append(findings, fs...)
	}

	for _, f := range findings {
		a.logger.Warn("preflight finding",
			"file", f.File, "rule", f.Rule, "severity", f.Severity,
			"table", f.Table, "message", f.Message, "suggestion", f.Suggestion)
	}

	return findings, nil
}

// AnalyzeSQL parses one file's SQL and applies every check to each statement.
func (a *Analyzer) AnalyzeSQL(file, sql string) ([]Finding, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return nil, nil
	}

	tree, err := pg_query.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parsing SQL: %w", err)
	}

	var findings []Finding

	for i, stmt := range tree.Stmts {
		for _, f := range checkStmt(stmt) {
			f.File = file
			f.StmtIndex = i
			findings = append(findings, f)
		}
	}

	return findings, nil
}

// checkStmt applies the danger checks to one parsed statement.
func checkStmt(stmt *pg_query.RawStmt) []Finding {
	switch node := stmt.Stmt.Node.(type) {
	case *pg_query.Node_DropStmt:
		return checkDrop(node.DropStmt)
	case *pg_query.Node_TruncateStmt:
		return []Finding{{
			Rule:       "truncate",
			Severity:   SeverityCritical,
			Message:    "TRUNCATE removes all data and is difficult to reverse",
			Suggestion: "Ensure a backup exists before truncating",
		}}
	case *pg_query.Node_IndexStmt:
		return checkIndex(node.IndexStmt)
	case *pg_query.Node_AlterTableStmt:
		return checkAlterTable(node.AlterTableStmt)
	case *pg_query.Node_LockStmt:
		return []Finding{{
			Rule:       "lock-table",
			Severity:   SeverityWarning,
			Message:    "explicit LOCK TABLE blocks concurrent access for the whole transaction",
			Suggestion: "Prefer shorter transactions or row-level locking",
		}}
	default:
		return nil
	}
}

func checkDrop(drop *pg_query.DropStmt) []Finding {
	if drop == nil || drop.RemoveType != pg_query.ObjectType_OBJECT_TABLE {
		return nil
	}

	return []Finding{{
		Rule:       "drop-table",
		Severity:   SeverityCritical,
		Table:      dropTableNames(drop),
		Message:    "DROP TABLE is irreversible and permanently deletes all data",
		Suggestion: "Ensure a backup exists and nothing references this table",
	}}
}

func checkIndex(idx *pg_query.IndexStmt) []Finding {
	if idx == nil || idx.Concurrent {
		return nil
	}

	return []Finding{{
		Rule:       "create-index",
		Severity:   SeverityHigh,
		Table:      relName(idx.Relation),
		Message:    "CREATE INDEX without CONCURRENTLY takes a SHARE lock and blocks writes",
		Suggestion: "Use CREATE INDEX CONCURRENTLY",
	}}
}

func checkAlterTable(alter *pg_query.AlterTableStmt) []Finding {
	if alter == nil {
		return nil
	}

	var findings []Finding

	for _, cmd := range alter.Cmds {
		c, ok := cmd.Node.(*pg_query.Node_AlterTableCmd)
		if !ok || c.AlterTableCmd == nil {
			continue
		}

		if c.AlterTableCmd.Subtype == pg_query.AlterTableType_AT_AlterColumnType {
			findings = append(findings, Finding{
				Rule:       "alter-column-type",
				Severity:   SeverityHigh,
				Table:      relName(alter.Relation),
				Message:    "ALTER COLUMN TYPE rewrites the table under ACCESS EXCLUSIVE lock",
				Suggestion: "Add a new column, backfill in batches, then swap",
			})
		}
	}

	return findings
}

func relName(rv *pg_query.RangeVar) string {
	if rv == nil {
		return ""
	}

	if rv.Schemaname != "" {
		return rv.Schemaname + "." + rv.Relname
	}

	return rv.Relname
}

func dropTableNames(drop *pg_query.DropStmt) string {
	var tables []string

	for _, obj := range drop.Objects {
		listNode, ok := obj.Node.(*pg_query.Node_List)
		if !ok {
			continue
		}

		var parts []string

		for _, item := range listNode.List.Items {
			if s, ok := item.Node.(*pg_query.Node_String_); ok {
				parts = append(parts, s.String_.Sval)
			}
		}

		if len(parts) > 0 {
			tables = append(tables, strings.Join(parts, "."))
		}
	}

	return strings.Join(tables, ", ")
}
