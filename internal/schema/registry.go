package schema

import (
	"fmt"
)

// EnumType describes a database enumerated type: its name, the ordered
// label set it must carry, and the schema namespace it lives in.
type EnumType struct {
	Name   string
	Labels []string
	Schema string
}

// Column is an expected column with its normalized udt type name
// (e.g. "uuid", "text", "int4", "timestamptz").
type Column struct {
	Name string
	Type string
}

// Table pairs a table name with its expected column types. An empty
// column list means the table is checked for presence only.
type Table struct {
	Name    string
	Columns []Column
}

// Registry is the compile-time expectation of the live schema: the
// tables that must exist before the process may serve traffic, the
// enumerated types with their exact label sets, and the order in which
// drifted tables may be dropped (children before parents).
type Registry struct {
	RequiredTables []string
	Enums          []EnumType
	Tables         []Table
	RepairOrder    []string
}

// Default returns the registry for the current code version.
func Default() *Registry {
	return &Registry{
		RequiredTables: []string{
			"workflows",
			"deployments",
			"agents",
			"automation_runs",
			"backups",
		},
		Enums: []EnumType{
			{Name: "backupstatus", Schema: "public", Labels: []string{
				"pending", "uploading", "completed", "failed",
			}},
			{Name: "automationstatus", Schema: "public", Labels: []string{
				"queued", "running", "succeeded", "failed", "cancelled",
			}},
			{Name: "deploymentstate", Schema: "public", Labels: []string{
				"requested", "provisioning", "active", "degraded", "destroyed",
			}},
		},
		Tables: []Table{
			{Name: "workflows", Columns: []Column{
				{Name: "id", Type: "uuid"},
				{Name: "name", Type: "text"},
				{Name: "definition", Type: "jsonb"},
				{Name: "created_at", Type: "timestamptz"},
			}},
			{Name: "deployments", Columns: []Column{
				{Name: "id", Type: "uuid"},
				{Name: "workflow_id", Type: "uuid"},
				{Name: "state", Type: "deploymentstate"},
				{Name: "created_at", Type: "timestamptz"},
			}},
			{Name: "agents", Columns: []Column{
				{Name: "id", Type: "uuid"},
				{Name: "hostname", Type: "text"},
				{Name: "last_seen", Type: "timestamptz"},
			}},
			{Name: "automation_runs", Columns: []Column{
				{Name: "id", Type: "uuid"},
				{Name: "workflow_id", Type: "uuid"},
				{Name: "status", Type: "automationstatus"},
				{Name: "started_at", Type: "timestamptz"},
			}},
			{Name: "backups", Columns: []Column{
				{Name: "id", Type: "uuid"},
				{Name: "deployment_id", Type: "uuid"},
				{Name: "status", Type: "backupstatus"},
				{Name: "size_bytes", Type: "int8"},
				{Name: "created_at", Type: "timestamptz"},
			}},
		},
		// Children first so DROP TABLE never violates a foreign key.
		RepairOrder: []string{
			"backups",
			"automation_runs",
			"deployments",
			"agents",
			"workflows",
		},
	}
}

// Validate checks the registry once at load time so later lookups
// never have to defend against malformed entries.
func (r *Registry) Validate() error {
	if len(r.RequiredTables) == 0 {
		return fmt.Errorf("%w: no required tables", ErrInvalidRegistry)
	}

	seen := make(map[string]bool, len(r.Enums))

	for _, e := range r.Enums {
		if e.Name == "" {
			return fmt.Errorf("%w: enum with empty name", ErrInvalidRegistry)
		}

		if seen[e.Name] {
			return fmt.Errorf("%w: duplicate enum %s", ErrInvalidRegistry, e.Name)
		}

		seen[e.Name] = true

		if len(e.Labels) == 0 {
			return fmt.Errorf("%w: enum %s has no labels", ErrInvalidRegistry, e.Name)
		}

		labels := make(map[string]bool, len(e.Labels))

		for _, l := range e.Labels {
			if l == "" {
				return fmt.Errorf("%w: enum %s has an empty label", ErrInvalidRegistry, e.Name)
			}

			if labels[l] {
				return fmt.Errorf("%w: enum %s has duplicate label %s", ErrInvalidRegistry, e.Name, l)
			}

			labels[l] = true
		}
	}

	tables := make(map[string]bool, len(r.Tables))
	for _, t := range r.Tables {
		tables[t.Name] = true
	}

	for _, name := range r.RepairOrder {
		if !tables[name] {
			return fmt.Errorf("%w: repair order references unknown table %s", ErrInvalidRegistry, name)
		}
	}

	return nil
}

// Enum returns the descriptor for the named enum type.
func (r *Registry) Enum(name string) (EnumType, bool) {
	for _, e := range r.Enums {
		if e.Name == name {
			return e, true
		}
	}

	return EnumType{}, false
}

// Table returns the expectation for the named table.
func (r *Registry) Table(name string) (Table, bool) {
	for _, t := range r.Tables {
		if t.Name == name {
			return t, true
		}
	}

	return Table{}, false
}
