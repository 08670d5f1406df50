package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/schema-orchestrator/internal/schema"
)

func TestDefault_validates(t *testing.T) {
	t.Parallel()

	reg := schema.Default()

	require.NoError(t, reg.Validate())
	assert.NotEmpty(t, reg.RequiredTables)
	assert.NotEmpty(t, reg.Enums)
	assert.NotEmpty(t, reg.RepairOrder)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(r *schema.Registry)
		errContains string
	}{
		{
			name:        "no required tables",
			mutate:      func(r *schema.Registry) { r.RequiredTables = nil },
			errContains: "no required tables",
		},
		{
			name: "enum with empty name",
			mutate: func(r *schema.Registry) {
				r.Enums = append(r.Enums, schema.EnumType{Labels: []string{"a"}})
			},
			errContains: "empty name",
		},
		{
			name: "duplicate enum",
			mutate: func(r *schema.Registry) {
				r.Enums = append(r.Enums, r.Enums[0])
			},
			errContains: "duplicate enum",
		},
		{
			name: "enum with no labels",
			mutate: func(r *schema.Registry) {
				r.Enums = append(r.Enums, schema.EnumType{Name: "emptyenum"})
			},
			errContains: "no labels",
		},
		{
			name: "enum with duplicate label",
			mutate: func(r *schema.Registry) {
				r.Enums = append(r.Enums, schema.EnumType{
					Name:   "dupe",
					Labels: []string{"a", "b", "a"},
				})
			},
			errContains: "duplicate label",
		},
		{
			name: "repair order names unknown table",
			mutate: func(r *schema.Registry) {
				r.RepairOrder = append(r.RepairOrder, "ghosts")
			},
			errContains: "unknown table",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reg := schema.Default()
			tt.mutate(reg)

			err := reg.Validate()
			require.ErrorIs(t, err, schema.ErrInvalidRegistry)
			assert.ErrorContains(t, err, tt.errContains)
		})
	}
}

func TestEnum_lookup(t *testing.T) {
	t.Parallel()

	reg := schema.Default()

	e, ok := reg.Enum("backupstatus")
	require.True(t, ok)
	assert.Equal(t, []string{"pending", "uploading", "completed", "failed"}, e.Labels)

	_, ok = reg.Enum("nosuchenum")
	assert.False(t, ok)
}

func TestTable_lookup(t *testing.T) {
	t.Parallel()

	reg := schema.Default()

	tbl, ok := reg.Table("workflows")
	require.True(t, ok)
	assert.NotEmpty(t, tbl.Columns)

	_, ok = reg.Table("nosuchtable")
	assert.False(t, ok)
}

func TestRepairOrder_childrenBeforeParents(t *testing.T) {
	t.Parallel()

	reg := schema.Default()

	index := make(map[string]int, len(reg.RepairOrder))
	for i, name := range reg.RepairOrder {
		index[name] = i
	}

	// backups references deployments, deployments references workflows.
	assert.Less(t, index["backups"], index["deployments"])
	assert.Less(t, index["deployments"], index["workflows"])
	assert.Less(t, index["automation_runs"], index["workflows"])
}
