package enumtype

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/schema-orchestrator/internal/audit"
	"github.com/aqasim81/schema-orchestrator/internal/schema"
)

// fakeCatalog simulates pg_type/pg_enum lookups over an in-memory map.
// A missing key means the type does not exist.
type fakeCatalog struct {
	labels map[string][]string
}

func (f *fakeCatalog) EnumExists(_ context.Context, name string) (bool, error) {
	_, ok := f.labels[name]

	return ok, nil
}

func (f *fakeCatalog) EnumLabels(_ context.Context, name string) ([]string, error) {
	labels, ok := f.labels[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, schema.ErrEnumNotFound)
	}

	return labels, nil
}

// fakeLock counts acquisitions and releases.
type fakeLock struct {
	acquired int
	released int
	err      error
}

func (f *fakeLock) Release(_ context.Context) error {
	f.released++

	return nil
}

func (f *fakeLock) lockFn() lockFunc {
	return func(_ context.Context, _ string) (lockReleaser, error) {
		if f.err != nil {
			return nil, f.err
		}

		f.acquired++

		return f, nil
	}
}

// fakeAuditor records audit entries in memory.
type fakeAuditor struct {
	entries []audit.Entry
}

func (f *fakeAuditor) Record(_ context.Context, e audit.Entry) error {
	f.entries = append(f.entries, e)

	return nil
}

func newTestManager(cat *fakeCatalog, lock *fakeLock, auditor *fakeAuditor, exec execFunc) *Manager {
	return New(nil, cat, auditor,
		WithLogger(slog.New(slog.DiscardHandler)),
		withLockFunc(lock.lockFn()),
		withExecFunc(exec),
	)
}

func backupStatus() schema.EnumType {
	return schema.EnumType{
		Name:   "backupstatus",
		Schema: "public",
		Labels: []string{"pending", "uploading", "completed", "failed"},
	}
}

func TestEnsureEnum_absent_creates(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{labels: map[string][]string{}}
	lock := &fakeLock{}
	auditor := &fakeAuditor{}

	var execSQL []string

	m := newTestManager(cat, lock, auditor, func(_ context.Context, sql string) error {
		execSQL = append(execSQL, sql)
		cat.labels["backupstatus"] = backupStatus().Labels

		return nil
	})

	outcome, err := m.EnsureEnum(context.Background(), backupStatus())

	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	require.Len(t, execSQL, 1)
	assert.Contains(t, execSQL[0], `CREATE TYPE "public"."backupstatus" AS ENUM`)
	assert.Contains(t, execSQL[0], "'pending', 'uploading', 'completed', 'failed'")

	require.Len(t, auditor.entries, 1)
	assert.Equal(t, audit.ActionCreateEnum, auditor.entries[0].Action)
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 1, lock.released)
}

func TestEnsureEnum_calledTwice_secondCallPerformsNoDDL(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{labels: map[string][]string{}}
	lock := &fakeLock{}

	ddlCalls := 0

	m := newTestManager(cat, lock, &fakeAuditor{}, func(_ context.Context, _ string) error {
		ddlCalls++
		cat.labels["backupstatus"] = backupStatus().Labels

		return nil
	})

	first, err := m.EnsureEnum(context.Background(), backupStatus())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, first)

	second, err := m.EnsureEnum(context.Background(), backupStatus())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyExists, second)

	assert.Equal(t, 1, ddlCalls)
	assert.Equal(t, 2, lock.released)
}

func TestEnsureEnum_racingPeer_duplicateObjectIsSuccess(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{labels: map[string][]string{}}
	lock := &fakeLock{}

	m := newTestManager(cat, lock, &fakeAuditor{}, func(_ context.Context, _ string) error {
		// The peer got there first: the type now exists and our CREATE
		// fails with duplicate_object.
		cat.labels["backupstatus"] = backupStatus().Labels

		return &pgconn.PgError{Code: "42710", Message: "type already exists"}
	})

	outcome, err := m.EnsureEnum(context.Background(), backupStatus())

	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyExists, outcome)
	assert.Equal(t, 1, lock.released)
}

func TestEnsureEnum_labelMismatch_failsVerification(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{labels: map[string][]string{
		"backupstatus": {"pending", "uploading", "completed"}, // missing "failed"
	}}
	lock := &fakeLock{}

	m := newTestManager(cat, lock, &fakeAuditor{}, func(_ context.Context, _ string) error {
		t.Fatal("no DDL expected for an existing type")

		return nil
	})

	_, err := m.EnsureEnum(context.Background(), backupStatus())

	require.ErrorIs(t, err, ErrVerificationFailed)
	assert.ErrorContains(t, err, "backupstatus")
	assert.ErrorContains(t, err, "pending, uploading, completed")
	assert.Equal(t, 1, lock.released, "lock must be released on the failure path too")
}

func TestEnsureEnum_ddlSucceedsButCatalogDisagrees_fatal(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{labels: map[string][]string{}}
	lock := &fakeLock{}

	m := newTestManager(cat, lock, &fakeAuditor{}, func(_ context.Context, _ string) error {
		// DDL "succeeds" but leaves the wrong labels behind.
		cat.labels["backupstatus"] = []string{"pending"}

		return nil
	})

	_, err := m.EnsureEnum(context.Background(), backupStatus())

	require.ErrorIs(t, err, ErrVerificationFailed)
	assert.Equal(t, 1, lock.released)
}

func TestEnsureEnum_lockFailure_propagates(t *testing.T) {
	t.Parallel()

	lockErr := errors.New("lock wait timed out")
	lock := &fakeLock{err: lockErr}

	m := newTestManager(&fakeCatalog{labels: map[string][]string{}}, lock, &fakeAuditor{},
		func(_ context.Context, _ string) error { return nil })

	_, err := m.EnsureEnum(context.Background(), backupStatus())

	require.ErrorIs(t, err, lockErr)
	assert.Equal(t, 0, lock.acquired)
}

func TestAddEnumValue_existingValue_noOp(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{labels: map[string][]string{
		"backupstatus": {"pending", "uploading", "completed", "failed"},
	}}
	lock := &fakeLock{}

	m := newTestManager(cat, lock, &fakeAuditor{}, func(_ context.Context, _ string) error {
		t.Fatal("no DDL expected for an existing value")

		return nil
	})

	outcome, err := m.AddEnumValue(context.Background(), "backupstatus", "failed", "", "")

	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyExists, outcome)
	assert.Equal(t, 1, lock.released)
}

func TestAddEnumValue_appends(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{labels: map[string][]string{
		"backupstatus": {"pending", "completed"},
	}}
	lock := &fakeLock{}
	auditor := &fakeAuditor{}

	var execSQL string

	m := newTestManager(cat, lock, auditor, func(_ context.Context, sql string) error {
		execSQL = sql
		cat.labels["backupstatus"] = []string{"pending", "uploading", "completed"}

		return nil
	})

	outcome, err := m.AddEnumValue(context.Background(), "backupstatus", "uploading", PositionBefore, "completed")

	require.NoError(t, err)
	assert.Equal(t, OutcomeAdded, outcome)
	assert.Equal(t, `ALTER TYPE "backupstatus" ADD VALUE 'uploading' BEFORE 'completed'`, execSQL)
	require.Len(t, auditor.entries, 1)
	assert.Equal(t, audit.ActionAddEnumValue, auditor.entries[0].Action)
}

func TestAddEnumValue_valueMissingAfterDDL_failsVerification(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{labels: map[string][]string{
		"backupstatus": {"pending"},
	}}
	lock := &fakeLock{}

	m := newTestManager(cat, lock, &fakeAuditor{}, func(_ context.Context, _ string) error {
		return nil // DDL reports success but the label never lands
	})

	_, err := m.AddEnumValue(context.Background(), "backupstatus", "uploading", "", "")

	require.ErrorIs(t, err, ErrVerificationFailed)
	assert.Equal(t, 1, lock.released)
}

func TestAddEnumValue_invalidPosition(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{labels: map[string][]string{"backupstatus": {"pending"}}}

	m := newTestManager(cat, &fakeLock{}, &fakeAuditor{},
		func(_ context.Context, _ string) error { return nil })

	_, err := m.AddEnumValue(context.Background(), "backupstatus", "uploading", "sideways", "pending")

	require.ErrorIs(t, err, ErrInvalidPosition)
}

func TestAddEnumValue_unknownEnum(t *testing.T) {
	t.Parallel()

	m := newTestManager(&fakeCatalog{labels: map[string][]string{}}, &fakeLock{}, &fakeAuditor{},
		func(_ context.Context, _ string) error { return nil })

	_, err := m.AddEnumValue(context.Background(), "nosuchenum", "x", "", "")

	require.ErrorIs(t, err, schema.ErrEnumNotFound)
}

func TestDropEnum_absent_isSuccess(t *testing.T) {
	t.Parallel()

	lock := &fakeLock{}
	m := newTestManager(&fakeCatalog{labels: map[string][]string{}}, lock, &fakeAuditor{},
		func(_ context.Context, _ string) error {
			t.Fatal("no DDL expected for an absent type")

			return nil
		})

	outcome, err := m.DropEnum(context.Background(), "backupstatus", false)

	require.NoError(t, err)
	assert.Equal(t, OutcomeAbsent, outcome)
	assert.Equal(t, 1, lock.released)
}

func TestDropEnum_existing_drops(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{labels: map[string][]string{"backupstatus": {"pending"}}}
	auditor := &fakeAuditor{}

	var execSQL string

	m := newTestManager(cat, &fakeLock{}, auditor, func(_ context.Context, sql string) error {
		execSQL = sql
		delete(cat.labels, "backupstatus")

		return nil
	})

	outcome, err := m.DropEnum(context.Background(), "backupstatus", true)

	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, outcome)
	assert.Equal(t, `DROP TYPE IF EXISTS "backupstatus" CASCADE`, execSQL)
	require.Len(t, auditor.entries, 1)
	assert.Equal(t, audit.ActionDropEnum, auditor.entries[0].Action)
}

func TestSyncAll_stopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	reg := &schema.Registry{
		RequiredTables: []string{"t"},
		Enums: []schema.EnumType{
			{Name: "first", Labels: []string{"a"}},
			{Name: "second", Labels: []string{"b"}},
		},
	}

	cat := &fakeCatalog{labels: map[string][]string{
		"first": {"a"},
		// "second" exists with drifted labels, which must fail verification.
		"second": {"b", "c"},
	}}

	m := newTestManager(cat, &fakeLock{}, &fakeAuditor{},
		func(_ context.Context, _ string) error { return nil })

	outcomes, err := m.SyncAll(context.Background(), reg)

	require.ErrorIs(t, err, ErrVerificationFailed)
	assert.Equal(t, OutcomeAlreadyExists, outcomes["first"])
	assert.NotContains(t, outcomes, "second")
}

func TestQuoteLiteral_escapesQuotes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "'it''s'", quoteLiteral("it's"))
	assert.Equal(t, "'plain'", quoteLiteral("plain"))
}
