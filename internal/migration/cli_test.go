package migration

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// 🎭 Mock Migrator
// =============================================================================

type fakeMigrator struct {
	version uint
	dirty   bool
	total   int
	calls   []string
	err     error
}

func (f *fakeMigrator) record(op string) error {
	f.calls = append(f.calls, op)
	return f.err
}

func (f *fakeMigrator) Up(context.Context) error {
	f.version = uint(f.total)
	return f.record("up")
}
func (f *fakeMigrator) Down(context.Context) error {
	if f.version > 0 {
		f.version--
	}
	return f.record("down")
}
func (f *fakeMigrator) DownAll(context.Context) error {
	f.version = 0
	return f.record("down_all")
}
func (f *fakeMigrator) Steps(_ context.Context, n int) error {
	f.version = uint(int(f.version) + n)
	return f.record("steps")
}
func (f *fakeMigrator) Goto(_ context.Context, v uint) error {
	f.version = v
	return f.record("goto")
}
func (f *fakeMigrator) Force(_ context.Context, v int) error {
	f.version = uint(v)
	return f.record("force")
}
func (f *fakeMigrator) Version(context.Context) (uint, bool, error) {
	return f.version, f.dirty, nil
}
func (f *fakeMigrator) Status(context.Context) ([]MigrationStatus, error) {
	var out []MigrationStatus
	for i := 1; i <= f.total; i++ {
		out = append(out, MigrationStatus{Version: uint(i), Name: "m", Applied: uint(i) <= f.version})
	}
	return out, nil
}
func (f *fakeMigrator) Info(context.Context) (*MigrationInfo, error) {
	return &MigrationInfo{
		CurrentVersion:    f.version,
		Dirty:             f.dirty,
		TotalMigrations:   f.total,
		AppliedMigrations: int(f.version),
		PendingMigrations: f.total - int(f.version),
	}, nil
}
func (f *fakeMigrator) Close() error { return nil }

// =============================================================================
// 🧪 CLI 分发测试
// =============================================================================

func TestCLI_Run_Dispatch(t *testing.T) {
	tests := []struct {
		cmd     string
		args    []string
		want    string
		version uint
	}{
		{"up", nil, "up", 3},
		{"down", nil, "down", 2},
		{"reset", nil, "down_all", 0},
		{"steps", []string{"2"}, "steps", 3},
		{"goto", []string{"1"}, "goto", 1},
		{"force", []string{"2"}, "force", 2},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			f := &fakeMigrator{version: 1, total: 3}
			if tt.cmd == "down" {
				f.version = 3
			}
			cli := NewCLI(f)
			cli.SetOutput(&bytes.Buffer{})

			require.NoError(t, cli.Run(context.Background(), tt.cmd, tt.args))
			assert.Equal(t, []string{tt.want}, f.calls)
			assert.Equal(t, tt.version, f.version)
		})
	}
}

func TestCLI_Run_Errors(t *testing.T) {
	cli := NewCLI(&fakeMigrator{total: 2})
	cli.SetOutput(&bytes.Buffer{})
	ctx := context.Background()

	assert.ErrorIs(t, cli.Run(ctx, "sideways", nil), ErrUnknownCommand)
	assert.Error(t, cli.Run(ctx, "goto", nil))
	assert.Error(t, cli.Run(ctx, "goto", []string{"-1"}))
	assert.Error(t, cli.Run(ctx, "steps", []string{"x"}))
	assert.Error(t, cli.Run(ctx, "steps", []string{"0"}))

	failing := &fakeMigrator{err: assert.AnError}
	cli = NewCLI(failing)
	cli.SetOutput(&bytes.Buffer{})
	assert.ErrorIs(t, cli.Run(ctx, "up", nil), assert.AnError)
}

func TestCLI_Output(t *testing.T) {
	f := &fakeMigrator{version: 2, dirty: true, total: 3}
	cli := NewCLI(f)
	var out bytes.Buffer
	cli.SetOutput(&out)
	ctx := context.Background()

	require.NoError(t, cli.Run(ctx, "version", nil))
	assert.Contains(t, out.String(), "Current version: 2 (dirty)")

	out.Reset()
	require.NoError(t, cli.Run(ctx, "info", nil))
	assert.Contains(t, out.String(), "Pending Migrations: 1")

	out.Reset()
	require.NoError(t, cli.Run(ctx, "status", nil))
	assert.Contains(t, out.String(), "000003")
	assert.Contains(t, out.String(), "Pending")

	out.Reset()
	require.NoError(t, cli.Run(ctx, "help", nil))
	assert.Contains(t, out.String(), "graphrepair migrate")
}
