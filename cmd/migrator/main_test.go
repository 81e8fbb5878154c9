package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callscope/callscope/migrations"
)

type fakeRunner struct {
	calls  []string
	status migrations.Status
}

func (f *fakeRunner) Up() error   { f.calls = append(f.calls, "up"); return nil }
func (f *fakeRunner) Down() error { f.calls = append(f.calls, "down"); return nil }
func (f *fakeRunner) Drop() error { f.calls = append(f.calls, "drop"); return nil }

func (f *fakeRunner) Status() (migrations.Status, error) {
	f.calls = append(f.calls, "status")

	return f.status, nil
}

func TestExecute_Commands(t *testing.T) {
	for _, cmd := range []string{"up", "down", "status"} {
		t.Run(cmd, func(t *testing.T) {
			r := &fakeRunner{}
			require.NoError(t, execute(cmd, r, strings.NewReader(""), &bytes.Buffer{}))
			assert.Equal(t, []string{cmd}, r.calls)
		})
	}
}

func TestExecute_UnknownCommand(t *testing.T) {
	err := execute("sideways", &fakeRunner{}, strings.NewReader(""), &bytes.Buffer{})
	assert.ErrorIs(t, err, errUnknownCommand)
}

func TestExecute_DropRequiresConfirmation(t *testing.T) {
	r := &fakeRunner{}
	out := &bytes.Buffer{}

	require.NoError(t, execute("drop", r, strings.NewReader("n\n"), out))
	assert.Empty(t, r.calls)
	assert.Contains(t, out.String(), "Operation cancelled.")

	require.NoError(t, execute("drop", r, strings.NewReader("Y\n"), out))
	assert.Equal(t, []string{"drop"}, r.calls)
}

func TestPrintStatus(t *testing.T) {
	tests := []struct {
		name   string
		status migrations.Status
		want   string
	}{
		{"nothing applied", migrations.Status{Latest: 2}, "none applied"},
		{"up to date", migrations.Status{Applied: true, Version: 2, Latest: 2, UpToDate: true}, "up to date"},
		{"behind", migrations.Status{Applied: true, Version: 1, Latest: 2}, "1 migration(s) available"},
		{"dirty", migrations.Status{Applied: true, Version: 2, Latest: 2, Dirty: true}, "dirty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			printStatus(out, tt.status)
			assert.Contains(t, out.String(), tt.want)
		})
	}
}
