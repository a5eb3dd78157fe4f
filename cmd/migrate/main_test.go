package main

import (
	"bytes"
	"errors"
	"testing"
)

type fakeMigrator struct {
	calls   []string
	version uint
	dirty   bool
	err     error
}

func (f *fakeMigrator) Up() error {
	f.calls = append(f.calls, "up")
	f.version = 3
	return f.err
}

func (f *fakeMigrator) Down() error {
	f.calls = append(f.calls, "down")
	f.version = 0
	return f.err
}

func (f *fakeMigrator) Version() (uint, bool, error) {
	return f.version, f.dirty, nil
}

func TestRunCommand(t *testing.T) {
	tests := []struct {
		cmd  string
		want string
	}{
		{"up", "version 3\n"},
		{"down", "version 0\n"},
		{"version", "version 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			m := &fakeMigrator{version: 2}
			var out bytes.Buffer
			if err := runCommand(m, tt.cmd, &out); err != nil {
				t.Fatalf("runCommand: %v", err)
			}
			if out.String() != tt.want {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestRunCommand_Dirty(t *testing.T) {
	var out bytes.Buffer
	if err := runCommand(&fakeMigrator{version: 2, dirty: true}, "version", &out); err != nil {
		t.Fatal(err)
	}
	if out.String() != "version 2 (dirty)\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunCommand_Errors(t *testing.T) {
	m := &fakeMigrator{}
	if err := runCommand(m, "sideways", &bytes.Buffer{}); !errors.Is(err, errUsage) {
		t.Errorf("err = %v, want usage error", err)
	}
	if len(m.calls) != 0 {
		t.Errorf("calls = %v", m.calls)
	}

	boom := errors.New("dirty database")
	m = &fakeMigrator{err: boom}
	if err := runCommand(m, "up", &bytes.Buffer{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}
