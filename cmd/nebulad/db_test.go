package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nebula.yaml")
	content := `database:
  host: 127.0.0.1
  port: 1
  name: nebula_test
nodes:
  - id: gpu-1
    name: workstation
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDBInit_ConnectError(t *testing.T) {
	// Port 1 refuses connections, so init fails at the connect step after
	// loading config.
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"db", "init", "--config", writeTestConfig(t)})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected connect error")
	}
	if !strings.Contains(err.Error(), "connect to MySQL") {
		t.Errorf("error = %q, want connect-to-MySQL error", err.Error())
	}
	if !strings.Contains(buf.String(), "Loaded config") {
		t.Errorf("output should confirm config load, got: %s", buf.String())
	}
}

func TestDBInit_MissingConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"db", "init", "--config", "/nonexistent/nebula.yaml"})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Errorf("error = %v, want load-config error", err)
	}
}

func TestDBReset_DeclinedConfirmation(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader("n\n"))
	cmd.SetArgs([]string{"db", "reset", "--config", writeTestConfig(t)})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("declined reset should not error: %v", err)
	}
	if !strings.Contains(buf.String(), "Aborted.") {
		t.Errorf("output = %q, want abort message", buf.String())
	}
}

func TestConfirmReset_Answers(t *testing.T) {
	cases := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"Y\n", true},
		{"yes\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false}, // EOF
	}
	for _, tc := range cases {
		cmd := newRootCmd()
		cmd.SetOut(new(bytes.Buffer))
		cmd.SetIn(strings.NewReader(tc.input))
		if got := confirmReset(cmd, "nebula_test"); got != tc.want {
			t.Errorf("confirmReset(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}
