package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

const testPolicyDoc = `descriptor_id: spep-a
policies:
  - id: docs
    target:
      resources: ["/docs/.*"]
    rules:
      - id: staff-read
        effect: permit
        condition:
          function: string-equal
          attributes: [role]
          values: [staff]
`

// fixture is a config file pointing at a policy directory with one
// document.
type fixture struct {
	dir       string
	config    string
	policyDir string
}

func newFixture(t *testing.T, extra string) fixture {
	t.Helper()
	dir := t.TempDir()
	policyDir := filepath.Join(dir, "policies")
	if err := os.MkdirAll(policyDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(policyDir, "spep-a.yaml"), []byte(testPolicyDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := fmt.Sprintf(`server:
  listen_address: "127.0.0.1:0"
  shutdown_timeout: "2s"
store:
  backend: file
  file:
    dir: %q
processor:
  poll_interval: "50ms"
telemetry:
  logging:
    level: error
%s`, policyDir, extra)
	path := filepath.Join(dir, "pdpd.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return fixture{dir: dir, config: path, policyDir: policyDir}
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()
	err := rootCmd.Execute()
	return buf.String(), err
}
