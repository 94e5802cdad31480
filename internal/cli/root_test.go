package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const callScenario = `
name: echo
steps:
  - op: spawn
    task: main
    actions:
      - method: echo
        args: ping
  - op: reply
    method: echo
    payload: pong
`

func TestRun(t *testing.T) {
	stdout, stderr, err := execute(t, `run`, `--log-level=info`, writeFile(t, `echo.yaml`, callScenario))
	require.NoError(t, err)
	assert.Equal(t, "task main: started\n"+
		"task main: echo: reply \"pong\"\n"+
		"task main: done\n"+
		"summary: traps=0 in_flight=0 tasks=0 calls=0 timers=0 epoch=2\n", stdout)
	assert.Contains(t, stderr, `icexec-sim: running scenario`)
	assert.Contains(t, stderr, `"scenario":"echo"`)
}

func TestRun_queueCapacity(t *testing.T) {
	stdout, _, err := execute(t, `run`, `--log-level=disabled`, `--queue-capacity=1`, writeFile(t, `full.yaml`, `
steps:
  - op: spawn
    task: a
    actions:
      - method: first
  - op: spawn
    task: b
    actions:
      - method: second
`))
	require.NoError(t, err)
	assert.Contains(t, stdout, "task b: second: call: rejected synchronously (SysTransient): failed to enqueue the call\n")
	assert.Contains(t, stdout, "in_flight=1 ")
}

func TestRun_configFile(t *testing.T) {
	cfg := writeFile(t, `config.yaml`, "log_level: disabled\n")
	_, stderr, err := execute(t, `--config`, cfg, `run`, writeFile(t, `echo.yaml`, callScenario))
	require.NoError(t, err)
	assert.Empty(t, stderr)
}

func TestRun_errors(t *testing.T) {
	_, _, err := execute(t, `run`)
	assert.Error(t, err)

	_, _, err = execute(t, `run`, filepath.Join(t.TempDir(), `missing.yaml`))
	assert.ErrorContains(t, err, `error reading scenario file`)

	_, _, err = execute(t, `run`, `--log-level=nope`, writeFile(t, `echo.yaml`, callScenario))
	assert.ErrorContains(t, err, `invalid log level`)

	_, _, err = execute(t, `run`, `--log-level=disabled`, writeFile(t, `bad.yaml`, "steps:\n  - op: reply\n    method: nothing\n"))
	assert.EqualError(t, err, `step 1 (reply): no call to "nothing" in flight`)
}

func TestValidate(t *testing.T) {
	good := writeFile(t, `good.yaml`, callScenario)
	stdout, _, err := execute(t, `validate`, good)
	require.NoError(t, err)
	assert.Equal(t, good+": ok (2 steps)\n", stdout)

	_, _, err = execute(t, `validate`, good, writeFile(t, `bad.yaml`, "steps:\n  - op: nope\n"))
	assert.ErrorContains(t, err, `unknown op "nope"`)
}
