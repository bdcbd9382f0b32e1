package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shellToolsForTest(t *testing.T, ceiling time.Duration) *ShellTools {
	t.Helper()
	st, err := NewShellTools(t.TempDir(), ceiling)
	require.NoError(t, err)
	return st
}

func runShell(t *testing.T, st *ShellTools, args string) shellRunOutput {
	t.Helper()
	out, err := st.run(context.Background(), json.RawMessage(args))
	require.NoError(t, err)
	return out.(shellRunOutput)
}

func TestShellRunCapturesOutputAndExitCode(t *testing.T) {
	st := shellToolsForTest(t, time.Minute)

	out := runShell(t, st, `{"command":"echo out; echo err >&2"}`)
	assert.Equal(t, "out\n", out.Stdout)
	assert.Equal(t, "err\n", out.Stderr)
	assert.Equal(t, 0, out.ExitCode)

	out = runShell(t, st, `{"command":"exit 3"}`)
	assert.Equal(t, 3, out.ExitCode)
}

func TestShellRunTimeoutKillsProcessGroup(t *testing.T) {
	st := shellToolsForTest(t, time.Minute)

	// The command prints the pid of a background child, then blocks. On
	// timeout both the shell and the child must die with it.
	start := time.Now()
	out := runShell(t, st, `{"command":"sleep 60 & echo $!; wait","timeout_seconds":1}`)
	elapsed := time.Since(start)

	assert.True(t, out.TimedOut)
	assert.Equal(t, -1, out.ExitCode)
	assert.Less(t, elapsed, 10*time.Second, "timeout must not wait for the child")

	childPID, err := strconv.Atoi(strings.TrimSpace(out.Stdout))
	require.NoError(t, err, "stdout should hold the child pid")

	// SIGKILL delivery to the group is immediate, but give the kernel a
	// moment to reap before asserting.
	deadline := time.Now().Add(3 * time.Second)
	for {
		err = syscall.Kill(childPID, 0)
		if err == syscall.ESRCH {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("child process %d still alive after timeout kill", childPID)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestShellRunClampsTimeoutToCeiling(t *testing.T) {
	st := shellToolsForTest(t, time.Second)

	start := time.Now()
	out := runShell(t, st, `{"command":"sleep 30","timeout_seconds":300}`)
	assert.True(t, out.TimedOut)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestShellRunRejectsBadInput(t *testing.T) {
	st := shellToolsForTest(t, time.Minute)

	_, err := st.run(context.Background(), json.RawMessage(`{"command":"  "}`))
	assert.ErrorIs(t, err, ErrBadInput)

	_, err = st.run(context.Background(), json.RawMessage(`{"command":"pwd","dir":"/etc"}`))
	assert.ErrorIs(t, err, ErrBadInput)

	_, err = st.run(context.Background(), json.RawMessage(`{"command":"pwd","dir":"../.."}`))
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestShellRunWorkingDirectory(t *testing.T) {
	st := shellToolsForTest(t, time.Minute)

	out := runShell(t, st, `{"command":"mkdir -p sub && cd sub && pwd"}`)
	assert.Equal(t, 0, out.ExitCode)

	out = runShell(t, st, fmt.Sprintf(`{"command":"pwd","dir":%q}`, "sub"))
	assert.Equal(t, 0, out.ExitCode)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out.Stdout), "/sub"))
}
