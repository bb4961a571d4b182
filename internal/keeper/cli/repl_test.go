package cli

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeExec struct {
	calls    []string
	grantArg string
	syncErr  error
}

func (f *fakeExec) AddChat(context.Context) error {
	f.calls = append(f.calls, "addchat")
	return nil
}
func (f *fakeExec) AddContext(context.Context) error {
	f.calls = append(f.calls, "addctx")
	return nil
}
func (f *fakeExec) AddPrompt(context.Context) error {
	f.calls = append(f.calls, "addprompt")
	return nil
}
func (f *fakeExec) List(context.Context) error { f.calls = append(f.calls, "list"); return nil }
func (f *fakeExec) ListContexts(context.Context) error {
	f.calls = append(f.calls, "contexts")
	return nil
}
func (f *fakeExec) ListPrompts(context.Context) error {
	f.calls = append(f.calls, "prompts")
	return nil
}
func (f *fakeExec) Show(context.Context) error   { f.calls = append(f.calls, "show"); return nil }
func (f *fakeExec) Delete(context.Context) error { f.calls = append(f.calls, "delete"); return nil }
func (f *fakeExec) SetKey(context.Context) error { f.calls = append(f.calls, "setkey"); return nil }
func (f *fakeExec) GetKey(context.Context) error { f.calls = append(f.calls, "getkey"); return nil }
func (f *fakeExec) Sync(context.Context) error {
	f.calls = append(f.calls, "sync")
	return f.syncErr
}
func (f *fakeExec) Grant(_ context.Context, dir string) error {
	f.calls = append(f.calls, "grant")
	f.grantArg = dir
	return nil
}
func (f *fakeExec) Revoke(context.Context) error { f.calls = append(f.calls, "revoke"); return nil }

func runScript(t *testing.T, exec *fakeExec, lines ...string) []string {
	t.Helper()

	var out []string
	origPrint := printlnFn
	printlnFn = func(args ...any) (int, error) {
		var parts []string
		for _, a := range args {
			if s, ok := a.(string); ok {
				parts = append(parts, s)
			}
		}
		out = append(out, strings.Join(parts, " "))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = origPrint })

	sc := bufio.NewScanner(strings.NewReader(strings.Join(lines, "\n")))
	runREPL(context.Background(), exec, func() string { return "status" }, sc)
	return out
}

func TestRunREPL_DispatchesCommands(t *testing.T) {
	exec := &fakeExec{}
	runScript(t, exec,
		"help",
		"addchat",
		"list",
		"l",
		"contexts",
		"prompts",
		"show",
		"delete",
		"setkey",
		"sync",
		"grant /tmp/sync",
		"revoke",
		"bogus",
		"exit",
	)

	assert.Equal(t, []string{
		"addchat", "list", "list", "contexts", "prompts",
		"show", "delete", "setkey", "sync", "grant", "revoke",
	}, exec.calls)
	assert.Equal(t, "/tmp/sync", exec.grantArg)
}

func TestRunREPL_GrantNeedsArgument(t *testing.T) {
	exec := &fakeExec{}
	out := runScript(t, exec, "grant", "exit")

	assert.NotContains(t, exec.calls, "grant")
	assert.Contains(t, out, "Usage: grant <dir>")
}

func TestRunREPL_HandlerErrorsArePrintedNotFatal(t *testing.T) {
	exec := &fakeExec{syncErr: errors.New("transport down")}
	out := runScript(t, exec, "sync", "list", "exit")

	assert.Equal(t, []string{"sync", "list"}, exec.calls, "the loop survives a failing handler")

	var sawError bool
	for _, line := range out {
		if strings.Contains(line, "transport down") {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestRunREPL_EOFExits(t *testing.T) {
	exec := &fakeExec{}
	runScript(t, exec, "list")
	assert.Equal(t, []string{"list"}, exec.calls)
}
