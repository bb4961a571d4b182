package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it
// with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to
// operate. The real App type satisfies this interface; tests can provide
// a lightweight stub.
type execIface interface {
	AddChat(ctx context.Context) error
	AddContext(ctx context.Context) error
	AddPrompt(ctx context.Context) error
	List(ctx context.Context) error
	ListContexts(ctx context.Context) error
	ListPrompts(ctx context.Context) error
	Show(ctx context.Context) error
	Delete(ctx context.Context) error
	SetKey(ctx context.Context) error
	GetKey(ctx context.Context) error
	Sync(ctx context.Context) error
	Grant(ctx context.Context, dir string) error
	Revoke(ctx context.Context) error
}

const helpText = "Available commands: (l)ist, contexts, prompts, addchat, addctx, addprompt, " +
	"show, delete, setkey, getkey, sync, grant <dir>, revoke, exit"

// runREPL starts a read-eval-print loop over the storage adapter.
//
// It reads a line from the provided scanner, parses the first token as
// the command, and dispatches to methods on 'a'. Unknown commands are
// reported back to the user. The loop exits on scanner EOF or when the
// user types "exit" or "quit".
//
// Any errors returned by command handlers are printed and swallowed here,
// keeping the loop itself resilient.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	report := func(err error) {
		if err != nil {
			printlnFn("Error:", err.Error())
		}
	}

	for {
		printlnFn(fmt.Sprintf("keeper %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			printlnFn(helpText)

		case "addchat":
			report(a.AddChat(ctx))

		case "addctx":
			report(a.AddContext(ctx))

		case "addprompt":
			report(a.AddPrompt(ctx))

		case "l", "list":
			report(a.List(ctx))

		case "contexts":
			report(a.ListContexts(ctx))

		case "prompts":
			report(a.ListPrompts(ctx))

		case "show":
			report(a.Show(ctx))

		case "delete":
			report(a.Delete(ctx))

		case "setkey":
			report(a.SetKey(ctx))

		case "getkey":
			report(a.GetKey(ctx))

		case "sync":
			report(a.Sync(ctx))

		case "grant":
			if len(args) == 0 {
				printlnFn("Usage: grant <dir>")
				continue
			}
			report(a.Grant(ctx, args[0]))

		case "revoke":
			report(a.Revoke(ctx))

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
