// Command statsctl is an operator CLI for a FileRotator-backed stats
// directory: listing managed files, forcing rotation, stripping a uid's
// data, importing legacy history, and a small interactive shell for ad
// hoc incident response. Mirrors the teacher's cmd/tk entry point shape.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	os.Exit(run(os.Stdout, os.Stderr, os.Args, env))
}

func run(stdout, stderr io.Writer, args []string, env map[string]string) int {
	if len(args) < 2 {
		printUsage(stdout)

		return 0
	}

	cmdName := args[1]
	cmdArgs := args[2:]

	cmd, ok := commands[cmdName]
	if !ok {
		if cmdName == "-h" || cmdName == "--help" {
			printUsage(stdout)

			return 0
		}

		fmt.Fprintln(stderr, "error: unknown command:", cmdName)
		printUsage(stderr)

		return 1
	}

	err := cmd.exec(&IO{stdout: stdout, stderr: stderr, env: env}, cmdArgs)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)

		return 1
	}

	return 0
}

type command struct {
	usage string
	short string
	exec  func(o *IO, args []string) error
}

// IO bundles a command's output streams and environment, mirroring the
// teacher's internal/cli.IO shape.
type IO struct {
	stdout io.Writer
	stderr io.Writer
	env    map[string]string
}

var commands = map[string]command{
	"ls":            {usage: "ls [flags]", short: "list managed files with decoded ranges", exec: lsCmd},
	"rotate":        {usage: "rotate [flags]", short: "seal/expire files via MaybeRotate(now)", exec: rotateCmd},
	"remove-uid":    {usage: "remove-uid --uid N [flags]", short: "strip a uid's data from every file", exec: removeUidCmd},
	"import-legacy": {usage: "import-legacy --file path (--uid N|--network) [flags]", short: "import a legacy collection", exec: importLegacyCmd},
	"shell":         {usage: "shell [flags]", short: "interactive REPL for ls/rotate/remove-uid", exec: shellCmd},
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: statsctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")

	for _, name := range []string{"ls", "rotate", "remove-uid", "import-legacy", "shell"} {
		cmd := commands[name]
		fmt.Fprintf(w, "  %-50s %s\n", cmd.usage, cmd.short)
	}
}
