package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/calvinalkan/statsrotator/internal/netstats"
	"github.com/calvinalkan/statsrotator/internal/rotator"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

// shellCmd runs a tiny interactive REPL for ad hoc ls/rotate/remove-uid
// during incident response, re-homing the teacher's cmd/sloty liner usage
// for an operator who wants to poke at a stats directory by hand.
func shellCmd(o *IO, args []string) error {
	fset := flag.NewFlagSet("shell", flag.ContinueOnError)
	cf := bindCommonFlags(fset)

	err := fset.Parse(args)
	if err != nil {
		return err
	}

	r, cfg, err := openRotator(o, cf)
	if err != nil {
		return err
	}

	l := liner.NewLiner()
	defer l.Close()

	l.SetCtrlCAborts(true)

	histFile := shellHistoryFile()
	if f, openErr := os.Open(histFile); openErr == nil {
		_, _ = l.ReadHistory(f)
		_ = f.Close()
	}

	fmt.Fprintf(o.stdout, "statsctl shell (base_path=%s, prefix=%s)\n", cfg.BasePath, cfg.Prefix)
	fmt.Fprintln(o.stdout, shellHelp())

	for {
		line, promptErr := l.Prompt("statsctl> ")
		if promptErr != nil {
			if promptErr == liner.ErrPromptAborted || promptErr == io.EOF {
				fmt.Fprintln(o.stdout, "bye")

				break
			}

			return fmt.Errorf("shell: read input: %w", promptErr)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		l.AppendHistory(line)

		if dispatchShell(o, r, cf, line) {
			break
		}
	}

	if f, createErr := os.Create(histFile); createErr == nil {
		_, _ = l.WriteHistory(f)
		_ = f.Close()
	}

	return nil
}

// dispatchShell runs one shell command line, returning true if the shell
// loop should exit.
func dispatchShell(o *IO, r *rotator.FileRotator, cf *commonFlags, line string) bool {
	fields := strings.Fields(line)
	cmd, rest := fields[0], fields[1:]

	switch strings.ToLower(cmd) {
	case "exit", "quit", "q":
		fmt.Fprintln(o.stdout, "bye")

		return true

	case "help", "?":
		fmt.Fprintln(o.stdout, shellHelp())

	case "ls":
		infos, err := r.ListFiles()
		if err != nil {
			fmt.Fprintln(o.stderr, "error:", err)

			return false
		}

		printFileInfos(o, infos)

	case "rotate":
		err := r.MaybeRotate(*cf.now)
		if err != nil {
			fmt.Fprintln(o.stderr, "error:", err)

			return false
		}

		fmt.Fprintln(o.stdout, "rotate ok")

	case "remove-uid":
		if len(rest) != 1 {
			fmt.Fprintln(o.stderr, "usage: remove-uid <uid>")

			return false
		}

		uid, err := parseUint(rest[0])
		if err != nil {
			fmt.Fprintln(o.stderr, "error:", err)

			return false
		}

		err = r.RewriteAll(netstats.NewRemoveUidRewriter(uid))
		if err != nil {
			fmt.Fprintln(o.stderr, "error:", err)

			return false
		}

		fmt.Fprintf(o.stdout, "removed uid %d\n", uid)

	default:
		fmt.Fprintf(o.stderr, "unknown command: %s (%s)\n", cmd, shellHelp())
	}

	return false
}

func shellHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".statsctl_history")
}

func parseUint(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid uid %q: %w", s, err)
	}

	return uint32(v), nil
}

func shellHelp() string {
	return "commands: ls, rotate, remove-uid <uid>, help, exit"
}
