package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/shlex"

	"buckboost/host/client"
)

func cmdShell(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	fmt.Fprintln(w, "Enter commands (type 'help' for available commands, 'quit' to exit):")
	return shell(ctx, c, os.Stdin, w)
}

// shell reads command lines until EOF or quit. Lines are split with shell
// quoting rules, so profile paths may contain spaces.
func shell(ctx context.Context, c *client.Client, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	for {
		fmt.Fprint(w, "> ")
		if !scanner.Scan() {
			break
		}
		args, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "quit", "exit", "q":
			return nil
		case "shell":
			fmt.Fprintln(w, "Error: already in the shell")
			continue
		}
		if err := run(ctx, c, w, args); err != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	fmt.Fprintln(w)
	return scanner.Err()
}
