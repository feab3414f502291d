package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"buckboost/core"
	"buckboost/host/client"
	"buckboost/host/profile"
)

type command struct {
	usage   string
	help    string
	minArgs int
	run     func(ctx context.Context, c *client.Client, w io.Writer, args []string) error
}

var commands map[string]command

// The table refers back to run through help and shell, so it is filled in
// init rather than in its declaration.
func init() {
	commands = map[string]command{
		"status":  {"", "Show the converter status", 0, cmdStatus},
		"watch":   {"[interval] [count]", "Stream periodic status reports", 0, cmdWatch},
		"target":  {"<millivolts>", "Set the output voltage target", 1, cmdTarget},
		"mode":    {"<buck|boost|mixed>", "Request a regulated mode", 1, cmdMode},
		"advance": {"", "Cycle buck -> boost -> mixed", 0, simple((*client.Client).Advance)},
		"start":   {"", "Start regulation", 0, simple((*client.Client).Start)},
		"stop":    {"", "Return to idle", 0, simple((*client.Client).Stop)},
		"ack":     {"[hold]", "Acknowledge a latched fault", 0, cmdAck},
		"events":  {"", "Dump the board event log", 0, cmdEvents},
		"config":  {"", "Show the board timing and limits", 0, cmdConfig},
		"dict":    {"", "Print the raw link dictionary", 0, cmdDict},
		"send":    {"<command> [name=value...]", "Send a raw link command", 1, cmdSend},
		"apply":   {"<profile.yaml>", "Apply a run profile", 1, cmdApply},
		"shell":   {"", "Interactive command shell", 0, cmdShell},
		"help":    {"", "List commands", 0, cmdHelp},
	}
}

func printCommands(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := commands[name]
		fmt.Fprintf(w, "  %-28s %s\n", strings.TrimSpace(name+" "+cmd.usage), cmd.help)
	}
}

func simple(fn func(*client.Client) error) func(context.Context, *client.Client, io.Writer, []string) error {
	return func(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
		return fn(c)
	}
}

func cmdHelp(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	printCommands(w)
	return nil
}

func cmdStatus(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	s, err := c.Status()
	if err != nil {
		return err
	}
	printStatus(w, s)
	return nil
}

func cmdWatch(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	interval := 250 * time.Millisecond
	if len(args) > 0 {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("interval: %w", err)
		}
		interval = d
	}
	count := 0
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return fmt.Errorf("count must be a non-negative integer")
		}
		count = n
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	seen := 0
	return c.Watch(ctx, interval, func(s core.Status) {
		printStatus(w, s)
		seen++
		if count > 0 && seen >= count {
			cancel()
		}
	})
}

func cmdTarget(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	mv, err := strconv.ParseUint(strings.TrimSuffix(args[0], "mV"), 10, 32)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	return c.SetTarget(uint32(mv))
}

func cmdMode(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	mode, err := core.ParseMode(args[0])
	if err != nil {
		return fmt.Errorf("%w: %q", err, args[0])
	}
	return c.RequestMode(mode)
}

func cmdAck(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	hold := client.DefaultAckHold
	if len(args) > 0 {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("hold: %w", err)
		}
		hold = d
	}
	return c.Acknowledge(hold)
}

func cmdEvents(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	events, err := c.Events()
	if err != nil {
		return err
	}
	for _, e := range events {
		fmt.Fprintf(w, "%10d %-8s mode=%-5s value=%d\n", e.Tick, core.EventName(e.Kind), e.Mode, e.Value)
	}
	fmt.Fprintf(w, "%d events\n", len(events))
	return nil
}

func cmdConfig(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	info, err := c.BoardInfo()
	if err != nil {
		return err
	}
	g := info.Geometry
	fmt.Fprintf(w, "period=%d deadtime=%d/%d repetition=%d\n", g.Period, g.DeadtimeRising, g.DeadtimeFalling, g.RepetitionPeriods)
	fmt.Fprintf(w, "vin=[%d, %d]mV vout_max=%dmV\n", info.VinMin, info.VinMax, info.VoutMax)
	if d := c.Dictionary(); d != nil {
		fmt.Fprintf(w, "firmware %s on %s\n", d.Version, d.Config["MCU"])
	}
	return nil
}

func cmdDict(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	raw := c.RawDictionary()
	fmt.Fprintf(w, "%s\n(%d bytes)\n", raw, len(raw))
	return nil
}

// cmdSend sends any dictionary command, e.g. "send set_target millivolts=5000".
func cmdSend(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	cmdArgs := client.Args{}
	for _, a := range args[1:] {
		name, value, ok := strings.Cut(a, "=")
		if !ok {
			return fmt.Errorf("argument %q is not name=value", a)
		}
		v, err := strconv.ParseInt(value, 0, 64)
		if err != nil {
			return fmt.Errorf("argument %s: %w", name, err)
		}
		cmdArgs[name] = v
	}
	return c.Send(args[0], cmdArgs)
}

func cmdApply(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	p, err := profile.Load(args[0])
	if err != nil {
		return err
	}
	if err := p.Apply(c); err != nil {
		return err
	}
	fmt.Fprintf(w, "applied %s: target %dmV\n", args[0], p.TargetMilliVolts)
	s, err := c.Status()
	if err != nil {
		return err
	}
	printStatus(w, s)
	return nil
}
