// Command bbctl operates a buck-boost converter board over its serial link.
//
//	bbctl [-device /dev/ttyACM0] [-verbose] <command> [args]
//
// With -sim the board is simulated in-process instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"time"

	"buckboost/core"
	"buckboost/host/client"
	"buckboost/host/profile"
	"buckboost/host/serial"
	"buckboost/host/sim"
)

var (
	device   = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud     = flag.Int("baud", 250000, "Baud rate (ignored for USB CDC)")
	verbose  = flag.Bool("verbose", false, "Trace every response")
	timeout  = flag.Duration("timeout", client.DefaultTimeout, "Response timeout")
	simulate = flag.String("sim", "", "Simulate a board from this profile instead of opening -device ('-' for defaults)")
)

var _ profile.Controller = (*client.Client)(nil)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] <command> [args]\n\nCommands:\n", os.Args[0])
	printCommands(os.Stderr)
	fmt.Fprintln(os.Stderr, "\nFlags:")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	c, cleanup, err := open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, c, os.Stdout, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cleanup()
		os.Exit(1)
	}
}

// open connects to the board named by the flags.
func open() (*client.Client, func(), error) {
	if *simulate != "" {
		return openSim(*simulate)
	}
	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud
	c, err := client.Dial(cfg)
	if err != nil {
		return nil, nil, err
	}
	configure(c)
	return c, func() { c.Close() }, nil
}

// openSim runs a simulated board on the far end of an in-memory pipe.
func openSim(path string) (*client.Client, func(), error) {
	p := profile.Default()
	if path != "-" {
		var err error
		if p, err = profile.Load(path); err != nil {
			return nil, nil, err
		}
	}
	cfg, err := p.BoardConfig()
	if err != nil {
		return nil, nil, err
	}
	board, err := sim.NewBoard(cfg, p.PlantConfig())
	if err != nil {
		return nil, nil, err
	}

	hostEnd, devEnd := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := board.Serve(ctx, devEnd, time.Millisecond); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("simulator stopped: %v", err)
		}
	}()

	c := client.New(hostEnd)
	configure(c)
	closeAll := func() {
		c.Close()
		cancel()
		devEnd.Close()
		<-done
	}
	if err := c.Identify(); err != nil {
		closeAll()
		return nil, nil, err
	}
	return c, closeAll, nil
}

func configure(c *client.Client) {
	c.Timeout = *timeout
	if *verbose {
		c.SetLogger(log.New(os.Stderr, "", log.Lmicroseconds))
	}
}

// run executes one command line.
func run(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", args[0])
	}
	if len(args)-1 < cmd.minArgs {
		return fmt.Errorf("usage: %s %s", args[0], cmd.usage)
	}
	return cmd.run(ctx, c, w, args[1:])
}

func printStatus(w io.Writer, s core.Status) {
	running := "stopped"
	if s.Running {
		running = "running"
	}
	fmt.Fprintf(w, "mode=%-5s %s cause=%s vin=%dmV vout=%dmV target=%dmV duty=%d integral=%d\n",
		s.Mode, running, s.Cause, s.VinMilliVolts, s.VoutMilliVolts, s.TargetMilliVolts, s.Duty, s.Integral)
	fmt.Fprintf(w, "  ct_max=%d ct_min=%d ct_range=%d overruns=%d transitions=%d ticks=%d\n",
		s.CTMax, s.CTMin, s.CTRange, s.Overruns, s.Transitions, s.Ticks)
}
