package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/langobservatory/telegen/internal/wait"
)

func runWait(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("wait", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	url := flagSet.String("url", "", "URL to probe until it answers with a non-5xx status")
	name := flagSet.String("name", "", "Readable name for log and error messages")
	timeout := flagSet.Duration("timeout", wait.DefaultTimeout, "Total time to wait before giving up")
	interval := flagSet.Duration("interval", wait.DefaultInterval, "Delay between probe attempts")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "wait does not accept positional arguments")
		return 2
	}
	if strings.TrimSpace(*url) == "" {
		fmt.Fprintln(errOut, "wait requires --url")
		return 2
	}

	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := wait.ForHTTP(ctx, *name, *url, wait.Options{
		Timeout:  *timeout,
		Interval: *interval,
	})
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}

	target := strings.TrimSpace(*name)
	if target == "" {
		target = *url
	}
	fmt.Fprintf(out, "%s is ready\n", target)
	return 0
}
