package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"
)

var Version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// exitCode carries a non-zero process status out of a command.
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }

func run(args []string, stdout, stderr io.Writer) int {
	opts := NewOptions(stdout, stderr)
	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "clawpulse"

	_, err := parser.ParseArgs(withDefaultCommand(args))
	if err == nil {
		return 0
	}

	var code exitCode
	if errors.As(err, &code) {
		return int(code)
	}
	var flagsErr *flags.Error
	if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
		fmt.Fprintln(stdout, flagsErr.Message)
		return 0
	}
	fmt.Fprintf(stderr, "clawpulse: %v\n", err)
	return 1
}

// withDefaultCommand runs status when no command is named.
func withDefaultCommand(args []string) []string {
	for _, a := range args {
		if a == "-h" || a == "--help" {
			return args
		}
		if len(a) > 0 && a[0] != '-' {
			return args
		}
	}
	return append([]string{"status"}, args...)
}
