package main

import (
	"fmt"
	"os"

	"github.com/lsm/pricer/internal/cli"
)

const usage = `pricer - pricing event toolkit

Usage:
  pricer <command> [arguments]

Commands:
  produce     Push pricing events onto the queue
  transform   Price a single event and print its fingerprint
  validate    Validate pricer config files
  collect     Deliver pricer-worker output to the configured sinks

Run 'pricer <command> -h' for help on a specific command.`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		return nil
	}

	switch os.Args[1] {
	case "produce":
		return cli.RunProduce(os.Args[2:], nil)
	case "transform":
		return cli.RunTransform(os.Args[2:], nil)
	case "validate":
		return cli.RunValidate(os.Args[2:], nil)
	case "collect":
		return cli.RunCollect(os.Args[2:], nil, nil)
	case "-h", "--help", "help":
		fmt.Println(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\nRun 'pricer help' for usage", os.Args[1])
	}
}
