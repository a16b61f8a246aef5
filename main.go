package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	cli "gopkg.in/urfave/cli.v1"

	"synacor-vm/vm"
)

var log = logrus.New()

func main() {
	app := cli.NewApp()
	app.Name = "synacor-vm"
	app.Usage = "run and debug Synacor Architecture binaries"
	app.Version = "1.0.0"

	app.Commands = []cli.Command{
		{
			Name:  "run",
			Usage: "load a binary and run it to completion (or until it needs you)",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "binary", Usage: "path to the compiled program"},
				cli.BoolFlag{Name: "debug", Usage: "start with a breakpoint at address 0"},
				cli.StringFlag{Name: "snapshot", Usage: "resume from a previously saved snapshot instead of --binary"},
				cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn, or error"},
			},
			Action: runAction,
		},
		{
			Name:  "version",
			Usage: "print the version and exit",
			Action: func(c *cli.Context) error {
				fmt.Println(c.App.Version)
				return nil
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Error("synacor-vm exited with an error")
		os.Exit(exitCodeFor(err))
	}
}

func runAction(c *cli.Context) error {
	if lvl, err := logrus.ParseLevel(c.String("log-level")); err == nil {
		log.SetLevel(lvl)
	}

	machine := vm.NewMachine()
	var program []uint16

	switch {
	case c.String("snapshot") != "":
		if err := machine.RestoreFromFile(c.String("snapshot")); err != nil {
			return err
		}
		log.WithField("snapshot", c.String("snapshot")).Info("resumed from snapshot")

	case c.String("binary") != "":
		words, err := loadBinary(c.String("binary"))
		if err != nil {
			return err
		}
		program = words
		if err := machine.LoadProgram(words); err != nil {
			return err
		}
		log.WithField("binary", c.String("binary")).Info("loaded binary")

	default:
		return cli.NewExitError("one of --binary or --snapshot is required", 2)
	}

	driver := vm.NewDriver(machine, program, os.Stdout, log)
	if c.Bool("debug") {
		driver.Debugger.Breakpoints[0] = struct{}{}
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("recovered from a panic mid-run; the machine's last snapshot, if any, is unaffected")
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return driver.RunLoop(scanner)
}

// loadBinary reads a little-endian stream of 16-bit words, the on-disk
// format spec.md §6 describes for a compiled program.
func loadBinary(path string) ([]uint16, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if len(raw)%2 != 0 {
		return nil, errors.Errorf("%s has an odd number of bytes, not a valid word stream", path)
	}

	words := make([]uint16, len(raw)/2)
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(raw[2*i : 2*i+2])
	}
	return words, nil
}

// exitCodeFor maps a top-level failure to the process exit code spec.md
// §6 defines: 1 for a failure to load the requested binary or snapshot,
// 2 for anything else (a bad flag combination, a malformed binary).
func exitCodeFor(err error) int {
	var ioErr *vm.IOError
	if errors.As(err, &ioErr) {
		return 1
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return 1
	}
	if exitErr, ok := err.(*cli.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 2
}
