package vm

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Driver is the interactive front-end described by spec.md §4.4 and §6: it
// pumps the Machine until it needs a line of input, at which point it
// first checks the line against a small set of meta-commands before
// falling back to forwarding it (plus a trailing newline) as VM input.
// The Debugger is always attached, even outside --debug, so that `debug`
// can be typed mid-session without restarting the program.
type Driver struct {
	Machine     *Machine
	Debugger    *Debugger
	origProgram []uint16
	out         io.Writer
	log         *logrus.Logger
	quit        bool
}

func NewDriver(m *Machine, program []uint16, out io.Writer, log *logrus.Logger) *Driver {
	return &Driver{
		Machine:     m,
		Debugger:    NewDebugger(m),
		origProgram: append([]uint16(nil), program...),
		out:         out,
		log:         log,
	}
}

// helpText lists every meta-command the Driver intercepts ahead of the
// VM's own `in` (spec.md §4.4, §6).
const helpText = `meta-commands (typed whenever the program is waiting on input):
  help                 show this text
  save <name>          snapshot the running machine to <name>
  restore <name>       replace the running machine with a snapshot
  restart              reload the original binary from a cold boot
  debug                enter the debugger immediately
  solve teleporter      run the teleporter register solver
  solve vault           run the vault grid solver
  die                   quit`

// RunLoop drives the Machine to completion or until the terminal closes
// input, writing every byte the program emits to out as it is produced.
func (d *Driver) RunLoop(scanner *bufio.Scanner) error {
	for {
		outcome, produced, err := d.Debugger.Run()
		d.write(produced)
		if err != nil {
			return err
		}

		switch outcome {
		case RunHalted:
			return nil

		case RunBreakpoint:
			if err := d.debugREPL(scanner); err != nil {
				return err
			}
			if d.quit {
				return nil
			}

		case RunNeedsInput:
			if !scanner.Scan() {
				return nil
			}
			line := scanner.Text()
			handled, err := d.handleMeta(line, scanner)
			if err != nil {
				fmt.Fprintln(d.out, err)
				continue
			}
			if handled {
				if d.quit {
					return nil
				}
				continue
			}
			d.Machine.Input.push([]byte(line + "\n"))
		}
	}
}

// debugREPL reads debugger commands until one of them resumes execution
// or the user quits (spec.md §4.5).
func (d *Driver) debugREPL(scanner *bufio.Scanner) error {
	d.printStatus()
	for {
		if !scanner.Scan() {
			d.quit = true
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "die" {
			d.quit = true
			return nil
		}

		result, err := d.Debugger.Execute(line)
		if err != nil {
			fmt.Fprintln(d.out, err)
			continue
		}
		if result.Output != "" {
			fmt.Fprintln(d.out, result.Output)
		}
		if result.Resume {
			return nil
		}
	}
}

// handleMeta checks line against the fixed meta-command vocabulary,
// reporting handled=false when it should instead be forwarded to the VM
// as ordinary input.
func (d *Driver) handleMeta(line string, scanner *bufio.Scanner) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "help":
		fmt.Fprintln(d.out, helpText)
		return true, nil

	case "die":
		d.quit = true
		return true, nil

	case "debug":
		return true, d.debugREPL(scanner)

	case "save":
		if len(fields) != 2 {
			return true, newUserInputError(line, "usage: save <name>")
		}
		if err := d.Machine.SaveToFile(fields[1]); err != nil {
			return true, err
		}
		fmt.Fprintf(d.out, "saved to %s\n", fields[1])
		return true, nil

	case "restore":
		if len(fields) != 2 {
			return true, newUserInputError(line, "usage: restore <name>")
		}
		if err := d.Machine.RestoreFromFile(fields[1]); err != nil {
			return true, err
		}
		fmt.Fprintf(d.out, "restored from %s\n", fields[1])
		return true, nil

	case "restart":
		*d.Machine = *NewMachine()
		if err := d.Machine.LoadProgram(d.origProgram); err != nil {
			return true, err
		}
		fmt.Fprintln(d.out, "restarted")
		return true, nil

	case "solve":
		if len(fields) != 2 {
			return true, newUserInputError(line, "usage: solve teleporter|vault")
		}
		return true, d.solve(fields[1])

	default:
		return false, nil
	}
}

func (d *Driver) solve(which string) error {
	switch which {
	case "teleporter":
		if d.log != nil {
			d.log.WithFields(logrus.Fields{
				"m": d.Machine.Memory[teleporterMAddr],
				"n": d.Machine.Memory[teleporterNAddr],
			}).Info("searching for a teleporter register value")
		}
		k, err := d.Machine.SolveTeleporter()
		if err != nil {
			if d.log != nil {
				d.log.WithError(err).Warn("teleporter search exhausted its range")
			}
			return err
		}
		if d.log != nil {
			d.log.WithField("k", k).Info("teleporter register found")
		}
		fmt.Fprintf(d.out, "teleporter register set to %d\n", k)
		return nil

	case "vault":
		path, err := SolveVault(DefaultVaultGrid())
		if err != nil {
			if d.log != nil {
				d.log.WithError(err).Warn("vault solver found no path")
			}
			return err
		}
		dirs := make([]string, len(path))
		for i, dir := range path {
			dirs[i] = dir.String()
		}
		if d.log != nil {
			d.log.WithField("steps", len(path)).Info("vault path found")
		}
		fmt.Fprintf(d.out, "vault path: %s\n", strings.Join(dirs, " "))
		return nil

	default:
		return newUserInputError(which, "unknown solver")
	}
}

// printStatus shows the debugger's entry banner: the instruction pointer,
// the instruction waiting there, and the next pending input byte (peeked,
// never consumed, so entering the debugger never perturbs the VM).
func (d *Driver) printStatus() {
	line := fmt.Sprintf("stopped at %s", d.Machine.DisassembleAt(d.Machine.IP))
	if b, ok := d.Debugger.PeekInput(); ok {
		line += fmt.Sprintf(" (next input byte: %d %q)", b, string(rune(b)))
	}
	fmt.Fprintln(d.out, line)
}

func (d *Driver) write(b []byte) {
	if len(b) == 0 {
		return
	}
	if _, err := d.out.Write(b); err != nil && d.log != nil {
		d.log.WithError(err).Warn("failed writing program output")
	}
}
