package vm

import (
	"errors"
	"os"
	"testing"
)

func u16ptr(v uint16) *uint16 { return &v }

// TestDebuggerRunStopsAtBreakpointBeforeFirstInstruction guards the fix for
// spec.md §4.5's "the check occurs before each instruction executes": a
// breakpoint at the Machine's starting ip must fire before Run executes
// anything, not after the first instruction has already run.
func TestDebuggerRunStopsAtBreakpointBeforeFirstInstruction(t *testing.T) {
	m := newLoadedMachine(t, []uint16{uint16(OpOut), 65, uint16(OpHalt)})
	d := NewDebugger(m)
	d.Breakpoints[m.IP] = struct{}{}

	outcome, out, err := d.Run()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, outcome == RunBreakpoint, "expected RunBreakpoint, got %v", outcome)
	assert(t, len(out) == 0, "expected no output before the breakpointed instruction runs, got %v", out)
	assert(t, m.IP == 0, "ip should not have advanced past the breakpoint, got %d", m.IP)
}

func TestDebuggerRunStopsBeforeBreakpointedInstruction(t *testing.T) {
	m := newLoadedMachine(t, []uint16{
		uint16(OpOut), 65, // addr 0-1
		uint16(OpOut), 66, // addr 2-3
		uint16(OpHalt), // addr 4
	})
	d := NewDebugger(m)
	d.Breakpoints[2] = struct{}{}

	outcome, out, err := d.Run()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, outcome == RunBreakpoint, "expected RunBreakpoint, got %v", outcome)
	assert(t, len(out) == 1 && out[0] == 65, "expected only the first out byte, got %v", out)
	assert(t, m.IP == 2, "ip should stop at the breakpointed address, got %d", m.IP)
}

func TestDebuggerRunReturnsHaltedWithNoBreakpoints(t *testing.T) {
	m := newLoadedMachine(t, []uint16{uint16(OpOut), 65, uint16(OpHalt)})
	d := NewDebugger(m)

	outcome, out, err := d.Run()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, outcome == RunHalted, "expected RunHalted, got %v", outcome)
	assert(t, len(out) == 1 && out[0] == 65, "expected out byte 65, got %v", out)
}

func TestDebuggerRunReturnsNeedsInput(t *testing.T) {
	m := newLoadedMachine(t, []uint16{uint16(OpIn), regBase + 0})
	d := NewDebugger(m)

	outcome, _, err := d.Run()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, outcome == RunNeedsInput, "expected RunNeedsInput, got %v", outcome)
}

func TestDebuggerExecuteBreakpointSetClearList(t *testing.T) {
	d := NewDebugger(NewMachine())

	res, err := d.Execute("b 10")
	assert(t, err == nil, "set breakpoint failed: %v", err)
	assert(t, res.Output == "breakpoint set at 10", "unexpected output: %q", res.Output)
	_, ok := d.Breakpoints[10]
	assert(t, ok, "breakpoint at 10 should be set")

	res, err = d.Execute("b")
	assert(t, err == nil, "list breakpoints failed: %v", err)
	assert(t, res.Output == "10", "unexpected breakpoint list: %q", res.Output)

	res, err = d.Execute("B 10")
	assert(t, err == nil, "clear breakpoint failed: %v", err)
	assert(t, res.Output == "breakpoint cleared at 10", "unexpected output: %q", res.Output)
	_, ok = d.Breakpoints[10]
	assert(t, !ok, "breakpoint at 10 should be cleared")
}

func TestDebuggerExecuteIPRegisterAndMemory(t *testing.T) {
	m := NewMachine()
	d := NewDebugger(m)

	res, err := d.Execute("ip 42")
	assert(t, err == nil, "set ip failed: %v", err)
	assert(t, res.Output == "ip set to 42", "unexpected output: %q", res.Output)
	assert(t, m.IP == 42, "ip should be 42, got %d", m.IP)

	res, err = d.Execute("ip")
	assert(t, err == nil, "read ip failed: %v", err)
	assert(t, res.Output == "42", "unexpected ip readback: %q", res.Output)

	_, err = d.Execute("r3 99")
	assert(t, err == nil, "set r3 failed: %v", err)
	assert(t, m.Registers[3] == 99, "r3 should be 99, got %d", m.Registers[3])

	res, err = d.Execute("r3")
	assert(t, err == nil, "read r3 failed: %v", err)
	assert(t, res.Output == "99", "unexpected r3 readback: %q", res.Output)

	_, err = d.Execute("100 7")
	assert(t, err == nil, "set memory[100] failed: %v", err)
	assert(t, m.Memory[100] == 7, "memory[100] should be 7, got %d", m.Memory[100])

	res, err = d.Execute("100")
	assert(t, err == nil, "read memory[100] failed: %v", err)
	assert(t, res.Output == "7", "unexpected memory readback: %q", res.Output)
}

func TestDebuggerExecuteGoResumes(t *testing.T) {
	d := NewDebugger(NewMachine())
	res, err := d.Execute("go")
	assert(t, err == nil, "go failed: %v", err)
	assert(t, res.Resume, "go must signal resume")
}

func TestDebuggerExecuteUnrecognizedCommandIsUserInputError(t *testing.T) {
	d := NewDebugger(NewMachine())
	_, err := d.Execute("bogus")
	var uie *UserInputError
	assert(t, errors.As(err, &uie), "expected a *UserInputError, got %v", err)
}

func TestDebuggerExecuteTraceToggleAndClear(t *testing.T) {
	d := NewDebugger(NewMachine())

	res, err := d.Execute("trace on")
	assert(t, err == nil, "trace on failed: %v", err)
	assert(t, d.Exec.Enabled(), "trace should be enabled")
	assert(t, res.Output == "trace enabled", "unexpected output: %q", res.Output)

	d.Exec.Record(d.Machine, &StepInfo{Addr: 0, Opcode: OpNoop, NextAddr: 1})
	assert(t, len(d.Exec.Lines()) == 1, "expected one trace line recorded")

	_, err = d.Execute("trace clear")
	assert(t, err == nil, "trace clear failed: %v", err)
	assert(t, len(d.Exec.Lines()) == 0, "trace buffer should be empty after clear")

	_, err = d.Execute("trace off")
	assert(t, err == nil, "trace off failed: %v", err)
	assert(t, !d.Exec.Enabled(), "trace should be disabled")
}

func TestDebuggerExecuteStackToggleWithLimit(t *testing.T) {
	d := NewDebugger(NewMachine())

	res, err := d.Execute("stack on 2")
	assert(t, err == nil, "stack on failed: %v", err)
	assert(t, d.Stack.Enabled(), "stack trace should be enabled")
	assert(t, res.Output == "stack trace enabled", "unexpected output: %q", res.Output)

	_, err = d.Execute("stack off")
	assert(t, err == nil, "stack off failed: %v", err)
	assert(t, !d.Stack.Enabled(), "stack trace should be disabled")
}

// TestDebuggerExecuteDumpsTraceStackAndDisassembleFiles exercises the three
// file-writing commands (spec.md §4.5): trace/stack dump to <name>.trace/
// <name>.csv, and disassemble always writes <name>.asm, defaulting to
// address 0 and the name "challenge".
func TestDebuggerExecuteDumpsTraceStackAndDisassembleFiles(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	assert(t, err == nil, "getwd failed: %v", err)
	assert(t, os.Chdir(dir) == nil, "chdir failed")
	defer os.Chdir(cwd)

	m := newLoadedMachine(t, []uint16{uint16(OpNoop), uint16(OpHalt)})
	d := NewDebugger(m)

	_, err = d.Execute("trace on")
	assert(t, err == nil, "trace on failed: %v", err)
	d.Exec.Record(m, &StepInfo{Addr: 0, Opcode: OpNoop, NextAddr: 1})

	res, err := d.Execute("trace dump1")
	assert(t, err == nil, "trace dump failed: %v", err)
	assert(t, res.Output == "trace written to dump1.trace", "unexpected output: %q", res.Output)
	_, statErr := os.Stat("dump1.trace")
	assert(t, statErr == nil, "expected dump1.trace to exist: %v", statErr)

	_, err = d.Execute("stack on")
	assert(t, err == nil, "stack on failed: %v", err)
	d.Stack.Record(m, &StepInfo{Addr: 0, Opcode: OpPush, Pushed: u16ptr(1)})

	res, err = d.Execute("stack dump2")
	assert(t, err == nil, "stack dump failed: %v", err)
	assert(t, res.Output == "stack trace written to dump2.csv", "unexpected output: %q", res.Output)
	_, statErr = os.Stat("dump2.csv")
	assert(t, statErr == nil, "expected dump2.csv to exist: %v", statErr)

	res, err = d.Execute("disassemble")
	assert(t, err == nil, "disassemble failed: %v", err)
	assert(t, res.Output == "disassembly written to challenge.asm", "unexpected output: %q", res.Output)
	_, statErr = os.Stat("challenge.asm")
	assert(t, statErr == nil, "expected challenge.asm to exist: %v", statErr)
}

func TestDebuggerPeekInputDoesNotConsume(t *testing.T) {
	m := NewMachine()
	m.Input.push([]byte{42})
	d := NewDebugger(m)

	b, ok := d.PeekInput()
	assert(t, ok && b == 42, "expected to peek byte 42, got %d ok=%v", b, ok)
	assert(t, !m.Input.empty(), "peek must not consume the pending byte")
}
