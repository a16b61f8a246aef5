package vm

import (
	"fmt"
	"strings"
)

// traceColumn is where the right-hand interpretation begins, padding the
// left-hand disassembly the way spec.md §4.3 describes.
const traceColumn = 35

// ExecTracer records one human-readable line per executed step: the
// disassembly at ip on the left, and an interpretation of what the
// instruction actually did on the right - old/new register values, the
// branch condition and whether it was taken, or the byte/ASCII pair for
// `out`. It is owned by the Debugger (spec.md §5), never by the Machine.
type ExecTracer struct {
	lines   []string
	enabled bool
}

func NewExecTracer() *ExecTracer {
	return &ExecTracer{}
}

func (t *ExecTracer) Enable()  { t.enabled = true }
func (t *ExecTracer) Disable() { t.enabled = false }
func (t *ExecTracer) Enabled() bool { return t.enabled }
func (t *ExecTracer) Clear()   { t.lines = nil }
func (t *ExecTracer) Lines() []string {
	return append([]string(nil), t.lines...)
}

// Record appends a formatted trace line for the instruction described by
// info, disassembled fresh from m (the Machine has already advanced past
// it, so the disassembly is read from info.Addr, not m.IP).
func (t *ExecTracer) Record(m *Machine, info *StepInfo) {
	if !t.enabled || info == nil {
		return
	}

	left := m.DisassembleAt(info.Addr)
	right := interpretStep(info)

	if len(left) < traceColumn {
		left += strings.Repeat(" ", traceColumn-len(left))
	} else {
		left += " "
	}
	t.lines = append(t.lines, left+right)
}

func interpretStep(info *StepInfo) string {
	switch info.Opcode {
	case OpOut:
		b := *info.Output
		return fmt.Sprintf("out %d %q", b, asciiGlyph(b))

	case OpJt, OpJf:
		verb := "jt"
		if info.Opcode == OpJf {
			verb = "jf"
		}
		takenStr := "not taken"
		if info.Taken != nil && *info.Taken {
			takenStr = fmt.Sprintf("taken -> %d", info.NextAddr)
		}
		return fmt.Sprintf("%s %d: %s", verb, *info.CondValue, takenStr)

	case OpPush:
		return fmt.Sprintf("push %d", *info.Pushed)

	case OpPop:
		return fmt.Sprintf("pop -> r%d replacing %d with %d", info.Reg.Index, info.Reg.Old, info.Reg.New)

	case OpCall:
		return fmt.Sprintf("call %d, return address %d pushed", info.NextAddr, *info.Pushed)

	case OpRet:
		if info.Popped == nil {
			return "ret on empty stack, halted"
		}
		return fmt.Sprintf("ret -> %d", *info.Popped)

	case OpIn:
		if info.Reg == nil {
			return "in (blocked, no input pending)"
		}
		return fmt.Sprintf("in -> r%d replacing %d with %d %q", info.Reg.Index, info.Reg.Old, info.Reg.New, asciiGlyph(byte(info.Reg.New)))

	default:
		if info.Reg == nil {
			return info.Opcode.String()
		}
		expr := arithExpr(info)
		return fmt.Sprintf("r%d = %s replacing %d with %d", info.Reg.Index, expr, info.Reg.Old, info.Reg.New)
	}
}

// arithExpr renders the source expression of a register-writing ALU
// instruction, e.g. "5 + 7" for add, matching spec.md §4.3's example.
func arithExpr(info *StepInfo) string {
	b, c := info.Operands[1], info.Operands[2]
	switch info.Opcode {
	case OpSet:
		return fmt.Sprintf("%d", info.Operands[1])
	case OpEq:
		return fmt.Sprintf("%d == %d", b, c)
	case OpGt:
		return fmt.Sprintf("%d > %d", b, c)
	case OpAdd:
		return fmt.Sprintf("%d + %d", b, c)
	case OpMult:
		return fmt.Sprintf("%d * %d", b, c)
	case OpMod:
		return fmt.Sprintf("%d %% %d", b, c)
	case OpAnd:
		return fmt.Sprintf("%d & %d", b, c)
	case OpOr:
		return fmt.Sprintf("%d | %d", b, c)
	case OpNot:
		return fmt.Sprintf("~%d", info.Operands[1])
	case OpRmem:
		return fmt.Sprintf("memory[%d]", info.Operands[1])
	default:
		return info.Opcode.String()
	}
}

// asciiGlyph renders b for display, replacing anything outside printable
// ASCII or common whitespace with a visible placeholder so that an `out`
// of a control byte never corrupts the trace output (spec.md §7).
func asciiGlyph(b byte) string {
	switch {
	case b == '\n':
		return "\\n"
	case b == '\t':
		return "\\t"
	case b == '\r':
		return "\\r"
	case b >= 0x20 && b < 0x7F:
		return string(rune(b))
	default:
		return "�"
	}
}
