package vm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// renderOperand shows a register operand as "rN" and anything else
// (including out-of-range garbage a disassembler might walk over without
// ever executing it) as its decimal value - spec.md §4.2.
func renderOperand(raw uint16) string {
	if raw >= regBase && raw < regBase+NumRegisters {
		return "r" + strconv.Itoa(int(raw-regBase))
	}
	return strconv.Itoa(int(raw))
}

// disasmLine renders the instruction at addr without validating operand
// legality the way Step does - disassembly is a best-effort read of
// memory, not an execution (spec.md §4.2, §9: "one-way", never an
// assembler). It returns the rendered text and the decoded opcode (which
// may be invalid).
func (m *Machine) disasmLine(addr uint16) (string, Opcode) {
	op := Opcode(m.Memory[addr])
	if !op.Valid() {
		return fmt.Sprintf("%d: ?unknown? %d", addr, m.Memory[addr]), op
	}

	arity := op.Arity()
	args := make([]string, arity)
	for i := 0; i < arity; i++ {
		args[i] = renderOperand(m.Memory[uint32(addr)+uint32(i)+1])
	}

	if len(args) == 0 {
		return fmt.Sprintf("%d: %s", addr, op), op
	}
	return fmt.Sprintf("%d: %s %s", addr, op, strings.Join(args, ", ")), op
}

// DisassembleAt renders a single instruction line ("NNNN: mnemonic arg1,
// arg2, arg3") without following control flow (spec.md §4.2).
func (m *Machine) DisassembleAt(addr uint16) string {
	line, _ := m.disasmLine(addr)
	return line
}

// disasmEntry is the reachability walk's "completed map" row: an address's rendered
// line, plus the address immediately following it in memory (used only to
// detect gaps in the final sorted output, not as a control-flow edge).
type disasmEntry struct {
	addr uint16
	line string
	next uint16
}

// operandLiteral reports the raw word at addr+offset if it is an
// immediate literal (<=32767); ok is false for a register operand, which
// the reachability walk never follows dynamically (spec.md §4.2).
func (m *Machine) operandLiteral(addr, offset uint16) (target uint16, ok bool) {
	raw := m.Memory[uint32(addr)+uint32(offset)]
	if raw <= 32767 {
		return raw, true
	}
	return 0, false
}

// Disassemble performs the reachability walk starting at start: it renders
// every address reachable by following straight-line succession, jt/jf's
// two successors, call's two successors, and jmp/call's immediate branch
// target (never a register-held dynamic target). The result is the
// completed map sorted by address, with a "..." sentinel inserted between
// adjacent entries whose addresses are not contiguous in memory (spec.md
// §4.2). The walk is guarded by the completed map itself, so cycles and
// self-referential regions terminate naturally.
func (m *Machine) Disassemble(start uint16) []string {
	completed := make(map[uint16]disasmEntry)
	pending := []uint16{start}

	for len(pending) > 0 {
		addr := pending[0]
		pending = pending[1:]

		if _, done := completed[addr]; done {
			continue
		}

		line, op := m.disasmLine(addr)
		length := uint16(1)
		if op.Valid() {
			length = uint16(op.Len())
		}
		nextAddr := addr + length
		completed[addr] = disasmEntry{addr: addr, line: line, next: nextAddr}

		if !op.Valid() {
			continue
		}

		switch {
		case op == OpJmp:
			if target, ok := m.operandLiteral(addr, 1); ok {
				pending = append(pending, target)
			}
		case op == OpRet || op == OpHalt:
			// no successors

		case op.branchesConditionally(): // jt, jf
			pending = append(pending, nextAddr)
			if target, ok := m.operandLiteral(addr, 2); ok {
				pending = append(pending, target)
			}

		case op == OpCall:
			pending = append(pending, nextAddr)
			if target, ok := m.operandLiteral(addr, 1); ok {
				pending = append(pending, target)
			}

		default:
			// straight-line
			pending = append(pending, nextAddr)
		}
	}

	addrs := make([]uint16, 0, len(completed))
	for a := range completed {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	lines := make([]string, 0, len(addrs)+1)
	for i, a := range addrs {
		entry := completed[a]
		if i > 0 {
			prev := completed[addrs[i-1]]
			if prev.next != a {
				lines = append(lines, "...")
			}
		}
		lines = append(lines, entry.line)
	}
	return lines
}
