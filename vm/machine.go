package vm

// MemSize is the number of 16-bit cells in the Architecture's address
// space (spec.md §3).
const MemSize = 32768

// NumRegisters is the fixed register file size (spec.md §3).
const NumRegisters = 8

// regBase is the first operand value that names a register rather than a
// literal (spec.md §3: 32768..32775 name r0..r7).
const regBase = 32768

// Machine is the Architecture: ip, 8 registers, an unbounded stack, 32768
// cells of memory, a pending-input FIFO, and the halted flag. It owns no
// debugging state of its own - tracing and breakpoints are the
// Debugger's concern (spec.md §5) so that a bare Machine is exactly the
// "strictly-defined 15-bit register/stack machine" spec.md §1 describes.
type Machine struct {
	IP        uint16
	Registers [NumRegisters]uint16
	Stack     []uint16
	Memory    [MemSize]uint16
	Input     *inputQueue
	Halted    bool
}

// NewMachine returns a freshly reset Machine with an empty stack and input
// queue. LoadProgram still needs to be called to populate memory.
func NewMachine() *Machine {
	return &Machine{Input: newInputQueue()}
}

// LoadProgram copies already-decoded 16-bit words into memory starting at
// address 0; trailing cells stay zero (spec.md §6). A program
// longer than MemSize words is an IOError.
func (m *Machine) LoadProgram(words []uint16) error {
	if len(words) > MemSize {
		return newIOError("load", "<binary>", errBinaryTooLarge)
	}
	copy(m.Memory[:], words)
	return nil
}

// RegWrite describes a register mutation performed by the instruction just
// executed, used by the execution tracer to render "old value -> new value".
type RegWrite struct {
	Index uint8
	Old   uint16
	New   uint16
}

// StepInfo captures everything about one executed instruction that a
// tracer needs to render a line, without forcing the tracer to re-decode
// the instruction itself.
type StepInfo struct {
	Addr     uint16
	Opcode   Opcode
	Raw      [3]uint16 // raw (unresolved) operand words, only the first Arity() entries are valid
	Operands [3]uint16 // resolved (register-dereferenced) operand values, parallel to Raw
	NextAddr uint16

	Output *byte     // set only for OpOut
	Reg    *RegWrite // set for any opcode that writes a register
	Pushed *uint16   // set for OpPush and OpCall (value pushed to the stack)
	Popped *uint16   // set for OpPop and OpRet (value popped from the stack)

	CondValue *uint16 // set for OpJt/OpJf: the tested value
	Taken     *bool   // set for OpJt/OpJf: whether the branch was taken
}

// fetch reads the operand word at m.IP+offset and, if it names a register,
// resolves it to the register's current value. It never advances IP.
func (m *Machine) fetch(addr uint16, offset uint16, operandIndex int) (uint16, error) {
	raw := m.Memory[uint32(addr)+uint32(offset)]
	if raw <= 32767 {
		return raw, nil
	}
	if raw < regBase+NumRegisters {
		return m.Registers[raw-regBase], nil
	}
	return 0, newDecodeError(addr, operandIndex, "operand is neither a literal nor a register")
}

// fetchRaw is like fetch but returns the unresolved word, used when the
// caller needs to know whether an operand was a literal or a register
// reference (e.g. the disassembler, and store-target validation).
func (m *Machine) fetchRaw(addr uint16, offset uint16) uint16 {
	return m.Memory[uint32(addr)+uint32(offset)]
}

// storeTarget validates and resolves a store (destination) operand: it
// must name a register, never a literal (spec.md §3, §4.1).
func (m *Machine) storeTarget(addr uint16, offset uint16, operandIndex int) (uint8, error) {
	raw := m.fetchRaw(addr, offset)
	if raw < regBase || raw >= regBase+NumRegisters {
		return 0, newDecodeError(addr, operandIndex, "store target is not a register")
	}
	return uint8(raw - regBase), nil
}

func mask15(v uint32) uint16 {
	return uint16(v & 0x7FFF)
}

// decodeOperands resolves every operand of the arity-operand instruction at
// addr: operand 0 is routed through storeTarget (and reg/haveReg is set)
// when op.IsStoreOperand(0) says it names a destination register; every
// other operand is routed through fetch into vals. This is the table-driven
// decode rule spec.md §9 asks for ("opcodes as a tagged variant with
// arity-aware decoding"), used uniformly instead of a fetch/storeTarget
// pair hand-written per opcode.
func (m *Machine) decodeOperands(addr uint16, op Opcode, arity int) (reg uint8, haveReg bool, vals [2]uint16, err error) {
	start := 0
	if arity > 0 && op.IsStoreOperand(0) {
		reg, err = m.storeTarget(addr, 1, 0)
		if err != nil {
			return 0, false, vals, err
		}
		haveReg = true
		start = 1
	}
	for i := start; i < arity; i++ {
		v, ferr := m.fetch(addr, uint16(i+1), i)
		if ferr != nil {
			return 0, false, vals, ferr
		}
		vals[i-start] = v
	}
	return reg, haveReg, vals, nil
}

// push appends a 15-bit value to the unbounded stack.
func (m *Machine) push(v uint16) {
	m.Stack = append(m.Stack, v)
}

// pop removes and returns the top of the stack, or an error if empty.
func (m *Machine) pop(addr uint16) (uint16, error) {
	n := len(m.Stack)
	if n == 0 {
		return 0, newStackUnderflow(addr)
	}
	v := m.Stack[n-1]
	m.Stack = m.Stack[:n-1]
	return v, nil
}

// Step decodes and executes exactly one instruction. It returns StepInfo
// describing what happened so a Debugger-owned tracer can render it, even
// when no tracer is attached - the caller simply discards the info.
//
// Step is a no-op once Halted is set, matching spec.md §3 ("once set, step
// is a no-op and produces no output").
func (m *Machine) Step() (*StepInfo, error) {
	if m.Halted {
		return nil, nil
	}

	addr := m.IP
	opcodeWord := m.fetchRaw(addr, 0)
	op := Opcode(opcodeWord)
	if !op.Valid() {
		return nil, newDecodeError(addr, -1, "unknown opcode")
	}

	info := &StepInfo{Addr: addr, Opcode: op}
	arity := op.Arity()
	for i := 0; i < arity; i++ {
		info.Raw[i] = m.fetchRaw(addr, uint16(i+1))
	}

	nextAddr := addr + op.Len()

	switch op {
	case OpHalt:
		m.Halted = true
		nextAddr = addr

	case OpSet:
		reg, _, vals, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		b := vals[0]
		info.Operands[1] = b
		old := m.Registers[reg]
		m.Registers[reg] = b
		info.Reg = &RegWrite{Index: reg, Old: old, New: b}

	case OpPush:
		_, _, vals, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		b := vals[0]
		info.Operands[0] = b
		m.push(b)
		info.Pushed = &b

	case OpPop:
		reg, _, _, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		v, err := m.pop(addr)
		if err != nil {
			return nil, err
		}
		old := m.Registers[reg]
		m.Registers[reg] = v
		info.Reg = &RegWrite{Index: reg, Old: old, New: v}
		info.Popped = &v

	case OpEq:
		reg, _, vals, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		b, c := vals[0], vals[1]
		info.Operands[1], info.Operands[2] = b, c
		old := m.Registers[reg]
		var result uint16
		if b == c {
			result = 1
		}
		m.Registers[reg] = result
		info.Reg = &RegWrite{Index: reg, Old: old, New: result}

	case OpGt:
		reg, _, vals, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		b, c := vals[0], vals[1]
		info.Operands[1], info.Operands[2] = b, c
		old := m.Registers[reg]
		var result uint16
		if b > c {
			result = 1
		}
		m.Registers[reg] = result
		info.Reg = &RegWrite{Index: reg, Old: old, New: result}

	case OpJmp:
		_, _, vals, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		b := vals[0]
		info.Operands[0] = b
		nextAddr = b

	case OpJt:
		_, _, vals, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		b, c := vals[0], vals[1]
		info.Operands[0], info.Operands[1] = b, c
		taken := b != 0
		info.CondValue = &b
		info.Taken = &taken
		if taken {
			nextAddr = c
		}

	case OpJf:
		_, _, vals, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		b, c := vals[0], vals[1]
		info.Operands[0], info.Operands[1] = b, c
		taken := b == 0
		info.CondValue = &b
		info.Taken = &taken
		if taken {
			nextAddr = c
		}

	case OpAdd:
		reg, _, vals, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		b, c := vals[0], vals[1]
		info.Operands[1], info.Operands[2] = b, c
		old := m.Registers[reg]
		result := mask15(uint32(b) + uint32(c))
		m.Registers[reg] = result
		info.Reg = &RegWrite{Index: reg, Old: old, New: result}

	case OpMult:
		reg, _, vals, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		b, c := vals[0], vals[1]
		info.Operands[1], info.Operands[2] = b, c
		old := m.Registers[reg]
		result := mask15(uint32(b) * uint32(c))
		m.Registers[reg] = result
		info.Reg = &RegWrite{Index: reg, Old: old, New: result}

	case OpMod:
		reg, _, vals, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		b, c := vals[0], vals[1]
		info.Operands[1], info.Operands[2] = b, c
		if c == 0 {
			return nil, newDecodeError(addr, 2, errZeroDivisor.Error())
		}
		old := m.Registers[reg]
		result := b % c
		m.Registers[reg] = result
		info.Reg = &RegWrite{Index: reg, Old: old, New: result}

	case OpAnd:
		reg, _, vals, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		b, c := vals[0], vals[1]
		info.Operands[1], info.Operands[2] = b, c
		old := m.Registers[reg]
		result := b & c
		m.Registers[reg] = result
		info.Reg = &RegWrite{Index: reg, Old: old, New: result}

	case OpOr:
		reg, _, vals, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		b, c := vals[0], vals[1]
		info.Operands[1], info.Operands[2] = b, c
		old := m.Registers[reg]
		result := b | c
		m.Registers[reg] = result
		info.Reg = &RegWrite{Index: reg, Old: old, New: result}

	case OpNot:
		reg, _, vals, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		b := vals[0]
		info.Operands[1] = b
		old := m.Registers[reg]
		result := mask15(uint32(^b))
		m.Registers[reg] = result
		info.Reg = &RegWrite{Index: reg, Old: old, New: result}

	case OpRmem:
		reg, _, vals, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		b := vals[0]
		info.Operands[1] = b
		old := m.Registers[reg]
		result := m.Memory[b]
		m.Registers[reg] = result
		info.Reg = &RegWrite{Index: reg, Old: old, New: result}

	case OpWmem:
		_, _, vals, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		a, b := vals[0], vals[1]
		info.Operands[0], info.Operands[1] = a, b
		m.Memory[a] = b

	case OpCall:
		_, _, vals, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		b := vals[0]
		info.Operands[0] = b
		ret := nextAddr
		m.push(ret)
		info.Pushed = &ret
		nextAddr = b

	case OpRet:
		v, err := m.pop(addr)
		if err != nil {
			// ret on an empty stack halts rather than erroring (spec.md §7).
			m.Halted = true
			info.NextAddr = m.IP
			return info, nil
		}
		info.Popped = &v
		nextAddr = v

	case OpOut:
		_, _, vals, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		b := vals[0]
		info.Operands[0] = b
		out := byte(b)
		info.Output = &out

	case OpIn:
		reg, _, _, err := m.decodeOperands(addr, op, arity)
		if err != nil {
			return nil, err
		}
		b, ok := m.Input.pop()
		if !ok {
			// Caller (RunUntilInput) is responsible for checking this before
			// calling Step, but guard here too in case Step is called directly.
			return nil, nil
		}
		old := m.Registers[reg]
		m.Registers[reg] = uint16(b)
		info.Reg = &RegWrite{Index: reg, Old: old, New: uint16(b)}

	case OpNoop:
		// no operation
	}

	m.IP = nextAddr
	info.NextAddr = nextAddr
	return info, nil
}

// NeedsInput reports whether the next instruction is `in` and the input
// queue is currently empty - the single suspension point (spec.md §4.1).
func (m *Machine) NeedsInput() bool {
	if m.Halted {
		return false
	}
	return Opcode(m.Memory[m.IP]) == OpIn && m.Input.empty()
}

// RunUntilInput repeatedly steps the Machine until it halts or blocks on
// an empty input queue ahead of an `in` instruction, returning the bytes
// produced by `out` along the way. stepFn, when non-nil, is invoked with
// every StepInfo - this is how a Debugger attaches tracers and breakpoint
// checks without Machine needing to know about either.
func (m *Machine) RunUntilInput(stepFn func(*StepInfo) (stop bool, err error)) ([]byte, error) {
	var out []byte
	for !m.Halted {
		if m.NeedsInput() {
			break
		}

		info, err := m.Step()
		if err != nil {
			return out, err
		}
		if info != nil && info.Output != nil {
			out = append(out, *info.Output)
		}
		if stepFn != nil {
			stop, err := stepFn(info)
			if err != nil {
				return out, err
			}
			if stop {
				break
			}
		}
	}
	return out, nil
}
