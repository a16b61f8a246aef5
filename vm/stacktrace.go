package vm

// StackTraceRow is one row of the stack trace buffer: the instruction
// pointer and opcode that triggered it, r0/r1 at that moment, the value
// pushed or popped, and a 1-relative cross-link to the matching push/call
// or pop/ret row (0 means unmatched) - spec.md §3, §4.3.
type StackTraceRow struct {
	IP       uint16
	Opcode   string
	Pushed   *uint16
	R0       uint16
	R1       uint16
	Popped   *uint16
	CrossRow int
}

// StackTracer only triggers on push, pop, call and ret (spec.md §4.3). It
// maintains an auxiliary stack of pending push/call row indices so that
// the first unmatched pop/ret pairs with the most recent unmatched
// push/call, cross-linking both rows bidirectionally.
type StackTracer struct {
	rows        []StackTraceRow
	pendingIdx  []int // 0-relative indices into rows, awaiting a pop/ret
	enabled     bool
	limit       int
	limitHit    bool
}

func NewStackTracer() *StackTracer {
	return &StackTracer{}
}

func (st *StackTracer) Enable(limit int) {
	st.enabled = true
	st.limit = limit
	st.limitHit = false
}

func (st *StackTracer) Disable() { st.enabled = false }
func (st *StackTracer) Enabled() bool { return st.enabled }

func (st *StackTracer) Clear() {
	st.rows = nil
	st.pendingIdx = nil
	st.limitHit = false
}

func (st *StackTracer) Rows() []StackTraceRow {
	return append([]StackTraceRow(nil), st.rows...)
}

// LimitExceeded reports whether the buffer just hit its configured limit,
// clearing the flag so each hit is reported once; the Debugger checks this
// after every step and, if true, enters debug mode (spec.md §4.3:
// "transfers control to the debugger").
func (st *StackTracer) LimitExceeded() bool {
	hit := st.limitHit
	st.limitHit = false
	return hit
}

// Record appends a row for info if its opcode is one of the four that
// participate in the stack trace, and resolves any cross-link.
func (st *StackTracer) Record(m *Machine, info *StepInfo) {
	if !st.enabled || info == nil {
		return
	}

	var row StackTraceRow
	switch info.Opcode {
	case OpPush:
		row = StackTraceRow{IP: info.Addr, Opcode: info.Opcode.String(), Pushed: info.Pushed}
	case OpCall:
		row = StackTraceRow{IP: info.Addr, Opcode: info.Opcode.String(), Pushed: info.Pushed}
	case OpPop:
		row = StackTraceRow{IP: info.Addr, Opcode: info.Opcode.String(), Popped: info.Popped}
	case OpRet:
		row = StackTraceRow{IP: info.Addr, Opcode: info.Opcode.String(), Popped: info.Popped}
	default:
		return
	}
	row.R0 = m.Registers[0]
	row.R1 = m.Registers[1]

	idx := len(st.rows)
	st.rows = append(st.rows, row)

	switch info.Opcode {
	case OpPush, OpCall:
		st.pendingIdx = append(st.pendingIdx, idx)
	case OpPop, OpRet:
		if n := len(st.pendingIdx); n > 0 {
			matchIdx := st.pendingIdx[n-1]
			st.pendingIdx = st.pendingIdx[:n-1]
			st.rows[idx].CrossRow = matchIdx + 1
			st.rows[matchIdx].CrossRow = idx + 1
		}
	}

	if st.limit > 0 && len(st.rows) >= st.limit {
		st.enabled = false
		st.limitHit = true
	}
}
