package vm

import "testing"

func assert(t *testing.T, cond bool, format string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestOpcodeStringKnown(t *testing.T) {
	cases := map[Opcode]string{
		OpHalt: "halt",
		OpAdd:  "add",
		OpRet:  "ret",
		OpNoop: "noop",
	}
	for op, want := range cases {
		assert(t, op.String() == want, "opcode %d: got %q, want %q", op, op.String(), want)
	}
}

func TestOpcodeStringUnknown(t *testing.T) {
	op := Opcode(999)
	assert(t, op.String() == "?unknown?", "expected placeholder, got %q", op.String())
	assert(t, !op.Valid(), "opcode 999 should not be valid")
	assert(t, op.Arity() == -1, "unknown opcode arity should be -1, got %d", op.Arity())
}

func TestOpcodeArityAndLen(t *testing.T) {
	cases := []struct {
		op       Opcode
		arity    int
		totalLen uint16
	}{
		{OpHalt, 0, 1},
		{OpSet, 2, 3},
		{OpPush, 1, 2},
		{OpEq, 3, 4},
		{OpNot, 2, 3},
		{OpNoop, 0, 1},
	}
	for _, c := range cases {
		assert(t, c.op.Arity() == c.arity, "%s: arity got %d want %d", c.op, c.op.Arity(), c.arity)
		assert(t, c.op.Len() == c.totalLen, "%s: len got %d want %d", c.op, c.op.Len(), c.totalLen)
	}
}

func TestOpcodeIsStoreOperand(t *testing.T) {
	assert(t, OpSet.IsStoreOperand(0), "set's operand 0 must be a store target")
	assert(t, !OpSet.IsStoreOperand(1), "set's operand 1 is a value, not a store target")
	assert(t, OpAdd.IsStoreOperand(0), "add's operand 0 must be a store target")
	assert(t, !OpAdd.IsStoreOperand(1) && !OpAdd.IsStoreOperand(2), "add's operands 1,2 are values")
	assert(t, !OpJmp.IsStoreOperand(0), "jmp has no store operand")
}

func TestOpcodeBranchClassification(t *testing.T) {
	assert(t, OpJmp.branchesUnconditionally(), "jmp branches unconditionally")
	assert(t, OpRet.branchesUnconditionally(), "ret branches unconditionally")
	assert(t, OpHalt.branchesUnconditionally(), "halt branches unconditionally")
	assert(t, OpJt.branchesConditionally(), "jt branches conditionally")
	assert(t, OpJf.branchesConditionally(), "jf branches conditionally")
	assert(t, !OpAdd.branchesUnconditionally() && !OpAdd.branchesConditionally(), "add is straight-line")
}
