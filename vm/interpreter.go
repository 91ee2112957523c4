package vm

import (
	"fmt"
	"strings"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("taskd.vm")

// Interpreter executes recipe programs against a register file.
//
// An Interpreter holds no per-run state and may be reused, but a single
// register file must not be driven by two Runs at once.
type Interpreter struct {
	caps Capabilities
}

// NewInterpreter creates an interpreter backed by caps.
func NewInterpreter(caps Capabilities) *Interpreter {
	return &Interpreter{caps: caps}
}

// Run walks prog from the first instruction and returns its completion
// value: the literal of the first RETURN reached, or 0 if the program runs
// off the end.
//
// A malformed instruction never aborts the program. Out-of-range register
// indices make it a no-op; operands of the wrong kind store a falsy result
// in the destination. sink may be nil, in which case REPORT is skipped.
func (i *Interpreter) Run(prog Program, regs RegisterFile, sink ReportSink) int {
	for pc := range prog {
		if done, value := i.step(prog[pc], regs, sink); done {
			return value
		}
	}
	return 0
}

// step executes one instruction, recovering from panics raised inside a
// capability so that they degrade like any other failure.
func (i *Interpreter) step(in Instruction, regs RegisterFile, sink ReportSink) (done bool, value int) {
	defer func() {
		if r := recover(); r != nil {
			log.Warningf("%s panicked: %v", in.Op, r)
			if dest, ok := destOf(in); ok {
				regs.Set(dest, failResult(in.Op))
			}
			done, value = false, 0
		}
	}()
	return i.exec(in, regs, sink)
}

func (i *Interpreter) exec(in Instruction, regs RegisterFile, sink ReportSink) (bool, int) {
	switch in.Op {
	case OpLoadConst:
		a, ok := in.Args.(LoadConst)
		if !ok || !ValidRegister(a.Dest) {
			return skip(in, "bad operands")
		}
		regs.Set(a.Dest, a.Value)

	case OpFsCreate:
		a, ok := in.Args.(FsCreate)
		if !ok || !valid(a.Dest, a.Path, a.Type) {
			return skip(in, "bad operands")
		}
		p, okP := str(regs, a.Path)
		t, okT := str(regs, a.Type)
		regs.Set(a.Dest, Bool(okP && okT && i.caps.Create(p, t)))

	case OpFsDelete:
		a, ok := in.Args.(FsDelete)
		if !ok || !valid(a.Dest, a.Path) {
			return skip(in, "bad operands")
		}
		p, okP := str(regs, a.Path)
		regs.Set(a.Dest, Bool(okP && i.caps.Delete(p)))

	case OpFsCopy:
		a, ok := in.Args.(FsCopy)
		if !ok || !valid(a.Dest, a.Src, a.Dst) {
			return skip(in, "bad operands")
		}
		s, okS := str(regs, a.Src)
		d, okD := str(regs, a.Dst)
		regs.Set(a.Dest, Bool(okS && okD && i.caps.Copy(s, d)))

	case OpFsMove:
		a, ok := in.Args.(FsMove)
		if !ok || !valid(a.Dest, a.Src, a.Dst) {
			return skip(in, "bad operands")
		}
		s, okS := str(regs, a.Src)
		d, okD := str(regs, a.Dst)
		regs.Set(a.Dest, Bool(okS && okD && i.caps.Move(s, d)))

	case OpFsWrite:
		a, ok := in.Args.(FsWrite)
		if !ok || !valid(a.Dest, a.Path, a.Content, a.Mode) {
			return skip(in, "bad operands")
		}
		p, okP := str(regs, a.Path)
		c, okC := str(regs, a.Content)
		m, okM := str(regs, a.Mode)
		regs.Set(a.Dest, Bool(okP && okC && okM && i.caps.Write(p, c, m)))

	case OpFsRead:
		a, ok := in.Args.(FsRead)
		if !ok || !valid(a.Dest, a.Path) {
			return skip(in, "bad operands")
		}
		result := Empty
		if p, ok := str(regs, a.Path); ok {
			if data, ok := i.caps.Read(p); ok {
				result = String(string(data))
			}
		}
		regs.Set(a.Dest, result)

	case OpFsUnpack:
		a, ok := in.Args.(FsUnpack)
		if !ok || !valid(a.TarPath, a.Dest) {
			return skip(in, "bad operands")
		}
		archive, okA := str(regs, a.TarPath)
		dir, okD := str(regs, a.Dest)
		if okA && okD && !i.caps.Unpack(archive, dir) {
			log.Debugf("unpack %s into %s failed", archive, dir)
		}

	case OpFsHash:
		a, ok := in.Args.(FsHash)
		if !ok || !valid(a.Dest, a.Path) {
			return skip(in, "bad operands")
		}
		result := Empty
		if p, ok := str(regs, a.Path); ok {
			if h, ok := i.caps.Hash(p); ok {
				result = String(h)
			}
		}
		regs.Set(a.Dest, result)

	case OpFsList:
		a, ok := in.Args.(FsList)
		if !ok || !valid(a.Dest, a.Path) {
			return skip(in, "bad operands")
		}
		result := Empty
		if p, ok := str(regs, a.Path); ok {
			if names, ok := i.caps.List(p); ok {
				result = String(names)
			}
		}
		regs.Set(a.Dest, result)

	case OpEq:
		a, ok := in.Args.(Eq)
		if !ok || !valid(a.Dest, a.Lhs, a.Rhs) {
			return skip(in, "bad operands")
		}
		l, _ := regs.Get(a.Lhs)
		r, _ := regs.Get(a.Rhs)
		regs.Set(a.Dest, Bool(l.Equal(r)))

	case OpNot:
		a, ok := in.Args.(Not)
		if !ok || !valid(a.Dest, a.Src) {
			return skip(in, "bad operands")
		}
		v, _ := regs.Get(a.Src)
		regs.Set(a.Dest, Bool(!v.Truthy()))

	case OpAnd:
		a, ok := in.Args.(And)
		if !ok || !valid(a.Dest, a.Lhs, a.Rhs) {
			return skip(in, "bad operands")
		}
		l, _ := regs.Get(a.Lhs)
		r, _ := regs.Get(a.Rhs)
		regs.Set(a.Dest, Bool(l.Truthy() && r.Truthy()))

	case OpOr:
		a, ok := in.Args.(Or)
		if !ok || !valid(a.Dest, a.Lhs, a.Rhs) {
			return skip(in, "bad operands")
		}
		l, _ := regs.Get(a.Lhs)
		r, _ := regs.Get(a.Rhs)
		regs.Set(a.Dest, Bool(l.Truthy() || r.Truthy()))

	case OpIndexSelect:
		a, ok := in.Args.(IndexSelect)
		if !ok || !valid(a.Dest, a.List, a.Index) {
			return skip(in, "bad operands")
		}
		result := Empty
		list, okL := str(regs, a.List)
		idx, okI := integer(regs, a.Index)
		if okL && okI {
			if item, ok := selectLine(list, idx); ok {
				result = String(item)
			}
		}
		regs.Set(a.Dest, result)

	case OpRandomRange:
		a, ok := in.Args.(RandomRange)
		if !ok || !valid(a.Dest, a.Min, a.Max) {
			return skip(in, "bad operands")
		}
		result := Empty
		lo, okLo := integer(regs, a.Min)
		hi, okHi := integer(regs, a.Max)
		if okLo && okHi {
			result = Int(i.caps.RandomRange(lo, hi))
		}
		regs.Set(a.Dest, result)

	case OpPathJoin:
		a, ok := in.Args.(PathJoin)
		if !ok || !valid(a.Dest, a.Base, a.Name) {
			return skip(in, "bad operands")
		}
		result := Empty
		base, okB := str(regs, a.Base)
		name, okN := str(regs, a.Name)
		if okB && okN {
			result = String(JoinPath(base, name))
		}
		regs.Set(a.Dest, result)

	case OpRandomWalk:
		a, ok := in.Args.(RandomWalk)
		if !ok || !valid(a.Dest, a.Root, a.Depth) {
			return skip(in, "bad operands")
		}
		result := Empty
		root, okR := str(regs, a.Root)
		depth, okD := integer(regs, a.Depth)
		if okR && okD {
			if p, ok := i.caps.RandomWalk(root, depth); ok {
				result = String(p)
			}
		}
		regs.Set(a.Dest, result)

	case OpDirContains:
		a, ok := in.Args.(DirContains)
		if !ok || !valid(a.Dest, a.A, a.B) {
			return skip(in, "bad operands")
		}
		da, okA := str(regs, a.A)
		db, okB := str(regs, a.B)
		regs.Set(a.Dest, Bool(okA && okB && i.caps.DirContains(da, db)))

	case OpRandSeed:
		a, ok := in.Args.(RandSeed)
		if !ok {
			return skip(in, "bad operands")
		}
		i.caps.Seed(a.Seed)

	case OpReport:
		a, ok := in.Args.(Report)
		if !ok || len(a.Regs) == 0 || len(a.Regs) > NumRegisters || !valid(a.Regs...) {
			return skip(in, "bad operands")
		}
		if sink == nil {
			return false, 0
		}
		values := make([]Value, len(a.Regs))
		for n, idx := range a.Regs {
			values[n], _ = regs.Get(idx)
		}
		sink(values)

	case OpReturn:
		a, ok := in.Args.(Return)
		if !ok {
			return skip(in, "bad operands")
		}
		return true, a.Value

	default:
		return skip(in, "unknown opcode")
	}
	return false, 0
}

// JoinPath joins base and name with exactly one slash between them.
// An empty base yields name unchanged.
func JoinPath(base, name string) string {
	if base == "" {
		return name
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(name, "/")
}

// selectLine returns the idx-th element of a newline-joined list.
// A trailing newline does not introduce an extra empty element.
func selectLine(list string, idx int64) (string, bool) {
	if idx < 0 {
		return "", false
	}
	rest := list
	for ; idx > 0; idx-- {
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return "", false
		}
		rest = rest[nl+1:]
	}
	if rest == "" {
		return "", false
	}
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	return rest, true
}

func valid(idx ...int) bool {
	for _, n := range idx {
		if !ValidRegister(n) {
			return false
		}
	}
	return true
}

func str(regs RegisterFile, idx int) (string, bool) {
	v, _ := regs.Get(idx)
	return v.AsString()
}

func integer(regs RegisterFile, idx int) (int64, bool) {
	v, _ := regs.Get(idx)
	return v.AsInt()
}

func skip(in Instruction, reason string) (bool, int) {
	log.Debugf("skipping %s: %s", in.Op, reason)
	return false, 0
}

// destOf returns the result register of in, if it has one.
func destOf(in Instruction) (int, bool) {
	var dest int
	switch a := in.Args.(type) {
	case LoadConst:
		dest = a.Dest
	case FsCreate:
		dest = a.Dest
	case FsDelete:
		dest = a.Dest
	case FsCopy:
		dest = a.Dest
	case FsMove:
		dest = a.Dest
	case FsWrite:
		dest = a.Dest
	case FsRead:
		dest = a.Dest
	case FsHash:
		dest = a.Dest
	case FsList:
		dest = a.Dest
	case Eq:
		dest = a.Dest
	case Not:
		dest = a.Dest
	case And:
		dest = a.Dest
	case Or:
		dest = a.Dest
	case IndexSelect:
		dest = a.Dest
	case RandomRange:
		dest = a.Dest
	case PathJoin:
		dest = a.Dest
	case RandomWalk:
		dest = a.Dest
	case DirContains:
		dest = a.Dest
	default:
		return 0, false
	}
	return dest, ValidRegister(dest)
}

// failResult is the value an opcode stores when it cannot produce a result.
func failResult(op Opcode) Value {
	switch op {
	case OpFsCreate, OpFsDelete, OpFsCopy, OpFsMove, OpFsWrite,
		OpEq, OpNot, OpAnd, OpOr, OpDirContains:
		return Bool(false)
	}
	return Empty
}

// Disassemble renders prog one instruction per line.
func Disassemble(prog Program) string {
	var sb strings.Builder
	for pc, in := range prog {
		fmt.Fprintf(&sb, "%04d %v\n", pc, in)
	}
	return sb.String()
}
