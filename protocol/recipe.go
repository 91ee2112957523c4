package protocol

import (
	"fmt"
	"math"

	"github.com/chazu/taskd/vm"
)

// ParseRecipe converts a decoded recipe message into a program.
//
// Records that are not objects, carry an unknown opcode, or have missing or
// mistyped operands are dropped individually; the rest of the recipe is
// kept. A message that is not an array, or yields no instructions, returns
// ErrEmptyRecipe.
func ParseRecipe(msg any) (vm.Program, error) {
	items, ok := msg.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: not an array", ErrEmptyRecipe)
	}
	var prog vm.Program
	for n, item := range items {
		in, err := parseInstruction(item)
		if err != nil {
			log.Debugf("recipe record %d dropped: %v", n, err)
			continue
		}
		prog = append(prog, in)
	}
	if len(prog) == 0 {
		return nil, ErrEmptyRecipe
	}
	return prog, nil
}

func parseInstruction(item any) (vm.Instruction, error) {
	rec, ok := item.(map[string]any)
	if !ok {
		return vm.Instruction{}, fmt.Errorf("not an object")
	}
	name, ok := rec["op"].(string)
	if !ok {
		return vm.Instruction{}, fmt.Errorf("missing op")
	}
	data, ok := rec["data"].(map[string]any)
	if !ok {
		return vm.Instruction{}, fmt.Errorf("%s: missing data", name)
	}
	op, ok := vm.LookupOpcode(name)
	if !ok {
		return vm.Instruction{}, fmt.Errorf("unknown opcode %q", name)
	}
	args, ok := parseOperands(op, data)
	if !ok {
		return vm.Instruction{}, fmt.Errorf("%s: bad operands", name)
	}
	return vm.Instruction{Op: op, Args: args}, nil
}

func parseOperands(op vm.Opcode, data map[string]any) (any, bool) {
	f := fields{data: data, ok: true}
	var args any
	switch op {
	case vm.OpLoadConst:
		a := vm.LoadConst{Dest: f.reg("dest")}
		switch v := data["value"].(type) {
		case string:
			a.Value = vm.String(v)
		default:
			n, ok := toInt(v)
			if !ok {
				return nil, false
			}
			a.Value = vm.Int(int64(clampInt(n)))
		}
		args = a
	case vm.OpFsCreate:
		args = vm.FsCreate{Dest: f.reg("dest"), Path: f.reg("path"), Type: f.reg("type")}
	case vm.OpFsDelete:
		args = vm.FsDelete{Dest: f.reg("dest"), Path: f.reg("path")}
	case vm.OpFsCopy:
		args = vm.FsCopy{Dest: f.reg("dest"), Src: f.reg("src"), Dst: f.reg("dst")}
	case vm.OpFsMove:
		args = vm.FsMove{Dest: f.reg("dest"), Src: f.reg("src"), Dst: f.reg("dst")}
	case vm.OpFsWrite:
		args = vm.FsWrite{Dest: f.reg("dest"), Path: f.reg("path"), Content: f.reg("content"), Mode: f.reg("mode")}
	case vm.OpFsRead:
		args = vm.FsRead{Dest: f.reg("dest"), Path: f.reg("path")}
	case vm.OpFsUnpack:
		args = vm.FsUnpack{TarPath: f.reg("tar_path"), Dest: f.reg("dest")}
	case vm.OpFsHash:
		args = vm.FsHash{Dest: f.reg("dest"), Path: f.reg("path")}
	case vm.OpFsList:
		args = vm.FsList{Dest: f.reg("dest"), Path: f.reg("path")}
	case vm.OpEq:
		args = vm.Eq{Dest: f.reg("dest"), Lhs: f.reg("lhs"), Rhs: f.reg("rhs")}
	case vm.OpNot:
		args = vm.Not{Dest: f.reg("dest"), Src: f.reg("src")}
	case vm.OpAnd:
		args = vm.And{Dest: f.reg("dest"), Lhs: f.reg("lhs"), Rhs: f.reg("rhs")}
	case vm.OpOr:
		args = vm.Or{Dest: f.reg("dest"), Lhs: f.reg("lhs"), Rhs: f.reg("rhs")}
	case vm.OpIndexSelect:
		args = vm.IndexSelect{Dest: f.reg("dest"), List: f.reg("list"), Index: f.reg("index")}
	case vm.OpRandomRange:
		args = vm.RandomRange{Dest: f.reg("dest"), Min: f.reg("min"), Max: f.reg("max")}
	case vm.OpPathJoin:
		args = vm.PathJoin{Dest: f.reg("dest"), Base: f.reg("base"), Name: f.reg("name")}
	case vm.OpRandomWalk:
		args = vm.RandomWalk{Dest: f.reg("dest"), Root: f.reg("root"), Depth: f.reg("depth")}
	case vm.OpDirContains:
		args = vm.DirContains{Dest: f.reg("dest"), A: f.reg("a"), B: f.reg("b")}
	case vm.OpRandSeed:
		args = vm.RandSeed{Seed: uint32(f.num("seed"))}
	case vm.OpReport:
		regs, ok := data["regs"].([]any)
		if !ok || len(regs) == 0 || len(regs) > vm.NumRegisters {
			return nil, false
		}
		a := vm.Report{Regs: make([]int, len(regs))}
		for i, r := range regs {
			n, ok := toInt(r)
			if !ok {
				return nil, false
			}
			a.Regs[i] = clampInt(n)
		}
		args = a
	case vm.OpReturn:
		args = vm.Return{Value: f.reg("value")}
	default:
		return nil, false
	}
	return args, f.ok
}

// fields extracts numeric operands, remembering whether any were missing.
type fields struct {
	data map[string]any
	ok   bool
}

func (f *fields) num(name string) int64 {
	n, ok := toInt(f.data[name])
	if !ok {
		f.ok = false
	}
	return n
}

func (f *fields) reg(name string) int { return clampInt(f.num(name)) }

// toInt accepts any decoded number. Fractions truncate toward zero and
// out-of-range values saturate.
func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		if n >= math.MaxInt64 {
			return math.MaxInt64, true
		}
		if n <= math.MinInt64 {
			return math.MinInt64, true
		}
		return int64(n), true
	case float32:
		return toInt(float64(n))
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return math.MaxInt64, true
		}
		return int64(n), true
	}
	return 0, false
}

func clampInt(n int64) int {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	if n < math.MinInt32 {
		return math.MinInt32
	}
	return int(n)
}

// EncodeRecipe renders prog in wire form. Instructions with operand
// records that do not match their opcode are omitted.
func EncodeRecipe(prog vm.Program) []any {
	out := make([]any, 0, len(prog))
	for _, in := range prog {
		op, data, ok := encodeOperands(in.Args)
		if !ok || op != in.Op {
			continue
		}
		out = append(out, map[string]any{"op": in.Op.WireName(), "data": data})
	}
	return out
}

func encodeOperands(args any) (vm.Opcode, map[string]any, bool) {
	switch a := args.(type) {
	case vm.LoadConst:
		return vm.OpLoadConst, map[string]any{"dest": a.Dest, "value": a.Value.Interface()}, true
	case vm.FsCreate:
		return vm.OpFsCreate, map[string]any{"dest": a.Dest, "path": a.Path, "type": a.Type}, true
	case vm.FsDelete:
		return vm.OpFsDelete, map[string]any{"dest": a.Dest, "path": a.Path}, true
	case vm.FsCopy:
		return vm.OpFsCopy, map[string]any{"dest": a.Dest, "src": a.Src, "dst": a.Dst}, true
	case vm.FsMove:
		return vm.OpFsMove, map[string]any{"dest": a.Dest, "src": a.Src, "dst": a.Dst}, true
	case vm.FsWrite:
		return vm.OpFsWrite, map[string]any{"dest": a.Dest, "path": a.Path, "content": a.Content, "mode": a.Mode}, true
	case vm.FsRead:
		return vm.OpFsRead, map[string]any{"dest": a.Dest, "path": a.Path}, true
	case vm.FsUnpack:
		return vm.OpFsUnpack, map[string]any{"tar_path": a.TarPath, "dest": a.Dest}, true
	case vm.FsHash:
		return vm.OpFsHash, map[string]any{"dest": a.Dest, "path": a.Path}, true
	case vm.FsList:
		return vm.OpFsList, map[string]any{"dest": a.Dest, "path": a.Path}, true
	case vm.Eq:
		return vm.OpEq, map[string]any{"dest": a.Dest, "lhs": a.Lhs, "rhs": a.Rhs}, true
	case vm.Not:
		return vm.OpNot, map[string]any{"dest": a.Dest, "src": a.Src}, true
	case vm.And:
		return vm.OpAnd, map[string]any{"dest": a.Dest, "lhs": a.Lhs, "rhs": a.Rhs}, true
	case vm.Or:
		return vm.OpOr, map[string]any{"dest": a.Dest, "lhs": a.Lhs, "rhs": a.Rhs}, true
	case vm.IndexSelect:
		return vm.OpIndexSelect, map[string]any{"dest": a.Dest, "list": a.List, "index": a.Index}, true
	case vm.RandomRange:
		return vm.OpRandomRange, map[string]any{"dest": a.Dest, "min": a.Min, "max": a.Max}, true
	case vm.PathJoin:
		return vm.OpPathJoin, map[string]any{"dest": a.Dest, "base": a.Base, "name": a.Name}, true
	case vm.RandomWalk:
		return vm.OpRandomWalk, map[string]any{"dest": a.Dest, "root": a.Root, "depth": a.Depth}, true
	case vm.DirContains:
		return vm.OpDirContains, map[string]any{"dest": a.Dest, "a": a.A, "b": a.B}, true
	case vm.RandSeed:
		return vm.OpRandSeed, map[string]any{"seed": a.Seed}, true
	case vm.Report:
		regs := make([]any, len(a.Regs))
		for i, r := range a.Regs {
			regs[i] = r
		}
		return vm.OpReport, map[string]any{"regs": regs}, true
	case vm.Return:
		return vm.OpReturn, map[string]any{"value": a.Value}, true
	}
	return 0, nil, false
}
