package vm

import "fmt"

// Instruction is one recipe step: an opcode and its operand record.
//
// Args must be the record type matching Op (LoadConst for OpLoadConst, and
// so on). An Instruction whose Args are nil or of the wrong type executes
// as a no-op.
type Instruction struct {
	Op   Opcode
	Args any
}

// Program is an ordered instruction chain. The interpreter never mutates it.
type Program []Instruction

func (in Instruction) String() string {
	return fmt.Sprintf("%s %+v", in.Op, in.Args)
}

// ---------------------------------------------------------------------------
// Operand records. Every int field is a register index unless noted.
// ---------------------------------------------------------------------------

// LoadConst places a literal in Dest. Value is the literal itself and must
// be an Int or String.
type LoadConst struct {
	Dest  int
	Value Value
}

// FsCreate creates Path as a directory when Type holds "dir", else a file.
type FsCreate struct{ Dest, Path, Type int }

// FsDelete removes Path recursively.
type FsDelete struct{ Dest, Path int }

// FsCopy copies Src to Dst.
type FsCopy struct{ Dest, Src, Dst int }

// FsMove renames Src to Dst, copying across devices.
type FsMove struct{ Dest, Src, Dst int }

// FsWrite writes Content to Path using the fopen-style Mode string.
type FsWrite struct{ Dest, Path, Content, Mode int }

// FsRead loads the contents of Path.
type FsRead struct{ Dest, Path int }

// FsUnpack extracts the archive in TarPath into the directory held in Dest.
// Dest names an input register here; there is no result.
type FsUnpack struct{ TarPath, Dest int }

// FsHash digests the contents of Path.
type FsHash struct{ Dest, Path int }

// FsList lists the entries of the directory in Path.
type FsList struct{ Dest, Path int }

// Eq compares Lhs and Rhs.
type Eq struct{ Dest, Lhs, Rhs int }

// Not negates Src.
type Not struct{ Dest, Src int }

// And is the logical conjunction of Lhs and Rhs.
type And struct{ Dest, Lhs, Rhs int }

// Or is the logical disjunction of Lhs and Rhs.
type Or struct{ Dest, Lhs, Rhs int }

// IndexSelect picks the Index-th line of the newline-joined List.
type IndexSelect struct{ Dest, List, Index int }

// RandomRange draws an integer between Min and Max inclusive.
type RandomRange struct{ Dest, Min, Max int }

// PathJoin joins Base and Name with a single slash.
type PathJoin struct{ Dest, Base, Name int }

// RandomWalk descends from Root through random subdirectories.
type RandomWalk struct{ Dest, Root, Depth int }

// DirContains tests whether every entry under A also exists under B.
type DirContains struct{ Dest, A, B int }

// RandSeed reseeds the shared generator. Seed is a literal.
type RandSeed struct{ Seed uint32 }

// Report emits the listed registers, in order. Regs are register indices.
type Report struct{ Regs []int }

// Return finishes the program. Value is a literal completion value.
type Return struct{ Value int }
