package vm

import "fmt"

// Opcode identifies a recipe instruction.
type Opcode uint8

const (
	// ========================================================================
	// Constants
	// ========================================================================

	OpLoadConst Opcode = iota // dest <- literal

	// ========================================================================
	// Filesystem
	// ========================================================================

	OpFsCreate // dest <- create(path, type)
	OpFsDelete // dest <- delete(path), recursive
	OpFsCopy   // dest <- copy(src, dst)
	OpFsMove   // dest <- move(src, dst)
	OpFsWrite  // dest <- write(path, content, mode)
	OpFsRead   // dest <- contents(path) or Empty
	OpFsUnpack // unpack(tar_path, dest); no result register
	OpFsHash   // dest <- hex digest(path)
	OpFsList   // dest <- newline-joined entries(path)

	// ========================================================================
	// Logic
	// ========================================================================

	OpEq  // dest <- lhs == rhs
	OpNot // dest <- !truthy(src)
	OpAnd // dest <- truthy(lhs) && truthy(rhs)
	OpOr  // dest <- truthy(lhs) || truthy(rhs)

	// ========================================================================
	// Lists, paths, randomness
	// ========================================================================

	OpIndexSelect // dest <- list[index] or Empty
	OpRandomRange // dest <- uniform in [min, max]
	OpPathJoin    // dest <- base + "/" + name
	OpRandomWalk  // dest <- random descent from root, up to depth hops
	OpDirContains // dest <- every entry of a exists under b
	OpRandSeed    // reseed the shared generator

	// ========================================================================
	// Control and reporting
	// ========================================================================

	OpReport // emit the listed registers to the report sink
	OpReturn // stop with a completion value

	opcodeCount
)

// opcodeNames holds the bare opcode names. The wire form adds wirePrefix.
var opcodeNames = [opcodeCount]string{
	OpLoadConst:   "LOAD_CONST",
	OpFsCreate:    "FS_CREATE",
	OpFsDelete:    "FS_DELETE",
	OpFsCopy:      "FS_COPY",
	OpFsMove:      "FS_MOVE",
	OpFsWrite:     "FS_WRITE",
	OpFsRead:      "FS_READ",
	OpFsUnpack:    "FS_UNPACK",
	OpFsHash:      "FS_HASH",
	OpFsList:      "FS_LIST",
	OpEq:          "EQ",
	OpNot:         "NOT",
	OpAnd:         "AND",
	OpOr:          "OR",
	OpIndexSelect: "INDEX_SELECT",
	OpRandomRange: "RANDOM_RANGE",
	OpPathJoin:    "PATH_JOIN",
	OpRandomWalk:  "RANDOM_WALK",
	OpDirContains: "DIR_CONTAINS",
	OpRandSeed:    "RAND_SEED",
	OpReport:      "REPORT",
	OpReturn:      "RETURN",
}

const wirePrefix = "SM_OP_"

var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, 2*len(opcodeNames))
	for op, name := range opcodeNames {
		m[name] = Opcode(op)
		m[wirePrefix+name] = Opcode(op)
	}
	return m
}()

// LookupOpcode resolves a wire opcode name. Both "SM_OP_FS_READ" and
// "FS_READ" are accepted; matching is case-sensitive.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool { return op < opcodeCount }

// Name returns the bare opcode name, e.g. "FS_READ".
func (op Opcode) Name() string {
	if !op.Valid() {
		return fmt.Sprintf("OP_%d", uint8(op))
	}
	return opcodeNames[op]
}

// WireName returns the opcode name as it appears in recipes.
func (op Opcode) WireName() string { return wirePrefix + op.Name() }

func (op Opcode) String() string { return op.Name() }
