package vm

// NumRegisters is the fixed width of the register file.
const NumRegisters = 8

// ValidRegister reports whether idx addresses a register.
func ValidRegister(idx int) bool { return idx >= 0 && idx < NumRegisters }

// RegisterFile is the storage the interpreter reads and writes.
//
// Implementations must treat out-of-range indices as a no-op: Get returns
// (Empty, false) and Set does nothing.
type RegisterFile interface {
	Get(idx int) (Value, bool)
	Set(idx int, v Value)
}

// Registers is a plain fixed-width register file. It is not safe for
// concurrent use; the agent wraps it with its own lock.
type Registers [NumRegisters]Value

// NewRegisters creates a register file with every register Empty.
func NewRegisters() *Registers {
	return &Registers{}
}

// Get returns the value in register idx.
func (r *Registers) Get(idx int) (Value, bool) {
	if !ValidRegister(idx) {
		return Empty, false
	}
	return r[idx], true
}

// Set stores v in register idx, releasing whatever was there.
func (r *Registers) Set(idx int, v Value) {
	if !ValidRegister(idx) {
		return
	}
	r[idx] = v
}

// Snapshot returns a copy of the register contents.
func (r *Registers) Snapshot() [NumRegisters]Value {
	return *r
}
