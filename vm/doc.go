// Package vm implements the taskd recipe interpreter.
//
// This package contains:
//   - the tagged register Value (Empty, Bool, Int, String)
//   - the fixed-width register file
//   - opcodes and their operand records
//   - the Interpreter dispatch loop
//
// Host effects go through the Capabilities interface; package fsops holds
// the real implementation.
package vm
