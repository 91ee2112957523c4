package vm

// Capabilities are the host primitives the interpreter calls out to.
//
// None of them may return an error into the interpreter: every failure is
// reported as the designated falsy result (false, or ok == false).
type Capabilities interface {
	Create(path, kind string) bool
	Delete(path string) bool
	Copy(src, dst string) bool
	Move(src, dst string) bool
	Write(path, content, mode string) bool
	Read(path string) ([]byte, bool)
	Unpack(archive, dir string) bool
	Hash(path string) (string, bool)
	List(dir string) (string, bool)
	RandomRange(min, max int64) int64
	RandomWalk(root string, depth int64) (string, bool)
	DirContains(a, b string) bool
	Seed(seed uint32)
}

// ReportSink receives the values named by a REPORT instruction, in order.
// It is called synchronously on the interpreter's goroutine.
type ReportSink func(values []Value)
