package server

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/taskd/fsops"
	"github.com/chazu/taskd/vm"
)

func startAgent(t *testing.T, caps vm.Capabilities) *Agent {
	t.Helper()
	a := Start(caps, 4)
	t.Cleanup(a.Stop)
	return a
}

func createProg(path string, ret int) vm.Program {
	return vm.Program{
		{Op: vm.OpLoadConst, Args: vm.LoadConst{Dest: 0, Value: vm.String(path)}},
		{Op: vm.OpLoadConst, Args: vm.LoadConst{Dest: 1, Value: vm.String("file")}},
		{Op: vm.OpFsCreate, Args: vm.FsCreate{Dest: 2, Path: 0, Type: 1}},
		{Op: vm.OpReturn, Args: vm.Return{Value: ret}},
	}
}

// gatedCaps blocks Create on paths listed in gates until the gate is
// closed, and records the order of Create calls.
type gatedCaps struct {
	*fsops.Provider

	mu      sync.Mutex
	order   []string
	started chan string
	gates   map[string]chan struct{}
}

func (g *gatedCaps) Create(path, kind string) bool {
	g.mu.Lock()
	g.order = append(g.order, path)
	gate := g.gates[path]
	g.mu.Unlock()
	g.started <- path
	if gate != nil {
		<-gate
	}
	return true
}

func (g *gatedCaps) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.order...)
}

func TestAgentEndToEndCreate(t *testing.T) {
	a := startAgent(t, fsops.New(fsops.DefaultSeed))
	path := filepath.Join(t.TempDir(), "t.txt")

	_, err := a.Submit(createProg(path, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, a.Wait())

	v, ok := a.Register(2)
	require.True(t, ok)
	assert.Equal(t, vm.Bool(true), v)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
	assert.Zero(t, info.Size())
}

func TestAgentImplicitReturn(t *testing.T) {
	a := startAgent(t, fsops.New(fsops.DefaultSeed))
	job, err := a.Submit(vm.Program{
		{Op: vm.OpLoadConst, Args: vm.LoadConst{Dest: 3, Value: vm.Int(9)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, job.Wait())
	v, ok := a.Register(3)
	require.True(t, ok)
	assert.Equal(t, vm.Int(9), v)
}

func TestAgentJobWaitConsumesCompletion(t *testing.T) {
	a := startAgent(t, fsops.New(fsops.DefaultSeed))
	first, err := a.Submit(vm.Program{{Op: vm.OpReturn, Args: vm.Return{Value: 7}}})
	require.NoError(t, err)
	assert.Equal(t, 7, first.Wait())

	waited := make(chan int, 1)
	go func() { waited <- a.Wait() }()
	select {
	case v := <-waited:
		t.Fatalf("Agent.Wait returned stale completion %d", v)
	case <-time.After(50 * time.Millisecond):
	}

	_, err = a.Submit(vm.Program{{Op: vm.OpReturn, Args: vm.Return{Value: 8}}})
	require.NoError(t, err)
	assert.Equal(t, 8, <-waited)
}

func TestAgentFIFO(t *testing.T) {
	caps := &gatedCaps{
		Provider: fsops.New(fsops.DefaultSeed),
		started:  make(chan string, 2),
		gates:    map[string]chan struct{}{"a": make(chan struct{})},
	}
	a := startAgent(t, caps)

	jobs := make(chan *Job, 1)
	go func() {
		j, err := a.Submit(createProg("a", 1))
		assert.NoError(t, err)
		jobs <- j
	}()
	require.Equal(t, "a", <-caps.started)
	jobA := <-jobs

	var jobB *Job
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		j, err := a.Submit(createProg("b", 2))
		assert.NoError(t, err)
		jobB = j
	}()
	wg.Wait()

	select {
	case p := <-caps.started:
		t.Fatalf("%s started while a was running", p)
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, []string{"a"}, caps.calls())

	close(caps.gates["a"])
	require.Equal(t, "b", <-caps.started)
	select {
	case <-jobA.Done():
	default:
		t.Fatal("b started before a completed")
	}
	assert.Equal(t, 1, jobA.Wait())
	assert.Equal(t, 2, jobB.Wait())
	assert.Equal(t, []string{"a", "b"}, caps.calls())
}

func TestAgentRegistersPersist(t *testing.T) {
	a := startAgent(t, fsops.New(fsops.DefaultSeed))

	_, err := a.Submit(vm.Program{
		{Op: vm.OpLoadConst, Args: vm.LoadConst{Dest: 5, Value: vm.String("kept")}},
	})
	require.NoError(t, err)
	a.Wait()

	_, err = a.Submit(vm.Program{
		{Op: vm.OpNot, Args: vm.Not{Dest: 6, Src: 5}},
	})
	require.NoError(t, err)
	a.Wait()

	regs := a.Registers()
	assert.Equal(t, vm.String("kept"), regs[5])
	assert.Equal(t, vm.Bool(false), regs[6])

	_, ok := a.Register(vm.NumRegisters)
	assert.False(t, ok)
	_, ok = a.Register(-1)
	assert.False(t, ok)
}

func TestAgentReportSink(t *testing.T) {
	a := startAgent(t, fsops.New(fsops.DefaultSeed))
	prog := vm.Program{
		{Op: vm.OpLoadConst, Args: vm.LoadConst{Dest: 0, Value: vm.Int(4)}},
		{Op: vm.OpLoadConst, Args: vm.LoadConst{Dest: 1, Value: vm.String("x")}},
		{Op: vm.OpReport, Args: vm.Report{Regs: []int{1, 0, 7}}},
	}

	var got [][]vm.Value
	a.SetReportSink(func(values []vm.Value) {
		got = append(got, values)
		// The sink may read registers while the job runs.
		v, _ := a.Register(0)
		assert.Equal(t, vm.Int(4), v)
	})
	_, err := a.Submit(prog)
	require.NoError(t, err)
	a.Wait()
	a.ClearReportSink()

	assert.Equal(t, [][]vm.Value{{vm.String("x"), vm.Int(4), vm.Empty}}, got)

	_, err = a.Submit(prog)
	require.NoError(t, err)
	a.Wait()
	assert.Len(t, got, 1)
}

func TestAgentStopDrains(t *testing.T) {
	a := Start(fsops.New(fsops.DefaultSeed), 0)
	var jobs []*Job
	for i := 0; i < 5; i++ {
		j, err := a.Submit(vm.Program{{Op: vm.OpReturn, Args: vm.Return{Value: i}}})
		require.NoError(t, err)
		jobs = append(jobs, j)
	}
	a.Stop()

	for i, j := range jobs {
		select {
		case <-j.Done():
			assert.Equal(t, i, j.Wait())
		default:
			t.Fatalf("job %d not run before stop", i)
		}
	}

	_, err := a.Submit(vm.Program{{Op: vm.OpReturn, Args: vm.Return{Value: 1}}})
	assert.ErrorIs(t, err, ErrStopped)
	a.Stop()
}
