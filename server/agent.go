package server

import (
	"errors"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/taskd/vm"
)

var agentLog = commonlog.GetLogger("taskd.agent")

// ErrStopped is returned by Submit once the agent has been stopped.
var ErrStopped = errors.New("server: agent stopped")

// Job is one submitted program. It completes when the program executes
// RETURN or runs off its end.
type Job struct {
	agent *Agent
	prog  vm.Program
	done  chan struct{}
	value int
}

// Wait blocks until the job has run and returns its completion value. If
// this job's completion is still pending on the agent, Wait consumes it so
// a later Agent.Wait does not return it again.
func (j *Job) Wait() int {
	<-j.done
	a := j.agent
	a.mu.Lock()
	if a.done && a.last == j {
		a.done = false
	}
	a.mu.Unlock()
	return j.value
}

// Done is closed when the job completes.
func (j *Job) Done() <-chan struct{} { return j.done }

// Agent is the long-lived execution context. It owns the register file and
// a FIFO job queue, and runs every submitted program on a single worker
// goroutine. Registers are shared by successive programs.
type Agent struct {
	interp *vm.Interpreter

	mu    sync.Mutex
	cond  *sync.Cond
	regs  *vm.Registers
	queue []*Job
	sink  vm.ReportSink

	// Most recent completion, consumed by Wait or by that job's Job.Wait.
	done  bool
	value int
	last  *Job

	stopping bool
	exited   bool
	finished chan struct{}
}

// Start creates an agent with empty registers and starts its worker.
// queueSize preallocates the job queue; it is not a limit.
func Start(caps vm.Capabilities, queueSize int) *Agent {
	if queueSize < 0 {
		queueSize = 0
	}
	a := &Agent{
		interp:   vm.NewInterpreter(caps),
		regs:     vm.NewRegisters(),
		queue:    make([]*Job, 0, queueSize),
		finished: make(chan struct{}),
	}
	a.cond = sync.NewCond(&a.mu)
	go a.loop()
	return a
}

// Submit appends prog to the queue and returns immediately. Programs run
// in submission order.
func (a *Agent) Submit(prog vm.Program) (*Job, error) {
	j := &Job{agent: a, prog: prog, done: make(chan struct{})}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopping {
		return nil, ErrStopped
	}
	a.queue = append(a.queue, j)
	a.cond.Broadcast()
	return j, nil
}

// Wait blocks until a job completes and returns its value, consuming the
// completion. It assumes a single outstanding Submit/Wait pair; callers
// that need correlation use the Job returned by Submit. Wait returns 0 if
// the agent exits with no completion pending.
func (a *Agent) Wait() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	for !a.done && !a.exited {
		a.cond.Wait()
	}
	if !a.done {
		return 0
	}
	a.done = false
	a.last = nil
	return a.value
}

// Register returns a snapshot of register idx.
func (a *Agent) Register(idx int) (vm.Value, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.regs.Get(idx)
}

// Registers returns a snapshot of the whole register file.
func (a *Agent) Registers() [vm.NumRegisters]vm.Value {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.regs.Snapshot()
}

// SetReportSink installs the callback invoked by REPORT. Set it before
// Submit and clear it after the matching Wait.
func (a *Agent) SetReportSink(sink vm.ReportSink) {
	a.mu.Lock()
	a.sink = sink
	a.mu.Unlock()
}

// ClearReportSink removes the report callback.
func (a *Agent) ClearReportSink() { a.SetReportSink(nil) }

// Stop lets the worker finish every queued job, then waits for it to exit.
// Stop is idempotent.
func (a *Agent) Stop() {
	a.mu.Lock()
	a.stopping = true
	a.cond.Broadcast()
	a.mu.Unlock()
	<-a.finished
}

// loop runs queued jobs one at a time until stopped.
func (a *Agent) loop() {
	defer close(a.finished)
	for {
		a.mu.Lock()
		for len(a.queue) == 0 && !a.stopping {
			a.cond.Wait()
		}
		if len(a.queue) == 0 {
			a.exited = true
			a.cond.Broadcast()
			a.mu.Unlock()
			return
		}
		j := a.queue[0]
		a.queue[0] = nil
		a.queue = a.queue[1:]
		a.mu.Unlock()

		value := a.interp.Run(j.prog, lockedRegisters{a}, a.report)
		agentLog.Debugf("job finished: %d instructions, value %d", len(j.prog), value)

		a.mu.Lock()
		a.done = true
		a.value = value
		a.last = j
		j.value = value
		close(j.done)
		a.cond.Broadcast()
		a.mu.Unlock()
	}
}

// report forwards a REPORT to the current sink. The sink runs without the
// lock held, so it may call Register.
func (a *Agent) report(values []vm.Value) {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	if sink != nil {
		sink(values)
	}
}

// lockedRegisters gives the interpreter access to the agent's registers
// under the agent lock.
type lockedRegisters struct{ a *Agent }

func (r lockedRegisters) Get(idx int) (vm.Value, bool) {
	r.a.mu.Lock()
	defer r.a.mu.Unlock()
	return r.a.regs.Get(idx)
}

func (r lockedRegisters) Set(idx int, v vm.Value) {
	r.a.mu.Lock()
	r.a.regs.Set(idx, v)
	r.a.mu.Unlock()
}
