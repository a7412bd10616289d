package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/andrej220/clusterexec/internal/lg"
	"github.com/andrej220/clusterexec/pkg/command"
	"github.com/andrej220/clusterexec/pkg/executor"
	"golang.org/x/sync/errgroup"
)

const DefaultWorkers = 16

var ErrPoolDrained = errors.New("worker pool is drained, command rejected")

// Resolver picks the execution context of a command.
type Resolver interface {
	For(cmd *command.Command) executor.ExecutionContext
}

// Pool runs submitted commands on a fixed number of workers. The queue, the
// finished commands and the recorded failures are the only state workers
// share. Finished commands are held until AwaitAll or Completed takes them,
// unless an OnComplete callback is set: then the callback owns them and the
// pool keeps nothing.
type Pool struct {
	ctx        context.Context
	logger     lg.Logger
	resolver   Resolver
	onComplete func(*command.Command)
	maxWorkers int

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []*command.Command
	completed []*command.Command
	failures  []error
	pending   int // submitted and not yet terminal or discarded
	drained   bool

	activeWorkers int32
	workers       errgroup.Group
	drainOnce     sync.Once
}

type Option func(*Pool)

// WithResolver replaces the default executor.Resolver.
func WithResolver(r Resolver) Option {
	return func(p *Pool) { p.resolver = r }
}

func WithLogger(l lg.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithOnComplete registers a callback run by the worker right after a
// command reaches its terminal state. The command is handed off to fn:
// AwaitAll, Completed and CheckResults never see it.
func WithOnComplete(fn func(*command.Command)) Option {
	return func(p *Pool) { p.onComplete = fn }
}

// NewPool starts maxWorkers workers. ctx is handed to every execution; it is
// not cancelled by Drain.
func NewPool(ctx context.Context, maxWorkers int, opts ...Option) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = DefaultWorkers
	}
	p := &Pool{
		ctx:        ctx,
		logger:     lg.FromContext(ctx),
		resolver:   executor.NewResolver(),
		maxWorkers: maxWorkers,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ctx = lg.Attach(ctx, p.logger)
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < maxWorkers; i++ {
		id := i
		p.workers.Go(func() error {
			p.worker(id)
			return nil
		})
	}
	return p
}

// Submit queues cmd. It never blocks on running work.
func (p *Pool) Submit(cmd *command.Command) error {
	if cmd == nil {
		return fmt.Errorf("submit: nil command")
	}
	if st := cmd.State(); st != command.NotStarted {
		return &command.InvalidStateError{Op: "submit", State: st}
	}

	p.mu.Lock()
	if p.drained {
		p.mu.Unlock()
		p.logger.Info("Worker pool is drained, command rejected", lg.Stringer("id", cmd.ID))
		return ErrPoolDrained
	}
	p.queue = append(p.queue, cmd)
	p.pending++
	p.cond.Signal()
	p.mu.Unlock()

	p.logger.Debug("Command submitted", lg.String("cmd", cmd.Name), lg.Stringer("id", cmd.ID), lg.String("host", cmd.Host()))
	return nil
}

func (p *Pool) worker(id int) {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.drained {
			p.cond.Wait()
		}
		if p.drained {
			p.mu.Unlock()
			return
		}
		cmd := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.execute(id, cmd)
	}
}

func (p *Pool) execute(id int, cmd *command.Command) {
	active := atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)

	logger := p.logger.With(lg.Int("worker", id), lg.Stringer("id", cmd.ID))
	logger.Debug("Worker started", lg.String("cmd", cmd.Name), lg.Int32("workers", active))

	err := p.safeExecute(cmd)
	if !cmd.State().Terminal() {
		// someone else started it, it never ran here
		logger.Error("Command not run", lg.Err(err))
		p.finish(nil)
		return
	}
	if err != nil {
		logger.Info("Worker finished with failure", lg.Err(err))
	} else {
		logger.Debug("Worker finished")
	}
	if p.onComplete != nil {
		p.onComplete(cmd)
	}
	p.finish(cmd)
}

func (p *Pool) safeExecute(cmd *command.Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("execution panicked: %v", r)
			if cmd.State() == command.Running {
				_ = cmd.Finish(command.Result{ExitCode: -1}, err)
			}
		}
	}()
	return p.resolver.For(cmd).Execute(p.ctx, cmd)
}

func (p *Pool) finish(cmd *command.Command) {
	p.mu.Lock()
	if cmd != nil && p.onComplete == nil {
		p.completed = append(p.completed, cmd)
		if !cmd.WasSuccessful() {
			p.failures = append(p.failures, cmd.Validate(0))
		}
	}
	p.pending--
	p.cond.Broadcast()
	p.mu.Unlock()
}

// AwaitAll blocks until every submitted command is terminal (or was
// discarded by Drain) and hands back the terminal commands collected so far.
// The pool keeps no reference to the returned commands.
func (p *Pool) AwaitAll() []*command.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending > 0 {
		p.cond.Wait()
	}
	return p.takeCompletedLocked()
}

// Completed hands back the commands that finished since the last call,
// without waiting.
func (p *Pool) Completed() []*command.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.takeCompletedLocked()
}

func (p *Pool) takeCompletedLocked() []*command.Command {
	out := p.completed
	p.completed = nil
	if out == nil {
		out = []*command.Command{}
	}
	return out
}

// CheckResults waits like AwaitAll and reports every command that finished
// unsuccessfully since the pool started, whether or not AwaitAll or
// Completed has taken it since. It does not take any command itself.
func (p *Pool) CheckResults() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending > 0 {
		p.cond.Wait()
	}
	return errors.Join(p.failures...)
}

// Drain stops accepting commands, discards the ones still queued, waits for
// the running ones to finish on their own and stops the workers. The
// discarded commands are returned untouched. Later calls return nil.
func (p *Pool) Drain() []*command.Command {
	var discarded []*command.Command
	p.drainOnce.Do(func() {
		p.mu.Lock()
		p.drained = true
		discarded = p.queue
		p.queue = nil
		p.pending -= len(discarded)
		p.cond.Broadcast()
		p.mu.Unlock()

		p.logger.Info("Draining worker pool", lg.Int("discarded", len(discarded)), lg.Int32("running", p.ActiveWorkers()))
		_ = p.workers.Wait()
	})
	return discarded
}

// IsDone reports whether nothing is queued or running.
func (p *Pool) IsDone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending == 0
}

func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

func (p *Pool) ActiveWorkers() int32 {
	return atomic.LoadInt32(&p.activeWorkers)
}

func (p *Pool) MaxWorkers() int {
	return p.maxWorkers
}
