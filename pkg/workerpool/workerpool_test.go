package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andrej220/clusterexec/pkg/command"
	"github.com/andrej220/clusterexec/pkg/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeContext finishes commands with the exit code encoded in their CmdStr
// ("rc=N"), optionally holding them until release is closed.
type fakeContext struct {
	release <-chan struct{}
	running *int32
	peak    *int32
	calls   *int32
	panics  bool
}

func (f *fakeContext) Render(cmd *command.Command) string { return cmd.Render() }

func (f *fakeContext) Execute(ctx context.Context, cmd *command.Command) error {
	if err := cmd.Begin(); err != nil {
		return err
	}
	atomic.AddInt32(f.calls, 1)
	n := atomic.AddInt32(f.running, 1)
	for {
		peak := atomic.LoadInt32(f.peak)
		if n <= peak || atomic.CompareAndSwapInt32(f.peak, peak, n) {
			break
		}
	}
	if f.release != nil {
		<-f.release
	}
	atomic.AddInt32(f.running, -1)
	if f.panics {
		panic("boom")
	}

	rc := 0
	_, _ = fmt.Sscanf(cmd.CmdStr, "rc=%d", &rc)
	res := command.Result{ExitCode: rc, Rendered: cmd.Render(), Attempts: 1}
	var err error
	if rc != 0 {
		err = &executor.FatalExecutionError{Rendered: res.Rendered, Result: res, Cause: errors.New("exit status")}
	}
	return cmd.Finish(res, err)
}

type fakeResolver struct {
	release chan struct{}
	panics  bool
	running int32
	peak    int32
	calls   int32
}

func (r *fakeResolver) For(*command.Command) executor.ExecutionContext {
	return &fakeContext{release: r.release, running: &r.running, peak: &r.peak, calls: &r.calls, panics: r.panics}
}

func newCommands(n int, cmdStr string) []*command.Command {
	out := make([]*command.Command, n)
	for i := range out {
		out[i] = command.New(fmt.Sprintf("cmd-%d", i), cmdStr)
	}
	return out
}

func TestAwaitAllReturnsEveryTerminalCommand(t *testing.T) {
	r := &fakeResolver{}
	p := NewPool(context.Background(), 4, WithResolver(r))
	defer p.Drain()

	for _, cmd := range newCommands(20, "rc=0") {
		require.NoError(t, p.Submit(cmd))
	}
	done := p.AwaitAll()
	require.Len(t, done, 20)
	for _, cmd := range done {
		assert.Equal(t, command.Completed, cmd.State())
	}
	assert.True(t, p.IsDone())
	assert.Empty(t, p.AwaitAll(), "collected commands are released")
	assert.Equal(t, int32(20), atomic.LoadInt32(&r.calls))
}

func TestAtMostMaxWorkersRun(t *testing.T) {
	r := &fakeResolver{release: make(chan struct{})}
	p := NewPool(context.Background(), 3, WithResolver(r))
	defer p.Drain()

	for _, cmd := range newCommands(10, "rc=0") {
		require.NoError(t, p.Submit(cmd))
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&r.running) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), p.ActiveWorkers())
	assert.Equal(t, 10, p.Pending())
	assert.False(t, p.IsDone())

	close(r.release)
	assert.Len(t, p.AwaitAll(), 10)
	assert.LessOrEqual(t, atomic.LoadInt32(&r.peak), int32(3))
}

func TestSubmitDoesNotBlock(t *testing.T) {
	r := &fakeResolver{release: make(chan struct{})}
	p := NewPool(context.Background(), 1, WithResolver(r))

	start := time.Now()
	for _, cmd := range newCommands(100, "rc=0") {
		require.NoError(t, p.Submit(cmd))
	}
	assert.Less(t, time.Since(start), time.Second)

	close(r.release)
	p.AwaitAll()
	p.Drain()
}

func TestDrainDiscardsQueuedCommands(t *testing.T) {
	r := &fakeResolver{release: make(chan struct{})}
	p := NewPool(context.Background(), 2, WithResolver(r))

	cmds := newCommands(6, "rc=0")
	for _, cmd := range cmds {
		require.NoError(t, p.Submit(cmd))
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&r.running) == 2 }, 2*time.Second, 5*time.Millisecond)

	drained := make(chan []*command.Command)
	go func() { drained <- p.Drain() }()

	// queued commands are gone, the running ones finish on their own
	require.Eventually(t, func() bool { return p.Pending() == 2 }, 2*time.Second, 5*time.Millisecond)
	close(r.release)

	discarded := <-drained
	require.Len(t, discarded, 4)
	for _, cmd := range discarded {
		assert.Equal(t, command.NotStarted, cmd.State())
	}

	done := p.AwaitAll()
	assert.Len(t, done, 2)
	assert.True(t, p.IsDone())
	assert.Nil(t, p.Drain(), "second drain is a no-op")
}

func TestSubmitAfterDrain(t *testing.T) {
	p := NewPool(context.Background(), 1, WithResolver(&fakeResolver{}))
	p.Drain()

	cmd := command.New("late", "rc=0")
	assert.ErrorIs(t, p.Submit(cmd), ErrPoolDrained)
	assert.Equal(t, command.NotStarted, cmd.State())
	assert.Empty(t, p.AwaitAll())
}

func TestSubmitRejects(t *testing.T) {
	p := NewPool(context.Background(), 1, WithResolver(&fakeResolver{}))
	defer p.Drain()

	assert.Error(t, p.Submit(nil))

	started := command.New("started", "rc=0")
	require.NoError(t, started.Begin())
	err := p.Submit(started)
	assert.ErrorIs(t, err, command.ErrInvalidState)
	assert.Equal(t, 0, p.Pending())
}

func TestCheckResults(t *testing.T) {
	tests := []struct {
		name     string
		cmds     []string
		failures int
	}{
		{name: "all succeed", cmds: []string{"rc=0", "rc=0"}, failures: 0},
		{name: "one fails", cmds: []string{"rc=0", "rc=2"}, failures: 1},
		{name: "all fail", cmds: []string{"rc=1", "rc=255", "rc=3"}, failures: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPool(context.Background(), 2, WithResolver(&fakeResolver{}))
			defer p.Drain()
			for i, s := range tt.cmds {
				require.NoError(t, p.Submit(command.New(fmt.Sprintf("c%d", i), s)))
			}

			err := p.CheckResults()
			if tt.failures == 0 {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				var execErr *command.ExecutionError
				assert.ErrorAs(t, err, &execErr)
				assert.Len(t, err.(interface{ Unwrap() []error }).Unwrap(), tt.failures)
			}
			assert.Len(t, p.AwaitAll(), len(tt.cmds), "CheckResults keeps the commands")
		})
	}
}

func TestCheckResultsAfterAwaitAll(t *testing.T) {
	p := NewPool(context.Background(), 2, WithResolver(&fakeResolver{}))
	defer p.Drain()

	require.NoError(t, p.Submit(command.New("ok", "rc=0")))
	require.NoError(t, p.Submit(command.New("bad", "rc=3")))

	done := p.AwaitAll()
	require.Len(t, done, 2)
	assert.Empty(t, p.Completed())

	err := p.CheckResults()
	require.Error(t, err)
	var execErr *command.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "bad", execErr.Cmd.Name)
	assert.Error(t, p.CheckResults(), "failures are still reported on a second call")
}

func TestOnCompleteTakesOwnership(t *testing.T) {
	var reported int32
	p := NewPool(context.Background(), 4,
		WithResolver(&fakeResolver{}),
		WithOnComplete(func(*command.Command) { atomic.AddInt32(&reported, 1) }))
	defer p.Drain()

	for _, cmd := range newCommands(50, "rc=1") {
		require.NoError(t, p.Submit(cmd))
	}
	require.Eventually(t, p.IsDone, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(50), atomic.LoadInt32(&reported))
	assert.Empty(t, p.Completed())
	assert.Empty(t, p.AwaitAll())
	assert.NoError(t, p.CheckResults())
}

func TestOnComplete(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]command.State{}
	p := NewPool(context.Background(), 3,
		WithResolver(&fakeResolver{}),
		WithOnComplete(func(cmd *command.Command) {
			mu.Lock()
			seen[cmd.Name] = cmd.State()
			mu.Unlock()
		}))
	defer p.Drain()

	require.NoError(t, p.Submit(command.New("ok", "rc=0")))
	require.NoError(t, p.Submit(command.New("bad", "rc=4")))
	p.AwaitAll()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]command.State{"ok": command.Completed, "bad": command.Failed}, seen)
}

func TestPanickingExecutionFailsCommand(t *testing.T) {
	p := NewPool(context.Background(), 1, WithResolver(&fakeResolver{panics: true}))
	defer p.Drain()

	cmd := command.New("panics", "rc=0")
	require.NoError(t, p.Submit(cmd))
	done := p.AwaitAll()
	require.Len(t, done, 1)
	assert.Equal(t, command.Failed, cmd.State())
	assert.ErrorContains(t, cmd.Err(), "panicked")
}

func TestPoolRunsRealCommands(t *testing.T) {
	p := NewPool(context.Background(), 2)
	defer p.Drain()

	ok := command.New("echo", "echo hi")
	bad := command.New("false", "exit 7")
	require.NoError(t, p.Submit(ok))
	require.NoError(t, p.Submit(bad))
	p.AwaitAll()

	out, err := ok.Stdout()
	require.NoError(t, err)
	assert.Equal(t, "hi\n", out)
	rc, err := bad.ExitCode()
	require.NoError(t, err)
	assert.Equal(t, 7, rc)
}

func TestDefaultWorkers(t *testing.T) {
	p := NewPool(context.Background(), 0)
	defer p.Drain()
	assert.Equal(t, DefaultWorkers, p.MaxWorkers())
}
