package app

import (
	"context"
	"sync"

	"potamesh/internal/runtime/supervisor"
	logx "potamesh/pkg/logx"
)

// Task is one long-running member of a Group.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
	// Restart runs the task under GoRestart with RestartOpts.
	Restart     bool
	RestartOpts []supervisor.RestartOption
}

// Group starts a fixed set of tasks under one supervisor and stops them together.
// Start and Stop are idempotent; Stop before Start is a no-op.
type Group struct {
	log logx.Logger

	mu      sync.Mutex
	tasks   []Task
	sup     *supervisor.Supervisor
	stopped bool
}

func NewGroup(log logx.Logger, tasks ...Task) *Group {
	return &Group{log: log, tasks: tasks}
}

// Add registers a task. Tasks added after Start are ignored.
func (g *Group) Add(t Task) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sup != nil {
		g.log.Warn("task added after start; ignored", logx.String("task", t.Name))
		return
	}
	g.tasks = append(g.tasks, t)
}

// Start launches every task and returns immediately. The first task error
// cancels the whole group.
func (g *Group) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sup != nil || g.stopped {
		return
	}
	g.sup = supervisor.New(ctx, supervisor.WithLogger(g.log), supervisor.WithCancelOnError(true))
	for _, t := range g.tasks {
		if t.Restart {
			g.sup.GoRestart(t.Name, t.Run, t.RestartOpts...)
		} else {
			g.sup.Go(t.Name, t.Run)
		}
	}
	g.log.Debug("group started", logx.Int("tasks", len(g.tasks)))
}

// Stop cancels the group and waits for its tasks until ctx is done.
func (g *Group) Stop(ctx context.Context) error {
	g.mu.Lock()
	sup := g.sup
	already := g.stopped
	g.stopped = true
	g.mu.Unlock()
	if sup == nil || already {
		return nil
	}
	return sup.Stop(ctx)
}

// Done is closed once the group is canceled, by Stop or by a failing task.
// Before Start it returns nil, which blocks forever in a select.
func (g *Group) Done() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sup == nil {
		return nil
	}
	return g.sup.Context().Done()
}

// Err returns the first task error, if any.
func (g *Group) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sup == nil {
		return nil
	}
	return g.sup.Err()
}

func (g *Group) Counters() supervisor.Counters {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sup.Counters()
}
