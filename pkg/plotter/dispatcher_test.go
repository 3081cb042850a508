package plotter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenix-pocx/phoenixd/pkg/engine"
	"github.com/phoenix-pocx/phoenixd/pkg/plan"
)

// fakeEngine records tasks and finishes when release is closed or the
// context is cancelled.
type fakeEngine struct {
	mu      sync.Mutex
	tasks   []engine.Task
	started chan struct{}
	release chan struct{}
	err     error
	panic   any
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (f *fakeEngine) Plot(ctx context.Context, task engine.Task, cb engine.Callback) error {
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()

	cb.Started(task.TotalUnits(), 0)
	cb.HashingProgress(task.TotalUnits() / 2)
	f.started <- struct{}{}

	select {
	case <-f.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	if f.panic != nil {
		panic(f.panic)
	}
	if f.err != nil {
		return f.err
	}
	cb.HashingProgress(task.TotalUnits() - task.TotalUnits()/2)
	cb.WritingProgress(task.TotalUnits())
	return nil
}

func (f *fakeEngine) lastTask() engine.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[len(f.tasks)-1]
}

func (f *fakeEngine) taskCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

// recorder is a Sink that captures notifications and the running flag at
// the moment each one arrives.
type recorder struct {
	mu         sync.Mutex
	rt         *Runtime
	notes      []Notification
	runningAt  []bool
	statusIdle []bool
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	if r.rt != nil {
		r.runningAt = append(r.runningAt, r.rt.IsRunning())
		r.statusIdle = append(r.statusIdle, r.rt.Status().State == StatusIdle)
	}
}

// waitLast blocks until the final notification of a dispatch has arrived,
// which is the last thing the background goroutine does.
func (r *recorder) waitLast(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.notes) > 0 && r.notes[len(r.notes)-1].Last()
	}, 5*time.Second, time.Millisecond)
}

func (r *recorder) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notes...)
}

func testSettings() TaskSettings {
	return TaskSettings{
		Address: "pocx1qtestaddress",
		Devices: []Device{
			{ID: "cpu", Enabled: true, Threads: 4},
			{ID: "0:1:64", Enabled: true, Threads: 8},
			{ID: "1:0", Enabled: false, Threads: 2},
			{ID: "weird", Enabled: true, Threads: 3},
		},
		Compression: 2,
		Escalation:  1,
		DirectIO:    true,
	}
}

func newTestDispatcher(t *testing.T, eng engine.Engine, settings TaskSettings) (*Dispatcher, *recorder) {
	t.Helper()
	rt := NewRuntime(nil)
	rec := &recorder{rt: rt}
	d := NewDispatcher(DispatcherConfig{
		Runtime:  rt,
		Engine:   eng,
		Settings: func() TaskSettings { return settings },
		Sink:     rec,
	})
	return d, rec
}

func waitStarted(t *testing.T, f *fakeEngine) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not start")
	}
}

func TestBuildTask_DeviceTranslation(t *testing.T) {
	task := buildTask(testSettings(), []plan.Item{plan.Plot("/mnt/a", 10, 1), plan.Resume("/mnt/b", 0, 6)})

	assert.Equal(t, "pocx1qtestaddress", task.Address)
	assert.Equal(t, 4, task.CPUThreads)
	assert.Equal(t, []string{"0:1:8", "weird"}, task.GPUs)
	assert.Equal(t, []engine.Output{{Path: "/mnt/a", Units: 10}, {Path: "/mnt/b", Units: 6}}, task.Outputs)
	assert.Equal(t, 2, task.Compression)
	assert.Equal(t, 1, task.Escalation)
	assert.True(t, task.DirectIO)
	assert.Equal(t, uint64(16), task.TotalUnits())
}

func TestBuildTask_NoCPUDevice(t *testing.T) {
	task := buildTask(TaskSettings{Address: "a", Devices: []Device{{ID: "cpu", Enabled: false, Threads: 9}}}, nil)
	assert.Equal(t, 0, task.CPUThreads)
	assert.Empty(t, task.GPUs)
}

func TestDispatcher_ExecuteItemSuccess(t *testing.T) {
	eng := newFakeEngine()
	d, rec := newTestDispatcher(t, eng, testSettings())

	ack, err := d.ExecuteItem(context.Background(), plan.Plot("/mnt/a", 10, 1))
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, 1, ack.Items)
	assert.Equal(t, uint64(10), ack.TotalUnits)
	assert.NotEmpty(t, ack.DispatchID)

	waitStarted(t, eng)
	assert.True(t, d.Runtime().IsRunning())
	st := d.Runtime().Status()
	assert.Equal(t, StatusPlotting, st.State)
	assert.Equal(t, "/mnt/a", st.FilePath)
	assert.InDelta(t, 25.0, st.Progress, 0.001)

	close(eng.release)
	rec.waitLast(t)

	notes := rec.all()
	require.Len(t, notes, 1)
	n := notes[0]
	assert.True(t, n.Success)
	assert.Equal(t, ack.DispatchID, n.DispatchID)
	assert.Equal(t, plan.ItemPlot, n.Type)
	assert.Equal(t, uint64(10), n.UnitsProduced)
	assert.Zero(t, n.BatchSize)
	assert.True(t, n.Last())
	assert.Equal(t, []bool{false}, rec.runningAt)
	assert.Equal(t, []bool{true}, rec.statusIdle)
	assert.InDelta(t, 100.0, d.Runtime().Progress().Percent, 0.001)
}

func TestDispatcher_ExecuteBatch(t *testing.T) {
	eng := newFakeEngine()
	d, rec := newTestDispatcher(t, eng, testSettings())

	items := []plan.Item{
		plan.Plot("/mnt/a", 10, 1),
		plan.Checkpoint("/mnt/a"),
		plan.Plot("/mnt/b", 20, 1),
	}
	ack, err := d.ExecuteBatch(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 2, ack.Items)
	assert.Equal(t, uint64(30), ack.TotalUnits)

	waitStarted(t, eng)
	assert.Equal(t, "/mnt/a (+1 more)", d.Runtime().Status().FilePath)
	assert.Len(t, eng.lastTask().Outputs, 2)

	close(eng.release)
	rec.waitLast(t)

	notes := rec.all()
	require.Len(t, notes, 2)
	for i, n := range notes {
		assert.True(t, n.Success)
		assert.Equal(t, 2, n.BatchSize)
		assert.Equal(t, i+1, n.Seq)
		assert.Equal(t, 2, n.Total)
	}
	assert.Equal(t, "/mnt/b", notes[1].Path)
	assert.Equal(t, []bool{false, false}, rec.runningAt)
	assert.Equal(t, 2, d.Runtime().Progress().CompletedInBatch)
}

func TestDispatcher_Rejections(t *testing.T) {
	t.Run("empty batch", func(t *testing.T) {
		d, rec := newTestDispatcher(t, newFakeEngine(), testSettings())
		_, err := d.ExecuteBatch(context.Background(), []plan.Item{plan.Checkpoint("/a")})
		assert.ErrorIs(t, err, ErrEmptyBatch)
		assert.Empty(t, rec.all())
	})

	t.Run("no address", func(t *testing.T) {
		d, _ := newTestDispatcher(t, newFakeEngine(), TaskSettings{Address: "  "})
		_, err := d.ExecuteItem(context.Background(), plan.Plot("/a", 1, 1))
		assert.ErrorIs(t, err, ErrNoAddress)
		_, err = d.ExecuteBatch(context.Background(), []plan.Item{plan.Plot("/a", 1, 1)})
		assert.ErrorIs(t, err, ErrNoAddress)
		assert.False(t, d.Runtime().IsRunning())
	})

	t.Run("already running leaves state untouched", func(t *testing.T) {
		eng := newFakeEngine()
		d, rec := newTestDispatcher(t, eng, testSettings())
		rt := d.Runtime()
		rt.SetPlan(scenarioPlan())
		rt.AdvanceIndex()

		_, err := d.ExecuteItem(context.Background(), plan.Plot("/mnt/a", 10, 1))
		require.NoError(t, err)
		waitStarted(t, eng)
		before := rt.State()

		_, err = d.ExecuteItem(context.Background(), plan.Plot("/mnt/x", 99, 9))
		assert.ErrorIs(t, err, ErrAlreadyRunning)
		assert.True(t, IsRejection(err))
		_, err = d.ExecuteBatch(context.Background(), []plan.Item{plan.Plot("/mnt/x", 99, 9)})
		assert.ErrorIs(t, err, ErrAlreadyRunning)
		_, err = d.ExecuteItem(context.Background(), plan.Checkpoint("/mnt/x"))
		assert.ErrorIs(t, err, ErrAlreadyRunning)

		after := rt.State()
		assert.Equal(t, before.Plan, after.Plan)
		assert.Equal(t, before.CurrentIndex, after.CurrentIndex)
		assert.Equal(t, before.Progress.TotalUnits, after.Progress.TotalUnits)
		assert.Equal(t, 1, eng.taskCount())

		close(eng.release)
		rec.waitLast(t)
		assert.Len(t, rec.all(), 1)
	})
}

func TestDispatcher_ResumeWithoutTempFile(t *testing.T) {
	eng := newFakeEngine()
	d, rec := newTestDispatcher(t, eng, testSettings())

	_, err := d.ExecuteItem(context.Background(), plan.Resume(t.TempDir(), 0, 5))
	require.Error(t, err)
	assert.True(t, IsResumeError(err))
	assert.ErrorIs(t, err, ErrResumeTargetNotFound)
	assert.False(t, d.Runtime().IsRunning())
	assert.Equal(t, 0, eng.taskCount())
	assert.Empty(t, rec.all())
	assert.Equal(t, StatusError, d.Runtime().Status().State)
}

func TestDispatcher_ResumeInvalidSeed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "addr_abcd_5_1.tmp"), nil, 0o644))

	d, _ := newTestDispatcher(t, newFakeEngine(), testSettings())
	_, err := d.ExecuteItem(context.Background(), plan.Resume(dir, 0, 5))
	assert.ErrorIs(t, err, ErrResumeSeedInvalid)
}

func TestDispatcher_ResumeCarriesSeed(t *testing.T) {
	dir := t.TempDir()
	seed := strings.Repeat("0f", 32)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "addr_"+seed+"_5_1.tmp"), nil, 0o644))

	eng := newFakeEngine()
	d, rec := newTestDispatcher(t, eng, testSettings())
	_, err := d.ExecuteItem(context.Background(), plan.Resume(dir, 0, 5))
	require.NoError(t, err)
	waitStarted(t, eng)

	task := eng.lastTask()
	require.Len(t, task.ResumeSeed, 32)
	assert.Equal(t, byte(0x0f), task.ResumeSeed[0])
	assert.Equal(t, uint64(5), task.Outputs[0].Units)

	close(eng.release)
	rec.waitLast(t)
}

func TestDispatcher_BatchResumeWithoutTempFile(t *testing.T) {
	eng := newFakeEngine()
	d, rec := newTestDispatcher(t, eng, testSettings())

	_, err := d.ExecuteBatch(context.Background(), []plan.Item{
		plan.Resume(t.TempDir(), 0, 5),
		plan.Plot("/mnt/b", 10, 1),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResumeTargetNotFound)
	assert.True(t, IsResumeError(err))
	assert.False(t, d.Runtime().IsRunning())
	assert.Equal(t, 0, eng.taskCount())
	assert.Empty(t, rec.all())
}

func TestDispatcher_BatchResumeCarriesSeed(t *testing.T) {
	dir := t.TempDir()
	seed := strings.Repeat("a1", 32)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "addr_"+seed+"_5_1.tmp"), nil, 0o644))

	eng := newFakeEngine()
	d, rec := newTestDispatcher(t, eng, testSettings())
	_, err := d.ExecuteBatch(context.Background(), []plan.Item{plan.Resume(dir, 0, 5), plan.Plot("/mnt/b", 10, 1)})
	require.NoError(t, err)
	waitStarted(t, eng)

	task := eng.lastTask()
	require.Len(t, task.ResumeSeed, 32)
	assert.Equal(t, byte(0xa1), task.ResumeSeed[31])
	assert.Len(t, task.Outputs, 2)

	close(eng.release)
	rec.waitLast(t)
}

func TestDispatcher_BatchRejectsSecondResume(t *testing.T) {
	eng := newFakeEngine()
	d, rec := newTestDispatcher(t, eng, testSettings())

	_, err := d.ExecuteBatch(context.Background(), []plan.Item{
		plan.Resume(t.TempDir(), 0, 5),
		plan.Resume(t.TempDir(), 1, 5),
	})
	assert.ErrorIs(t, err, ErrMultipleResumes)
	assert.True(t, IsRejection(err))
	assert.Equal(t, 0, eng.taskCount())
	assert.Empty(t, rec.all())
	assert.Equal(t, StatusIdle, d.Runtime().Status().State)
}

func TestDispatcher_EngineSpeedIsReported(t *testing.T) {
	eng := &speedEngine{mib: 73.25}
	d, rec := newTestDispatcher(t, eng, testSettings())

	_, err := d.ExecuteItem(context.Background(), plan.Plot("/mnt/a", 4, 1))
	require.NoError(t, err)
	rec.waitLast(t)

	assert.Equal(t, 73.25, d.Runtime().Progress().SpeedMiBs)
}

// speedEngine reports a fixed throughput and then some writing progress.
type speedEngine struct{ mib float64 }

func (e *speedEngine) Plot(_ context.Context, task engine.Task, cb engine.Callback) error {
	cb.Started(task.TotalUnits(), 0)
	cb.Speed(e.mib)
	cb.HashingProgress(task.TotalUnits())
	cb.WritingProgress(task.TotalUnits())
	return nil
}

func TestDispatcher_EngineFailure(t *testing.T) {
	eng := newFakeEngine()
	eng.err = errors.New("disk full")
	d, rec := newTestDispatcher(t, eng, testSettings())

	_, err := d.ExecuteBatch(context.Background(), []plan.Item{plan.Plot("/a", 1, 1), plan.Plot("/b", 1, 1)})
	require.NoError(t, err)
	close(eng.release)
	rec.waitLast(t)

	notes := rec.all()
	require.Len(t, notes, 2)
	for _, n := range notes {
		assert.False(t, n.Success)
		assert.False(t, n.Aborted)
		assert.Equal(t, "disk full", n.Error)
		assert.Zero(t, n.UnitsProduced)
	}
	assert.False(t, d.Runtime().IsRunning())
}

func TestDispatcher_PanicContained(t *testing.T) {
	eng := newFakeEngine()
	eng.panic = "boom"
	d, rec := newTestDispatcher(t, eng, testSettings())

	_, err := d.ExecuteItem(context.Background(), plan.Plot("/a", 1, 1))
	require.NoError(t, err)
	close(eng.release)
	rec.waitLast(t)

	notes := rec.all()
	require.Len(t, notes, 1)
	assert.False(t, notes[0].Success)
	assert.Equal(t, "task panicked: boom", notes[0].Error)
	assert.False(t, d.Runtime().IsRunning())
}

func TestDispatcher_HardStopAborts(t *testing.T) {
	eng := newFakeEngine()
	d, rec := newTestDispatcher(t, eng, testSettings())

	_, err := d.ExecuteItem(context.Background(), plan.Plot("/a", 1, 1))
	require.NoError(t, err)
	waitStarted(t, eng)

	d.Runtime().RequestHardStop()
	rec.waitLast(t)

	notes := rec.all()
	require.Len(t, notes, 1)
	assert.False(t, notes[0].Success)
	assert.True(t, notes[0].Aborted)
	assert.Equal(t, ErrStoppedByRequest.Error(), notes[0].Error)
}

func TestDispatcher_Checkpoint(t *testing.T) {
	eng := newFakeEngine()
	rt := NewRuntime(nil)
	rec := &recorder{rt: rt}
	var registered []string
	d := NewDispatcher(DispatcherConfig{
		Runtime:   rt,
		Engine:    eng,
		Settings:  func() TaskSettings { return TaskSettings{} },
		Sink:      rec,
		Registrar: registrarFunc(func(p string) error { registered = append(registered, p); return nil }),
	})

	ack, err := d.ExecuteItem(context.Background(), plan.Checkpoint("/mnt/a"))
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, []string{"/mnt/a"}, registered)
	assert.Equal(t, 0, eng.taskCount())

	notes := rec.all()
	require.Len(t, notes, 1)
	assert.True(t, notes[0].Success)
	assert.Equal(t, plan.ItemCheckpoint, notes[0].Type)
}

type registrarFunc func(string) error

func (f registrarFunc) Register(path string) error { return f(path) }
