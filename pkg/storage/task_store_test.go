package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/z-wentao/jkid/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu    sync.Mutex
	tasks []models.Task
}

func (r *recordingSink) Submit(task models.Task) {
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()
}

func (r *recordingSink) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func assertInvariant(t *testing.T, task models.Task) {
	t.Helper()
	switch task.Status {
	case models.StatusCompleted:
		assert.NotNil(t, task.Result, "completed task must carry a result")
		assert.Empty(t, task.Error)
	case models.StatusFailed:
		assert.NotEmpty(t, task.Error, "failed task must carry an error")
		assert.Nil(t, task.Result)
	default:
		assert.Nil(t, task.Result)
		assert.Empty(t, task.Error)
	}
}

func TestCreateAndGet(t *testing.T) {
	clock := newFakeClock()
	store := NewTaskStore(WithClock(clock.Now))

	id := store.Create("uploads/page_1700000000.png")
	require.NotEmpty(t, id)

	task, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, id, task.ID)
	assert.Equal(t, "page_1700000000.png", task.Filename)
	assert.Equal(t, "uploads/page_1700000000.png", task.SourceRef)
	assert.Equal(t, models.StatusPending, task.Status)
	assert.Equal(t, models.NewStageProgress(), task.Progress)
	assert.Equal(t, clock.Now(), task.CreatedAt)
	assert.Equal(t, clock.Now(), task.UpdatedAt)
	assertInvariant(t, task)
}

func TestCreateGeneratesUniqueIDs(t *testing.T) {
	store := NewTaskStore()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := store.Create("a.png")
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestGetUnknownID(t *testing.T) {
	store := NewTaskStore()

	_, ok := store.Get("missing")
	assert.False(t, ok)
}

func TestUpdateUnknownIDIsNoop(t *testing.T) {
	store := NewTaskStore()

	assert.NotPanics(t, func() {
		store.Update("missing", models.TaskUpdate{Status: models.StatusProcessing})
		store.Update("missing", models.TaskUpdate{Error: "boom"})
	})
	assert.Equal(t, 0, store.Len())
}

func TestUpdateRefreshesUpdatedAt(t *testing.T) {
	clock := newFakeClock()
	store := NewTaskStore(WithClock(clock.Now))
	id := store.Create("a.png")

	clock.Advance(time.Second)
	store.Update(id, models.TaskUpdate{Status: models.StatusProcessing})

	task, _ := store.Get(id)
	assert.Equal(t, clock.Now(), task.UpdatedAt)
	assert.True(t, task.UpdatedAt.After(task.CreatedAt))
}

// TestUpdateErrorWins verifies that a supplied error forces Failed regardless of status.
func TestUpdateErrorWins(t *testing.T) {
	store := NewTaskStore()
	id := store.Create("a.png")

	store.Update(id, models.TaskUpdate{
		Status: models.StatusCompleted,
		Result: &models.TaskResult{},
		Error:  "OCR识别失败: quota exceeded",
	})

	task, _ := store.Get(id)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Equal(t, "OCR识别失败: quota exceeded", task.Error)
	assertInvariant(t, task)
}

func TestUpdateFailedWithoutMessageGetsGenericError(t *testing.T) {
	store := NewTaskStore()
	id := store.Create("a.png")

	store.Update(id, models.TaskUpdate{Status: models.StatusFailed})

	task, _ := store.Get(id)
	assert.Equal(t, models.StatusFailed, task.Status)
	assertInvariant(t, task)
}

func TestTerminalStatesAreAbsorbing(t *testing.T) {
	store := NewTaskStore()

	done := store.Create("a.png")
	store.Update(done, models.TaskUpdate{Status: models.StatusCompleted, Result: &models.TaskResult{}})
	store.Update(done, models.TaskUpdate{Status: models.StatusProcessing})
	store.Update(done, models.TaskUpdate{Error: "late failure"})

	task, _ := store.Get(done)
	assert.Equal(t, models.StatusCompleted, task.Status)
	assertInvariant(t, task)

	failed := store.Create("b.png")
	store.Update(failed, models.TaskUpdate{Error: "first"})
	store.Update(failed, models.TaskUpdate{Status: models.StatusCompleted, Result: &models.TaskResult{}})
	store.Update(failed, models.TaskUpdate{Error: "second"})

	task, _ = store.Get(failed)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Equal(t, "first", task.Error)
	assertInvariant(t, task)
}

func TestStatusNeverRegresses(t *testing.T) {
	store := NewTaskStore()
	id := store.Create("a.png")

	store.Update(id, models.TaskUpdate{Status: models.StatusTextProcessing})
	store.Update(id, models.TaskUpdate{Status: models.StatusProcessing})

	task, _ := store.Get(id)
	assert.Equal(t, models.StatusTextProcessing, task.Status)
}

func TestResultOnlyAcceptedWithCompletion(t *testing.T) {
	store := NewTaskStore()
	id := store.Create("a.png")

	store.Update(id, models.TaskUpdate{
		Status: models.StatusTTSGenerating,
		Result: &models.TaskResult{AudioURLs: map[string]string{"main": "x"}},
	})

	task, _ := store.Get(id)
	assert.Equal(t, models.StatusTTSGenerating, task.Status)
	assertInvariant(t, task)
}

func TestCompletedWithoutResultGetsEmptyResult(t *testing.T) {
	store := NewTaskStore()
	id := store.Create("a.png")

	store.Update(id, models.TaskUpdate{Status: models.StatusCompleted})

	task, _ := store.Get(id)
	require.NotNil(t, task.Result)
	assert.NotNil(t, task.Result.AudioURLs)
}

func TestProgressFollowsPipelineOrder(t *testing.T) {
	store := NewTaskStore()
	id := store.Create("a.png")

	store.Update(id, models.TaskUpdate{Progress: models.StageProgress{models.StageTTS: models.StageCompleted}})
	task, _ := store.Get(id)
	assert.Equal(t, models.StagePending, task.Progress[models.StageTTS])

	store.Update(id, models.TaskUpdate{Progress: models.StageProgress{
		models.StageOCR:            models.StageCompleted,
		models.StageTextProcessing: models.StageCompleted,
	}})
	task, _ = store.Get(id)
	assert.Equal(t, models.StageCompleted, task.Progress[models.StageOCR])
	assert.Equal(t, models.StageCompleted, task.Progress[models.StageTextProcessing])
	assert.Equal(t, models.StagePending, task.Progress[models.StageTTS])
}

func TestProgressNeverRegresses(t *testing.T) {
	store := NewTaskStore()
	id := store.Create("a.png")

	store.Update(id, models.TaskUpdate{Progress: models.StageProgress{models.StageOCR: models.StageCompleted}})
	store.Update(id, models.TaskUpdate{Progress: models.StageProgress{models.StageOCR: models.StageProcessing}})

	task, _ := store.Get(id)
	assert.Equal(t, models.StageCompleted, task.Progress[models.StageOCR])
}

func TestGetReturnsIsolatedSnapshot(t *testing.T) {
	store := NewTaskStore()
	id := store.Create("a.png")
	store.Update(id, models.TaskUpdate{
		Status: models.StatusCompleted,
		Result: &models.TaskResult{AudioURLs: map[string]string{"main": "/static/audio/main.mp3"}},
	})

	snap, _ := store.Get(id)
	snap.Progress[models.StageOCR] = models.StageCompleted
	snap.Result.AudioURLs["main"] = "tampered"

	again, _ := store.Get(id)
	assert.Equal(t, models.StagePending, again.Progress[models.StageOCR])
	assert.Equal(t, "/static/audio/main.mp3", again.Result.AudioURLs["main"])
}

func TestSweepExpired(t *testing.T) {
	clock := newFakeClock()
	store := NewTaskStore(WithClock(clock.Now))

	old := store.Create("old.png")
	clock.Advance(30 * time.Minute)
	fresh := store.Create("fresh.png")

	assert.Equal(t, 0, store.SweepExpired(clock.Now().Add(30*time.Minute)))

	removed := store.SweepExpired(clock.Now().Add(31 * time.Minute))
	assert.Equal(t, 1, removed)

	_, ok := store.Get(old)
	assert.False(t, ok)
	_, ok = store.Get(fresh)
	assert.True(t, ok)

	// 清理之后 worker 的迟到更新不应报错
	store.Update(old, models.TaskUpdate{Status: models.StatusCompleted})
	_, ok = store.Get(old)
	assert.False(t, ok)
}

func TestStartSweeper(t *testing.T) {
	clock := newFakeClock()
	store := NewTaskStore(WithClock(clock.Now), WithTTL(time.Minute))
	store.Create("a.png")
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.StartSweeper(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestTerminalSinkReceivesSnapshotOnce(t *testing.T) {
	sink := &recordingSink{}
	store := NewTaskStore(WithTerminalSink(sink))
	id := store.Create("a.png")

	store.Update(id, models.TaskUpdate{Status: models.StatusProcessing})
	assert.Equal(t, 0, sink.Len())

	store.Update(id, models.TaskUpdate{Error: "boom"})
	store.Update(id, models.TaskUpdate{Error: "again"})

	require.Equal(t, 1, sink.Len())
	assert.Equal(t, models.StatusFailed, sink.tasks[0].Status)
	assert.Equal(t, "boom", sink.tasks[0].Error)
}

func TestListNewestFirst(t *testing.T) {
	clock := newFakeClock()
	store := NewTaskStore(WithClock(clock.Now))

	first := store.Create("1.png")
	clock.Advance(time.Second)
	second := store.Create("2.png")

	tasks := store.List()
	require.Len(t, tasks, 2)
	assert.Equal(t, second, tasks[0].ID)
	assert.Equal(t, first, tasks[1].ID)
}

// TestConcurrentAccess drives many writers and readers at once; run with -race.
func TestConcurrentAccess(t *testing.T) {
	store := NewTaskStore()
	statuses := []models.TaskStatus{
		models.StatusProcessing,
		models.StatusOCRCompleted,
		models.StatusTextProcessing,
		models.StatusTTSGenerating,
	}

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = store.Create(fmt.Sprintf("%d.png", i))
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			for _, st := range statuses {
				store.Update(id, models.TaskUpdate{Status: st})
			}
			if i%2 == 0 {
				store.Update(id, models.TaskUpdate{Status: models.StatusCompleted, Result: &models.TaskResult{}})
			} else {
				store.Update(id, models.TaskUpdate{Error: "boom"})
			}
		}(i, id)
	}

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, id := range ids {
					if task, ok := store.Get(id); ok {
						assertInvariant(t, task)
					}
				}
				store.List()
			}
		}()
	}

	wg.Wait()
	close(stop)
	readers.Wait()

	for i, id := range ids {
		task, ok := store.Get(id)
		require.True(t, ok)
		if i%2 == 0 {
			assert.Equal(t, models.StatusCompleted, task.Status)
		} else {
			assert.Equal(t, models.StatusFailed, task.Status)
		}
	}
}
