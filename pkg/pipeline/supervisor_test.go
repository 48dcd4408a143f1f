package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/z-wentao/jkid/pkg/models"
	"github.com/z-wentao/jkid/pkg/queue"
	"github.com/z-wentao/jkid/pkg/storage"
	"github.com/z-wentao/jkid/pkg/worker"
)

type blockingRunner struct {
	started chan string
	release chan struct{}
}

func (b *blockingRunner) Run(_ context.Context, taskID string) {
	b.started <- taskID
	<-b.release
}

type failingDispatcher struct{ err error }

func (f failingDispatcher) Dispatch(context.Context, queue.Job) error { return f.err }

// TestSubmitReturnsBeforeWorkerFinishes verifies the id is readable while the worker is still blocked.
func TestSubmitReturnsBeforeWorkerFinishes(t *testing.T) {
	store := storage.NewTaskStore()
	runner := &blockingRunner{started: make(chan string, 1), release: make(chan struct{})}
	dispatcher := NewGoDispatcher(context.Background(), runner)
	sup := NewSupervisor(store, dispatcher, nil)

	id, err := sup.Submit(context.Background(), "uploads/page.png")
	require.NoError(t, err)

	task, ok := sup.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, task.Status)
	assert.Equal(t, "uploads/page.png", task.SourceRef)

	select {
	case started := <-runner.started:
		assert.Equal(t, id, started)
	case <-time.After(time.Second):
		t.Fatal("worker was never started")
	}

	close(runner.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.True(t, dispatcher.Wait(ctx))
}

func TestSubmitRejectsEmptySource(t *testing.T) {
	sup := NewSupervisor(storage.NewTaskStore(), failingDispatcher{}, nil)

	_, err := sup.Submit(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptySource)
	assert.Empty(t, sup.ListTasks())
}

func TestSubmitMarksTaskFailedWhenQueueIsFull(t *testing.T) {
	store := storage.NewTaskStore()
	q := queue.NewMemoryQueue(1)
	sup := NewSupervisor(store, NewQueueDispatcher(q), nil)

	first, err := sup.Submit(context.Background(), "a.png")
	require.NoError(t, err)

	second, err := sup.Submit(context.Background(), "b.png")
	assert.ErrorIs(t, err, queue.ErrQueueFull)
	require.NotEmpty(t, second)

	task, _ := sup.GetTask(second)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Equal(t, queue.ErrQueueFull.Error(), task.Error)

	task, _ = sup.GetTask(first)
	assert.Equal(t, models.StatusPending, task.Status)
}

func TestSubmitMarksTaskFailedOnDispatchError(t *testing.T) {
	store := storage.NewTaskStore()
	sup := NewSupervisor(store, failingDispatcher{err: errors.New("broker unreachable")}, nil)

	id, err := sup.Submit(context.Background(), "a.png")
	require.Error(t, err)

	task, ok := sup.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Equal(t, "任务调度失败: broker unreachable", task.Error)
}

func TestGetTaskUnknown(t *testing.T) {
	sup := NewSupervisor(storage.NewTaskStore(), failingDispatcher{}, nil)

	_, ok := sup.GetTask("missing")
	assert.False(t, ok)
}

// TestQueuePoolEndToEnd drives submissions through the memory queue and a worker pool.
func TestQueuePoolEndToEnd(t *testing.T) {
	store := storage.NewTaskStore()
	q := queue.NewMemoryQueue(10)
	runner := NewRunner(store, Deps{
		OCR:    ocrReturning(sentence1 + sentence2 + sentence3),
		Speech: &fakeSpeech{},
		Audio:  newMemoryAudio(),
	}, Options{SpeechConcurrency: 2}, nil)
	pool := worker.NewPool(q, runner, 2, nil)
	pool.Start()
	defer pool.Stop(context.Background())

	sup := NewSupervisor(store, NewQueueDispatcher(q), nil)
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		id, err := sup.Submit(context.Background(), "page.png")
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, id := range ids {
		id := id
		assert.Eventually(t, func() bool {
			task, _ := sup.GetTask(id)
			return task.Status == models.StatusCompleted
		}, 2*time.Second, 5*time.Millisecond)
	}

	task, _ := sup.GetTask(ids[0])
	assert.Equal(t, []string{sentence1 + sentence2, sentence3}, task.Result.ProcessedText.Segments)
	assert.Len(t, task.Result.AudioURLs, 3)
}
