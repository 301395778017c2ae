// $ go test -run TestParser -v -count=1 pkg/worker/*.go

package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser(t *testing.T) {
	j := NewPeriodicJob("testParsing", "0 2 * * *", nil)
	require.NoError(t, calculateNextPeriodic(j))
	require.NotNil(t, j.RunAt)
	assert.Equal(t, 2, j.RunAt.Hour())
	assert.True(t, j.RunAt.After(time.Now()))

	bad := NewPeriodicJob("testParsing", "not a cron", nil)
	assert.Error(t, calculateNextPeriodic(bad))
}

func TestNewScheduledJob(t *testing.T) {
	j := NewScheduledJob("amend", time.Minute, Args{"link": "/a"})

	assert.NotEmpty(t, j.ID)
	assert.Equal(t, TypeScheduled, j.Type)
	assert.Equal(t, time.Minute, j.RunAt.Sub(*j.CreatedAt))
	assert.Equal(t, "/a", j.Args["link"])
}

func TestRedisNames(t *testing.T) {
	d := NewDispatcher("searchindex", "redis://localhost:6379", 1)
	defer d.Close()

	assert.Equal(t, "searchindex:amend:queue", d.redisName(Job{Queue: "amend", Type: TypeQueued}))
	assert.Equal(t, "searchindex:amend:schedule", d.redisName(Job{Queue: "amend", Type: TypeScheduled}))
	assert.Equal(t, "searchindex:amend:periodic", d.redisName(Job{Queue: "amend", Type: TypePeriodic}))
	assert.Equal(t, "searchindex:amend:error", getRedisNameForError("searchindex", "amend"))
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoff(1))
	assert.Equal(t, 4*time.Second, backoff(2))
	assert.Equal(t, 1024*time.Second, backoff(10))
	assert.Equal(t, time.Hour, backoff(12))
	assert.Equal(t, time.Hour, backoff(40))
}

func TestNextRetry(t *testing.T) {
	now := time.Now()
	job := *NewJob("bulk_index", Args{"index": "govuk"})
	job.Retry = 2

	first := nextRetry(job, now)
	require.NotNil(t, first)
	assert.Equal(t, int64(1), first.Failures)
	assert.Equal(t, TypeScheduled, first.Type)
	assert.Equal(t, now.Add(2*time.Second), *first.RunAt)
	assert.Equal(t, job.ID, first.ID)

	second := nextRetry(*first, now)
	require.NotNil(t, second)
	assert.Equal(t, int64(2), second.Failures)

	assert.Nil(t, nextRetry(*second, now))

	periodic := *NewPeriodicJob("sweep", "@every 1m", nil)
	periodic.Retry = 5
	assert.Nil(t, nextRetry(periodic, now))
}

func redisOrSkip(t *testing.T, namespace string) {
	t.Helper()
	conn, err := redis.DialURL("redis://localhost:6379")
	if err != nil {
		t.Skip("redis not available:", err)
	}
	defer conn.Close()

	keys, err := redis.Strings(conn.Do("KEYS", namespace+":*"))
	require.NoError(t, err)
	for _, k := range keys {
		_, err = conn.Do("DEL", k)
		require.NoError(t, err)
	}
}

func TestWorker(t *testing.T) {
	redisOrSkip(t, "worker_test")

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		count = map[string]int{}
	)
	handler := func(_ context.Context, job Job) error {
		mu.Lock()
		count[job.Queue]++
		n := count[job.Queue]
		mu.Unlock()
		// the periodic job keeps firing, only its first two runs are awaited
		if job.Queue != "testPeriodic" || n <= 2 {
			wg.Done()
		}
		return nil
	}

	d := NewDispatcher("worker_test", "redis://localhost:6379", 10)
	defer d.Close()
	d.AddHandler("testQueued", handler)
	d.AddHandler("testPeriodic", handler)
	d.AddHandler("testScheduled", handler)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, d.EnqueueJob(NewJob("testQueued", Args{"n": i})))
	}

	wg.Add(2) // let it trigger 2 times
	require.NoError(t, d.EnqueueJob(NewPeriodicJob("testPeriodic", "@every 1s", nil)))

	wg.Add(1)
	require.NoError(t, d.EnqueueJob(NewScheduledJob("testScheduled", 2*time.Second, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 20, count["testQueued"])
	assert.Equal(t, 1, count["testScheduled"])
}

func TestWorkerMovesExhaustedJobsToErrorList(t *testing.T) {
	redisOrSkip(t, "worker_test_errors")

	d := NewDispatcher("worker_test_errors", "redis://localhost:6379", 1)
	defer d.Close()

	var once sync.Once
	done := make(chan struct{})
	d.AddHandler("failing", func(_ context.Context, job Job) error {
		once.Do(func() { close(done) })
		return errors.New("boom")
	})

	job := NewJob("failing", nil)
	job.Retry = 0
	require.NoError(t, d.EnqueueJob(job))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	<-done

	assert.Eventually(t, func() bool {
		failed, err := d.Failed("failing")
		if err != nil {
			return false
		}
		for _, j := range failed {
			if j.ID == job.ID {
				return j.Error == "boom"
			}
		}
		return false
	}, 5*time.Second, 100*time.Millisecond)
}

func TestPrepareAppliesDefaultRetry(t *testing.T) {
	d := NewDispatcher("worker_test", "redis://localhost:6379", 1)
	defer d.Close()
	d.DefaultRetry = 25

	job := NewJob("amend", Args{"link": "/a"})
	require.NoError(t, d.prepare(job))
	assert.Equal(t, int64(25), job.Retry)

	now := time.Now()
	next := nextRetry(*job, now)
	require.NotNil(t, next)
	assert.Equal(t, int64(1), next.Failures)
	assert.Equal(t, TypeScheduled, next.Type)
	assert.Equal(t, now.Add(2*time.Second), *next.RunAt)

	// an explicit budget wins
	own := NewJob("amend", nil)
	own.Retry = 3
	require.NoError(t, d.prepare(own))
	assert.Equal(t, int64(3), own.Retry)

	none := NewJob("amend", nil)
	none.Retry = NoRetry
	require.NoError(t, d.prepare(none))
	assert.Nil(t, nextRetry(*none, now))

	periodic := NewPeriodicJob("sweep", "@every 1m", nil)
	require.NoError(t, d.prepare(periodic))
	assert.Zero(t, periodic.Retry)
}

func TestRunWaitsForWorkers(t *testing.T) {
	d := NewDispatcher("worker_test_run", "redis://localhost:6379", 4)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	// every worker registered once and then left on cancel
	assert.Len(t, d.WorkerPool, 4)
}

func TestWorkerReschedulesFailedJobs(t *testing.T) {
	redisOrSkip(t, "worker_test_retry")

	d := NewDispatcher("worker_test_retry", "redis://localhost:6379", 1)
	defer d.Close()
	d.DefaultRetry = 25

	var once sync.Once
	done := make(chan struct{})
	d.AddHandler("amend", func(_ context.Context, job Job) error {
		once.Do(func() { close(done) })
		return errors.New("cluster unavailable")
	})

	job := NewJob("amend", Args{"link": "/a"})
	require.NoError(t, d.EnqueueJob(job))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	<-done

	assert.Eventually(t, func() bool {
		scheduled, err := d.Scheduled("amend")
		if err != nil || len(scheduled) != 1 {
			return false
		}
		j := scheduled[0]
		return j.ID == job.ID && j.Failures == 1 && j.RunAt.After(*job.CreatedAt)
	}, 5*time.Second, 100*time.Millisecond)

	failed, err := d.Failed("amend")
	require.NoError(t, err)
	assert.Empty(t, failed)
}
