package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	redisNaming = "%s:%s:%s"

	TypeQueued    queueType = iota
	TypeScheduled queueType = iota
	TypePeriodic  queueType = iota

	maxBackoff = time.Hour

	// NoRetry as a job's Retry sends its first failure to the error list.
	NoRetry int64 = -1
)

type Args map[string]interface{}

var ErrInvalidArgs = errors.New("invalid job arguments")

// DecodeArgs copies job arguments into a typed struct.
func DecodeArgs(args Args, v interface{}) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidArgs, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidArgs, err)
	}
	return nil
}

type queueType int

type Job struct {
	ID          string     `json:"id"`
	Queue       string     `json:"queue"`
	Args        Args       `json:"args"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	RunAt       *time.Time `json:"run_at,omitempty"`
	Cron        string     `json:"cron,omitempty"`
	Retry       int64      `json:"retry"`
	Failures    int64      `json:"failures"`
	Type        queueType  `json:"type"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// HandlerFunc runs one job. A returned error hands the job to the retry
// policy of the dispatcher.
type HandlerFunc func(ctx context.Context, job Job) error

// Enqueuer accepts jobs for later execution.
type Enqueuer interface {
	EnqueueJob(job *Job) error
}

func NewJob(queue string, args Args) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		Queue:     queue,
		Args:      args,
		CreatedAt: &now,
		Type:      TypeQueued,
	}
}

// NewScheduledJob builds a job that becomes runnable after delay.
func NewScheduledJob(queue string, delay time.Duration, args Args) *Job {
	job := NewJob(queue, args)
	runAt := job.CreatedAt.Add(delay)
	job.RunAt = &runAt
	job.Type = TypeScheduled
	return job
}

// NewPeriodicJob builds a job that runs on a cron schedule.
func NewPeriodicJob(queue, spec string, args Args) *Job {
	job := NewJob(queue, args)
	job.Cron = spec
	job.Type = TypePeriodic
	return job
}

type Worker struct {
	WorkerPool chan chan Job
	JobChannel chan Job
	dispatcher *Dispatcher
}

func NewWorker(d *Dispatcher) Worker {
	return Worker{
		WorkerPool: d.WorkerPool,
		JobChannel: make(chan Job),
		dispatcher: d,
	}
}

func newRedisPool(redisURL string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     3,
		IdleTimeout: 240 * time.Second,
		Dial:        func() (redis.Conn, error) { return redis.DialURL(redisURL) },
	}
}

// Start runs the worker loop until ctx is cancelled. wg is released when the
// loop exits.
func (w Worker) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				return
			}

			select {
			case job := <-w.JobChannel:
				if fn, ok := w.dispatcher.handler(job.Queue); ok {
					start := time.Now()
					err := fn(ctx, job)
					w.dispatcher.observe(job.Queue, time.Since(start), err)
					w.dispatcher.finish(job, err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

type Dispatcher struct {
	WorkerPool chan chan Job
	MaxWorkers int

	// DefaultRetry is the retry budget of enqueued jobs that set none.
	DefaultRetry int64

	redisPool *redis.Pool
	namespace string

	mu         sync.RWMutex
	queueTasks map[string]HandlerFunc
	queues     []string
	lastQueue  int
	onFailure  func(job Job, err error)
	onFinish   func(queue string, elapsed time.Duration, err error)
}

func NewDispatcher(namespace, redisURL string, maxWorkers int) *Dispatcher {
	return &Dispatcher{
		WorkerPool: make(chan chan Job, maxWorkers),
		MaxWorkers: maxWorkers,
		redisPool:  newRedisPool(redisURL),
		namespace:  namespace,
		queueTasks: make(map[string]HandlerFunc),
	}
}

func (d *Dispatcher) AddHandler(queue string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.queueTasks[queue]; !ok {
		d.queues = append(d.queues, queue)
	}
	d.queueTasks[queue] = fn
}

// OnFailure registers a callback for jobs that used up their retries.
func (d *Dispatcher) OnFailure(fn func(job Job, err error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFailure = fn
}

// OnFinish registers a callback run after every job, used for timing.
func (d *Dispatcher) OnFinish(fn func(queue string, elapsed time.Duration, err error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFinish = fn
}

func (d *Dispatcher) observe(queue string, elapsed time.Duration, err error) {
	d.mu.RLock()
	fn := d.onFinish
	d.mu.RUnlock()
	if fn != nil {
		fn(queue, elapsed, err)
	}
}

func (d *Dispatcher) handler(queue string) (HandlerFunc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn, ok := d.queueTasks[queue]
	return fn, ok
}

func (d *Dispatcher) Close() error {
	return d.redisPool.Close()
}

// Run starts the workers and polls the queues until ctx is cancelled. It
// returns once every worker has exited.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.MaxWorkers; i++ {
		NewWorker(d).Start(ctx, &wg)
	}

	d.dispatch(ctx)
	wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		j := d.getNextJob()
		if j != nil {
			go func(job Job) {
				// blocks until a worker is idle
				select {
				case jobChannel := <-d.WorkerPool:
					select {
					case jobChannel <- job:
					case <-ctx.Done():
					}
				case <-ctx.Done():
				}
			}(*j)
		} else {
			// no jobs in any queue
			time.Sleep(time.Millisecond * 100)
		}
	}
}

// finish removes the job from its working list. Failed jobs are retried
// with exponential backoff until job.Retry is used up, then moved to the
// error list.
func (d *Dispatcher) finish(job Job, runErr error) {
	rawData, err := json.Marshal(job)
	if err != nil {
		slog.Error("Error encoding job", "err", err.Error(), "queue", job.Queue, "id", job.ID)
		return
	}

	processedTime := time.Now().UTC()
	job.ProcessedAt = &processedTime

	target := ""
	var retry *Job
	if runErr != nil {
		job.Error = runErr.Error()
		if next := nextRetry(job, processedTime); next != nil {
			retry = next
		} else {
			target = getRedisNameForError(d.namespace, job.Queue)
		}
		slog.Error("Job failed",
			"err", runErr.Error(),
			"queue", job.Queue,
			"id", job.ID,
			"failures", job.Failures+1,
			"retrying", retry != nil,
		)
	}

	processedData, err := json.Marshal(job)
	if err != nil {
		slog.Error("Error encoding job", "err", err.Error(), "queue", job.Queue, "id", job.ID)
		return
	}

	lua :=
		`
		local working = KEYS[1] .. ":working"
		local queue = KEYS[2]

		local taskCount = redis.call("LREM", working, -1, ARGV[1])
		if queue ~= "" then redis.call("RPUSH", queue, ARGV[2]) end

		return taskCount
		`

	conn := d.redisPool.Get()
	defer conn.Close()

	luaScript := redis.NewScript(2, lua)
	if _, err = luaScript.Do(conn, d.redisName(job), target, rawData, processedData); err != nil {
		slog.Error("Error removing job from working list", "err", err.Error(), "queue", job.Queue, "id", job.ID)
	}

	if retry != nil {
		if err := d.EnqueueJob(retry); err != nil {
			slog.Error("Error rescheduling job", "err", err.Error(), "queue", job.Queue, "id", job.ID)
		}
		return
	}

	if runErr != nil {
		d.mu.RLock()
		fn := d.onFailure
		d.mu.RUnlock()
		if fn != nil {
			fn(job, runErr)
		}
	}
}

// nextRetry returns the rescheduled copy of a failed job, or nil when its
// retries are exhausted. Periodic jobs are never retried.
func nextRetry(job Job, now time.Time) *Job {
	if job.Type == TypePeriodic || job.Failures >= job.Retry {
		return nil
	}
	next := job
	next.Failures++
	next.Type = TypeScheduled
	next.ProcessedAt = nil
	runAt := now.Add(backoff(next.Failures))
	next.RunAt = &runAt
	return &next
}

// backoff grows as 2^n seconds, capped at an hour.
func backoff(failures int64) time.Duration {
	if failures <= 0 {
		return time.Second
	}
	if failures > 12 {
		return maxBackoff
	}
	d := time.Duration(1<<uint(failures)) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// EnqueueJob adds a job to its queue. Queued jobs run as soon as a worker is
// free, scheduled and periodic jobs once their RunAt has passed.
func (d *Dispatcher) EnqueueJob(job *Job) error {
	if err := d.prepare(job); err != nil {
		return err
	}

	rawData, err := json.Marshal(job)
	if err != nil {
		return err
	}

	conn := d.redisPool.Get()
	defer conn.Close()

	switch job.Type {
	case TypePeriodic, TypeScheduled:
		_, err = conn.Do("ZADD", d.redisName(*job), job.RunAt.Unix(), rawData)
	default:
		_, err = conn.Do("RPUSH", d.redisName(*job), rawData)
	}
	return err
}

// prepare fills in the fields a stored job needs: id, creation time, retry
// budget and the next run of periodic jobs.
func (d *Dispatcher) prepare(job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt == nil {
		now := time.Now().UTC()
		job.CreatedAt = &now
	}
	if job.Retry == 0 && job.Type != TypePeriodic {
		job.Retry = d.DefaultRetry
	}

	rawData, err := json.Marshal(job.Args)
	if err != nil {
		return err
	}
	// args lose their Go types so the stored job matches what handlers decode
	job.Args = nil
	if err = json.Unmarshal(rawData, &job.Args); err != nil {
		return err
	}

	if job.Type == TypePeriodic && len(job.Cron) != 0 {
		if err := calculateNextPeriodic(job); err != nil {
			return err
		}
	}
	if job.Type == TypeScheduled && job.RunAt == nil {
		return fmt.Errorf("scheduled job %s without run_at", job.ID)
	}
	return nil
}

func calculateNextPeriodic(job *Job) error {
	// standard parser with descriptors
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s, err := parser.Parse(job.Cron)
	if err != nil {
		return fmt.Errorf("invalid cron %q: %w", job.Cron, err)
	}
	runAt := s.Next(time.Now())
	job.RunAt = &runAt
	return nil
}

func (d *Dispatcher) redisName(job Job) string {
	switch job.Type {
	case TypePeriodic:
		return getRedisNameForPeriodic(d.namespace, job.Queue)
	case TypeScheduled:
		return getRedisNameForSchedule(d.namespace, job.Queue)
	default:
		return getRedisNameForQueue(d.namespace, job.Queue)
	}
}

func getRedisNameForQueue(namespace, name string) string {
	return fmt.Sprintf(redisNaming, namespace, name, "queue")
}

func getRedisNameForSchedule(namespace, name string) string {
	return fmt.Sprintf(redisNaming, namespace, name, "schedule")
}

func getRedisNameForPeriodic(namespace, name string) string {
	return fmt.Sprintf(redisNaming, namespace, name, "periodic")
}

func getRedisNameForError(namespace, name string) string {
	return fmt.Sprintf(redisNaming, namespace, name, "error")
}

// getNextJob walks the registered queues round robin, starting after the
// queue that produced the previous job.
func (d *Dispatcher) getNextJob() *Job {
	d.mu.RLock()
	queues := append([]string(nil), d.queues...)
	d.mu.RUnlock()

	n := len(queues)
	for i := 1; i <= n; i++ {
		idx := (d.lastQueue + i) % n
		if job := d.getNextJobForQueue(queues[idx]); job != nil {
			d.lastQueue = idx
			return job
		}
	}
	return nil
}

func (d *Dispatcher) getNextJobForQueue(queue string) *Job {
	if job := d.getJobFromPeriodic(queue); job != nil {
		return job
	} else if job := d.getJobFromSchedule(queue); job != nil {
		return job
	} else if job := d.getJobFromQueue(queue); job != nil {
		return job
	}
	return nil
}

func (d *Dispatcher) getJobFromQueue(queue string) *Job {
	lua :=
		`
		local queue = KEYS[1]
		local working = queue .. ":working"

		local data = redis.call("LPOP", queue)
		if not data then
			return ''
		end

		redis.pcall("RPUSH", working, data)

		return data
		`
	return d.popJob(lua, getRedisNameForQueue(d.namespace, queue))
}

const popDueLua = `
		local queue = KEYS[1]
		local working = queue .. ":working"

		local data = redis.call("ZRANGEBYSCORE", queue, 0, ARGV[1], "LIMIT", 0, 1)
		if data[1] == nil then
			return ''
		end

		local job = data[1]

		redis.pcall("ZREM", queue, job)
		redis.pcall("RPUSH", working, job)

		return job
		`

func (d *Dispatcher) getJobFromSchedule(queue string) *Job {
	return d.popJob(popDueLua, getRedisNameForSchedule(d.namespace, queue), time.Now().Unix())
}

func (d *Dispatcher) getJobFromPeriodic(queue string) *Job {
	job := d.popJob(popDueLua, getRedisNameForPeriodic(d.namespace, queue), time.Now().Unix())
	if job == nil {
		return nil
	}

	next := *job
	next.Error = ""
	next.ProcessedAt = nil
	if err := d.EnqueueJob(&next); err != nil {
		slog.Error("Error enqueueing next periodic run", "err", err.Error(), "queue", queue, "id", job.ID)
	}
	return job
}

func (d *Dispatcher) popJob(lua, key string, args ...interface{}) *Job {
	conn := d.redisPool.Get()
	defer conn.Close()

	luaScript := redis.NewScript(1, lua)
	result, err := redis.Bytes(luaScript.Do(conn, append([]interface{}{key}, args...)...))
	if err != nil {
		// another worker already has the job
		return nil
	}
	if len(result) == 0 {
		return nil
	}

	job := &Job{}
	if err := json.Unmarshal(result, job); err != nil {
		slog.Error("Error decoding job", "err", err.Error(), "key", key)
		return nil
	}
	return job
}

// ListJobs returns the jobs stored under a redis key, either a sorted set
// of scheduled jobs or an error list.
func (d *Dispatcher) ListJobs(queueName string) ([]*Job, error) {
	conn := d.redisPool.Get()
	defer conn.Close()

	cmd := "ZRANGE"
	if strings.HasSuffix(queueName, ":error") || strings.HasSuffix(queueName, ":queue") {
		cmd = "LRANGE"
	}

	values, err := redis.Strings(conn.Do(cmd, queueName, 0, -1))
	if err != nil {
		return nil, err
	}

	result := make([]*Job, 0, len(values))
	for _, task := range values {
		job := &Job{}
		if err := json.Unmarshal([]byte(task), job); err != nil {
			slog.Error("Error decoding job", "err", err.Error(), "key", queueName)
			continue
		}
		result = append(result, job)
	}
	return result, nil
}

// Failed lists the jobs that exhausted their retries on a queue.
func (d *Dispatcher) Failed(queue string) ([]*Job, error) {
	return d.ListJobs(getRedisNameForError(d.namespace, queue))
}

// Scheduled lists the delayed jobs of a queue.
func (d *Dispatcher) Scheduled(queue string) ([]*Job, error) {
	return d.ListJobs(getRedisNameForSchedule(d.namespace, queue))
}
