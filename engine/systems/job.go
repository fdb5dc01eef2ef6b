package systems

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine/core"
)

var ErrNoWorkers = errors.New("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = errors.New("attempting to create worker pool with a negative channel size")
var ErrJobSystemClosed = errors.New("job system is shut down")

// Job is a unit of CPU work run on a worker goroutine. Run must not touch
// the GPU; its value is handed back to the main thread by Update.
type Job struct {
	Name string
	Run  func() (interface{}, error)
}

type JobResult struct {
	Name  string
	Value interface{}
	Err   error
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan Job
	wg         sync.WaitGroup
	pending    sync.WaitGroup

	// sendMu keeps Shutdown from closing the queue under a Submit.
	sendMu sync.RWMutex
	closed bool

	mu      sync.Mutex
	results []JobResult
}

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan Job, channelSize),
	}

	js.start()

	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.finish(job.Name, run(job))
			}
		}()
	}
}

func run(job Job) (result JobResult) {
	result.Name = job.Name
	defer func() {
		if r := recover(); r != nil {
			result.Err = errors.Newf("job %s panicked: %v", job.Name, r)
		}
	}()
	result.Value, result.Err = job.Run()
	return result
}

func (js *JobSystem) finish(name string, result JobResult) {
	if result.Err != nil {
		core.LogError("job %s failed: %s", name, result.Err)
	}
	js.mu.Lock()
	js.results = append(js.results, result)
	js.mu.Unlock()
	js.pending.Done()
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while
 * the queue is full.
 */
func (js *JobSystem) Submit(job Job) error {
	js.sendMu.RLock()
	defer js.sendMu.RUnlock()
	if js.closed {
		return ErrJobSystemClosed
	}
	js.pending.Add(1)
	js.jobQueue <- job
	return nil
}

// Wait blocks until every submitted job has finished.
func (js *JobSystem) Wait() {
	js.pending.Wait()
}

/**
 * @brief Returns the jobs finished since the last call, in completion
 * order. Should happen once an update cycle, on the main thread.
 */
func (js *JobSystem) Update() []JobResult {
	js.mu.Lock()
	defer js.mu.Unlock()
	results := js.results
	js.results = nil
	return results
}

/**
 * @brief Shuts the job system down. Queued jobs still run.
 */
func (js *JobSystem) Shutdown() error {
	js.sendMu.Lock()
	if js.closed {
		js.sendMu.Unlock()
		return ErrJobSystemClosed
	}
	js.closed = true
	close(js.jobQueue)
	js.sendMu.Unlock()

	js.wg.Wait()
	return nil
}
