package worker

import (
	"sync"

	"logtools/internal/collector"
	"logtools/internal/parser"
	"logtools/internal/storage"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

type Job struct {
	Source string
	Line   string
	Parser parser.LogParser
}

// Pool parses lines on a fixed set of goroutines. Jobs are sharded by
// source so that lines of one source are handled in submission order.
type Pool struct {
	queues    []chan Job
	Collector *collector.LineCollector
	Store     storage.Store // may be nil
	logger    *zap.SugaredLogger

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewPool(workers int, coll *collector.LineCollector, store storage.Store, logger *zap.SugaredLogger) *Pool {
	if workers < 1 {
		workers = 1
	}
	queues := make([]chan Job, workers)
	for i := range queues {
		queues[i] = make(chan Job, 1000) // Buffered channel
	}
	return &Pool{
		queues:    queues,
		Collector: coll,
		Store:     store,
		logger:    logger,
	}
}

func (p *Pool) Start() {
	for i, q := range p.queues {
		p.wg.Add(1)
		go p.worker(i, q)
	}
	p.logger.Infof("Worker pool started with %d workers", len(p.queues))
}

func (p *Pool) worker(id int, jobs <-chan Job) {
	defer p.wg.Done()
	for job := range jobs {
		entry := job.Parser.Parse(job.Line)
		if entry == nil {
			p.Collector.ProcessUnparsed(job.Source)
			continue
		}

		if missing := p.Collector.ProcessLine(job.Source, entry); missing > 0 {
			p.logger.Debugf("Worker %d: %s skipped %d lines before count=%d", id, job.Source, missing, *entry.Count)
		}

		if p.Store == nil {
			continue
		}
		if err := p.Store.SaveLine(&storage.Record{Source: job.Source, LogLine: *entry}); err != nil {
			p.logger.Errorf("Worker %d: failed to store line from %s: %v", id, job.Source, err)
		}
	}
}

// Submit queues a job, blocking while the worker for its source is busy.
// It must not be called after Stop.
func (p *Pool) Submit(job Job) {
	p.queues[xxhash.Sum64String(job.Source)%uint64(len(p.queues))] <- job
}

// Stop closes the queues and waits for queued jobs to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		for _, q := range p.queues {
			close(q)
		}
	})
	p.wg.Wait()
}
