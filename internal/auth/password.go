package auth

import (
	"context"
	"runtime"

	"golang.org/x/crypto/bcrypt"
)

// hashJob and verifyJob are the two kinds of work the HashPool accepts.
type hashJob struct {
	password string
	reply    chan hashResult
}

type hashResult struct {
	hash string
	err  error
}

type verifyJob struct {
	password string
	hash     string
	reply    chan verifyResult
}

type verifyResult struct {
	ok  bool
	err error
}

// HashPool runs bcrypt hashing/verification on a bounded set of worker
// goroutines so a single password check (50-500ms of CPU) never stalls
// the request-handling goroutines that share the runtime scheduler.
// Grounded on the original's ThreadPoolExecutor(max_workers=4) in
// security.py and spec.md §5's "dedicated worker pool (size ≈ CPU count)".
type HashPool struct {
	cost      int
	hashJobs  chan hashJob
	verifyJobs chan verifyJob
	done      chan struct{}
}

// NewHashPool starts size workers (defaulting to runtime.NumCPU()) at the
// given bcrypt cost.
func NewHashPool(cost, size int) *HashPool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	p := &HashPool{
		cost:       cost,
		hashJobs:   make(chan hashJob),
		verifyJobs: make(chan verifyJob),
		done:       make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *HashPool) worker() {
	for {
		select {
		case job := <-p.hashJobs:
			b, err := bcrypt.GenerateFromPassword([]byte(job.password), p.cost)
			job.reply <- hashResult{hash: string(b), err: err}
		case job := <-p.verifyJobs:
			err := bcrypt.CompareHashAndPassword([]byte(job.hash), []byte(job.password))
			job.reply <- verifyResult{ok: err == nil, err: nil}
		case <-p.done:
			return
		}
	}
}

// Close stops all workers.
func (p *HashPool) Close() { close(p.done) }

// Hash computes a bcrypt hash off the calling goroutine's stack, blocking
// only on the channel round-trip.
func (p *HashPool) Hash(ctx context.Context, password string) (string, error) {
	reply := make(chan hashResult, 1)
	select {
	case p.hashJobs <- hashJob{password: password, reply: reply}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case res := <-reply:
		return res.hash, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Verify compares a plaintext password against a stored bcrypt hash.
func (p *HashPool) Verify(ctx context.Context, password, hash string) (bool, error) {
	reply := make(chan verifyResult, 1)
	select {
	case p.verifyJobs <- verifyJob{password: password, hash: hash, reply: reply}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.ok, res.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
