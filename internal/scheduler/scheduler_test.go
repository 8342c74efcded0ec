package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	runs  atomic.Int64
	block chan struct{}
	err   error
}

func (j *countingJob) Run() error {
	j.runs.Add(1)
	if j.block != nil {
		<-j.block
	}
	return j.err
}

func (j *countingJob) Name() string { return "counting_job" }

func TestAddJob_InvalidSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.AddJob("not a cron spec", &countingJob{})
	assert.Error(t, err)
}

func TestAddJob_RunsOnSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{}
	// cron's @every rounds sub-second intervals up to one second
	require.NoError(t, s.AddJob("@every 1s", job))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return job.runs.Load() >= 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestAddJob_OverlappingTickIsSkipped(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{block: make(chan struct{})}
	require.NoError(t, s.AddJob("@every 1s", job))

	s.Start()

	// first run starts and blocks; later ticks must be dropped, not queued
	require.Eventually(t, func() bool {
		return job.runs.Load() == 1
	}, 5*time.Second, 20*time.Millisecond)
	time.Sleep(2500 * time.Millisecond)
	assert.Equal(t, int64(1), job.runs.Load())

	close(job.block)
	s.Stop()
}

func TestRunNow(t *testing.T) {
	s := New(zerolog.Nop())

	job := &countingJob{}
	require.NoError(t, s.RunNow(job))
	assert.Equal(t, int64(1), job.runs.Load())

	failing := &countingJob{err: errors.New("boom")}
	assert.Error(t, s.RunNow(failing))
}
