package exporter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acceptedJob(t *testing.T, s *Service) JobHandle {
	t.Helper()
	job, err := s.Submit(context.Background(), testExtent.with(0, 0, 1, 1), []int{0}, Params{})
	require.NoError(t, err)
	return job
}

func TestPoll_WaitsForSuccess(t *testing.T) {
	f := newFakeTileServer(t)
	f.pending = 3
	s := newTestService(t, f)
	job := acceptedJob(t, s)

	res, err := s.Poll(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, job.ID, res.JobID)
	assert.Equal(t, f.srv.URL+"/output/"+job.ID+"/Basemap.vtpk?token=abc", res.URL())
	assert.Equal(t, int32(4), f.polls.Load())
}

func TestPoll_FailedJob(t *testing.T) {
	for _, status := range []string{StatusFailed, StatusCancelled, StatusTimedOut} {
		t.Run(status, func(t *testing.T) {
			f := newFakeTileServer(t)
			f.jobStatus = func(_ string, check int) string {
				if check < 2 {
					return "esriJobExecuting"
				}
				return status
			}
			s := newTestService(t, f)
			job := acceptedJob(t, s)

			_, err := s.Poll(context.Background(), job)
			var jf *JobFailedError
			require.ErrorAs(t, err, &jf)
			assert.Equal(t, status, jf.Status)
			assert.Equal(t, int32(2), f.polls.Load())
		})
	}
}

func TestPoll_MaxAttempts(t *testing.T) {
	f := newFakeTileServer(t)
	f.jobStatus = func(string, int) string { return "esriJobExecuting" }
	s := newTestService(t, f, func(c *Config) { c.MaxPollAttempts = 3 })
	job := acceptedJob(t, s)

	_, err := s.Poll(context.Background(), job)
	assert.ErrorIs(t, err, ErrJobTimeout)
	assert.Equal(t, int32(3), f.polls.Load())
}

func TestPoll_MaxDuration(t *testing.T) {
	f := newFakeTileServer(t)
	f.jobStatus = func(string, int) string { return "esriJobWaiting" }
	s := newTestService(t, f, func(c *Config) {
		c.PollInterval = 5 * time.Millisecond
		c.MaxPollDuration = 30 * time.Millisecond
	})
	job := acceptedJob(t, s)

	_, err := s.Poll(context.Background(), job)
	assert.ErrorIs(t, err, ErrJobTimeout)
}

func TestPoll_Cancelled(t *testing.T) {
	f := newFakeTileServer(t)
	f.jobStatus = func(string, int) string { return "esriJobExecuting" }
	s := newTestService(t, f, func(c *Config) { c.PollInterval = time.Hour })
	job := acceptedJob(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := s.Poll(ctx, job)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrJobTimeout)
}

func TestPoll_SucceededWithoutOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"jobId":"j1","jobStatus":"esriJobSucceeded","output":{"outputUrl":[]}}`))
	}))
	defer srv.Close()

	s, err := New(Config{URL: srv.URL + servicePath, PollInterval: time.Millisecond})
	require.NoError(t, err)

	_, err = s.Poll(context.Background(), JobHandle{ID: "j1"})
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestPoll_UnknownJob(t *testing.T) {
	f := newFakeTileServer(t)
	s := newTestService(t, f)

	_, err := s.Poll(context.Background(), JobHandle{ID: "nope"})
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 404, se.Code)
}
