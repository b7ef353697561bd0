package exporter

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
)

// Job statuses reported by the jobs endpoint.
const (
	StatusSucceeded = "esriJobSucceeded"
	StatusFailed    = "esriJobFailed"
	StatusCancelled = "esriJobCancelled"
	StatusTimedOut  = "esriJobTimedOut"
)

var errJobRunning = errors.New("job still running")

// JobResult describes a finished export job.
type JobResult struct {
	JobID string
	URLs  []string
}

// URL is the first output url, the one Export downloads.
func (r JobResult) URL() string {
	if len(r.URLs) == 0 {
		return ""
	}
	return r.URLs[0]
}

type jobResponse struct {
	envelope
	JobID     string `json:"jobId"`
	JobStatus string `json:"jobStatus"`
	Output    struct {
		OutputURL []string `json:"outputUrl"`
	} `json:"output"`
}

// Poll checks the job status every PollInterval until the job succeeds. It
// gives up with ErrJobTimeout after MaxPollAttempts checks or MaxPollDuration,
// and with a *JobFailedError when the job fails on the server.
func (s *Service) Poll(ctx context.Context, job JobHandle) (JobResult, error) {
	pollCtx := ctx
	if s.cfg.MaxPollDuration > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, s.cfg.MaxPollDuration)
		defer cancel()
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(s.cfg.PollInterval)
	if s.cfg.MaxPollAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(s.cfg.MaxPollAttempts-1))
	}

	var (
		result   JobResult
		attempts int
		status   string
	)
	op := func() error {
		attempts++
		s.metrics.poll()
		r, err := s.client.get(pollCtx, s.jobURL(job.ID))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("poll job %s: %w", job.ID, err))
		}
		var resp jobResponse
		if err := decode(r, &resp); err != nil {
			return backoff.Permanent(fmt.Errorf("poll job %s: %w", job.ID, err))
		}
		if e := resp.Error; e != nil {
			return backoff.Permanent(&ServiceError{Code: e.Code, Message: e.Message})
		}

		status = resp.JobStatus
		switch status {
		case StatusSucceeded:
			if len(resp.Output.OutputURL) == 0 {
				return backoff.Permanent(fmt.Errorf("job %s: %w", job.ID, ErrNoOutput))
			}
			result = JobResult{JobID: job.ID, URLs: resp.Output.OutputURL}
			return nil
		case StatusFailed, StatusCancelled, StatusTimedOut:
			return backoff.Permanent(&JobFailedError{JobID: job.ID, Status: status})
		default:
			s.log.Debugf("job %s is %s (check %d)", job.ID, status, attempts)
			return errJobRunning
		}
	}

	err := backoff.Retry(op, backoff.WithContext(b, pollCtx))
	switch {
	case err == nil:
		return result, nil
	case ctx.Err() != nil:
		return JobResult{}, ctx.Err()
	case errors.Is(err, errJobRunning), pollCtx.Err() != nil:
		return JobResult{}, fmt.Errorf("job %s after %d checks, last status %q: %w", job.ID, attempts, status, ErrJobTimeout)
	default:
		return JobResult{}, err
	}
}
