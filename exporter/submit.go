package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
)

// overflowPattern matches the exportTiles refusal, e.g.
// "Requested operation exceeds the allowed limits. The estimated tile count
// of (15000) is greater than the max export tiles count of (5000)."
var overflowPattern = regexp.MustCompile(
	`(?is)estimated\s+tiles?\s+count.*?\(\s*(\d+)\s*\).*?greater\s+than.*?max(?:imum)?\s+export\s+tiles?\s+count.*?\(\s*(\d+)\s*\)`,
)

// ParseOverflow extracts the estimated and maximum tile counts from an
// exportTiles error message. It reports false when the message is not a
// tile count overflow.
func ParseOverflow(msg string) (OverflowSignal, bool) {
	m := overflowPattern.FindStringSubmatch(msg)
	if m == nil {
		return OverflowSignal{}, false
	}
	est, err := strconv.Atoi(m[1])
	if err != nil {
		return OverflowSignal{}, false
	}
	max, err := strconv.Atoi(m[2])
	if err != nil {
		return OverflowSignal{}, false
	}
	if est <= max {
		return OverflowSignal{}, false
	}
	return OverflowSignal{Estimated: est, Max: max}, true
}

// JobHandle identifies an accepted export job.
type JobHandle struct {
	ID     string
	Extent Extent
}

type submitResponse struct {
	envelope
	JobID     string `json:"jobId"`
	JobStatus string `json:"jobStatus"`
}

// Submit asks the service to export ext at the given levels. It makes one
// request and never retries. A refusal for too many tiles is returned as an
// *OverflowError, any other reported error as a *ServiceError.
func (s *Service) Submit(ctx context.Context, ext Extent, levels []int, params Params) (JobHandle, error) {
	if err := params.Validate(); err != nil {
		return JobHandle{}, err
	}
	levels, err := s.resolveLevels(ctx, levels)
	if err != nil {
		return JobHandle{}, err
	}
	return s.submit(ctx, ext, levels, params)
}

// submit assumes params and levels are already validated.
func (s *Service) submit(ctx context.Context, ext Extent, levels []int, params Params) (JobHandle, error) {
	extJSON, err := json.Marshal(ext)
	if err != nil {
		return JobHandle{}, fmt.Errorf("encode extent: %w", err)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return JobHandle{}, err
	}

	s.progress.submitted.Add(1)
	r, err := s.client.postForm(ctx, s.exportURL(), params.form(levels, extJSON, s.cfg.Token))
	if err != nil {
		s.metrics.submit(outcomeError)
		return JobHandle{}, fmt.Errorf("submit export: %w", err)
	}

	var resp submitResponse
	if err := decode(r, &resp); err != nil {
		s.metrics.submit(outcomeError)
		return JobHandle{}, err
	}
	if e := resp.Error; e != nil {
		if e.Code >= http.StatusInternalServerError && e.Code <= 599 {
			if sig, ok := ParseOverflow(e.Message); ok {
				s.progress.overflowed.Add(1)
				s.metrics.submit(outcomeOverflow)
				return JobHandle{}, &OverflowError{Signal: sig, Message: e.Message}
			}
		}
		s.metrics.submit(outcomeError)
		return JobHandle{}, &ServiceError{Code: e.Code, Message: e.Message}
	}
	if resp.JobID == "" {
		s.metrics.submit(outcomeError)
		return JobHandle{}, ErrMissingJobID
	}

	s.progress.accepted.Add(1)
	s.metrics.submit(outcomeAccepted)
	s.log.Debugf("job %s accepted for %s (status %s)", resp.JobID, ext, resp.JobStatus)
	return JobHandle{ID: resp.JobID, Extent: ext}, nil
}

// resolveLevels substitutes the advertised range for an empty list.
func (s *Service) resolveLevels(ctx context.Context, levels []int) ([]int, error) {
	if len(levels) == 0 {
		r, err := s.LevelRange(ctx)
		if err != nil {
			return nil, err
		}
		return r.Levels(), nil
	}
	return normalizeLevels(levels)
}
