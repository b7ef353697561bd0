package exporter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	"golang.org/x/sync/errgroup"
)

// JobRecord is what a Ledger is told about a job.
type JobRecord struct {
	RunID  string
	JobID  string
	Extent Extent
	Depth  int
	Path   string
	Err    error
}

// Ledger keeps a record of remote jobs. JobAccepted is called as soon as
// the service accepts a job and JobFinished once it was downloaded or failed.
// Implementations must be safe for concurrent use.
type Ledger interface {
	JobAccepted(rec JobRecord)
	JobFinished(rec JobRecord)
}

// Progress is a snapshot of the service's job counters.
type Progress struct {
	Submitted  int64
	Accepted   int64
	Overflowed int64
	Completed  int64
}

type counters struct {
	submitted  atomic.Int64
	accepted   atomic.Int64
	overflowed atomic.Int64
	completed  atomic.Int64
}

// Progress returns the job counters accumulated over the service's lifetime.
func (s *Service) Progress() Progress {
	return Progress{
		Submitted:  s.progress.submitted.Load(),
		Accepted:   s.progress.accepted.Load(),
		Overflowed: s.progress.overflowed.Load(),
		Completed:  s.progress.completed.Load(),
	}
}

// export is the state of one Export call.
type export struct {
	s      *Service
	runID  string
	levels []int
	params Params
	dir    string
	sem    chan struct{}
	log    logrus.FieldLogger
}

// Export exports the tiles of extent at levels into outputDir and returns
// the paths of the downloaded packages. Nil levels means every level the
// service advertises.
//
// When the service refuses the request for having too many tiles, the
// extent is split into a grid and every cell is exported by its own job,
// Workers at a time. A cell that is still too large is split again, up to
// MaxSplitDepth levels. The first fatal error cancels the remaining jobs and
// is returned together with the paths downloaded so far.
func (s *Service) Export(ctx context.Context, extent ExtentInput, levels []int, params Params, outputDir string) ([]string, error) {
	ext, err := Canonicalize(extent)
	if err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	levels, err = s.resolveLevels(ctx, levels)
	if err != nil {
		return nil, err
	}

	runID, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	e := &export{
		s:      s,
		runID:  runID,
		levels: levels,
		params: params,
		dir:    outputDir,
		sem:    make(chan struct{}, s.cfg.Workers),
		log:    s.log.WithField("run", runID),
	}
	e.log.Infof("export %s levels %s", ext, joinLevels(levels))

	job, err := s.submit(ctx, ext, levels, params)
	var ovf *OverflowError
	switch {
	case err == nil:
		e.accepted(job, 0)
		path, err := e.finish(ctx, job, 0, "")
		if err != nil {
			return nil, err
		}
		return []string{path}, nil
	case errors.As(err, &ovf):
		return e.fanOut(ctx, ext, ovf, 1, "")
	default:
		return nil, err
	}
}

// fanOut splits ext and exports every cell concurrently.
func (e *export) fanOut(ctx context.Context, ext Extent, ovf *OverflowError, depth int, label string) ([]string, error) {
	if ovf.Signal.Max <= 0 {
		return nil, fmt.Errorf("extent %s: service allows no tiles per export: %w", ext, ovf)
	}
	if depth > e.s.cfg.MaxSplitDepth {
		return nil, fmt.Errorf("extent %s still over budget after %d splits: %w", ext, depth-1, ovf)
	}
	cells := Split(ext, ovf.Signal.Ratio())
	e.s.metrics.split()
	e.log.Infof("estimated %d tiles over max %d for %s, splitting into %d extents (depth %d)",
		ovf.Signal.Estimated, ovf.Signal.Max, ext, len(cells), depth)

	results := make([][]string, len(cells))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.s.cfg.Workers)
	for i, cell := range cells {
		if gctx.Err() != nil {
			break
		}
		i, cell := i, cell
		g.Go(func() error {
			paths, err := e.cell(gctx, cell, depth, subLabel(label, i+1))
			results[i] = paths
			return err
		})
	}
	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	var paths []string
	for _, r := range results {
		paths = append(paths, r...)
	}
	if err != nil {
		e.log.Errorf("export of %s aborted after %d of %d extents: %s", ext, len(paths), len(cells), err)
		return paths, err
	}
	return paths, nil
}

// cell exports one cell, splitting it again when it overflows.
func (e *export) cell(ctx context.Context, ext Extent, depth int, label string) ([]string, error) {
	path, ovf, err := e.pipeline(ctx, ext, depth, label)
	if ovf != nil {
		return e.fanOut(ctx, ext, ovf, depth+1, label)
	}
	if err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// pipeline runs submit, poll and fetch for one cell while holding a worker
// slot. The slot is released before an overflowing cell is split again.
func (e *export) pipeline(ctx context.Context, ext Extent, depth int, label string) (string, *OverflowError, error) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
	e.s.metrics.pipelineStarted()
	defer func() {
		e.s.metrics.pipelineDone()
		<-e.sem
	}()

	job, err := e.s.submit(ctx, ext, e.levels, e.params)
	var ovf *OverflowError
	if errors.As(err, &ovf) {
		return "", ovf, nil
	}
	if err != nil {
		return "", nil, err
	}
	e.accepted(job, depth)
	path, err := e.finish(ctx, job, depth, label)
	return path, nil, err
}

// finish polls an accepted job and downloads its first output.
func (e *export) finish(ctx context.Context, job JobHandle, depth int, label string) (string, error) {
	log := e.log.WithFields(logrus.Fields{"job": job.ID, "depth": depth})
	rec := JobRecord{RunID: e.runID, JobID: job.ID, Extent: job.Extent, Depth: depth}

	path, err := e.pollAndFetch(ctx, job, label)
	rec.Path, rec.Err = path, err
	if e.s.ledger != nil {
		e.s.ledger.JobFinished(rec)
	}
	if err != nil {
		log.Warnf("job failed: %s", err)
		return "", err
	}
	e.s.progress.completed.Add(1)
	log.Infof("job finished: %s", path)
	return path, nil
}

func (e *export) pollAndFetch(ctx context.Context, job JobHandle, label string) (string, error) {
	res, err := e.s.Poll(ctx, job)
	if err != nil {
		return "", err
	}
	name, err := fileNameOf(res.URL())
	if err != nil {
		return "", err
	}
	if label != "" {
		name = numbered(name, label)
	}
	return e.s.Fetch(ctx, res.URL(), e.dir, name)
}

func (e *export) accepted(job JobHandle, depth int) {
	if e.s.ledger != nil {
		e.s.ledger.JobAccepted(JobRecord{RunID: e.runID, JobID: job.ID, Extent: job.Extent, Depth: depth})
	}
}

func subLabel(parent string, n int) string {
	if parent == "" {
		return strconv.Itoa(n)
	}
	return parent + "-" + strconv.Itoa(n)
}
