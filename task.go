package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"

	"tileexport/exporter"
)

// InitTask builds the export task from conf and the command line and runs it.
func InitTask() error {
	start := time.Now()

	task, err := NewTask()
	if err != nil {
		return err
	}
	paths, err := task.Run(SafeExitInst.Context())
	for _, p := range paths {
		log.Infof("saved %s", p)
	}
	if err != nil {
		return fmt.Errorf("task %s failed after %d package(s): %w", task.ID, len(paths), err)
	}

	secs := time.Since(start).Seconds()
	log.Printf("%.3fs finished, %d package(s) in %s", secs, len(paths), task.Output)
	return nil
}

// Task is one export run of the configured service.
type Task struct {
	ID      string
	Name    string
	Extent  exporter.ExtentInput
	Levels  []int
	Params  exporter.Params
	Output  string
	Bar     *pb.ProgressBar
	service *exporter.Service
}

// NewTask creates the export task described by conf and the flags.
func NewTask() (*Task, error) {
	svc, err := exporter.New(serviceConfig())
	if err != nil {
		return nil, err
	}

	ext, err := taskExtent()
	if err != nil {
		return nil, err
	}

	levels := conf.Levels
	if levelsFlag != "" {
		if levels, err = parseLevels(levelsFlag); err != nil {
			return nil, err
		}
	}

	extra, err := parseParams(conf.Service.Params)
	if err != nil {
		return nil, err
	}
	params, err := exporter.NewParams(extra)
	if err != nil {
		return nil, err
	}
	params.ExportBy = conf.Service.ExportBy
	params.StorageFormatType = conf.Service.StorageFormatType
	params.TilePackage = conf.Service.TilePackage
	params.AreaOfInterest = conf.Service.AreaOfInterest

	output := conf.Output.Directory
	if outputDir != "" {
		output = outputDir
	}

	id, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate task id: %w", err)
	}
	return &Task{
		ID:      id,
		Name:    conf.App.Title,
		Extent:  ext,
		Levels:  levels,
		Params:  params,
		Output:  output,
		service: svc,
	}, nil
}

func serviceConfig() exporter.Config {
	cfg := exporter.Config{
		URL:             conf.Service.URL,
		Token:           conf.Service.Token,
		Workers:         conf.Task.Workers,
		PollInterval:    conf.Task.PollInterval,
		MaxPollAttempts: conf.Task.MaxPollAttempts,
		MaxPollDuration: conf.Task.MaxPollDuration,
		MaxSplitDepth:   conf.Task.MaxSplitDepth,
		SubmitRate:      conf.Task.SubmitRate,
		SubmitBurst:     conf.Task.SubmitBurst,
		Client: exporter.ClientConfig{
			Timeout:    conf.Task.Timeout,
			MaxRetries: conf.Task.Retries,
		},
		Logger:  log,
		Metrics: MetricsInst,
	}
	if LedgerInst != nil {
		cfg.Ledger = LedgerInst
	}
	if conf.Service.MinLOD != nil && conf.Service.MaxLOD != nil {
		cfg.Levels = &exporter.LevelRange{Min: *conf.Service.MinLOD, Max: *conf.Service.MaxLOD}
	}
	return cfg
}

func taskExtent() (exporter.ExtentInput, error) {
	sr := exporter.SpatialReference{WKID: conf.Extent.WKID, LatestWKID: conf.Extent.LatestWKID}

	file := conf.Extent.Geojson
	if extentFile != "" {
		file = extentFile
	}
	if file != "" {
		return loadExtent(file, sr)
	}

	e := conf.Extent
	if e.XMin == 0 && e.YMin == 0 && e.XMax == 0 && e.YMax == 0 {
		return nil, errors.New("no extent configured, set [extent] or pass -e")
	}
	bounds := exporter.Bounds{XMin: e.XMin, YMin: e.YMin, XMax: e.XMax, YMax: e.YMax}
	if sr.WKID != 0 {
		bounds.SpatialReference = sr
	}
	return bounds, nil
}

// Run exports the task and keeps the progress bar in step with the service's
// job counters.
func (task *Task) Run(ctx context.Context) ([]string, error) {
	log.Infof("task %s: exporting %s to %s", task.ID, task.service.URL(), task.Output)

	task.Bar = pb.New64(0).Prefix(fmt.Sprintf("Task %s : ", task.ID)).Postfix("\n")
	task.Bar.SetRefreshRate(time.Second)
	task.Bar.Start()

	done := make(chan struct{})
	tracked := make(chan struct{})
	go func() {
		defer close(tracked)
		task.track(done, time.Second)
	}()

	paths, err := task.service.Export(ctx, task.Extent, task.Levels, task.Params, task.Output)
	close(done)
	<-tracked

	if err != nil {
		task.Bar.FinishPrint(fmt.Sprintf("Task %s stopped ~", task.ID))
	} else {
		task.Bar.FinishPrint(fmt.Sprintf("Task %s finished ~", task.ID))
	}
	return paths, err
}

func (task *Task) track(done <-chan struct{}, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			task.syncBar()
		case <-done:
			task.syncBar()
			return
		}
	}
}

func (task *Task) syncBar() {
	p := task.service.Progress()
	task.Bar.SetTotal64(p.Accepted)
	task.Bar.Set64(p.Completed)
}

// printOrphans lists ledger jobs that were accepted but never finished.
func printOrphans(w io.Writer) error {
	if LedgerInst == nil {
		return errors.New("no ledger configured, set ledger.path")
	}
	jobs, err := LedgerInst.Orphans()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(w, "no orphaned jobs")
		return nil
	}
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\tdepth %d\t%s\t%s\n", j.RunID, j.JobID, j.Depth, j.UpdatedAt.Format(time.RFC3339), j.Extent)
	}
	return nil
}
