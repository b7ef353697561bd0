package exporter

import (
	"errors"
	"fmt"
)

// Input validation errors. They are returned before any network call.
var (
	ErrMalformedExtent         = errors.New("malformed extent")
	ErrInvalidExtent           = errors.New("invalid extent")
	ErrMissingSpatialReference = errors.New("missing spatial reference")
	ErrInvalidSpatialReference = errors.New("invalid spatial reference")
	ErrReservedParam           = errors.New("reserved export parameter")
	ErrInvalidLevel            = errors.New("invalid level of detail")
	ErrNotTileService          = errors.New("url is not a vector tile server")
)

// Job lifecycle errors.
var (
	ErrJobTimeout   = errors.New("job did not finish in time")
	ErrNoOutput     = errors.New("job finished without output url")
	ErrMissingJobID = errors.New("export response carries no job id")
)

// ServiceError is an error reported by the tile service that is not a
// recognized tile count overflow. It is never retried.
type ServiceError struct {
	Code    int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error %d: %s", e.Code, e.Message)
}

// OverflowError is returned by Submit when the requested extent and levels
// would produce more tiles than the service exports in one job.
type OverflowError struct {
	Signal  OverflowSignal
	Message string
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("tile count overflow: estimated %d, max %d", e.Signal.Estimated, e.Signal.Max)
}

// JobFailedError is returned by Poll when the job ends in a terminal state
// other than success.
type JobFailedError struct {
	JobID  string
	Status string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s ended with status %s", e.JobID, e.Status)
}

// DownloadError is returned by Fetch on a non-success HTTP status.
type DownloadError struct {
	URL        string
	StatusCode int
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: http status %d", e.URL, e.StatusCode)
}
