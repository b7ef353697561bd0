package exporter

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const tileServerSuffix = "/VectorTileServer"

// Defaults applied by New.
const (
	DefaultWorkers       = 4
	DefaultPollInterval  = 5 * time.Second
	DefaultMaxSplitDepth = 3
)

// LevelRange is an inclusive range of levels of detail.
type LevelRange struct {
	Min int
	Max int
}

// Levels lists every level in the range.
func (r LevelRange) Levels() []int {
	return levelRange(r.Min, r.Max)
}

// Config describes one tile service and how exports against it are run.
type Config struct {
	// URL of the VectorTileServer, e.g.
	// https://host/arcgis/rest/services/Basemap/VectorTileServer
	URL   string
	Token string

	// Levels is the range exported when a caller gives no levels. When nil
	// it is read from the service's minLOD and maxLOD once.
	Levels *LevelRange

	// Workers bounds the number of submit, poll and fetch pipelines running
	// at once after a split.
	Workers int

	// PollInterval is the wait between job status checks.
	PollInterval time.Duration
	// MaxPollAttempts and MaxPollDuration bound how long a job is polled.
	// Zero means unbounded.
	MaxPollAttempts int
	MaxPollDuration time.Duration

	// MaxSplitDepth is how many times an extent may be split. A value of 1
	// splits the top level request once and treats a second overflow as fatal.
	MaxSplitDepth int

	// SubmitRate limits job submissions per second; SubmitBurst is the
	// limiter bucket size. Zero rate means unlimited.
	SubmitRate  float64
	SubmitBurst int

	Client  ClientConfig
	Logger  logrus.FieldLogger
	Metrics *Metrics
	Ledger  Ledger
}

// Service runs exports against one VectorTileServer.
type Service struct {
	cfg     Config
	base    string
	client  *client
	limiter *rate.Limiter
	log     logrus.FieldLogger
	metrics *Metrics
	ledger  Ledger

	mu     sync.Mutex
	levels *LevelRange

	progress counters
}

// New validates cfg and returns a Service. It makes no network calls.
func New(cfg Config) (*Service, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrNotTileService, cfg.URL)
	}
	u.RawQuery, u.Fragment = "", ""
	u.Path = strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(u.Path, tileServerSuffix) {
		return nil, fmt.Errorf("%w: %q does not end with %s", ErrNotTileService, cfg.URL, tileServerSuffix)
	}
	if cfg.Levels != nil && (cfg.Levels.Min < 0 || cfg.Levels.Max < cfg.Levels.Min) {
		return nil, fmt.Errorf("%w: range %d..%d", ErrInvalidLevel, cfg.Levels.Min, cfg.Levels.Max)
	}

	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxSplitDepth <= 0 {
		cfg.MaxSplitDepth = DefaultMaxSplitDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SubmitRate > 0 {
		burst := cfg.SubmitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), burst)
	}

	s := &Service{
		cfg:     cfg,
		base:    u.String(),
		client:  newClient(u.Host, cfg.Client),
		limiter: limiter,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		ledger:  cfg.Ledger,
	}
	if cfg.Levels != nil {
		r := *cfg.Levels
		s.levels = &r
	}
	return s, nil
}

// URL is the normalized service URL.
func (s *Service) URL() string { return s.base }

type serviceInfo struct {
	envelope
	MinLOD *int `json:"minLOD"`
	MaxLOD *int `json:"maxLOD"`
}

// LevelRange returns the levels the service advertises, fetching them on
// first use when they were not configured.
func (s *Service) LevelRange(ctx context.Context) (LevelRange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.levels != nil {
		return *s.levels, nil
	}

	r, err := s.client.get(ctx, s.base+"?"+s.query().Encode())
	if err != nil {
		return LevelRange{}, fmt.Errorf("describe service: %w", err)
	}
	var info serviceInfo
	if err := decode(r, &info); err != nil {
		return LevelRange{}, fmt.Errorf("describe service: %w", err)
	}
	if e := info.Error; e != nil {
		return LevelRange{}, &ServiceError{Code: e.Code, Message: e.Message}
	}
	if info.MinLOD == nil || info.MaxLOD == nil || *info.MinLOD < 0 || *info.MaxLOD < *info.MinLOD {
		return LevelRange{}, fmt.Errorf("describe service: %w: no usable minLOD/maxLOD", ErrInvalidLevel)
	}

	s.levels = &LevelRange{Min: *info.MinLOD, Max: *info.MaxLOD}
	s.log.Debugf("service %s advertises levels %d..%d", s.base, s.levels.Min, s.levels.Max)
	return *s.levels, nil
}

func (s *Service) query() url.Values {
	q := url.Values{}
	q.Set(paramFormat, "json")
	if s.cfg.Token != "" {
		q.Set(paramToken, s.cfg.Token)
	}
	return q
}

func (s *Service) exportURL() string {
	return s.base + "/exportTiles"
}

func (s *Service) jobURL(id string) string {
	return s.base + "/jobs/" + url.PathEscape(id) + "?" + s.query().Encode()
}
