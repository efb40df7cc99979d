package audit

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vodpipe/internal/logging"
)

// Outcome is the terminal result of a job.
type Outcome string

const (
	OutcomeComplete  Outcome = "complete"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

const (
	DefaultJobWindow     = 100
	DefaultEventCapacity = 1000
)

// Options sizes the recorder. Zero values select the defaults.
type Options struct {
	JobWindow     int
	EventCapacity int
	// Registerer receives the Prometheus collectors. Nil creates a private
	// registry so independent recorders never collide.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Clock      func() time.Time
}

// TierStat is one encoded rendition of a finished job.
type TierStat struct {
	Name      string        `json:"name"`
	Duration  time.Duration `json:"duration"`
	SizeBytes int64         `json:"size_bytes"`
}

// JobSummary is the retained record of a finished job.
type JobSummary struct {
	UploadID   string                   `json:"upload_id"`
	Outcome    Outcome                  `json:"outcome"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Stages     map[string]time.Duration `json:"stages"`
	Tiers      []TierStat               `json:"tiers,omitempty"`
	Retries    int                      `json:"retries"`
}

type activeJob struct {
	startedAt time.Time
	stageAt   map[string]time.Time
	stages    map[string]time.Duration
	tiers     []TierStat
	retries   int
}

// Recorder aggregates job timings and audit events.
type Recorder struct {
	mu      sync.Mutex
	active  map[string]*activeJob
	window  []JobSummary
	next    int
	size    int
	limit   int
	events  *eventLog
	metrics *collectors
	now     func() time.Time
	logger  *slog.Logger
}

// NewRecorder builds a recorder with its Prometheus collectors registered.
func NewRecorder(opts Options, logger *slog.Logger) *Recorder {
	if opts.JobWindow <= 0 {
		opts.JobWindow = DefaultJobWindow
	}
	if opts.EventCapacity <= 0 {
		opts.EventCapacity = DefaultEventCapacity
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Recorder{
		active:  make(map[string]*activeJob),
		window:  make([]JobSummary, opts.JobWindow),
		limit:   opts.JobWindow,
		events:  newEventLog(opts.EventCapacity),
		metrics: newCollectors(opts.Registerer, opts.Gatherer),
		now:     opts.Clock,
		logger:  logging.NewComponentLogger(logger, "audit"),
	}
}

// Record appends an event to the audit log, stamping it when needed.
func (r *Recorder) Record(ev Event) Event {
	if r == nil {
		return ev
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now().UTC()
	}
	return r.events.append(ev)
}

// Events returns the retained events for one upload, oldest first.
func (r *Recorder) Events(uploadID string) []Event {
	if r == nil {
		return nil
	}
	return r.events.snapshot(func(ev Event) bool { return ev.UploadID == uploadID })
}

// Recent returns up to n of the newest events, oldest first.
func (r *Recorder) Recent(n int) []Event {
	if r == nil {
		return nil
	}
	all := r.events.snapshot(nil)
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// JobStarted opens timing for uploadID.
func (r *Recorder) JobStarted(uploadID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if _, ok := r.active[uploadID]; !ok {
		r.active[uploadID] = &activeJob{
			startedAt: r.now(),
			stageAt:   make(map[string]time.Time),
			stages:    make(map[string]time.Duration),
		}
	}
	active := len(r.active)
	r.mu.Unlock()
	r.metrics.activeJobs.Set(float64(active))
}

// StageStarted marks the start of a stage.
func (r *Recorder) StageStarted(uploadID, stage string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	job := r.jobLocked(uploadID)
	job.stageAt[stage] = r.now()
	r.mu.Unlock()
	r.Record(Event{UploadID: uploadID, Type: EventStageStarted, Stage: stage})
}

// StageFinished closes a stage timer. A non-nil err records a stage failure
// instead of a completion.
func (r *Recorder) StageFinished(uploadID, stage string, err error) time.Duration {
	if r == nil {
		return 0
	}
	now := r.now()
	r.mu.Lock()
	job := r.jobLocked(uploadID)
	var elapsed time.Duration
	if started, ok := job.stageAt[stage]; ok {
		elapsed = now.Sub(started)
		delete(job.stageAt, stage)
	}
	if err == nil {
		job.stages[stage] += elapsed
	}
	r.mu.Unlock()

	ev := Event{UploadID: uploadID, Stage: stage, Attrs: map[string]string{"duration": elapsed.String()}}
	if err != nil {
		ev.Type = EventStageFailed
		ev.Detail = err.Error()
	} else {
		ev.Type = EventStageCompleted
		r.metrics.stageSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
	}
	r.Record(ev)
	return elapsed
}

// TierEncoded records one successful rendition.
func (r *Recorder) TierEncoded(uploadID, tier string, elapsed time.Duration, sizeBytes int64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	job := r.jobLocked(uploadID)
	job.tiers = append(job.tiers, TierStat{Name: tier, Duration: elapsed, SizeBytes: sizeBytes})
	r.mu.Unlock()
	r.metrics.tierSeconds.WithLabelValues(tier).Observe(elapsed.Seconds())
	r.metrics.tierBytes.WithLabelValues(tier).Add(float64(sizeBytes))
	r.Record(Event{
		UploadID: uploadID,
		Type:     EventTierEncoded,
		Stage:    "transcoding_hls",
		Attrs: map[string]string{
			"tier":       tier,
			"duration":   elapsed.String(),
			"size_bytes": formatInt(sizeBytes),
		},
	})
}

// TierSkipped records a rendition dropped after a non-fatal failure.
func (r *Recorder) TierSkipped(uploadID, tier string, err error) {
	if r == nil {
		return
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	r.metrics.tierSkips.WithLabelValues(tier).Inc()
	r.Record(Event{
		UploadID: uploadID,
		Type:     EventTierSkipped,
		Stage:    "transcoding_hls",
		Detail:   detail,
		Attrs:    map[string]string{"tier": tier},
	})
}

// Retry records a scheduled retry of a stage operation.
func (r *Recorder) Retry(uploadID, stage string, attempt int, delay time.Duration, err error) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.jobLocked(uploadID).retries++
	r.mu.Unlock()
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	r.metrics.retries.WithLabelValues(stage).Inc()
	r.Record(Event{
		UploadID: uploadID,
		Type:     EventRetryScheduled,
		Stage:    stage,
		Detail:   detail,
		Attrs: map[string]string{
			"attempt": formatInt(int64(attempt)),
			"delay":   delay.String(),
		},
	})
}

// JobFinished closes the job, moves it into the rolling window and appends
// the terminal event.
func (r *Recorder) JobFinished(uploadID string, outcome Outcome, detail string) JobSummary {
	if r == nil {
		return JobSummary{}
	}
	now := r.now()
	r.mu.Lock()
	job := r.jobLocked(uploadID)
	delete(r.active, uploadID)
	summary := JobSummary{
		UploadID:   uploadID,
		Outcome:    outcome,
		StartedAt:  job.startedAt,
		FinishedAt: now,
		Stages:     job.stages,
		Tiers:      job.tiers,
		Retries:    job.retries,
	}
	r.window[r.next] = summary
	r.next = (r.next + 1) % r.limit
	if r.size < r.limit {
		r.size++
	}
	active := len(r.active)
	r.mu.Unlock()

	r.metrics.activeJobs.Set(float64(active))
	r.metrics.jobs.WithLabelValues(string(outcome)).Inc()
	r.metrics.jobSeconds.WithLabelValues(string(outcome)).Observe(now.Sub(summary.StartedAt).Seconds())

	evType := EventJobCompleted
	switch outcome {
	case OutcomeFailed:
		evType = EventJobFailed
	case OutcomeCancelled:
		evType = EventJobCancelled
	}
	r.Record(Event{UploadID: uploadID, Type: evType, Detail: detail})
	r.logger.Debug("job summary recorded",
		logging.String(logging.FieldUploadID, uploadID),
		logging.String("outcome", string(outcome)),
		logging.Int("retries", summary.Retries),
	)
	return summary
}

// Jobs returns the retained window, oldest first.
func (r *Recorder) Jobs() []JobSummary {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JobSummary, 0, r.size)
	start := 0
	if r.size == r.limit {
		start = r.next
	}
	for i := 0; i < r.size; i++ {
		out = append(out, cloneSummary(r.window[(start+i)%r.limit]))
	}
	return out
}

func (r *Recorder) jobLocked(uploadID string) *activeJob {
	job, ok := r.active[uploadID]
	if !ok {
		job = &activeJob{
			startedAt: r.now(),
			stageAt:   make(map[string]time.Time),
			stages:    make(map[string]time.Duration),
		}
		r.active[uploadID] = job
	}
	return job
}

// DurationStats summarises a set of durations in milliseconds.
type DurationStats struct {
	Count int     `json:"count"`
	MinMS float64 `json:"min_ms"`
	MaxMS float64 `json:"max_ms"`
	AvgMS float64 `json:"avg_ms"`
}

// TierStats summarises encodes of one tier.
type TierStats struct {
	DurationStats
	AvgSizeBytes int64 `json:"avg_size_bytes"`
}

// Summary is the aggregate view served by the metrics endpoint.
type Summary struct {
	WindowSize   int                      `json:"window_size"`
	Completed    int                      `json:"completed"`
	Failed       int                      `json:"failed"`
	Cancelled    int                      `json:"cancelled"`
	SuccessRate  float64                  `json:"success_rate"`
	FailureRate  float64                  `json:"failure_rate"`
	ActiveJobs   int                      `json:"active_jobs"`
	TotalRetries int                      `json:"total_retries"`
	Stages       map[string]DurationStats `json:"stages"`
	Tiers        map[string]TierStats     `json:"tiers"`
	EventCount   int                      `json:"event_count"`
}

// Snapshot aggregates the rolling window. Rates are over all windowed jobs,
// so an empty window reports zero for both.
func (r *Recorder) Snapshot() Summary {
	if r == nil {
		return Summary{}
	}
	jobs := r.Jobs()
	r.mu.Lock()
	active := len(r.active)
	r.mu.Unlock()

	summary := Summary{
		WindowSize: len(jobs),
		ActiveJobs: active,
		Stages:     make(map[string]DurationStats),
		Tiers:      make(map[string]TierStats),
		EventCount: r.events.len(),
	}
	stageSamples := make(map[string][]time.Duration)
	tierSamples := make(map[string][]TierStat)
	for _, job := range jobs {
		switch job.Outcome {
		case OutcomeComplete:
			summary.Completed++
		case OutcomeFailed:
			summary.Failed++
		case OutcomeCancelled:
			summary.Cancelled++
		}
		summary.TotalRetries += job.Retries
		for stage, d := range job.Stages {
			stageSamples[stage] = append(stageSamples[stage], d)
		}
		for _, tier := range job.Tiers {
			tierSamples[tier.Name] = append(tierSamples[tier.Name], tier)
		}
	}
	if n := len(jobs); n > 0 {
		summary.SuccessRate = round3(float64(summary.Completed) / float64(n))
		summary.FailureRate = round3(float64(summary.Failed) / float64(n))
	}
	for stage, samples := range stageSamples {
		summary.Stages[stage] = durationStats(samples)
	}
	for tier, samples := range tierSamples {
		durations := make([]time.Duration, 0, len(samples))
		var total int64
		for _, s := range samples {
			durations = append(durations, s.Duration)
			total += s.SizeBytes
		}
		summary.Tiers[tier] = TierStats{
			DurationStats: durationStats(durations),
			AvgSizeBytes:  total / int64(len(samples)),
		}
	}
	return summary
}

func durationStats(samples []time.Duration) DurationStats {
	if len(samples) == 0 {
		return DurationStats{}
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	return DurationStats{
		Count: len(sorted),
		MinMS: ms(sorted[0]),
		MaxMS: ms(sorted[len(sorted)-1]),
		AvgMS: round3(ms(total) / float64(len(sorted))),
	}
}

func ms(d time.Duration) float64 {
	return round3(float64(d) / float64(time.Millisecond))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func cloneSummary(s JobSummary) JobSummary {
	stages := make(map[string]time.Duration, len(s.Stages))
	for k, v := range s.Stages {
		stages[k] = v
	}
	s.Stages = stages
	s.Tiers = append([]TierStat(nil), s.Tiers...)
	return s
}
