package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/LeventeLantos/broadcast-dispatch/internal/audio"
	"github.com/LeventeLantos/broadcast-dispatch/internal/cache"
	"github.com/LeventeLantos/broadcast-dispatch/internal/channel"
	"github.com/LeventeLantos/broadcast-dispatch/internal/client"
	"github.com/LeventeLantos/broadcast-dispatch/internal/header"
	"github.com/LeventeLantos/broadcast-dispatch/internal/metrics"
	"github.com/LeventeLantos/broadcast-dispatch/internal/model"
	"github.com/LeventeLantos/broadcast-dispatch/internal/repo"
)

type ScheduleStore interface {
	FindDue(ctx context.Context, w model.Window) ([]model.ScheduleRequest, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
	ListRecent(ctx context.Context, limit int) ([]model.ScheduleRequest, error)
}

type AudioResolver interface {
	Resolve(ctx context.Context, generationID string) (*audio.Audio, error)
}

type ChannelResolver interface {
	Resolve(ctx context.Context, target, userID string) (*model.ChannelConfig, error)
}

type SendClient interface {
	Send(ctx context.Context, endpoint string, body []byte, headers map[string]string) (*client.Receipt, error)
}

type Config struct {
	WindowPast      time.Duration
	WindowFuture    time.Duration
	ExecutionBuffer time.Duration
	MinAudioBytes   int
	HTTPTimeout     time.Duration
	// RecentLimit is how many requests are logged when nothing is due.
	RecentLimit int
}

func (c Config) withDefaults() Config {
	if c.WindowPast <= 0 {
		c.WindowPast = 30 * time.Minute
	}
	if c.WindowFuture <= 0 {
		c.WindowFuture = 30 * time.Minute
	}
	if c.ExecutionBuffer <= 0 {
		c.ExecutionBuffer = 5 * time.Second
	}
	if c.MinAudioBytes <= 0 {
		c.MinAudioBytes = 100
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.RecentLimit <= 0 {
		c.RecentLimit = 5
	}
	return c
}

// Executor runs one dispatch pass over due schedule requests. Requests are
// processed one at a time and a failure never aborts the pass.
type Executor struct {
	store    ScheduleStore
	audio    AudioResolver
	channels ChannelResolver
	client   SendClient
	ledger   cache.Ledger
	cfg      Config
	clock    func() time.Time
	log      zerolog.Logger

	group singleflight.Group
}

func NewExecutor(store ScheduleStore, audio AudioResolver, channels ChannelResolver, client SendClient, cfg Config, log zerolog.Logger) *Executor {
	return &Executor{
		store:    store,
		audio:    audio,
		channels: channels,
		client:   client,
		ledger:   cache.NopLedger{},
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
		log:      log,
	}
}

func (e *Executor) WithLedger(l cache.Ledger) *Executor {
	if l != nil {
		e.ledger = l
	}
	return e
}

func (e *Executor) WithClock(clock func() time.Time) *Executor {
	if clock != nil {
		e.clock = clock
	}
	return e
}

func (e *Executor) Config() Config { return e.cfg }

// RunOnce performs a pass. Concurrent callers share the pass in flight.
func (e *Executor) RunOnce(ctx context.Context) (Summary, error) {
	v, err, shared := e.group.Do("run", func() (any, error) {
		return e.run(ctx)
	})
	if shared {
		e.log.Debug().Msg("joined executor pass already in flight")
	}
	return v.(Summary), err
}

// Recent returns the latest requests of any status.
func (e *Executor) Recent(ctx context.Context, limit int) ([]model.ScheduleRequest, error) {
	if limit <= 0 {
		limit = e.cfg.RecentLimit
	}
	return e.store.ListRecent(ctx, limit)
}

func (e *Executor) run(ctx context.Context) (Summary, error) {
	started := time.Now()
	defer func() {
		metrics.ExecutorRunDuration.Observe(time.Since(started).Seconds())
	}()

	now := e.clock()
	window := model.Window{
		From: now.Add(-e.cfg.WindowPast),
		To:   now.Add(e.cfg.WindowFuture),
	}
	summary := Summary{
		RunID:     uuid.NewString(),
		Timestamp: now,
		Window:    window,
		Results:   []Result{},
	}
	log := e.log.With().Str("run_id", summary.RunID).Logger()

	due, err := e.store.FindDue(ctx, window)
	if err != nil {
		metrics.ExecutorRuns.WithLabelValues("error").Inc()
		summary.Error = err.Error()
		log.Error().Err(err).Msg("failed to load due schedules")
		return summary, fmt.Errorf("find due schedules: %w", err)
	}

	if len(due) == 0 {
		metrics.ExecutorRuns.WithLabelValues("idle").Inc()
		e.logRecent(ctx, log)
		return summary, nil
	}

	log.Info().Int("due", len(due)).Time("from", window.From).Time("to", window.To).Msg("executor pass started")

	// Cancellation is honoured between requests only. A request that has
	// started runs to its status write so a delivered broadcast is recorded.
	work := context.WithoutCancel(ctx)
	for _, req := range due {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Int("remaining", len(due)-summary.Total).Msg("executor pass interrupted")
			metrics.ExecutorRuns.WithLabelValues("error").Inc()
			summary.Error = err.Error()
			return summary, err
		}
		summary.add(e.process(work, req))
	}

	metrics.ExecutorRuns.WithLabelValues("ok").Inc()
	log.Info().
		Int("executed", summary.ExecutedCount).
		Int("failed", summary.FailedCount).
		Int("deferred", summary.DeferredCount).
		Msg("executor pass finished")

	return summary, nil
}

func (e *Executor) logRecent(ctx context.Context, log zerolog.Logger) {
	recent, err := e.store.ListRecent(ctx, e.cfg.RecentLimit)
	if err != nil {
		log.Warn().Err(err).Msg("no due schedules; failed to list recent ones")
		return
	}
	log.Info().Int("recent", len(recent)).Msg("no due schedules")
	for _, r := range recent {
		log.Debug().
			Str("schedule_id", r.ID).
			Str("status", string(r.Status)).
			Time("scheduled_time", r.ScheduledAt).
			Msg("recent schedule")
	}
}

func (e *Executor) process(ctx context.Context, req model.ScheduleRequest) Result {
	log := e.log.With().Str("schedule_id", req.ID).Logger()
	res := Result{ScheduleID: req.ID, Deliveries: []Delivery{}}

	if until := req.ScheduledAt.Sub(e.clock()); until > e.cfg.ExecutionBuffer {
		log.Debug().Dur("time_until", until).Msg("schedule not ready yet")
		res.Status = ResultDeferred
		res.Kind = KindNotReady
		metrics.SchedulesProcessed.WithLabelValues(string(res.Status), string(res.Kind)).Inc()
		return res
	}

	deliveries, err := e.deliver(ctx, req, log)
	res.Deliveries = append(res.Deliveries, deliveries...)

	if err != nil && errors.Is(err, client.ErrCircuitOpen) && !anyDelivered(res.Deliveries) {
		// Nothing reached the endpoint; a later pass gets another attempt.
		res.Status = ResultDeferred
		res.Kind = KindCircuitOpen
		res.Reason = err.Error()
		log.Warn().Err(err).Msg("endpoint circuit open; schedule left for a later pass")
		metrics.SchedulesProcessed.WithLabelValues(string(res.Status), string(res.Kind)).Inc()
		return res
	}

	if err != nil {
		res.Status = ResultFailed
		res.Kind = kindOf(err)
		res.Reason = err.Error()
		log.Warn().Err(err).Str("kind", string(res.Kind)).Msg("schedule failed")

		if werr := e.store.MarkFailed(ctx, req.ID, res.Reason); werr != nil {
			log.Error().Err(werr).Msg("failed to persist failed status")
		} else {
			res.StatusPersisted = true
		}
		metrics.SchedulesProcessed.WithLabelValues(string(res.Status), string(res.Kind)).Inc()
		return res
	}

	res.Status = ResultSent
	res.Delivered = true
	sentAt := e.clock()

	if lerr := e.ledger.RecordDelivered(ctx, cache.Delivery{
		ScheduleID:  req.ID,
		DeliveredAt: sentAt,
		Targets:     deliveredTargets(res.Deliveries),
		FileIDs:     fileIDs(res.Deliveries),
	}); lerr != nil {
		log.Warn().Err(lerr).Msg("failed to record delivery in ledger")
	}

	if werr := e.store.MarkSent(ctx, req.ID, sentAt); werr != nil {
		res.Kind = KindStatusWriteFailed
		log.Error().Err(werr).Msg("audio delivered but sent status was not persisted")
		if errors.Is(werr, repo.ErrStatusConflict) {
			// Someone else already finished this row.
			_ = e.ledger.MarkPersisted(ctx, req.ID)
		}
	} else {
		res.StatusPersisted = true
		if lerr := e.ledger.MarkPersisted(ctx, req.ID); lerr != nil {
			log.Warn().Err(lerr).Msg("failed to clear ledger pending marker")
		}
	}

	log.Info().Int("deliveries", len(res.Deliveries)).Msg("schedule sent")
	metrics.SchedulesProcessed.WithLabelValues(string(res.Status), string(res.Kind)).Inc()
	return res
}

// deliver runs audio resolution, channel resolution and the POSTs for one
// request. Device fan-out is sequential and stops at the first failure.
func (e *Executor) deliver(ctx context.Context, req model.ScheduleRequest, log zerolog.Logger) ([]Delivery, error) {
	a, err := e.audio.Resolve(ctx, req.GenerationID)
	if err != nil {
		return nil, failWith(KindAudioUnavailable, err)
	}
	if len(a.Data) < e.cfg.MinAudioBytes {
		return nil, failWith(KindAudioTooSmall,
			fmt.Errorf("audio too small: %d bytes, need at least %d", len(a.Data), e.cfg.MinAudioBytes))
	}
	log.Debug().Str("source", string(a.Source)).Str("mime", a.MIMEType).Int("bytes", len(a.Data)).Msg("audio resolved")

	ch, err := e.channels.Resolve(ctx, req.TargetChannel, req.UserID)
	if err != nil {
		if errors.Is(err, channel.ErrEndpointMissing) {
			return nil, failWith(KindEndpointMissing, err)
		}
		return nil, failWith(KindChannelUnavailable, err)
	}

	params := header.Params{
		Request:     req,
		Channel:     *ch,
		ContentType: a.MIMEType,
		Length:      len(a.Data),
	}

	if !req.DeviceScoped() {
		d, err := e.send(ctx, ch.Endpoint(), a.Data, params, log)
		return []Delivery{d}, err
	}

	devices, unresolved := channel.Devices(ch, req.TargetDeviceIDs)
	deliveries := make([]Delivery, 0, len(req.TargetDeviceIDs))
	for _, id := range unresolved {
		log.Warn().Str("device_id", id).Str("channel_id", ch.ID).Msg("target device not registered on channel; skipping")
		deliveries = append(deliveries, Delivery{Mode: header.ModeDevice, DeviceID: id, Status: DeliveryUnresolved})
	}
	if len(devices) == 0 {
		return deliveries, failWith(KindChannelUnavailable,
			fmt.Errorf("%w: none of %d target devices resolved on channel %s", channel.ErrUnavailable, len(req.TargetDeviceIDs), ch.ID))
	}

	for i, dev := range devices {
		params.Device = &dev
		d, err := e.send(ctx, ch.Endpoint(), a.Data, params, log)
		deliveries = append(deliveries, d)
		if err != nil {
			for _, rest := range devices[i+1:] {
				deliveries = append(deliveries, Delivery{Mode: header.ModeDevice, DeviceID: rest.ID, Status: DeliverySkipped})
			}
			return deliveries, fmt.Errorf("device %s: %w", dev.ID, err)
		}
	}
	return deliveries, nil
}

func (e *Executor) send(ctx context.Context, endpoint string, body []byte, p header.Params, log zerolog.Logger) (Delivery, error) {
	d := Delivery{Mode: header.ModePublic}
	if p.Device != nil {
		d.Mode = header.ModeDevice
		d.DeviceID = p.Device.ID
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.HTTPTimeout)
	defer cancel()

	started := time.Now()
	receipt, err := e.client.Send(ctx, endpoint, body, header.Build(p))
	elapsed := time.Since(started)

	if err != nil {
		d.Status = DeliveryFailed
		d.Error = err.Error()
		kind := KindNetworkError
		var he *client.HTTPError
		if errors.As(err, &he) {
			kind = KindHTTPError
			d.StatusCode = he.StatusCode
		}
		metrics.DeliveryDuration.WithLabelValues(d.Mode, "error").Observe(elapsed.Seconds())
		log.Warn().Err(err).Str("mode", d.Mode).Str("device_id", d.DeviceID).Dur("elapsed", elapsed).Msg("delivery failed")
		return d, failWith(kind, err)
	}

	d.Status = DeliveryDelivered
	d.StatusCode = receipt.StatusCode
	d.FileID = receipt.FileID
	metrics.DeliveryDuration.WithLabelValues(d.Mode, "ok").Observe(elapsed.Seconds())
	log.Info().
		Str("mode", d.Mode).
		Str("device_id", d.DeviceID).
		Int("status_code", receipt.StatusCode).
		Str("file_id", receipt.FileID).
		Dur("elapsed", elapsed).
		Msg("audio delivered")
	return d, nil
}

func anyDelivered(ds []Delivery) bool {
	for _, d := range ds {
		if d.Status == DeliveryDelivered {
			return true
		}
	}
	return false
}

func deliveredTargets(ds []Delivery) []string {
	var out []string
	for _, d := range ds {
		if d.Status != DeliveryDelivered {
			continue
		}
		if d.DeviceID == "" {
			out = append(out, header.ModePublic)
		} else {
			out = append(out, d.DeviceID)
		}
	}
	return out
}

func fileIDs(ds []Delivery) []string {
	var out []string
	for _, d := range ds {
		if d.FileID != "" {
			out = append(out, d.FileID)
		}
	}
	return out
}
