package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/taskhive/realtime/internal/alert"
	"github.com/taskhive/realtime/internal/dto"
	"github.com/taskhive/realtime/internal/observability"
	"github.com/taskhive/realtime/internal/repository"
	"github.com/taskhive/realtime/internal/transport"
)

const alertDebounce = 250 * time.Millisecond

// NotificationFeed merges the periodic pull of the unread list with
// push-delivered notification events into one reconciled state: a
// deduplicated list, a non-negative unread counter and delta-triggered side
// effects. Unavailable-class pull failures degrade the feed silently and
// suppress further polling; genuine server errors surface and keep retrying.
type NotificationFeed struct {
	repo      repository.NotificationRepository
	push      PushChannel
	sink      alert.Sink
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	limit     int
	interval  time.Duration
	threshold int

	mu           sync.Mutex
	items        []dto.NotificationResponse
	known        map[string]bool // id -> read flag
	unread       int
	lastObserved int
	loading      bool
	pullErr      error
	unavailable  bool
	failStreak   int
	alertTimer   *time.Timer
	resume       chan struct{}
	stopOnce     sync.Once
	stopped      chan struct{}
}

// NewNotificationFeed creates the aggregator. Call Start to begin polling
// and push merging, Stop on session teardown.
func NewNotificationFeed(repo repository.NotificationRepository, push PushChannel, sink alert.Sink, limit int, interval time.Duration, threshold int, logger zerolog.Logger) *NotificationFeed {
	if limit <= 0 {
		limit = 20
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if threshold <= 0 {
		threshold = 3
	}

	return &NotificationFeed{
		repo:      repo,
		push:      push,
		sink:      sink,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "notification_feed").Logger(),
		tracer:    otel.Tracer("github.com/taskhive/realtime/internal/service/notifications"),
		limit:     limit,
		interval:  interval,
		threshold: threshold,
		known:     make(map[string]bool),
		loading:   true,
		resume:    make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}
}

// Start subscribes to push notifications and runs the poll loop until the
// context is cancelled or Stop is called.
func (f *NotificationFeed) Start(ctx context.Context) {
	f.push.On(transport.EventNotification, f.onPush)

	go func() {
		f.pullOnce(ctx)

		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.stopped:
				return
			case <-f.resume:
				f.pullOnce(ctx)
			case <-ticker.C:
				if f.Unavailable() {
					continue
				}
				f.pullOnce(ctx)
			}
		}
	}()
}

// Stop unsubscribes the push listener and halts polling.
func (f *NotificationFeed) Stop() {
	f.stopOnce.Do(func() {
		f.push.Off(transport.EventNotification)
		close(f.stopped)

		f.mu.Lock()
		if f.alertTimer != nil {
			f.alertTimer.Stop()
			f.alertTimer = nil
		}
		f.mu.Unlock()
	})
}

// Reset clears the degraded state and triggers an immediate pull. Invoked
// on the next login or another explicit external trigger.
func (f *NotificationFeed) Reset() {
	f.mu.Lock()
	f.unavailable = false
	f.failStreak = 0
	f.pullErr = nil
	f.mu.Unlock()

	select {
	case f.resume <- struct{}{}:
	default:
	}
}

func (f *NotificationFeed) pullOnce(ctx context.Context) {
	spanCtx, span := f.tracer.Start(ctx, "notifications.pull")
	defer span.End()

	list, err := f.repo.List(spanCtx, f.limit)
	if err != nil {
		span.RecordError(err)
		f.recordPullFailure(err)
		return
	}

	f.mu.Lock()
	previousRead := f.known
	known := make(map[string]bool, len(list.Items))
	items := make([]dto.NotificationResponse, 0, len(list.Items))
	for _, item := range list.Items {
		item.Message = f.sanitizer.Sanitize(item.Message)
		item.Title = f.sanitizer.Sanitize(item.Title)
		// The read flag is monotonic: an optimistic local mark-read is
		// never reverted by a stale pull.
		if previousRead[item.ID] {
			item.Read = true
		}
		known[item.ID] = item.Read
		items = append(items, item)
	}

	f.items = items
	f.known = known
	f.unread = list.UnreadCount
	if f.unread < 0 {
		f.unread = 0
	}
	f.loading = false
	f.pullErr = nil
	f.unavailable = false
	f.failStreak = 0
	f.scheduleAlertLocked()
	f.mu.Unlock()
}

// recordPullFailure sorts the failure into the taxonomy: unavailable-class
// errors count toward silent suppression, server errors surface and retry.
func (f *NotificationFeed) recordPullFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.loading = false

	if repository.IsUnavailable(err) {
		observability.NotificationPullFailures().WithLabelValues("unavailable").Inc()
		f.failStreak++
		if f.failStreak >= f.threshold && !f.unavailable {
			f.unavailable = true
			f.logger.Info().Int("failures", f.failStreak).Msg("notification endpoint unavailable, suppressing polls")
		}
		return
	}

	observability.NotificationPullFailures().WithLabelValues("server").Inc()
	f.pullErr = err
	f.logger.Warn().Err(err).Msg("notification pull failed")
}

func (f *NotificationFeed) onPush(payload json.RawMessage) {
	var notification dto.NotificationResponse
	if err := json.Unmarshal(payload, &notification); err != nil {
		f.logger.Warn().Err(err).Msg("invalid notification event")
		return
	}

	notification.Message = f.sanitizer.Sanitize(notification.Message)
	notification.Title = f.sanitizer.Sanitize(notification.Title)
	if notification.Type == "" {
		notification.Type = dto.NotificationTypeSystem
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.known[notification.ID]; ok {
		observability.DuplicatesSuppressed().WithLabelValues("notification").Inc()
		return
	}

	f.known[notification.ID] = notification.Read
	f.items = append([]dto.NotificationResponse{notification}, f.items...)
	if !notification.Read {
		f.unread++
	}

	observability.NotificationsPushed().WithLabelValues(notification.Type).Inc()
	f.scheduleAlertLocked()
}

// scheduleAlertLocked arms the debounced delta check. Batching here is what
// turns three rapid pushes into one "3 new" side-effect batch instead of
// three separate triggers.
func (f *NotificationFeed) scheduleAlertLocked() {
	if f.alertTimer != nil {
		return
	}
	f.alertTimer = time.AfterFunc(alertDebounce, f.flushAlerts)
}

func (f *NotificationFeed) flushAlerts() {
	f.mu.Lock()
	f.alertTimer = nil
	delta := f.unread - f.lastObserved
	total := f.unread
	f.lastObserved = f.unread

	var latest dto.NotificationResponse
	if delta > 0 {
		for _, item := range f.items {
			if !item.Read {
				latest = item
				break
			}
		}
	}
	f.mu.Unlock()

	if delta > 0 && f.sink != nil {
		f.sink.Alert(delta, total, latest)
	}
}

// MarkAsRead durable-writes the read flag, then flips it locally. The flag
// never reverts and the counter never goes negative.
func (f *NotificationFeed) MarkAsRead(ctx context.Context, notificationID string) error {
	spanCtx, span := f.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(
		attribute.String("notification.id", notificationID),
	))
	defer span.End()

	if err := f.repo.MarkRead(spanCtx, notificationID); err != nil {
		span.RecordError(err)
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.items {
		if f.items[i].ID != notificationID {
			continue
		}
		if !f.items[i].Read {
			f.items[i].Read = true
			f.known[notificationID] = true
			if f.unread > 0 {
				f.unread--
			}
			f.lastObserved = f.unread
		}
		break
	}

	return nil
}

// MarkAllAsRead durable-writes the reset, then zeroes the counter.
func (f *NotificationFeed) MarkAllAsRead(ctx context.Context) error {
	spanCtx, span := f.tracer.Start(ctx, "notifications.mark_all_read")
	defer span.End()

	if err := f.repo.MarkAllRead(spanCtx); err != nil {
		span.RecordError(err)
		return err
	}

	f.mu.Lock()
	for i := range f.items {
		f.items[i].Read = true
		f.known[f.items[i].ID] = true
	}
	f.unread = 0
	f.lastObserved = 0
	f.mu.Unlock()

	if f.sink != nil {
		f.sink.Clear()
	}

	return nil
}

// Delete durable-deletes the notification, then removes it locally.
func (f *NotificationFeed) Delete(ctx context.Context, notificationID string) error {
	spanCtx, span := f.tracer.Start(ctx, "notifications.delete", trace.WithAttributes(
		attribute.String("notification.id", notificationID),
	))
	defer span.End()

	if err := f.repo.Delete(spanCtx, notificationID); err != nil {
		span.RecordError(err)
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.items {
		if f.items[i].ID != notificationID {
			continue
		}
		if !f.items[i].Read && f.unread > 0 {
			f.unread--
			f.lastObserved = f.unread
		}
		f.items = append(f.items[:i], f.items[i+1:]...)
		delete(f.known, notificationID)
		break
	}

	return nil
}

// Items returns a copy of the aggregated list, newest first.
func (f *NotificationFeed) Items() []dto.NotificationResponse {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]dto.NotificationResponse, len(f.items))
	copy(out, f.items)
	return out
}

// UnreadCount returns the reconciled unread counter.
func (f *NotificationFeed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread
}

// Loading reports whether the first pull has settled.
func (f *NotificationFeed) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

// Err returns the last surfaced pull error. Unavailable-class failures are
// not reported here.
func (f *NotificationFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pullErr
}

// Unavailable reports whether the feed is in degraded mode.
func (f *NotificationFeed) Unavailable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unavailable
}
