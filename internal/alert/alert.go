// Package alert delivers delta-triggered notification side effects: alert
// sound, unread badge and desktop notifications. Every sink is best-effort
// and must never fail the caller.
package alert

import (
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"

	"github.com/taskhive/realtime/internal/dto"
)

// Permission is the state of the host's display permission.
type Permission int

const (
	PermissionUndetermined Permission = iota
	PermissionGranted
	PermissionDenied
)

// Sink receives one batch per unread-count increase: the size of the
// increase, the reconciled unread total and the most recent notification
// in the batch. Sinks render the total as-is rather than accumulating
// their own counter, so local mark-reads between batches never drift the
// badge.
type Sink interface {
	Alert(count, total int, latest dto.NotificationResponse)
	Clear()
}

// LogSink records alert batches in the log. It is the fallback when no
// richer side channel is available.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a logging sink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (s *LogSink) Alert(count, total int, latest dto.NotificationResponse) {
	s.logger.Info().Int("new", count).Int("unread", total).Str("type", latest.Type).Str("title", latest.Title).Msg("new notifications")
}

func (s *LogSink) Clear() {}

// TerminalSink rings the terminal bell and mirrors the unread count into
// the window title.
type TerminalSink struct {
	out     io.Writer
	appName string
	sound   bool
	badge   bool
	mu      sync.Mutex
}

// NewTerminalSink creates a terminal sink writing to out.
func NewTerminalSink(out io.Writer, appName string, sound, badge bool) *TerminalSink {
	return &TerminalSink{out: out, appName: appName, sound: sound, badge: badge}
}

func (s *TerminalSink) Alert(_, total int, _ dto.NotificationResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sound {
		_, _ = fmt.Fprint(s.out, "\a")
	}
	if s.badge {
		_, _ = fmt.Fprintf(s.out, "\033]0;(%d) %s\007", total, s.appName)
	}
}

func (s *TerminalSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.badge {
		_, _ = fmt.Fprintf(s.out, "\033]0;%s\007", s.appName)
	}
}

// DesktopSink shows OS-level notifications, gated on a permission check.
// Undetermined permission triggers one request before the first display;
// denial degrades to silence.
type DesktopSink struct {
	logger     zerolog.Logger
	permission Permission
	request    func() Permission
	display    func(title, body string) error
	mu         sync.Mutex
}

// NewDesktopSink creates a desktop sink. request resolves an undetermined
// permission; display shows the notification. Nil funcs get best-effort
// defaults (granted permission, notify-send).
func NewDesktopSink(request func() Permission, display func(title, body string) error, logger zerolog.Logger) *DesktopSink {
	if request == nil {
		request = func() Permission { return PermissionGranted }
	}
	if display == nil {
		display = notifySend
	}

	return &DesktopSink{
		logger:  logger.With().Str("component", "alert_desktop").Logger(),
		request: request,
		display: display,
	}
}

func (s *DesktopSink) Alert(count, _ int, latest dto.NotificationResponse) {
	s.mu.Lock()
	if s.permission == PermissionUndetermined {
		s.permission = s.request()
	}
	permission := s.permission
	s.mu.Unlock()

	if permission != PermissionGranted {
		return
	}

	title := latest.Title
	if count > 1 {
		title = fmt.Sprintf("%d new notifications", count)
	}

	if err := s.display(title, latest.Message); err != nil {
		s.logger.Debug().Err(err).Msg("desktop notification failed")
	}
}

func (s *DesktopSink) Clear() {}

func notifySend(title, body string) error {
	return exec.Command("notify-send", title, body).Run()
}

// MultiSink fans one batch out to several sinks.
type MultiSink []Sink

func (m MultiSink) Alert(count, total int, latest dto.NotificationResponse) {
	for _, sink := range m {
		sink.Alert(count, total, latest)
	}
}

func (m MultiSink) Clear() {
	for _, sink := range m {
		sink.Clear()
	}
}
