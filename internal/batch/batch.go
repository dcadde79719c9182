// Package batch contains the streaming scheduler that fans a list of IPs or
// exits out to per-IP checks and emits results in completion order.
package batch

import (
	"context"
	"log/slog"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/uuid"
	"github.com/ssfun/ip-check/internal/ipc"
)

// Stream error codes.
const (
	// CodeItemFailed marks the failure of a single item; the stream
	// continues.
	CodeItemFailed = "ITEM_FAILED"

	// CodeStreamError marks an abort of the whole stream; it is the last
	// event before close.
	CodeStreamError = "STREAM_ERROR"
)

// Event types.
const (
	EventTypeResult = "result"
	EventTypeDone   = "done"
	EventTypeError  = "error"
)

// RecommendedMaxItems is the documented hard cap on batch size.  The
// scheduler itself does not enforce it; the HTTP layer does.
const RecommendedMaxItems = 20

// Progress is the completion counter attached to every event.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Event is one server-sent event of a batch stream.
type Event struct {
	// Type is one of [EventTypeResult], [EventTypeDone], and
	// [EventTypeError].
	Type string `json:"type"`

	// IP is the target of result and item-failure events.
	IP string `json:"ip,omitempty"`

	// Result is the derived record of a result event.
	Result *ipc.Derived `json:"result,omitempty"`

	// Code is the error code of an error event.
	Code string `json:"code,omitempty"`

	// Err is the human-readable message of an error event.
	Err string `json:"error,omitempty"`

	// Progress counts completed items.  It is nil on stream-fatal errors.
	Progress *Progress `json:"progress,omitempty"`
}

// Item is one input row of a batch stream.
type Item struct {
	// Edge is the optional per-exit edge snapshot.
	Edge *ipc.EdgeSnapshot

	// IP is the target address.  It must not be empty.
	IP string

	// ExitType is the exit this row describes, if any.
	ExitType ipc.ExitType
}

// IPChecker aggregates and derives the record for one IP.
type IPChecker interface {
	CheckDerived(
		ctx context.Context,
		ip string,
		edge *ipc.EdgeSnapshot,
	) (rec *ipc.Derived, err error)
}

// Scheduler runs batch streams.
type Scheduler struct {
	logger  *slog.Logger
	checker IPChecker
}

// Config is the configuration structure for [New].  All fields must not be
// nil.
type Config struct {
	// Logger is used to log the operation of the scheduler.
	Logger *slog.Logger

	// Checker produces the derived record for each unique IP.
	Checker IPChecker
}

// New returns a new properly initialized *Scheduler.  c must not be nil.
func New(c *Config) (s *Scheduler) {
	return &Scheduler{
		logger:  c.Logger,
		checker: c.Checker,
	}
}

// itemResult is the settled outcome of one unique IP.
type itemResult struct {
	rec *ipc.Derived
	err error
	ip  string
}

// Stream deduplicates items by IP, runs each unique IP concurrently, and
// returns an unbuffered channel of events in completion order.  The channel
// is closed after the done event, or after a single stream-error event when
// ctx is canceled.  Emissions that the consumer does not read before
// cancellation are dropped.
func (s *Scheduler) Stream(ctx context.Context, items []*Item) (events <-chan *Event) {
	unique := Dedup(items)
	total := len(unique)

	streamID := uuid.NewString()
	l := s.logger.With("stream_id", streamID)
	l.DebugContext(ctx, "starting batch stream", "items", len(items), "unique", total)

	out := make(chan *Event)
	resCh := make(chan *itemResult, total)

	for _, item := range unique {
		go func() {
			rec, err := s.checker.CheckDerived(ctx, item.IP, item.Edge)
			resCh <- &itemResult{
				rec: rec,
				err: err,
				ip:  item.IP,
			}
		}()
	}

	go func() {
		defer close(out)

		for completed := 0; completed < total; {
			var r *itemResult
			select {
			case <-ctx.Done():
				s.abort(ctx, l, out)

				return
			case r = <-resCh:
				completed++
			}

			ev := s.newItemEvent(ctx, l, r, &Progress{
				Completed: completed,
				Total:     total,
			})

			select {
			case <-ctx.Done():
				s.abort(ctx, l, out)

				return
			case out <- ev:
			}
		}

		done := &Event{
			Type: EventTypeDone,
			Progress: &Progress{
				Completed: total,
				Total:     total,
			},
		}

		select {
		case <-ctx.Done():
		case out <- done:
			l.DebugContext(ctx, "batch stream finished")
		}
	}()

	return out
}

// newItemEvent converts one settled item into a stream event.
func (s *Scheduler) newItemEvent(
	ctx context.Context,
	l *slog.Logger,
	r *itemResult,
	p *Progress,
) (ev *Event) {
	if r.err != nil {
		l.DebugContext(ctx, "batch item failed", "ip", r.ip, slogutil.KeyError, r.err)

		return &Event{
			Type:     EventTypeError,
			IP:       r.ip,
			Code:     CodeItemFailed,
			Err:      r.err.Error(),
			Progress: p,
		}
	}

	return &Event{
		Type:     EventTypeResult,
		IP:       r.ip,
		Result:   r.rec,
		Progress: p,
	}
}

// abort emits the stream-fatal error event, best-effort.
func (s *Scheduler) abort(ctx context.Context, l *slog.Logger, out chan<- *Event) {
	l.DebugContext(ctx, "batch stream aborted", slogutil.KeyError, ctx.Err())

	select {
	case out <- &Event{
		Type: EventTypeError,
		Code: CodeStreamError,
		Err:  ctx.Err().Error(),
	}:
	default:
	}
}

// Dedup collapses items to the first occurrence of each IP, preserving the
// input order of first occurrences.
func Dedup(items []*Item) (unique []*Item) {
	seen := map[string]struct{}{}
	for _, item := range items {
		if _, ok := seen[item.IP]; ok {
			continue
		}

		seen[item.IP] = struct{}{}
		unique = append(unique, item)
	}

	return unique
}
