package websvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/ssfun/ip-check/internal/batch"
	"github.com/ssfun/ip-check/internal/ipchttp"
)

// noDeadline is the zero time passed to SetWriteDeadline to lift the write
// deadline of a streaming response.
var noDeadline = time.Time{}

// sseWriter encodes batch events as server-sent events.
type sseWriter struct {
	w     http.ResponseWriter
	flush func()
}

// newSSEWriter prepares w for event streaming and writes the response header.
// The per-request write deadline is lifted, since a stream legitimately
// outlives it.
func newSSEWriter(w http.ResponseWriter) (sw *sseWriter, err error) {
	rc := http.NewResponseController(w)
	err = rc.SetWriteDeadline(noDeadline)
	if err != nil {
		return nil, fmt.Errorf("lifting write deadline: %w", err)
	}

	hdr := w.Header()
	hdr.Set(httphdr.ContentType, ipchttp.HdrValTextEventStream)
	hdr.Set(httphdr.CacheControl, ipchttp.HdrValNoCache)
	w.WriteHeader(http.StatusOK)

	return &sseWriter{
		w: w,
		flush: func() {
			// Flush errors surface on the next write.
			_ = rc.Flush()
		},
	}, nil
}

// write emits one event.
func (sw *sseWriter) write(ev *batch.Event) (err error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	_, err = fmt.Fprintf(sw.w, "data: %s\n\n", data)
	if err != nil {
		return fmt.Errorf("writing event: %w", err)
	}

	sw.flush()

	return nil
}

// serveStream pipes a batch stream to the client as server-sent events until
// the stream closes or the client goes away.
func (svc *Service) serveStream(
	ctx context.Context,
	w http.ResponseWriter,
	items []*batch.Item,
) {
	sw, err := newSSEWriter(w)
	if err != nil {
		svc.writeInternalError(ctx, w, err)

		return
	}

	for ev := range svc.scheduler.Stream(ctx, items) {
		svc.metrics.IncStreamEvent(ctx, ev.Type)

		err = sw.write(ev)
		if err != nil {
			// The client is gone; drain the stream by canceling through the
			// request context, which ends with the channel closing.
			svc.logger.DebugContext(ctx, "stream client lost", slogutil.KeyError, err)

			return
		}
	}
}
