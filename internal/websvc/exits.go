package websvc

import (
	"fmt"
	"net/http"

	"github.com/ssfun/ip-check/internal/batch"
	"github.com/ssfun/ip-check/internal/ipc"
)

// exitsRequest is the JSON shape of a synchronous or prepared exit request.
type exitsRequest struct {
	Exits []*batch.ExitInput `json:"exits"`
}

// exitResult is one row of a synchronous exit-check answer, in input order.
type exitResult struct {
	ExitType ipc.ExitType `json:"exitType"`
	IP       string       `json:"ip"`
	Result   *ipc.Derived `json:"result,omitempty"`
	Err      string       `json:"error,omitempty"`
}

// exitsResponse is the JSON shape of a synchronous exit-check answer.
type exitsResponse struct {
	Results []*exitResult `json:"results"`
}

// handlePrepareExits canonicalizes raw exit rows into an ordered,
// deduplicated batch without running any checks.
func (svc *Service) handlePrepareExits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req exitsRequest
	err := readJSONBody(r, &req)
	if err != nil {
		svc.writeError(ctx, w, http.StatusBadRequest, CodeBadRequest, err.Error())

		return
	}

	svc.writeJSON(ctx, w, http.StatusOK, batch.PrepareExits(req.Exits))
}

// handleCheckExits runs the whole exit batch and answers once, with the
// per-exit results mapped back onto the input rows.
func (svc *Service) handleCheckExits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req exitsRequest
	err := readJSONBody(r, &req)
	if err != nil {
		svc.writeError(ctx, w, http.StatusBadRequest, CodeBadRequest, err.Error())

		return
	}

	prepared := batch.PrepareExits(req.Exits)

	// Collect the stream into a per-IP map.  Rows sharing an IP share the
	// result.
	recs := map[string]*ipc.Derived{}
	errs := map[string]string{}
	for ev := range svc.scheduler.Stream(ctx, prepared.Items()) {
		switch ev.Type {
		case batch.EventTypeResult:
			recs[ev.IP] = ev.Result
		case batch.EventTypeError:
			if ev.Code == batch.CodeStreamError {
				svc.writeInternalError(ctx, w, ctx.Err())

				return
			}

			errs[ev.IP] = ev.Err
		}
	}

	results := make([]*exitResult, 0, len(req.Exits))
	for _, e := range req.Exits {
		if e.CFData == nil || e.CFData.IP == "" {
			continue
		}

		res := &exitResult{
			ExitType: e.ExitType,
			IP:       e.CFData.IP,
			Result:   recs[e.CFData.IP],
			Err:      errs[e.CFData.IP],
		}
		results = append(results, res)
	}

	svc.writeJSON(ctx, w, http.StatusOK, &exitsResponse{Results: results})
}

// exitDetailRequest is the JSON shape of a single-exit detail request.
type exitDetailRequest struct {
	CFData   *ipc.EdgeSnapshot `json:"cfData"`
	ExitType ipc.ExitType      `json:"exitType"`
}

// handleExitDetail serves the full derived record of one exit, with the edge
// snapshot overlaid.
func (svc *Service) handleExitDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req exitDetailRequest
	err := readJSONBody(r, &req)
	if err != nil {
		svc.writeError(ctx, w, http.StatusBadRequest, CodeBadRequest, err.Error())

		return
	}

	if req.CFData == nil || !ipc.IsIP(req.CFData.IP) {
		svc.writeError(ctx, w, http.StatusBadRequest, CodeBadRequest, "bad exit data")

		return
	}

	rec, err := svc.CheckDerived(ctx, req.CFData.IP, req.CFData)
	if err != nil {
		svc.writeInternalError(ctx, w, err)

		return
	}

	svc.writeJSON(ctx, w, http.StatusOK, &ipDetailResponse{Result: rec})
}

// handleExitBatchStream streams an exit batch as server-sent events.
func (svc *Service) handleExitBatchStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req exitsRequest
	err := readJSONBody(r, &req)
	if err != nil {
		svc.writeError(ctx, w, http.StatusBadRequest, CodeBadRequest, err.Error())

		return
	}

	items := batch.PrepareExits(req.Exits).Items()
	if !svc.checkBatchSize(w, r, len(items)) {
		return
	}

	svc.serveStream(ctx, w, items)
}

// ipBatchItem is one entry of a plain IP-list stream request.  Type is the
// client's own address-family label; it is accepted and ignored, since the
// family is derived from the address itself.
type ipBatchItem struct {
	IP   string `json:"ip"`
	Type string `json:"type,omitempty"`
}

// ipBatchRequest is the JSON shape of a plain IP-list stream request.
type ipBatchRequest struct {
	IPs []*ipBatchItem `json:"ips"`
}

// handleIPBatchStream streams checks of a plain IP list as server-sent
// events.
func (svc *Service) handleIPBatchStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ipBatchRequest
	err := readJSONBody(r, &req)
	if err != nil {
		svc.writeError(ctx, w, http.StatusBadRequest, CodeBadRequest, err.Error())

		return
	}

	items := make([]*batch.Item, 0, len(req.IPs))
	for i, item := range req.IPs {
		ip := ""
		if item != nil {
			ip = item.IP
		}

		if !ipc.IsIP(ip) {
			svc.writeError(
				ctx,
				w,
				http.StatusBadRequest,
				CodeBadRequest,
				checkAddrValidationErr(i, ip).Error(),
			)

			return
		}

		items = append(items, &batch.Item{IP: ip})
	}

	items = batch.Dedup(items)
	if !svc.checkBatchSize(w, r, len(items)) {
		return
	}

	svc.serveStream(ctx, w, items)
}

// checkBatchSize refuses oversized or empty batches.  It reports whether the
// stream may proceed.
func (svc *Service) checkBatchSize(w http.ResponseWriter, r *http.Request, n int) (ok bool) {
	ctx := r.Context()
	switch {
	case n == 0:
		svc.writeError(ctx, w, http.StatusBadRequest, CodeBadRequest, "empty batch")

		return false
	case n > batch.RecommendedMaxItems:
		svc.writeError(ctx, w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf(
			"batch of %d items exceeds the limit of %d",
			n,
			batch.RecommendedMaxItems,
		))

		return false
	default:
		return true
	}
}
