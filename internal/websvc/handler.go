package websvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ssfun/ip-check/internal/aisvc"
	"github.com/ssfun/ip-check/internal/dohres"
	"github.com/ssfun/ip-check/internal/ipc"
	"github.com/ssfun/ip-check/internal/keypool"
)

// maxReqBodySize bounds a JSON request body.
const maxReqBodySize = 1 << 20

// readJSONBody decodes the request body into v.
func readJSONBody(r *http.Request, v any) (err error) {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxReqBodySize))

	return dec.Decode(v)
}

// nullableStr returns nil for the empty string, so that it renders as JSON
// null.
func nullableStr(s string) (p *string) {
	if s == "" {
		return nil
	}

	return &s
}

// configResponse is the JSON shape of the config endpoint.
type configResponse struct {
	Hosts    configHosts    `json:"hosts"`
	Timeouts configTimeouts `json:"timeouts"`
}

// configHosts is the hosts part of a config response.
type configHosts struct {
	IPv4 *string `json:"IPV4_HOST"`
	IPv6 *string `json:"IPV6_HOST"`
	CFv4 *string `json:"CFV4_HOST"`
	CFv6 *string `json:"CFV6_HOST"`
	HE   *string `json:"HE_HOST"`
}

// configTimeouts is the timeouts part of a config response, in milliseconds.
type configTimeouts struct {
	Frontend     int64 `json:"frontend"`
	Connectivity int64 `json:"connectivity"`
}

// handleConfig serves the frontend bootstrap configuration.
func (svc *Service) handleConfig(w http.ResponseWriter, r *http.Request) {
	svc.writeJSON(r.Context(), w, http.StatusOK, &configResponse{
		Hosts: configHosts{
			IPv4: nullableStr(svc.hosts.IPv4),
			IPv6: nullableStr(svc.hosts.IPv6),
			CFv4: nullableStr(svc.hosts.CFv4),
			CFv6: nullableStr(svc.hosts.CFv6),
			HE:   nullableStr(svc.hosts.HE),
		},
		Timeouts: configTimeouts{
			Frontend:     svc.frontendTimeout.Milliseconds(),
			Connectivity: svc.connectivityTimeout.Milliseconds(),
		},
	})
}

// resolveResponse is the JSON shape of a domain resolution.
type resolveResponse struct {
	Domain      string               `json:"domain"`
	ResolvedIPs []*dohres.ResolvedIP `json:"resolvedIps"`
}

// handleCheck serves the polymorphic check endpoint: an IP, a domain, or
// nothing, which means the client's own address.
func (svc *Service) handleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	target := r.URL.Query().Get("ip")
	if target == "" {
		target = clientIP(r)
	}

	if target == "" {
		svc.writeError(ctx, w, http.StatusBadRequest, CodeBadRequest, "no target address")

		return
	}

	if !ipc.IsIP(target) {
		// A domain: answer with the resolution shape.
		svc.resolveDomain(ctx, w, target)

		return
	}

	rec, err := svc.CheckDerived(ctx, target, nil)
	if err != nil {
		svc.writeInternalError(ctx, w, err)

		return
	}

	svc.writeJSON(ctx, w, http.StatusOK, rec)
}

// handleResolve serves explicit domain resolution.
func (svc *Service) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	domain := r.URL.Query().Get("domain")
	if domain == "" {
		svc.writeError(ctx, w, http.StatusBadRequest, CodeBadRequest, "no domain")

		return
	}

	svc.resolveDomain(ctx, w, domain)
}

// resolveDomain resolves domain and writes the resolution shape.  All
// resolution failures are client errors.
func (svc *Service) resolveDomain(ctx context.Context, w http.ResponseWriter, domain string) {
	ips, err := svc.resolver.Resolve(ctx, domain)
	if err != nil {
		svc.writeError(ctx, w, http.StatusBadRequest, CodeBadRequest, err.Error())

		return
	}

	svc.writeJSON(ctx, w, http.StatusOK, &resolveResponse{
		Domain:      domain,
		ResolvedIPs: ips,
	})
}

// aiAnalysisRequest is the JSON shape of an analysis request.
type aiAnalysisRequest struct {
	Data *ipc.Derived `json:"data"`
	IP   string       `json:"ip"`
}

// handleAIAnalysis serves LLM summaries of derived records.
func (svc *Service) handleAIAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !svc.ai.Enabled() {
		svc.writeError(
			ctx,
			w,
			http.StatusServiceUnavailable,
			CodeServiceUnavailable,
			aisvc.MsgUnavailable,
		)

		return
	}

	var req aiAnalysisRequest
	err := readJSONBody(r, &req)
	if err != nil {
		svc.writeError(ctx, w, http.StatusBadRequest, CodeBadRequest, err.Error())

		return
	}

	if !ipc.IsIP(req.IP) {
		svc.writeError(ctx, w, http.StatusBadRequest, CodeBadRequest, "bad ip")

		return
	}

	if req.Data == nil {
		rec, recErr := svc.CheckDerived(ctx, req.IP, nil)
		if recErr != nil {
			svc.writeInternalError(ctx, w, recErr)

			return
		}

		req.Data = rec
	}

	svc.writeJSON(ctx, w, http.StatusOK, svc.ai.Analyze(ctx, req.IP, req.Data))
}

// ipDetailRequest is the JSON shape of a single-IP detail request.
type ipDetailRequest struct {
	IP string `json:"ip"`
}

// ipDetailResponse is the JSON shape of a single-IP detail answer.
type ipDetailResponse struct {
	Result *ipc.Derived `json:"result"`
}

// handleIPDetail serves one full derived record.
func (svc *Service) handleIPDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ipDetailRequest
	err := readJSONBody(r, &req)
	if err != nil {
		svc.writeError(ctx, w, http.StatusBadRequest, CodeBadRequest, err.Error())

		return
	}

	if !ipc.IsIP(req.IP) {
		svc.writeError(ctx, w, http.StatusBadRequest, CodeBadRequest, "bad ip")

		return
	}

	rec, err := svc.CheckDerived(ctx, req.IP, nil)
	if err != nil {
		svc.writeInternalError(ctx, w, err)

		return
	}

	svc.writeJSON(ctx, w, http.StatusOK, &ipDetailResponse{Result: rec})
}

// debugKeypoolResponse is the JSON shape of the key-pool debug endpoint.
type debugKeypoolResponse struct {
	Pools     map[string][]*keypool.KeyStatus `json:"pools"`
	UniqueIPs uint64                          `json:"uniqueIps"`
	Timestamp time.Time                       `json:"timestamp"`
}

// handleDebugKeypool exposes per-provider credential-pool health.
func (svc *Service) handleDebugKeypool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	svc.writeJSON(ctx, w, http.StatusOK, &debugKeypoolResponse{
		Pools:     svc.pools.Status(),
		UniqueIPs: svc.aggregator.UniqueIPs(),
		Timestamp: svc.clock.Now(),
	})
}

// checkAddrValidationErr formats a validation failure message.
func checkAddrValidationErr(i int, ip string) (err error) {
	return fmt.Errorf("item at index %d: bad ip %q", i, ip)
}
