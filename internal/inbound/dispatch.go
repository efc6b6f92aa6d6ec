package inbound

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/linkerd-sidecar/meshcore/internal/errkind"
	"github.com/linkerd-sidecar/meshcore/internal/metrics"
	"github.com/linkerd-sidecar/meshcore/internal/outbound"
	"github.com/linkerd-sidecar/meshcore/internal/stack"
	"github.com/linkerd-sidecar/meshcore/internal/target"
)

// requestKey is the per-request routing key spec §4.4 step 7 calls the
// "RequestTarget": the resolved logical destination plus the accepted
// connection's HTTP version. The version only separates cache entries;
// dispatchService sends every request to the endpoint as HTTP/1.1.
type requestKey struct {
	Logical string
	Version target.HTTPVersion
}

// dispatchService resolves one logical destination through
// internal/outbound and forwards a single request/response over a fresh
// endpoint connection, downgrading every outbound dial to HTTP/1.1
// regardless of how the inbound side was speaking (spec §4.4 step 6's
// "downgrades the transport protocol when a peer outbound previously
// upgraded it").
type dispatchService struct {
	outbound *outbound.Stack
	logical  string
}

func (d dispatchService) Ready(ctx context.Context) error { return nil }

func (d dispatchService) Call(ctx context.Context, req *http.Request) (*http.Response, error) {
	ep, done, err := d.outbound.Pick(ctx, d.logical)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	conn, err := d.outbound.Connect(ctx, ep)
	if err != nil {
		if done != nil {
			done(time.Since(started))
		}
		return nil, err
	}

	outReq := req.Clone(ctx)
	outReq.RequestURI = ""
	outReq.URL.Scheme = "http"
	outReq.URL.Host = ep.Addr.String()
	outReq.Proto = "HTTP/1.1"
	outReq.ProtoMajor = 1
	outReq.ProtoMinor = 1

	if err := outReq.Write(conn); err != nil {
		conn.Close()
		if done != nil {
			done(time.Since(started))
		}
		return nil, errkind.Wrap(errkind.Io, "writing request to endpoint failed", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), outReq)
	latency := time.Since(started)
	metrics.EndpointRTT.Observe(latency.Seconds())
	if done != nil {
		done(latency)
	}
	if err != nil {
		conn.Close()
		return nil, errkind.Wrap(errkind.Io, "reading response from endpoint failed", err)
	}

	resp.Body = &closeBodyAndConn{ReadCloser: resp.Body, conn: conn}
	return resp, nil
}

type closeBodyAndConn struct {
	io.ReadCloser
	conn io.Closer
}

func (c *closeBodyAndConn) Close() error {
	err := c.ReadCloser.Close()
	c.conn.Close()
	return err
}

// newHandler builds the per-connection HTTP handler: a router keyed by
// requestKey, backed by a single-flight idle-evicting cache of dispatch
// services (spec §4.8, reused via internal/stack.Cache), bounded by
// max_in_flight_requests and dispatch_timeout (spec §4.4 step 6).
func (p *Pipeline) newHandler(meta target.AcceptMeta, version target.HTTPVersion) http.Handler {
	factory := stack.NewServiceFunc[requestKey, *http.Request, *http.Response](
		func(key requestKey) (stack.Service[*http.Request, *http.Response], error) {
			dispatch := dispatchService{outbound: p.deps.Outbound, logical: key.Logical}

			// spec §4.4 step 7: layer route_request over the plain dispatch
			// service, bounded by profile_idle_timeout so a slow or absent
			// profile never stalls the first request for a new logical
			// (spec §4.4 step 7's when_unready fallback).
			profile, ok := p.deps.Outbound.Profile(key.Logical, p.deps.Config.ProfileIdleTimeout)
			if !ok || len(profile.Routes) == 0 {
				svc := stack.Service[*http.Request, *http.Response](dispatch)
				svc = stack.Timeout(svc, p.deps.Config.DispatchTimeout)
				return svc, nil
			}
			return newRouteRequest(dispatch, key.Logical, profile, p.deps.Config.DispatchTimeout), nil
		},
	)
	cached := stack.Cache[requestKey, *http.Request, *http.Response](
		context.Background(),
		factory,
		p.deps.Config.CacheMaxIdleAge,
		p.deps.Config.CacheMaxIdleAge/2+time.Second,
		nil,
	)
	router := stack.Router[requestKey, *http.Request, *http.Response](cached, func(req *http.Request) requestKey {
		name := outbound.ResolveLogicalName(req.Header, req.Host, meta.OriginalDst)
		req.Header.Del(outbound.DstOverrideHeader)
		return requestKey{Logical: name, Version: version}
	})
	limited := stack.ConcurrencyLimit[*http.Request, *http.Response](router, p.deps.Config.MaxInFlightRequests)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := stack.InsertTarget(r.Context(), meta)
		if err := limited.Ready(ctx); err != nil {
			writeError(w, err)
			return
		}
		resp, err := limited.Call(ctx, r)
		if err != nil {
			writeError(w, err)
			return
		}
		defer resp.Body.Close()
		copyHeader(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	})
}

func writeError(w http.ResponseWriter, err error) {
	kind := errkind.KindOf(err)
	metrics.ErrorsTotal.WithLabelValues(kind.String()).Inc()
	http.Error(w, kind.String(), errkind.HTTPStatus(kind))
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
