package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/armorclaw/faultline/internal/queue"
	"github.com/armorclaw/faultline/pkg/config"
	ferrors "github.com/armorclaw/faultline/pkg/errors"
	"github.com/armorclaw/faultline/pkg/logger"
	"github.com/armorclaw/faultline/pkg/netclient"
	"github.com/armorclaw/faultline/pkg/offline"
)

// requestKind is the offline operation kind for queued HTTP requests
const requestKind = "http"

type queuedRequest struct {
	Method string          `json:"method"`
	Path   string          `json:"path"`
	Body   json.RawMessage `json:"body,omitempty"`
}

func requestHandler(c *netclient.Client) offline.Handler {
	return func(ctx context.Context, payload []byte) error {
		var r queuedRequest
		if err := json.Unmarshal(payload, &r); err != nil {
			return fmt.Errorf("decode queued request: %w", err)
		}
		var in any
		if len(r.Body) > 0 {
			in = r.Body
		}
		return c.SendJSON(ctx, r.Method, r.Path, in, nil)
	}
}

// clientStack is the interceptor and the offline queue wired to follow it
type clientStack struct {
	ctx    context.Context
	log    *logger.Logger
	client *netclient.Client
	queue  *offline.Queue
	store  *queue.Store
}

// newClientStack connects the interceptor's connectivity signal to the
// offline queue.
func (a *app) newClientStack(ctx context.Context, opts ...netclient.Option) (*clientStack, error) {
	store, err := a.queueStore()
	if err != nil {
		return nil, err
	}

	s := &clientStack{ctx: ctx, log: a.log, store: store}
	opts = append([]netclient.Option{
		netclient.WithReporter(a.sys),
		netclient.WithLogger(a.log),
		netclient.WithConnectivity(s.connectivity),
	}, opts...)

	client, err := netclient.New(a.cfg.Network, opts...)
	if err != nil {
		return nil, err
	}
	s.client = client
	s.queue = offline.New(store, a.sys, a.sys.Store(),
		offline.WithMaxAttempts(a.cfg.Offline.MaxAttempts),
		offline.WithLogger(a.log),
	)
	s.queue.Register(requestKind, requestHandler(client))
	return s, nil
}

// connectivity follows the interceptor. Coming back online replays in the
// background so the request that noticed it is not held up.
func (s *clientStack) connectivity(online bool) {
	if !online {
		s.queue.SetOffline(s.ctx)
		return
	}
	go func() {
		res, err := s.queue.SetOnline(s.ctx)
		if err != nil {
			s.log.Warn("replay failed", "error", err)
			return
		}
		if res.Delivered > 0 || res.Failed > 0 {
			s.log.Info("replay finished", "delivered", res.Delivered, "failed", res.Failed)
		}
	}()
}

// reachable reports whether a health request got an answer from the server. Any
// response, including 4xx and 5xx, proves connectivity; a timeout does not.
func reachable(err error) bool {
	if err == nil {
		return true
	}
	re, ok := netclient.IsRequestError(err)
	if !ok || re.Fault == nil {
		return false
	}
	return !ferrors.IsOfflineFailure(re.Fault) && re.Fault.Code != ferrors.CodeNetworkTimeout
}

// probeLoop checks path every interval while the queue is offline. A probe
// that reaches the server brings the queue back online.
func (s *clientStack) probeLoop(ctx context.Context, cfg config.NetworkConfig, path string, interval time.Duration) error {
	cfg.MaxRetries = 0
	probe, err := netclient.New(cfg, netclient.WithLogger(logger.Discard()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if s.queue.State() != offline.Offline {
			continue
		}
		if reachable(probe.SendJSON(ctx, http.MethodHead, path, nil, nil)) {
			s.connectivity(true)
		}
	}
}
