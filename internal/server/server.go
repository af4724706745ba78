// Package server exposes the map state, session, location and account
// operations over HTTP/JSON, plus a server-sent-events stream of live
// location updates and a gRPC health endpoint.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/mapstate/internal/events"
	"github.com/alfredjeanlab/mapstate/internal/identity"
	"github.com/alfredjeanlab/mapstate/internal/kv"
	"github.com/alfredjeanlab/mapstate/internal/location"
	"github.com/alfredjeanlab/mapstate/internal/presence"
	"github.com/alfredjeanlab/mapstate/internal/state"
)

// Options tunes a Server. Zero values select the defaults.
type Options struct {
	// AdminToken guards the admin listing routes. Empty disables them.
	AdminToken string
	// PublicURL is the base of share links; the request Origin is used when empty.
	PublicURL string
	// AllowedOrigin is sent as Access-Control-Allow-Origin. Default "*".
	AllowedOrigin string
	// SessionTTL is the lifetime of login tokens.
	SessionTTL time.Duration
	// HistoryLimit is the number of past employee positions kept.
	HistoryLimit int
	// ListLimit bounds every key listing.
	ListLimit int
	// ProxyClient fetches image-proxy targets. The default has a 15s
	// timeout and refuses non-public addresses.
	ProxyClient *http.Client
}

// Server holds the services behind the HTTP API.
type Server struct {
	store     kv.Store
	publisher events.Publisher
	opts      Options

	states    *state.Service
	sessions  *state.Service
	locations *location.Service
	accounts  *identity.Accounts

	// Resolver maps session tokens to identities. It defaults to the
	// KV-backed account registry.
	Resolver identity.Resolver
	Presence *presence.Tracker

	sseHub  *sseHub
	relayed atomic.Bool
}

// New returns a Server backed by store, publishing events to p.
func New(store kv.Store, p events.Publisher, opts Options) *Server {
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	if opts.ListLimit <= 0 {
		opts.ListLimit = kv.DefaultListLimit
	}
	if opts.ProxyClient == nil {
		opts.ProxyClient = newProxyClient()
	}
	if p == nil {
		p = &events.NoopPublisher{}
	}
	accounts := identity.NewAccounts(store,
		identity.WithSessionTTL(opts.SessionTTL),
		identity.WithListLimit(opts.ListLimit),
	)
	return &Server{
		store:     store,
		publisher: p,
		opts:      opts,
		states:    state.New(store, state.Namespace, state.WithListLimit(opts.ListLimit)),
		sessions:  state.New(store, state.SessionNamespace, state.WithListLimit(opts.ListLimit)),
		locations: location.New(store, location.WithHistory(opts.HistoryLimit), location.WithListLimit(opts.ListLimit)),
		accounts:  accounts,
		Resolver:  accounts,
		Presence:  presence.New(),
		sseHub:    newSSEHub(),
	}
}

// StartPresenceReaper announces participants who have not reported for
// goneAfter, checking every sweepEvery. Zero durations select the tracker
// defaults. Call Close to stop it.
func (s *Server) StartPresenceReaper(goneAfter, sweepEvery time.Duration) {
	s.Presence.StartReaper(&presence.ReaperConfig{
		GoneAfter:     goneAfter,
		SweepInterval: sweepEvery,
		OnGone: func(room, actor string) {
			s.publish(context.Background(), events.DepartureTopic(room), events.ParticipantLeft{
				SessionID: room,
				UserID:    actor,
			})
		},
	})
}

// Close stops background work started by the server.
func (s *Server) Close() {
	s.Presence.Stop()
}

// RelayFrom feeds the SSE hub from the event bus instead of from local
// publishes, so that every replica streams every update. It returns once
// the subscription is in place; relaying stops when ctx is done.
func (s *Server) RelayFrom(ctx context.Context, sub events.Subscriber) error {
	ch, cancel, err := sub.Subscribe(events.TopicAll)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", events.TopicAll, err)
	}
	s.relayed.Store(true)
	go func() {
		defer s.relayed.Store(false)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				s.sseHub.broadcast(msg.Topic, msg.Data)
			}
		}
	}()
	return nil
}

// publish emits event on the bus and, unless the hub is fed from the bus,
// to local stream clients. Failures are logged and never reach the caller.
func (s *Server) publish(ctx context.Context, topic string, event any) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), topic, event); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
	if s.relayed.Load() {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to marshal event for SSE broadcast", "topic", topic, "error", err)
		return
	}
	s.sseHub.broadcast(topic, payload)
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }
