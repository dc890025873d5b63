// Package app wires the live dispatch view from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/dispatchsync/api"
	apidispatch "github.com/kilianp07/dispatchsync/api/dispatch"
	"github.com/kilianp07/dispatchsync/api/vehicles"
	"github.com/kilianp07/dispatchsync/app/plugins"
	"github.com/kilianp07/dispatchsync/config"
	"github.com/kilianp07/dispatchsync/core/backend"
	coremetrics "github.com/kilianp07/dispatchsync/core/metrics"
	coremon "github.com/kilianp07/dispatchsync/core/monitoring"
	"github.com/kilianp07/dispatchsync/core/mutation"
	"github.com/kilianp07/dispatchsync/core/mutation/audit"
	"github.com/kilianp07/dispatchsync/core/notification"
	"github.com/kilianp07/dispatchsync/core/projection"
	"github.com/kilianp07/dispatchsync/core/snapshot"
	"github.com/kilianp07/dispatchsync/core/telemetry"
	"github.com/kilianp07/dispatchsync/core/view"
	"github.com/kilianp07/dispatchsync/infra/logger"
	"github.com/kilianp07/dispatchsync/infra/metrics"
	"github.com/kilianp07/dispatchsync/infra/monitoring"
	"github.com/kilianp07/dispatchsync/infra/mqtt"
	"github.com/kilianp07/dispatchsync/internal/eventbus"
)

// Service holds the long lived components of one process.
type Service struct {
	cfg *config.Config
	log logger.Logger

	Backend     backend.Backend
	Store       *snapshot.Store
	Channel     *telemetry.Channel
	Writer      telemetry.Writer
	Coordinator *mutation.Coordinator
	Router      *notification.Router
	Audit       audit.Store
	Toasts      *eventbus.TypedBus[notification.Toast]
	Events      *eventbus.TypedBus[mutation.Event]

	sink    *coremetrics.MultiSink
	monitor coremon.Monitor

	mqttOnce sync.Once
	mqtt     *mqtt.Client
	mqttErr  error

	closeMu sync.Mutex
	closed  bool
	closers []func() error
}

// New builds a Service from cfg. Broker sessions are opened here, so New
// fails when a configured transport is unreachable.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	logger.SetDefaultLevel(cfg.Logging.Level)
	s := &Service{
		cfg:    cfg,
		log:    logger.New("service"),
		Toasts: eventbus.NewTypedBuffered[notification.Toast](16),
		Events: eventbus.NewTypedBuffered[mutation.Event](64),
	}
	if err := s.init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) init(ctx context.Context) error {
	cfg := s.cfg
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return fmt.Errorf("monitoring: %w", err)
	}
	s.monitor = mon
	coremon.Init(mon)

	sinks, err := coremetrics.NewMetricsSinks(cfg.Metrics.Sinks)
	if err != nil {
		return err
	}
	s.sink = coremetrics.NewMultiSink(sinks...)
	for _, sk := range s.sink.Sinks {
		if c, ok := sk.(io.Closer); ok {
			s.addCloser(c.Close)
		}
	}

	env := plugins.Env{Config: cfg, Log: logger.New("plugins"), MQTT: s.mqttClient}
	if s.Backend, err = plugins.NewBackend(env); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	s.Store = snapshot.New(backend.NewResolver(s.Backend), snapshot.Options{
		StaleTime: cfg.Cache.StaleTime(),
		Logger:    logger.New("snapshot"),
		Metrics:   s.sink,
	})
	s.addCloser(func() error { s.Store.Close(); return nil })

	tr, err := plugins.OpenTransport(ctx, env)
	if err != nil {
		return fmt.Errorf("telemetry transport: %w", err)
	}
	if tr.Close != nil {
		s.addCloser(tr.Close)
	}
	s.Writer = tr.Writer
	if tr.Source != nil {
		s.Channel = telemetry.NewChannel(tr.Source, telemetry.Options{
			Logger:       logger.New("telemetry"),
			Metrics:      s.sink,
			ReconnectMax: cfg.Telemetry.ReconnectMax(),
		})
		s.addCloser(func() error { s.Channel.Close(); return nil })
	}

	if s.Audit, err = audit.Open(cfg.Logging.Audit); err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	if s.Audit != nil {
		s.addCloser(s.Audit.Close)
	}
	s.Coordinator = mutation.New(s.Store, s.Backend, mutation.Options{
		Logger:         logger.New("mutation"),
		Metrics:        s.sink,
		Monitor:        mon,
		Audit:          s.Audit,
		Events:         s.Events,
		RefetchTimeout: cfg.Cache.RefetchTimeout(),
	})

	s.Router = notification.NewRouter(s.Store, s.Toasts, logger.New("notification"))
	s.Router.RefetchTimeout = cfg.Notifications.RefetchTimeout()
	return nil
}

// addCloser registers fn to run on Close. Resources opened after Close are
// released right away.
func (s *Service) addCloser(fn func() error) {
	s.closeMu.Lock()
	if !s.closed {
		s.closers = append(s.closers, fn)
		s.closeMu.Unlock()
		return
	}
	s.closeMu.Unlock()
	if err := fn(); err != nil {
		s.log.Warnf("close after shutdown: %v", err)
	}
}

// mqttClient connects the broker session once and shares it.
func (s *Service) mqttClient() (*mqtt.Client, error) {
	s.mqttOnce.Do(func() {
		s.mqtt, s.mqttErr = mqtt.Connect(s.cfg.MQTT, logger.New("mqtt"))
		if s.mqttErr == nil {
			s.addCloser(func() error { s.mqtt.Disconnect(); return nil })
		}
	})
	return s.mqtt, s.mqttErr
}

func (s *Service) freshness() projection.Freshness {
	return projection.Freshness{MaxAge: s.cfg.Telemetry.MaxAge()}
}

// Run serves the API and keeps the board current until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	defer coremon.Recover()

	v := view.New(ctx, s.Store, s.Channel, logger.New("view"))
	defer v.Close()
	board, err := view.NewBoard(v, view.BoardOptions{Freshness: s.freshness()})
	if err != nil {
		return fmt.Errorf("board: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	if s.cfg.Notifications.Enabled {
		c, err := s.mqttClient()
		if err != nil {
			return fmt.Errorf("notifications: %w", err)
		}
		if err := c.SubscribeNotifications(ctx, s.Router); err != nil {
			return fmt.Errorf("notifications: %w", err)
		}
	}
	if d := s.cfg.Cache.RefetchInterval(); d > 0 {
		g.Go(func() error { s.poll(ctx, d); return nil })
	}
	g.Go(func() error { s.logEvents(ctx); return nil })
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		g.Go(func() error { return metrics.StartPromServer(ctx, addr) })
	}

	handler := api.NewRouter(api.Deps{
		Dispatch: apidispatch.NewHandler(board, s.Store, s.Coordinator, logger.New("api")),
		Vehicles: vehicles.NewHandler(s.Store, s.Channel, vehicles.Options{
			Freshness:      s.freshness(),
			Keepalive:      s.cfg.API.Keepalive(),
			AllowedOrigins: s.cfg.API.AllowedOrigins,
		}, logger.New("ws")),
		Audit:      s.Audit,
		AuditToken: s.cfg.API.Token,
	})
	g.Go(func() error { return api.Serve(ctx, s.cfg.API.Addr, handler, logger.New("api")) })
	return g.Wait()
}

// poll refetches every watched key on a fixed period so changes made by
// other clients show up without a notification.
func (s *Service) poll(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		rctx, cancel := context.WithTimeout(ctx, every)
		if err := s.Store.RefetchActive(rctx, snapshot.Key{}); err != nil && ctx.Err() == nil {
			s.log.Warnf("periodic refetch: %v", err)
		}
		cancel()
	}
}

// logEvents reports toasts and failed mutations.
func (s *Service) logEvents(ctx context.Context) {
	toasts := s.Toasts.Subscribe()
	defer s.Toasts.Unsubscribe(toasts)
	events := s.Events.Subscribe()
	defer s.Events.Unsubscribe(events)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-toasts:
			s.log.Infof("notification: %s", t.Title)
		case ev := <-events:
			if ev.Err != nil {
				s.log.Warnf("%s %s %s: %v", ev.Op, ev.TargetID, ev.Outcome, ev.Err)
			}
		}
	}
}

// Close releases everything New opened, newest first.
func (s *Service) Close() error {
	s.closeMu.Lock()
	closers := s.closers
	s.closers = nil
	s.closed = true
	s.closeMu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.Toasts.Close()
	s.Events.Close()
	if s.monitor != nil {
		s.monitor.Flush(s.cfg.Sentry.FlushTimeout())
	}
	return errors.Join(errs...)
}
