// Package redisfeed carries vehicle telemetry over Redis pub/sub. The last
// sample of each vehicle is also kept under a key so a new subscriber starts
// from the current position instead of waiting for the next push.
package redisfeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/dispatchsync/core/logger"
	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/core/telemetry"
)

// Config selects the server and naming.
type Config struct {
	URL    string `json:"url"`
	Prefix string `json:"prefix"`
	// LatestTTLSeconds bounds how long the last sample is replayed. Zero keeps it forever.
	LatestTTLSeconds int `json:"latest_ttl_seconds"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.URL == "" {
		c.URL = "redis://localhost:6379/0"
	}
	if c.Prefix == "" {
		c.Prefix = "telemetry"
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := redis.ParseURL(c.URL); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if c.LatestTTLSeconds < 0 {
		return errors.New("redis: latest_ttl_seconds must be >= 0")
	}
	return nil
}

// Feed implements telemetry.Source and telemetry.Writer.
type Feed struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	log    logger.Logger
}

var (
	_ telemetry.Source = (*Feed)(nil)
	_ telemetry.Writer = (*Feed)(nil)
)

// New wraps an existing client.
func New(rdb *redis.Client, cfg Config, log logger.Logger) *Feed {
	cfg.SetDefaults()
	return &Feed{
		rdb:    rdb,
		prefix: cfg.Prefix,
		ttl:    time.Duration(cfg.LatestTTLSeconds) * time.Second,
		log:    logger.OrNop(log),
	}
}

// Dial connects to cfg.URL and checks the server answers.
func Dial(ctx context.Context, cfg Config, log logger.Logger) (*Feed, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, cfg, log), nil
}

// Close closes the underlying client.
func (f *Feed) Close() error { return f.rdb.Close() }

func (f *Feed) channel(vehicleID string) string { return f.prefix + ":" + vehicleID }

func (f *Feed) latestKey(vehicleID string) string { return f.prefix + ":" + vehicleID + ":latest" }

// Publish sends s to subscribers and stores it as the latest sample.
func (f *Feed) Publish(ctx context.Context, s model.TelemetrySample) error {
	data, err := telemetry.Encode(s)
	if err != nil {
		return err
	}
	pipe := f.rdb.TxPipeline()
	pipe.Set(ctx, f.latestKey(s.VehicleID), data, f.ttl)
	pipe.Publish(ctx, f.channel(s.VehicleID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish telemetry for %s: %w", s.VehicleID, err)
	}
	return nil
}

// Latest returns the stored last sample of vehicleID.
func (f *Feed) Latest(ctx context.Context, vehicleID string) (model.TelemetrySample, bool, error) {
	data, err := f.rdb.Get(ctx, f.latestKey(vehicleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.TelemetrySample{}, false, nil
	}
	if err != nil {
		return model.TelemetrySample{}, false, err
	}
	s, err := telemetry.Decode(vehicleID, data, time.Now())
	if err != nil {
		return model.TelemetrySample{}, false, err
	}
	return s, true, nil
}

// Open subscribes h to vehicleID and replays the stored latest sample.
func (f *Feed) Open(ctx context.Context, vehicleID string, h telemetry.Handler) (telemetry.Conn, error) {
	ps := f.rdb.Subscribe(ctx, f.channel(vehicleID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", f.channel(vehicleID), err)
	}

	if s, ok, err := f.Latest(ctx, vehicleID); err != nil {
		f.log.Warnf("read latest telemetry for %s: %v", vehicleID, err)
	} else if ok {
		h(s)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &conn{ps: ps, cancel: cancel, lost: make(chan struct{}), done: make(chan struct{})}
	go c.receive(cctx, f, vehicleID, h)
	return c, nil
}

type conn struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	lost   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (c *conn) Lost() <-chan struct{} { return c.lost }

func (c *conn) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		err = c.ps.Close()
		<-c.done
	})
	return err
}

func (c *conn) receive(ctx context.Context, f *Feed, vehicleID string, h telemetry.Handler) {
	defer close(c.done)
	for {
		msg, err := c.ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				f.log.Warnf("telemetry subscription for %s lost: %v", vehicleID, err)
				close(c.lost)
			}
			return
		}
		s, err := telemetry.Decode(vehicleID, []byte(msg.Payload), time.Now())
		if err != nil {
			f.log.Warnf("drop telemetry on %s: %v", msg.Channel, err)
			continue
		}
		h(s)
	}
}
