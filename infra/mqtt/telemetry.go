package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/core/telemetry"
)

var (
	_ telemetry.Source = (*Client)(nil)
	_ telemetry.Writer = (*Client)(nil)
)

// topicSubs fans one broker subscription out to every open conn on it.
type topicSubs struct {
	conns map[*conn]struct{}
}

type conn struct {
	c     *Client
	topic string
	h     telemetry.Handler
	lost  chan struct{}
	once  sync.Once
}

func (c *conn) Lost() <-chan struct{} { return c.lost }

func (c *conn) markLost() { c.once.Do(func() { close(c.lost) }) }

// Close removes the conn and unsubscribes the topic when it was the last one.
func (c *conn) Close() error {
	return c.c.release(c)
}

// TelemetryTopic returns the topic carrying samples for vehicleID.
func (c *Client) TelemetryTopic(vehicleID string) string {
	return fmt.Sprintf("%s/%s", c.cfg.TelemetryPrefix, vehicleID)
}

// Open subscribes h to the samples of vehicleID. The returned conn reports
// Lost when the broker session drops; the telemetry channel then reopens it.
func (c *Client) Open(ctx context.Context, vehicleID string, h telemetry.Handler) (telemetry.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.cli.IsConnected() {
		return nil, ErrNotConnected
	}
	topic := c.TelemetryTopic(vehicleID)
	cn := &conn{c: c, topic: topic, h: h, lost: make(chan struct{})}

	c.mu.Lock()
	subs, ok := c.topics[topic]
	if !ok {
		subs = &topicSubs{conns: make(map[*conn]struct{})}
		c.topics[topic] = subs
	}
	subs.conns[cn] = struct{}{}
	c.mu.Unlock()
	if ok {
		return cn, nil
	}

	token := c.cli.Subscribe(topic, c.cfg.qos(QoSTelemetry), c.onTelemetry(vehicleID))
	if token.Wait() && token.Error() != nil {
		c.mu.Lock()
		if c.topics[topic] == subs {
			delete(c.topics, topic)
		}
		var others []*conn
		for other := range subs.conns {
			if other != cn {
				others = append(others, other)
			}
		}
		c.mu.Unlock()
		for _, other := range others {
			other.markLost()
		}
		return nil, fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	c.logger.Debugf("subscribed to %s", topic)
	return cn, nil
}

func (c *Client) onTelemetry(vehicleID string) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		s, err := telemetry.Decode(vehicleID, msg.Payload(), time.Now())
		if err != nil {
			c.logger.Warnf("drop telemetry on %s: %v", msg.Topic(), err)
			return
		}
		c.mu.Lock()
		var targets []*conn
		if subs := c.topics[c.TelemetryTopic(vehicleID)]; subs != nil {
			targets = make([]*conn, 0, len(subs.conns))
			for cn := range subs.conns {
				targets = append(targets, cn)
			}
		}
		c.mu.Unlock()
		for _, cn := range targets {
			cn.h(s)
		}
	}
}

func (c *Client) release(cn *conn) error {
	c.mu.Lock()
	subs := c.topics[cn.topic]
	if subs == nil {
		c.mu.Unlock()
		return nil
	}
	delete(subs.conns, cn)
	last := len(subs.conns) == 0
	if last {
		delete(c.topics, cn.topic)
	}
	c.mu.Unlock()
	if !last || !c.cli.IsConnected() {
		return nil
	}
	if token := c.cli.Unsubscribe(cn.topic); token.Wait() && token.Error() != nil {
		return fmt.Errorf("unsubscribe %s: %w", cn.topic, token.Error())
	}
	return nil
}

// dropTelemetry forgets every subscription and signals each conn as lost.
func (c *Client) dropTelemetry() {
	c.mu.Lock()
	topics := c.topics
	c.topics = make(map[string]*topicSubs)
	c.mu.Unlock()
	for _, subs := range topics {
		for cn := range subs.conns {
			cn.markLost()
		}
	}
}

// Publish sends s on its vehicle topic.
func (c *Client) Publish(ctx context.Context, s model.TelemetrySample) error {
	payload, err := telemetry.Encode(s)
	if err != nil {
		return err
	}
	return c.publish(ctx, c.TelemetryTopic(s.VehicleID), c.cfg.qos(QoSTelemetry), payload,
		map[string]string{"vehicle_id": s.VehicleID})
}
