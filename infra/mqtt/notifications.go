package mqtt

import (
	"context"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// NotificationHandler consumes raw notification payloads.
type NotificationHandler interface {
	HandleRaw(ctx context.Context, data []byte) error
}

type notificationSub struct {
	topic  string
	h      NotificationHandler
	ctx    context.Context
	cancel context.CancelFunc
}

// SubscribeNotifications routes payloads on the notification topic to h.
// The subscription is restored after every reconnect. Each payload is
// handled on its own goroutine so a slow refetch never stalls telemetry.
func (c *Client) SubscribeNotifications(ctx context.Context, h NotificationHandler) error {
	sctx, cancel := context.WithCancel(ctx)
	sub := &notificationSub{topic: c.cfg.NotificationTopic, h: h, ctx: sctx, cancel: cancel}
	c.mu.Lock()
	if c.notify != nil {
		c.notify.cancel()
	}
	c.notify = sub
	c.mu.Unlock()
	if err := c.subscribeNotifications(sub); err != nil {
		cancel()
		return err
	}
	return nil
}

func (c *Client) subscribeNotifications(sub *notificationSub) error {
	token := c.cli.Subscribe(sub.topic, c.cfg.qos(QoSNotification), func(_ paho.Client, msg paho.Message) {
		if sub.ctx.Err() != nil {
			return
		}
		data := msg.Payload()
		go func() {
			if err := sub.h.HandleRaw(sub.ctx, data); err != nil {
				c.logger.Warnf("notification on %s: %v", msg.Topic(), err)
			}
		}()
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", sub.topic, token.Error())
	}
	c.logger.Infof("listening for notifications on %s", sub.topic)
	return nil
}

func (c *Client) resubscribeNotifications() {
	c.mu.Lock()
	sub := c.notify
	c.mu.Unlock()
	if sub == nil || sub.ctx.Err() != nil {
		return
	}
	if err := c.subscribeNotifications(sub); err != nil {
		c.logger.Errorf("%v", err)
	}
}
