// Package mqtt bridges the device cache onto an MQTT broker using Home
// Assistant's discovery convention, so zones and registers appear as native
// entities without per-register configuration on the broker side.
package mqtt

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// client wraps the paho client with reference-counted subscriptions that
// survive reconnects.
type client struct {
	conn   paho.Client
	mu     sync.Mutex
	subs   map[string]map[int]func([]byte)
	nextID int
}

type clientConfig struct {
	broker   string
	username string
	password string
}

func newClient(cfg clientConfig) (*client, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.broker)
	opts.SetUsername(cfg.username)
	opts.SetPassword(cfg.password)
	opts.SetClientID("febos-bridge-" + randomSuffix())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	c := &client{subs: make(map[string]map[int]func([]byte))}
	opts.SetDefaultPublishHandler(c.dispatch)
	opts.OnConnect = func(_ paho.Client) {
		c.resubscribeAll()
	}
	conn := paho.NewClient(opts)
	if token := conn.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.broker, token.Error())
	}
	c.conn = conn
	return c, nil
}

func (c *client) publish(topic string, payload []byte, retain bool) error {
	if token := c.conn.Publish(topic, 0, retain, payload); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (c *client) subscribe(topic string, cb func([]byte)) (func(), error) {
	c.mu.Lock()
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[int]func([]byte))
	}
	id := c.nextID
	c.nextID++
	c.subs[topic][id] = cb
	needSubscribe := len(c.subs[topic]) == 1
	c.mu.Unlock()

	if needSubscribe {
		if token := c.conn.Subscribe(topic, 0, nil); token.Wait() && token.Error() != nil {
			return nil, token.Error()
		}
	}

	return func() {
		c.mu.Lock()
		callbacks := c.subs[topic]
		if callbacks == nil {
			c.mu.Unlock()
			return
		}
		delete(callbacks, id)
		shouldUnsub := len(callbacks) == 0
		if shouldUnsub {
			delete(c.subs, topic)
		}
		c.mu.Unlock()
		if shouldUnsub {
			_ = c.conn.Unsubscribe(topic).Wait()
		}
	}, nil
}

func (c *client) dispatch(_ paho.Client, msg paho.Message) {
	c.mu.Lock()
	callbacks := c.subs[msg.Topic()]
	list := make([]func([]byte), 0, len(callbacks))
	for _, cb := range callbacks {
		list = append(list, cb)
	}
	c.mu.Unlock()
	for _, cb := range list {
		cb(msg.Payload())
	}
}

func (c *client) resubscribeAll() {
	c.mu.Lock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.mu.Unlock()
	for _, topic := range topics {
		_ = c.conn.Subscribe(topic, 0, nil).Wait()
	}
}

func (c *client) close() {
	c.conn.Disconnect(250)
}

func randomSuffix() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
