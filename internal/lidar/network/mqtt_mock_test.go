package network

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mockToken implements mqtt.Token for testing.
type mockToken struct {
	err error
}

func newMockToken(err error) *mockToken { return &mockToken{err: err} }

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Error() error                   { return t.err }

func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type mockMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return m.qos }
func (m *mockMessage) Retained() bool    { return m.retained }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

// mockClient implements mqtt.Client for testing.
type mockClient struct {
	mu           sync.RWMutex
	connected    bool
	connectErr   error
	publishErr   error
	subscribeErr error
	connectCalls int
	handlers     map[string]mqtt.MessageHandler
	published    []mockMessage
}

func newMockClient() *mockClient {
	return &mockClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *mockClient) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

func (c *mockClient) messages() []mockMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]mockMessage(nil), c.published...)
}

func (c *mockClient) topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for t := range c.handlers {
		out = append(out, t)
	}
	return out
}

// simulate delivers payload to the handler subscribed to topic.
func (c *mockClient) simulate(topic string, payload []byte) {
	c.mu.RLock()
	h := c.handlers[topic]
	c.mu.RUnlock()
	if h != nil {
		h(c, &mockMessage{topic: topic, payload: payload})
	}
}

func (c *mockClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *mockClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *mockClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectCalls++
	if c.connectErr == nil {
		c.connected = true
	}
	return newMockToken(c.connectErr)
}

func (c *mockClient) Disconnect(uint) { c.setConnected(false) }

func (c *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return newMockToken(mqtt.ErrNotConnected)
	}
	if c.publishErr != nil {
		return newMockToken(c.publishErr)
	}
	var b []byte
	switch v := payload.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	}
	c.published = append(c.published, mockMessage{topic: topic, payload: b, qos: qos, retained: retained})
	return newMockToken(nil)
}

func (c *mockClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return newMockToken(mqtt.ErrNotConnected)
	}
	if c.subscribeErr != nil {
		return newMockToken(c.subscribeErr)
	}
	c.handlers[topic] = callback
	return newMockToken(nil)
}

func (c *mockClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		if tok := c.Subscribe(topic, qos, callback); tok.Error() != nil {
			return tok
		}
	}
	return newMockToken(nil)
}

func (c *mockClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
	}
	return newMockToken(nil)
}

func (c *mockClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
}

func (c *mockClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}
