// Package mock provides a recording implementation of mq.ClientInterface for tests.
package mock

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"agrosensorhub.dev/hub/pkg/mq"
)

// MockClient records calls and returns configurable results.
type MockClient struct {
	mu sync.Mutex

	// PushFunc overrides Push. If nil, PushError is returned.
	PushFunc  func(ctx context.Context, msg mq.Message) error
	PushError error
	Pushed    []mq.Message

	UnsafePushError error
	UnsafePushed    []mq.Message

	// ConsumeChannel and ConsumeError are returned by Consume.
	ConsumeChannel <-chan amqp.Delivery
	ConsumeError   error
	ConsumeCalls   int

	WaitReadyError error

	CloseError error
	CloseCalls int
}

// NewMockClient creates a MockClient that succeeds on every call.
func NewMockClient() *MockClient {
	return &MockClient{
		ConsumeChannel: make(chan amqp.Delivery),
	}
}

// Push implements mq.ClientInterface.
func (m *MockClient) Push(ctx context.Context, msg mq.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Pushed = append(m.Pushed, msg)
	if m.PushFunc != nil {
		return m.PushFunc(ctx, msg)
	}
	return m.PushError
}

// UnsafePush implements mq.ClientInterface.
func (m *MockClient) UnsafePush(_ context.Context, msg mq.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UnsafePushed = append(m.UnsafePushed, msg)
	return m.UnsafePushError
}

// Consume implements mq.ClientInterface.
func (m *MockClient) Consume() (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ConsumeCalls++
	if m.ConsumeError != nil {
		return nil, m.ConsumeError
	}
	return m.ConsumeChannel, nil
}

// WaitReady implements mq.ClientInterface.
func (m *MockClient) WaitReady(_ context.Context) error {
	return m.WaitReadyError
}

// Close implements mq.ClientInterface.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	return m.CloseError
}

// Messages returns a copy of the confirmed pushes recorded so far.
func (m *MockClient) Messages() []mq.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]mq.Message, len(m.Pushed))
	copy(out, m.Pushed)
	return out
}

var _ mq.ClientInterface = (*MockClient)(nil)
