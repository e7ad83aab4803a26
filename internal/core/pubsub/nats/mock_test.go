package nats

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/mock"
)

// result unpacks a mocked (T, error) return whose first value may be nil.
func result[T any](args mock.Arguments) (T, error) {
	v, _ := args.Get(0).(T)
	return v, args.Error(1)
}

type MockJetStream struct {
	mock.Mock
}

func (m *MockJetStream) CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	return result[jetstream.Stream](m.Called(ctx, cfg))
}

func (m *MockJetStream) CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	return result[jetstream.Consumer](m.Called(ctx, stream, cfg))
}

func (m *MockJetStream) Publish(ctx context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	return result[*jetstream.PubAck](m.Called(ctx, subject, data))
}

// MockConsumer hands the handler given to Consume to the test.
type MockConsumer struct {
	mock.Mock
	jetstream.Consumer
	handlerCh chan jetstream.MessageHandler
}

func NewMockConsumer() *MockConsumer {
	return &MockConsumer{handlerCh: make(chan jetstream.MessageHandler, 1)}
}

func (m *MockConsumer) Consume(handler jetstream.MessageHandler, _ ...jetstream.PullConsumeOpt) (jetstream.ConsumeContext, error) {
	args := m.Called(handler)
	select {
	case m.handlerCh <- handler:
	default:
	}
	return result[jetstream.ConsumeContext](args)
}

type MockConsumeContext struct {
	mock.Mock
	jetstream.ConsumeContext
	stopped chan struct{}
}

func NewMockConsumeContext() *MockConsumeContext {
	return &MockConsumeContext{stopped: make(chan struct{})}
}

func (m *MockConsumeContext) Stop() {
	m.Called()
	close(m.stopped)
}

// MockMsg is a jetstream.Msg whose acknowledgements are expectations.
type MockMsg struct {
	mock.Mock
	subject string
	data    []byte
}

func NewMockMsg(subject string, data []byte) *MockMsg {
	return &MockMsg{subject: subject, data: data}
}

func (m *MockMsg) Data() []byte         { return m.data }
func (m *MockMsg) Subject() string      { return m.subject }
func (m *MockMsg) Reply() string        { return "" }
func (m *MockMsg) Headers() nats.Header { return nil }

func (m *MockMsg) Ack() error                          { return m.Called().Error(0) }
func (m *MockMsg) Nak() error                          { return m.Called().Error(0) }
func (m *MockMsg) Term() error                         { return m.Called().Error(0) }
func (m *MockMsg) InProgress() error                   { return m.Called().Error(0) }
func (m *MockMsg) NakWithDelay(d time.Duration) error  { return m.Called(d).Error(0) }
func (m *MockMsg) TermWithReason(reason string) error  { return m.Called(reason).Error(0) }
func (m *MockMsg) DoubleAck(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *MockMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return result[*jetstream.MsgMetadata](m.Called())
}

type fakeConn struct {
	closed bool
}

func (c *fakeConn) Close() { c.closed = true }
