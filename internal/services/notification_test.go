package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Daneel-Li/feedback-back/internal/models"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockNotifier 模拟通知下游
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, event Event, item *models.Feedback) error {
	args := m.Called(event, item)
	return args.Error(0)
}

// recordingNotifier 记录收到的事件
type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	items  []models.Feedback
}

func (r *recordingNotifier) Send(ctx context.Context, event Event, item *models.Feedback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.items = append(r.items, *item)
	return nil
}

func (r *recordingNotifier) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestNewEnvelopeRecipient(t *testing.T) {
	f := validFeedback()
	assert.Equal(t, RECIPIENT_MODERATORS, NewEnvelope(EVENT_CREATED, f).Recipient)
	assert.Equal(t, RECIPIENT_MODERATORS, NewEnvelope(EVENT_STATUS_CHANGED, f).Recipient)
	assert.Equal(t, "alice@example.com", NewEnvelope(EVENT_RESPONDED, f).Recipient)
}

func TestAsyncNotifierRetriesOnlyFailedTarget(t *testing.T) {
	f := validFeedback()
	bad := &MockNotifier{}
	var attempts sync.WaitGroup
	attempts.Add(4)
	bad.On("Send", EVENT_CREATED, mock.Anything).Return(errors.New("ws write failed")).Run(func(mock.Arguments) { attempts.Done() })
	healthy := &recordingNotifier{}

	a := NewAsyncNotifier(2, 3, bad, healthy)
	a.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	require.NoError(t, a.Send(context.Background(), EVENT_CREATED, f))
	attempts.Wait()
	assert.Eventually(t, func() bool { return len(healthy.Events()) == 1 }, 2*time.Second, 10*time.Millisecond)
	// 失败的下游重试完后正常的下游仍只收到一次
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []Event{EVENT_CREATED}, healthy.Events())
	bad.AssertNumberOfCalls(t, "Send", 4)
}

func TestAsyncNotifierRetries(t *testing.T) {
	f := validFeedback()
	next := &MockNotifier{}
	done := make(chan struct{})
	next.On("Send", EVENT_CREATED, mock.Anything).Return(errors.New("temporary")).Twice()
	next.On("Send", EVENT_CREATED, mock.Anything).Return(nil).Once().Run(func(mock.Arguments) { close(done) })

	a := NewAsyncNotifier(2, 3, next)
	a.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	require.NoError(t, a.Send(context.Background(), EVENT_CREATED, f))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
	next.AssertNumberOfCalls(t, "Send", 3)
}

func TestAsyncNotifierGivesUp(t *testing.T) {
	next := &MockNotifier{}
	var calls sync.WaitGroup
	calls.Add(2)
	next.On("Send", EVENT_RESPONDED, mock.Anything).Return(errors.New("down")).Run(func(mock.Arguments) { calls.Done() })

	a := NewAsyncNotifier(1, 1, next)
	a.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	// 下游错误不返回给调用方
	assert.NoError(t, a.Send(context.Background(), EVENT_RESPONDED, validFeedback()))
	calls.Wait()
	assert.Error(t, a.Send(context.Background(), EVENT_RESPONDED, nil))
}

func TestAsyncNotifierSnapshot(t *testing.T) {
	rec := &recordingNotifier{}
	a := NewAsyncNotifier(1, 0, rec)
	f := validFeedback()
	f.Response = "first"
	require.NoError(t, a.Send(context.Background(), EVENT_RESPONDED, f))
	f.Response = "changed later"

	assert.Eventually(t, func() bool { return len(rec.Events()) == 1 }, 2*time.Second, 10*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "first", rec.items[0].Response)
}

// MockMQTTClient 模拟 MQTT 客户端
type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	args := m.Called(topic, qos, retained, payload)
	return args.Get(0).(mqtt.Token)
}

// MockMQTTToken 模拟 MQTT Token
type MockMQTTToken struct {
	mock.Mock
}

func (m *MockMQTTToken) Wait() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockMQTTToken) WaitTimeout(timeout time.Duration) bool {
	args := m.Called(timeout)
	return args.Bool(0)
}

func (m *MockMQTTToken) Error() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMQTTToken) Done() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(<-chan struct{})
}

func TestMqttNotifierSend(t *testing.T) {
	client := &MockMQTTClient{}
	token := &MockMQTTToken{}
	token.On("WaitTimeout", _PUBLISH_TIMEOUT).Return(true)
	token.On("Error").Return(nil)

	var payload []byte
	client.On("Publish", "feedback/events/status_changed", byte(1), false, mock.Anything).
		Return(token).
		Run(func(args mock.Arguments) { payload = args.Get(3).([]byte) })

	n := NewMqttNotifier(MqttConfig{TopicPrefix: "feedback/events/"})
	n.mqClient = client

	f := validFeedback()
	f.ID = "fb-9"
	require.NoError(t, n.Send(context.Background(), EVENT_STATUS_CHANGED, f))
	client.AssertExpectations(t)

	var env Envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	assert.Equal(t, EVENT_STATUS_CHANGED, env.Event)
	assert.Equal(t, "fb-9", env.Feedback.ID)
	assert.False(t, env.OccurredAt.IsZero())
}

func TestMqttNotifierErrors(t *testing.T) {
	n := NewMqttNotifier(MqttConfig{TopicPrefix: "p"})
	assert.Error(t, n.Send(context.Background(), EVENT_CREATED, validFeedback()), "not started")

	timeout := &MockMQTTToken{}
	timeout.On("WaitTimeout", _PUBLISH_TIMEOUT).Return(false)
	client := &MockMQTTClient{}
	client.On("Publish", "p/created", byte(1), false, mock.Anything).Return(timeout).Once()
	n.mqClient = client
	assert.ErrorContains(t, n.Send(context.Background(), EVENT_CREATED, validFeedback()), "timed out")

	failed := &MockMQTTToken{}
	failed.On("WaitTimeout", _PUBLISH_TIMEOUT).Return(true)
	failed.On("Error").Return(errors.New("not authorized"))
	client.On("Publish", "p/created", byte(1), false, mock.Anything).Return(failed).Once()
	assert.ErrorContains(t, n.Send(context.Background(), EVENT_CREATED, validFeedback()), "not authorized")

	client.On("Disconnect", uint(250)).Return()
	n.Stop()
	client.AssertExpectations(t)
}
