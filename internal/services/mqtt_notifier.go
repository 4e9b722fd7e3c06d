package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Daneel-Li/feedback-back/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	_CONNECT_TIMEOUT = 10 * time.Second
	_PUBLISH_TIMEOUT = 5 * time.Second
)

type MqttConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string // 主题为 <prefix>/<event>
}

// mqttPublisher mqtt.Client 中用到的部分
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MqttNotifier 把事件发布到 broker，邮件服务订阅后发信
type MqttNotifier struct {
	config   MqttConfig
	mqClient mqttPublisher
}

func NewMqttNotifier(cfg MqttConfig) *MqttNotifier {
	return &MqttNotifier{config: cfg}
}

var _ NotificationDispatcher = (*MqttNotifier)(nil)

// Start 连接 broker，断线由客户端自动重连
func (h *MqttNotifier) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(h.config.Broker)
	opts.SetClientID(h.config.ClientID)
	opts.SetUsername(h.config.Username)
	opts.SetPassword(h.config.Password)
	opts.SetKeepAlive(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(5 * time.Second)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		slog.Debug("mqtt 连接成功！")
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		slog.Warn("mqtt client disconnected. trying to reconnect...", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(_CONNECT_TIMEOUT) {
		// ConnectRetry 下会在后台继续重连
		slog.Warn("mqtt broker not reachable yet, retrying in background", "broker", h.config.Broker)
	} else if token.Error() != nil {
		return fmt.Errorf("mqtt client failed: %v", token.Error())
	}
	h.mqClient = client
	return nil
}

func (h *MqttNotifier) Stop() {
	if h.mqClient != nil {
		h.mqClient.Disconnect(250)
	}
}

func (h *MqttNotifier) topic(event Event) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(h.config.TopicPrefix, "/"), event)
}

func (h *MqttNotifier) Send(ctx context.Context, event Event, item *models.Feedback) error {
	if h.mqClient == nil {
		return errors.New("mqtt client is not started")
	}
	payload, err := json.Marshal(NewEnvelope(event, item))
	if err != nil {
		return fmt.Errorf("marshal %s envelope failed: %w", event, err)
	}

	topic := h.topic(event)
	token := h.mqClient.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(_PUBLISH_TIMEOUT) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}
	slog.Debug("mqtt published", "topic", topic, "feedback", item.ID)
	return nil
}
