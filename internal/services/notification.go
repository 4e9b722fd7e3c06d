package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Daneel-Li/feedback-back/internal/models"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/cenkalti/backoff/v4"
)

type Event string

const (
	EVENT_CREATED        Event = "created"
	EVENT_STATUS_CHANGED Event = "status_changed"
	EVENT_RESPONDED      Event = "responded"
)

// 新建和状态变更通知审核员，回复通知提交人
const RECIPIENT_MODERATORS = "moderators"

// NotificationDispatcher 通知下游（邮件服务、后台面板），失败不影响主流程
type NotificationDispatcher interface {
	Send(ctx context.Context, event Event, item *models.Feedback) error
}

// Envelope mqtt 和 ws 共用的消息体
type Envelope struct {
	Event      Event            `json:"event"`
	Recipient  string           `json:"recipient,omitempty"`
	Feedback   *models.Feedback `json:"feedback"`
	OccurredAt time.Time        `json:"occurredAt"`
}

func NewEnvelope(event Event, item *models.Feedback) Envelope {
	recipient := RECIPIENT_MODERATORS
	if event == EVENT_RESPONDED {
		recipient = item.Email
	}
	return Envelope{
		Event:      event,
		Recipient:  recipient,
		Feedback:   item,
		OccurredAt: time.Now().UTC(),
	}
}

// AsyncNotifier 协程池中异步发送，每个下游单独重试，Send 本身不返回下游错误
type AsyncNotifier struct {
	targets    []NotificationDispatcher
	pool       gopool.Pool
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

func NewAsyncNotifier(poolSize int32, maxRetries int, targets ...NotificationDispatcher) *AsyncNotifier {
	if poolSize <= 0 {
		poolSize = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &AsyncNotifier{
		targets:    targets,
		pool:       gopool.NewPool("notification", poolSize, gopool.NewConfig()),
		maxRetries: uint64(maxRetries),
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

func (a *AsyncNotifier) Send(ctx context.Context, event Event, item *models.Feedback) error {
	if item == nil {
		return fmt.Errorf("notify %s: nil feedback", event)
	}
	// 调用方后续可能修改 item，这里拷贝一份
	snapshot := *item
	ctx = context.WithoutCancel(ctx)

	// 一个下游失败只重发给它自己，其他下游不会收到重复事件
	for _, target := range a.targets {
		a.pool.CtxGo(ctx, func() {
			b := backoff.WithContext(backoff.WithMaxRetries(a.newBackOff(), a.maxRetries), ctx)
			err := backoff.Retry(func() error {
				return target.Send(ctx, event, &snapshot)
			}, b)
			if err != nil {
				slog.Error("send notification failed", "event", event, "feedback", snapshot.ID,
					"target", fmt.Sprintf("%T", target), "error", err)
				notificationFailures.WithLabelValues(string(event)).Inc()
			}
		})
	}
	return nil
}
