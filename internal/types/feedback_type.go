package types

// FeedbackStatus 审核状态
type FeedbackStatus string

const (
	STATUS_PENDING  FeedbackStatus = "pending"
	STATUS_APPROVED FeedbackStatus = "approved"
	STATUS_SPAM     FeedbackStatus = "spam"
)

// Statuses 按后台展示顺序
var Statuses = []FeedbackStatus{STATUS_APPROVED, STATUS_PENDING, STATUS_SPAM}

func (s FeedbackStatus) Valid() bool {
	switch s {
	case STATUS_PENDING, STATUS_APPROVED, STATUS_SPAM:
		return true
	}
	return false
}

type StatusOption struct {
	Status FeedbackStatus `json:"status"`
	Label  string         `json:"label"`
	Color  string         `json:"color"`
}

// Option 后台列表中状态的标签和颜色
func (s FeedbackStatus) Option() StatusOption {
	switch s {
	case STATUS_APPROVED:
		return StatusOption{s, "Approved", "green"}
	case STATUS_SPAM:
		return StatusOption{s, "Spam", "red"}
	default:
		return StatusOption{STATUS_PENDING, "Pending", "yellow"}
	}
}

// FeedbackType 反馈类型，开放集合
type FeedbackType string

const (
	TYPE_REVIEW   FeedbackType = "review"
	TYPE_QUESTION FeedbackType = "question"
)

// FeedbackOrigin 提交渠道
type FeedbackOrigin string

const (
	ORIGIN_FRONTEND      FeedbackOrigin = "frontend"
	ORIGIN_CONTROL_PANEL FeedbackOrigin = "cp"
	ORIGIN_API           FeedbackOrigin = "api"
)

// RequiresEmail 前台和后台提交必须带邮箱，API导入不强制
func (o FeedbackOrigin) RequiresEmail() bool {
	return o == ORIGIN_FRONTEND || o == ORIGIN_CONTROL_PANEL
}
