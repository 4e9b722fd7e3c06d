package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/Daneel-Li/feedback-back/internal/types"
)

// Feedback 一条评分/评论/回复记录，归属于某个内容条目
type Feedback struct {
	ID             string               `gorm:"type:char(36);primaryKey" json:"id"`
	EntryID        uint                 `gorm:"column:entry_id;not null;index" json:"entryId"`
	Name           string               `gorm:"column:name" json:"name" validate:"required"`
	Email          string               `gorm:"column:email" json:"email"`
	Rating         *int                 `gorm:"column:rating" json:"rating" validate:"omitempty,min=1,max=5"`
	Comment        string               `gorm:"column:comment;type:text" json:"comment" validate:"nourl"`
	Response       string               `gorm:"column:response;type:text" json:"response"`
	IPAddress      string               `gorm:"column:ip_address" json:"ipAddress"`
	UserAgent      string               `gorm:"column:user_agent" json:"userAgent"`
	FeedbackType   types.FeedbackType   `gorm:"column:feedback_type;index" json:"feedbackType" validate:"required"`
	FeedbackStatus types.FeedbackStatus `gorm:"column:feedback_status;index;default:pending" json:"feedbackStatus"`
	FeedbackOrigin types.FeedbackOrigin `gorm:"column:feedback_origin" json:"feedbackOrigin"`
	CreatedAt      time.Time            `gorm:"column:date_created" json:"dateCreated"`
	UpdatedAt      time.Time            `gorm:"column:date_updated" json:"dateUpdated"`

	Entry *Entry `gorm:"foreignKey:EntryID" json:"entry,omitempty"` // 预加载时才有值
}

func (Feedback) TableName() string {
	return "feedback_record"
}

func (f *Feedback) HasResponse() bool {
	return strings.TrimSpace(f.Response) != ""
}

func (f *Feedback) HasRating() bool {
	return f.Rating != nil
}

// CpEditURL 后台编辑页地址
func (f *Feedback) CpEditURL(cpBase string) string {
	return fmt.Sprintf("%s/feedback/%d/%s", strings.TrimRight(cpBase, "/"), f.EntryID, f.ID)
}

// EntryTitle 未预加载时返回空串
func (f *Feedback) EntryTitle() string {
	if f.Entry == nil {
		return ""
	}
	return f.Entry.Title
}
