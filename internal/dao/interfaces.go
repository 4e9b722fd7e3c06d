package dao

import (
	"errors"
	"time"

	"github.com/Daneel-Li/feedback-back/internal/models"
	"github.com/Daneel-Li/feedback-back/internal/types"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// FeedbackFilter 后台列表筛选条件，零值字段不参与过滤
type FeedbackFilter struct {
	Status    types.FeedbackStatus
	Type      types.FeedbackType
	Origin    types.FeedbackOrigin
	Rating    *int
	EntryID   uint
	Search    string // 匹配反馈人姓名和条目标题
	OrderBy   string // name|rating|dateCreated|dateUpdated
	Dir       string // asc|desc，空则用排序项的默认方向
	Limit     int
	Offset    int
	WithEntry bool // 预加载所属条目
}

// FeedbackRepository 反馈相关数据访问接口
type FeedbackRepository interface {
	CreateFeedback(feedback *models.Feedback) (string, error)
	UpdateFeedback(feedback *models.Feedback) error
	DeleteFeedback(id string) error
	DeleteFeedbackByEntry(entryID uint) (int64, error)
	GetFeedbackByID(id string) (*models.Feedback, error)

	ListFeedbackByEntry(entryID uint) ([]*models.Feedback, error)
	ListFeedbackByStatus(status types.FeedbackStatus) ([]*models.Feedback, error)
	ListFeedbackByType(feedbackType types.FeedbackType) ([]*models.Feedback, error)
	QueryFeedback(filter FeedbackFilter) ([]*models.Feedback, int64, error)

	CountPendingByType(feedbackType types.FeedbackType) (int64, error)
	CountTotalPending() (int64, error)

	// 聚合评分只统计已审核且有评分的记录
	GetApprovedRatings(entryID uint) ([]int, error)
}

// EntryRepository 内容条目数据访问接口
type EntryRepository interface {
	CreateEntry(entry *models.Entry) error
	GetEntryByID(id uint) (*models.Entry, error)
	GetEntriesByIDs(ids []uint) (map[uint]*models.Entry, error)
	SetAggregateRating(entryID uint, rating *models.AggregateRating) error
}

// RatingHistoryRepository 聚合评分时间序列
type RatingHistoryRepository interface {
	AddRatingSnapshot(entryID uint, rating models.AggregateRating, at time.Time) error
}

// Repository 统一的数据访问接口
type Repository interface {
	FeedbackRepository
	EntryRepository
}
