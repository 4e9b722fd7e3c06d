package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Daneel-Li/feedback-back/internal/dao"
	"github.com/Daneel-Li/feedback-back/internal/models"
	"github.com/Daneel-Li/feedback-back/internal/types"
)

const (
	DEFAULT_PAGE_SIZE = 50
	MAX_PAGE_SIZE     = 100
)

// FeedbackPatch 审核员编辑，nil 字段保持不变
type FeedbackPatch struct {
	Name         *string             `json:"name"`
	Email        *string             `json:"email"`
	Rating       *int                `json:"rating"`
	ClearRating  bool                `json:"clearRating"`
	Comment      *string             `json:"comment"`
	FeedbackType *types.FeedbackType `json:"feedbackType"`
}

type FeedbackPage struct {
	Items  []*models.Feedback `json:"items"`
	Total  int64              `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// Source 后台左侧的数据源，BadgeCount 为 nil 时不显示角标
type Source struct {
	Key        string            `json:"key"`
	Label      string            `json:"label"`
	Criteria   map[string]string `json:"criteria,omitempty"`
	BadgeCount *int64            `json:"badgeCount,omitempty"`
}

type EntryFeedback struct {
	Entry    *models.Entry           `json:"entry"`
	Rating   *models.AggregateRating `json:"rating"`
	Feedback []*models.Feedback      `json:"feedback"`
}

// FeedbackService 编排：校验 -> 持久化 -> 重算评分 -> 通知
// 评分和通知失败只记录，不影响操作结果
type FeedbackService struct {
	repo       dao.Repository
	workflow   *ModerationWorkflow
	aggregator RatingRecomputer
	notifier   NotificationDispatcher
}

func NewFeedbackService(repo dao.Repository, workflow *ModerationWorkflow, aggregator RatingRecomputer, notifier NotificationDispatcher) *FeedbackService {
	return &FeedbackService{
		repo:       repo,
		workflow:   workflow,
		aggregator: aggregator,
		notifier:   notifier,
	}
}

// Submit 新反馈一律进入待审核
func (s *FeedbackService) Submit(ctx context.Context, draft *models.Feedback) (*models.Feedback, error) {
	item := *draft
	item.ID = ""
	item.Entry = nil
	item.FeedbackStatus = types.STATUS_PENDING
	if item.FeedbackOrigin != types.ORIGIN_CONTROL_PANEL {
		// 只有后台录入可以直接带回复
		item.Response = ""
	}
	item.Name = strings.TrimSpace(item.Name)
	item.Email = strings.TrimSpace(item.Email)

	if err := s.workflow.Validate(&item).Err(); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetEntryByID(item.EntryID); err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, &ValidationError{Fields: []FieldError{{Field: "entryId", Message: "Entry does not exist"}}}
		}
		return nil, fmt.Errorf("check entry failed: %w", err)
	}

	if _, err := s.repo.CreateFeedback(&item); err != nil {
		return nil, fmt.Errorf("save feedback failed: %w", err)
	}
	feedbackSubmitted.WithLabelValues(string(item.FeedbackType), string(item.FeedbackOrigin)).Inc()
	slog.Info("feedback submitted", "id", item.ID, "entryID", item.EntryID, "origin", item.FeedbackOrigin)

	s.notify(ctx, EVENT_CREATED, &item)
	if item.HasRating() {
		s.recompute(ctx, item.EntryID)
	}
	return &item, nil
}

// SetStatus 状态未变化时直接返回，不重算也不通知
func (s *FeedbackService) SetStatus(ctx context.Context, id string, status types.FeedbackStatus) (*models.Feedback, error) {
	item, err := s.repo.GetFeedbackByID(id)
	if err != nil {
		return nil, fmt.Errorf("load feedback failed: %w", err)
	}
	next, err := s.workflow.Transition(item, status)
	if err != nil {
		return nil, err
	}
	if item.FeedbackStatus == status {
		return item, nil
	}

	if err := s.repo.UpdateFeedback(next); err != nil {
		return nil, fmt.Errorf("save feedback status failed: %w", err)
	}
	statusChanges.WithLabelValues(string(status)).Inc()
	slog.Info("feedback status changed", "id", id, "from", item.FeedbackStatus, "to", status)

	s.recompute(ctx, next.EntryID)
	s.notify(ctx, EVENT_STATUS_CHANGED, next)
	return next, nil
}

func (s *FeedbackService) UpdateResponse(ctx context.Context, id string, response string) (*models.Feedback, error) {
	item, err := s.repo.GetFeedbackByID(id)
	if err != nil {
		return nil, fmt.Errorf("load feedback failed: %w", err)
	}
	item.Response = response
	if err := s.repo.UpdateFeedback(item); err != nil {
		return nil, fmt.Errorf("save feedback response failed: %w", err)
	}

	s.recompute(ctx, item.EntryID)
	// 接口导入的反馈可能没有邮箱，无人可通知
	if item.Email == "" {
		slog.Info("responded feedback has no email, skip submitter notification", "id", item.ID)
	} else {
		s.notify(ctx, EVENT_RESPONDED, item)
	}
	return item, nil
}

// Update 审核员修改内容，按提交渠道重新校验
func (s *FeedbackService) Update(ctx context.Context, id string, patch FeedbackPatch) (*models.Feedback, error) {
	item, err := s.repo.GetFeedbackByID(id)
	if err != nil {
		return nil, fmt.Errorf("load feedback failed: %w", err)
	}
	if patch.Name != nil {
		item.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Email != nil {
		item.Email = strings.TrimSpace(*patch.Email)
	}
	if patch.ClearRating {
		item.Rating = nil
	} else if patch.Rating != nil {
		r := *patch.Rating
		item.Rating = &r
	}
	if patch.Comment != nil {
		item.Comment = *patch.Comment
	}
	if patch.FeedbackType != nil {
		item.FeedbackType = *patch.FeedbackType
	}

	if err := s.workflow.Validate(item).Err(); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateFeedback(item); err != nil {
		return nil, fmt.Errorf("save feedback failed: %w", err)
	}
	s.recompute(ctx, item.EntryID)
	return item, nil
}

func (s *FeedbackService) Delete(ctx context.Context, id string) error {
	item, err := s.repo.GetFeedbackByID(id)
	if err != nil {
		return fmt.Errorf("load feedback failed: %w", err)
	}
	if err := s.repo.DeleteFeedback(id); err != nil {
		return fmt.Errorf("delete feedback failed: %w", err)
	}
	slog.Info("feedback deleted", "id", id, "entryID", item.EntryID)
	s.recompute(ctx, item.EntryID)
	return nil
}

// DeleteByEntry 条目删除时调用，条目已不存在，不再重算
func (s *FeedbackService) DeleteByEntry(ctx context.Context, entryID uint) (int64, error) {
	n, err := s.repo.DeleteFeedbackByEntry(entryID)
	if err != nil {
		return 0, err
	}
	slog.Info("feedback of entry deleted", "entryID", entryID, "count", n)
	return n, nil
}

// Get 附带所属条目，条目缺失不报错
func (s *FeedbackService) Get(ctx context.Context, id string) (*models.Feedback, error) {
	item, err := s.repo.GetFeedbackByID(id)
	if err != nil {
		return nil, fmt.Errorf("load feedback failed: %w", err)
	}
	if entry, err := s.repo.GetEntryByID(item.EntryID); err == nil {
		item.Entry = entry
	} else if !errors.Is(err, dao.ErrNotFound) {
		slog.Warn("load entry of feedback failed", "id", id, "entryID", item.EntryID, "error", err)
	}
	return item, nil
}

func (s *FeedbackService) ListByEntry(ctx context.Context, entryID uint) ([]*models.Feedback, error) {
	return s.repo.ListFeedbackByEntry(entryID)
}

// ListByStatus 后台按状态查看，带条目标题
func (s *FeedbackService) ListByStatus(ctx context.Context, status types.FeedbackStatus) ([]*models.Feedback, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	lst, err := s.repo.ListFeedbackByStatus(status)
	if err != nil {
		return nil, err
	}
	return lst, s.attachEntries(lst)
}

func (s *FeedbackService) ListByType(ctx context.Context, feedbackType types.FeedbackType) ([]*models.Feedback, error) {
	lst, err := s.repo.ListFeedbackByType(feedbackType)
	if err != nil {
		return nil, err
	}
	return lst, s.attachEntries(lst)
}

// ListApprovedByEntry 前台展示：只返回已审核的反馈和条目评分
func (s *FeedbackService) ListApprovedByEntry(ctx context.Context, entryID uint) (*EntryFeedback, error) {
	entry, err := s.repo.GetEntryByID(entryID)
	if err != nil {
		return nil, fmt.Errorf("load entry failed: %w", err)
	}
	rating, err := entry.AggregateRating()
	if err != nil {
		return nil, err
	}
	lst, _, err := s.repo.QueryFeedback(dao.FeedbackFilter{
		EntryID: entryID,
		Status:  types.STATUS_APPROVED,
		OrderBy: "dateCreated",
	})
	if err != nil {
		return nil, err
	}
	return &EntryFeedback{Entry: entry, Rating: rating, Feedback: lst}, nil
}

// Query 后台列表，分页大小有上限
func (s *FeedbackService) Query(ctx context.Context, filter dao.FeedbackFilter) (*FeedbackPage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, filter.Status)
	}
	if filter.Limit <= 0 {
		filter.Limit = DEFAULT_PAGE_SIZE
	} else if filter.Limit > MAX_PAGE_SIZE {
		filter.Limit = MAX_PAGE_SIZE
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	lst, total, err := s.repo.QueryFeedback(filter)
	if err != nil {
		return nil, err
	}
	return &FeedbackPage{Items: lst, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Sources 后台数据源及待审核角标
func (s *FeedbackService) Sources(ctx context.Context) ([]Source, error) {
	totalPending, err := s.repo.CountTotalPending()
	if err != nil {
		return nil, err
	}
	reviews, err := s.repo.CountPendingByType(types.TYPE_REVIEW)
	if err != nil {
		return nil, err
	}
	questions, err := s.repo.CountPendingByType(types.TYPE_QUESTION)
	if err != nil {
		return nil, err
	}

	return []Source{
		{Key: "*", Label: "All feedback"},
		{Key: "allPending", Label: "All pending", BadgeCount: badge(totalPending),
			Criteria: map[string]string{"status": string(types.STATUS_PENDING)}},
		{Key: "reviews", Label: "Reviews", BadgeCount: badge(reviews),
			Criteria: map[string]string{"type": string(types.TYPE_REVIEW)}},
		{Key: "questions", Label: "Questions", BadgeCount: badge(questions),
			Criteria: map[string]string{"type": string(types.TYPE_QUESTION)}},
	}, nil
}

// 0 不显示角标
func badge(n int64) *int64 {
	if n == 0 {
		return nil
	}
	return &n
}

// CreateEntry 后台导入条目，评分由反馈聚合得出，不接受外部传入
func (s *FeedbackService) CreateEntry(ctx context.Context, entry *models.Entry) (*models.Entry, error) {
	e := *entry
	e.Title = strings.TrimSpace(e.Title)
	e.Rating = nil
	if e.Title == "" {
		return nil, &ValidationError{Fields: []FieldError{{Field: "title", Message: "Title is required"}}}
	}
	if err := s.repo.CreateEntry(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

// EntryRating 条目当前保存的聚合评分，无评分返回 nil
func (s *FeedbackService) EntryRating(ctx context.Context, entryID uint) (*models.AggregateRating, error) {
	entry, err := s.repo.GetEntryByID(entryID)
	if err != nil {
		return nil, fmt.Errorf("load entry failed: %w", err)
	}
	return entry.AggregateRating()
}

// 批量加载条目，避免逐条查询
func (s *FeedbackService) attachEntries(lst []*models.Feedback) error {
	if len(lst) == 0 {
		return nil
	}
	seen := make(map[uint]struct{}, len(lst))
	ids := make([]uint, 0, len(lst))
	for _, f := range lst {
		if _, ok := seen[f.EntryID]; !ok {
			seen[f.EntryID] = struct{}{}
			ids = append(ids, f.EntryID)
		}
	}
	entries, err := s.repo.GetEntriesByIDs(ids)
	if err != nil {
		return err
	}
	for _, f := range lst {
		f.Entry = entries[f.EntryID]
	}
	return nil
}

func (s *FeedbackService) recompute(ctx context.Context, entryID uint) {
	if s.aggregator == nil {
		return
	}
	if _, err := s.aggregator.Recompute(ctx, entryID); err != nil {
		slog.Error("update entry rating failed", "entryID", entryID, "error", err)
		aggregationFailures.Inc()
	}
}

func (s *FeedbackService) notify(ctx context.Context, event Event, item *models.Feedback) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, event, item); err != nil {
		slog.Warn("notification failed", "event", event, "id", item.ID, "error", err)
		notificationFailures.WithLabelValues(string(event)).Inc()
	}
}
