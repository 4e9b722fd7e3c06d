package dao

import (
	"fmt"
	"strings"

	"github.com/Daneel-Li/feedback-back/internal/models"
	"github.com/Daneel-Li/feedback-back/internal/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const _TBL_FEEDBACK = "feedback_record"

// 搜索词中的通配符按字面匹配；用 ! 做转义符，mysql 和 sqlite 写法一致
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

type sortOption struct {
	column     string
	defaultDir string
}

// 后台可用的排序项
var feedbackSortOptions = map[string]sortOption{
	"name":        {_TBL_FEEDBACK + ".name", "asc"},
	"rating":      {_TBL_FEEDBACK + ".rating", "asc"},
	"dateCreated": {_TBL_FEEDBACK + ".date_created", "desc"},
	"dateUpdated": {_TBL_FEEDBACK + ".date_updated", "desc"},
}

func (d *MysqlRepository) CreateFeedback(feedback *models.Feedback) (string, error) {
	if feedback.ID == "" {
		feedback.ID = uuid.New().String()
	}
	if err := d.db.Omit(clause.Associations).Create(feedback).Error; err != nil {
		if isDuplicateErr(err) {
			return "", fmt.Errorf("create feedback(%s) failed: %w", feedback.ID, ErrDuplicate)
		}
		return "", fmt.Errorf("create feedback failed: %w", err)
	}
	return feedback.ID, nil
}

// UpdateFeedback 保留创建时间，刷新更新时间
func (d *MysqlRepository) UpdateFeedback(feedback *models.Feedback) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Feedback
		if err := tx.Select("id", "date_created").Where("id = ?", feedback.ID).First(&existing).Error; err != nil {
			if isNotFoundErr(err) {
				return fmt.Errorf("feedback(%s): %w", feedback.ID, ErrNotFound)
			}
			return fmt.Errorf("select feedback failed: %w", err)
		}

		now := tx.NowFunc()
		updates := map[string]interface{}{
			"entry_id":        feedback.EntryID,
			"name":            feedback.Name,
			"email":           feedback.Email,
			"rating":          feedback.Rating,
			"comment":         feedback.Comment,
			"response":        feedback.Response,
			"ip_address":      feedback.IPAddress,
			"user_agent":      feedback.UserAgent,
			"feedback_type":   feedback.FeedbackType,
			"feedback_status": feedback.FeedbackStatus,
			"feedback_origin": feedback.FeedbackOrigin,
			"date_updated":    now,
		}
		if err := tx.Model(&models.Feedback{}).Where("id = ?", feedback.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update feedback failed: %w", err)
		}

		feedback.CreatedAt = existing.CreatedAt
		feedback.UpdatedAt = now
		return nil
	})
}

func (d *MysqlRepository) DeleteFeedback(id string) error {
	res := d.db.Where("id = ?", id).Delete(&models.Feedback{})
	if res.Error != nil {
		return fmt.Errorf("delete feedback failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("feedback(%s): %w", id, ErrNotFound)
	}
	return nil
}

// DeleteFeedbackByEntry 条目删除时级联清理
func (d *MysqlRepository) DeleteFeedbackByEntry(entryID uint) (int64, error) {
	res := d.db.Where("entry_id = ?", entryID).Delete(&models.Feedback{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete feedback by entry(%d) failed: %w", entryID, res.Error)
	}
	return res.RowsAffected, nil
}

func (d *MysqlRepository) GetFeedbackByID(id string) (*models.Feedback, error) {
	var feedback models.Feedback
	if err := d.db.Where("id = ?", id).First(&feedback).Error; err != nil {
		if isNotFoundErr(err) {
			return nil, fmt.Errorf("feedback(%s): %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("select feedback failed: %w", err)
	}
	return &feedback, nil
}

func (d *MysqlRepository) ListFeedbackByEntry(entryID uint) ([]*models.Feedback, error) {
	return d.listFeedback("entry_id = ?", entryID)
}

func (d *MysqlRepository) ListFeedbackByStatus(status types.FeedbackStatus) ([]*models.Feedback, error) {
	return d.listFeedback("feedback_status = ?", status)
}

func (d *MysqlRepository) ListFeedbackByType(feedbackType types.FeedbackType) ([]*models.Feedback, error) {
	return d.listFeedback("feedback_type = ?", feedbackType)
}

func (d *MysqlRepository) listFeedback(cond string, arg interface{}) ([]*models.Feedback, error) {
	var lst []*models.Feedback
	if err := d.db.Where(cond, arg).Order("date_created desc").Find(&lst).Error; err != nil {
		return nil, fmt.Errorf("list feedback where %s failed: %w", cond, err)
	}
	return lst, nil
}

// QueryFeedback 后台列表：组合筛选、搜索、排序、分页，返回当前页和总数
func (d *MysqlRepository) QueryFeedback(filter FeedbackFilter) ([]*models.Feedback, int64, error) {
	query := d.db.Model(&models.Feedback{})
	if filter.Status != "" {
		query = query.Where(_TBL_FEEDBACK+".feedback_status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where(_TBL_FEEDBACK+".feedback_type = ?", filter.Type)
	}
	if filter.Origin != "" {
		query = query.Where(_TBL_FEEDBACK+".feedback_origin = ?", filter.Origin)
	}
	if filter.Rating != nil {
		query = query.Where(_TBL_FEEDBACK+".rating = ?", *filter.Rating)
	}
	if filter.EntryID > 0 {
		query = query.Where(_TBL_FEEDBACK+".entry_id = ?", filter.EntryID)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		like := "%" + likeEscaper.Replace(s) + "%"
		query = query.Joins("LEFT JOIN entries ON entries.id = " + _TBL_FEEDBACK + ".entry_id").
			Where("("+_TBL_FEEDBACK+".name LIKE ? ESCAPE '!' OR entries.title LIKE ? ESCAPE '!')", like, like)
	}
	// 后面要复用两次（count + find）
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count feedback failed: %w", err)
	}

	page := query.Select(_TBL_FEEDBACK + ".*").Order(feedbackOrder(filter.OrderBy, filter.Dir))
	if filter.Limit > 0 {
		page = page.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		page = page.Offset(filter.Offset)
	}
	if filter.WithEntry {
		page = page.Preload("Entry")
	}

	var lst []*models.Feedback
	if err := page.Find(&lst).Error; err != nil {
		return nil, 0, fmt.Errorf("query feedback failed: %w", err)
	}
	return lst, total, nil
}

func feedbackOrder(orderBy, dir string) string {
	opt, ok := feedbackSortOptions[orderBy]
	if !ok {
		opt = feedbackSortOptions["dateCreated"]
	}
	dir = strings.ToLower(dir)
	if dir != "asc" && dir != "desc" {
		dir = opt.defaultDir
	}
	// 同值时按id稳定排序，分页不会漂移
	return fmt.Sprintf("%s %s, %s.id asc", opt.column, dir, _TBL_FEEDBACK)
}

func (d *MysqlRepository) CountPendingByType(feedbackType types.FeedbackType) (int64, error) {
	var count int64
	err := d.db.Model(&models.Feedback{}).
		Where("feedback_status = ? AND feedback_type = ?", types.STATUS_PENDING, feedbackType).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count pending feedback by type(%s) failed: %w", feedbackType, err)
	}
	return count, nil
}

func (d *MysqlRepository) CountTotalPending() (int64, error) {
	var count int64
	err := d.db.Model(&models.Feedback{}).Where("feedback_status = ?", types.STATUS_PENDING).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count pending feedback failed: %w", err)
	}
	return count, nil
}

func (d *MysqlRepository) GetApprovedRatings(entryID uint) ([]int, error) {
	var ratings []int
	err := d.db.Model(&models.Feedback{}).
		Where("entry_id = ? AND feedback_status = ? AND rating IS NOT NULL", entryID, types.STATUS_APPROVED).
		Pluck("rating", &ratings).Error
	if err != nil {
		return nil, fmt.Errorf("select approved ratings of entry(%d) failed: %w", entryID, err)
	}
	return ratings, nil
}
