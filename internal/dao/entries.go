package dao

import (
	"encoding/json"
	"fmt"

	"github.com/Daneel-Li/feedback-back/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (d *MysqlRepository) CreateEntry(entry *models.Entry) error {
	if err := d.db.Create(entry).Error; err != nil {
		if isDuplicateErr(err) {
			return fmt.Errorf("create entry(%d) failed: %w", entry.ID, ErrDuplicate)
		}
		return fmt.Errorf("create entry failed: %w", err)
	}
	return nil
}

func (d *MysqlRepository) GetEntryByID(id uint) (*models.Entry, error) {
	var entry models.Entry
	if err := d.db.Where("id = ?", id).First(&entry).Error; err != nil {
		if isNotFoundErr(err) {
			return nil, fmt.Errorf("entry(%d): %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("select entry failed: %w", err)
	}
	return &entry, nil
}

// GetEntriesByIDs 批量取条目，用于列表预加载映射
func (d *MysqlRepository) GetEntriesByIDs(ids []uint) (map[uint]*models.Entry, error) {
	res := make(map[uint]*models.Entry, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	var lst []*models.Entry
	if err := d.db.Where("id IN ?", ids).Find(&lst).Error; err != nil {
		return nil, fmt.Errorf("select entries failed: %w", err)
	}
	for _, e := range lst {
		res[e.ID] = e
	}
	return res, nil
}

// SetAggregateRating rating 为 nil 时写 NULL（无评分）
func (d *MysqlRepository) SetAggregateRating(entryID uint, rating *models.AggregateRating) error {
	var value interface{} = gorm.Expr("NULL")
	if rating != nil {
		raw, err := json.Marshal(rating)
		if err != nil {
			return fmt.Errorf("marshal aggregate rating failed: %w", err)
		}
		value = datatypes.JSON(raw)
	}

	return d.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Entry{}).Where("id = ?", entryID).Count(&count).Error; err != nil {
			return fmt.Errorf("select entry failed: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("entry(%d): %w", entryID, ErrNotFound)
		}
		if err := tx.Model(&models.Entry{}).Where("id = ?", entryID).Update("rating", value).Error; err != nil {
			return fmt.Errorf("update entry(%d) rating failed: %w", entryID, err)
		}
		return nil
	})
}
