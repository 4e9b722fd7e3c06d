package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Entry 反馈挂靠的内容条目，Rating 列保存聚合评分，NULL 表示无评分
type Entry struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Title     string         `gorm:"column:title" json:"title"`
	URL       string         `gorm:"column:url" json:"url"`
	Rating    datatypes.JSON `gorm:"column:rating" json:"rating,omitempty"`
	CreatedAt time.Time      `gorm:"column:date_created" json:"dateCreated"`
	UpdatedAt time.Time      `gorm:"column:date_updated" json:"dateUpdated"`
}

func (Entry) TableName() string {
	return "entries"
}

// AggregateRating 解析评分列，无评分返回 nil
func (e *Entry) AggregateRating() (*AggregateRating, error) {
	if len(e.Rating) == 0 || string(e.Rating) == "null" {
		return nil, nil
	}
	var agg AggregateRating
	if err := json.Unmarshal(e.Rating, &agg); err != nil {
		return nil, fmt.Errorf("decode entry(%d) rating failed: %w", e.ID, err)
	}
	return &agg, nil
}
