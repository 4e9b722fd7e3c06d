package dao

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Daneel-Li/feedback-back/internal/models"
)

const (
	_STB_RATING_HISTORY = "stb_rating_history"
	_TBL_RATING_PREFIX  = "tb_rating_" //每个条目一张子表
)

// TaosRatingHistory 聚合评分快照写入 TDengine
type TaosRatingHistory struct {
	db *sql.DB
}

func NewTaosRatingHistory(db *sql.DB) *TaosRatingHistory {
	return &TaosRatingHistory{db: db}
}

var _ RatingHistoryRepository = (*TaosRatingHistory)(nil)

// EnsureSchema 创建超级表
func (t *TaosRatingHistory) EnsureSchema() error {
	_, err := t.db.Exec(fmt.Sprintf(
		"CREATE STABLE IF NOT EXISTS %s (ts TIMESTAMP, average DOUBLE, cnt INT) TAGS (entry_id INT UNSIGNED)",
		_STB_RATING_HISTORY))
	if err != nil {
		return fmt.Errorf("create stable %s failed: %w", _STB_RATING_HISTORY, err)
	}
	return nil
}

// AddRatingSnapshot 子表不存在时自动创建
func (t *TaosRatingHistory) AddRatingSnapshot(entryID uint, rating models.AggregateRating, at time.Time) error {
	_, err := t.db.Exec(ratingSnapshotSQL(entryID, rating, at))
	if err != nil {
		return fmt.Errorf("insert rating snapshot of entry(%d) failed: %w", entryID, err)
	}
	return nil
}

func ratingSnapshotSQL(entryID uint, rating models.AggregateRating, at time.Time) string {
	return fmt.Sprintf("INSERT INTO %s%d USING %s TAGS (%d) VALUES (%d, %f, %d)",
		_TBL_RATING_PREFIX, entryID, _STB_RATING_HISTORY, entryID,
		at.UnixMilli(), rating.Average, rating.Count)
}
