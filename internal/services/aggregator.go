package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Daneel-Li/feedback-back/internal/dao"
	"github.com/Daneel-Li/feedback-back/internal/models"
)

type ApprovedRatingReader interface {
	GetApprovedRatings(entryID uint) ([]int, error)
}

type AggregateRatingWriter interface {
	SetAggregateRating(entryID uint, rating *models.AggregateRating) error
}

// RatingRecomputer 供 FeedbackService 依赖
type RatingRecomputer interface {
	Recompute(ctx context.Context, entryID uint) (models.AggregateRating, error)
}

// RatingAggregator 重新计算条目聚合评分并写回条目
type RatingAggregator struct {
	ratings ApprovedRatingReader
	entries AggregateRatingWriter
	history dao.RatingHistoryRepository // 可为空
}

func NewRatingAggregator(ratings ApprovedRatingReader, entries AggregateRatingWriter, history dao.RatingHistoryRepository) *RatingAggregator {
	return &RatingAggregator{ratings: ratings, entries: entries, history: history}
}

var _ RatingRecomputer = (*RatingAggregator)(nil)

// Recompute 全量计算，同样的数据多次调用结果相同
func (a *RatingAggregator) Recompute(ctx context.Context, entryID uint) (models.AggregateRating, error) {
	ratings, err := a.ratings.GetApprovedRatings(entryID)
	if err != nil {
		return models.AggregateRating{}, fmt.Errorf("read approved ratings failed: %w", err)
	}

	agg := models.NewAggregateRating(ratings)
	var value *models.AggregateRating
	if agg.Rated() {
		value = &agg
	}
	if err := a.entries.SetAggregateRating(entryID, value); err != nil {
		return agg, fmt.Errorf("publish rating of entry(%d) failed: %w", entryID, err)
	}
	slog.Debug("entry rating recomputed", "entryID", entryID, "average", agg.Average, "count", agg.Count)

	if a.history != nil {
		if err := a.history.AddRatingSnapshot(entryID, agg, time.Now()); err != nil {
			slog.Warn("record rating history failed", "entryID", entryID, "error", err)
		}
	}
	return agg, nil
}
