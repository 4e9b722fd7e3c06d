package models

// AggregateRating 条目下已审核且带评分反馈的均值和数量
type AggregateRating struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// NewAggregateRating 算术平均，空输入得到 Count=0
func NewAggregateRating(ratings []int) AggregateRating {
	if len(ratings) == 0 {
		return AggregateRating{}
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	return AggregateRating{
		Average: float64(sum) / float64(len(ratings)),
		Count:   len(ratings),
	}
}

// Rated Count 为 0 即“无评分”，不能当作 0 分
func (a AggregateRating) Rated() bool {
	return a.Count > 0
}
