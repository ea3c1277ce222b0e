package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"renaissance/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInvalidStat = errors.New("未知的统计项")

type StatsRepository struct {
	db *gorm.DB
}

func NewStatsRepository(db *gorm.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

func (r *StatsRepository) GetOrCreate(ctx context.Context, userID string) (*model.UserStats, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&model.UserStats{UserID: userID, Category: model.UserCategoryNew}).Error
	if err != nil {
		return nil, err
	}

	var stats model.UserStats
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&stats).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}

// Increment 原子地累加某个统计项并刷新最近活跃时间
func (r *StatsRepository) Increment(ctx context.Context, userID string, stat model.Stat, at time.Time) error {
	if !stat.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidStat, stat)
	}
	if _, err := r.GetOrCreate(ctx, userID); err != nil {
		return err
	}

	column := string(stat)
	return r.db.WithContext(ctx).
		Model(&model.UserStats{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			column:           gorm.Expr(column + " + 1"),
			"last_active_at": at,
		}).Error
}

func (r *StatsRepository) UpdateCategory(ctx context.Context, userID string, category model.UserCategory) error {
	return r.db.WithContext(ctx).
		Model(&model.UserStats{}).
		Where("user_id = ?", userID).
		Update("category", category).Error
}
