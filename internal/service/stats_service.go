package service

import (
	"context"
	"fmt"
	"time"

	"renaissance/internal/config"
	"renaissance/internal/model"
	"renaissance/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StatsService 用户活动统计与分类
type StatsService struct {
	statsRepo         *repository.StatsRepository
	activeWindow      time.Duration
	hibernatingWindow time.Duration
	now               func() time.Time
}

func NewStatsService(db *gorm.DB, cfg *config.BusinessConfig) *StatsService {
	return &StatsService{
		statsRepo:         repository.NewStatsRepository(db),
		activeWindow:      time.Duration(cfg.ActiveWindowDays) * 24 * time.Hour,
		hibernatingWindow: time.Duration(cfg.HibernatingWindowDays) * 24 * time.Hour,
		now:               time.Now,
	}
}

// ClassifyUser 根据活动统计推导用户分类：
// 没有任何活动为 new；最近活跃在 activeWindow 内为 active；
// 在 hibernatingWindow 内为 hibernating；否则为 inactive。
func ClassifyUser(stats *model.UserStats, now time.Time, activeWindow, hibernatingWindow time.Duration) model.UserCategory {
	if stats == nil || stats.TotalActivity() == 0 || stats.LastActiveAt == nil {
		return model.UserCategoryNew
	}
	idle := now.Sub(*stats.LastActiveAt)
	switch {
	case idle <= activeWindow:
		return model.UserCategoryActive
	case idle <= hibernatingWindow:
		return model.UserCategoryHibernating
	default:
		return model.UserCategoryInactive
	}
}

func (s *StatsService) GetUserStats(ctx context.Context, userID string) (*model.UserStats, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	return s.statsRepo.GetOrCreate(ctx, userID)
}

// IncrementStat 累加 events_created / events_joined / groups_created / groups_joined 之一
func (s *StatsService) IncrementStat(ctx context.Context, userID string, stat model.Stat) error {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return err
	}
	if err := s.statsRepo.Increment(ctx, userID, stat, s.now()); err != nil {
		return fmt.Errorf("更新用户统计失败: %w", err)
	}
	return nil
}

// GetUserCategory 每次都根据最新统计实时计算，不走缓存
func (s *StatsService) GetUserCategory(ctx context.Context, userID string) (model.UserCategory, error) {
	stats, err := s.GetUserStats(ctx, userID)
	if err != nil {
		return "", err
	}
	return ClassifyUser(stats, s.now(), s.activeWindow, s.hibernatingWindow), nil
}

// RecalculateUserCategory recalculate_user_category，重新计算并持久化分类
func (s *StatsService) RecalculateUserCategory(ctx context.Context, userID string) (model.UserCategory, error) {
	stats, err := s.GetUserStats(ctx, userID)
	if err != nil {
		return "", err
	}

	category := ClassifyUser(stats, s.now(), s.activeWindow, s.hibernatingWindow)
	if category == stats.Category {
		return category, nil
	}
	if err := s.statsRepo.UpdateCategory(ctx, stats.UserID, category); err != nil {
		return "", fmt.Errorf("更新用户分类失败: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id": stats.UserID,
		"from":    stats.Category,
		"to":      category,
	}).Info("用户分类变更")
	return category, nil
}
