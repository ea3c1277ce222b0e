package model

import (
	"time"
)

type UserCategory string

const (
	UserCategoryNew         UserCategory = "new"
	UserCategoryActive      UserCategory = "active"
	UserCategoryHibernating UserCategory = "hibernating"
	UserCategoryInactive    UserCategory = "inactive"
)

// Stat 可累加的用户活动计数
type Stat string

const (
	StatEventsCreated Stat = "events_created"
	StatEventsJoined  Stat = "events_joined"
	StatGroupsCreated Stat = "groups_created"
	StatGroupsJoined  Stat = "groups_joined"
)

func (s Stat) Valid() bool {
	switch s {
	case StatEventsCreated, StatEventsJoined, StatGroupsCreated, StatGroupsJoined:
		return true
	}
	return false
}

// UserStats 用户活动统计，分类由服务端根据统计重新计算
type UserStats struct {
	ID            int64        `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID        string       `gorm:"type:varchar(36);uniqueIndex;not null" json:"user_id"`
	EventsCreated int64        `gorm:"not null;default:0" json:"events_created"`
	EventsJoined  int64        `gorm:"not null;default:0" json:"events_joined"`
	GroupsCreated int64        `gorm:"not null;default:0" json:"groups_created"`
	GroupsJoined  int64        `gorm:"not null;default:0" json:"groups_joined"`
	Category      UserCategory `gorm:"type:varchar(20);not null;default:new" json:"category"`
	LastActiveAt  *time.Time   `json:"last_active_at"`
	CreatedAt     time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserStats) TableName() string {
	return "user_stats"
}

func (s *UserStats) TotalActivity() int64 {
	return s.EventsCreated + s.EventsJoined + s.GroupsCreated + s.GroupsJoined
}
