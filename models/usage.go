package models

import "gorm.io/gorm"

// UsageDateFormat is the layout for DailyUsage.UsageDate (always UTC).
const UsageDateFormat = "2006-01-02"

// DailyUsage holds one row of per-type counters per (sender, UTC date).
// Rows are created lazily on the first check or consume of a day and
// counters only increase within their date; nothing rolls over.
type DailyUsage struct {
	gorm.Model
	SenderID  uint   `gorm:"not null;uniqueIndex:idx_usage_sender_date" json:"sender_id"`
	UsageDate string `gorm:"not null;uniqueIndex:idx_usage_sender_date" json:"usage_date"` // 2006-01-02, UTC

	ConnectionsSent  int `gorm:"default:0" json:"connections_sent"`
	MessagesSent     int `gorm:"default:0" json:"messages_sent"`
	ProfileViews     int `gorm:"default:0" json:"profile_views"`
	ConnectionChecks int `gorm:"default:0" json:"connection_checks"`
}

// CounterFor returns the counter value for an action type. The switch is
// exhaustive over ActionType so a new type fails loudly here, not as a
// silently zero budget.
func (u *DailyUsage) CounterFor(t ActionType) int {
	switch t {
	case ActionConnect:
		return u.ConnectionsSent
	case ActionMessage:
		return u.MessagesSent
	case ActionProfileView:
		return u.ProfileViews
	case ActionCheckConnection:
		return u.ConnectionChecks
	}
	return 0
}

// CounterColumn maps an action type to its counter column name.
func CounterColumn(t ActionType) string {
	switch t {
	case ActionConnect:
		return "connections_sent"
	case ActionMessage:
		return "messages_sent"
	case ActionProfileView:
		return "profile_views"
	case ActionCheckConnection:
		return "connection_checks"
	}
	return ""
}

// Total is the sum of all counters, used for least-loaded sender selection.
func (u *DailyUsage) Total() int {
	return u.ConnectionsSent + u.MessagesSent + u.ProfileViews + u.ConnectionChecks
}
