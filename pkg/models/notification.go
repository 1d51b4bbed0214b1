package models

import "time"

// NotificationLevel distinguishes informational toasts from error toasts.
type NotificationLevel string

const (
	NotifyInfo  NotificationLevel = "info"
	NotifyError NotificationLevel = "error"
)

// Notification is a user-visible message raised by the dashboard, e.g. after a
// failed fetch or a successful manual refresh.
type Notification struct {
	ID          string            `json:"id"`
	Level       NotificationLevel `json:"level"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	CreatedAt   time.Time         `json:"created_at"`
}
