package state

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	projectPrefix      = "project:"
	notificationPrefix = "notify:"
)

// ProjectRoom is the room key for everyone viewing a project board.
func ProjectRoom(projectID string) string {
	return projectPrefix + projectID
}

// NotificationRoom is the private room key for one user's live notifications.
func NotificationRoom(userID string) string {
	return notificationPrefix + userID
}

// ProjectIDFrom returns the project id of a project room key.
func ProjectIDFrom(room string) (string, bool) {
	if !strings.HasPrefix(room, projectPrefix) {
		return "", false
	}
	return strings.TrimPrefix(room, projectPrefix), true
}

// IsNotificationRoom reports whether room is a per-user notification room.
func IsNotificationRoom(room string) bool {
	return strings.HasPrefix(room, notificationPrefix)
}

// ConnInfo is what the broker remembers about an attached connection.
type ConnInfo struct {
	ID        uuid.UUID
	IPAddress string
	// Owner groups connections for limiting: the authenticated user id, or
	// "ip:<addr>" for anonymous sockets.
	Owner     string
	UserID    string
	CreatedAt time.Time
}

// Label is the display name presence events use for a connection.
func (c ConnInfo) Label() string {
	return ConnectionLabel(c.ID)
}

// ConnectionLabel derives "User-xxxx" from the first four characters of the id.
func ConnectionLabel(id uuid.UUID) string {
	return "User-" + id.String()[:4]
}

// OwnerKey picks the limiter key for a connection.
func OwnerKey(userID, ip string) string {
	if userID != "" {
		return userID
	}
	return "ip:" + ip
}
