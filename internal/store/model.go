package store

import "time"

// User is a person taking part in sessions.
type User struct {
	ID        string    `gorm:"primaryKey" json:"uid"`
	FirstName string    `gorm:"column:first_name" json:"first_name"`
	LastName  string    `gorm:"column:last_name" json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
}

// Session groups the clips of one exercise session.
type Session struct {
	ID          string    `gorm:"primaryKey" json:"sid"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`

	Users []User `gorm:"many2many:session_users" json:"users,omitempty"`
	Clips []Clip `gorm:"foreignKey:SessionID" json:"clips"`
}

// Clip is one recording run within a session, numbered in order of first
// upload.
type Clip struct {
	ID         uint       `gorm:"primaryKey" json:"-"`
	SessionID  string     `gorm:"uniqueIndex:idx_clip_session;not null" json:"sessionId"`
	ClipID     string     `gorm:"uniqueIndex:idx_clip_session;not null" json:"clipId"`
	Number     int        `json:"number"`
	PoseCount  int        `json:"poseCount"`
	Finished   bool       `json:"finished"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Keypoint is stored inline with its pose.
type Keypoint struct {
	Name  string  `json:"name"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Score float64 `json:"score"`
}

// Pose is one pose sample, unique per (session, clip, timestamp).
type Pose struct {
	ID        uint       `gorm:"primaryKey" json:"-"`
	SessionID string     `gorm:"uniqueIndex:idx_pose_key;not null" json:"-"`
	ClipID    string     `gorm:"uniqueIndex:idx_pose_key;not null" json:"-"`
	Timestamp int64      `gorm:"uniqueIndex:idx_pose_key" json:"timestamp"` // unix ms
	Score     float64    `json:"score"`
	Keypoints []Keypoint `gorm:"serializer:json" json:"keypoints"`
	FramePath string     `json:"frame,omitempty"`
	CreatedAt time.Time  `json:"-"`
}
