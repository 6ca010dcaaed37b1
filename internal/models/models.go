package models

import (
	"sort"
	"time"
)

// PlaceholderLineText is the transcript given to lines created from the admin console
const PlaceholderLineText = "[Your text here]"

// User represents the users table
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"size:80;uniqueIndex;not null" json:"username"`
	Password  string    `gorm:"size:120;not null" json:"-"` // bcrypt hash, never exposed
	IsAdmin   bool      `gorm:"default:false" json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// Playlist represents the playlists table
type Playlist struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Title       string `gorm:"size:120;not null" json:"title"`
	Description string `gorm:"size:500" json:"description"`

	// Relationships
	Songs []Song `gorm:"foreignKey:PlaylistID" json:"-"`
}

func (Playlist) TableName() string {
	return "playlists"
}

// Song is a playable track: either a catalogued playlist entry or a lesson export
type Song struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Title      string `gorm:"size:120;not null" json:"title"`
	Artist     string `gorm:"size:120;not null" json:"artist"`
	PlaylistID int64  `gorm:"index;not null" json:"playlist_id"`
	AudioFile  string `gorm:"size:255;not null" json:"audio_file"` // relative path inside the clip store
}

func (Song) TableName() string {
	return "songs"
}

// PlayHistory records a single play of a song by a user
type PlayHistory struct {
	ID       int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID   int64     `gorm:"index;not null" json:"user_id"`
	SongID   int64     `gorm:"index;not null" json:"song_id"`
	PlayedAt time.Time `gorm:"not null" json:"played_at"`
}

func (PlayHistory) TableName() string {
	return "play_history"
}

// Lesson is an ordered collection of spoken lines compiled into one song
type Lesson struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Title     string    `gorm:"size:200;not null" json:"title"`
	SongID    *int64    `gorm:"uniqueIndex" json:"song_id"` // set only by the build pipeline
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	Song  *Song  `gorm:"foreignKey:SongID" json:"song,omitempty"`
	Lines []Line `gorm:"foreignKey:LessonID;constraint:OnDelete:CASCADE" json:"lines,omitempty"`
}

func (Lesson) TableName() string {
	return "lessons"
}

// Line is one transcript plus an optional clip, owned by a lesson
type Line struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Text       string `gorm:"not null" json:"text"`
	AudioFile  string `gorm:"size:255;not null;default:''" json:"audio_file"` // empty means no clip yet
	Order      int    `gorm:"column:sort_order;not null;default:0;index:idx_lines_lesson_order,priority:2" json:"order"`
	BreakAfter bool   `gorm:"not null;default:false" json:"break_after"`
	LessonID   int64  `gorm:"not null;index:idx_lines_lesson_order,priority:1" json:"lesson_id"`
}

func (Line) TableName() string {
	return "lines"
}

// HasAudio reports whether a clip has been attached to the line
func (l Line) HasAudio() bool {
	return l.AudioFile != ""
}

// SortLines orders lines by Order ascending, breaking ties by ID.
func SortLines(lines []Line) {
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].Order != lines[j].Order {
			return lines[i].Order < lines[j].Order
		}
		return lines[i].ID < lines[j].ID
	})
}

// All returns every model in migration order
func All() []interface{} {
	return []interface{}{
		&User{},
		&Playlist{},
		&Song{},
		&PlayHistory{},
		&Lesson{},
		&Line{},
	}
}
