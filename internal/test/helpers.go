package test

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lessoncast/internal/models"
)

var unsafeDSNChars = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// GetTestDB opens an in-memory SQLite database private to the test and migrates every model
func GetTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + unsafeDSNChars.ReplaceAllString(t.Name(), "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// a single connection keeps the shared in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		sqlDB.Close()
	})

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

// CreatePlaylist inserts a playlist
func CreatePlaylist(t *testing.T, db *gorm.DB, title string) *models.Playlist {
	t.Helper()
	playlist := &models.Playlist{Title: title}
	require.NoError(t, db.Create(playlist).Error)
	return playlist
}

// CreateSong inserts a song
func CreateSong(t *testing.T, db *gorm.DB, title string, playlistID int64, audioFile string) *models.Song {
	t.Helper()
	song := &models.Song{Title: title, Artist: "Test Artist", PlaylistID: playlistID, AudioFile: audioFile}
	require.NoError(t, db.Create(song).Error)
	return song
}

// CreateLesson inserts a lesson
func CreateLesson(t *testing.T, db *gorm.DB, title string) *models.Lesson {
	t.Helper()
	lesson := &models.Lesson{Title: title}
	require.NoError(t, db.Create(lesson).Error)
	return lesson
}

// CreateLine inserts a line into a lesson
func CreateLine(t *testing.T, db *gorm.DB, lessonID int64, order int, audioFile string, breakAfter bool) *models.Line {
	t.Helper()
	line := &models.Line{
		LessonID:   lessonID,
		Text:       models.PlaceholderLineText,
		Order:      order,
		AudioFile:  audioFile,
		BreakAfter: breakAfter,
	}
	require.NoError(t, db.Create(line).Error)
	return line
}

// CreateUser inserts a user with an unusable password
func CreateUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	user := &models.User{Username: username, Password: "!"}
	require.NoError(t, db.Create(user).Error)
	return user
}

// WaitForCondition polls condition until it holds or timeout elapses
func WaitForCondition(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
