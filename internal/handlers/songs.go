package handlers

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"lessoncast/internal/clipstore"
	"lessoncast/internal/metrics"
	"lessoncast/internal/models"
	"lessoncast/internal/services"
	"lessoncast/internal/utils"
)

// UserIDHeader is set by the upstream gateway after authentication
const UserIDHeader = "X-User-ID"

var audioMimeTypes = map[string]string{
	"mp3": "audio/mpeg",
	"wav": "audio/wav",
	"ogg": "audio/ogg",
}

// SongHandler handles song streaming and play history
type SongHandler struct {
	repo    *services.Repository
	store   *clipstore.Store
	metrics *metrics.Metrics
	logger  *zerolog.Logger
}

// NewSongHandler creates a new song handler
func NewSongHandler(repo *services.Repository, store *clipstore.Store, m *metrics.Metrics, logger *zerolog.Logger) *SongHandler {
	return &SongHandler{repo: repo, store: store, metrics: m, logger: logger}
}

func (h *SongHandler) loadSong(c *fiber.Ctx) (*models.Song, error) {
	songID, err := c.ParamsInt("id")
	if err != nil || songID <= 0 {
		return nil, utils.SendError(c, http.StatusBadRequest, "Invalid song ID")
	}
	song, err := h.repo.GetSongByID(c.UserContext(), int64(songID))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.SendNotFoundError(c, "Song")
	}
	if err != nil {
		return nil, utils.SendInternalServerError(c, "Failed to fetch song")
	}
	return song, nil
}

// StreamAudio sends the song's audio file
func (h *SongHandler) StreamAudio(c *fiber.Ctx) error {
	song, err := h.loadSong(c)
	if song == nil {
		return err
	}

	f, err := h.store.Open(song.AudioFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, clipstore.ErrUnsafePath) {
			return utils.SendNotFoundError(c, "Audio file")
		}
		h.logger.Error().Err(err).Int64("song_id", song.ID).Msg("Failed to open song audio")
		return utils.SendInternalServerError(c, "Failed to open audio file")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return utils.SendInternalServerError(c, "Failed to open audio file")
	}

	mime, ok := audioMimeTypes[clipstore.Ext(song.AudioFile)]
	if !ok {
		mime = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentType, mime)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	h.metrics.AddStreamBytes(info.Size())

	// fasthttp closes the file once the body is written
	return c.SendStream(f, int(info.Size()))
}

// RecordPlay stores one play of the song by the calling user
func (h *SongHandler) RecordPlay(c *fiber.Ctx) error {
	userID, err := strconv.ParseInt(c.Get(UserIDHeader), 10, 64)
	if err != nil || userID <= 0 {
		return utils.SendUnauthorizedError(c, "User not authenticated")
	}
	if _, err := h.repo.GetUserByID(c.UserContext(), userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendUnauthorizedError(c, "Unknown user")
		}
		h.logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to fetch user")
		return utils.SendInternalServerError(c, "Failed to fetch user")
	}

	song, err := h.loadSong(c)
	if song == nil {
		return err
	}

	play := &models.PlayHistory{UserID: userID, SongID: song.ID, PlayedAt: time.Now().UTC()}
	if err := h.repo.RecordPlay(c.UserContext(), play); err != nil {
		h.logger.Error().Err(err).Int64("song_id", song.ID).Msg("Failed to record play")
		return utils.SendInternalServerError(c, "Failed to record play")
	}
	return c.SendStatus(fiber.StatusOK)
}

// GetPlayCount returns how often the song has been played
func (h *SongHandler) GetPlayCount(c *fiber.Ctx) error {
	songID, err := c.ParamsInt("id")
	if err != nil || songID <= 0 {
		return utils.SendError(c, http.StatusBadRequest, "Invalid song ID")
	}
	count, err := h.repo.CountPlays(c.UserContext(), int64(songID))
	if err != nil {
		return utils.SendInternalServerError(c, "Failed to count plays")
	}
	return c.JSON(count)
}
