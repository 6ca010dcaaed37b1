package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"lessoncast/internal/clipstore"
	"lessoncast/internal/models"
	"lessoncast/internal/services"
	"lessoncast/internal/utils"
)

// PlaylistHandler handles playlist-related requests
type PlaylistHandler struct {
	repo   *services.Repository
	store  *clipstore.Store
	logger *zerolog.Logger
}

// NewPlaylistHandler creates a new playlist handler
func NewPlaylistHandler(repo *services.Repository, store *clipstore.Store, logger *zerolog.Logger) *PlaylistHandler {
	return &PlaylistHandler{repo: repo, store: store, logger: logger}
}

// GetPlaylists lists every playlist
func (h *PlaylistHandler) GetPlaylists(c *fiber.Ctx) error {
	playlists, err := h.repo.ListPlaylists(c.UserContext())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to fetch playlists")
		return utils.SendInternalServerError(c, "Failed to fetch playlists")
	}
	return c.JSON(playlists)
}

// GetPlaylistSongs lists the songs of one playlist
func (h *PlaylistHandler) GetPlaylistSongs(c *fiber.Ctx) error {
	playlistID, err := c.ParamsInt("id")
	if err != nil || playlistID <= 0 {
		return utils.SendError(c, http.StatusBadRequest, "Invalid playlist ID")
	}

	songs, err := h.repo.GetSongsByPlaylist(c.UserContext(), int64(playlistID))
	if err != nil {
		h.logger.Error().Err(err).Int("playlist_id", playlistID).Msg("Failed to fetch songs")
		return utils.SendInternalServerError(c, "Failed to fetch songs")
	}
	return c.JSON(songs)
}

// UploadSong stores an uploaded audio file and adds it to the playlist
func (h *PlaylistHandler) UploadSong(c *fiber.Ctx) error {
	ctx := c.UserContext()
	playlistID, err := c.ParamsInt("id")
	if err != nil || playlistID <= 0 {
		return utils.SendError(c, http.StatusBadRequest, "Invalid playlist ID")
	}

	if _, err := h.repo.GetPlaylistByID(ctx, int64(playlistID)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendNotFoundError(c, "Playlist")
		}
		return utils.SendInternalServerError(c, "Failed to fetch playlist")
	}

	fileHeader, err := c.FormFile("audio")
	if err != nil || fileHeader.Filename == "" {
		return utils.SendValidationError(c, "audio", "no audio file provided")
	}

	title := strings.TrimSpace(c.FormValue("title"))
	artist := strings.TrimSpace(c.FormValue("artist"))
	if title == "" || artist == "" {
		return utils.SendValidationError(c, "title", "title and artist are required")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return utils.SendInternalServerError(c, "Failed to read upload")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return utils.SendInternalServerError(c, "Failed to read upload")
	}

	rel := clipstore.UploadPath(fileHeader.Filename)
	if err := h.store.Write(rel, data); err != nil {
		h.logger.Error().Err(err).Str("path", rel).Msg("Failed to store uploaded song")
		return utils.SendInternalServerError(c, "Failed to store audio file")
	}

	song := &models.Song{Title: title, Artist: artist, PlaylistID: int64(playlistID), AudioFile: rel}
	if err := h.repo.CreateSong(ctx, song); err != nil {
		_ = h.store.Remove(rel)
		h.logger.Error().Err(err).Msg("Failed to create song")
		return utils.SendInternalServerError(c, "Failed to create song")
	}

	h.logger.Info().Int64("song_id", song.ID).Str("path", rel).Msg("Song uploaded")
	return c.Status(fiber.StatusCreated).JSON(song)
}
