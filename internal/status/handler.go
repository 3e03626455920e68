package status

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"media-status/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// HandlerConfig holds the HTTP layer settings.
type HandlerConfig struct {
	// UploadDir receives files posted to /upload.
	UploadDir string
	// DefaultBitRate is used for master playlists requested without bitRate.
	DefaultBitRate string
	// PushInterval is the period of now-playing websocket updates.
	PushInterval time.Duration
}

// Handler exposes the status registry over HTTP using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
	cfg     HandlerConfig
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics, cfg HandlerConfig) *Handler {
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.DefaultBitRate == "" {
		cfg.DefaultBitRate = "1000"
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 5 * time.Second
	}
	return &Handler{svc: svc, log: log, metrics: m, cfg: cfg}
}

// RegisterRoutes mounts every endpoint on r. remotePlay wraps the remote play
// report endpoint, e.g. with a rate limiter.
func (h *Handler) RegisterRoutes(r chi.Router, remotePlay ...func(http.Handler) http.Handler) {
	r.Route("/status", func(r chi.Router) {
		r.Get("/streams", h.ListStreams)
		r.Get("/streams/{player_id}", h.ListPlayerStreams)
		r.Get("/downloads", h.ListDownloads)
		r.Get("/uploads", h.ListUploads)
		r.Get("/now-playing", h.NowPlaying)
		r.Get("/ws", h.NowPlayingWS)
		r.Post("/transfers/{transfer_id}/terminate", h.TerminateTransfer)
	})
	r.With(remotePlay...).Post("/players/{player_id}/now-playing", h.ReportRemotePlay)
	r.Route("/hls/{player_id}", func(r chi.Router) {
		r.Get("/master.m3u8", h.MasterPlaylist)
		r.Get("/{bitrate}/playlist.m3u8", h.MediaPlaylist)
	})
	r.Get("/stream", h.Stream)
	r.Get("/download", h.Download)
	r.Post("/upload", h.Upload)
}

// ListStreams handles GET /status/streams.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	h.listTransfers(w, KindStream)
}

// ListDownloads handles GET /status/downloads.
func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	h.listTransfers(w, KindDownload)
}

// ListUploads handles GET /status/uploads.
func (h *Handler) ListUploads(w http.ResponseWriter, r *http.Request) {
	h.listTransfers(w, KindUpload)
}

func (h *Handler) listTransfers(w http.ResponseWriter, kind Kind) {
	list, err := h.svc.Transfers(kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListPlayerStreams handles GET /status/streams/{player_id}.
func (h *Handler) ListPlayerStreams(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "player_id")
	if playerID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.StreamsForPlayer(playerID))
}

// nowPlayingEntry is the JSON form of a PlayStatus.
type nowPlayingEntry struct {
	Player     *Player    `json:"player"`
	MediaFile  *MediaFile `json:"media_file"`
	Time       time.Time  `json:"time"`
	MinutesAgo int64      `json:"minutes_ago"`
}

func (h *Handler) nowPlayingView() []nowPlayingEntry {
	statuses := h.svc.NowPlaying()
	out := make([]nowPlayingEntry, 0, len(statuses))
	for _, ps := range statuses {
		out = append(out, nowPlayingEntry{
			Player:     ps.Player,
			MediaFile:  ps.MediaFile,
			Time:       ps.Time,
			MinutesAgo: ps.MinutesAgo(),
		})
	}
	return out
}

// NowPlaying handles GET /status/now-playing.
func (h *Handler) NowPlaying(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.nowPlayingView())
}

// TerminateTransfer handles POST /status/transfers/{transfer_id}/terminate.
func (h *Handler) TerminateTransfer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "transfer_id")
	if err := h.svc.TerminateTransfer(id); err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info("transfer terminated", slog.String("transfer_id", id))
	w.WriteHeader(http.StatusNoContent)
}

type remotePlayRequest struct {
	Path string `json:"path"`
}

// ReportRemotePlay handles POST /players/{player_id}/now-playing.
// Body: { "path": "/music/artist/album/track.mp3" }.
func (h *Handler) ReportRemotePlay(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "player_id")

	var req remotePlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid remote play body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ps, err := h.svc.ReportRemotePlay(playerID, req.Path)
	if err != nil {
		h.log.Debug("remote play rejected",
			slog.String("player_id", playerID),
			slog.String("path", req.Path),
			slog.String("error", err.Error()))
		h.writeError(w, err)
		return
	}

	h.log.Debug("remote play reported",
		slog.String("player_id", playerID),
		slog.String("path", ps.MediaFile.Path))
	if h.metrics != nil {
		h.metrics.IncRemotePlays()
	}
	w.WriteHeader(http.StatusAccepted)
}

// MasterPlaylist handles GET /hls/{player_id}/master.m3u8?path=...&bitRate=...
// bitRate may repeat, each value being "KBPS" or "KBPS@WIDTHxHEIGHT".
func (h *Handler) MasterPlaylist(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "player_id")
	path := r.URL.Query().Get("path")
	bitRates := r.URL.Query()["bitRate"]
	if len(bitRates) == 0 {
		bitRates = []string{h.cfg.DefaultBitRate}
	}

	m3u8, err := h.svc.MasterPlaylist(path, bitRates, func(spec string) string {
		return "/hls/" + url.PathEscape(playerID) + "/" + url.PathEscape(spec) +
			"/playlist.m3u8?" + url.Values{"path": {path}}.Encode()
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writePlaylist(w, m3u8)
}

// MediaPlaylist handles GET /hls/{player_id}/{bitrate}/playlist.m3u8?path=...
func (h *Handler) MediaPlaylist(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "player_id")
	bitRate := chi.URLParam(r, "bitrate")
	if unescaped, err := url.PathUnescape(bitRate); err == nil {
		bitRate = unescaped
	}
	path := r.URL.Query().Get("path")

	m3u8, err := h.svc.MediaPlaylist(path, bitRate, func(offset, kbps int) string {
		return "/stream?" + url.Values{
			"player":     {playerID},
			"path":       {path},
			"timeOffset": {strconv.Itoa(offset)},
			"maxBitRate": {strconv.Itoa(kbps)},
		}.Encode()
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writePlaylist(w, m3u8)
}

func writePlaylist(w http.ResponseWriter, m3u8 string) {
	w.Header().Set("Content-Type", playlistContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(m3u8))
}

// writeError maps service errors to status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidPlayer),
		errors.Is(err, ErrInvalidPlayStatus),
		errors.Is(err, ErrInvalidBitRate),
		errors.Is(err, ErrUnknownKind):
		w.WriteHeader(http.StatusBadRequest)
	case errors.Is(err, ErrMediaFileNotFound),
		errors.Is(err, ErrTransferNotFound):
		w.WriteHeader(http.StatusNotFound)
	default:
		h.log.Error("request failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
