package status

import "time"

// RemotePlayTTL is how long a remote play report is considered current.
const RemotePlayTTL = 6 * time.Hour

// Player identifies a client of the media server. Players are owned by a
// PlayerDirectory; the registry only indexes them by ID.
type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Username  string `json:"username,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// MediaFile is the descriptive record of a media resource on disk.
type MediaFile struct {
	Path            string `json:"path"`
	Title           string `json:"title"`
	Artist          string `json:"artist,omitempty"`
	Album           string `json:"album,omitempty"`
	DurationSeconds int    `json:"duration_seconds"`
	Size            int64  `json:"size"`
	Format          string `json:"format,omitempty"`
}

// PlayStatus reports that a player is playing a media file as of Time.
// Values are never mutated once built.
type PlayStatus struct {
	MediaFile *MediaFile `json:"media_file"`
	Player    *Player    `json:"player"`
	Time      time.Time  `json:"time"`
}

// NewPlayStatus returns a PlayStatus for player playing mediaFile at t.
func NewPlayStatus(mediaFile *MediaFile, player *Player, t time.Time) PlayStatus {
	return PlayStatus{MediaFile: mediaFile, Player: player, Time: t}
}

// IsExpired reports whether the report is older than RemotePlayTTL.
func (p PlayStatus) IsExpired() bool {
	return p.ExpiredAt(time.Now())
}

// ExpiredAt reports whether the report is older than RemotePlayTTL at now.
func (p PlayStatus) ExpiredAt(now time.Time) bool {
	return now.Sub(p.Time) > RemotePlayTTL
}

// MinutesAgo returns the whole minutes elapsed since the report.
func (p PlayStatus) MinutesAgo() int64 {
	return int64(time.Since(p.Time) / time.Minute)
}

// Kind is the direction of a transfer.
type Kind string

const (
	KindStream   Kind = "stream"
	KindDownload Kind = "download"
	KindUpload   Kind = "upload"
)

// Resolution is a video frame size requested alongside a bitrate.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}
