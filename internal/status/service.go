package status

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTransferNotFound is returned when no transfer has the requested id.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrUnknownKind is returned for a transfer kind other than stream,
	// download or upload.
	ErrUnknownKind = errors.New("unknown transfer kind")
)

// Service exposes the registry to the HTTP layer: it resolves players and
// media files, turns transfers into snapshots and builds HLS playlists.
type Service struct {
	registry       *Registry
	library        MediaFileService
	players        *PlayerDirectory
	segmentSeconds int
	now            func() time.Time
}

// NewService returns a Service over registry. Media files are resolved with
// library and players are shared through players. If segmentSeconds <= 0,
// DefaultSegmentSeconds is used.
func NewService(registry *Registry, library MediaFileService, players *PlayerDirectory, segmentSeconds int) *Service {
	if segmentSeconds <= 0 {
		segmentSeconds = DefaultSegmentSeconds
	}
	return &Service{
		registry:       registry,
		library:        library,
		players:        players,
		segmentSeconds: segmentSeconds,
		now:            time.Now,
	}
}

// Player returns the shared identity for id, registering it from template on
// first use.
func (s *Service) Player(id string, template Player) (*Player, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidPlayer
	}
	return s.players.GetOrRegister(id, template), nil
}

// ResolveMediaFile looks up path in the media library.
func (s *Service) ResolveMediaFile(path string) (*MediaFile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrMediaFileNotFound
	}
	mf, err := s.library.GetMediaFile(path)
	if err != nil {
		return nil, err
	}
	if mf == nil {
		return nil, ErrMediaFileNotFound
	}
	return mf, nil
}

// ReportRemotePlay records that playerID is playing the file at path now.
func (s *Service) ReportRemotePlay(playerID, path string) (PlayStatus, error) {
	player, err := s.Player(playerID, Player{})
	if err != nil {
		return PlayStatus{}, err
	}
	mf, err := s.ResolveMediaFile(path)
	if err != nil {
		return PlayStatus{}, err
	}

	ps := NewPlayStatus(mf, player, s.now())
	if err := s.registry.AddRemotePlay(ps); err != nil {
		return PlayStatus{}, err
	}
	return ps, nil
}

// StartTransfer registers a transfer of kind for player. path may be empty
// when it is not known yet.
func (s *Service) StartTransfer(kind Kind, player *Player, path string) (*TransferStatus, error) {
	var (
		st  *TransferStatus
		err error
	)
	switch kind {
	case KindStream:
		st, err = s.registry.CreateStreamStatus(player)
	case KindDownload:
		st, err = s.registry.CreateDownloadStatus(player)
	case KindUpload:
		st, err = s.registry.CreateUploadStatus(player)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, err
	}
	if path != "" {
		st.SetFile(path)
	}
	return st, nil
}

// EndTransfer ends st according to its kind.
func (s *Service) EndTransfer(st *TransferStatus) {
	if st == nil {
		return
	}
	switch st.Kind() {
	case KindStream:
		s.registry.RemoveStreamStatus(st)
	case KindDownload:
		s.registry.RemoveDownloadStatus(st)
	case KindUpload:
		s.registry.RemoveUploadStatus(st)
	}
}

// Transfers returns snapshots of the current transfers of kind. Streams
// include the last inactive stream of players with no active one.
func (s *Service) Transfers(kind Kind) ([]TransferSnapshot, error) {
	switch kind {
	case KindStream:
		return snapshots(s.registry.AllStreamStatuses()), nil
	case KindDownload:
		return snapshots(s.registry.AllDownloadStatuses()), nil
	case KindUpload:
		return snapshots(s.registry.AllUploadStatuses()), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// StreamsForPlayer returns snapshots of the player's streams.
func (s *Service) StreamsForPlayer(playerID string) []TransferSnapshot {
	return snapshots(s.registry.StreamStatusesForPlayer(&Player{ID: playerID}))
}

// NowPlaying returns the per-player view of what is being played.
func (s *Service) NowPlaying() []PlayStatus {
	return s.registry.PlayStatuses()
}

// TerminateTransfer flags the transfer with id so its session stops.
func (s *Service) TerminateTransfer(id string) error {
	st, ok := s.registry.FindTransfer(id)
	if !ok {
		return ErrTransferNotFound
	}
	st.Terminate()
	return nil
}

// MasterPlaylist builds an HLS master playlist with one variant per bitrate
// specifier. variantURI receives the raw specifier. The media file must be
// catalogued.
func (s *Service) MasterPlaylist(path string, bitRates []string, variantURI func(spec string) string) (string, error) {
	if _, err := s.ResolveMediaFile(path); err != nil {
		return "", err
	}

	variants := make([]Variant, 0, len(bitRates))
	for _, spec := range bitRates {
		kbps, res, err := ParseBitRate(spec)
		if err != nil {
			return "", err
		}
		variants = append(variants, Variant{BitRate: kbps, Resolution: res, URI: variantURI(spec)})
	}
	return BuildMasterPlaylist(variants), nil
}

// MediaPlaylist builds the VOD media playlist of path for one bitrate
// specifier. segmentURI receives the segment's offset and parsed bitrate.
func (s *Service) MediaPlaylist(path, bitRate string, segmentURI func(offset, kbps int) string) (string, error) {
	mf, err := s.ResolveMediaFile(path)
	if err != nil {
		return "", err
	}
	kbps, _, err := ParseBitRate(bitRate)
	if err != nil {
		return "", err
	}

	segments := VODSegments(mf.DurationSeconds, s.segmentSeconds, func(offset int) string {
		return segmentURI(offset, kbps)
	})
	return BuildMediaPlaylist(segments, true), nil
}

// Stats returns the registry's collection sizes.
func (s *Service) Stats() Stats {
	return s.registry.Stats()
}

func snapshots(statuses []*TransferStatus) []TransferSnapshot {
	out := make([]TransferSnapshot, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, st.Snapshot())
	}
	return out
}
