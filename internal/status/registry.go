package status

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"
)

var (
	// ErrInvalidPlayer is returned when a transfer is created without a player.
	ErrInvalidPlayer = errors.New("player is required")

	// ErrInvalidPlayStatus is returned when a remote play report has no player.
	ErrInvalidPlayStatus = errors.New("play status requires a player")
)

// Registry tracks the stream, download and upload transfers of every player,
// the last inactive stream per player and remote play reports.
//
// One mutex guards all collections. Views such as AllStreamStatuses combine
// the active list with the inactive map, so both must be read atomically.
type Registry struct {
	mu         sync.Mutex
	mediaFiles MediaFileService
	log        *slog.Logger
	now        func() time.Time

	streams   []*TransferStatus
	downloads []*TransferStatus
	uploads   []*TransferStatus

	// player id -> latest inactive stream status
	inactiveStreams *orderedMap[string, *TransferStatus]
	remotePlays     []PlayStatus
}

// NewRegistry returns an empty registry. mediaFiles resolves transfer paths
// for PlayStatuses; log may be nil.
func NewRegistry(mediaFiles MediaFileService, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		mediaFiles:      mediaFiles,
		log:             log,
		now:             time.Now,
		inactiveStreams: newOrderedMap[string, *TransferStatus](),
	}
}

// CreateStreamStatus returns an active stream status for player. If the player
// has an inactive stream status it is reactivated and returned, keeping its
// progress; otherwise a new status is allocated.
func (r *Registry) CreateStreamStatus(player *Player) (*TransferStatus, error) {
	if player == nil {
		return nil, ErrInvalidPlayer
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.inactiveStreams.Get(player.ID); ok {
		r.inactiveStreams.Delete(player.ID)
		st.reactivate()
		r.streams = append(r.streams, st)
		return st, nil
	}

	st := newTransferStatus(KindStream, player, r.now)
	r.streams = append(r.streams, st)
	return st, nil
}

// RemoveStreamStatus ends an active stream. The status is kept as the
// player's inactive stream, replacing any earlier one. Removing a status that
// is not active is a no-op.
func (r *Registry) RemoveStreamStatus(st *TransferStatus) {
	if st == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := slices.Index(r.streams, st)
	if i < 0 {
		return
	}
	r.streams = slices.Delete(r.streams, i, i+1)
	st.setActive(false)
	if p := st.Player(); p != nil {
		r.inactiveStreams.Put(p.ID, st)
	}
}

// AllStreamStatuses returns the active stream statuses in creation order,
// followed by the inactive status of every player that has no active one.
func (r *Registry) AllStreamStatuses() []*TransferStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*TransferStatus, 0, len(r.streams)+r.inactiveStreams.Len())
	activePlayers := make(map[string]struct{}, len(r.streams))
	for _, st := range r.streams {
		out = append(out, st)
		if p := st.Player(); p != nil {
			activePlayers[p.ID] = struct{}{}
		}
	}

	for _, id := range r.inactiveStreams.Keys() {
		if _, ok := activePlayers[id]; ok {
			continue
		}
		st, _ := r.inactiveStreams.Get(id)
		out = append(out, st)
	}
	return out
}

// StreamStatusesForPlayer returns the player's active stream statuses or, if
// there are none, its inactive one. The result is empty if neither exists.
func (r *Registry) StreamStatusesForPlayer(player *Player) []*TransferStatus {
	out := []*TransferStatus{}
	if player == nil {
		return out
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, st := range r.streams {
		if p := st.Player(); p != nil && p.ID == player.ID {
			out = append(out, st)
		}
	}
	if len(out) == 0 {
		if st, ok := r.inactiveStreams.Get(player.ID); ok {
			out = append(out, st)
		}
	}
	return out
}

// CreateDownloadStatus allocates a new active download status for player.
func (r *Registry) CreateDownloadStatus(player *Player) (*TransferStatus, error) {
	return r.createStatus(KindDownload, player, &r.downloads)
}

// RemoveDownloadStatus drops a download status. Unknown statuses are ignored.
func (r *Registry) RemoveDownloadStatus(st *TransferStatus) {
	r.removeStatus(st, &r.downloads)
}

// AllDownloadStatuses returns a copy of the active download statuses.
func (r *Registry) AllDownloadStatuses() []*TransferStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.downloads)
}

// CreateUploadStatus allocates a new active upload status for player.
func (r *Registry) CreateUploadStatus(player *Player) (*TransferStatus, error) {
	return r.createStatus(KindUpload, player, &r.uploads)
}

// RemoveUploadStatus drops an upload status. Unknown statuses are ignored.
func (r *Registry) RemoveUploadStatus(st *TransferStatus) {
	r.removeStatus(st, &r.uploads)
}

// AllUploadStatuses returns a copy of the active upload statuses.
func (r *Registry) AllUploadStatuses() []*TransferStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.uploads)
}

// AddRemotePlay discards every expired remote play report and then appends ps.
func (r *Registry) AddRemotePlay(ps PlayStatus) error {
	if ps.Player == nil {
		return ErrInvalidPlayStatus
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.remotePlays = slices.DeleteFunc(r.remotePlays, func(rp PlayStatus) bool {
		return rp.ExpiredAt(now)
	})
	r.remotePlays = append(r.remotePlays, ps)
	return nil
}

// PlayStatuses returns one PlayStatus per player describing what it is
// playing now. Evidence from stream transfers takes precedence over remote
// play reports for the same player.
func (r *Registry) PlayStatuses() []PlayStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	remote := make([]PlayStatus, 0, len(r.remotePlays))
	for _, rp := range r.remotePlays {
		if !rp.ExpiredAt(now) {
			remote = append(remote, rp)
		}
	}

	candidates := append(r.inactiveStreams.Values(), r.streams...)
	transfers := make([]PlayStatus, 0, len(candidates))
	for _, st := range candidates {
		if ps, ok := r.playStatusFromTransferLocked(st, now); ok {
			transfers = append(transfers, ps)
		}
	}

	return mergePlayStatuses(remote, transfers)
}

// FindTransfer looks up a transfer of any kind, active or inactive, by id.
func (r *Registry) FindTransfer(id string) (*TransferStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, list := range [][]*TransferStatus{r.streams, r.downloads, r.uploads, r.inactiveStreams.Values()} {
		for _, st := range list {
			if st.ID() == id {
				return st, true
			}
		}
	}
	return nil, false
}

// Stats holds the sizes of the registry's collections.
type Stats struct {
	ActiveStreams   int
	InactiveStreams int
	Downloads       int
	Uploads         int
	RemotePlays     int
}

// Stats returns the current collection sizes. Expired remote plays that have
// not been pruned yet are not counted.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	remote := 0
	for _, rp := range r.remotePlays {
		if !rp.ExpiredAt(now) {
			remote++
		}
	}
	return Stats{
		ActiveStreams:   len(r.streams),
		InactiveStreams: r.inactiveStreams.Len(),
		Downloads:       len(r.downloads),
		Uploads:         len(r.uploads),
		RemotePlays:     remote,
	}
}

// mergePlayStatuses keeps the last PlayStatus per player id across remote
// followed by transfers. A player's position is fixed by its first entry.
func mergePlayStatuses(remote, transfers []PlayStatus) []PlayStatus {
	latest := newOrderedMap[string, PlayStatus]()
	for _, ps := range remote {
		latest.Put(ps.Player.ID, ps)
	}
	for _, ps := range transfers {
		latest.Put(ps.Player.ID, ps)
	}
	return latest.Values()
}

// playStatusFromTransferLocked derives a PlayStatus from a stream transfer.
// It reports false when the transfer has no file or player, or the file does
// not resolve. Caller must hold r.mu.
func (r *Registry) playStatusFromTransferLocked(st *TransferStatus, now time.Time) (PlayStatus, bool) {
	path := st.File()
	if path == "" {
		return PlayStatus{}, false
	}
	player := st.Player()
	if player == nil || r.mediaFiles == nil {
		return PlayStatus{}, false
	}

	mf, err := r.mediaFiles.GetMediaFile(path)
	if err != nil || mf == nil {
		if err != nil && !errors.Is(err, ErrMediaFileNotFound) {
			r.log.Debug("resolve media file failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return PlayStatus{}, false
	}

	return NewPlayStatus(mf, player, now.Add(-st.SinceLastUpdate())), true
}

func (r *Registry) createStatus(kind Kind, player *Player, list *[]*TransferStatus) (*TransferStatus, error) {
	if player == nil {
		return nil, ErrInvalidPlayer
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st := newTransferStatus(kind, player, r.now)
	*list = append(*list, st)
	return st, nil
}

func (r *Registry) removeStatus(st *TransferStatus, list *[]*TransferStatus) {
	if st == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if i := slices.Index(*list, st); i >= 0 {
		*list = slices.Delete(*list, i, i+1)
		st.setActive(false)
	}
}
