package status

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// HistoryLength caps the number of progress samples kept per transfer.
	HistoryLength = 200
	// SampleInterval is the minimum spacing between two progress samples.
	SampleInterval = 5 * time.Second
)

// Sample is a point-in-time reading of a transfer's byte counter.
type Sample struct {
	Time             time.Time `json:"time"`
	BytesTransferred int64     `json:"bytes_transferred"`
}

// TransferStatus tracks one stream, download or upload for a player.
//
// Progress fields are written by the owning session and read by status
// snapshots, so every accessor goes through mu. Membership in the registry
// and the active flag are changed only by the Registry under its own lock.
type TransferStatus struct {
	id     string
	kind   Kind
	player *Player
	now    func() time.Time

	mu               sync.Mutex
	file             string
	bytesTransferred int64
	bytesSkipped     int64
	bytesTotal       int64
	lastUpdate       time.Time
	active           bool
	terminated       bool
	history          []Sample
}

func newTransferStatus(kind Kind, player *Player, now func() time.Time) *TransferStatus {
	if now == nil {
		now = time.Now
	}
	return &TransferStatus{
		id:         uuid.NewString(),
		kind:       kind,
		player:     player,
		now:        now,
		lastUpdate: now(),
		active:     true,
	}
}

// ID returns the transfer's unique identifier.
func (t *TransferStatus) ID() string { return t.id }

// Kind returns whether this is a stream, download or upload.
func (t *TransferStatus) Kind() Kind { return t.kind }

// Player returns the player owning the transfer. It may be nil.
func (t *TransferStatus) Player() *Player { return t.player }

// File returns the path being transferred, or "" if none was set.
func (t *TransferStatus) File() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file
}

// SetFile records the path being transferred.
func (t *TransferStatus) SetFile(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.file = path
	t.lastUpdate = t.now()
}

// BytesTransferred returns the number of bytes moved so far.
func (t *TransferStatus) BytesTransferred() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytesTransferred
}

// AddBytesTransferred adds n to the byte counter.
func (t *TransferStatus) AddBytesTransferred(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setBytesTransferredLocked(t.bytesTransferred + n)
}

// SetBytesTransferred overwrites the byte counter.
func (t *TransferStatus) SetBytesTransferred(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setBytesTransferredLocked(n)
}

// AddBytesSkipped records bytes that were skipped (e.g. a ranged request).
func (t *TransferStatus) AddBytesSkipped(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bytesSkipped += n
}

// SetBytesTotal records the expected size of the transfer, 0 if unknown.
func (t *TransferStatus) SetBytesTotal(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bytesTotal = n
}

// SinceLastUpdate returns the time elapsed since progress was last recorded.
func (t *TransferStatus) SinceLastUpdate() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Sub(t.lastUpdate)
}

// MillisSinceLastUpdate is SinceLastUpdate in milliseconds.
func (t *TransferStatus) MillisSinceLastUpdate() int64 {
	return t.SinceLastUpdate().Milliseconds()
}

// IsActive reports whether the transfer is ongoing.
func (t *TransferStatus) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *TransferStatus) setActive(active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = active
}

// reactivate marks a retained stream active again for a new session. A
// termination requested for the previous session does not carry over.
func (t *TransferStatus) reactivate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = true
	t.terminated = false
}

// Terminate asks the owning session to stop. Sessions poll IsTerminated.
func (t *TransferStatus) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.terminated = true
}

// IsTerminated reports whether Terminate was called.
func (t *TransferStatus) IsTerminated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminated
}

// History returns a copy of the recorded progress samples, oldest first.
func (t *TransferStatus) History() []Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Sample, len(t.history))
	copy(out, t.history)
	return out
}

// RecentKbps returns the average rate in kilobits per second across the
// sample history, or 0 if there is not enough history.
func (t *TransferStatus) RecentKbps() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recentKbpsLocked()
}

func (t *TransferStatus) recentKbpsLocked() float64 {
	if len(t.history) == 0 {
		return 0
	}
	first := t.history[0]
	elapsed := t.lastUpdate.Sub(first.Time).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.bytesTransferred-first.BytesTransferred) * 8 / 1000 / elapsed
}

// setBytesTransferredLocked updates the counter and samples it at most once
// per SampleInterval. Caller must hold t.mu.
func (t *TransferStatus) setBytesTransferredLocked(n int64) {
	now := t.now()
	t.bytesTransferred = n
	t.lastUpdate = now

	if len(t.history) > 0 && now.Sub(t.history[len(t.history)-1].Time) < SampleInterval {
		return
	}
	t.history = append(t.history, Sample{Time: now, BytesTransferred: n})
	if len(t.history) > HistoryLength {
		t.history = t.history[len(t.history)-HistoryLength:]
	}
}

// TransferSnapshot is a consistent, JSON-friendly copy of a TransferStatus.
type TransferSnapshot struct {
	ID                    string  `json:"id"`
	Kind                  Kind    `json:"kind"`
	Player                *Player `json:"player,omitempty"`
	File                  string  `json:"file,omitempty"`
	Active                bool    `json:"active"`
	Terminated            bool    `json:"terminated"`
	BytesTransferred      int64   `json:"bytes_transferred"`
	BytesSkipped          int64   `json:"bytes_skipped"`
	BytesTotal            int64   `json:"bytes_total"`
	MillisSinceLastUpdate int64   `json:"millis_since_last_update"`
	RecentKbps            float64 `json:"recent_kbps"`
}

// Snapshot returns a copy of the transfer's state taken under one lock.
func (t *TransferStatus) Snapshot() TransferSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TransferSnapshot{
		ID:                    t.id,
		Kind:                  t.kind,
		Player:                t.player,
		File:                  t.file,
		Active:                t.active,
		Terminated:            t.terminated,
		BytesTransferred:      t.bytesTransferred,
		BytesSkipped:          t.bytesSkipped,
		BytesTotal:            t.bytesTotal,
		MillisSinceLastUpdate: t.now().Sub(t.lastUpdate).Milliseconds(),
		RecentKbps:            t.recentKbpsLocked(),
	}
}
