package status

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	songA = &MediaFile{Path: "/music/a.mp3", Title: "A", DurationSeconds: 180}
	songB = &MediaFile{Path: "/music/b.mp3", Title: "B", DurationSeconds: 240}
)

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	r := NewRegistry(NewInMemoryLibrary(songA, songB), nil)
	r.now = clock.Now
	return r, clock
}

func ids(statuses []*TransferStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, st.ID())
	}
	return out
}

func TestRegistry_CreateStreamStatus(t *testing.T) {
	r, _ := newTestRegistry(t)
	p := &Player{ID: "p1"}

	st, err := r.CreateStreamStatus(p)
	if err != nil {
		t.Fatalf("CreateStreamStatus: %v", err)
	}
	if !st.IsActive() || st.Player() != p || st.Kind() != KindStream {
		t.Errorf("unexpected status: active=%v player=%v kind=%v", st.IsActive(), st.Player(), st.Kind())
	}

	t.Run("nil_player_rejected", func(t *testing.T) {
		if _, err := r.CreateStreamStatus(nil); !errors.Is(err, ErrInvalidPlayer) {
			t.Errorf("expected ErrInvalidPlayer, got %v", err)
		}
	})

	t.Run("second_active_stream_is_new", func(t *testing.T) {
		st2, err := r.CreateStreamStatus(p)
		if err != nil {
			t.Fatal(err)
		}
		if st2 == st {
			t.Error("an active status must not be reused")
		}
		if got := r.StreamStatusesForPlayer(p); len(got) != 2 {
			t.Errorf("expected 2 active statuses, got %d", len(got))
		}
	})
}

func TestRegistry_RemoveStreamStatus_keeps_inactive(t *testing.T) {
	r, _ := newTestRegistry(t)
	p := &Player{ID: "p1"}

	st, _ := r.CreateStreamStatus(p)
	r.RemoveStreamStatus(st)

	got := r.StreamStatusesForPlayer(p)
	if len(got) != 1 || got[0] != st {
		t.Fatalf("expected the removed status as only entry, got %v", ids(got))
	}
	if st.IsActive() {
		t.Error("removed status should be inactive")
	}
	if s := r.Stats(); s.ActiveStreams != 0 || s.InactiveStreams != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRegistry_CreateStreamStatus_reuses_inactive(t *testing.T) {
	r, _ := newTestRegistry(t)
	p := &Player{ID: "p1"}

	first, _ := r.CreateStreamStatus(p)
	first.SetFile(songA.Path)
	first.AddBytesTransferred(1000)
	first.Terminate()
	r.RemoveStreamStatus(first)

	again, err := r.CreateStreamStatus(&Player{ID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Fatal("reconnecting player should get its previous status back")
	}
	if !again.IsActive() {
		t.Error("reused status should be active")
	}
	if again.IsTerminated() {
		t.Error("termination of the previous session should not carry over")
	}
	if again.BytesTransferred() != 1000 || again.File() != songA.Path {
		t.Errorf("progress lost: bytes=%d file=%q", again.BytesTransferred(), again.File())
	}

	all := r.AllStreamStatuses()
	if len(all) != 1 || all[0] != first {
		t.Errorf("expected single active entry, got %v", ids(all))
	}
	if s := r.Stats(); s.ActiveStreams != 1 || s.InactiveStreams != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRegistry_RemoveStreamStatus_latest_wins(t *testing.T) {
	r, _ := newTestRegistry(t)
	p := &Player{ID: "p1"}

	older, _ := r.CreateStreamStatus(p)
	newer, _ := r.CreateStreamStatus(p)
	r.RemoveStreamStatus(older)
	r.RemoveStreamStatus(newer)

	got := r.StreamStatusesForPlayer(p)
	if len(got) != 1 || got[0] != newer {
		t.Errorf("expected latest removed status, got %v", ids(got))
	}
	if s := r.Stats(); s.InactiveStreams != 1 {
		t.Errorf("at most one inactive status per player, stats = %+v", s)
	}
}

func TestRegistry_RemoveStreamStatus_absent_is_noop(t *testing.T) {
	r, _ := newTestRegistry(t)
	p := &Player{ID: "p1"}

	st, _ := r.CreateStreamStatus(p)
	r.RemoveStreamStatus(st)
	r.RemoveStreamStatus(st)
	r.RemoveStreamStatus(nil)

	stranger := newTransferStatus(KindStream, &Player{ID: "p2"}, nil)
	r.RemoveStreamStatus(stranger)

	if got := r.StreamStatusesForPlayer(&Player{ID: "p2"}); len(got) != 0 {
		t.Errorf("unknown status should not be retained, got %v", ids(got))
	}
	if !stranger.IsActive() {
		t.Error("unknown status should not be touched")
	}
	if s := r.Stats(); s.InactiveStreams != 1 || s.ActiveStreams != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRegistry_AllStreamStatuses(t *testing.T) {
	r, _ := newTestRegistry(t)
	p1, p2, p3 := &Player{ID: "p1"}, &Player{ID: "p2"}, &Player{ID: "p3"}

	// p1 and p3 end up inactive, p2 stays active.
	s1, _ := r.CreateStreamStatus(p1)
	s3, _ := r.CreateStreamStatus(p3)
	s2, _ := r.CreateStreamStatus(p2)
	r.RemoveStreamStatus(s3)
	r.RemoveStreamStatus(s1)

	// p3 has a stale inactive entry and a new active one.
	s3b, _ := r.CreateStreamStatus(p3)
	s3c, _ := r.CreateStreamStatus(p3)
	r.RemoveStreamStatus(s3b)

	got := ids(r.AllStreamStatuses())
	want := ids([]*TransferStatus{s2, s3c, s1})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("AllStreamStatuses mismatch (-want +got):\n%s", diff)
	}

	// s3b is s3 reactivated, now inactive again behind s3c.
	if s3b != s3 {
		t.Error("expected p3's inactive status to be reused")
	}
}

func TestRegistry_StreamStatusesForPlayer_empty(t *testing.T) {
	r, _ := newTestRegistry(t)

	if got := r.StreamStatusesForPlayer(&Player{ID: "nobody"}); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
	if got := r.StreamStatusesForPlayer(nil); len(got) != 0 {
		t.Errorf("expected empty for nil player, got %v", got)
	}
}

func TestRegistry_snapshots_are_copies(t *testing.T) {
	r, _ := newTestRegistry(t)
	p := &Player{ID: "p1"}
	st, _ := r.CreateStreamStatus(p)
	d, _ := r.CreateDownloadStatus(p)

	streams := r.AllStreamStatuses()
	downloads := r.AllDownloadStatuses()
	streams[0] = nil
	downloads[0] = nil

	if got := r.AllStreamStatuses(); got[0] != st {
		t.Error("mutating a snapshot must not affect the registry")
	}
	if got := r.AllDownloadStatuses(); got[0] != d {
		t.Error("mutating a snapshot must not affect the registry")
	}
}

func TestRegistry_download_and_upload(t *testing.T) {
	r, _ := newTestRegistry(t)
	p := &Player{ID: "p1"}

	tests := []struct {
		name   string
		create func(*Player) (*TransferStatus, error)
		remove func(*TransferStatus)
		list   func() []*TransferStatus
		kind   Kind
	}{
		{"download", r.CreateDownloadStatus, r.RemoveDownloadStatus, r.AllDownloadStatuses, KindDownload},
		{"upload", r.CreateUploadStatus, r.RemoveUploadStatus, r.AllUploadStatuses, KindUpload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := tt.create(p)
			if err != nil {
				t.Fatal(err)
			}
			b, _ := tt.create(p)
			if a == b {
				t.Fatal("statuses must never be reused")
			}
			if a.Kind() != tt.kind {
				t.Errorf("kind = %v, want %v", a.Kind(), tt.kind)
			}
			if diff := cmp.Diff(ids([]*TransferStatus{a, b}), ids(tt.list())); diff != "" {
				t.Errorf("list mismatch (-want +got):\n%s", diff)
			}

			tt.remove(a)
			tt.remove(a)
			if diff := cmp.Diff(ids([]*TransferStatus{b}), ids(tt.list())); diff != "" {
				t.Errorf("after remove (-want +got):\n%s", diff)
			}
			tt.remove(b)
			if len(tt.list()) != 0 {
				t.Error("no history is kept for this kind")
			}

			c, _ := tt.create(p)
			if c == a || c == b {
				t.Error("a new status must be allocated after removal")
			}
			tt.remove(c)

			if _, err := tt.create(nil); !errors.Is(err, ErrInvalidPlayer) {
				t.Errorf("expected ErrInvalidPlayer, got %v", err)
			}
		})
	}

	if got := r.StreamStatusesForPlayer(p); len(got) != 0 {
		t.Errorf("downloads and uploads must not show up as streams, got %v", ids(got))
	}
}

func TestRegistry_AddRemotePlay_purges_expired(t *testing.T) {
	r, clock := newTestRegistry(t)
	now := clock.Now()

	r1 := NewPlayStatus(songA, &Player{ID: "p1"}, now.Add(-7*time.Hour))
	r2 := NewPlayStatus(songA, &Player{ID: "p2"}, now.Add(-1*time.Hour))
	r3 := NewPlayStatus(songB, &Player{ID: "p3"}, now)

	// Seed directly: r1 was fresh when it was reported.
	r.remotePlays = []PlayStatus{r1, r2}

	if err := r.AddRemotePlay(r3); err != nil {
		t.Fatalf("AddRemotePlay: %v", err)
	}
	if diff := cmp.Diff([]PlayStatus{r2, r3}, r.remotePlays); diff != "" {
		t.Errorf("remote plays mismatch (-want +got):\n%s", diff)
	}

	t.Run("nil_player_rejected", func(t *testing.T) {
		if err := r.AddRemotePlay(PlayStatus{MediaFile: songA}); !errors.Is(err, ErrInvalidPlayStatus) {
			t.Errorf("expected ErrInvalidPlayStatus, got %v", err)
		}
	})
}

func TestRegistry_PlayStatuses_remote_only(t *testing.T) {
	r, clock := newTestRegistry(t)
	p1, p2 := &Player{ID: "p1"}, &Player{ID: "p2"}

	_ = r.AddRemotePlay(NewPlayStatus(songA, p1, clock.Now()))
	_ = r.AddRemotePlay(NewPlayStatus(songA, p2, clock.Now()))
	clock.Advance(time.Minute)
	_ = r.AddRemotePlay(NewPlayStatus(songB, p1, clock.Now()))

	got := r.PlayStatuses()
	if len(got) != 2 {
		t.Fatalf("expected one entry per player, got %d", len(got))
	}
	if got[0].Player != p1 || got[0].MediaFile != songB {
		t.Errorf("p1 should keep its first position with its latest report, got %+v", got[0])
	}
	if got[1].Player != p2 {
		t.Errorf("second entry should be p2, got %+v", got[1])
	}

	t.Run("expired_reports_hidden", func(t *testing.T) {
		clock.Advance(RemotePlayTTL + time.Minute)
		if got := r.PlayStatuses(); len(got) != 0 {
			t.Errorf("expected no entries, got %d", len(got))
		}
		if s := r.Stats(); s.RemotePlays != 0 {
			t.Errorf("expired reports should not be counted, stats = %+v", s)
		}
	})
}

func TestRegistry_PlayStatuses_transfer_wins(t *testing.T) {
	r, clock := newTestRegistry(t)
	p1, p2 := &Player{ID: "p1"}, &Player{ID: "p2"}

	_ = r.AddRemotePlay(NewPlayStatus(songA, p1, clock.Now()))
	_ = r.AddRemotePlay(NewPlayStatus(songA, p2, clock.Now()))

	st, _ := r.CreateStreamStatus(p1)
	st.SetFile(songB.Path)
	lastUpdate := clock.Now()
	clock.Advance(30 * time.Second)

	got := r.PlayStatuses()
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Player != p1 || got[0].MediaFile != songB {
		t.Errorf("p1 should reflect the stream, got %+v", got[0])
	}
	if !got[0].Time.Equal(lastUpdate) {
		t.Errorf("time = %v, want now minus time since last update = %v", got[0].Time, lastUpdate)
	}
	if got[1].Player != p2 || got[1].MediaFile != songA {
		t.Errorf("p2 should keep its remote report, got %+v", got[1])
	}
}

func TestRegistry_PlayStatuses_active_over_inactive(t *testing.T) {
	r, _ := newTestRegistry(t)
	p := &Player{ID: "p1"}

	old, _ := r.CreateStreamStatus(p)
	cur, _ := r.CreateStreamStatus(p)
	old.SetFile(songA.Path)
	cur.SetFile(songB.Path)
	r.RemoveStreamStatus(old)

	got := r.PlayStatuses()
	if len(got) != 1 || got[0].MediaFile != songB {
		t.Errorf("active stream should win, got %+v", got)
	}

	r.RemoveStreamStatus(cur)
	got = r.PlayStatuses()
	if len(got) != 1 || got[0].MediaFile != songB {
		t.Errorf("latest inactive stream should be reported, got %+v", got)
	}
}

func TestRegistry_PlayStatuses_skips_unresolvable(t *testing.T) {
	r, clock := newTestRegistry(t)
	p1, p2, p3 := &Player{ID: "p1"}, &Player{ID: "p2"}, &Player{ID: "p3"}

	_ = r.AddRemotePlay(NewPlayStatus(songA, p2, clock.Now()))

	_, _ = r.CreateStreamStatus(p1) // no file
	unknown, _ := r.CreateStreamStatus(p2)
	unknown.SetFile("/music/unknown.mp3")
	resolvable, _ := r.CreateStreamStatus(p3)
	resolvable.SetFile(songB.Path)

	got := r.PlayStatuses()
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %+v", got)
	}
	if got[0].Player != p2 || got[0].MediaFile != songA {
		t.Errorf("p2 should fall back to its remote report, got %+v", got[0])
	}
	if got[1].Player != p3 || got[1].MediaFile != songB {
		t.Errorf("p3 should be reported from its stream, got %+v", got[1])
	}
}

type failingLibrary struct{}

func (failingLibrary) GetMediaFile(string) (*MediaFile, error) {
	return nil, errors.New("database is locked")
}

func TestRegistry_PlayStatuses_resolver_errors_are_skipped(t *testing.T) {
	r := NewRegistry(failingLibrary{}, nil)
	st, _ := r.CreateStreamStatus(&Player{ID: "p1"})
	st.SetFile(songA.Path)

	if got := r.PlayStatuses(); len(got) != 0 {
		t.Errorf("expected empty view, got %+v", got)
	}

	r = NewRegistry(nil, nil)
	st, _ = r.CreateStreamStatus(&Player{ID: "p1"})
	st.SetFile(songA.Path)
	if got := r.PlayStatuses(); len(got) != 0 {
		t.Errorf("expected empty view without a resolver, got %+v", got)
	}
}

func TestMergePlayStatuses(t *testing.T) {
	p1, p2, p3 := &Player{ID: "p1"}, &Player{ID: "p2"}, &Player{ID: "p3"}
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	remote := []PlayStatus{
		NewPlayStatus(songA, p1, t0),
		NewPlayStatus(songA, p2, t0),
		NewPlayStatus(songB, p1, t0.Add(time.Minute)),
	}
	transfers := []PlayStatus{
		NewPlayStatus(songB, p3, t0),
		NewPlayStatus(songB, p2, t0),
	}

	got := mergePlayStatuses(remote, transfers)
	want := []PlayStatus{
		NewPlayStatus(songB, p1, t0.Add(time.Minute)),
		NewPlayStatus(songB, p2, t0),
		NewPlayStatus(songB, p3, t0),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mergePlayStatuses mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_FindTransfer(t *testing.T) {
	r, _ := newTestRegistry(t)
	p := &Player{ID: "p1"}
	st, _ := r.CreateStreamStatus(p)
	up, _ := r.CreateUploadStatus(p)
	r.RemoveStreamStatus(st)

	for _, want := range []*TransferStatus{st, up} {
		got, ok := r.FindTransfer(want.ID())
		if !ok || got != want {
			t.Errorf("FindTransfer(%s) = %v, %v", want.ID(), got, ok)
		}
	}
	if _, ok := r.FindTransfer("missing"); ok {
		t.Error("expected miss for unknown id")
	}
}

func TestRegistry_concurrent_stream_churn(t *testing.T) {
	r := NewRegistry(NewInMemoryLibrary(songA), nil)

	const (
		writers    = 16
		readers    = 8
		iterations = 200
	)

	players := make([]*Player, writers)
	firsts := make([]*TransferStatus, writers)
	for i := range players {
		players[i] = &Player{ID: fmt.Sprintf("p%d", i)}
	}

	stop := make(chan struct{})
	var readersWG sync.WaitGroup
	torn := make(chan string, readers)

	for i := 0; i < readers; i++ {
		readersWG.Add(1)
		go func() {
			defer readersWG.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				seenPlayers := make(map[string]bool)
				seenStatuses := make(map[*TransferStatus]bool)
				for _, st := range r.AllStreamStatuses() {
					id := st.Player().ID
					if seenPlayers[id] || seenStatuses[st] {
						select {
						case torn <- id:
						default:
						}
						return
					}
					seenPlayers[id] = true
					seenStatuses[st] = true
				}
				_ = r.PlayStatuses()
			}
		}()
	}

	var writersWG sync.WaitGroup
	for i := 0; i < writers; i++ {
		writersWG.Add(1)
		go func(i int) {
			defer writersWG.Done()
			for n := 0; n < iterations; n++ {
				st, err := r.CreateStreamStatus(players[i])
				if err != nil {
					t.Errorf("CreateStreamStatus: %v", err)
					return
				}
				if n == 0 {
					firsts[i] = st
				}
				st.SetFile(songA.Path)
				st.AddBytesTransferred(10)
				r.RemoveStreamStatus(st)
			}
		}(i)
	}

	writersWG.Wait()
	close(stop)
	readersWG.Wait()
	close(torn)

	for id := range torn {
		t.Errorf("player %s appeared twice in one snapshot", id)
	}

	for i, p := range players {
		got := r.StreamStatusesForPlayer(p)
		if len(got) != 1 || got[0] != firsts[i] {
			t.Errorf("player %s: expected its single reused status", p.ID)
			continue
		}
		if got[0].IsActive() {
			t.Errorf("player %s: status should be inactive", p.ID)
		}
		if b := got[0].BytesTransferred(); b != 10*iterations {
			t.Errorf("player %s: bytes = %d, want %d", p.ID, b, 10*iterations)
		}
	}
	if s := r.Stats(); s.ActiveStreams != 0 || s.InactiveStreams != writers {
		t.Errorf("stats = %+v", s)
	}
}
