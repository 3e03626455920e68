package status

import (
	"errors"
	"sync"
)

// ErrMediaFileNotFound is returned by a MediaFileService when a path is not
// catalogued.
var ErrMediaFileNotFound = errors.New("media file not found")

// MediaFileService resolves a filesystem path to its media record.
// Implementations must be fast and side-effect free: the Registry calls
// GetMediaFile while holding its lock.
type MediaFileService interface {
	GetMediaFile(path string) (*MediaFile, error)
}

// InMemoryLibrary is a MediaFileService backed by a map. It is safe for
// concurrent use.
type InMemoryLibrary struct {
	mu    sync.RWMutex
	files map[string]*MediaFile
}

// NewInMemoryLibrary returns a library holding the given files.
func NewInMemoryLibrary(files ...*MediaFile) *InMemoryLibrary {
	l := &InMemoryLibrary{files: make(map[string]*MediaFile, len(files))}
	for _, f := range files {
		l.files[f.Path] = f
	}
	return l
}

// Add catalogues f, replacing any record with the same path.
func (l *InMemoryLibrary) Add(f *MediaFile) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.files[f.Path] = f
}

// GetMediaFile implements MediaFileService.GetMediaFile.
func (l *InMemoryLibrary) GetMediaFile(path string) (*MediaFile, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f, ok := l.files[path]
	if !ok {
		return nil, ErrMediaFileNotFound
	}
	return f, nil
}

// PlayerDirectory hands out one shared *Player per player id.
type PlayerDirectory struct {
	mu      sync.Mutex
	players map[string]*Player
}

// NewPlayerDirectory returns an empty directory.
func NewPlayerDirectory() *PlayerDirectory {
	return &PlayerDirectory{players: make(map[string]*Player)}
}

// GetOrRegister returns the player with id, creating it from template if it
// is unknown. Known players keep their existing identity object.
func (d *PlayerDirectory) GetOrRegister(id string, template Player) *Player {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.players[id]; ok {
		return p
	}
	template.ID = id
	p := &template
	d.players[id] = p
	return p
}

// Get returns the player with id, if registered.
func (d *PlayerDirectory) Get(id string) (*Player, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.players[id]
	return p, ok
}
