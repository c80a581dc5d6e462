package storage

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"

	"dashboard/internal/logger"
	"dashboard/internal/model"

	"github.com/disintegration/imaging"
)

// ErrSlotEmpty is returned when a slot is read before anything was written to it.
var ErrSlotEmpty = errors.New("still slot empty: nothing captured yet")

// JPEGQuality is used when the store format is jpg.
const JPEGQuality = 95

// StillStore keeps exactly one image per camera role on disk. Every write
// replaces the previous image atomically; no history is kept.
type StillStore struct {
	dir    string
	ext    string
	format imaging.Format
	ticks  map[model.Role]uint64
	mu     sync.RWMutex
	logger *logger.Logger
}

// NewStillStore creates a store in dir. format is an image extension such as
// "png" or "jpg".
func NewStillStore(dir, format string, logger *logger.Logger) (*StillStore, error) {
	ext := "." + format
	f, err := imaging.FormatFromExtension(ext)
	if err != nil {
		return nil, fmt.Errorf("unsupported still format %q: %w", format, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create still directory: %w", err)
	}

	return &StillStore{
		dir:    dir,
		ext:    ext,
		format: f,
		ticks:  make(map[model.Role]uint64),
		logger: logger,
	}, nil
}

// Path returns the fixed file location of a role's slot.
func (s *StillStore) Path(role model.Role) string {
	return filepath.Join(s.dir, string(role)+s.ext)
}

// Write replaces the slot contents with frame. The image is encoded into a
// temporary file in the same directory and renamed over the slot, so readers
// only ever see a complete file.
func (s *StillStore) Write(role model.Role, frame model.Frame) error {
	if frame.Empty() {
		return fmt.Errorf("write %s still: empty frame", role)
	}

	tmp, err := os.CreateTemp(s.dir, "."+string(role)+"-*"+s.ext)
	if err != nil {
		return fmt.Errorf("create temp still: %w", err)
	}
	tmpName := tmp.Name()

	if err := imaging.Encode(tmp, frame.Image, s.format, imaging.JPEGQuality(JPEGQuality)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encode %s still: %w", role, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s still: %w", role, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s still: %w", role, err)
	}

	if err := os.Rename(tmpName, s.Path(role)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s still: %w", role, err)
	}

	s.mu.Lock()
	s.ticks[role] = frame.Tick
	s.mu.Unlock()
	return nil
}

// Read decodes the current image of a role's slot.
func (s *StillStore) Read(role model.Role) (model.Frame, error) {
	path := s.Path(role)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return model.Frame{}, fmt.Errorf("%s: %w", role, ErrSlotEmpty)
	}
	if err != nil {
		return model.Frame{}, fmt.Errorf("stat %s still: %w", role, err)
	}

	img, err := imaging.Open(path)
	if err != nil {
		return model.Frame{}, fmt.Errorf("decode %s still: %w", role, err)
	}

	s.mu.RLock()
	tick := s.ticks[role]
	s.mu.RUnlock()

	return model.Frame{
		Role:       role,
		Tick:       tick,
		CapturedAt: info.ModTime(),
		Image:      img,
	}, nil
}

// Has reports whether the slot holds an image.
func (s *StillStore) Has(role model.Role) bool {
	_, err := os.Stat(s.Path(role))
	return err == nil
}

// Clear removes both slots.
func (s *StillStore) Clear() error {
	for _, role := range model.Roles() {
		if err := os.Remove(s.Path(role)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("clear %s still: %w", role, err)
		}
	}

	s.mu.Lock()
	s.ticks = make(map[model.Role]uint64)
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("🧹 Still slots cleared in %s", s.dir)
	}
	return nil
}

// Placeholder returns a neutral grey image shown in place of a missing result.
func Placeholder(width, height int) *image.NRGBA {
	img := imaging.New(width, height, color.NRGBA{R: 64, G: 64, B: 64, A: 255})
	inset := imaging.New(width/2, height/8, color.NRGBA{R: 96, G: 96, B: 96, A: 255})
	return imaging.PasteCenter(img, inset)
}
