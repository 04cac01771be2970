package audio

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/waa2l/queue2/internal/logging"
)

// DefaultClips lists every clip an announcement can reference.
func DefaultClips() []string {
	clips := []string{"ding.mp3"}
	for i := 1; i <= 200; i++ {
		clips = append(clips, strconv.Itoa(i)+".mp3")
	}
	for i := 1; i <= 20; i++ {
		clips = append(clips, "clinic"+strconv.Itoa(i)+".mp3")
	}
	for i := 1; i <= 10; i++ {
		clips = append(clips, "instant"+strconv.Itoa(i)+".mp3")
	}
	return clips
}

// Catalog is the set of clips that can actually be played.
type Catalog struct {
	dir   string
	clips map[string]struct{}
}

func NewCatalog(clips ...string) *Catalog {
	c := &Catalog{clips: make(map[string]struct{}, len(clips))}
	for _, clip := range clips {
		c.clips[clip] = struct{}{}
	}
	return c
}

// LoadCatalog keeps the default clips present in dir. A missing directory
// yields an empty catalog: announcements then play nothing but still render.
func LoadCatalog(dir string) (*Catalog, error) {
	c := NewCatalog()
	c.dir = dir
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		logging.Warn().Str("dir", dir).Msg("audio directory missing, announcements will be silent")
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			present[entry.Name()] = true
		}
	}
	for _, clip := range DefaultClips() {
		if present[clip] {
			c.clips[clip] = struct{}{}
		}
	}
	logging.Info().Str("dir", dir).Int("clips", len(c.clips)).Msg("audio catalog loaded")
	return c, nil
}

func (c *Catalog) Has(clip string) bool {
	if c == nil {
		return false
	}
	_, ok := c.clips[clip]
	return ok
}

// Path returns the file backing clip when the catalog was loaded from disk.
func (c *Catalog) Path(clip string) (string, bool) {
	if c == nil || c.dir == "" || !c.Has(clip) {
		return "", false
	}
	return filepath.Join(c.dir, clip), true
}

func (c *Catalog) Clips() []string {
	out := make([]string, 0, len(c.clips))
	for clip := range c.clips {
		out = append(out, clip)
	}
	sort.Strings(out)
	return out
}
