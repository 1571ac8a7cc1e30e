package filesystem

import (
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
)

// UnknownVolume labels paths outside every configured volume, such as
// ingest sources.
const UnknownVolume = "source"

// Volume names a directory tree for metric labels.
type Volume struct {
	Name string
	Path string
}

// VolumeResolver maps paths to volume names by longest prefix.
type VolumeResolver struct {
	volumes []Volume // absolute paths with a trailing separator, longest first
}

// NewVolumeResolver builds a resolver. Nested volumes are allowed; the
// deepest one wins.
func NewVolumeResolver(volumes ...Volume) *VolumeResolver {
	vr := &VolumeResolver{volumes: make([]Volume, 0, len(volumes))}
	for _, v := range volumes {
		vr.volumes = append(vr.volumes, Volume{Name: v.Name, Path: withSep(absOrSelf(v.Path))})
	}
	sort.SliceStable(vr.volumes, func(i, j int) bool {
		return len(vr.volumes[i].Path) > len(vr.volumes[j].Path)
	})
	return vr
}

// Resolve returns the volume containing path, or UnknownVolume.
func (vr *VolumeResolver) Resolve(path string) string {
	if vr == nil {
		return UnknownVolume
	}
	p := withSep(absOrSelf(path))
	for _, v := range vr.volumes {
		if strings.HasPrefix(p, v.Path) {
			return v.Name
		}
	}
	return UnknownVolume
}

func absOrSelf(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func withSep(path string) string {
	if strings.HasSuffix(path, string(filepath.Separator)) {
		return path
	}
	return path + string(filepath.Separator)
}

var defaultResolver atomic.Pointer[VolumeResolver]

// SetDefaultVolumeResolver sets the resolver used by policies that carry
// none of their own. main calls it once the directories are known.
func SetDefaultVolumeResolver(vr *VolumeResolver) {
	defaultResolver.Store(vr)
}
