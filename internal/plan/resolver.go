package plan

import (
	"os"
	"path/filepath"
	"time"

	"github.com/mhelin/burstline/internal/errors"
	gocache "github.com/patrickmn/go-cache"
)

// Resolver locates the raw source file of a scene already on disk.
type Resolver interface {
	Resolve(sceneID string) (string, error)
}

// FSResolver resolves scenes against the download root and an optional
// read-only archive mount, accepting either the zipped archive or the
// extracted SAFE directory.
type FSResolver struct {
	DownloadRoot string
	LocalMount   string
}

// Resolve returns the path of the scene's source file. A scene that is not
// present in any root yields a retrieval-required error.
func (r *FSResolver) Resolve(sceneID string) (string, error) {
	roots := []string{r.DownloadRoot}
	if r.LocalMount != "" {
		roots = append(roots, r.LocalMount)
	}
	for _, root := range roots {
		if root == "" {
			continue
		}
		for _, candidate := range []string{sceneID + ".zip", sceneID + ".SAFE"} {
			path := filepath.Join(root, candidate)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}
	return "", errors.Newf("source file for scene %s not found", sceneID).
		Component("plan").
		Category(errors.CategoryPlan).
		Kind(errors.KindRetrievalRequired).
		Context("scene", sceneID).
		Build()
}

// CachedResolver memoizes resolution results so each scene is located on
// disk once per run, however many work items reference it.
type CachedResolver struct {
	inner Resolver
	cache *gocache.Cache
}

// NewCachedResolver wraps inner with a per-run memoization cache.
func NewCachedResolver(inner Resolver) *CachedResolver {
	return &CachedResolver{
		inner: inner,
		cache: gocache.New(gocache.NoExpiration, 10*time.Minute),
	}
}

// Resolve implements Resolver. Only successful lookups are cached; a scene
// that was missing may appear after a download.
func (r *CachedResolver) Resolve(sceneID string) (string, error) {
	if path, ok := r.cache.Get(sceneID); ok {
		return path.(string), nil
	}
	path, err := r.inner.Resolve(sceneID)
	if err != nil {
		return "", err
	}
	r.cache.Set(sceneID, path, gocache.NoExpiration)
	return path, nil
}
