// Package pipeline drives one work item through the fixed stage sequence
// that turns a raw burst observation into analysis-ready products, with
// idempotent resume, temporary artifact lifecycle and per-item failure
// isolation.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mhelin/burstline/internal/errors"
)

// ProductKind identifies a final product family.
type ProductKind string

const (
	ProductBackscatter ProductKind = "bs"
	ProductPolarimetry ProductKind = "pol"
	ProductLSMask      ProductKind = "ls"
	ProductCoherence   ProductKind = "coh"
)

const (
	descriptorExt = ".dim"
	dataExt       = ".data"
	markerSuffix  = ".processed"
	dateLayout    = "20060102"
)

// Artifact is one named product tied to a work item: a lightweight
// descriptor file plus a paired data directory, with a completion marker
// that is the sole source of truth for resume decisions. Typed fields carry
// the identity; the filename convention exists only at the storage boundary.
type Artifact struct {
	BID        string
	Product    ProductKind
	MasterDate string // YYYYMMDD
	SlaveDate  string // YYYYMMDD, coherence products only
	Dir        string
}

// BaseName renders the boundary filename stem for the artifact.
func (a *Artifact) BaseName() string {
	if a.Product == ProductCoherence {
		return fmt.Sprintf("%s_%s_%s", a.MasterDate, a.SlaveDate, a.Product)
	}
	return fmt.Sprintf("%s_%s", a.MasterDate, a.Product)
}

// DescriptorPath returns the descriptor file path.
func (a *Artifact) DescriptorPath() string {
	return filepath.Join(a.Dir, a.BaseName()+descriptorExt)
}

// DataPath returns the paired data directory path.
func (a *Artifact) DataPath() string {
	return filepath.Join(a.Dir, a.BaseName()+dataExt)
}

// MarkerPath returns the completion marker path.
func (a *Artifact) MarkerPath() string {
	return filepath.Join(a.Dir, "."+a.BaseName()+markerSuffix)
}

// Completed reports whether the artifact finished a previous run. The marker
// is required: a descriptor without a marker is a half-moved leftover from a
// crash and must be re-created.
func (a *Artifact) Completed() bool {
	if _, err := os.Stat(a.MarkerPath()); err != nil {
		return false
	}
	if _, err := os.Stat(a.DescriptorPath()); err != nil {
		return false
	}
	return true
}

// writeMarker records completion. Written last, after descriptor and data
// are in their final location.
func (a *Artifact) writeMarker() error {
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	return os.WriteFile(a.MarkerPath(), []byte(stamp), 0o644)
}

// MoveTo relocates the descriptor and data directory into destDir with
// atomic renames, writes the completion marker at the destination, and
// returns the artifact rooted at destDir.
func (a *Artifact) MoveTo(destDir string) (*Artifact, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, moveError(a, err)
	}
	dest := *a
	dest.Dir = destDir

	// A stale marker at the destination would declare the artifact
	// complete before the renames land.
	if err := os.Remove(dest.MarkerPath()); err != nil && !os.IsNotExist(err) {
		return nil, moveError(a, err)
	}
	if err := os.RemoveAll(dest.DataPath()); err != nil {
		return nil, moveError(a, err)
	}
	if err := os.Rename(a.DataPath(), dest.DataPath()); err != nil {
		return nil, moveError(a, err)
	}
	if err := os.Rename(a.DescriptorPath(), dest.DescriptorPath()); err != nil {
		return nil, moveError(a, err)
	}
	if err := dest.writeMarker(); err != nil {
		return nil, moveError(a, err)
	}
	return &dest, nil
}

func moveError(a *Artifact, err error) error {
	return errors.Newf("moving artifact %s: %v", a.BaseName(), err).
		Component("pipeline").
		Category(errors.CategoryArtifact).
		Context("artifact", a.BaseName()).
		Build()
}

// Remove deletes the descriptor, data directory and marker.
func (a *Artifact) Remove() error {
	var errs []error
	for _, path := range []string{a.MarkerPath(), a.DescriptorPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(a.DataPath()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseArtifactName recovers the typed artifact identity from a boundary
// filename such as 20200101_bs.dim or 20200101_20200113_coh.dim.
func ParseArtifactName(path string) (Artifact, error) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, descriptorExt)
	stem = strings.TrimSuffix(stem, dataExt)
	parts := strings.Split(stem, "_")

	malformed := func() (Artifact, error) {
		return Artifact{}, errors.Newf("unrecognized artifact name %q", base).
			Component("pipeline").
			Category(errors.CategoryArtifact).
			Build()
	}

	switch len(parts) {
	case 2:
		kind := ProductKind(parts[1])
		if kind != ProductBackscatter && kind != ProductPolarimetry && kind != ProductLSMask {
			return malformed()
		}
		if _, err := time.Parse(dateLayout, parts[0]); err != nil {
			return malformed()
		}
		return Artifact{Product: kind, MasterDate: parts[0], Dir: filepath.Dir(path)}, nil
	case 3:
		if ProductKind(parts[2]) != ProductCoherence {
			return malformed()
		}
		if _, err := time.Parse(dateLayout, parts[0]); err != nil {
			return malformed()
		}
		if _, err := time.Parse(dateLayout, parts[1]); err != nil {
			return malformed()
		}
		return Artifact{Product: ProductCoherence, MasterDate: parts[0], SlaveDate: parts[1], Dir: filepath.Dir(path)}, nil
	default:
		return malformed()
	}
}
