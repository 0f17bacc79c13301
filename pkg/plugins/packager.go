package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/pacemaker/pkg/types"
)

// DirPackage is a PackagePlugin that unpacks an instance's package into a
// per-instance working directory, the way heart.pre_startup's "Unpack
// package, render environment" step (spec §4.5 table) implies. Real
// fetching/unpacking is delegated to an opaque FetchFunc supplied by the
// caller (e.g. a git or shell SCM plugin); this type only owns the
// per-instance directory layout and renders no environment itself.
type FetchFunc func(ctx context.Context, instanceTypeID, dest string) error

type DirPackage struct {
	baseDir string
	fetch   FetchFunc
}

// NewDirPackage builds a DirPackage rooted at baseDir.
func NewDirPackage(baseDir string, fetch FetchFunc) *DirPackage {
	return &DirPackage{baseDir: baseDir, fetch: fetch}
}

// Prepare implements PackagePlugin.
func (d *DirPackage) Prepare(ctx context.Context, inst *types.Instance) error {
	dest := filepath.Join(d.baseDir, inst.InstanceID)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("dir package: mkdir %s: %w", dest, err)
	}
	if d.fetch == nil {
		return nil
	}
	if err := d.fetch(ctx, inst.InstanceTypeID, dest); err != nil {
		return fmt.Errorf("dir package: fetch %s: %w", inst.InstanceTypeID, err)
	}
	return nil
}
