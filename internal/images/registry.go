// Package images implements Sherpa's image registry: the on-disk layout
// for imported disk images, the per-model hardware-shape templates, and
// the NodeImage rows that describe them to the rest of the system.
package images

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bwks/sherpa/internal/allocator"
	"github.com/bwks/sherpa/internal/sherr"
	"github.com/bwks/sherpa/internal/store"
	"github.com/bwks/sherpa/internal/topology"
)

// diskFilename is the fixed asset name every imported VM/unikernel disk
// is stored and cloned under, matching the virtualization adapter's
// expectation of a single canonical source volume per (model, version).
const diskFilename = "virtioa.qcow2"

// Registry tracks imported images on disk (under baseDir/images/...) and
// mirrors them as NodeImage rows in db.
type Registry struct {
	db      store.Store
	baseDir string
}

func NewRegistry(db store.Store, baseDir string) *Registry {
	return &Registry{db: db, baseDir: baseDir}
}

// ImportResult reports where an imported image landed and whether it
// became the new default for its (model, kind).
type ImportResult struct {
	Model   string
	Kind    store.NodeKind
	Version string
	Path    string
	Default bool
}

// imageDir returns <base>/images/<model>/<version>.
func (r *Registry) imageDir(model, version string) string {
	return filepath.Join(r.baseDir, "images", model, version)
}

// DiskPath returns the on-disk location of a resolved image's base disk
// file, for the lifecycle engine's storage phase to pass to virt.CloneDisk.
func (r *Registry) DiskPath(model, version string) string {
	return filepath.Join(r.imageDir(model, version), diskFilename)
}

// Import validates srcPath, copies it (never moves) into the model/version
// directory unless the destination already holds an identical-named file,
// optionally symlinks "latest" to this version, recursively locks the
// images tree to read-only, and upserts the corresponding NodeImage row
// from the model's built-in template. Setting latest also marks the row
// default, atomically clearing any prior default for (model, kind) — the
// store's UpsertNodeImage already implements that exclusivity.
func (r *Registry) Import(model, version, srcPath string, latest bool) (*ImportResult, error) {
	tmpl, ok := lookupTemplate(model)
	if !ok {
		return nil, sherr.New(sherr.ImageNotFound, "no built-in template for model", model)
	}

	if _, err := os.Stat(srcPath); err != nil {
		return nil, sherr.Wrap(sherr.ImageNotFound, "source image not found", err)
	}

	modelDir := filepath.Join(r.baseDir, "images", model)
	os.Chmod(modelDir, 0o755)

	dir := r.imageDir(model, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}

	dst := filepath.Join(dir, diskFilename)
	if _, err := os.Stat(dst); os.IsNotExist(err) {
		if err := copyFile(srcPath, dst); err != nil {
			return nil, fmt.Errorf("copy image: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	if latest {
		linkPath := filepath.Join(r.baseDir, "images", model, "latest")
		os.Remove(linkPath)
		if err := os.Symlink(version, linkPath); err != nil {
			return nil, fmt.Errorf("link latest: %w", err)
		}
	}

	if err := lockTreeReadOnly(filepath.Join(r.baseDir, "images", model)); err != nil {
		return nil, fmt.Errorf("lock image tree: %w", err)
	}

	img := &store.NodeImage{
		Model: model, Kind: tmpl.Kind, Version: version, Default: latest,
		CPUCount: tmpl.CPUCount, MemoryMiB: tmpl.MemoryMiB, InterfaceMTU: tmpl.InterfaceMTU,
		DataInterfaceCount: tmpl.DataInterfaceCount, ReservedInterfaceCount: tmpl.ReservedInterfaceCount,
		DedicatedManagementInterface: tmpl.DedicatedManagementInterface,
		InterfacePrefix:              firstPrefix(tmpl.Grammar),
		OSVariant:                    tmpl.OSVariant, BIOSType: tmpl.BIOSType, MachineType: tmpl.MachineType,
		ZTPMethod: tmpl.ZTPMethod,
	}
	if err := r.db.UpsertNodeImage(img); err != nil {
		return nil, err
	}

	return &ImportResult{Model: model, Kind: tmpl.Kind, Version: version, Path: dst, Default: latest}, nil
}

// Scan reconciles the on-disk images tree with the store: every
// <model>/<version> directory holding diskFilename gets a NodeImage row
// if one doesn't already exist. It never deletes rows for assets that
// have disappeared from disk; that is left to an explicit prune.
// Idempotent.
func (r *Registry) Scan() error {
	root := filepath.Join(r.baseDir, "images")
	models, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, modelEntry := range models {
		if !modelEntry.IsDir() {
			continue
		}
		model := modelEntry.Name()
		tmpl, ok := lookupTemplate(model)
		if !ok {
			continue
		}

		versions, err := os.ReadDir(filepath.Join(root, model))
		if err != nil {
			return err
		}
		for _, versionEntry := range versions {
			version := versionEntry.Name()
			if version == "latest" {
				continue
			}
			assetPath := filepath.Join(root, model, version, diskFilename)
			if _, err := os.Stat(assetPath); err != nil {
				continue
			}
			if existing, err := r.db.GetNodeImage(model, tmpl.Kind, version); err != nil {
				return err
			} else if existing != nil {
				continue
			}
			img := &store.NodeImage{
				Model: model, Kind: tmpl.Kind, Version: version,
				CPUCount: tmpl.CPUCount, MemoryMiB: tmpl.MemoryMiB, InterfaceMTU: tmpl.InterfaceMTU,
				DataInterfaceCount: tmpl.DataInterfaceCount, ReservedInterfaceCount: tmpl.ReservedInterfaceCount,
				DedicatedManagementInterface: tmpl.DedicatedManagementInterface,
				InterfacePrefix:              firstPrefix(tmpl.Grammar),
				OSVariant:                    tmpl.OSVariant, BIOSType: tmpl.BIOSType, MachineType: tmpl.MachineType,
				ZTPMethod: tmpl.ZTPMethod,
			}
			if err := r.db.UpsertNodeImage(img); err != nil {
				return err
			}
		}
	}
	return nil
}

// Resolve returns the NodeImage for (model, kind, version), or the default
// row for (model, kind) when version is empty. Fails with ImageNotFound.
func (r *Registry) Resolve(model string, kind store.NodeKind, version string) (*store.NodeImage, error) {
	var (
		img *store.NodeImage
		err error
	)
	if version == "" {
		img, err = r.db.GetDefaultNodeImage(model, kind)
	} else {
		img, err = r.db.GetNodeImage(model, kind, version)
	}
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, sherr.New(sherr.ImageNotFound, "no matching image", fmt.Sprintf("%s/%s/%s", model, kind, version))
	}
	return img, nil
}

// VendorBlankImagePath returns the blank flash-disk template path
// BuildVendorFlash copies from, under <base>/vendor_templates/<model>/.
func (r *Registry) VendorBlankImagePath(model string) string {
	return filepath.Join(r.baseDir, "vendor_templates", model, "blank.img")
}

// VendorConfigPath returns the in-image path a vendor_flash model's
// rendered config must be written to.
func (r *Registry) VendorConfigPath(model string) (string, error) {
	tmpl, ok := lookupTemplate(model)
	if !ok {
		return "", sherr.New(sherr.ImageNotFound, "no built-in template for model", model)
	}
	return tmpl.VendorConfigPath, nil
}

// DefaultKind returns the NodeKind a model's built-in template implies,
// since the manifest itself only ever names a model, never a kind.
func (r *Registry) DefaultKind(model string) (store.NodeKind, error) {
	tmpl, ok := lookupTemplate(model)
	if !ok {
		return "", sherr.New(sherr.ImageNotFound, "no built-in template for model", model)
	}
	return tmpl.Kind, nil
}

// ModelInfo implements topology.ModelLookup by consulting the built-in
// template table — the hardware shape a model needs for bound-checking is
// fixed per model, independent of which version a node ultimately runs.
func (r *Registry) ModelInfo(model string) (topology.ModelInfo, error) {
	tmpl, ok := lookupTemplate(model)
	if !ok {
		return topology.ModelInfo{}, fmt.Errorf("unknown model %q", model)
	}
	return tmpl.modelInfo(), nil
}

// ResolveInterface implements topology.InterfaceResolver.
func (r *Registry) ResolveInterface(model, name string) (uint8, error) {
	tmpl, ok := lookupTemplate(model)
	if !ok {
		return 0, fmt.Errorf("unknown model %q", model)
	}
	return tmpl.Grammar.Resolve(name)
}

// AllocatorRegistry adapts the built-in per-model grammars to
// allocator.Registry's shape, for callers (the lifecycle engine) that
// need a model-keyed resolver map rather than per-call model arguments.
func (r *Registry) AllocatorRegistry() allocator.Registry {
	reg := make(allocator.Registry, len(builtinTemplates))
	for model, tmpl := range builtinTemplates {
		grammar := tmpl.Grammar
		reg[model] = func(name string) (uint8, error) { return grammar.Resolve(name) }
	}
	return reg
}

func firstPrefix(g InterfaceGrammar) string {
	if len(g.Prefixes) == 0 {
		return ""
	}
	return g.Prefixes[0]
}

// copyFile copies src to dst without preserving metadata.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}

// lockTreeReadOnly recursively sets predictable, read-only permissions
// across an imported image tree: 0555 for directories, 0444 for files.
func lockTreeReadOnly(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return os.Chmod(path, 0o555)
		}
		return os.Chmod(path, 0o444)
	})
}
