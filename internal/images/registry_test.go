package images

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bwks/sherpa/internal/sherr"
	"github.com/bwks/sherpa/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()

	dbFile, err := os.CreateTemp("", "sherpa_images_test_*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	db, err := store.InitDB(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	st := store.NewSQLiteStore(db)
	t.Cleanup(func() {
		st.Close()
		os.Remove(dbFile.Name())
	})

	baseDir := t.TempDir()
	return NewRegistry(st, baseDir), baseDir
}

func writeFakeImage(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "source.qcow2")
	if err := os.WriteFile(path, []byte("fake qcow2 contents"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImport_CreatesLayoutAndRow(t *testing.T) {
	reg, baseDir := newTestRegistry(t)
	src := writeFakeImage(t, t.TempDir())

	result, err := reg.Import("cisco_iosv", "1.0.0", src, true)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if !result.Default {
		t.Error("Import() with latest=true should mark Default")
	}

	diskPath := filepath.Join(baseDir, "images", "cisco_iosv", "1.0.0", diskFilename)
	if _, err := os.Stat(diskPath); err != nil {
		t.Errorf("expected disk image at %s: %v", diskPath, err)
	}

	linkPath := filepath.Join(baseDir, "images", "cisco_iosv", "latest")
	target, err := os.Readlink(linkPath)
	if err != nil {
		t.Fatalf("Readlink(latest) error = %v", err)
	}
	if target != "1.0.0" {
		t.Errorf("latest symlink target = %q, want 1.0.0", target)
	}

	img, err := reg.Resolve("cisco_iosv", store.KindVirtualMachine, "1.0.0")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if img.DataInterfaceCount != 3 {
		t.Errorf("DataInterfaceCount = %d, want 3", img.DataInterfaceCount)
	}
}

func TestImport_UnknownModel(t *testing.T) {
	reg, _ := newTestRegistry(t)
	src := writeFakeImage(t, t.TempDir())

	_, err := reg.Import("unknown_vendor_os", "1.0.0", src, false)
	serr, ok := err.(*sherr.Error)
	if !ok || serr.Code != sherr.ImageNotFound {
		t.Fatalf("Import() error = %v, want ImageNotFound", err)
	}
}

func TestImport_MissingSource(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Import("cisco_iosv", "1.0.0", "/no/such/path.qcow2", false)
	serr, ok := err.(*sherr.Error)
	if !ok || serr.Code != sherr.ImageNotFound {
		t.Fatalf("Import() error = %v, want ImageNotFound", err)
	}
}

func TestImport_SecondVersionAfterLock(t *testing.T) {
	reg, _ := newTestRegistry(t)
	src := writeFakeImage(t, t.TempDir())

	if _, err := reg.Import("cisco_iosv", "1.0.0", src, true); err != nil {
		t.Fatalf("first Import() error = %v", err)
	}
	if _, err := reg.Import("cisco_iosv", "2.0.0", src, true); err != nil {
		t.Fatalf("second Import() error = %v", err)
	}

	def, err := reg.Resolve("cisco_iosv", store.KindVirtualMachine, "")
	if err != nil {
		t.Fatalf("Resolve(default) error = %v", err)
	}
	if def.Version != "2.0.0" {
		t.Errorf("default version = %q, want 2.0.0", def.Version)
	}
}

func TestResolve_NotFound(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Resolve("cisco_iosv", store.KindVirtualMachine, "9.9.9")
	serr, ok := err.(*sherr.Error)
	if !ok || serr.Code != sherr.ImageNotFound {
		t.Fatalf("Resolve() error = %v, want ImageNotFound", err)
	}
}

func TestScan_DiscoversUntrackedAssets(t *testing.T) {
	reg, baseDir := newTestRegistry(t)

	dir := filepath.Join(baseDir, "images", "cisco_iosv", "3.0.0")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, diskFilename), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := reg.Scan(); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	img, err := reg.Resolve("cisco_iosv", store.KindVirtualMachine, "3.0.0")
	if err != nil {
		t.Fatalf("Resolve() after Scan() error = %v", err)
	}
	if img.Version != "3.0.0" {
		t.Errorf("Resolve() version = %q, want 3.0.0", img.Version)
	}
}

func TestScan_Idempotent(t *testing.T) {
	reg, baseDir := newTestRegistry(t)
	src := writeFakeImage(t, t.TempDir())
	if _, err := reg.Import("cisco_iosv", "1.0.0", src, true); err != nil {
		t.Fatal(err)
	}
	_ = baseDir

	if err := reg.Scan(); err != nil {
		t.Fatalf("first Scan() error = %v", err)
	}
	if err := reg.Scan(); err != nil {
		t.Fatalf("second Scan() error = %v", err)
	}
}

func TestModelInfoAndResolveInterface(t *testing.T) {
	reg, _ := newTestRegistry(t)

	info, err := reg.ModelInfo("cisco_iosv")
	if err != nil {
		t.Fatalf("ModelInfo() error = %v", err)
	}
	if info.DataInterfaceCount != 3 {
		t.Errorf("DataInterfaceCount = %d, want 3", info.DataInterfaceCount)
	}

	idx, err := reg.ResolveInterface("cisco_iosv", "Gi0/2")
	if err != nil {
		t.Fatalf("ResolveInterface() error = %v", err)
	}
	if idx != 2 {
		t.Errorf("ResolveInterface() = %d, want 2", idx)
	}
}

func TestAllocatorRegistry(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ar := reg.AllocatorRegistry()

	idx, err := ar.Resolve("juniper_vqfx", "ge-0/0/3")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if idx != 4 {
		t.Errorf("Resolve() = %d, want 4 (zero-indexed grammar)", idx)
	}
}
