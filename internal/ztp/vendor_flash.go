package ztp

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/diskfs/go-diskfs"
)

// VendorTemplate names the blank disk image a vendor_flash artifact is
// built from and the path the vendor config file must land at inside it
// (e.g. Cisco IOSv's "startup-config", Juniper's "juniper.conf").
type VendorTemplate struct {
	BlankImagePath string
	ConfigPath     string
}

// BuildVendorFlash copies templatePath's blank disk image to outPath and
// writes contents at the vendor-native config path inside it. The blank
// template is copied, never mutated in place, and the FAT32 filesystem
// already present on the template is opened and written into directly via
// go-diskfs rather than shelling out to mtools.
func BuildVendorFlash(tmpl VendorTemplate, contents []byte, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	if err := copyFile(tmpl.BlankImagePath, outPath); err != nil {
		return fmt.Errorf("copy blank template: %w", err)
	}

	disk, err := diskfs.Open(outPath)
	if err != nil {
		return fmt.Errorf("open vendor flash image: %w", err)
	}

	fs, err := disk.GetFilesystem(0)
	if err != nil {
		return fmt.Errorf("read vendor flash filesystem: %w", err)
	}

	if dir := filepath.Dir(tmpl.ConfigPath); dir != "." && dir != "/" {
		_ = fs.Mkdir(dir)
	}

	f, err := fs.OpenFile(tmpl.ConfigPath, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return fmt.Errorf("open %s in vendor flash image: %w", tmpl.ConfigPath, err)
	}
	if _, err := f.Write(contents); err != nil {
		return fmt.Errorf("write %s in vendor flash image: %w", tmpl.ConfigPath, err)
	}
	return nil
}

// copyFile copies src to dst, the same shape as internal/images' helper
// of the same name (each package keeps its own small copy rather than
// sharing a dependency neither otherwise needs).
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
