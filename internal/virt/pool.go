package virt

import (
	"context"
	"fmt"
	"os"

	"libvirt.org/go/libvirt"
	"libvirt.org/go/libvirtxml"
)

// StoragePoolEnsure idempotently defines, builds, starts, and autostarts a
// directory-backed storage pool at path. A pool already present under name
// is left untouched beyond making sure it is running and autostarted.
func (a *Adapter) StoragePoolEnsure(ctx context.Context, name, path string) error {
	return a.do(ctx, func() error {
		pool, err := a.conn.LookupStoragePoolByName(name)
		if err != nil {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return fmt.Errorf("create pool directory %s: %w", path, err)
			}

			xmlDoc := libvirtxml.StoragePool{
				Type: "dir",
				Name: name,
				Target: &libvirtxml.StoragePoolTarget{
					Path: path,
				},
			}
			xmlStr, err := xmlDoc.Marshal()
			if err != nil {
				return fmt.Errorf("marshal pool xml: %w", err)
			}

			pool, err = a.conn.StoragePoolDefineXML(xmlStr, 0)
			if err != nil {
				return fmt.Errorf("define storage pool %s: %w", name, err)
			}
			if err := pool.Build(libvirt.STORAGE_POOL_BUILD_NEW); err != nil {
				return fmt.Errorf("build storage pool %s: %w", name, err)
			}
		}
		defer pool.Free()

		active, err := pool.IsActive()
		if err != nil {
			return fmt.Errorf("check pool %s active: %w", name, err)
		}
		if !active {
			if err := pool.Create(libvirt.STORAGE_POOL_CREATE_NORMAL); err != nil {
				return fmt.Errorf("start storage pool %s: %w", name, err)
			}
		}
		return pool.SetAutostart(true)
	})
}
