package virt

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"libvirt.org/go/libvirt"
	"libvirt.org/go/libvirtxml"
)

// uploadChunkSize is the size of each read/send cycle when streaming a
// local file into a libvirt storage volume.
const uploadChunkSize = 25 * 1024 * 1024

// volumeFormat infers a libvirt volume format from a file extension. Disk
// images keep their native qcow2 format; every ZTP artifact (ISO seeds,
// Ignition JSON, raw flash images) is opaque to libvirt and stored raw.
func volumeFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".qcow2":
		return "qcow2"
	default:
		return "raw"
	}
}

// CloneDisk defines a new volume named dst in the storage pool and streams
// src's bytes into it in uploadChunkSize chunks.
func (a *Adapter) CloneDisk(ctx context.Context, poolName, src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source disk %s: %w", src, err)
	}

	return a.do(ctx, func() error {
		pool, err := a.conn.LookupStoragePoolByName(poolName)
		if err != nil {
			return fmt.Errorf("lookup storage pool %s: %w", poolName, err)
		}
		defer pool.Free()

		xmlDoc := libvirtxml.StorageVolume{
			Name: dst,
			Capacity: &libvirtxml.StorageVolumeSize{
				Value: uint64(info.Size()),
				Unit:  "bytes",
			},
			Target: &libvirtxml.StorageVolumeTarget{
				Format: &libvirtxml.StorageVolumeTargetFormat{Type: volumeFormat(src)},
			},
		}
		xmlStr, err := xmlDoc.Marshal()
		if err != nil {
			return fmt.Errorf("marshal volume xml: %w", err)
		}

		vol, err := pool.StorageVolCreateXML(xmlStr, 0)
		if err != nil {
			return fmt.Errorf("create volume %s: %w", dst, err)
		}
		defer vol.Free()

		return uploadVolume(a.conn, vol, src)
	})
}

// uploadVolume streams src's contents into vol in uploadChunkSize chunks
// using a libvirt stream, the pattern every disk/ZTP artifact upload in
// this package shares.
func uploadVolume(conn *libvirt.Connect, vol *libvirt.StorageVol, src string) (err error) {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	stream, err := conn.NewStream(0)
	if err != nil {
		return fmt.Errorf("new stream: %w", err)
	}
	defer func() {
		if err != nil {
			_ = stream.Abort()
		}
	}()

	if err := vol.Upload(stream, 0, 0, 0); err != nil {
		return fmt.Errorf("vol-upload %s: %w", src, err)
	}

	buf := make([]byte, uploadChunkSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := stream.Send(buf[:n]); werr != nil {
				return fmt.Errorf("stream send: %w", werr)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read %s: %w", src, rerr)
		}
	}

	return stream.Finish()
}

// DeleteDisk deletes a named volume from the storage pool. Missing
// volumes are not an error, matching destroy's idempotent-cleanup intent.
func (a *Adapter) DeleteDisk(ctx context.Context, poolName, name string) error {
	return a.do(ctx, func() error {
		pool, err := a.conn.LookupStoragePoolByName(poolName)
		if err != nil {
			return fmt.Errorf("lookup storage pool %s: %w", poolName, err)
		}
		defer pool.Free()

		vol, err := pool.LookupStorageVolByName(name)
		if err != nil {
			return nil
		}
		defer vol.Free()

		return vol.Delete(0)
	})
}
