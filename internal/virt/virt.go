// Package virt wraps the native libvirt API behind the small surface the
// lab lifecycle engine needs: storage pools and volumes, networks, and
// domain lifecycle operations. libvirt's connection handle is not safe for
// concurrent use at the native level, so every call that touches it is
// routed through a single serialized worker goroutine rather than guarded
// with a mutex directly: one goroutine owns the connection, and everyone
// else sends it jobs.
package virt

import (
	"context"
	"fmt"

	"libvirt.org/go/libvirt"
)

// Adapter is a scoped libvirt session. Close must be called once the
// adapter is no longer needed; libvirt leaks file descriptors if a
// connection is dropped without an explicit Close.
type Adapter struct {
	uri             string
	storagePoolName string
	storagePoolPath string

	conn *libvirt.Connect
	jobs chan func()
	done chan struct{}
}

// Option customizes a new Adapter, following the functional-options style
// used throughout the rest of this codebase's infrastructure adapters.
type Option func(*Adapter)

// WithStoragePool sets the storage pool name/path StoragePoolEnsure uses
// when no explicit pool is named.
func WithStoragePool(name, path string) Option {
	return func(a *Adapter) {
		a.storagePoolName = name
		a.storagePoolPath = path
	}
}

// Connect opens a libvirt connection at uri and starts the adapter's
// worker goroutine. Callers must call Close when done.
func Connect(uri string, opts ...Option) (*Adapter, error) {
	conn, err := libvirt.NewConnect(uri)
	if err != nil {
		return nil, fmt.Errorf("connect to libvirt at %s: %w", uri, err)
	}

	a := &Adapter{
		uri:  uri,
		conn: conn,
		jobs: make(chan func()),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	go a.run()
	return a, nil
}

// run is the single worker goroutine that owns a.conn. Every libvirt call
// in this package is funneled through do so that no two goroutines
// ever touch the connection concurrently.
func (a *Adapter) run() {
	defer close(a.done)
	for job := range a.jobs {
		job()
	}
}

// do dispatches fn to the worker goroutine and blocks until it runs,
// respecting ctx cancellation while waiting for a free worker slot.
func (a *Adapter) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	job := func() { result <- fn() }

	select {
	case a.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new jobs, waits for the worker to drain, and
// closes the underlying libvirt connection.
func (a *Adapter) Close() error {
	close(a.jobs)
	<-a.done
	_, err := a.conn.Close()
	return err
}
