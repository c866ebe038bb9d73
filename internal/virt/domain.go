package virt

import (
	"context"
	"fmt"

	"libvirt.org/go/libvirt"
)

// UndefineFlags mirrors libvirt's domain undefine flag bits. NVRAM must be
// set for UEFI domains or their firmware variable store leaks on disk.
type UndefineFlags uint

const (
	UndefineDefault UndefineFlags = 0
	UndefineNVRAM   UndefineFlags = UndefineFlags(libvirt.DOMAIN_UNDEFINE_NVRAM)
)

// DomainDefineXML defines (but does not start) a domain from a pre-rendered
// XML document.
func (a *Adapter) DomainDefineXML(ctx context.Context, xmlDoc string) error {
	return a.do(ctx, func() error {
		dom, err := a.conn.DomainDefineXMLFlags(xmlDoc, libvirt.DOMAIN_DEFINE_VALIDATE)
		if err != nil {
			return fmt.Errorf("define domain: %w", err)
		}
		defer dom.Free()
		return nil
	})
}

// DomainCreate starts an already-defined, not-yet-running domain by name.
func (a *Adapter) DomainCreate(ctx context.Context, name string) error {
	return a.withDomain(ctx, name, func(dom *libvirt.Domain) error {
		return dom.Create()
	})
}

// DomainSuspend pauses a running domain, a no-op if it is already
// inactive or already paused.
func (a *Adapter) DomainSuspend(ctx context.Context, name string) error {
	return a.withDomain(ctx, name, func(dom *libvirt.Domain) error {
		active, err := dom.IsActive()
		if err != nil {
			return err
		}
		if !active {
			return nil
		}
		return dom.Suspend()
	})
}

// DomainResume unpauses a domain, a no-op unless it is currently paused.
func (a *Adapter) DomainResume(ctx context.Context, name string) error {
	return a.withDomain(ctx, name, func(dom *libvirt.Domain) error {
		state, _, err := dom.GetState()
		if err != nil {
			return err
		}
		if state != libvirt.DOMAIN_PAUSED {
			return nil
		}
		return dom.Resume()
	})
}

// DomainDestroy forcibly stops a running domain. A missing or already
// inactive domain is not an error.
func (a *Adapter) DomainDestroy(ctx context.Context, name string) error {
	return a.do(ctx, func() error {
		dom, err := a.conn.LookupDomainByName(name)
		if err != nil {
			return nil
		}
		defer dom.Free()
		_ = dom.Destroy()
		return nil
	})
}

// DomainUndefine removes a domain's persistent definition. A missing
// domain is not an error.
func (a *Adapter) DomainUndefine(ctx context.Context, name string, flags UndefineFlags) error {
	return a.do(ctx, func() error {
		dom, err := a.conn.LookupDomainByName(name)
		if err != nil {
			return nil
		}
		defer dom.Free()
		return dom.UndefineFlags(libvirt.DomainUndefineFlagsValues(flags))
	})
}

// ManagementIP reads the first address reported for the first interface of
// a running domain, reading the DHCP lease table first and falling back to
// the guest agent's view when the lease table reports nothing.
func (a *Adapter) ManagementIP(ctx context.Context, name string) (string, error) {
	var ip string
	err := a.withDomain(ctx, name, func(dom *libvirt.Domain) error {
		ifaces, err := dom.ListAllInterfaceAddresses(libvirt.DOMAIN_INTERFACE_ADDRESSES_SRC_LEASE)
		if err != nil || len(ifaces) == 0 {
			ifaces, err = dom.ListAllInterfaceAddresses(libvirt.DOMAIN_INTERFACE_ADDRESSES_SRC_AGENT)
		}
		if err != nil {
			return err
		}
		for _, iface := range ifaces {
			if len(iface.Addrs) > 0 {
				ip = iface.Addrs[0].Addr
				return nil
			}
		}
		return fmt.Errorf("no address reported for domain %s", name)
	})
	return ip, err
}

// IsActive reports whether a domain is currently running.
func (a *Adapter) IsActive(ctx context.Context, name string) (bool, error) {
	var active bool
	err := a.withDomain(ctx, name, func(dom *libvirt.Domain) error {
		var err error
		active, err = dom.IsActive()
		return err
	})
	return active, err
}

// withDomain looks up a domain by name and invokes fn on the worker
// goroutine, freeing the handle afterward.
func (a *Adapter) withDomain(ctx context.Context, name string, fn func(*libvirt.Domain) error) error {
	return a.do(ctx, func() error {
		dom, err := a.conn.LookupDomainByName(name)
		if err != nil {
			return fmt.Errorf("lookup domain %s: %w", name, err)
		}
		defer dom.Free()
		return fn(dom)
	})
}
