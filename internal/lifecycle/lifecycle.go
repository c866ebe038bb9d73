// Package lifecycle is Sherpa's lab lifecycle engine: it orchestrates
// up/destroy/suspend/resume over the topology compiler, persistence
// store, image registry, artifact builder, and the virtualization,
// container, and host-network adapters. Bring-up runs in strictly
// ordered phases, each phase's errors captured into an accumulator
// rather than aborting the run past the point where persisted state
// exists; teardown is reverse-order and best-effort.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/bwks/sherpa/internal/allocator"
	"github.com/bwks/sherpa/internal/containers"
	"github.com/bwks/sherpa/internal/hostnet"
	"github.com/bwks/sherpa/internal/images"
	"github.com/bwks/sherpa/internal/sherr"
	"github.com/bwks/sherpa/internal/store"
	"github.com/bwks/sherpa/internal/virt"
)

// TotalUpPhases is the fixed number of phases Up reports progress for;
// reordering work within a phase is fine, crossing a phase boundary
// without emitting progress is not.
const TotalUpPhases = 9

// TotalDestroySteps is the fixed number of steps Destroy reports
// progress for.
const TotalDestroySteps = 7

// ReadinessTimeout and ReadinessSleep bound phase 8's mgmt_ipv4 polling
// loop: poll at ReadinessSleep intervals until ReadinessTimeout elapses.
const (
	ReadinessTimeout = 90 * time.Second
	ReadinessSleep   = 2 * time.Second
)

// Progress is one status update emitted during up/destroy. The RPC server
// converts these into wire status frames.
type Progress struct {
	PhaseName   string
	PhaseNumber int
	TotalPhases int
	Message     string
}

// ProgressFunc receives Progress events. A handler observes a send
// failure (closed channel, full buffer past deadline) as a hint that the
// client disconnected, not a hard cancel: it keeps running to completion
// so the store reflects everything it actually created.
type ProgressFunc func(Progress)

// Engine wires the persistence store, image registry, and the three
// infrastructure adapters behind up/destroy/suspend/resume.
type Engine struct {
	db         store.Store
	images     *images.Registry
	virt       *virt.Adapter
	containers *containers.Adapter
	hostnet    *hostnet.Adapter

	labDir          func(labID string) string
	storagePoolName string
	managementCIDR  string
}

// Option customizes a new Engine.
type Option func(*Engine)

// WithLabDir sets the function mapping a lab_id to its on-disk working
// directory (labs/<lab_id> under the configured base directory).
func WithLabDir(fn func(labID string) string) Option {
	return func(e *Engine) { e.labDir = fn }
}

// WithStoragePool names the libvirt storage pool Storage-phase clones land
// in.
func WithStoragePool(name string) Option {
	return func(e *Engine) { e.storagePoolName = name }
}

// WithManagementCIDR sets the address space AllocateManagement carves lab
// /24s out of.
func WithManagementCIDR(cidr string) Option {
	return func(e *Engine) { e.managementCIDR = cidr }
}

// New builds an Engine from its persistence and infrastructure
// dependencies.
func New(db store.Store, reg *images.Registry, v *virt.Adapter, c *containers.Adapter, h *hostnet.Adapter, opts ...Option) *Engine {
	e := &Engine{
		db: db, images: reg, virt: v, containers: c, hostnet: h,
		labDir:          func(labID string) string { return "labs/" + labID },
		storagePoolName: "sherpa",
		managementCIDR:  "172.16.0.0/12",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UpError is one resource-level failure accumulated from phase 4 onward.
type UpError struct {
	Code     sherr.Code `json:"code"`
	Resource string     `json:"resource"`
	Message  string     `json:"message"`
}

// UpSummary is up()'s final response: the full ledger plus an overall
// success flag.
type UpSummary struct {
	LabID   string    `json:"lab_id"`
	Success bool      `json:"success"`
	Errors  []UpError `json:"errors"`
}

func (s *UpSummary) fail(code sherr.Code, resource, msg string) {
	s.Success = false
	s.Errors = append(s.Errors, UpError{Code: code, Resource: resource, Message: msg})
}

// DestroySummary is destroy()'s final response: a per-step success/failure
// ledger. Success is the AND of every step's own boolean.
type DestroySummary struct {
	LabID          string   `json:"lab_id"`
	Success        bool     `json:"success"`
	ContainersOK   []string `json:"containers_removed"`
	ContainersFail []string `json:"containers_failed"`
	DomainsOK      []string `json:"domains_removed"`
	DomainsFail    []string `json:"domains_failed"`
	InterfacesOK   []string `json:"interfaces_removed"`
	InterfacesFail []string `json:"interfaces_failed"`
	NetworksOK     []string `json:"networks_removed"`
	NetworksFail   []string `json:"networks_failed"`
}

// VmActionResult reports the outcome of one domain's suspend/resume call.
type VmActionResult struct {
	NodeName string `json:"node_name"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// domainName and containerName give a node its external resource name:
// unique across the whole host by construction, since lab_id is globally
// unique and node names are unique within a lab.
func domainName(labID, nodeName string) string {
	return fmt.Sprintf("%s-%s", labID, nodeName)
}

func containerName(labID, nodeName string) string {
	return fmt.Sprintf("%s-%s", labID, nodeName)
}

func networkName(labID string, role string, idx uint16) string {
	return fmt.Sprintf("%s%d-%s", role, idx, labID)
}

// allocatorRegistry adapts the image registry's model grammars, used both
// to compile the manifest and to resolve interface indices while wiring
// host networking.
func (e *Engine) allocatorRegistry() allocator.Registry {
	return e.images.AllocatorRegistry()
}
