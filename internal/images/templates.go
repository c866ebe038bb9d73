package images

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwks/sherpa/internal/store"
	"github.com/bwks/sherpa/internal/topology"
)

// InterfaceGrammar describes one device model's interface-naming scheme:
// an ordered set of accepted prefixes (longest form first, then common
// shorthand) and whether the first data interface is numbered from 0.
type InterfaceGrammar struct {
	Prefixes    []string
	ZeroIndexed bool
}

// Resolve maps an interface name to its 1-based data-interface index (or 0
// for the management interface on models that number it that way).
func (g InterfaceGrammar) Resolve(name string) (uint8, error) {
	for _, p := range g.Prefixes {
		if !strings.HasPrefix(name, p) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, p))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("unrecognized interface suffix %q", name)
		}
		if g.ZeroIndexed {
			n++
		}
		return uint8(n), nil
	}
	return 0, fmt.Errorf("interface %q does not match any known grammar", name)
}

// ModelTemplate is the built-in hardware-shape and interface-grammar
// definition internal/images applies when importing an image for a model.
type ModelTemplate struct {
	Kind                         store.NodeKind
	CPUCount                     int
	MemoryMiB                    int
	InterfaceMTU                 int
	DataInterfaceCount           int
	ReservedInterfaceCount       int
	DedicatedManagementInterface bool
	OSVariant                    string
	BIOSType                     string
	MachineType                  string
	ZTPMethod                    store.ZTPMethod
	Grammar                      InterfaceGrammar

	// VendorConfigPath is the path a vendor_flash artifact's rendered
	// config must be written to inside the model's blank flash image.
	// Only meaningful when ZTPMethod is ZTPVendorFlash.
	VendorConfigPath string
}

// builtinTemplates is Sherpa's catalogue of known device models. It is
// deliberately small: a handful of common network-OS and Linux shapes,
// enough to exercise every ZTP method and interface grammar the rest of
// the system needs to support. Import rejects a model that is not in this
// table with ImageNotFound.
var builtinTemplates = map[string]ModelTemplate{
	"cisco_iosv": {
		Kind: store.KindVirtualMachine, CPUCount: 1, MemoryMiB: 512, InterfaceMTU: 1500,
		DataInterfaceCount: 3, ReservedInterfaceCount: 1, DedicatedManagementInterface: false,
		OSVariant: "generic", BIOSType: "seabios", MachineType: "pc", ZTPMethod: store.ZTPVendorFlash,
		Grammar:          InterfaceGrammar{Prefixes: []string{"GigabitEthernet0/", "Gi0/"}, ZeroIndexed: false},
		VendorConfigPath: "ciscoconfig/startup-config",
	},
	"cisco_nxosv9000": {
		Kind: store.KindVirtualMachine, CPUCount: 2, MemoryMiB: 8192, InterfaceMTU: 1500,
		DataInterfaceCount: 64, ReservedInterfaceCount: 0, DedicatedManagementInterface: true,
		OSVariant: "generic", BIOSType: "seabios", MachineType: "pc", ZTPMethod: store.ZTPVendorFlash,
		Grammar:          InterfaceGrammar{Prefixes: []string{"Ethernet1/", "Eth1/"}, ZeroIndexed: false},
		VendorConfigPath: "nxos_config.cfg",
	},
	"juniper_vqfx": {
		Kind: store.KindVirtualMachine, CPUCount: 2, MemoryMiB: 4096, InterfaceMTU: 1500,
		DataInterfaceCount: 12, ReservedInterfaceCount: 0, DedicatedManagementInterface: true,
		OSVariant: "generic", BIOSType: "seabios", MachineType: "q35", ZTPMethod: store.ZTPVendorFlash,
		Grammar:          InterfaceGrammar{Prefixes: []string{"ge-0/0/"}, ZeroIndexed: true},
		VendorConfigPath: "juniper.conf",
	},
	"arista_veos": {
		Kind: store.KindVirtualMachine, CPUCount: 2, MemoryMiB: 2048, InterfaceMTU: 1500,
		DataInterfaceCount: 8, ReservedInterfaceCount: 1, DedicatedManagementInterface: true,
		OSVariant: "generic", BIOSType: "seabios", MachineType: "pc", ZTPMethod: store.ZTPCloudInit,
		Grammar: InterfaceGrammar{Prefixes: []string{"Ethernet", "Et"}, ZeroIndexed: false},
	},
	"linux": {
		Kind: store.KindVirtualMachine, CPUCount: 1, MemoryMiB: 1024, InterfaceMTU: 1500,
		DataInterfaceCount: 8, ReservedInterfaceCount: 0, DedicatedManagementInterface: true,
		OSVariant: "generic", BIOSType: "seabios", MachineType: "q35", ZTPMethod: store.ZTPCloudInit,
		Grammar: InterfaceGrammar{Prefixes: []string{"eth"}, ZeroIndexed: true},
	},
	"alpine": {
		Kind: store.KindContainer, CPUCount: 1, MemoryMiB: 256, InterfaceMTU: 1500,
		DataInterfaceCount: 8, ReservedInterfaceCount: 0, DedicatedManagementInterface: true,
		OSVariant: "", BIOSType: "", MachineType: "", ZTPMethod: store.ZTPNone,
		Grammar: InterfaceGrammar{Prefixes: []string{"eth"}, ZeroIndexed: true},
	},
	"frr": {
		Kind: store.KindContainer, CPUCount: 1, MemoryMiB: 256, InterfaceMTU: 1500,
		DataInterfaceCount: 8, ReservedInterfaceCount: 0, DedicatedManagementInterface: true,
		OSVariant: "", BIOSType: "", MachineType: "", ZTPMethod: store.ZTPNone,
		Grammar: InterfaceGrammar{Prefixes: []string{"eth"}, ZeroIndexed: true},
	},
	"unikernel_alpine": {
		Kind: store.KindUnikernel, CPUCount: 1, MemoryMiB: 128, InterfaceMTU: 1500,
		DataInterfaceCount: 1, ReservedInterfaceCount: 0, DedicatedManagementInterface: true,
		OSVariant: "generic", BIOSType: "seabios", MachineType: "microvm", ZTPMethod: store.ZTPIgnition,
		Grammar: InterfaceGrammar{Prefixes: []string{"eth"}, ZeroIndexed: true},
	},
}

func lookupTemplate(model string) (ModelTemplate, bool) {
	t, ok := builtinTemplates[model]
	return t, ok
}

// modelInfo projects a ModelTemplate down to the shape topology.Compile
// needs for bound-checking.
func (t ModelTemplate) modelInfo() topology.ModelInfo {
	return topology.ModelInfo{
		DataInterfaceCount:           t.DataInterfaceCount,
		ReservedInterfaceCount:       t.ReservedInterfaceCount,
		DedicatedManagementInterface: t.DedicatedManagementInterface,
	}
}
