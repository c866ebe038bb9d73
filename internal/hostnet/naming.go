package hostnet

import "fmt"

// Naming conventions for lab-owned host interfaces. The lifecycle engine
// relies on these exact prefixes to find and tear down a lab's leftover
// interfaces by substring match on lab_id.

// LinkBridgeA and LinkBridgeB name the two bridges a p2p_bridge link uses,
// one per side, so each endpoint's veth can be attached independently.
func LinkBridgeA(linkIdx uint16, labID string) string {
	return fmt.Sprintf("bra%d-%s", linkIdx, labID)
}

func LinkBridgeB(linkIdx uint16, labID string) string {
	return fmt.Sprintf("brb%d-%s", linkIdx, labID)
}

// SharedBridge names the bridge backing a shared_bridge segment.
func SharedBridge(bridgeIdx uint16, labID string) string {
	return fmt.Sprintf("bs%d-%s", bridgeIdx, labID)
}

// LinkVethA and LinkVethB name the two ends of a p2p_veth link's pair.
func LinkVethA(linkIdx uint16, labID string) string {
	return fmt.Sprintf("vea%d-%s", linkIdx, labID)
}

func LinkVethB(linkIdx uint16, labID string) string {
	return fmt.Sprintf("veb%d-%s", linkIdx, labID)
}
