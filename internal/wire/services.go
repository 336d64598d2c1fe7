package wire

import "strings"

// ServiceFlag mirrors the Bitcoin NODE_* service bits the crawler cares
// about. Only the bits needed to render Peer.services and to construct an
// outbound version message are modeled; unrecognized bits are preserved
// numerically but rendered as "UNKNOWN".
type ServiceFlag uint64

const (
	SFNodeNetwork        ServiceFlag = 1 << 0
	SFNodeGetUTXO        ServiceFlag = 1 << 1
	SFNodeBloom          ServiceFlag = 1 << 2
	SFNodeWitness        ServiceFlag = 1 << 3
	SFNodeXThin          ServiceFlag = 1 << 4
	SFNodeCompactFilters ServiceFlag = 1 << 6
	SFNodeNetworkLimited ServiceFlag = 1 << 10
)

var serviceNames = []struct {
	flag ServiceFlag
	name string
}{
	{SFNodeNetwork, "NETWORK"},
	{SFNodeGetUTXO, "GETUTXO"},
	{SFNodeBloom, "BLOOM"},
	{SFNodeWitness, "WITNESS"},
	{SFNodeXThin, "XTHIN"},
	{SFNodeCompactFilters, "COMPACT_FILTERS"},
	{SFNodeNetworkLimited, "NETWORK_LIMITED"},
}

// String renders the service-flag bitset as the textual form persisted on
// the Peer row (spec §3: "textual rendering of the peer's advertised
// service-flag bitset").
func (s ServiceFlag) String() string {
	if s == 0 {
		return "NONE"
	}

	var names []string
	remaining := uint64(s)
	for _, sn := range serviceNames {
		if remaining&uint64(sn.flag) != 0 {
			names = append(names, sn.name)
			remaining &^= uint64(sn.flag)
		}
	}
	if remaining != 0 {
		names = append(names, "UNKNOWN")
	}

	return strings.Join(names, "|")
}

// OutboundServices is what the crawler advertises in its own version
// message: it relays nothing, but BIP 155/337 clients expect a plausible
// NETWORK|WITNESS peer to release their address table to.
const OutboundServices = SFNodeNetwork | SFNodeWitness
