package evnet

import "sync/atomic"

// adapterCount is the fixed number of adapters the engine dispatches over:
// one per Transport value. Kept as a small array per the "dynamic dispatch
// across transports... not a virtual base class" design note: the dispatch
// table is a fixed small array indexed by adapterID, never a map.
const adapterCount = 4

// adapterID identifies one of the fixed adapters within a node. It is the
// top bits of a ResourceId.
type adapterID uint8

const (
	adapterTcp adapterID = iota
	adapterFramedTcp
	adapterUdp
	adapterWs
)

func adapterForTransport(t Transport) adapterID { return adapterID(t) }

// resourceKind distinguishes a listening/bound local resource from an
// established or logical remote one.
type resourceKind uint8

const (
	kindLocal resourceKind = iota
	kindRemote
)

// ResourceId is a compact, totally-ordered, hashable identifier for a
// kernel resource (a listener, a bound socket, a connection) within one
// node. It packs (adapter id : kind : monotonic sequence) into a uint64 so
// that routing an event or an action to the right adapter is a cheap shift
// and mask, never a map lookup or a type switch.
//
// Encoding, high to low bits: [ adapterID:8 | kind:8 | sequence:48 ].
// Sequence is monotonic per adapter and never reused for the lifetime of
// the owning node, so two resources never compare equal unless they are the
// same resource.
type ResourceId uint64

const (
	resourceIDAdapterShift = 56
	resourceIDKindShift    = 48
	resourceIDSequenceMask = (uint64(1) << 48) - 1
)

func makeResourceID(a adapterID, k resourceKind, seq uint64) ResourceId {
	return ResourceId(uint64(a)<<resourceIDAdapterShift | uint64(k)<<resourceIDKindShift | (seq & resourceIDSequenceMask))
}

// Adapter reports which adapter a resource id belongs to, as the Transport
// driving it.
func (id ResourceId) Adapter() Transport { return Transport(uint8(id >> resourceIDAdapterShift)) }

func (id ResourceId) adapter() adapterID { return adapterID(uint8(id >> resourceIDAdapterShift)) }

func (id ResourceId) kind() resourceKind { return resourceKind(uint8(id >> resourceIDKindShift)) }

// IsLocal reports whether id names a listening/bound resource.
func (id ResourceId) IsLocal() bool { return id.kind() == kindLocal }

// IsRemote reports whether id names an established/logical peer resource.
func (id ResourceId) IsRemote() bool { return id.kind() == kindRemote }

func (id ResourceId) sequence() uint64 { return uint64(id) & resourceIDSequenceMask }

// idGenerator hands out monotonically increasing, never-reused sequence
// numbers for one adapter's locals and one adapter's remotes.
type idGenerator struct {
	adapter     adapterID
	localSeq    atomic.Uint64
	remoteSeq   atomic.Uint64
}

func newIDGenerator(a adapterID) *idGenerator { return &idGenerator{adapter: a} }

func (g *idGenerator) nextLocal() ResourceId {
	return makeResourceID(g.adapter, kindLocal, g.localSeq.Add(1))
}

func (g *idGenerator) nextRemote() ResourceId {
	return makeResourceID(g.adapter, kindRemote, g.remoteSeq.Add(1))
}
