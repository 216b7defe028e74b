package flow

// UDPTable is the session table for UDP flows (spec §3). Grounded on the
// teacher's internal/udp_session_manager.go and internal/tun_native.go
// udpFlowTable: a map keyed by the flow identity, plus an insertion-order
// slice of keys so sweeps and tests observe a deterministic order.
type UDPTable struct {
	flows map[FiveTuple]*UDPFlow
	order []FiveTuple
}

// NewUDPTable returns an empty UDP session table.
func NewUDPTable() *UDPTable {
	return &UDPTable{flows: make(map[FiveTuple]*UDPFlow)}
}

// Get returns the flow for key, or nil if absent.
func (t *UDPTable) Get(key FiveTuple) *UDPFlow { return t.flows[key] }

// Put inserts f, recording insertion order. Putting a key that is already
// present replaces its flow in place, keeping its original position, so no
// two flows ever share a 5-tuple (spec §3 invariant).
func (t *UDPTable) Put(f *UDPFlow) {
	if _, exists := t.flows[f.Key]; !exists {
		t.order = append(t.order, f.Key)
	}
	t.flows[f.Key] = f
}

// Remove deletes the flow for key, if present.
func (t *UDPTable) Remove(key FiveTuple) {
	if _, ok := t.flows[key]; !ok {
		return
	}
	delete(t.flows, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of live flows.
func (t *UDPTable) Len() int { return len(t.flows) }

// Each calls fn for every flow in insertion order. fn must not mutate the
// table; collect keys to remove and call Remove afterward instead.
func (t *UDPTable) Each(fn func(*UDPFlow)) {
	for _, k := range t.order {
		if f := t.flows[k]; f != nil {
			fn(f)
		}
	}
}

// TCPTable is the session table for TCP flows (spec §3).
type TCPTable struct {
	flows map[FiveTuple]*TCPFlow
	order []FiveTuple
}

// NewTCPTable returns an empty TCP session table.
func NewTCPTable() *TCPTable {
	return &TCPTable{flows: make(map[FiveTuple]*TCPFlow)}
}

// Get returns the flow for key, or nil if absent.
func (t *TCPTable) Get(key FiveTuple) *TCPFlow { return t.flows[key] }

// Put inserts f, recording insertion order.
func (t *TCPTable) Put(f *TCPFlow) {
	if _, exists := t.flows[f.Key]; !exists {
		t.order = append(t.order, f.Key)
	}
	t.flows[f.Key] = f
}

// Remove deletes the flow for key, if present.
func (t *TCPTable) Remove(key FiveTuple) {
	if _, ok := t.flows[key]; !ok {
		return
	}
	delete(t.flows, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of live flows.
func (t *TCPTable) Len() int { return len(t.flows) }

// Each calls fn for every flow in insertion order.
func (t *TCPTable) Each(fn func(*TCPFlow)) {
	for _, k := range t.order {
		if f := t.flows[k]; f != nil {
			fn(f)
		}
	}
}
