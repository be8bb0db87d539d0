package evnet

import "fmt"

// engine fans readiness events and resource-id-keyed actions out to the
// right adapter by reading the adapter bits out of a ResourceId (spec.md
// §4.7). The dispatch table is the fixed-size array design note calls for:
// never a map, never a type switch on a wider interface.
type engine struct {
	drivers [adapterCount]adapterDriver

	tcp    *streamDriver
	framed *streamDriver
	udp    *udpDriver
	ws     *wsDriver

	poll poller
}

func newEngine(poll poller, sink eventSink, metrics Metrics, maxBacklog int) *engine {
	e := &engine{poll: poll}
	e.tcp = newStreamDriver(Tcp, poll, newIDGenerator(adapterTcp), sink, metrics, maxBacklog)
	e.framed = newFramedTCPDriver(poll, newIDGenerator(adapterFramedTcp), sink, metrics, maxBacklog)
	e.udp = newUDPDriver(poll, newIDGenerator(adapterUdp), sink, metrics)
	e.ws = newWSDriver(poll, newIDGenerator(adapterWs), sink, metrics, maxBacklog)

	e.drivers[adapterTcp] = e.tcp
	e.drivers[adapterFramedTcp] = e.framed
	e.drivers[adapterUdp] = e.udp
	e.drivers[adapterWs] = e.ws
	return e
}

func (e *engine) driverFor(a adapterID) (adapterDriver, error) {
	if int(a) >= adapterCount {
		return nil, fmt.Errorf("%w: adapter %d", ErrUnsupportedTransport, a)
	}
	return e.drivers[a], nil
}

// dispatch routes one readiness notification to its owning adapter.
func (e *engine) dispatch(r readiness) {
	d, err := e.driverFor(r.id.adapter())
	if err != nil {
		return
	}
	d.onReadiness(r)
}

func (e *engine) send(ep Endpoint, payload []byte) SendStatus {
	d, err := e.driverFor(ep.ResourceId().adapter())
	if err != nil {
		return ResourceNotFound
	}
	return d.send(ep, payload)
}

func (e *engine) remove(id ResourceId) bool {
	d, err := e.driverFor(id.adapter())
	if err != nil {
		return false
	}
	return d.remove(id)
}

func (e *engine) isReady(id ResourceId) (bool, bool) {
	d, err := e.driverFor(id.adapter())
	if err != nil {
		return false, false
	}
	return d.isReady(id)
}

func (e *engine) shutdown() {
	for _, d := range e.drivers {
		if d != nil {
			d.shutdown()
		}
	}
	_ = e.poll.close()
}
