package evnet

// FramedTcp is driven by the same streamDriver as Tcp (tcp.go); the only
// difference is the length-prefix codec (frame.go) that runs over every
// read and every send. This file just gives that configuration its own
// named constructor, matching the one-adapter-per-file layout the other
// transports use.
func newFramedTCPDriver(poll poller, ids *idGenerator, sink eventSink, metrics Metrics, maxBacklog int) *streamDriver {
	return newStreamDriver(FramedTcp, poll, ids, sink, metrics, maxBacklog)
}
