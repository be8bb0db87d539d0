package evnet

import "sync/atomic"

// Metrics tracks counters across every adapter sharing a node. Adapters call
// Increment* as events occur; collectors read back via Get*. Grounded on the
// teacher's atomic-counter Metrics interface, generalized from
// transaction/byte counters for a storage driver to connection/message
// counters for a network engine.
type Metrics interface {
	IncrementAccepted()
	IncrementConnected()
	IncrementDisconnected()
	IncrementConnectFailed()
	IncrementMessagesSent()
	IncrementMessagesReceived()
	IncrementBytesSent(n int64)
	IncrementBytesReceived(n int64)
	IncrementBacklogDropped()
	IncrementDecodeErrors()

	GetAccepted() int64
	GetConnected() int64
	GetDisconnected() int64
	GetConnectFailed() int64
	GetMessagesSent() int64
	GetMessagesReceived() int64
	GetBytesSent() int64
	GetBytesReceived() int64
	GetBacklogDropped() int64
	GetDecodeErrors() int64
}

// DefaultMetrics implements Metrics with atomic counters.
type DefaultMetrics struct {
	accepted      int64
	connected     int64
	disconnected  int64
	connectFailed int64

	messagesSent     int64
	messagesReceived int64
	bytesSent        int64
	bytesReceived    int64

	backlogDropped int64
	decodeErrors   int64
}

// NewDefaultMetrics creates a new DefaultMetrics instance.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementAccepted()       { atomic.AddInt64(&m.accepted, 1) }
func (m *DefaultMetrics) IncrementConnected()      { atomic.AddInt64(&m.connected, 1) }
func (m *DefaultMetrics) IncrementDisconnected()   { atomic.AddInt64(&m.disconnected, 1) }
func (m *DefaultMetrics) IncrementConnectFailed()  { atomic.AddInt64(&m.connectFailed, 1) }
func (m *DefaultMetrics) IncrementMessagesSent()   { atomic.AddInt64(&m.messagesSent, 1) }
func (m *DefaultMetrics) IncrementMessagesReceived() {
	atomic.AddInt64(&m.messagesReceived, 1)
}
func (m *DefaultMetrics) IncrementBytesSent(n int64)     { atomic.AddInt64(&m.bytesSent, n) }
func (m *DefaultMetrics) IncrementBytesReceived(n int64) { atomic.AddInt64(&m.bytesReceived, n) }
func (m *DefaultMetrics) IncrementBacklogDropped()       { atomic.AddInt64(&m.backlogDropped, 1) }
func (m *DefaultMetrics) IncrementDecodeErrors()         { atomic.AddInt64(&m.decodeErrors, 1) }

func (m *DefaultMetrics) GetAccepted() int64       { return atomic.LoadInt64(&m.accepted) }
func (m *DefaultMetrics) GetConnected() int64      { return atomic.LoadInt64(&m.connected) }
func (m *DefaultMetrics) GetDisconnected() int64   { return atomic.LoadInt64(&m.disconnected) }
func (m *DefaultMetrics) GetConnectFailed() int64  { return atomic.LoadInt64(&m.connectFailed) }
func (m *DefaultMetrics) GetMessagesSent() int64   { return atomic.LoadInt64(&m.messagesSent) }
func (m *DefaultMetrics) GetMessagesReceived() int64 {
	return atomic.LoadInt64(&m.messagesReceived)
}
func (m *DefaultMetrics) GetBytesSent() int64     { return atomic.LoadInt64(&m.bytesSent) }
func (m *DefaultMetrics) GetBytesReceived() int64 { return atomic.LoadInt64(&m.bytesReceived) }
func (m *DefaultMetrics) GetBacklogDropped() int64 { return atomic.LoadInt64(&m.backlogDropped) }
func (m *DefaultMetrics) GetDecodeErrors() int64   { return atomic.LoadInt64(&m.decodeErrors) }
