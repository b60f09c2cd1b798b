package nio

import (
	"time"
)

// Stats tracks timing and byte counters for one stream's ingress/egress
// byte chains. Package h3 does not use it: Stream.bytesWritten (spec
// invariant (b): bytesWritten == bytes passed to transport writeChain) is a
// plain counter on the Stream.
type Stats struct {
	Open time.Time

	// last write to the transport, last read from the transport.
	LastWrite time.Time
	LastRead  time.Time

	SentBytes   int
	SentPackets int

	RcvdBytes   int
	RcvdPackets int
}
