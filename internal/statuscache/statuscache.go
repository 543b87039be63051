// Package statuscache holds the one-shot parsed status structure: an
// opaque, length-prefixed byte blob read once from the design at startup
// and served read-only to every later get_status call. The length prefix
// is unsigned LEB128, which is exactly protobuf's varint wire encoding, so
// decoding reuses google.golang.org/protobuf/encoding/protowire's
// ConsumeVarint rather than hand-rolling it.
package statuscache

import (
	"context"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/esa-tu-darmstadt/tapasco/errcode"
)

// Cache is write-once by the simulator domain and read-many by the server
// domain once its ready channel is closed.
type Cache struct {
	ready   chan struct{}
	once    sync.Once
	payload []byte
}

func New() *Cache {
	return &Cache{ready: make(chan struct{})}
}

// Set decodes raw as a varint length prefix followed by that many bytes of
// opaque status payload, then publishes it. Called exactly once, from the
// simulator domain, after the status prefetch completes. A malformed
// prefix or a payload shorter than the decoded length is a fatal
// status-parse-failure.
func (c *Cache) Set(raw []byte) error {
	length, n := protowire.ConsumeVarint(raw)
	if n <= 0 {
		return &errcode.E{C: errcode.StatusParseFailure, Msg: "malformed status length prefix"}
	}
	if uint64(n)+length > uint64(len(raw)) {
		return &errcode.E{C: errcode.StatusParseFailure, Msg: "status payload shorter than declared length"}
	}
	payload := make([]byte, length)
	copy(payload, raw[n:uint64(n)+length])

	c.once.Do(func() {
		c.payload = payload
		close(c.ready)
	})
	return nil
}

// Wait blocks until the status cache has been populated, then returns a
// copy of the opaque payload. Every call after the first populate returns
// the identical bytes.
func (c *Cache) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-c.ready:
		out := make([]byte, len(c.payload))
		copy(out, c.payload)
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
