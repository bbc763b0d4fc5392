// Package childproc runs a wrapped object's methods in an isolated
// subprocess, so that native library state a metadata reader depends on
// (yum/RPM bindings, NSS-linked HTTP clients) cannot corrupt the parent
// process. A dynamic-attribute-interception RPC layer over pickled pipes
// becomes an explicit capability interface dispatched over jrpc2, with
// parent callbacks and log forwarding carried by jrpc2's push/callback
// machinery instead of exceptions crossing the process boundary.
package childproc

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// maxFrameBytes bounds a single frame so a corrupted length prefix (e.g.
// reading garbage after a child crash) can't make Recv try to allocate an
// unbounded buffer.
const maxFrameBytes = 64 << 20

// pipeChannel is a jrpc2 channel.Channel implementation over a pair of
// unidirectional pipes (a subprocess's Stdin/Stdout), framed the same way
// as internal/server's length-prefixed framing: a 4-byte little-endian
// length prefix followed by that many bytes of payload. jrpc2's own
// channel.Line framing assumes newline-safe payloads; JSON-RPC text is
// newline-safe in practice, but a length prefix survives arbitrary bytes
// appearing in a LOG message's payload.
type pipeChannel struct {
	r io.ReadCloser
	w io.WriteCloser

	rmu sync.Mutex
	wmu sync.Mutex
}

// newPipeChannel wraps r/w as a framed channel. Closing the channel closes
// both halves.
func newPipeChannel(r io.ReadCloser, w io.WriteCloser) *pipeChannel {
	return &pipeChannel{r: r, w: w}
}

// Send implements channel.Channel.
func (c *pipeChannel) Send(msg []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if len(msg) > maxFrameBytes {
		return fmt.Errorf("childproc: outgoing frame of %d bytes exceeds limit", len(msg))
	}
	var head [4]byte
	binary.LittleEndian.PutUint32(head[:], uint32(len(msg)))
	if _, err := c.w.Write(head[:]); err != nil {
		return err
	}
	_, err := c.w.Write(msg)
	return err
}

// Recv implements channel.Channel.
func (c *pipeChannel) Recv() ([]byte, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	var head [4]byte
	if _, err := io.ReadFull(c.r, head[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(head[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("childproc: incoming frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close implements channel.Channel.
func (c *pipeChannel) Close() error {
	rerr := c.r.Close()
	werr := c.w.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}
