package handle

import (
	"fmt"
	"sync"

	"github.com/flux-framework/flux-core-sub021/pkg/fluxerr"
)

// Matchtag ranges. Regular RPCs draw from the low range; streaming RPCs
// draw from a reserved high range so a handle can tell at a glance (and in
// metrics/logging) which pool a leaked tag came from.
const (
	matchtagRegularBase   uint32 = 1
	matchtagRegularLimit  uint32 = 0x7fffffff
	matchtagStreamingBase uint32 = 0x80000000
	matchtagStreamingLim  uint32 = 0xfffffffe // 0xffffffff reserved as "none found"
)

// matchtagPool allocates and releases matchtags for in-flight RPCs on one
// handle. It is reference-counted in the sense that many RPC futures may
// share one pool, each holding a unique tag.
type matchtagPool struct {
	mu        sync.Mutex
	nextReg   uint32
	nextStr   uint32
	freeReg   []uint32
	freeStr   []uint32
	outReg    map[uint32]struct{}
	outStream map[uint32]struct{}
}

func newMatchtagPool() *matchtagPool {
	return &matchtagPool{
		nextReg:   matchtagRegularBase,
		nextStr:   matchtagStreamingBase,
		outReg:    make(map[uint32]struct{}),
		outStream: make(map[uint32]struct{}),
	}
}

// Alloc returns a fresh matchtag, drawing from the streaming range when
// streaming is true. It fails with ErrOverflow once the range is exhausted.
func (p *matchtagPool) Alloc(streaming bool) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if streaming {
		if n := len(p.freeStr); n > 0 {
			tag := p.freeStr[n-1]
			p.freeStr = p.freeStr[:n-1]
			p.outStream[tag] = struct{}{}
			return tag, nil
		}
		if p.nextStr > matchtagStreamingLim {
			return 0, fmt.Errorf("handle: streaming matchtag pool exhausted: %w", fluxerr.ErrOverflow)
		}
		tag := p.nextStr
		p.nextStr++
		p.outStream[tag] = struct{}{}
		return tag, nil
	}

	if n := len(p.freeReg); n > 0 {
		tag := p.freeReg[n-1]
		p.freeReg = p.freeReg[:n-1]
		p.outReg[tag] = struct{}{}
		return tag, nil
	}
	if p.nextReg > matchtagRegularLimit {
		return 0, fmt.Errorf("handle: matchtag pool exhausted: %w", fluxerr.ErrOverflow)
	}
	tag := p.nextReg
	p.nextReg++
	p.outReg[tag] = struct{}{}
	return tag, nil
}

// Free returns tag to its pool for reuse.
func (p *matchtagPool) Free(tag uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tag >= matchtagStreamingBase {
		if _, ok := p.outStream[tag]; ok {
			delete(p.outStream, tag)
			p.freeStr = append(p.freeStr, tag)
		}
		return
	}
	if _, ok := p.outReg[tag]; ok {
		delete(p.outReg, tag)
		p.freeReg = append(p.freeReg, tag)
	}
}

// IsStreaming reports whether tag was drawn from the streaming range.
func IsStreaming(tag uint32) bool {
	return tag >= matchtagStreamingBase
}
