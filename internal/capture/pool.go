package capture

import (
	"image"
	"sync"
)

// framePool pools *image.RGBA buffers for a fixed resolution. Capture
// sessions run at one resolution at a time, so the pool resets itself
// when the requested size changes. All pool access happens under the
// mutex so a release racing a resolution reset cannot plant a
// stale-size buffer in the fresh pool.
type framePool struct {
	mu   sync.Mutex
	pool *sync.Pool
	w, h int
}

func (p *framePool) Get(w, h int) *image.RGBA {
	p.mu.Lock()
	if p.pool == nil || p.w != w || p.h != h {
		p.w = w
		p.h = h
		p.pool = &sync.Pool{}
	}
	v := p.pool.Get()
	p.mu.Unlock()

	if v != nil {
		return v.(*image.RGBA)
	}
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func (p *framePool) Put(img *image.RGBA) {
	if img == nil {
		return
	}
	b := img.Bounds()
	p.mu.Lock()
	if p.pool != nil && p.w == b.Dx() && p.h == b.Dy() {
		p.pool.Put(img)
	}
	p.mu.Unlock()
}
