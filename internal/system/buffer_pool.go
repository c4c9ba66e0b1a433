package system

import (
	"image"
	"sync"
)

// ImagePool recycles RGBA buffers by rectangle. Frames, decoded video
// buffers and supersampling scratch images each settle on one size per job,
// so a render reuses a handful of allocations for its whole length.
type ImagePool struct {
	pools sync.Map // image.Rectangle -> *sync.Pool
}

func NewImagePool() *ImagePool {
	return &ImagePool{}
}

var globalPool = NewImagePool()

// GetImage returns a frame with bounds rect from the shared pool.
// The contents are undefined; callers overwrite or clear it.
func GetImage(rect image.Rectangle) *image.RGBA {
	return globalPool.Get(rect)
}

// GetCleared returns a pooled buffer whose dirty region is transparent.
// Pixels outside dirty keep whatever the previous user left.
func GetCleared(rect, dirty image.Rectangle) *image.RGBA {
	img := globalPool.Get(rect)
	Clear(img, dirty)
	return img
}

// PutImage hands img back to the shared pool. nil is ignored.
func PutImage(img *image.RGBA) {
	globalPool.Put(img)
}

func (p *ImagePool) pool(rect image.Rectangle) *sync.Pool {
	if v, ok := p.pools.Load(rect); ok {
		return v.(*sync.Pool)
	}
	v, _ := p.pools.LoadOrStore(rect, &sync.Pool{
		New: func() any { return image.NewRGBA(rect) },
	})
	return v.(*sync.Pool)
}

func (p *ImagePool) Get(rect image.Rectangle) *image.RGBA {
	return p.pool(rect).Get().(*image.RGBA)
}

// Put returns img to the pool for its rectangle. Buffers of a size the pool
// never handed out are dropped.
func (p *ImagePool) Put(img *image.RGBA) {
	if img == nil {
		return
	}
	if v, ok := p.pools.Load(img.Rect); ok {
		v.(*sync.Pool).Put(img)
	}
}

// Clear zeroes the pixels of img inside r.
func Clear(img *image.RGBA, r image.Rectangle) {
	r = r.Intersect(img.Rect)
	if r.Empty() {
		return
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		start := img.PixOffset(r.Min.X, y)
		clear(img.Pix[start : start+r.Dx()*4])
	}
}
