package ink

import "sync"

// Surface is the live drawing a user sees and draws on.
type Surface interface {
	Drawing() Drawing
	SetDrawing(d Drawing)
	Size() Size
	SetInteractive(interactive bool)
	Interactive() bool
}

// MemorySurface is a Surface held in memory. Headless clients and tests use
// it in place of an on-screen canvas.
type MemorySurface struct {
	mu          sync.RWMutex
	drawing     Drawing
	size        Size
	interactive bool
}

func NewMemorySurface(size Size) *MemorySurface {
	return &MemorySurface{size: size}
}

func (m *MemorySurface) Drawing() Drawing {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drawing.Clone()
}

func (m *MemorySurface) SetDrawing(d Drawing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drawing = d.Clone()
}

func (m *MemorySurface) Size() Size {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Resize changes the canvas size. Existing strokes are left in place.
func (m *MemorySurface) Resize(size Size) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.size = size
}

func (m *MemorySurface) SetInteractive(interactive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interactive = interactive
}

func (m *MemorySurface) Interactive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.interactive
}

// AppendStroke adds a stroke the way a pen gesture would.
func (m *MemorySurface) AppendStroke(s Stroke) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drawing = m.drawing.Append(s)
}

func (m *MemorySurface) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drawing.Len()
}
