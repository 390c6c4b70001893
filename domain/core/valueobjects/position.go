package valueobjects

// Position is a point on the canvas
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPosition creates a position
func NewPosition(x, y float64) Position {
	return Position{X: x, Y: y}
}

// Offset returns the position moved by dx, dy
func (p Position) Offset(dx, dy float64) Position {
	return Position{X: p.X + dx, Y: p.Y + dy}
}

// Viewport is the pan and zoom of a workspace canvas
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// DefaultViewport is used when a workspace has no saved settings
func DefaultViewport() Viewport {
	return Viewport{Zoom: 1}
}

// IsZero reports whether the viewport was never set
func (v Viewport) IsZero() bool {
	return v == Viewport{}
}
