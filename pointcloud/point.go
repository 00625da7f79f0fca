package pointcloud

import (
	"image/color"

	"github.com/golang/geo/r3"
)

// NewVector convenience method for creating a vector.
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// Data is what a point carries besides its position: a scanner color and the label of the
// instance that claimed it, either of which may be absent.
type Data interface {
	HasColor() bool
	// RGB255 returns, if colored, the RGB components of the color.
	RGB255() (uint8, uint8, uint8)
	Color() color.Color
	SetColor(c color.NRGBA) Data

	HasLabel() bool
	// Label is the label image value of the owning instance's class. Zero is background.
	Label() uint8
	SetLabel(v uint8) Data
}

type pointData struct {
	c        color.NRGBA
	hasColor bool

	label    uint8
	hasLabel bool
}

// NewBasicData returns data with neither color nor label.
func NewBasicData() Data {
	return &pointData{}
}

// NewColoredData returns data holding a color.
func NewColoredData(c color.NRGBA) Data {
	return &pointData{c: c, hasColor: true}
}

// NewLabeledData returns data holding an instance label.
func NewLabeledData(v uint8) Data {
	return &pointData{label: v, hasLabel: true}
}

// WithLabel returns a copy of d, which may be nil, labeled v.
func WithLabel(d Data, v uint8) Data {
	out := &pointData{}
	if d != nil && d.HasColor() {
		r, g, b := d.RGB255()
		out.c, out.hasColor = color.NRGBA{r, g, b, 255}, true
	}
	return out.SetLabel(v)
}

func (pd *pointData) HasColor() bool {
	return pd.hasColor
}

func (pd *pointData) RGB255() (uint8, uint8, uint8) {
	return pd.c.R, pd.c.G, pd.c.B
}

func (pd *pointData) Color() color.Color {
	return &pd.c
}

func (pd *pointData) SetColor(c color.NRGBA) Data {
	pd.c, pd.hasColor = c, true
	return pd
}

func (pd *pointData) HasLabel() bool {
	return pd.hasLabel
}

func (pd *pointData) Label() uint8 {
	return pd.label
}

func (pd *pointData) SetLabel(v uint8) Data {
	pd.label, pd.hasLabel = v, true
	return pd
}
