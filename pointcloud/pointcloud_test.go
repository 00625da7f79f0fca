package pointcloud

import (
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/annotator/spatialmath"
)

func TestPointCloudBasic(t *testing.T) {
	pc := New()
	test.That(t, pc.Size(), test.ShouldEqual, 0)
	test.That(t, CloudCentroid(pc), test.ShouldResemble, r3.Vector{})

	test.That(t, pc.Set(NewVector(1, 2, 3), nil), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(1, 2, 3), NewColoredData(color.NRGBA{255, 0, 0, 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(-1, 0, 5), NewLabeledData(40)), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(math.NaN(), 0, 0), nil), test.ShouldNotBeNil)

	// duplicates are kept and addressed by index
	test.That(t, pc.Size(), test.ShouldEqual, 3)
	p, d := pc.PointAt(1)
	test.That(t, p, test.ShouldResemble, NewVector(1, 2, 3))
	test.That(t, d.HasColor(), test.ShouldBeTrue)
	test.That(t, d.HasLabel(), test.ShouldBeFalse)

	meta := pc.MetaData()
	test.That(t, meta.HasColor, test.ShouldBeTrue)
	test.That(t, meta.HasLabel, test.ShouldBeTrue)
	test.That(t, meta.MinX, test.ShouldEqual, -1)
	test.That(t, meta.MaxZ, test.ShouldEqual, 5)

	centroid := CloudCentroid(pc)
	test.That(t, centroid.X, test.ShouldAlmostEqual, 1./3)
	test.That(t, centroid.Z, test.ShouldAlmostEqual, 11./3)
}

func TestWithLabel(t *testing.T) {
	d := WithLabel(nil, 80)
	test.That(t, d.HasColor(), test.ShouldBeFalse)
	test.That(t, d.Label(), test.ShouldEqual, 80)

	colored := NewColoredData(color.NRGBA{1, 2, 3, 255})
	d = WithLabel(colored, 120)
	test.That(t, d.HasLabel(), test.ShouldBeTrue)
	r, g, b := d.RGB255()
	test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{1, 2, 3})
	// the source is not modified
	test.That(t, colored.HasLabel(), test.ShouldBeFalse)
}

func TestIterateBatches(t *testing.T) {
	pc, err := NewFromPoints([]r3.Vector{{X: 0}, {X: 1}, {X: 2}, {X: 3}, {X: 4}})
	test.That(t, err, test.ShouldBeNil)

	var seen []float64
	for batch := 0; batch < 2; batch++ {
		pc.Iterate(2, batch, func(p r3.Vector, d Data) bool {
			seen = append(seen, p.X)
			return true
		})
	}
	test.That(t, seen, test.ShouldResemble, []float64{0, 1, 2, 3, 4})

	count := 0
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		count++
		return count < 2
	})
	test.That(t, count, test.ShouldEqual, 2)
}

func TestApplyPose(t *testing.T) {
	pc, err := NewFromPoints([]r3.Vector{{X: 1}, {Y: 1}})
	test.That(t, err, test.ShouldBeNil)
	pose := spatialmath.NewPose(r3.Vector{Z: 0.2}, spatialmath.RotationMatrixFromXYZ(0, 0, math.Pi/2))
	moved := ApplyPose(pc, pose)

	p0, _ := moved.PointAt(0)
	test.That(t, p0.X, test.ShouldAlmostEqual, 0)
	test.That(t, p0.Y, test.ShouldAlmostEqual, 1)
	test.That(t, p0.Z, test.ShouldAlmostEqual, 0.2)

	// the source is untouched
	orig, _ := pc.PointAt(0)
	test.That(t, orig, test.ShouldResemble, r3.Vector{X: 1})

	cloned := Clone(pc)
	test.That(t, Points(cloned), test.ShouldResemble, Points(pc))
}

func TestVoxelDownSample(t *testing.T) {
	pc := New()
	for _, p := range []r3.Vector{{X: 0.0001}, {X: 0.0003}, {X: 0.0031}, {X: 0.0029, Y: 0.0002}} {
		test.That(t, pc.Set(p, NewColoredData(color.NRGBA{100, 0, 0, 255})), test.ShouldBeNil)
	}
	down, err := VoxelDownSample(pc, 0.001)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, down.Size(), test.ShouldEqual, 2)

	first, d := down.PointAt(0)
	test.That(t, first.X, test.ShouldAlmostEqual, 0.0002)
	r, _, _ := d.RGB255()
	test.That(t, r, test.ShouldEqual, 100)
	second, _ := down.PointAt(1)
	test.That(t, second.X, test.ShouldAlmostEqual, 0.003)
	test.That(t, second.Y, test.ShouldAlmostEqual, 0.0001)

	_, err = VoxelDownSample(pc, 0)
	test.That(t, err, test.ShouldNotBeNil)

	empty, err := VoxelDownSample(New(), 0.01)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, empty.Size(), test.ShouldEqual, 0)
}
