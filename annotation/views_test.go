package annotation

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/annotator/config"
)

const viewTableJSON = `{
  "1": [
    {"translation": {"x": 1, "y": 2, "z": 3}, "rotation_quaternion": {"x": 0, "y": 0, "z": 0, "w": 1}},
    {"translation": {"x": 0.5, "y": 0, "z": 0}, "rotation_quaternion": {"x": 0, "y": 0, "z": 0, "w": 1}},
    {"translation": {"x": 0, "y": 0, "z": 0.7}, "rotation_quaternion": {"x": 0, "y": 0, "z": 0.7071067811865476, "w": 0.7071067811865476}}
  ],
  "10": [],
  "0": [
    {"translation": {"x": 0, "y": 0, "z": 0}, "rotation_quaternion": {"x": 0, "y": 0, "z": 0, "w": 1}}
  ],
  "2": []
}`

func TestParseViewTable(t *testing.T) {
	table, err := ParseViewTable([]byte(viewTableJSON))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, table.Len(), test.ShouldEqual, 4)

	var indices []int
	for _, v := range table.Views {
		indices = append(indices, v.Index)
	}
	test.That(t, indices, test.ShouldResemble, []int{0, 1, 2, 10})

	links := table.Views[1].Links
	test.That(t, links, test.ShouldHaveLength, 3)
	test.That(t, links[0].Translation, test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
	// stored x, y, z, w
	test.That(t, links[2].Rotation.Real, test.ShouldAlmostEqual, math.Sqrt2/2)
	test.That(t, links[2].Rotation.Kmag, test.ShouldAlmostEqual, math.Sqrt2/2)
	test.That(t, links[2].Rotation.Imag, test.ShouldEqual, 0)
}

func TestParseViewTableErrors(t *testing.T) {
	_, err := ParseViewTable([]byte(`{"front": []}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "front")

	_, err = ParseViewTable([]byte(`{"-1": []}`))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ParseViewTable([]byte(`[1, 2]`))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ReadViewTable(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestViewTableRoundTrip(t *testing.T) {
	table, err := ParseViewTable([]byte(viewTableJSON))
	test.That(t, err, test.ShouldBeNil)

	fn := filepath.Join(t.TempDir(), ViewTableFileName)
	test.That(t, WriteViewTable(fn, table), test.ShouldBeNil)
	reread, err := ReadViewTable(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmp.Diff(table, reread), test.ShouldBeEmpty)
}

func TestResolveView(t *testing.T) {
	table, err := ParseViewTable([]byte(viewTableJSON))
	test.That(t, err, test.ShouldBeNil)

	geom, err := ResolveView(table.Views[1], config.Default().ViewLinks)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, geom.Index, test.ShouldEqual, 1)
	test.That(t, geom.CameraPosition, test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, geom.SceneCenter, test.ShouldResemble, r3.Vector{X: 0.5})
	test.That(t, geom.Translation, test.ShouldResemble, r3.Vector{Z: 0.7})

	// a quarter turn about z takes x to y
	x := geom.Rotation.Mul(r3.Vector{X: 1})
	test.That(t, x.X, test.ShouldAlmostEqual, 0)
	test.That(t, x.Y, test.ShouldAlmostEqual, 1)
	test.That(t, x.Z, test.ShouldAlmostEqual, 0)
	test.That(t, geom.RotationVector.X, test.ShouldAlmostEqual, 0)
	test.That(t, geom.RotationVector.Y, test.ShouldAlmostEqual, 0)
	test.That(t, geom.RotationVector.Z, test.ShouldAlmostEqual, math.Pi/2)

	ext := geom.Extrinsics()
	p := r3.Vector{X: 0.1, Y: -0.2, Z: 0.3}
	want := geom.Rotation.Mul(p).Add(geom.Translation)
	got := ext.ToCamera(p)
	test.That(t, got.Sub(want).Norm(), test.ShouldBeLessThan, 1e-12)

	test.That(t, geom.Depth(r3.Vector{X: 0.5, Y: 2, Z: 3}), test.ShouldAlmostEqual, 0)
}

func TestResolveViewHandedness(t *testing.T) {
	// quarter turns about x and y keep a right handed frame
	for _, q := range []quat.Number{
		{Real: math.Sqrt2 / 2, Imag: math.Sqrt2 / 2},
		{Real: math.Sqrt2 / 2, Jmag: math.Sqrt2 / 2},
		{Real: 0.5, Imag: 0.5, Jmag: 0.5, Kmag: 0.5},
	} {
		rec := testViewRecord(0)
		rec.Links[2].Rotation = q
		geom, err := ResolveView(rec, config.Default().ViewLinks)
		test.That(t, err, test.ShouldBeNil)
		x := geom.Rotation.Mul(r3.Vector{X: 1})
		y := geom.Rotation.Mul(r3.Vector{Y: 1})
		z := geom.Rotation.Mul(r3.Vector{Z: 1})
		test.That(t, x.Cross(y).Sub(z).Norm(), test.ShouldBeLessThan, 1e-9)

		back := geom.Extrinsics().Rotation
		for _, v := range []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}} {
			test.That(t, back.Mul(v).Sub(geom.Rotation.Mul(v)).Norm(), test.ShouldBeLessThan, 1e-9)
		}
	}
}

func TestResolveViewMissingLink(t *testing.T) {
	table, err := ParseViewTable([]byte(viewTableJSON))
	test.That(t, err, test.ShouldBeNil)

	_, err = ResolveView(table.Views[0], config.Default().ViewLinks)
	test.That(t, errors.Is(err, ErrMissingLink), test.ShouldBeTrue)

	// the only link can serve every role
	geom, err := ResolveView(table.Views[0], config.ViewLinks{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, geom.Translation, test.ShouldResemble, r3.Vector{})
}

func TestResolveViewCustomRoles(t *testing.T) {
	rec := testViewRecord(4)
	geom, err := ResolveView(rec, config.ViewLinks{Camera: 2, Scene: 1, Projection: 0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, geom.CameraPosition, test.ShouldResemble, r3.Vector{Z: 1})
	test.That(t, geom.Translation, test.ShouldResemble, r3.Vector{Z: -1})
}

func TestResolveViewZeroQuaternion(t *testing.T) {
	rec := testViewRecord(0)
	rec.Links[2].Rotation = quat.Number{}
	_, err := ResolveView(rec, config.Default().ViewLinks)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrMissingLink), test.ShouldBeFalse)
}
