package pointcloud

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func randomPoints(rng *rand.Rand, n int, scale float64) []r3.Vector {
	pts := make([]r3.Vector, n)
	for i := range pts {
		pts[i] = r3.Vector{X: rng.Float64() * scale, Y: rng.Float64() * scale, Z: rng.Float64() * scale}
	}
	return pts
}

func TestRadiusNearestNeighborsMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	pts := randomPoints(rng, 2000, 0.1)
	kd := NewKDTree(pts)
	test.That(t, kd.Size(), test.ShouldEqual, 2000)

	const radius = 0.01
	for _, q := range randomPoints(rng, 50, 0.1) {
		expected := map[int]bool{}
		for i, p := range pts {
			if p.Sub(q).Norm() <= radius {
				expected[i] = true
			}
		}
		got := kd.RadiusNearestNeighbors(q, radius)
		test.That(t, len(got), test.ShouldEqual, len(expected))
		for i, n := range got {
			test.That(t, expected[n.Index], test.ShouldBeTrue)
			test.That(t, n.Point, test.ShouldResemble, pts[n.Index])
			if i > 0 {
				test.That(t, n.Distance, test.ShouldBeGreaterThanOrEqualTo, got[i-1].Distance)
			}
		}
	}
}

func TestRadiusNearestNeighborsTies(t *testing.T) {
	// two copies of the same point come back ordered by index
	kd := NewKDTree([]r3.Vector{{X: 1}, {X: 0.5}, {X: 0.5}, {X: 0.2}})
	got := kd.RadiusNearestNeighbors(r3.Vector{X: 0.5}, 0.35)
	test.That(t, len(got), test.ShouldEqual, 3)
	test.That(t, got[0].Index, test.ShouldEqual, 1)
	test.That(t, got[1].Index, test.ShouldEqual, 2)
	test.That(t, got[2].Index, test.ShouldEqual, 3)
	test.That(t, got[2].Distance, test.ShouldAlmostEqual, 0.3)

	test.That(t, kd.RadiusNearestNeighbors(r3.Vector{X: 10}, 0.1), test.ShouldBeEmpty)
	test.That(t, kd.RadiusNearestNeighbors(r3.Vector{X: 10}, -1), test.ShouldBeEmpty)
}

func TestNearestNeighbor(t *testing.T) {
	empty := NewKDTree(nil)
	_, ok := empty.NearestNeighbor(r3.Vector{})
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, empty.RadiusNearestNeighbors(r3.Vector{}, 1), test.ShouldBeEmpty)

	pc, err := NewFromPoints([]r3.Vector{{X: 1}, {Y: 2}, {Z: -3}})
	test.That(t, err, test.ShouldBeNil)
	kd := ToKDTree(pc)
	n, ok := kd.NearestNeighbor(r3.Vector{Z: -2})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, n.Index, test.ShouldEqual, 2)
	test.That(t, n.Distance, test.ShouldAlmostEqual, 1)
}

func TestKDTreeConcurrentReaders(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pts := randomPoints(rng, 500, 1)
	kd := NewKDTree(pts)
	queries := randomPoints(rng, 64, 1)

	expected := make([]int, len(queries))
	for i, q := range queries {
		expected[i] = len(kd.RadiusNearestNeighbors(q, 0.2))
	}

	var wg sync.WaitGroup
	got := make([]int, len(queries))
	for i, q := range queries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = len(kd.RadiusNearestNeighbors(q, 0.2))
		}()
	}
	wg.Wait()
	test.That(t, got, test.ShouldResemble, expected)
}
