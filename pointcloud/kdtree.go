package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Neighbor is a point returned by a kd-tree query.
type Neighbor struct {
	Index    int
	Point    r3.Vector
	Distance float64
}

// KDTree is an immutable spatial index over the points of a cloud. Queries do not mutate the
// tree and may run concurrently.
type KDTree struct {
	tree *kdtree.Tree
	size int
}

// ToKDTree builds a kd-tree over the points of the cloud, keyed by their index in the cloud.
func ToKDTree(pc PointCloud) *KDTree {
	return NewKDTree(Points(pc))
}

// NewKDTree builds a kd-tree over pts, keyed by their position in the slice.
func NewKDTree(pts []r3.Vector) *KDTree {
	indexed := make(indexedPoints, len(pts))
	for i, p := range pts {
		indexed[i] = indexedPoint{Vector: p, index: i}
	}
	return &KDTree{tree: kdtree.New(indexed, false), size: len(pts)}
}

// Size returns the number of indexed points.
func (kd *KDTree) Size() int {
	return kd.size
}

// NearestNeighbor returns the closest indexed point to p. The second return is false when the
// tree is empty.
func (kd *KDTree) NearestNeighbor(p r3.Vector) (Neighbor, bool) {
	if kd.size == 0 {
		return Neighbor{}, false
	}
	c, dist := kd.tree.Nearest(indexedPoint{Vector: p, index: -1})
	if c == nil {
		return Neighbor{}, false
	}
	found := c.(indexedPoint)
	return Neighbor{Index: found.index, Point: found.Vector, Distance: math.Sqrt(dist)}, true
}

// RadiusNearestNeighbors returns every indexed point within radius r of p, inclusive, nearest
// first. Equidistant points are ordered by index.
func (kd *KDTree) RadiusNearestNeighbors(p r3.Vector, r float64) []Neighbor {
	if kd.size == 0 || r < 0 || math.IsNaN(r) {
		return nil
	}
	keeper := kdtree.NewDistKeeper(r * r)
	kd.tree.NearestSet(keeper, indexedPoint{Vector: p, index: -1})

	neighbors := make([]Neighbor, 0, keeper.Len())
	for _, c := range keeper.Heap {
		// the keeper seeds its heap with a nil sentinel at the search distance
		if c.Comparable == nil {
			continue
		}
		found := c.Comparable.(indexedPoint)
		neighbors = append(neighbors, Neighbor{Index: found.index, Point: found.Vector, Distance: math.Sqrt(c.Dist)})
	}
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].Index < neighbors[j].Index
	})
	return neighbors
}

// indexedPoint is a kdtree.Comparable remembering its position in the source cloud.
type indexedPoint struct {
	r3.Vector
	index int
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	default:
		return p.Z - q.Z
	}
}

func (p indexedPoint) Dims() int { return 3 }

// Distance is the squared Euclidean distance, as kdtree expects.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	return p.Vector.Sub(c.(indexedPoint).Vector).Norm2()
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p indexedPoints) Len() int                      { return len(p) }
func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return plane{indexedPoints: p, Dim: d}.Pivot()
}
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// plane is a sort.Interface over one dimension of indexedPoints.
type plane struct {
	kdtree.Dim
	indexedPoints
}

func (p plane) Less(i, j int) bool {
	return p.indexedPoints[i].Compare(p.indexedPoints[j], p.Dim) < 0
}

func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.indexedPoints = p.indexedPoints[start:end]
	return p
}

func (p plane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}
