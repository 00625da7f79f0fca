package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// basicPointCloud is the basic implementation of the PointCloud interface backed by slices in
// insertion order.
type basicPointCloud struct {
	points []r3.Vector
	data   []Data
	meta   MetaData
}

// New returns an empty PointCloud backed by a basicPointCloud.
func New() PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated PointCloud backed by a basicPointCloud.
func NewWithPrealloc(size int) PointCloud {
	return &basicPointCloud{
		points: make([]r3.Vector, 0, size),
		data:   make([]Data, 0, size),
		meta:   NewMetaData(),
	}
}

// NewFromPoints returns a PointCloud holding the given positions without data.
func NewFromPoints(pts []r3.Vector) (PointCloud, error) {
	pc := NewWithPrealloc(len(pts))
	for _, p := range pts {
		if err := pc.Set(p, nil); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func (cloud *basicPointCloud) Size() int {
	return len(cloud.points)
}

func (cloud *basicPointCloud) MetaData() MetaData {
	return cloud.meta
}

// Set validates that the point is finite before appending it to the cloud.
func (cloud *basicPointCloud) Set(p r3.Vector, d Data) error {
	if !isFinite(p.X) || !isFinite(p.Y) || !isFinite(p.Z) {
		return errors.Errorf("point %v is not finite", p)
	}
	cloud.points = append(cloud.points, p)
	cloud.data = append(cloud.data, d)
	cloud.meta.Merge(p, d)
	return nil
}

func (cloud *basicPointCloud) PointAt(i int) (r3.Vector, Data) {
	return cloud.points[i], cloud.data[i]
}

func (cloud *basicPointCloud) Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool) {
	from, to := 0, len(cloud.points)
	if numBatches > 0 {
		batchSize := (len(cloud.points) + numBatches - 1) / numBatches
		from = batchSize * myBatch
		to = from + batchSize
		if to > len(cloud.points) {
			to = len(cloud.points)
		}
	}
	for i := from; i < to; i++ {
		if !fn(cloud.points[i], cloud.data[i]) {
			return
		}
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
