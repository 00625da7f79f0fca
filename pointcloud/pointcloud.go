// Package pointcloud defines an ordered point cloud and the operations the annotator runs on
// scene and object clouds: file I/O, voxel downsampling, rigid transforms, a kd-tree spatial
// index and ICP registration.
//
// Points are addressed by their insertion index. Segmentation results refer to scene points by
// that index, so readers preserve file order.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/annotator/spatialmath"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor bool
	HasLabel bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64

	totalX, totalY, totalZ float64
}

// PointCloud is an ordered container of points with optional per-point data.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data.
	MetaData() MetaData

	// Set appends the given point to the cloud. Duplicate positions are kept.
	Set(p r3.Vector, d Data) error

	// PointAt returns the point and its data, which may be nil, at index i.
	PointAt(i int) (r3.Vector, Data)

	// Iterate iterates over all points in index order and calls the given function for each point.
	// If the supplied function returns false, iteration stops after the function returns.
	// numBatches lets you divide up the work. 0 means don't divide.
	// myBatch is used iff numBatches > 0 and is which batch you want.
	Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool)
}

// NewMetaData creates a new MetaData.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the meta data with the new data.
func (meta *MetaData) Merge(v r3.Vector, data Data) {
	if data != nil {
		if data.HasColor() {
			meta.HasColor = true
		}
		if data.HasLabel() {
			meta.HasLabel = true
		}
	}

	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)

	meta.totalX += v.X
	meta.totalY += v.Y
	meta.totalZ += v.Z
}

// CloudCentroid returns the mean of all points. An empty cloud has the zero vector as centroid.
func CloudCentroid(pc PointCloud) r3.Vector {
	if pc.Size() == 0 {
		return r3.Vector{}
	}
	meta := pc.MetaData()
	return r3.Vector{X: meta.totalX, Y: meta.totalY, Z: meta.totalZ}.Mul(1 / float64(pc.Size()))
}

// Points returns the positions of every point in index order.
func Points(pc PointCloud) []r3.Vector {
	pts := make([]r3.Vector, 0, pc.Size())
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		pts = append(pts, p)
		return true
	})
	return pts
}

// ApplyPose returns a new cloud with every point transformed by the pose. Point data is shared.
func ApplyPose(pc PointCloud, pose spatialmath.Pose) PointCloud {
	out := NewWithPrealloc(pc.Size())
	rot := pose.Orientation().RotationMatrix()
	trans := pose.Point()
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		//nolint:errcheck
		out.Set(rot.Mul(p).Add(trans), d)
		return true
	})
	return out
}

// Clone returns a copy of the cloud with its own point storage.
func Clone(pc PointCloud) PointCloud {
	return ApplyPose(pc, spatialmath.NewZeroPose())
}
