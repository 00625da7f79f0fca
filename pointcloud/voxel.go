package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// A voxel is a cell of a regular grid in three-dimensional space. Downsampling replaces every
// occupied voxel with the mean of the points that fall inside it.

// VoxelCoords stores Voxel coordinates in VoxelGrid axes.
type VoxelCoords struct {
	I, J, K int64
}

// Voxel accumulates the points of one grid cell.
type Voxel struct {
	Key    VoxelCoords
	Points []r3.Vector

	colored        int
	red, grn, blue float64
}

// Center returns the barycenter of the points in the voxel.
func (v *Voxel) Center() r3.Vector {
	center := r3.Vector{}
	for _, pt := range v.Points {
		center = center.Add(pt)
	}
	return center.Mul(1. / float64(len(v.Points)))
}

func (v *Voxel) add(pt r3.Vector, d Data) {
	v.Points = append(v.Points, pt)
	if d != nil && d.HasColor() {
		r, g, b := d.RGB255()
		v.red += float64(r)
		v.grn += float64(g)
		v.blue += float64(b)
		v.colored++
	}
}

func (v *Voxel) data() Data {
	if v.colored == 0 {
		return nil
	}
	n := float64(v.colored)
	return NewColoredData(color.NRGBA{
		R: uint8(math.Round(v.red / n)),
		G: uint8(math.Round(v.grn / n)),
		B: uint8(math.Round(v.blue / n)),
		A: 255,
	})
}

// GetVoxelCoordinates computes the voxel coordinates of a point relative to the grid origin ptMin.
func GetVoxelCoordinates(pt, ptMin r3.Vector, voxelSize float64) VoxelCoords {
	return VoxelCoords{
		I: int64(math.Floor((pt.X - ptMin.X) / voxelSize)),
		J: int64(math.Floor((pt.Y - ptMin.Y) / voxelSize)),
		K: int64(math.Floor((pt.Z - ptMin.Z) / voxelSize)),
	}
}

// VoxelGrid contains the sparse grid of Voxels of a point cloud, in order of first occupation.
type VoxelGrid struct {
	Voxels map[VoxelCoords]*Voxel
	order  []VoxelCoords
}

// NewVoxelGridFromPointCloud creates and fills a VoxelGrid from a point cloud. The grid origin is
// half a voxel below the cloud's minimum corner.
func NewVoxelGridFromPointCloud(pc PointCloud, voxelSize float64) (*VoxelGrid, error) {
	if voxelSize <= 0 || !isFinite(voxelSize) {
		return nil, errors.Errorf("voxel size must be positive, got %v", voxelSize)
	}
	grid := &VoxelGrid{Voxels: make(map[VoxelCoords]*Voxel)}
	if pc.Size() == 0 {
		return grid, nil
	}
	meta := pc.MetaData()
	half := voxelSize / 2
	ptMin := r3.Vector{X: meta.MinX - half, Y: meta.MinY - half, Z: meta.MinZ - half}

	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		coords := GetVoxelCoordinates(p, ptMin, voxelSize)
		vox, ok := grid.Voxels[coords]
		if !ok {
			vox = &Voxel{Key: coords}
			grid.Voxels[coords] = vox
			grid.order = append(grid.order, coords)
		}
		vox.add(p, d)
		return true
	})
	return grid, nil
}

// ToPointCloud returns one point per voxel, the mean of its points and colors.
func (vg *VoxelGrid) ToPointCloud() PointCloud {
	pc := NewWithPrealloc(len(vg.order))
	for _, key := range vg.order {
		vox := vg.Voxels[key]
		//nolint:errcheck
		pc.Set(vox.Center(), vox.data())
	}
	return pc
}

// VoxelDownSample averages the cloud on a grid of the given voxel size.
func VoxelDownSample(pc PointCloud, voxelSize float64) (PointCloud, error) {
	grid, err := NewVoxelGridFromPointCloud(pc, voxelSize)
	if err != nil {
		return nil, err
	}
	return grid.ToPointCloud(), nil
}
