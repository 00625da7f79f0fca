// Package annotation builds ground truth for scanned scenes: posed object instances, their
// segmentation in the scene cloud and per view label images.
package annotation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/annotator/logging"
	"go.viam.com/annotator/pointcloud"
	"go.viam.com/annotator/spatialmath"
)

var (
	// ErrUnknownInstance is returned when a scene has no instance of the given name.
	ErrUnknownInstance = errors.New("unknown instance")
	// ErrDuplicateInstance is returned when an instance name is already taken.
	ErrDuplicateInstance = errors.New("duplicate instance")
)

// Instance is one placed copy of an object model. Cloud holds the model points in scene space
// and Transform the cumulative transform that took the model there.
type Instance struct {
	Class     string
	Index     int
	Cloud     pointcloud.PointCloud
	Transform spatialmath.Pose
}

// NewInstance places a copy of model into the scene with the given transform.
func NewInstance(class string, index int, model pointcloud.PointCloud, transform spatialmath.Pose) (*Instance, error) {
	if class == "" {
		return nil, errors.New("instance class must not be empty")
	}
	if index < 0 {
		return nil, errors.Errorf("instance index must be non-negative, got %d", index)
	}
	if transform == nil {
		transform = spatialmath.NewZeroPose()
	}
	if model == nil {
		model = pointcloud.New()
	}
	return &Instance{
		Class:     class,
		Index:     index,
		Cloud:     pointcloud.ApplyPose(model, transform),
		Transform: transform,
	}, nil
}

// Name returns "<class>_<index>".
func (inst *Instance) Name() string {
	return fmt.Sprintf("%s_%d", inst.Class, inst.Index)
}

func (inst *Instance) String() string {
	return inst.Name()
}

// Center returns the centroid of the instance points.
func (inst *Instance) Center() r3.Vector {
	return pointcloud.CloudCentroid(inst.Cloud)
}

// Points returns the scene space points of the instance.
func (inst *Instance) Points() []r3.Vector {
	return pointcloud.Points(inst.Cloud)
}

// apply moves the points by delta and prepends delta to the transform.
func (inst *Instance) apply(delta spatialmath.Pose) {
	inst.Cloud = pointcloud.ApplyPose(inst.Cloud, delta)
	inst.Transform = spatialmath.Compose(delta, inst.Transform)
}

// ParseInstanceName splits "<class>_<index>" at the last underscore. Class names may contain
// underscores themselves.
func ParseInstanceName(name string) (string, int, error) {
	cut := strings.LastIndex(name, "_")
	if cut <= 0 || cut == len(name)-1 {
		return "", 0, errors.Errorf("instance name %q is not of the form <class>_<index>", name)
	}
	index, err := strconv.Atoi(name[cut+1:])
	if err != nil || index < 0 {
		return "", 0, errors.Errorf("instance name %q has an invalid index", name)
	}
	return name[:cut], index, nil
}

// Scene is a scanned scene and the instances placed in it.
type Scene struct {
	Number int
	// Cloud is the assembled scene cloud, in the frame instances are placed in. It may be
	// downsampled and is what editing and refinement work against.
	Cloud pointcloud.PointCloud
	// Source is the cloud as read from CloudPath, before any downsampling. Segmentation indices
	// refer to its points in file order. Nil when Cloud was not downsampled.
	Source pointcloud.PointCloud
	// CloudPath is where Source was read from, if anywhere.
	CloudPath string

	instances []*Instance
	logger    logging.Logger
}

// NewScene returns an empty scene around the given cloud.
func NewScene(number int, cloud pointcloud.PointCloud, logger logging.Logger) *Scene {
	return &Scene{Number: number, Cloud: cloud, logger: logger}
}

// SegmentationCloud returns the cloud that segmentation indices refer to: Source when set,
// otherwise Cloud.
func (s *Scene) SegmentationCloud() pointcloud.PointCloud {
	if s.Source != nil {
		return s.Source
	}
	return s.Cloud
}

// Instances returns the instances in insertion order.
func (s *Scene) Instances() []*Instance {
	return append([]*Instance(nil), s.instances...)
}

// Instance looks up an instance by name.
func (s *Scene) Instance(name string) (*Instance, error) {
	for _, inst := range s.instances {
		if inst.Name() == name {
			return inst, nil
		}
	}
	return nil, errors.Wrap(ErrUnknownInstance, name)
}

// NextIndex returns one past the largest index used by class, or 0 when the class is absent.
func (s *Scene) NextIndex(class string) int {
	next := 0
	for _, inst := range s.instances {
		if inst.Class == class && inst.Index >= next {
			next = inst.Index + 1
		}
	}
	return next
}

// AddInstance places a copy of model with the next free index of its class.
func (s *Scene) AddInstance(class string, model pointcloud.PointCloud, initial spatialmath.Pose) (*Instance, error) {
	inst, err := NewInstance(class, s.NextIndex(class), model, initial)
	if err != nil {
		return nil, err
	}
	s.instances = append(s.instances, inst)
	s.logger.Debugw("added instance", "instance", inst.Name(), "points", inst.Cloud.Size())
	return inst, nil
}

// InsertInstance adds an already built instance, keeping its index.
func (s *Scene) InsertInstance(inst *Instance) error {
	if _, err := s.Instance(inst.Name()); err == nil {
		return errors.Wrap(ErrDuplicateInstance, inst.Name())
	}
	s.instances = append(s.instances, inst)
	return nil
}

// RemoveInstance drops an instance from the scene.
func (s *Scene) RemoveInstance(name string) error {
	for i, inst := range s.instances {
		if inst.Name() == name {
			s.instances = append(s.instances[:i], s.instances[i+1:]...)
			s.logger.Debugw("removed instance", "instance", name)
			return nil
		}
	}
	return errors.Wrap(ErrUnknownInstance, name)
}

// ApplyDelta moves an instance by delta, composing it onto its transform.
func (s *Scene) ApplyDelta(name string, delta spatialmath.Pose) error {
	inst, err := s.Instance(name)
	if err != nil {
		return err
	}
	inst.apply(delta)
	return nil
}

// Translate moves an instance by (dx, dy, dz).
func (s *Scene) Translate(name string, dx, dy, dz float64) error {
	return s.ApplyDelta(name, spatialmath.NewPoseFromPoint(r3.Vector{X: dx, Y: dy, Z: dz}))
}

// RotateAboutCenter rotates an instance about its centroid by XYZ Euler angles in radians.
func (s *Scene) RotateAboutCenter(name string, rx, ry, rz float64) error {
	inst, err := s.Instance(name)
	if err != nil {
		return err
	}
	inst.apply(spatialmath.RotateAbout(spatialmath.RotationMatrixFromXYZ(rx, ry, rz), inst.Center()))
	return nil
}

// Refine aligns an instance onto the scene cloud and applies the correction. A refinement that
// does not converge leaves the instance untouched.
func (s *Scene) Refine(
	ctx context.Context,
	name string,
	refiner pointcloud.Refiner,
	threshold float64,
) (*pointcloud.RegistrationInfo, error) {
	inst, err := s.Instance(name)
	if err != nil {
		return nil, err
	}
	if s.Cloud == nil || s.Cloud.Size() == 0 {
		return nil, errors.New("scene has no cloud to refine against")
	}
	delta, info, err := refiner.Refine(ctx, inst.Cloud, s.Cloud, spatialmath.NewZeroPose(), threshold)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot refine %s", name)
	}
	if !info.Converged {
		s.logger.Warnw("refinement did not converge", "instance", name, "iterations", info.Iterations,
			"fitness", info.Fitness)
		return info, nil
	}
	inst.apply(delta)
	s.logger.Infow("refined instance", "instance", name, "iterations", info.Iterations,
		"fitness", info.Fitness, "rmse", info.InlierRMSE)
	return info, nil
}
