package annotation

import (
	"context"
	"image"
	"sort"

	"github.com/pkg/errors"

	"go.viam.com/annotator/config"
	"go.viam.com/annotator/logging"
	"go.viam.com/annotator/rimage"
	"go.viam.com/annotator/rimage/transform"
)

// InstanceCoverage reports what one instance contributed to a label image.
type InstanceCoverage struct {
	Name  string
	Class string
	Value uint8
	// Depth is the distance used for painter's ordering.
	Depth float64
	// Pixels is how many label pixels the instance painted before later instances covered any.
	Pixels int
	// Dropped counts points that fell outside the image or behind the camera.
	Dropped int
}

// Compositor renders label images: every instance is projected, its silhouette repaired and
// filled, and instances are painted farthest first so nearer ones occlude them.
type Compositor struct {
	Intrinsics *transform.PinholeCameraIntrinsics
	Classes    *config.ClassTable
	Masks      rimage.MaskCompositor
	Logger     logging.Logger
}

// NewCompositor builds a compositor from a validated config.
func NewCompositor(cfg *config.Config, logger logging.Logger) (*Compositor, error) {
	classes, err := cfg.ClassTable()
	if err != nil {
		return nil, err
	}
	if cfg.Intrinsics == nil {
		return nil, transform.NewNoIntrinsicsError("compositor")
	}
	masks, err := rimage.NewMaskCompositor(cfg.KernelSize)
	if err != nil {
		return nil, err
	}
	return &Compositor{Intrinsics: cfg.Intrinsics, Classes: classes, Masks: masks, Logger: logger}, nil
}

type depthEntry struct {
	inst  *Instance
	depth float64
}

// DepthOrder returns the instances sorted farthest first. Equal depths keep their input order.
func DepthOrder(geom *ViewGeometry, instances []*Instance) ([]*Instance, []float64) {
	entries := make([]depthEntry, len(instances))
	for i, inst := range instances {
		entries[i] = depthEntry{inst: inst, depth: geom.Depth(inst.Center())}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].depth > entries[j].depth
	})
	ordered := make([]*Instance, len(entries))
	depths := make([]float64, len(entries))
	for i, e := range entries {
		ordered[i], depths[i] = e.inst, e.depth
	}
	return ordered, depths
}

// Render paints every instance into a new label image for the view. Instances that leave no
// region in the view are reported with zero pixels.
func (c *Compositor) Render(
	ctx context.Context,
	geom *ViewGeometry,
	instances []*Instance,
) (*image.Gray, []InstanceCoverage, error) {
	values := make(map[string]uint8, len(instances))
	for _, inst := range instances {
		value, ok := c.Classes.Value(inst.Class)
		if !ok {
			return nil, nil, errors.Errorf("instance %s has class %q with no label value", inst.Name(), inst.Class)
		}
		values[inst.Name()] = value
	}

	label := rimage.NewMask(c.Intrinsics.Width, c.Intrinsics.Height)
	ext := geom.Extrinsics()
	ordered, depths := DepthOrder(geom, instances)
	coverage := make([]InstanceCoverage, 0, len(ordered))
	for i, inst := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		scratch, dropped := c.Intrinsics.RasterizePoints(inst.Points(), ext)
		value := values[inst.Name()]
		painted, err := c.Masks.Composite(label, scratch, value)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "cannot composite %s", inst.Name())
		}
		if painted == 0 {
			c.Logger.Debugw("instance not visible", "view", geom.Index, "instance", inst.Name(), "dropped", dropped)
		} else {
			c.Logger.CDebugw(ctx, "composited instance", "view", geom.Index, "instance", inst.Name(),
				"depth", depths[i], "pixels", painted, "dropped", dropped)
		}
		coverage = append(coverage, InstanceCoverage{
			Name:    inst.Name(),
			Class:   inst.Class,
			Value:   value,
			Depth:   depths[i],
			Pixels:  painted,
			Dropped: dropped,
		})
	}
	return label, coverage, nil
}
