// Package config defines the structures that configure an annotation run.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/annotator/rimage/transform"
	"go.viam.com/annotator/vision/segmentation"
)

// Reference deployment values.
const (
	DefaultImageWidth         = 1944
	DefaultImageHeight        = 1200
	DefaultSegmentationRadius = 0.005
	DefaultKernelSize         = 2
	DefaultVoxelSize          = 0.001
	DefaultRefineThreshold    = 0.004
	DefaultRefineIterations   = 50
	DefaultInitialHeight      = 0.2
)

// Config describes how a dataset is annotated.
type Config struct {
	ConfigFilePath string `json:"-"`

	// Classes maps object class names to their label image value.
	Classes map[string]int `json:"classes"`
	// Intrinsics of the camera the label images are rendered for. CameraMatrix may be given
	// instead of the focal lengths and principal point.
	Intrinsics   *transform.PinholeCameraIntrinsics `json:"intrinsics"`
	CameraMatrix []float64                          `json:"camera_matrix,omitempty"`
	// IntrinsicsFile names a JSON file holding the intrinsics, relative to the config file. It
	// replaces Intrinsics.
	IntrinsicsFile string `json:"intrinsics_file,omitempty"`

	SegmentationRadius float64                      `json:"segmentation_radius"`
	SelfMatchPolicy    segmentation.SelfMatchPolicy `json:"self_match_policy"`
	KernelSize         int                          `json:"kernel_size"`
	VoxelSize          float64                      `json:"voxel_size"`
	RefineThreshold    float64                      `json:"refine_threshold"`
	RefineIterations   int                          `json:"refine_iterations"`
	// InitialHeight is the z offset given to newly placed instances.
	InitialHeight float64   `json:"initial_height"`
	ViewLinks     ViewLinks `json:"view_links"`
	// Workers bounds how many views render at once. Zero picks the number of CPUs.
	Workers int `json:"workers"`
}

// ViewLinks names which link of a view record plays which role.
type ViewLinks struct {
	Camera     int `json:"camera"`
	Scene      int `json:"scene"`
	Projection int `json:"projection"`
}

// Validate ensures all parts of the view link roles are valid.
func (vl ViewLinks) Validate(path string) error {
	for name, idx := range map[string]int{"camera": vl.Camera, "scene": vl.Scene, "projection": vl.Projection} {
		if idx < 0 {
			return utils.NewConfigValidationError(path, errors.Errorf("%s link index must be non-negative, got %d", name, idx))
		}
	}
	return nil
}

// Required returns the number of links a view record needs.
func (vl ViewLinks) Required() int {
	return max(vl.Camera, vl.Scene, vl.Projection) + 1
}

// DefaultClasses is the class table of the reference dataset.
func DefaultClasses() map[string]int {
	return map[string]int{
		"choco_box":         20,
		"corn_can":          40,
		"HDMI_cable":        60,
		"krauter_sauce":     80,
		"pantene_shampoo":   100,
		"white_candle":      120,
		"cereal_box":        140,
		"scheuermilch":      160,
		"scissors":          180,
		"tomato_can":        200,
		"waschesteife":      220,
		"red_bowl":          240,
		"barilla_spaghetti": 255,
	}
}

// DefaultCameraMatrix is the intrinsic matrix of the reference camera, row major.
func DefaultCameraMatrix() []float64 {
	return []float64{
		1778.81005859375, 0, 967.9315795898438,
		0, 1778.870361328125, 572.4088134765625,
		0, 0, 1,
	}
}

// Default returns the configuration of the reference deployment.
func Default() *Config {
	k := DefaultCameraMatrix()
	return &Config{
		Classes: DefaultClasses(),
		Intrinsics: &transform.PinholeCameraIntrinsics{
			Width:  DefaultImageWidth,
			Height: DefaultImageHeight,
			Fx:     k[0],
			Fy:     k[4],
			Ppx:    k[2],
			Ppy:    k[5],
		},
		SegmentationRadius: DefaultSegmentationRadius,
		SelfMatchPolicy:    segmentation.KeepAllMatches,
		KernelSize:         DefaultKernelSize,
		VoxelSize:          DefaultVoxelSize,
		RefineThreshold:    DefaultRefineThreshold,
		RefineIterations:   DefaultRefineIterations,
		InitialHeight:      DefaultInitialHeight,
		ViewLinks:          ViewLinks{Camera: 0, Scene: 1, Projection: 2},
	}
}

// Ensure resolves derived fields and validates the config.
func (c *Config) Ensure() error {
	if c.IntrinsicsFile != "" {
		fn := c.IntrinsicsFile
		if !filepath.IsAbs(fn) && c.ConfigFilePath != "" {
			fn = filepath.Join(filepath.Dir(c.ConfigFilePath), fn)
		}
		intrinsics, err := transform.NewPinholeCameraIntrinsicsFromJSONFile(fn)
		if err != nil {
			return utils.NewConfigValidationError("intrinsics_file", err)
		}
		c.Intrinsics = intrinsics
		c.IntrinsicsFile = ""
	}
	if len(c.CameraMatrix) > 0 {
		if len(c.CameraMatrix) != 9 {
			return utils.NewConfigValidationError("camera_matrix",
				errors.Errorf("expected 9 values, got %d", len(c.CameraMatrix)))
		}
		if c.Intrinsics == nil {
			return utils.NewConfigValidationFieldRequiredError("intrinsics", "width_px")
		}
		k := mat.NewDense(3, 3, append([]float64(nil), c.CameraMatrix...))
		intrinsics, err := transform.NewPinholeCameraIntrinsicsFromMatrix(k, c.Intrinsics.Width, c.Intrinsics.Height)
		if err != nil {
			return utils.NewConfigValidationError("camera_matrix", err)
		}
		c.Intrinsics = intrinsics
		c.CameraMatrix = nil
	}
	return c.Validate()
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate() error {
	if _, err := NewClassTable(c.Classes); err != nil {
		return utils.NewConfigValidationError("classes", err)
	}
	if c.Intrinsics == nil {
		return utils.NewConfigValidationFieldRequiredError("", "intrinsics")
	}
	if err := c.Intrinsics.CheckValid(); err != nil {
		return utils.NewConfigValidationError("intrinsics", err)
	}
	positive := []struct {
		name  string
		value float64
	}{
		{"segmentation_radius", c.SegmentationRadius},
		{"kernel_size", float64(c.KernelSize)},
		{"voxel_size", c.VoxelSize},
		{"refine_threshold", c.RefineThreshold},
		{"refine_iterations", float64(c.RefineIterations)},
	}
	for _, p := range positive {
		if !(p.value > 0) {
			return utils.NewConfigValidationError(p.name, fmt.Errorf("must be positive, got %v", p.value))
		}
	}
	if c.Workers < 0 {
		return utils.NewConfigValidationError("workers", fmt.Errorf("must be non-negative, got %d", c.Workers))
	}
	return c.ViewLinks.Validate("view_links")
}

// ClassTable returns the validated class table.
func (c *Config) ClassTable() (*ClassTable, error) {
	return NewClassTable(c.Classes)
}
