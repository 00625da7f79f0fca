package annotation

import (
	"context"
	"image"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/annotator/config"
	"go.viam.com/annotator/logging"
	"go.viam.com/annotator/pointcloud"
	rutils "go.viam.com/annotator/utils"
	"go.viam.com/annotator/vision/segmentation"
)

// ViewResult is the outcome of rendering one view.
type ViewResult struct {
	Index    int
	Coverage []InstanceCoverage
	// Label is kept only when the generator is asked to keep images.
	Label *image.Gray
}

// Report summarizes a generation run.
type Report struct {
	Scene        int
	Instances    []string
	Segmentation [][]int
	Views        []ViewResult
	// ViewErrors holds the failure of every view that could not be rendered, by view index.
	ViewErrors map[int]error
	Duration   time.Duration
}

// Generator produces every artifact of a scene.
type Generator struct {
	Config *config.Config
	Logger logging.Logger
	// KeepLabels retains the rendered label images in the report.
	KeepLabels bool
	// LabeledCloud also writes labeled_cloud.las.
	LabeledCloud bool
}

// NewGenerator returns a generator for cfg.
func NewGenerator(cfg *config.Config, logger logging.Logger) *Generator {
	return &Generator{Config: cfg, Logger: logger}
}

func (g *Generator) workers() int {
	if g.Config.Workers > 0 {
		return g.Config.Workers
	}
	return runtime.NumCPU()
}

// Generate segments the scene cloud, renders every view and writes 6d.json,
// cloud_annotation.json and one label image per view into outDir. A view that fails is recorded
// in the report and the remaining views still run; the combined view errors are returned after
// everything else is written.
func (g *Generator) Generate(ctx context.Context, scene *Scene, views *ViewTable, outDir string) (*Report, error) {
	start := time.Now()
	if scene == nil || scene.SegmentationCloud() == nil || scene.SegmentationCloud().Size() == 0 {
		return nil, errors.New("scene has no cloud")
	}
	if views == nil {
		return nil, errors.New("scene has no view table")
	}
	compositor, err := NewCompositor(g.Config, g.Logger)
	if err != nil {
		return nil, err
	}
	segmenter, err := segmentation.NewInstanceSegmenter(g.Config.SegmentationRadius, g.Config.SelfMatchPolicy, g.Logger)
	if err != nil {
		return nil, err
	}

	instances := scene.Instances()
	report := &Report{Scene: scene.Number, ViewErrors: map[int]error{}}
	points := make([][]r3.Vector, len(instances))
	for i, inst := range instances {
		report.Instances = append(report.Instances, inst.Name())
		points[i] = inst.Points()
	}

	cloud := scene.SegmentationCloud()
	index := pointcloud.ToKDTree(cloud)
	g.Logger.Infow("segmenting instances", "scene", scene.Number, "instances", len(instances),
		"scene_points", index.Size())
	report.Segmentation, err = segmenter.SegmentAll(ctx, index, points)
	if err != nil {
		return nil, err
	}

	out := NewSerializer(outDir, g.Logger)
	if err := out.WritePoses(instances); err != nil {
		return nil, err
	}
	if err := out.WriteSegmentation(instances, report.Segmentation); err != nil {
		return nil, err
	}
	if g.LabeledCloud {
		if err := out.WriteLabeledCloud(cloud, compositor.Classes, instances, report.Segmentation); err != nil {
			return nil, err
		}
	}

	var mu sync.Mutex
	results := make([]ViewResult, len(views.Views))
	rendered := make([]bool, len(views.Views))
	var group errgroup.Group
	group.SetLimit(g.workers())
	for i, rec := range views.Views {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := g.renderView(ctx, compositor, out, rec, instances)
			if err != nil {
				// a label image from an earlier run no longer matches the poses
				rutils.RemoveFileNoError(filepath.Join(outDir, LabelImageName(rec.Index)))
				g.Logger.Warnw("view failed", "scene", scene.Number, "view", rec.Index, "error", err.Error())
				mu.Lock()
				report.ViewErrors[rec.Index] = err
				mu.Unlock()
				return nil
			}
			results[i], rendered[i] = *res, true
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	for i, ok := range rendered {
		if ok {
			report.Views = append(report.Views, results[i])
		}
	}
	report.Duration = time.Since(start)

	var viewErr error
	for _, rec := range views.Views {
		if err, ok := report.ViewErrors[rec.Index]; ok {
			viewErr = multierr.Append(viewErr, errors.Wrapf(err, "view %d", rec.Index))
		}
	}
	g.Logger.Infow("generated annotations", "scene", scene.Number, "views", len(report.Views),
		"failed_views", len(report.ViewErrors), "duration", report.Duration)
	return report, viewErr
}

func (g *Generator) renderView(
	ctx context.Context,
	compositor *Compositor,
	out *Serializer,
	rec ViewRecord,
	instances []*Instance,
) (*ViewResult, error) {
	geom, err := ResolveView(rec, g.Config.ViewLinks)
	if err != nil {
		return nil, err
	}
	label, coverage, err := compositor.Render(ctx, geom, instances)
	if err != nil {
		return nil, err
	}
	if err := out.WriteLabelImage(rec.Index, label); err != nil {
		return nil, err
	}
	res := &ViewResult{Index: rec.Index, Coverage: coverage}
	if g.KeepLabels {
		res.Label = label
	}
	return res, nil
}
