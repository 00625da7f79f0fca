package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"go.viam.com/annotator/annotation"
	"go.viam.com/annotator/config"
	"go.viam.com/annotator/logging"
	"go.viam.com/annotator/pointcloud"
	rutils "go.viam.com/annotator/utils"
	"go.viam.com/annotator/vision/segmentation"
)

const (
	logFileMaxSizeMB  = 64
	logFileMaxBackups = 3
)

// session is what every command shares: the logger, the loaded config and the dataset.
type session struct {
	logger  logging.Logger
	logFile *logging.FileAppender
	cfg     *config.Config
	dataset *annotation.Dataset
}

type sessionKey struct{}

func setupAction(c *cli.Context) error {
	logger := logging.NewBlankLogger("annotator")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	level, err := logging.LevelFromString(c.String(logLevelFlag))
	if err != nil {
		return err
	}
	if c.Bool(debugFlag) {
		level = logging.DEBUG
	}
	logger.SetLevel(level)
	s := &session{logger: logger}
	if fn := c.String(logFileFlag); fn != "" {
		appender, err := logging.NewFileAppender(fn, logFileMaxSizeMB, logFileMaxBackups)
		if err != nil {
			return errors.Wrap(err, "cannot open log file")
		}
		logger.AddAppender(appender)
		s.logFile = appender
	}
	c.Context = context.WithValue(c.Context, sessionKey{}, s)
	return nil
}

func teardownAction(c *cli.Context) error {
	s, ok := c.Context.Value(sessionKey{}).(*session)
	if !ok || s.logFile == nil {
		return nil
	}
	if err := multierr.Combine(s.logger.Sync(), s.logFile.Close()); err != nil {
		return errors.Wrap(err, "cannot close logs")
	}
	return nil
}

// newSession loads the configuration and opens the dataset named by the global flags.
func newSession(c *cli.Context) (*session, error) {
	s, ok := c.Context.Value(sessionKey{}).(*session)
	if !ok {
		return nil, errors.New("command ran without setup")
	}
	if s.dataset != nil {
		return s, nil
	}
	cfg := config.Default()
	if fn := c.String(configFlag); fn != "" {
		var err error
		if cfg, err = config.Read(fn, s.logger); err != nil {
			return nil, err
		}
	}
	ds, err := annotation.NewDataset(c.String(datasetFlag), cfg, s.logger.Sublogger("dataset"))
	if err != nil {
		return nil, err
	}
	s.cfg, s.dataset = cfg, ds
	return s, nil
}

// GenerateAction is the corresponding action for 'generate'.
func GenerateAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	if c.IsSet(workersFlag) {
		s.cfg.Workers = c.Int(workersFlag)
	}
	if c.IsSet(policyFlag) {
		if s.cfg.SelfMatchPolicy, err = segmentation.SelfMatchPolicyFromString(c.String(policyFlag)); err != nil {
			return err
		}
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	scenes := c.IntSlice(sceneFlag)
	if c.Bool(allScenesFlag) {
		if scenes, err = s.dataset.Scenes(); err != nil {
			return err
		}
	}
	if len(scenes) == 0 {
		return errors.Errorf("no scene given, use --%s or --%s", sceneFlag, allScenesFlag)
	}

	gen := annotation.NewGenerator(s.cfg, s.logger.Sublogger("generate"))
	gen.LabeledCloud = c.Bool(lasFlag)
	var failed error
	var failedScenes int
	for _, number := range scenes {
		report, err := generateScene(c, s, gen, number)
		if err != nil && report == nil {
			// a scene that cannot start does not stop the others
			warningf(c.App.ErrWriter, "scene %d: %v", number, err)
			failed = multierr.Append(failed, errors.Wrapf(err, "scene %d", number))
			failedScenes++
			continue
		}
		printf(c.App.Writer, "scene %05d: %d instances, %d views written, %d views failed (%s)",
			number, len(report.Instances), len(report.Views), len(report.ViewErrors), report.Duration.Round(time.Millisecond))
		if err != nil {
			failed = multierr.Append(failed, errors.Wrapf(err, "scene %d", number))
			failedScenes++
		}
	}
	if failed != nil {
		// a bare multierr would make the cli exit the process instead of returning
		return errors.Wrapf(failed, "%d of %d scenes failed", failedScenes, len(scenes))
	}
	return nil
}

func generateScene(c *cli.Context, s *session, gen *annotation.Generator, number int) (*annotation.Report, error) {
	scene, err := s.dataset.LoadScene(number)
	if err != nil {
		return nil, err
	}
	views, err := s.dataset.LoadViews(number)
	if err != nil {
		return nil, err
	}
	outDir := s.dataset.SceneDir(number)
	if out := c.String(outputFlag); out != "" {
		outDir = filepath.Join(out, filepath.Base(outDir))
		if err := os.MkdirAll(outDir, 0o750); err != nil {
			return nil, err
		}
	}
	ctx := c.Context
	if c.Bool(traceFlag) {
		ctx = logging.EnableDebugMode(ctx, fmt.Sprintf("scene-%05d", number))
	}
	return gen.Generate(ctx, scene, views, outDir)
}

// ListScenesAction is the corresponding action for 'scenes'.
func ListScenesAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	scenes, err := s.dataset.Scenes()
	if err != nil {
		return err
	}
	for _, number := range scenes {
		_, poseErr := os.Stat(filepath.Join(s.dataset.SceneDir(number), annotation.PosesFileName))
		state := "not annotated"
		if poseErr == nil {
			state = "annotated"
		}
		printf(c.App.Writer, "%05d\t%s", number, state)
	}
	return nil
}

// ListClassesAction is the corresponding action for 'classes'.
func ListClassesAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	table, err := s.cfg.ClassTable()
	if err != nil {
		return err
	}
	for _, name := range table.Names() {
		value, _ := table.Value(name)
		model := "no model"
		if fn, err := s.dataset.ObjectPath(name); err == nil {
			model = filepath.Base(fn)
		}
		printf(c.App.Writer, "%s\t%d\t%s", name, value, model)
	}
	return nil
}

// effectiveConfig is the resolved configuration as printed by 'config'.
type effectiveConfig struct {
	Source             string         `yaml:"source"`
	Classes            map[string]int `yaml:"classes"`
	ImageSize          []int          `yaml:"image_size,flow"`
	CameraMatrix       [][]float64    `yaml:"camera_matrix,flow"`
	SegmentationRadius float64        `yaml:"segmentation_radius"`
	SelfMatchPolicy    string         `yaml:"self_match_policy"`
	KernelSize         int            `yaml:"kernel_size"`
	VoxelSize          float64        `yaml:"voxel_size"`
	RefineThreshold    float64        `yaml:"refine_threshold"`
	RefineIterations   int            `yaml:"refine_iterations"`
	InitialHeight      float64        `yaml:"initial_height"`
	ViewLinks          map[string]int `yaml:"view_links"`
	Workers            int            `yaml:"workers"`
}

// ShowConfigAction is the corresponding action for 'config'.
func ShowConfigAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	cfg := s.cfg
	out := effectiveConfig{
		Source:             cfg.ConfigFilePath,
		Classes:            cfg.Classes,
		ImageSize:          []int{cfg.Intrinsics.Width, cfg.Intrinsics.Height},
		SegmentationRadius: cfg.SegmentationRadius,
		SelfMatchPolicy:    cfg.SelfMatchPolicy.String(),
		KernelSize:         cfg.KernelSize,
		VoxelSize:          cfg.VoxelSize,
		RefineThreshold:    cfg.RefineThreshold,
		RefineIterations:   cfg.RefineIterations,
		InitialHeight:      cfg.InitialHeight,
		ViewLinks: map[string]int{
			"camera":     cfg.ViewLinks.Camera,
			"scene":      cfg.ViewLinks.Scene,
			"projection": cfg.ViewLinks.Projection,
		},
		Workers: cfg.Workers,
	}
	if out.Source == "" {
		out.Source = "defaults"
	}
	k := cfg.Intrinsics.GetCameraMatrix()
	for i := 0; i < 3; i++ {
		out.CameraMatrix = append(out.CameraMatrix, mat.Row(nil, i, k))
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(data)
	return err
}

// ListInstancesAction is the corresponding action for 'instances list'.
func ListInstancesAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	scene, err := s.dataset.LoadScene(c.Int(sceneFlag))
	if err != nil {
		return err
	}
	instances := scene.Instances()
	sort.SliceStable(instances, func(i, j int) bool {
		return instances[i].Name() < instances[j].Name()
	})
	for _, inst := range instances {
		pt := inst.Transform.Point()
		rv := inst.Transform.Orientation().RotationMatrix().RotationVector()
		printf(c.App.Writer, "%s\tt=(%.4f, %.4f, %.4f)\trotvec=(%.4f, %.4f, %.4f)\tpoints=%d",
			inst.Name(), pt.X, pt.Y, pt.Z, rv.X, rv.Y, rv.Z, inst.Cloud.Size())
	}
	return nil
}

// editScene loads a scene, applies edit and saves the poses back.
func editScene(c *cli.Context, edit func(s *session, scene *annotation.Scene) error) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	scene, err := s.dataset.LoadScene(c.Int(sceneFlag))
	if err != nil {
		return err
	}
	if err := edit(s, scene); err != nil {
		return err
	}
	return s.dataset.SavePoses(scene)
}

// PlaceInstanceAction is the corresponding action for 'instances place'.
func PlaceInstanceAction(c *cli.Context) error {
	return editScene(c, func(s *session, scene *annotation.Scene) error {
		class := c.String(classFlag)
		table, err := s.cfg.ClassTable()
		if err != nil {
			return err
		}
		if _, ok := table.Value(class); !ok {
			return errors.Errorf("class %q has no label value in the configuration", class)
		}
		inst, err := s.dataset.PlaceInstance(scene, class)
		if err != nil {
			return err
		}
		printf(c.App.Writer, "placed %s", inst.Name())
		return nil
	})
}

// MoveInstanceAction is the corresponding action for 'instances move'.
func MoveInstanceAction(c *cli.Context) error {
	return editScene(c, func(s *session, scene *annotation.Scene) error {
		return scene.Translate(c.String(instanceFlag), c.Float64(dxFlag), c.Float64(dyFlag), c.Float64(dzFlag))
	})
}

// RotateInstanceAction is the corresponding action for 'instances rotate'.
func RotateInstanceAction(c *cli.Context) error {
	return editScene(c, func(s *session, scene *annotation.Scene) error {
		return scene.RotateAboutCenter(c.String(instanceFlag),
			rutils.DegToRad(c.Float64(rxFlag)), rutils.DegToRad(c.Float64(ryFlag)), rutils.DegToRad(c.Float64(rzFlag)))
	})
}

// RemoveInstanceAction is the corresponding action for 'instances remove'.
func RemoveInstanceAction(c *cli.Context) error {
	return editScene(c, func(s *session, scene *annotation.Scene) error {
		return scene.RemoveInstance(c.String(instanceFlag))
	})
}

// RefineInstanceAction is the corresponding action for 'instances refine'.
func RefineInstanceAction(c *cli.Context) error {
	return editScene(c, func(s *session, scene *annotation.Scene) error {
		threshold := s.cfg.RefineThreshold
		if c.IsSet(thresholdFlag) {
			threshold = c.Float64(thresholdFlag)
		}
		var refiner pointcloud.Refiner = annotation.NewRefiner(s.cfg)
		if c.IsSet(iterationsFlag) {
			icp := annotation.NewRefiner(s.cfg)
			icp.MaxIterations = c.Int(iterationsFlag)
			refiner = icp
		}
		name := c.String(instanceFlag)
		info, err := scene.Refine(c.Context, name, refiner, threshold)
		if err != nil {
			return err
		}
		if !info.Converged {
			warningf(c.App.ErrWriter, "%s: refinement did not converge, pose unchanged", name)
			return nil
		}
		printf(c.App.Writer, "refined %s in %d iterations, fitness %.3f, rmse %.6f",
			name, info.Iterations, info.Fitness, info.InlierRMSE)
		return nil
	})
}
