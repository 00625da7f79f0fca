package annotation

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/annotator/config"
	"go.viam.com/annotator/logging"
	"go.viam.com/annotator/pointcloud"
	"go.viam.com/annotator/spatialmath"
	"go.viam.com/annotator/utils"
)

// Dataset file names.
const (
	ObjectsDirName     = "objects"
	ScenesDirName      = "scenes"
	SceneCloudFileName = "assembled_cloud.pcd"
	ViewTableFileName  = "scene_transformations.json"
)

// objectExtensions are tried in order when looking up an object model.
var objectExtensions = []string{".pcd", ".ply", ".las"}

// Dataset is a directory of object models and scanned scenes:
//
//	<root>/objects/<class>.pcd
//	<root>/scenes/<%05d>/assembled_cloud.pcd
//	<root>/scenes/<%05d>/scene_transformations.json
type Dataset struct {
	Root   string
	Config *config.Config
	Logger logging.Logger

	mu      sync.Mutex
	objects map[string]pointcloud.PointCloud
}

// NewDataset opens the dataset rooted at root.
func NewDataset(root string, cfg *config.Config, logger logging.Logger) (*Dataset, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open dataset")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("dataset %q is not a directory", root)
	}
	return &Dataset{Root: root, Config: cfg, Logger: logger, objects: map[string]pointcloud.PointCloud{}}, nil
}

// SceneDir returns the directory of a scene.
func (ds *Dataset) SceneDir(number int) string {
	return filepath.Join(ds.Root, ScenesDirName, fmt.Sprintf("%05d", number))
}

// ObjectPath returns the model file of a class.
func (ds *Dataset) ObjectPath(class string) (string, error) {
	for _, ext := range objectExtensions {
		fn, err := utils.SafeJoinDir(filepath.Join(ds.Root, ObjectsDirName), class+ext)
		if err != nil {
			return "", errors.Wrap(err, "invalid class name")
		}
		if _, err := os.Stat(fn); err == nil {
			return fn, nil
		}
	}
	return "", errors.Errorf("no model for class %q in %s", class, filepath.Join(ds.Root, ObjectsDirName))
}

// LoadObject reads the canonical model of a class. Models are read once.
func (ds *Dataset) LoadObject(class string) (pointcloud.PointCloud, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if pc, ok := ds.objects[class]; ok {
		return pc, nil
	}
	fn, err := ds.ObjectPath(class)
	if err != nil {
		return nil, err
	}
	pc, err := pointcloud.NewFromFile(fn, ds.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read model of %q", class)
	}
	ds.objects[class] = pc
	return pc, nil
}

// Classes lists the classes that have a model, sorted.
func (ds *Dataset) Classes() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(ds.Root, ObjectsDirName))
	if err != nil {
		return nil, err
	}
	var classes []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || !lo.Contains(objectExtensions, ext) {
			continue
		}
		classes = append(classes, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	classes = lo.Uniq(classes)
	sort.Strings(classes)
	return classes, nil
}

// Scenes lists the scene numbers present, ascending.
func (ds *Dataset) Scenes() ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(ds.Root, ScenesDirName))
	if err != nil {
		return nil, err
	}
	var scenes []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err != nil || n < 0 {
			continue
		}
		scenes = append(scenes, n)
	}
	sort.Ints(scenes)
	return scenes, nil
}

// LoadScene reads the scene cloud, keeps it as the segmentation source and a downsampled copy for
// editing, and places the instances recorded in 6d.json, if there is one.
func (ds *Dataset) LoadScene(number int) (*Scene, error) {
	dir := ds.SceneDir(number)
	cloudPath := filepath.Join(dir, SceneCloudFileName)
	raw, err := pointcloud.NewFromFile(cloudPath, ds.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read cloud of scene %d", number)
	}
	cloud, err := pointcloud.VoxelDownSample(raw, ds.Config.VoxelSize)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot downsample cloud of scene %d", number)
	}
	ds.Logger.Debugw("loaded scene cloud", "scene", number, "points", raw.Size(), "downsampled", cloud.Size())

	scene := NewScene(number, cloud, ds.Logger)
	scene.Source = raw
	scene.CloudPath = cloudPath

	records, err := ReadPoses(filepath.Join(dir, PosesFileName))
	if errors.Is(err, os.ErrNotExist) {
		return scene, nil
	}
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		inst, err := ds.instanceFromRecord(rec)
		if err != nil {
			return nil, errors.Wrapf(err, "scene %d", number)
		}
		if err := scene.InsertInstance(inst); err != nil {
			return nil, errors.Wrapf(err, "scene %d", number)
		}
	}
	ds.Logger.Debugw("reloaded instances", "scene", number, "instances", len(records))
	return scene, nil
}

func (ds *Dataset) instanceFromRecord(rec PoseRecord) (*Instance, error) {
	index, err := rec.Index()
	if err != nil {
		return nil, err
	}
	pose, err := rec.Pose()
	if err != nil {
		return nil, err
	}
	model, err := ds.LoadObject(rec.Type)
	if err != nil {
		return nil, err
	}
	return NewInstance(rec.Type, index, model, pose)
}

// LoadViews reads the view table of a scene.
func (ds *Dataset) LoadViews(number int) (*ViewTable, error) {
	return ReadViewTable(filepath.Join(ds.SceneDir(number), ViewTableFileName))
}

// PlaceInstance adds a new instance of class, lifted to the configured initial height.
func (ds *Dataset) PlaceInstance(scene *Scene, class string) (*Instance, error) {
	model, err := ds.LoadObject(class)
	if err != nil {
		return nil, err
	}
	initial := spatialmath.NewPoseFromPoint(r3.Vector{Z: ds.Config.InitialHeight})
	return scene.AddInstance(class, model, initial)
}

// SavePoses rewrites 6d.json of a scene from its current instances.
func (ds *Dataset) SavePoses(scene *Scene) error {
	return NewSerializer(ds.SceneDir(scene.Number), ds.Logger).WritePoses(scene.Instances())
}

// NewRefiner returns the ICP refiner configured by cfg.
func NewRefiner(cfg *config.Config) *pointcloud.ICPRefiner {
	refiner := pointcloud.NewICPRefiner()
	refiner.MaxIterations = cfg.RefineIterations
	return refiner
}
