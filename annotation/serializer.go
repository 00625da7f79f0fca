package annotation

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/annotator/config"
	"go.viam.com/annotator/logging"
	"go.viam.com/annotator/pointcloud"
	"go.viam.com/annotator/rimage"
	"go.viam.com/annotator/spatialmath"
	rutils "go.viam.com/annotator/utils"
)

// Artifact file names.
const (
	PosesFileName        = "6d.json"
	SegmentationFileName = "cloud_annotation.json"
	LabeledCloudFileName = "labeled_cloud.las"
	labelImagePattern    = "seg_mask_%d.png"
)

// LabelImageName returns the file name of the label image of a view.
func LabelImageName(view int) string {
	return fmt.Sprintf(labelImagePattern, view)
}

// PoseRecord is one entry of 6d.json.
type PoseRecord struct {
	Type        string        `json:"type"`
	Instance    string        `json:"instance"`
	Translation [3]float64    `json:"translation"`
	Orientation [3][3]float64 `json:"orientation"`
}

// NewPoseRecord captures the current transform of an instance.
func NewPoseRecord(inst *Instance) PoseRecord {
	rec := PoseRecord{Type: inst.Class, Instance: strconv.Itoa(inst.Index)}
	pt := inst.Transform.Point()
	rec.Translation = [3]float64{pt.X, pt.Y, pt.Z}
	rec.Orientation = inst.Transform.Orientation().RotationMatrix().Rows()
	return rec
}

// Name returns the instance name the record belongs to.
func (r PoseRecord) Name() string {
	return r.Type + "_" + r.Instance
}

// Index parses the instance index.
func (r PoseRecord) Index() (int, error) {
	index, err := strconv.Atoi(r.Instance)
	if err != nil || index < 0 {
		return 0, errors.Errorf("pose record %q has an invalid instance index", r.Name())
	}
	return index, nil
}

// Pose rebuilds the homogeneous transform of the record.
func (r PoseRecord) Pose() (spatialmath.Pose, error) {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, r.Orientation[i][j])
		}
		m.Set(i, 3, r.Translation[i])
	}
	m.Set(3, 3, 1)
	pose, err := spatialmath.NewPoseFromMatrix(m)
	if err != nil {
		return nil, errors.Wrapf(err, "pose record %s", r.Name())
	}
	return pose, nil
}

// SegmentationRecord is one entry of cloud_annotation.json.
type SegmentationRecord struct {
	Type         string   `json:"type"`
	Instance     string   `json:"instance"`
	PointIndices []string `json:"point_indices"`
}

// NewSegmentationRecord lists the scene cloud indices that belong to an instance.
func NewSegmentationRecord(inst *Instance, indices []int) SegmentationRecord {
	rec := SegmentationRecord{
		Type:         inst.Class,
		Instance:     strconv.Itoa(inst.Index),
		PointIndices: make([]string, len(indices)),
	}
	for i, idx := range indices {
		rec.PointIndices[i] = strconv.Itoa(idx)
	}
	return rec
}

// Indices parses the point indices back into integers.
func (rec SegmentationRecord) Indices() ([]int, error) {
	out := make([]int, len(rec.PointIndices))
	for i, v := range rec.PointIndices {
		idx, err := strconv.Atoi(v)
		if err != nil || idx < 0 {
			return nil, errors.Errorf("invalid point index %q for %s_%s", v, rec.Type, rec.Instance)
		}
		out[i] = idx
	}
	return out, nil
}

// ArtifactFileMode is the permission every written artifact ends up with.
const ArtifactFileMode = rimage.LabelImageFileMode

// Serializer writes the annotation artifacts of one scene into Dir. Every write replaces the
// previous artifact atomically.
type Serializer struct {
	Dir    string
	Logger logging.Logger
}

// NewSerializer returns a serializer writing into dir.
func NewSerializer(dir string, logger logging.Logger) *Serializer {
	return &Serializer{Dir: dir, Logger: logger}
}

// WritePoses writes 6d.json in instance order.
func (s *Serializer) WritePoses(instances []*Instance) error {
	records := make([]PoseRecord, len(instances))
	for i, inst := range instances {
		records[i] = NewPoseRecord(inst)
	}
	return s.writeJSON(PosesFileName, records)
}

// WriteSegmentation writes cloud_annotation.json. indices[i] belongs to instances[i].
func (s *Serializer) WriteSegmentation(instances []*Instance, indices [][]int) error {
	if len(instances) != len(indices) {
		return errors.Errorf("have %d instances but %d segmentation results", len(instances), len(indices))
	}
	records := make([]SegmentationRecord, len(instances))
	for i, inst := range instances {
		records[i] = NewSegmentationRecord(inst, indices[i])
	}
	return s.writeJSON(SegmentationFileName, records)
}

// WriteLabelImage writes seg_mask_<view>.png.
func (s *Serializer) WriteLabelImage(view int, img *image.Gray) error {
	fn := filepath.Join(s.Dir, LabelImageName(view))
	if err := rimage.WriteLabelImage(fn, img); err != nil {
		return errors.Wrapf(err, "cannot write label image of view %d", view)
	}
	s.Logger.Debugw("wrote label image", "view", view, "file", fn)
	return nil
}

// WriteLabeledCloud writes labeled_cloud.las: the scene cloud with every point labeled by the
// class value of the instance that claimed it, zero when none did. A point claimed by several
// instances keeps the first claim in instance order.
func (s *Serializer) WriteLabeledCloud(
	cloud pointcloud.PointCloud,
	classes *config.ClassTable,
	instances []*Instance,
	indices [][]int,
) error {
	if len(instances) != len(indices) {
		return errors.Errorf("have %d instances but %d segmentation results", len(instances), len(indices))
	}
	owner := map[int]uint8{}
	contested := 0
	for i, inst := range instances {
		value, ok := classes.Value(inst.Class)
		if !ok {
			return errors.Errorf("class %q of %s has no label value", inst.Class, inst.Name())
		}
		for _, idx := range indices[i] {
			if _, claimed := owner[idx]; claimed {
				contested++
				continue
			}
			owner[idx] = value
		}
	}

	labeled := pointcloud.NewWithPrealloc(cloud.Size())
	var err error
	i := 0
	cloud.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		err = labeled.Set(p, pointcloud.WithLabel(d, owner[i]))
		i++
		return err == nil
	})
	if err != nil {
		return err
	}

	fn := filepath.Join(s.Dir, LabeledCloudFileName)
	tmp, err := os.CreateTemp(s.Dir, "."+LabeledCloudFileName+".*")
	if err != nil {
		return err
	}
	utils.UncheckedError(tmp.Close())
	if err := pointcloud.WriteToLASFile(labeled, tmp.Name()); err != nil {
		rutils.RemoveFileNoError(tmp.Name())
		return errors.Wrapf(err, "cannot write %s", LabeledCloudFileName)
	}
	if err := os.Chmod(tmp.Name(), ArtifactFileMode); err != nil {
		rutils.RemoveFileNoError(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), fn); err != nil {
		rutils.RemoveFileNoError(tmp.Name())
		return err
	}
	s.Logger.Debugw("wrote labeled cloud", "file", fn, "labeled_points", len(owner), "contested_points", contested)
	return nil
}

func (s *Serializer) writeJSON(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "cannot encode %s", name)
	}
	fn := filepath.Join(s.Dir, name)
	if err := writeFileAtomic(fn, data); err != nil {
		return errors.Wrapf(err, "cannot write %s", name)
	}
	s.Logger.Debugw("wrote artifact", "file", fn, "bytes", len(data))
	return nil
}

// ReadPoses reads a 6d.json file.
func ReadPoses(fn string) ([]PoseRecord, error) {
	//nolint:gosec
	data, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}
	var records []PoseRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrapf(err, "cannot parse %s", fn)
	}
	return records, nil
}

// ReadSegmentation reads a cloud_annotation.json file.
func ReadSegmentation(fn string) ([]SegmentationRecord, error) {
	//nolint:gosec
	data, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}
	var records []SegmentationRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrapf(err, "cannot parse %s", fn)
	}
	return records, nil
}

// writeFileAtomic replaces fn with data through a temporary file in the same directory.
func writeFileAtomic(fn string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(fn), "."+filepath.Base(fn)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			rutils.RemoveFileNoError(tmp.Name())
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		utils.UncheckedError(tmp.Close())
		return err
	}
	if err := tmp.Chmod(ArtifactFileMode); err != nil {
		utils.UncheckedError(tmp.Close())
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), fn)
}
