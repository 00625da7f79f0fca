package annotation

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/annotator/config"
	"go.viam.com/annotator/rimage/transform"
	"go.viam.com/annotator/spatialmath"
)

// ErrMissingLink is returned when a view record has fewer links than its roles need.
var ErrMissingLink = errors.New("view record is missing a link")

// Link is one rigid transform of a view's chain.
type Link struct {
	Translation r3.Vector
	Rotation    quat.Number
}

type jsonVector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type jsonQuaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

type jsonLink struct {
	Translation        jsonVector     `json:"translation"`
	RotationQuaternion jsonQuaternion `json:"rotation_quaternion"`
}

// MarshalJSON writes the link as {"translation": {x, y, z}, "rotation_quaternion": {x, y, z, w}}.
func (l Link) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonLink{
		Translation:        jsonVector{X: l.Translation.X, Y: l.Translation.Y, Z: l.Translation.Z},
		RotationQuaternion: jsonQuaternion{X: l.Rotation.Imag, Y: l.Rotation.Jmag, Z: l.Rotation.Kmag, W: l.Rotation.Real},
	})
}

// UnmarshalJSON reads the format written by MarshalJSON.
func (l *Link) UnmarshalJSON(data []byte) error {
	var jl jsonLink
	if err := json.Unmarshal(data, &jl); err != nil {
		return err
	}
	l.Translation = r3.Vector{X: jl.Translation.X, Y: jl.Translation.Y, Z: jl.Translation.Z}
	l.Rotation = quat.Number{
		Real: jl.RotationQuaternion.W,
		Imag: jl.RotationQuaternion.X,
		Jmag: jl.RotationQuaternion.Y,
		Kmag: jl.RotationQuaternion.Z,
	}
	return nil
}

// ViewRecord is the transform chain of one camera view.
type ViewRecord struct {
	Index int
	Links []Link
}

// ViewTable holds every view of a scene ordered by index.
type ViewTable struct {
	Views []ViewRecord
}

// ParseViewTable reads a table keyed by decimal view index.
func ParseViewTable(data []byte) (*ViewTable, error) {
	var raw map[string][]Link
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "cannot parse view table")
	}
	table := &ViewTable{Views: make([]ViewRecord, 0, len(raw))}
	for key, links := range raw {
		index, err := strconv.Atoi(key)
		if err != nil || index < 0 {
			return nil, errors.Errorf("view key %q is not a view index", key)
		}
		table.Views = append(table.Views, ViewRecord{Index: index, Links: links})
	}
	sort.Slice(table.Views, func(i, j int) bool {
		return table.Views[i].Index < table.Views[j].Index
	})
	return table, nil
}

// ReadViewTable reads a scene_transformations.json file.
func ReadViewTable(fn string) (*ViewTable, error) {
	//nolint:gosec
	data, err := os.ReadFile(fn)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read view table")
	}
	return ParseViewTable(data)
}

// MarshalJSON writes the table keyed by decimal view index.
func (vt *ViewTable) MarshalJSON() ([]byte, error) {
	raw := make(map[string][]Link, len(vt.Views))
	for _, v := range vt.Views {
		raw[strconv.Itoa(v.Index)] = v.Links
	}
	return json.Marshal(raw)
}

// Len returns the number of views.
func (vt *ViewTable) Len() int {
	if vt == nil {
		return 0
	}
	return len(vt.Views)
}

// ViewGeometry is what the compositor needs to know about a view.
type ViewGeometry struct {
	Index int
	// Rotation and Translation map scene points into the camera frame.
	Rotation       *spatialmath.RotationMatrix
	Translation    r3.Vector
	RotationVector r3.Vector
	// CameraPosition and SceneCenter only order instances by depth.
	CameraPosition r3.Vector
	SceneCenter    r3.Vector
}

// ResolveView derives the projection and depth references of a view from its link chain.
func ResolveView(rec ViewRecord, links config.ViewLinks) (*ViewGeometry, error) {
	if len(rec.Links) < links.Required() {
		return nil, errors.Wrapf(ErrMissingLink, "view %d: have %d links, need %d", rec.Index, len(rec.Links), links.Required())
	}
	proj := rec.Links[links.Projection]
	q := proj.Rotation
	o, err := spatialmath.NewQuaternion(q.Imag, q.Jmag, q.Kmag, q.Real)
	if err != nil {
		return nil, errors.Wrapf(err, "view %d", rec.Index)
	}
	rot := o.RotationMatrix()
	return &ViewGeometry{
		Index:          rec.Index,
		Rotation:       rot,
		Translation:    proj.Translation,
		RotationVector: rot.RotationVector(),
		CameraPosition: rec.Links[links.Camera].Translation,
		SceneCenter:    rec.Links[links.Scene].Translation,
	}, nil
}

// Extrinsics returns the pinhole extrinsics of the view, rebuilt from the rotation vector.
func (g *ViewGeometry) Extrinsics() transform.Extrinsics {
	return transform.NewExtrinsicsFromRotationVector(g.RotationVector, g.Translation)
}

// Depth returns the distance from the camera to an instance centroid placed relative to the scene
// center.
func (g *ViewGeometry) Depth(center r3.Vector) float64 {
	return g.CameraPosition.Sub(center.Add(g.SceneCenter)).Norm()
}

// WriteViewTable atomically writes vt to fn.
func WriteViewTable(fn string, vt *ViewTable) error {
	data, err := json.MarshalIndent(vt, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(fn, data)
}
