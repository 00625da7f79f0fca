package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/annotator/annotation"
	"go.viam.com/annotator/pointcloud"
)

const testConfigYAML = `
classes:
  box: 40
  can: 80
intrinsics:
  width_px: 40
  height_px: 30
  fx: 10
  fy: 10
  ppx: 20
  ppy: 15
workers: 2
`

// writeTestDataset lays out a dataset holding a box model and scene 3, whose cloud is the box
// seen one unit in front of the camera of every view.
func writeTestDataset(t *testing.T) (root, cfgPath string) {
	t.Helper()
	root = t.TempDir()
	sceneDir := filepath.Join(root, annotation.ScenesDirName, "00003")
	test.That(t, os.MkdirAll(filepath.Join(root, annotation.ObjectsDirName), 0o750), test.ShouldBeNil)
	test.That(t, os.MkdirAll(sceneDir, 0o750), test.ShouldBeNil)

	var pts []r3.Vector
	for v := 10; v < 20; v++ {
		for u := 15; u < 25; u++ {
			pts = append(pts, r3.Vector{X: float64(u-20) / 10, Y: float64(v-15) / 10})
		}
	}
	model, err := pointcloud.NewFromPoints(pts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pointcloud.WriteToPCDFile(model, filepath.Join(root, annotation.ObjectsDirName, "box.pcd"), pointcloud.PCDAscii),
		test.ShouldBeNil)
	test.That(t, pointcloud.WriteToPCDFile(model, filepath.Join(sceneDir, annotation.SceneCloudFileName), pointcloud.PCDBinary),
		test.ShouldBeNil)

	identity := quat.Number{Real: 1}
	var views annotation.ViewTable
	for i := 0; i < 2; i++ {
		views.Views = append(views.Views, annotation.ViewRecord{Index: i, Links: []annotation.Link{
			{Translation: r3.Vector{Z: -1}, Rotation: identity},
			{Rotation: identity},
			{Translation: r3.Vector{Z: 1}, Rotation: identity},
		}})
	}
	test.That(t, annotation.WriteViewTable(filepath.Join(sceneDir, annotation.ViewTableFileName), &views), test.ShouldBeNil)

	cfgPath = filepath.Join(root, "annotator.yaml")
	test.That(t, os.WriteFile(cfgPath, []byte(testConfigYAML), 0o600), test.ShouldBeNil)
	return root, cfgPath
}

type testRunner struct {
	t       *testing.T
	root    string
	cfgPath string
}

func (r testRunner) run(args ...string) (string, string, error) {
	r.t.Helper()
	var out, errOut bytes.Buffer
	app := NewApp(&out, &errOut)
	full := append([]string{"annotator", "--dataset", r.root, "--config", r.cfgPath}, args...)
	err := app.Run(full)
	return out.String(), errOut.String(), err
}

func newTestRunner(t *testing.T) testRunner {
	t.Helper()
	root, cfgPath := writeTestDataset(t)
	return testRunner{t: t, root: root, cfgPath: cfgPath}
}

func TestListCommands(t *testing.T) {
	r := newTestRunner(t)

	out, _, err := r.run("scenes")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "00003\tnot annotated\n")

	out, _, err = r.run("classes")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "box\t40\tbox.pcd\ncan\t80\tno model\n")

	out, _, err = r.run("instances", "list", "--scene", "3")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldBeEmpty)

	out, _, err = r.run("config")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "image_size: [40, 30]")
	test.That(t, out, test.ShouldContainSubstring, "camera_matrix: [[10, 0, 20], [0, 10, 15], [0, 0, 1]]")
	test.That(t, out, test.ShouldContainSubstring, "self_match_policy: keep_all")
	test.That(t, out, test.ShouldContainSubstring, "source: "+r.cfgPath)

	_, _, err = r.run("instances", "list", "--scene", "4")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEditCommands(t *testing.T) {
	r := newTestRunner(t)

	out, _, err := r.run("instances", "place", "--scene", "3", "--class", "box")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "placed box_0\n")
	out, _, err = r.run("instances", "place", "-s", "3", "--class", "box")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "placed box_1\n")

	_, _, err = r.run("instances", "place", "-s", "3", "--class", "can")
	test.That(t, err, test.ShouldNotBeNil)
	_, _, err = r.run("instances", "place", "-s", "3", "--class", "bowl")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bowl")

	_, _, err = r.run("instances", "move", "-s", "3", "-i", "box_0", "--dx=0.5", "--dz=-0.2")
	test.That(t, err, test.ShouldBeNil)
	_, _, err = r.run("instances", "rotate", "-s", "3", "-i", "box_1", "--rz", "90")
	test.That(t, err, test.ShouldBeNil)
	_, _, err = r.run("instances", "move", "-s", "3", "-i", "box_7", "--dx", "1")
	test.That(t, err, test.ShouldNotBeNil)

	out, _, err = r.run("instances", "list", "-s", "3")
	test.That(t, err, test.ShouldBeNil)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	test.That(t, lines, test.ShouldHaveLength, 2)
	test.That(t, lines[0], test.ShouldStartWith, "box_0\tt=(0.5000, ")
	test.That(t, lines[0], test.ShouldContainSubstring, "points=100")
	test.That(t, lines[1], test.ShouldStartWith, "box_1\t")
	test.That(t, lines[1], test.ShouldContainSubstring, "1.5708)")

	_, _, err = r.run("instances", "remove", "-s", "3", "-i", "box_0")
	test.That(t, err, test.ShouldBeNil)
	out, _, err = r.run("instances", "list", "-s", "3")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldStartWith, "box_1\t")
	test.That(t, strings.Count(out, "\n"), test.ShouldEqual, 1)

	// the freed index is not reused while a higher one exists
	out, _, err = r.run("instances", "place", "-s", "3", "--class", "box")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "placed box_2\n")
}

func TestRefineCommand(t *testing.T) {
	r := newTestRunner(t)
	_, _, err := r.run("instances", "place", "-s", "3", "--class", "box")
	test.That(t, err, test.ShouldBeNil)

	// far beyond the correspondence distance nothing matches and the pose is kept
	_, errOut, err := r.run("instances", "refine", "-s", "3", "-i", "box_0", "--threshold", "0.01")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, errOut, test.ShouldContainSubstring, "did not converge")

	_, _, err = r.run("instances", "refine", "-s", "3", "-i", "box_9")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGenerateCommand(t *testing.T) {
	r := newTestRunner(t)

	_, _, err := r.run("generate")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no scene given")

	_, _, err = r.run("instances", "place", "-s", "3", "--class", "box")
	test.That(t, err, test.ShouldBeNil)
	_, _, err = r.run("instances", "move", "-s", "3", "-i", "box_0", "--dz=-0.2")
	test.That(t, err, test.ShouldBeNil)

	out, _, err := r.run("generate", "--scene", "3")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldStartWith, "scene 00003: 1 instances, 2 views written, 0 views failed")
	sceneDir := filepath.Join(r.root, annotation.ScenesDirName, "00003")
	for _, name := range []string{
		annotation.PosesFileName, annotation.SegmentationFileName,
		annotation.LabelImageName(0), annotation.LabelImageName(1),
	} {
		_, err := os.Stat(filepath.Join(sceneDir, name))
		test.That(t, err, test.ShouldBeNil)
	}
	segs, err := annotation.ReadSegmentation(filepath.Join(sceneDir, annotation.SegmentationFileName))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, segs, test.ShouldHaveLength, 1)
	test.That(t, segs[0].PointIndices, test.ShouldHaveLength, 100)

	out, _, err = r.run("scenes")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "00003\tannotated\n")

	// tracing shows compositing details even when only warnings are logged
	_, errOut, err := r.run("--log-level", "warn", "generate", "-s", "3", "--trace")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, errOut, test.ShouldContainSubstring, "composited instance")
	test.That(t, errOut, test.ShouldContainSubstring, `"trace":"scene-00003"`)
	test.That(t, errOut, test.ShouldNotContainSubstring, "generated annotations")
	_, errOut, err = r.run("--log-level", "warn", "generate", "-s", "3")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, errOut, test.ShouldNotContainSubstring, "composited instance")

	_, _, err = r.run("--log-level", "loud", "scenes")
	test.That(t, err, test.ShouldNotBeNil)

	outDir := t.TempDir()
	_, _, err = r.run("generate", "--all", "--output", outDir, "--workers", "1", "--self-match-policy", "drop_nearest",
		"--labeled-cloud")
	test.That(t, err, test.ShouldBeNil)
	for _, name := range []string{annotation.LabelImageName(1), annotation.LabeledCloudFileName} {
		_, err = os.Stat(filepath.Join(outDir, "00003", name))
		test.That(t, err, test.ShouldBeNil)
	}

	_, _, err = r.run("generate", "--scene", "3", "--self-match-policy", "closest")
	test.That(t, err, test.ShouldNotBeNil)

	_, errOut, err = r.run("generate", "--scene", "3", "--scene", "8")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "scenes failed")
	test.That(t, errOut, test.ShouldContainSubstring, "scene 8")
}

func TestLogFile(t *testing.T) {
	r := newTestRunner(t)
	logPath := filepath.Join(t.TempDir(), "annotator.log")
	_, _, err := r.run("--debug", "--log-file", logPath, "scenes")
	test.That(t, err == nil || strings.Contains(err.Error(), "cannot close logs"), test.ShouldBeTrue)
	info, err := os.Stat(logPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
}
