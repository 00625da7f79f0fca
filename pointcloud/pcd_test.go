package pointcloud

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/annotator/logging"
)

func makeColoredCloud(t *testing.T) PointCloud {
	t.Helper()
	pc := New()
	test.That(t, pc.Set(NewVector(0.0012, -0.5, 1.25), NewColoredData(color.NRGBA{10, 20, 30, 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(1.0/3, 2, -7), NewColoredData(color.NRGBA{255, 128, 0, 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(0.0012, -0.5, 1.25), NewColoredData(color.NRGBA{1, 2, 3, 255})), test.ShouldBeNil)
	return pc
}

func TestPCDRoundTrip(t *testing.T) {
	for _, pcdType := range []PCDType{PCDAscii, PCDBinary, PCDCompressed} {
		pc := makeColoredCloud(t)
		var buf bytes.Buffer
		test.That(t, ToPCD(pc, &buf, pcdType), test.ShouldBeNil)

		read, err := ReadPCD(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, read.Size(), test.ShouldEqual, pc.Size())
		for i := 0; i < pc.Size(); i++ {
			expectedPos, expectedData := pc.PointAt(i)
			pos, d := read.PointAt(i)
			test.That(t, pos, test.ShouldResemble, expectedPos)
			test.That(t, d.Color(), test.ShouldResemble, expectedData.Color())
		}
	}

	var buf bytes.Buffer
	test.That(t, ToPCD(New(), &buf, PCDType(7)), test.ShouldNotBeNil)

	// a larger uncolored cloud exercises back references
	pc := New()
	for i := 0; i < 500; i++ {
		test.That(t, pc.Set(NewVector(float64(i%10), float64(i/10), 0.5), NewBasicData()), test.ShouldBeNil)
	}
	buf.Reset()
	test.That(t, ToPCD(pc, &buf, PCDCompressed), test.ShouldBeNil)
	test.That(t, buf.Len(), test.ShouldBeLessThan, 500*24)
	read, err := ReadPCD(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, Points(read), test.ShouldResemble, Points(pc))
}

func TestReadPCDOpen3DStyle(t *testing.T) {
	// float-packed rgb in ascii, a comment line and a 0.7 version string
	rgb := math.Float32frombits(0x00FF8000)
	data := "# .PCD v0.7 - Point Cloud Data file format\n" +
		"VERSION 0.7\nFIELDS x y z rgb\nSIZE 4 4 4 4\nTYPE F F F F\nCOUNT 1 1 1 1\n" +
		"WIDTH 2\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 2\nDATA ascii\n" +
		"0.5 0.25 1 " + formatFloat(float64(rgb)) + "\n" +
		"nan nan nan 0\n"
	pc, skipped, err := readPCD(strings.NewReader(data))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, skipped, test.ShouldEqual, 1)
	test.That(t, pc.Size(), test.ShouldEqual, 1)
	pos, d := pc.PointAt(0)
	test.That(t, pos, test.ShouldResemble, r3.Vector{X: 0.5, Y: 0.25, Z: 1})
	r, g, b := d.RGB255()
	test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{255, 128, 0})
}

func TestReadPCDBinaryFloat32(t *testing.T) {
	var payload bytes.Buffer
	for _, v := range []float32{1.5, -2, 0.25, 3, 4, 5} {
		//nolint:errcheck
		binary.Write(&payload, binary.LittleEndian, v)
	}
	data := "VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n" +
		"WIDTH 2\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 2\nDATA binary\n" + payload.String()
	pc, err := ReadPCD(strings.NewReader(data))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, Points(pc), test.ShouldResemble, []r3.Vector{{X: 1.5, Y: -2, Z: 0.25}, {X: 3, Y: 4, Z: 5}})

	truncated := "VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n" +
		"WIDTH 2\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 2\nDATA binary\n" + payload.String()[:10]
	_, err = ReadPCD(strings.NewReader(truncated))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadPCDCompressed(t *testing.T) {
	// field-major payload: all x, then all y, then all z
	var payload bytes.Buffer
	for _, v := range []float32{1, 2, 10, 20, 100, 200} {
		//nolint:errcheck
		binary.Write(&payload, binary.LittleEndian, v)
	}
	raw := payload.Bytes()
	// a single literal run encodes up to 32 bytes
	compressed := append([]byte{byte(len(raw) - 1)}, raw...)

	var body bytes.Buffer
	//nolint:errcheck
	binary.Write(&body, binary.LittleEndian, uint32(len(compressed)))
	//nolint:errcheck
	binary.Write(&body, binary.LittleEndian, uint32(len(raw)))
	body.Write(compressed)

	data := "VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n" +
		"WIDTH 2\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 2\nDATA binary_compressed\n" + body.String()
	pc, err := ReadPCD(strings.NewReader(data))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, Points(pc), test.ShouldResemble, []r3.Vector{{X: 1, Y: 10, Z: 100}, {X: 2, Y: 20, Z: 200}})
}

func TestReadPCDCompressedCorrupt(t *testing.T) {
	header := "VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n" +
		"WIDTH 1\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 1\nDATA binary_compressed\n"
	body := func(raw uint32, compressed ...byte) string {
		sizes := make([]byte, 8)
		binary.LittleEndian.PutUint32(sizes, uint32(len(compressed)))
		binary.LittleEndian.PutUint32(sizes[4:], raw)
		return string(sizes) + string(compressed)
	}

	// a back reference before any output
	_, err := ReadPCD(strings.NewReader(header + body(12, 2<<5, 9)))
	test.That(t, err, test.ShouldNotBeNil)
	// expands short of the declared size
	_, err = ReadPCD(strings.NewReader(header + body(12, 3, 1, 2, 3, 4)))
	test.That(t, err, test.ShouldNotBeNil)
	// declared size disagrees with the header
	_, err = ReadPCD(strings.NewReader(header + body(8, 7, 1, 2, 3, 4, 5, 6, 7, 8)))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadPCDHeaderErrors(t *testing.T) {
	for _, header := range []string{
		"VERSION .6\n",
		"VERSION .7\nFIELDS x y\nSIZE 4 4\nTYPE F F\nCOUNT 1 1\nWIDTH 1\nHEIGHT 1\nPOINTS 1\nDATA ascii\n1 2\n",
		"VERSION .7\nFIELDS x y z\nSIZE 4 4\n",
		"VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F Q\n",
		"VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH 2\nHEIGHT 1\nPOINTS 3\nDATA ascii\n",
		"VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH 1\nHEIGHT 1\nPOINTS 1\nDATA ascii\n1 2\n",
		"BOGUS 1\n",
	} {
		_, err := ReadPCD(strings.NewReader(header))
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestNewFromFile(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()

	pcdPath := filepath.Join(dir, "cloud.pcd")
	test.That(t, WriteToPCDFile(makeColoredCloud(t), pcdPath, PCDBinary), test.ShouldBeNil)
	pc, err := NewFromFile(pcdPath, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 3)

	lasPath := filepath.Join(dir, "cloud.las")
	lasCloud, err := NewFromPoints([]r3.Vector{{X: 1, Y: 2, Z: 3}, {X: -4, Y: 5, Z: 6}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, WriteToLASFile(lasCloud, lasPath), test.ShouldBeNil)
	pc, err = NewFromFile(lasPath, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 2)
	p, _ := pc.PointAt(1)
	test.That(t, p.X, test.ShouldAlmostEqual, -4, 0.01)
	test.That(t, p.Z, test.ShouldAlmostEqual, 6, 0.01)

	labeledPath := filepath.Join(dir, "labeled.las")
	labeled := New()
	test.That(t, labeled.Set(NewVector(0, 0, 1), NewLabeledData(40)), test.ShouldBeNil)
	test.That(t, labeled.Set(NewVector(0, 1, 1), nil), test.ShouldBeNil)
	test.That(t, labeled.Set(NewVector(1, 1, 1), WithLabel(NewColoredData(color.NRGBA{9, 8, 7, 255}), 255)), test.ShouldBeNil)
	test.That(t, WriteToLASFile(labeled, labeledPath), test.ShouldBeNil)
	pc, err = NewFromFile(labeledPath, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.MetaData().HasLabel, test.ShouldBeTrue)
	var got []uint8
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		got = append(got, d.Label())
		return true
	})
	test.That(t, got, test.ShouldResemble, []uint8{40, 0, 255})
	_, d := pc.PointAt(2)
	test.That(t, d.HasColor(), test.ShouldBeTrue)

	_, err = NewFromFile(filepath.Join(dir, "cloud.xyz"), logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewFromFile(filepath.Join(dir, "missing.pcd"), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPLYNumber(t *testing.T) {
	for _, v := range []interface{}{float32(1.5), 1.5} {
		n, err := plyNumber(v)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n, test.ShouldEqual, 1.5)
	}
	n, err := plyNumber(uint8(200))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 200)
	_, err = plyNumber("x")
	test.That(t, err, test.ShouldNotBeNil)
}
