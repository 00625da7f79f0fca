package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/chenzhekl/goply"
	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	lzf "github.com/zhuyie/golzf"
	"go.viam.com/utils"

	"go.viam.com/annotator/logging"
	rutils "go.viam.com/annotator/utils"
)

// NewFromFile returns a pointcloud read in from the given file. The format is chosen by extension.
func NewFromFile(fn string, logger logging.Logger) (PointCloud, error) {
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".pcd":
		//nolint:gosec
		f, err := os.Open(fn)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		pc, skipped, err := readPCD(f)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %q", fn)
		}
		if skipped > 0 {
			logger.Warnw("dropped non-finite points", "file", fn, "count", skipped)
		}
		return pc, nil
	case ".las":
		return NewFromLASFile(fn, logger)
	case ".ply":
		return NewFromPLYFile(fn)
	default:
		return nil, rutils.NewUnsupportedFormatError("point cloud", filepath.Ext(fn))
	}
}

// pointLabelDataTag names the VLR holding one label byte per point.
const pointLabelDataTag = "annotator|label"

// NewFromLASFile returns a point cloud from reading a LAS file. Colors are read from point
// format 2 and instance labels from the label VLR if present.
func NewFromLASFile(fn string, logger logging.Logger) (PointCloud, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	var labels []byte
	for _, d := range lf.VlrData {
		if d.Description == pointLabelDataTag {
			labels = d.BinaryData
			break
		}
	}
	if labels != nil && len(labels) < lf.Header.NumberPoints {
		logger.Warnw("ignoring truncated point labels", "file", fn, "labels", len(labels), "points", lf.Header.NumberPoints)
		labels = nil
	}

	pc := NewWithPrealloc(lf.Header.NumberPoints)
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, err
		}
		data := p.PointData()

		var dd Data
		if lf.Header.PointFormatID == 2 && p.RgbData() != nil {
			r := uint8(p.RgbData().Red / 256)
			g := uint8(p.RgbData().Green / 256)
			b := uint8(p.RgbData().Blue / 256)
			dd = NewColoredData(color.NRGBA{r, g, b, 255})
		}
		if labels != nil {
			dd = WithLabel(dd, labels[i])
		}

		if err := pc.Set(r3.Vector{X: data.X, Y: data.Y, Z: data.Z}, dd); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// WriteToLASFile writes the point cloud out to a LAS file. Labels, when any point has one, go
// into a VLR with one byte per point, zero for unlabeled points.
func WriteToLASFile(cloud PointCloud, fn string) (err error) {
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return
	}
	defer func() {
		err = multierr.Combine(err, lf.Close())
	}()

	meta := cloud.MetaData()

	pointFormatID := 0
	if meta.HasColor {
		pointFormatID = 2
	}
	if err = lf.AddHeader(lidario.LasHeader{
		PointFormatID: byte(pointFormatID),
	}); err != nil {
		return
	}

	var labels []byte
	if meta.HasLabel {
		labels = make([]byte, 0, cloud.Size())
	}
	var lastErr error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		var lp lidario.LasPointer
		pr0 := &lidario.PointRecord0{
			X: pos.X,
			Y: pos.Y,
			Z: pos.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			PointSourceID: 1,
		}
		lp = pr0

		if meta.HasColor {
			red, green, blue := 255, 255, 255
			if d != nil && d.HasColor() {
				r, g, b := d.RGB255()
				red, green, blue = int(r), int(g), int(b)
			}
			lp = &lidario.PointRecord2{
				PointRecord0: pr0,
				RGB: &lidario.RgbData{
					Red:   uint16(red * 256),
					Green: uint16(green * 256),
					Blue:  uint16(blue * 256),
				},
			}
		}
		if meta.HasLabel {
			var label uint8
			if d != nil && d.HasLabel() {
				label = d.Label()
			}
			labels = append(labels, label)
		}
		if lerr := lf.AddLasPoint(lp); lerr != nil {
			lastErr = lerr
			return false
		}
		return true
	})
	if lastErr != nil {
		err = lastErr
		return
	}
	if meta.HasLabel {
		err = lf.AddVLR(lidario.VLR{
			Description:             pointLabelDataTag,
			BinaryData:              labels,
			RecordLengthAfterHeader: len(labels),
		})
	}
	return
}

// NewFromPLYFile returns a point cloud holding the vertices of a PLY file, with colors when the
// vertices carry red, green and blue properties.
func NewFromPLYFile(fn string) (pc PointCloud, err error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	defer func() {
		// goply panics on malformed input
		if r := recover(); r != nil {
			pc, err = nil, errors.Errorf("invalid PLY file %q: %v", fn, r)
		}
	}()

	ply := goply.New(bufio.NewReader(f))
	vertices := ply.Elements("vertex")
	cloud := NewWithPrealloc(len(vertices))
	for i, vertex := range vertices {
		var coords [3]float64
		for j, name := range []string{"x", "y", "z"} {
			coords[j], err = plyNumber(vertex[name])
			if err != nil {
				return nil, errors.Wrapf(err, "vertex %d property %s", i, name)
			}
		}
		var dd Data
		if _, hasRed := vertex["red"]; hasRed {
			var rgb [3]float64
			for j, name := range []string{"red", "green", "blue"} {
				rgb[j], err = plyNumber(vertex[name])
				if err != nil {
					return nil, errors.Wrapf(err, "vertex %d property %s", i, name)
				}
			}
			dd = NewColoredData(color.NRGBA{uint8(rgb[0]), uint8(rgb[1]), uint8(rgb[2]), 255})
		}
		if err := cloud.Set(r3.Vector{X: coords[0], Y: coords[1], Z: coords[2]}, dd); err != nil {
			return nil, err
		}
	}
	return cloud, nil
}

func plyNumber(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case uint8:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case int32:
		return float64(n), nil
	default:
		return 0, rutils.NewUnexpectedTypeError(float64(0), v)
	}
}

// WriteToPCDFile writes the cloud to fn in the given PCD encoding.
func WriteToPCDFile(cloud PointCloud, fn string, outputType PCDType) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := ToPCD(cloud, w, outputType); err != nil {
		return err
	}
	return w.Flush()
}

// colorToPCDInt packs a color into the PCL rgb layout. Uncolored points are white.
func colorToPCDInt(pt Data) uint32 {
	if pt == nil || !pt.HasColor() {
		return 0xFFFFFF
	}
	r, g, b := pt.RGB255()
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

func pcdIntToColor(c uint32) color.NRGBA {
	return color.NRGBA{uint8(0xFF & (c >> 16)), uint8(0xFF & (c >> 8)), uint8(0xFF & c), 255}
}

// ToPCD writes the cloud in PCD v0.7 format with double precision coordinates.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	hasColor := cloud.MetaData().HasColor
	header := "VERSION .7\n"
	if hasColor {
		header += "FIELDS x y z rgb\nSIZE 8 8 8 4\nTYPE F F F U\nCOUNT 1 1 1 1\n"
	} else {
		header += "FIELDS x y z\nSIZE 8 8 8\nTYPE F F F\nCOUNT 1 1 1\n"
	}
	header += fmt.Sprintf("WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\n", cloud.Size(), cloud.Size())
	switch outputType {
	case PCDAscii:
		header += "DATA ascii\n"
	case PCDBinary:
		header += "DATA binary\n"
	case PCDCompressed:
		header += "DATA binary_compressed\n"
	default:
		return errors.Errorf("unknown PCD type %d", outputType)
	}
	if _, err := io.WriteString(out, header); err != nil {
		return err
	}
	if outputType == PCDCompressed {
		return writePCDCompressed(cloud, out, hasColor)
	}

	var err error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		switch outputType {
		case PCDBinary:
			buf := make([]byte, 28)
			binary.LittleEndian.PutUint64(buf, math.Float64bits(pos.X))
			binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(pos.Y))
			binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(pos.Z))
			if hasColor {
				binary.LittleEndian.PutUint32(buf[24:], colorToPCDInt(d))
			} else {
				buf = buf[:24]
			}
			_, err = out.Write(buf)
		default:
			line := fmt.Sprintf("%s %s %s", formatFloat(pos.X), formatFloat(pos.Y), formatFloat(pos.Z))
			if hasColor {
				line += fmt.Sprintf(" %d", colorToPCDInt(d))
			}
			_, err = io.WriteString(out, line+"\n")
		}
		return err == nil
	})
	return err
}

// writePCDCompressed writes the binary_compressed body: every field for all points contiguously,
// LZF compressed and preceded by the compressed and raw sizes.
func writePCDCompressed(cloud PointCloud, out io.Writer, hasColor bool) error {
	n := cloud.Size()
	stride := 24
	if hasColor {
		stride += 4
	}
	payload := make([]byte, n*stride)
	i := 0
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		binary.LittleEndian.PutUint64(payload[i*8:], math.Float64bits(pos.X))
		binary.LittleEndian.PutUint64(payload[(n+i)*8:], math.Float64bits(pos.Y))
		binary.LittleEndian.PutUint64(payload[(2*n+i)*8:], math.Float64bits(pos.Z))
		if hasColor {
			binary.LittleEndian.PutUint32(payload[24*n+i*4:], colorToPCDInt(d))
		}
		i++
		return true
	})

	// incompressible input grows by one control byte per 32 literals
	compressed := make([]byte, len(payload)+len(payload)/32+16)
	size, err := lzf.Compress(payload, compressed)
	if err != nil {
		return errors.Wrap(err, "compressing pcd data")
	}
	sizes := make([]byte, 8)
	binary.LittleEndian.PutUint32(sizes, uint32(size))
	binary.LittleEndian.PutUint32(sizes[4:], uint32(len(payload)))
	if _, err := out.Write(sizes); err != nil {
		return err
	}
	_, err = out.Write(compressed[:size])
	return err
}
