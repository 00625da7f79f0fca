package pointcloud

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	lzf "github.com/zhuyie/golzf"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed LZF compressed binary format for pcd.
	PCDCompressed PCDType = 2
)

const pcdCommentChar = "#"

type pcdField struct {
	name  string
	size  int
	typ   string
	count int
}

type pcdHeader struct {
	fields []pcdField
	width  int
	height int
	points int
	data   PCDType
}

// stride is the byte size of one point in the binary encodings.
func (h *pcdHeader) stride() int {
	total := 0
	for _, f := range h.fields {
		total += f.size * f.count
	}
	return total
}

func (h *pcdHeader) fieldIndex(name string) int {
	for i, f := range h.fields {
		if f.name == name {
			return i
		}
	}
	return -1
}

func parseInts(tokens []string, keyword string) ([]int, error) {
	out := make([]int, len(tokens))
	for i, token := range tokens {
		v, err := strconv.Atoi(token)
		if err != nil || v <= 0 {
			return nil, errors.Errorf("invalid %s value %q", keyword, token)
		}
		out[i] = v
	}
	return out, nil
}

func parsePCDHeaderLine(line string, header *pcdHeader) error {
	tokens := strings.Fields(line)
	keyword, values := tokens[0], tokens[1:]
	switch keyword {
	case "VERSION":
		if len(values) != 1 || (values[0] != ".7" && values[0] != "0.7") {
			return errors.Errorf("unsupported pcd version %q", strings.Join(values, " "))
		}
	case "FIELDS":
		header.fields = make([]pcdField, len(values))
		for i, name := range values {
			header.fields[i] = pcdField{name: name, size: 4, typ: "F", count: 1}
		}
	case "SIZE", "TYPE", "COUNT":
		if len(values) != len(header.fields) {
			return errors.Errorf("%s has %d entries for %d fields", keyword, len(values), len(header.fields))
		}
		if keyword == "TYPE" {
			for i, typ := range values {
				if typ != "F" && typ != "U" && typ != "I" {
					return errors.Errorf("invalid TYPE value %q", typ)
				}
				header.fields[i].typ = typ
			}
			return nil
		}
		ints, err := parseInts(values, keyword)
		if err != nil {
			return err
		}
		for i, v := range ints {
			if keyword == "SIZE" {
				if v != 1 && v != 2 && v != 4 && v != 8 {
					return errors.Errorf("invalid SIZE value %d", v)
				}
				header.fields[i].size = v
			} else {
				header.fields[i].count = v
			}
		}
	case "WIDTH", "HEIGHT", "POINTS":
		if len(values) != 1 {
			return errors.Errorf("%s expects one value", keyword)
		}
		v, err := strconv.Atoi(values[0])
		if err != nil || v < 0 {
			return errors.Errorf("invalid %s value %q", keyword, values[0])
		}
		switch keyword {
		case "WIDTH":
			header.width = v
		case "HEIGHT":
			header.height = v
		default:
			header.points = v
		}
	case "VIEWPOINT":
		if len(values) != 7 {
			return errors.Errorf("VIEWPOINT expects 7 values, got %d", len(values))
		}
	case "DATA":
		if len(values) != 1 {
			return errors.New("DATA expects one value")
		}
		switch values[0] {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %q", values[0])
		}
	default:
		return errors.Errorf("unknown pcd header line %q", line)
	}
	return nil
}

// ReadPCD reads a PCD stream. Points with non-finite coordinates are dropped.
func ReadPCD(in io.Reader) (PointCloud, error) {
	pc, _, err := readPCD(in)
	return pc, err
}

func readPCD(inRaw io.Reader) (PointCloud, int, error) {
	in := bufio.NewReader(inRaw)
	header := pcdHeader{height: 1}
	for sawData := false; !sawData; {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, 0, errors.Wrap(err, "reading pcd header")
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, &header); err != nil {
			return nil, 0, err
		}
		sawData = strings.HasPrefix(line, "DATA")
	}
	for _, name := range []string{"x", "y", "z"} {
		if header.fieldIndex(name) < 0 {
			return nil, 0, errors.Errorf("pcd is missing field %q", name)
		}
	}
	if header.points == 0 {
		header.points = header.width * header.height
	}
	if header.points != header.width*header.height {
		return nil, 0, errors.Errorf("POINTS %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
	}

	var rows [][]float64
	var err error
	switch header.data {
	case PCDAscii:
		rows, err = readPCDAscii(in, &header)
	case PCDBinary:
		rows, err = readPCDBinary(in, &header)
	case PCDCompressed:
		rows, err = readPCDCompressed(in, &header)
	}
	if err != nil {
		return nil, 0, err
	}
	return rowsToCloud(rows, &header)
}

// pcdRowLayout maps the leading element of every field to its position in a decoded row.
func pcdRowLayout(header *pcdHeader) []int {
	offsets := make([]int, len(header.fields))
	pos := 0
	for i, f := range header.fields {
		offsets[i] = pos
		pos += f.count
	}
	return offsets
}

func rowsToCloud(rows [][]float64, header *pcdHeader) (PointCloud, int, error) {
	offsets := pcdRowLayout(header)
	xIdx := offsets[header.fieldIndex("x")]
	yIdx := offsets[header.fieldIndex("y")]
	zIdx := offsets[header.fieldIndex("z")]
	colorIdx := -1
	for _, name := range []string{"rgb", "rgba"} {
		if fi := header.fieldIndex(name); fi >= 0 {
			colorIdx = offsets[fi]
		}
	}

	pc := NewWithPrealloc(len(rows))
	skipped := 0
	for _, row := range rows {
		pos := r3.Vector{X: row[xIdx], Y: row[yIdx], Z: row[zIdx]}
		if !isFinite(pos.X) || !isFinite(pos.Y) || !isFinite(pos.Z) {
			skipped++
			continue
		}
		var d Data
		if colorIdx >= 0 {
			d = NewColoredData(pcdIntToColor(uint32(row[colorIdx])))
		}
		if err := pc.Set(pos, d); err != nil {
			return nil, 0, err
		}
	}
	return pc, skipped, nil
}

func isColorField(f pcdField) bool {
	return f.name == "rgb" || f.name == "rgba"
}

func readPCDAscii(in *bufio.Reader, header *pcdHeader) ([][]float64, error) {
	width := 0
	for _, f := range header.fields {
		width += f.count
	}
	rows := make([][]float64, 0, header.points)
	for i := 0; i < header.points; i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && strings.TrimSpace(line) != "") {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != width {
			return nil, errors.Errorf("point %d has %d values, expected %d", i, len(tokens), width)
		}
		row := make([]float64, width)
		col := 0
		for _, f := range header.fields {
			for c := 0; c < f.count; c++ {
				token := tokens[col]
				v, err := strconv.ParseFloat(token, 64)
				if err != nil {
					return nil, errors.Errorf("invalid point %d value %q", i, token)
				}
				if isColorField(f) && f.typ == "F" {
					// packed rgb stored as the float with the same bits
					v = float64(math.Float32bits(float32(v)))
				}
				row[col] = v
				col++
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func decodePCDValue(buf []byte, f pcdField) float64 {
	if isColorField(f) && f.size == 4 {
		return float64(binary.LittleEndian.Uint32(buf))
	}
	switch f.typ {
	case "F":
		if f.size == 8 {
			return math.Float64frombits(binary.LittleEndian.Uint64(buf))
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
	case "U":
		switch f.size {
		case 1:
			return float64(buf[0])
		case 2:
			return float64(binary.LittleEndian.Uint16(buf))
		case 4:
			return float64(binary.LittleEndian.Uint32(buf))
		default:
			return float64(binary.LittleEndian.Uint64(buf))
		}
	default:
		switch f.size {
		case 1:
			return float64(int8(buf[0]))
		case 2:
			return float64(int16(binary.LittleEndian.Uint16(buf)))
		case 4:
			return float64(int32(binary.LittleEndian.Uint32(buf)))
		default:
			return float64(int64(binary.LittleEndian.Uint64(buf)))
		}
	}
}

func readPCDBinary(in *bufio.Reader, header *pcdHeader) ([][]float64, error) {
	stride := header.stride()
	buf := make([]byte, stride*header.points)
	if _, err := io.ReadFull(in, buf); err != nil {
		return nil, errors.Wrap(err, "reading binary pcd data")
	}
	rows := make([][]float64, header.points)
	for i := range rows {
		point := buf[i*stride : (i+1)*stride]
		row := make([]float64, 0, len(header.fields))
		off := 0
		for _, f := range header.fields {
			for c := 0; c < f.count; c++ {
				row = append(row, decodePCDValue(point[off:off+f.size], f))
				off += f.size
			}
		}
		rows[i] = row
	}
	return rows, nil
}

// readPCDCompressed decodes binary_compressed data: two little endian uint32 sizes followed by an
// LZF block whose payload stores each field for all points contiguously.
func readPCDCompressed(in *bufio.Reader, header *pcdHeader) ([][]float64, error) {
	var sizes [8]byte
	if _, err := io.ReadFull(in, sizes[:]); err != nil {
		return nil, errors.Wrap(err, "reading compressed pcd sizes")
	}
	compressedSize := binary.LittleEndian.Uint32(sizes[:4])
	uncompressedSize := binary.LittleEndian.Uint32(sizes[4:])
	if int(uncompressedSize) != header.stride()*header.points {
		return nil, errors.Errorf("compressed pcd holds %d bytes, expected %d", uncompressedSize, header.stride()*header.points)
	}
	compressed := make([]byte, compressedSize)
	if _, err := io.ReadFull(in, compressed); err != nil {
		return nil, errors.Wrap(err, "reading compressed pcd data")
	}
	payload := make([]byte, uncompressedSize)
	n, err := lzf.Decompress(compressed, payload)
	if err != nil {
		return nil, errors.Wrap(err, "decompressing pcd data")
	}
	if n != len(payload) {
		return nil, errors.Errorf("LZF data expanded to %d bytes, expected %d", n, len(payload))
	}

	rows := make([][]float64, header.points)
	for i := range rows {
		rows[i] = make([]float64, 0, len(header.fields))
	}
	base := 0
	for _, f := range header.fields {
		for i := range rows {
			for c := 0; c < f.count; c++ {
				off := base + (i*f.count+c)*f.size
				rows[i] = append(rows[i], decodePCDValue(payload[off:off+f.size], f))
			}
		}
		base += header.points * f.count * f.size
	}
	return rows, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
