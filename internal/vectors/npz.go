package vectors

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// NPY/NPZ codec for the embedding matrix. The on-disk format is the real
// numpy one: an uncompressed zip holding a single version 1.0 .npy entry
// with little-endian float32 data in C order, so external tooling can open
// the file with numpy.load.

const npyEntryName = "embeddings.npy"

var npyMagic = []byte("\x93NUMPY")

// encodeNPZ serializes a rows x dim float32 matrix as an npz archive.
func encodeNPZ(data []float32, rows, dim int) ([]byte, error) {
	if rows*dim != len(data) {
		return nil, fmt.Errorf("matrix shape (%d, %d) does not cover %d values", rows, dim, len(data))
	}

	npy, err := encodeNPY(data, rows, dim)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   npyEntryName,
		Method: zip.Store,
	})
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(npy); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeNPZ reads the embedding matrix back out of an npz archive.
func decodeNPZ(payload []byte) (data []float32, rows, dim int, err error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open npz: %w", err)
	}

	var entry *zip.File
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, ".npy") {
			entry = f
			break
		}
	}
	if entry == nil {
		return nil, 0, 0, fmt.Errorf("npz archive holds no npy entry")
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, 0, 0, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, 0, 0, err
	}
	return decodeNPY(raw)
}

// encodeNPY writes a version 1.0 npy record. The header is padded so the
// data section starts on a 64-byte boundary, as numpy does.
func encodeNPY(data []float32, rows, dim int) ([]byte, error) {
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", rows, dim)
	// magic(6) + version(2) + headerLen(2) + header + pad + '\n'
	prefix := 6 + 2 + 2
	total := prefix + len(header) + 1
	pad := (64 - total%64) % 64
	header = header + strings.Repeat(" ", pad) + "\n"
	if len(header) > math.MaxUint16 {
		return nil, fmt.Errorf("npy header too large: %d", len(header))
	}

	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.WriteByte(1)
	buf.WriteByte(0)
	var hlen [2]byte
	binary.LittleEndian.PutUint16(hlen[:], uint16(len(header)))
	buf.Write(hlen[:])
	buf.WriteString(header)

	if err := binary.Write(&buf, binary.LittleEndian, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var (
	npyDescrRe = regexp.MustCompile(`'descr':\s*'([^']+)'`)
	npyOrderRe = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	npyShapeRe = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

// decodeNPY parses version 1.0 and 2.0 npy records with float32 or float64
// little-endian data.
func decodeNPY(raw []byte) (data []float32, rows, dim int, err error) {
	if len(raw) < 10 || !bytes.Equal(raw[:6], npyMagic) {
		return nil, 0, 0, fmt.Errorf("not an npy record")
	}
	major := raw[6]

	var headerLen, headerStart int
	switch major {
	case 1:
		headerLen = int(binary.LittleEndian.Uint16(raw[8:10]))
		headerStart = 10
	case 2:
		if len(raw) < 12 {
			return nil, 0, 0, fmt.Errorf("truncated npy header")
		}
		headerLen = int(binary.LittleEndian.Uint32(raw[8:12]))
		headerStart = 12
	default:
		return nil, 0, 0, fmt.Errorf("unsupported npy version %d", major)
	}
	if len(raw) < headerStart+headerLen {
		return nil, 0, 0, fmt.Errorf("truncated npy header")
	}
	header := string(raw[headerStart : headerStart+headerLen])

	descr := submatch(npyDescrRe, header)
	if descr != "<f4" && descr != "<f8" {
		return nil, 0, 0, fmt.Errorf("unsupported npy dtype %q", descr)
	}
	if submatch(npyOrderRe, header) == "True" {
		return nil, 0, 0, fmt.Errorf("fortran-order npy is not supported")
	}

	shapeStr := submatch(npyShapeRe, header)
	dims := parseShape(shapeStr)
	switch len(dims) {
	case 2:
		rows, dim = dims[0], dims[1]
	case 1:
		rows, dim = dims[0], 1
	default:
		return nil, 0, 0, fmt.Errorf("unsupported npy shape (%s)", shapeStr)
	}

	body := raw[headerStart+headerLen:]
	count := rows * dim
	switch descr {
	case "<f4":
		if len(body) < count*4 {
			return nil, 0, 0, fmt.Errorf("npy data truncated: %d bytes for %d float32", len(body), count)
		}
		data = make([]float32, count)
		for i := range data {
			bits := binary.LittleEndian.Uint32(body[i*4:])
			data[i] = math.Float32frombits(bits)
		}
	case "<f8":
		if len(body) < count*8 {
			return nil, 0, 0, fmt.Errorf("npy data truncated: %d bytes for %d float64", len(body), count)
		}
		data = make([]float32, count)
		for i := range data {
			bits := binary.LittleEndian.Uint64(body[i*8:])
			data[i] = float32(math.Float64frombits(bits))
		}
	}
	return data, rows, dim, nil
}

func submatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func parseShape(s string) []int {
	var dims []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil
		}
		dims = append(dims, n)
	}
	return dims
}
