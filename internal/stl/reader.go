// Package stl provides STL mesh loading, measurement, and validation for
// the batch handlers. It supports both binary and ASCII STL files.
package stl

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Triangle is one facet of a mesh.
type Triangle struct {
	Normal   [3]float32
	Vertices [3][3]float32
}

// Mesh is a loaded STL model.
type Mesh struct {
	Name      string
	Triangles []Triangle
	Binary    bool
}

// TriangleCount returns the number of facets.
func (m *Mesh) TriangleCount() int {
	return len(m.Triangles)
}

const binaryHeaderSize = 84 // 80-byte comment header + uint32 facet count
const binaryFacetSize = 50  // 12 float32 + uint16 attribute

// Load reads an STL file, detecting binary versus ASCII format.
func Load(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open STL file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat STL file: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("STL file is empty: %s", path)
	}

	head := make([]byte, binaryHeaderSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("read STL header: %w", err)
	}
	head = head[:n]

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek STL file: %w", err)
	}

	if isBinary(head, info.Size()) {
		return parseBinary(f, info.Size())
	}
	return parseASCII(f)
}

// isBinary distinguishes the two STL encodings. Files starting with
// "solid" can still be binary, so the facet count is checked against the
// actual file size before trusting the ASCII marker.
func isBinary(head []byte, size int64) bool {
	if size < binaryHeaderSize {
		return false
	}
	if len(head) >= binaryHeaderSize {
		count := binary.LittleEndian.Uint32(head[80:84])
		if size == binaryHeaderSize+int64(count)*binaryFacetSize {
			return true
		}
	}
	return !bytes.HasPrefix(bytes.TrimLeft(head, " \t\r\n"), []byte("solid"))
}

func parseBinary(r io.Reader, size int64) (*Mesh, error) {
	br := bufio.NewReaderSize(r, 1<<16)

	header := make([]byte, 80)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("read binary STL header: %w", err)
	}

	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read binary STL facet count: %w", err)
	}

	expected := binaryHeaderSize + int64(count)*binaryFacetSize
	if size != expected {
		return nil, fmt.Errorf("binary STL size mismatch: %d facets imply %d bytes, file has %d", count, expected, size)
	}

	mesh := &Mesh{
		Name:      strings.TrimRight(string(bytes.Trim(header, "\x00")), " "),
		Triangles: make([]Triangle, 0, count),
		Binary:    true,
	}

	buf := make([]byte, binaryFacetSize)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("read facet %d: %w", i, err)
		}
		var t Triangle
		for j := 0; j < 3; j++ {
			t.Normal[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*4:]))
		}
		for v := 0; v < 3; v++ {
			for j := 0; j < 3; j++ {
				off := 12 + v*12 + j*4
				t.Vertices[v][j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
			}
		}
		mesh.Triangles = append(mesh.Triangles, t)
	}

	return mesh, nil
}

func parseASCII(r io.Reader) (*Mesh, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<16), 1<<20)

	mesh := &Mesh{}
	var current Triangle
	vertexIdx := 0
	inFacet := false
	line := 0

	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "solid":
			if len(fields) > 1 {
				mesh.Name = strings.Join(fields[1:], " ")
			}
		case "facet":
			if len(fields) != 5 || fields[1] != "normal" {
				return nil, fmt.Errorf("malformed facet at line %d", line)
			}
			current = Triangle{}
			vertexIdx = 0
			inFacet = true
			for j := 0; j < 3; j++ {
				v, err := strconv.ParseFloat(fields[2+j], 32)
				if err != nil {
					return nil, fmt.Errorf("malformed normal at line %d: %w", line, err)
				}
				current.Normal[j] = float32(v)
			}
		case "vertex":
			if !inFacet || vertexIdx >= 3 {
				return nil, fmt.Errorf("unexpected vertex at line %d", line)
			}
			if len(fields) != 4 {
				return nil, fmt.Errorf("malformed vertex at line %d", line)
			}
			for j := 0; j < 3; j++ {
				v, err := strconv.ParseFloat(fields[1+j], 32)
				if err != nil {
					return nil, fmt.Errorf("malformed vertex at line %d: %w", line, err)
				}
				current.Vertices[vertexIdx][j] = float32(v)
			}
			vertexIdx++
		case "endfacet":
			if !inFacet || vertexIdx != 3 {
				return nil, fmt.Errorf("facet with %d vertices at line %d", vertexIdx, line)
			}
			mesh.Triangles = append(mesh.Triangles, current)
			inFacet = false
		case "outer", "endloop", "endsolid":
			// structural keywords, nothing to capture
		default:
			return nil, fmt.Errorf("unexpected token %q at line %d", fields[0], line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ASCII STL: %w", err)
	}
	if inFacet {
		return nil, fmt.Errorf("ASCII STL truncated inside a facet")
	}
	if len(mesh.Triangles) == 0 {
		return nil, fmt.Errorf("ASCII STL contains no facets")
	}

	return mesh, nil
}
