package pyramid

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/airbusgeo/pyramidscan/scan"
)

// Metadata is the companion ROI JSON document carried alongside a
// pyramid file: a list of shapes describing regions of interest.
type Metadata struct {
	App     string   `json:"app"`
	Version string   `json:"version"`
	ROIs    []RawROI `json:"rois"`

	parsed   []scan.ROI
	contours [][]Vertex
}

// RawROI is the union of the three shapes the schema allows; only the
// fields relevant to Shape are populated.
type RawROI struct {
	Shape string `json:"shape"`

	// rectangle
	Left   int64 `json:"left,omitempty"`
	Top    int64 `json:"top,omitempty"`
	Width  int64 `json:"width,omitempty"`
	Height int64 `json:"height,omitempty"`
	Right  int64 `json:"right,omitempty"`
	Bottom int64 `json:"bottom,omitempty"`

	// polygon
	Vertices []Vertex `json:"vertices,omitempty"`

	// multipolygon
	Polygons []RawROI `json:"polygons,omitempty"`
}

// Vertex is one polygon corner.
type Vertex struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ParseMetadata decodes a companion metadata JSON document and derives
// a bounding rectangle for every ROI entry it carries, in the order the
// rois array lists them. Polygons whose signed area is negative (the
// "hole" winding) are kept in the slice but flagged via IsHole so a
// caller can subtract them; the rectangle derivation itself ignores
// winding and always returns the bounding box.
func ParseMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("pyramid: invalid roi metadata: %w", err)
	}
	if m.App != "image-pyramid-metadata" && m.App != "plane-pyramid-metadata" {
		return nil, fmt.Errorf("pyramid: unrecognized metadata app %q", m.App)
	}
	for i := range m.ROIs {
		r, ok, err := m.ROIs[i].rectangle()
		if err != nil {
			return nil, fmt.Errorf("pyramid: roi %d: %w", i, err)
		}
		if ok {
			m.parsed = append(m.parsed, r)
			m.contours = append(m.contours, m.ROIs[i].Vertices)
		}
	}
	return &m, nil
}

// Rectangles returns the derived bounding rectangle of every ROI entry
// that contributes one (empty-area shapes are dropped).
func (m *Metadata) Rectangles() []scan.ROI { return m.parsed }

// Contours returns, index-aligned with Rectangles, each contributing
// ROI's polygon vertex ring (nil for rectangle and multipolygon entries).
func (m *Metadata) Contours() [][]Vertex { return m.contours }

// CenterSizePacked renders the derived rectangles as packed
// (center_x, center_y, size_x, size_y) 4-tuples, the layout the
// orchestrator's metadata-ROI number output uses. Centers of odd-sized
// rectangles land on the half-pixel.
func (m *Metadata) CenterSizePacked() []float64 {
	out := make([]float64, 0, 4*len(m.parsed))
	for _, r := range m.parsed {
		out = append(out,
			float64(r.X)+float64(r.Width)/2,
			float64(r.Y)+float64(r.Height)/2,
			float64(r.Width),
			float64(r.Height))
	}
	return out
}

func (r RawROI) rectangle() (scan.ROI, bool, error) {
	switch r.Shape {
	case "rectangle":
		return r.rectangleShape()
	case "polygon":
		return r.polygonShape(r.Vertices)
	case "multipolygon":
		return r.multipolygonShape()
	default:
		return scan.ROI{}, false, fmt.Errorf("unknown roi shape %q", r.Shape)
	}
}

func (r RawROI) rectangleShape() (scan.ROI, bool, error) {
	w, h := r.Width, r.Height
	if w == 0 && r.Right != 0 {
		w = r.Right - r.Left
	}
	if h == 0 && r.Bottom != 0 {
		h = r.Bottom - r.Top
	}
	if w <= 0 || h <= 0 {
		return scan.ROI{}, false, nil
	}
	return scan.ROI{X: uint64(r.Left), Y: uint64(r.Top), Width: uint64(w), Height: uint64(h)}, true, nil
}

func (r RawROI) polygonShape(vertices []Vertex) (scan.ROI, bool, error) {
	if len(vertices) < 2 {
		return scan.ROI{}, false, nil
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, v := range vertices {
		minX = math.Min(minX, v.X)
		minY = math.Min(minY, v.Y)
		maxX = math.Max(maxX, v.X)
		maxY = math.Max(maxY, v.Y)
	}
	x0 := int64(math.Floor(minX))
	y0 := int64(math.Floor(minY))
	x1 := int64(math.Ceil(maxX)) - 1
	y1 := int64(math.Ceil(maxY)) - 1
	w := x1 - x0 + 1
	h := y1 - y0 + 1
	if w <= 0 || h <= 0 {
		return scan.ROI{}, false, nil
	}
	return scan.ROI{X: uint64(x0), Y: uint64(y0), Width: uint64(w), Height: uint64(h)}, true, nil
}

func (r RawROI) multipolygonShape() (scan.ROI, bool, error) {
	var have bool
	var out scan.ROI
	for _, p := range r.Polygons {
		sub, ok, err := p.polygonShape(p.Vertices)
		if err != nil {
			return scan.ROI{}, false, err
		}
		if !ok {
			continue
		}
		if !have {
			out, have = sub, true
			continue
		}
		out = unionRect(out, sub)
	}
	return out, have, nil
}

// SignedArea returns the shoelace-formula signed area of a polygon's
// vertex ring: positive for counter-clockwise winding, negative for
// clockwise. The metadata schema uses the sign to mark a polygon as an
// interior hole of its enclosing multipolygon.
func SignedArea(vertices []Vertex) float64 {
	var area float64
	n := len(vertices)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += vertices[i].X*vertices[j].Y - vertices[j].X*vertices[i].Y
	}
	return area / 2
}

// IsHole reports whether a polygon ring is wound as an interior hole
// (negative signed area) rather than an outer boundary.
func IsHole(vertices []Vertex) bool { return SignedArea(vertices) < 0 }

func unionRect(a, b scan.ROI) scan.ROI {
	x0 := minU64(a.X, b.X)
	y0 := minU64(a.Y, b.Y)
	x1 := maxU64(a.X+a.Width, b.X+b.Width)
	y1 := maxU64(a.Y+a.Height, b.Y+b.Height)
	return scan.ROI{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
