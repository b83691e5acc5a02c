package pyramid

import (
	"testing"

	"github.com/airbusgeo/pyramidscan/scan"
	"github.com/airbusgeo/pyramidscan/tiff"
	"github.com/stretchr/testify/assert"
)

func TestParseMetadataRectangle(t *testing.T) {
	doc := []byte(`{
		"app": "image-pyramid-metadata",
		"version": "1.0",
		"rois": [
			{"shape":"rectangle","left":10,"top":20,"width":30,"height":40}
		]
	}`)
	m, err := ParseMetadata(doc)
	assert.NoError(t, err)
	assert.Len(t, m.Rectangles(), 1)
	r := m.Rectangles()[0]
	assert.EqualValues(t, 10, r.X)
	assert.EqualValues(t, 20, r.Y)
	assert.EqualValues(t, 30, r.Width)
	assert.EqualValues(t, 40, r.Height)
}

func TestParseMetadataRectangleRightBottom(t *testing.T) {
	doc := []byte(`{"app":"image-pyramid-metadata","version":"1.0","rois":[
		{"shape":"rectangle","left":10,"top":10,"right":20,"bottom":25}
	]}`)
	m, err := ParseMetadata(doc)
	assert.NoError(t, err)
	r := m.Rectangles()[0]
	assert.EqualValues(t, 10, r.Width)
	assert.EqualValues(t, 15, r.Height)
}

func TestParseMetadataPolygon(t *testing.T) {
	doc := []byte(`{"app":"plane-pyramid-metadata","version":"1.0","rois":[
		{"shape":"polygon","vertices":[{"x":1.2,"y":1.9},{"x":5.5,"y":1.9},{"x":5.5,"y":8.1},{"x":1.2,"y":8.1}]}
	]}`)
	m, err := ParseMetadata(doc)
	assert.NoError(t, err)
	r := m.Rectangles()[0]
	assert.EqualValues(t, 1, r.X)
	assert.EqualValues(t, 1, r.Y)
	// ceil(5.5)-1=5, floor(1.2)=1 -> width 5
	assert.EqualValues(t, 5, r.Width)
	// ceil(8.1)-1=8, floor(1.9)=1 -> height 8
	assert.EqualValues(t, 8, r.Height)
}

func TestParseMetadataEmptyPolygonDropped(t *testing.T) {
	doc := []byte(`{"app":"image-pyramid-metadata","version":"1.0","rois":[
		{"shape":"polygon","vertices":[{"x":1,"y":1}]}
	]}`)
	m, err := ParseMetadata(doc)
	assert.NoError(t, err)
	assert.Empty(t, m.Rectangles())
}

func TestSignedAreaWindingDetectsHole(t *testing.T) {
	ccw := []Vertex{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 4}, {X: 0, Y: 4}}
	cw := []Vertex{{X: 0, Y: 0}, {X: 0, Y: 4}, {X: 4, Y: 4}, {X: 4, Y: 0}}
	assert.False(t, IsHole(ccw))
	assert.True(t, IsHole(cw))
}

func TestLevelROISetDerivesWholeLevelByDefault(t *testing.T) {
	s := NewLevelROISet(tiff.Rect{Width: 100, Height: 80})
	effective := s.Effective()
	assert.Len(t, effective, 1)
	assert.EqualValues(t, 100, effective[0].Width)
	assert.EqualValues(t, 80, effective[0].Height)
}

func TestLevelROISetCacheInvalidatesOnSetter(t *testing.T) {
	s := NewLevelROISet(tiff.Rect{Width: 100, Height: 80})
	first := s.Effective()
	assert.Len(t, first, 1)

	s.SetMetadataROIs([]scan.ROI{{X: 0, Y: 0, Width: 10, Height: 10}, {X: 50, Y: 50, Width: 10, Height: 10}}, nil)
	second := s.Effective()
	assert.Len(t, second, 2)
}

func TestLevelROISetMinimumSizeFilter(t *testing.T) {
	s := NewLevelROISet(tiff.Rect{Width: 100, Height: 80})
	s.SetMetadataROIs([]scan.ROI{{X: 0, Y: 0, Width: 2, Height: 2}, {X: 50, Y: 50, Width: 10, Height: 10}}, nil)
	s.SetMinimumSize(50)
	out := s.Effective()
	assert.Len(t, out, 1)
	assert.EqualValues(t, 10, out[0].Width)
}
