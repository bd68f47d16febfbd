// Package geom provides the planar geometry needed by the spatial refiner:
// WKT polygon parsing, outward buffering of an area of interest, and
// polygon/polygon intersection tests. Coordinates are WGS84 degrees treated
// as planar, which is adequate at burst footprint scale.
package geom

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"
)

// Polygon is a simple polygon given by its outer ring. The ring is stored
// without a closing duplicate of the first vertex.
type Polygon struct {
	Ring []r2.Vec
}

// ParseWKTPolygon parses a WKT POLYGON outer ring. Inner rings are ignored;
// burst footprints and AOIs have none.
func ParseWKTPolygon(wkt string) (Polygon, error) {
	s := strings.TrimSpace(wkt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "POLYGON") {
		return Polygon{}, fmt.Errorf("unsupported WKT geometry: %q", firstToken(s))
	}
	open := strings.Index(s, "((")
	if open < 0 {
		return Polygon{}, fmt.Errorf("malformed WKT polygon: missing ring")
	}
	rest := s[open+2:]
	end := strings.IndexAny(rest, ")")
	if end < 0 {
		return Polygon{}, fmt.Errorf("malformed WKT polygon: unterminated ring")
	}
	ring, err := parseRing(rest[:end])
	if err != nil {
		return Polygon{}, err
	}
	return Polygon{Ring: ring}, nil
}

func parseRing(body string) ([]r2.Vec, error) {
	pairs := strings.Split(body, ",")
	if len(pairs) < 3 {
		return nil, fmt.Errorf("polygon ring needs at least 3 vertices, got %d", len(pairs))
	}
	ring := make([]r2.Vec, 0, len(pairs))
	for _, pair := range pairs {
		fields := strings.Fields(strings.TrimSpace(pair))
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed coordinate pair %q", pair)
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad x coordinate %q: %w", fields[0], err)
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad y coordinate %q: %w", fields[1], err)
		}
		ring = append(ring, r2.Vec{X: x, Y: y})
	}
	// Drop closing vertex if the ring was explicitly closed.
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}
	if len(ring) < 3 {
		return nil, fmt.Errorf("polygon ring needs at least 3 distinct vertices")
	}
	return ring, nil
}

func firstToken(s string) string {
	if i := strings.IndexAny(s, " ("); i > 0 {
		return s[:i]
	}
	return s
}

// WKT renders the polygon as a closed WKT POLYGON. A polygon with no ring
// renders as the empty string so it round-trips through storage, which keeps
// footprints optional end to end.
func (p Polygon) WKT() string {
	if len(p.Ring) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("POLYGON ((")
	for i, v := range p.Ring {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%g %g", v.X, v.Y)
	}
	if len(p.Ring) > 0 {
		fmt.Fprintf(&sb, ", %g %g", p.Ring[0].X, p.Ring[0].Y)
	}
	sb.WriteString("))")
	return sb.String()
}

// Centroid returns the vertex centroid of the ring.
func (p Polygon) Centroid() r2.Vec {
	var c r2.Vec
	if len(p.Ring) == 0 {
		return c
	}
	for _, v := range p.Ring {
		c = r2.Add(c, v)
	}
	return r2.Scale(1/float64(len(p.Ring)), c)
}

// Buffer expands the polygon outward by dist, offsetting each vertex away
// from the centroid. Exact for rectangles up to corner rounding and a close
// approximation for the near-convex footprints and AOIs handled here; the
// buffer only exists to keep edge-touching bursts from being dropped.
func (p Polygon) Buffer(dist float64) Polygon {
	c := p.Centroid()
	out := Polygon{Ring: make([]r2.Vec, len(p.Ring))}
	for i, v := range p.Ring {
		d := r2.Sub(v, c)
		n := r2.Norm(d)
		if n == 0 {
			out.Ring[i] = v
			continue
		}
		out.Ring[i] = r2.Add(v, r2.Scale(dist/n, d))
	}
	return out
}

// Bounds returns the axis-aligned bounding box as (minX, minY, maxX, maxY).
func (p Polygon) Bounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, v := range p.Ring {
		minX = math.Min(minX, v.X)
		minY = math.Min(minY, v.Y)
		maxX = math.Max(maxX, v.X)
		maxY = math.Max(maxY, v.Y)
	}
	return minX, minY, maxX, maxY
}

// Contains reports whether pt lies inside the polygon (ray casting, points
// on the boundary count as inside for our purposes).
func (p Polygon) Contains(pt r2.Vec) bool {
	inside := false
	n := len(p.Ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := p.Ring[i], p.Ring[j]
		if (a.Y > pt.Y) != (b.Y > pt.Y) {
			xCross := (b.X-a.X)*(pt.Y-a.Y)/(b.Y-a.Y) + a.X
			if pt.X < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

// Intersects reports whether the two polygons share any area: either one
// contains a vertex of the other, or any pair of edges crosses.
func (p Polygon) Intersects(q Polygon) bool {
	minX1, minY1, maxX1, maxY1 := p.Bounds()
	minX2, minY2, maxX2, maxY2 := q.Bounds()
	if maxX1 < minX2 || maxX2 < minX1 || maxY1 < minY2 || maxY2 < minY1 {
		return false
	}
	for _, v := range q.Ring {
		if p.Contains(v) {
			return true
		}
	}
	for _, v := range p.Ring {
		if q.Contains(v) {
			return true
		}
	}
	for i := range p.Ring {
		a1 := p.Ring[i]
		a2 := p.Ring[(i+1)%len(p.Ring)]
		for j := range q.Ring {
			b1 := q.Ring[j]
			b2 := q.Ring[(j+1)%len(q.Ring)]
			if segmentsIntersect(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

// segmentsIntersect reports whether segments a1-a2 and b1-b2 cross.
func segmentsIntersect(a1, a2, b1, b2 r2.Vec) bool {
	d1 := r2.Cross(r2.Sub(a2, a1), r2.Sub(b1, a1))
	d2 := r2.Cross(r2.Sub(a2, a1), r2.Sub(b2, a1))
	d3 := r2.Cross(r2.Sub(b2, b1), r2.Sub(a1, b1))
	d4 := r2.Cross(r2.Sub(b2, b1), r2.Sub(a2, b1))
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return onSegment(a1, a2, b1) || onSegment(a1, a2, b2) ||
		onSegment(b1, b2, a1) || onSegment(b1, b2, a2)
}

// onSegment reports whether pt lies on the segment a-b.
func onSegment(a, b, pt r2.Vec) bool {
	if r2.Cross(r2.Sub(b, a), r2.Sub(pt, a)) != 0 {
		return false
	}
	return math.Min(a.X, b.X) <= pt.X && pt.X <= math.Max(a.X, b.X) &&
		math.Min(a.Y, b.Y) <= pt.Y && pt.Y <= math.Max(a.Y, b.Y)
}

// BBoxPolygon builds a rectangle polygon from bounds, handy for tests and
// for converting search bboxes to footprint geometry.
func BBoxPolygon(minX, minY, maxX, maxY float64) Polygon {
	return Polygon{Ring: []r2.Vec{
		{X: minX, Y: minY},
		{X: maxX, Y: minY},
		{X: maxX, Y: maxY},
		{X: minX, Y: maxY},
	}}
}
