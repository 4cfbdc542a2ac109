package soft

import (
	"github.com/chewxy/math32"

	"github.com/gogpu/gpubasics/driver"
)

// rasterize runs the vertex stage for each triangle of d and fills covered
// pixels with the fragment stage output. Callers hold t.mu for writing.
func rasterize(t *Texture, d draw, args [][]byte) {
	end := d.start + d.count
	for v := d.start; v+3 <= end; v += 3 {
		var tri [3]varyings
		for k := range tri {
			tri[k] = d.pso.vertex.vertex(v+k, args)
		}
		rasterTriangle(t, d.viewport, d.pso.fragment.fragment, tri)
	}
}

// edge is twice the signed area of triangle (a, b, p).
func edge(ax, ay, bx, by, px, py float32) float32 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

func finite(v float32) bool {
	return !math32.IsNaN(v) && !math32.IsInf(v, 0)
}

// rasterTriangle samples pixel centers inside the triangle and the viewport.
// Both windings are filled.
func rasterTriangle(t *Texture, vp driver.Viewport, fs fragmentFunc, tri [3]varyings) {
	var sx, sy [3]float32
	for k, v := range tri {
		w := v.position[3]
		if w == 0 {
			return
		}
		nx, ny := v.position[0]/w, v.position[1]/w
		if !finite(nx) || !finite(ny) {
			return
		}
		// NDC y points up, texture rows go down.
		sx[k] = float32(vp.OriginX) + (nx+1)*0.5*float32(vp.Width)
		sy[k] = float32(vp.OriginY) + (1-ny)*0.5*float32(vp.Height)
	}

	area := edge(sx[0], sy[0], sx[1], sy[1], sx[2], sy[2])
	if area == 0 || !finite(area) {
		return
	}

	minX := math32.Max(math32.Floor(math32.Min(sx[0], math32.Min(sx[1], sx[2]))), float32(vp.OriginX))
	maxX := math32.Min(math32.Ceil(math32.Max(sx[0], math32.Max(sx[1], sx[2]))), float32(vp.OriginX+vp.Width))
	minY := math32.Max(math32.Floor(math32.Min(sy[0], math32.Min(sy[1], sy[2]))), float32(vp.OriginY))
	maxY := math32.Min(math32.Ceil(math32.Max(sy[0], math32.Max(sy[1], sy[2]))), float32(vp.OriginY+vp.Height))

	x0, x1 := max(int(minX), 0), min(int(maxX), t.width)
	y0, y1 := max(int(minY), 0), min(int(maxY), t.height)

	for y := y0; y < y1; y++ {
		py := float32(y) + 0.5
		for x := x0; x < x1; x++ {
			px := float32(x) + 0.5
			w0 := edge(sx[1], sy[1], sx[2], sy[2], px, py) / area
			w1 := edge(sx[2], sy[2], sx[0], sy[0], px, py) / area
			w2 := 1 - w0 - w1
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			var in varyings
			for i := range in.color {
				in.color[i] = w0*tri[0].color[i] + w1*tri[1].color[i] + w2*tri[2].color[i]
			}
			in.position = [4]float32{px, py, 0, 1}
			t.store(x, y, fs(in))
		}
	}
}
