package scanmatch

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"sort"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// RobotColor defines the colors for one robot's overlay elements
type RobotColor struct {
	Scan  color.NRGBA
	Body  color.RGBA
	Trail color.RGBA
}

// DefaultRobotColors returns distinct colors for up to 4 robots
func DefaultRobotColors() []RobotColor {
	return []RobotColor{
		{ // Robot 1 - Blue
			Scan:  color.NRGBA{100, 149, 237, 180}, // Cornflower blue
			Body:  color.RGBA{0, 0, 255, 255},      // Blue
			Trail: color.RGBA{0, 0, 139, 255},      // Dark blue
		},
		{ // Robot 2 - Red
			Scan:  color.NRGBA{255, 99, 71, 180}, // Tomato
			Body:  color.RGBA{255, 0, 0, 255},    // Red
			Trail: color.RGBA{139, 0, 0, 255},    // Dark red
		},
		{ // Robot 3 - Green
			Scan:  color.NRGBA{144, 238, 144, 180}, // Light green
			Body:  color.RGBA{0, 255, 0, 255},      // Green
			Trail: color.RGBA{0, 100, 0, 255},      // Dark green
		},
		{ // Robot 4 - Yellow
			Scan:  color.NRGBA{255, 255, 150, 180}, // Light yellow
			Body:  color.RGBA{255, 215, 0, 255},    // Gold
			Trail: color.RGBA{184, 134, 11, 255},   // Dark goldenrod
		},
	}
}

// Greyscale colors for the occupancy base layer
var (
	GreyscaleUnknown = color.RGBA{240, 240, 240, 255} // Background / unknown cells
	GreyscaleBorder  = color.RGBA{200, 200, 200, 255} // Frame around the mapped area
)

// MapRenderer renders an occupancy grid with scan, pose and trajectory
// overlays into a single image
type MapRenderer struct {
	Grid    Grid
	Scale   float64 // Pixels per grid cell
	Padding int     // Padding around the image
}

// legendEntry is one swatch plus label in the image legend
type legendEntry struct {
	label string
	color color.RGBA
}

// NewMapRenderer creates a renderer with default settings
func NewMapRenderer(grid Grid) *MapRenderer {
	return &MapRenderer{
		Grid:    grid,
		Scale:   4.0,
		Padding: 30,
	}
}

// dimensions returns the output image size, shrinking Scale if the grid
// would exceed the 4000 pixel cap on either side
func (r *MapRenderer) dimensions() (int, int) {
	limits := r.Grid.Limits()
	width := int(float64(limits.Cells.NumX)*r.Scale) + 2*r.Padding
	height := int(float64(limits.Cells.NumY)*r.Scale) + 2*r.Padding

	// Limit size
	if width > 4000 {
		r.Scale *= float64(4000) / float64(width)
		width = 4000
		height = int(float64(limits.Cells.NumY)*r.Scale) + 2*r.Padding
	}
	if height > 4000 {
		r.Scale *= float64(4000) / float64(height)
		height = 4000
		width = int(float64(limits.Cells.NumX)*r.Scale) + 2*r.Padding
	}

	// If the grid is degenerate, ensure positive, reasonable dimensions
	minSize := 2*r.Padding + 1
	if width < minSize {
		width = minSize
	}
	if height < minSize {
		height = minSize
	}
	return width, height
}

// toImage converts a map-frame point to image coordinates. Image y grows
// downward while map y grows upward, so the vertical axis is flipped.
func (r *MapRenderer) toImage(p Point, height int) (int, int) {
	limits := r.Grid.Limits()
	ix := r.Padding + int((p.X-limits.MinX)/limits.Resolution*r.Scale)
	iy := height - 1 - r.Padding - int((p.Y-limits.MinY)/limits.Resolution*r.Scale)
	return ix, iy
}

// RenderBase renders the occupancy grid as a greyscale image. Probability
// grids shade occupied cells dark; signed-distance fields shade cells near
// a surface dark. Unknown cells use the background color.
func (r *MapRenderer) RenderBase() *image.RGBA {
	width, height := r.dimensions()
	limits := r.Grid.Limits()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, GreyscaleUnknown)
		}
	}

	prob, _ := r.Grid.(*ProbabilityGrid)
	tsdf, _ := r.Grid.(*TSDF)

	for py := r.Padding; py < height-r.Padding; py++ {
		// Invert the vertical flip applied by toImage
		cy := int(float64(height-1-r.Padding-py) / r.Scale)
		for px := r.Padding; px < width-r.Padding; px++ {
			cx := int(float64(px-r.Padding) / r.Scale)
			cell := CellIndex{X: cx, Y: cy}
			if !limits.Cells.Contains(cell) {
				continue
			}

			var shade color.RGBA
			switch r.Grid.Kind() {
			case KindProbability:
				if !prob.IsKnown(cell) {
					continue
				}
				p := prob.Probability(cell)
				v := uint8(255 * (1 - p))
				shade = color.RGBA{v, v, v, 255}
			case KindTSDF:
				tsd, weight := tsdf.TSDAndWeight(cell)
				if weight == 0 {
					continue
				}
				v := uint8(40 + 200*math.Abs(tsd)/tsdf.MaxTSD())
				shade = color.RGBA{v, v, v, 255}
			default:
				continue
			}
			img.Set(px, py, shade)
		}
	}

	// Frame the mapped area so the grid extent is visible against padding
	x0, y0 := r.toImage(Point{X: limits.MinX, Y: limits.MaxY()}, height)
	x1, y1 := r.toImage(Point{X: limits.MaxX(), Y: limits.MinY}, height)
	drawLine(img, x0, y0, x1, y0, GreyscaleBorder)
	drawLine(img, x0, y1, x1, y1, GreyscaleBorder)
	drawLine(img, x0, y0, x0, y1, GreyscaleBorder)
	drawLine(img, x1, y0, x1, y1, GreyscaleBorder)

	return img
}

// DrawCloud overlays a scan at the given pose, alpha-blended over the base
func (r *MapRenderer) DrawCloud(img *image.RGBA, cloud PointCloud, pose Pose, c color.NRGBA) {
	_, height := r.dimensions()
	bounds := img.Bounds()

	placed := TransformCloud(LevelCloud(cloud), pose)
	for _, p := range placed {
		ix, iy := r.toImage(p, height)
		// Draw each return as a 2x2 block for visibility
		for dy := 0; dy <= 1; dy++ {
			for dx := 0; dx <= 1; dx++ {
				px, py := ix+dx, iy+dy
				if px >= 0 && px < bounds.Max.X && py >= 0 && py < bounds.Max.Y {
					existing := img.RGBAAt(px, py)
					img.Set(px, py, blendColors(existing, c))
				}
			}
		}
	}
}

// DrawRobot draws a robot marker: a filled circle with a heading line
func (r *MapRenderer) DrawRobot(img *image.RGBA, pose Pose, c color.RGBA) {
	_, height := r.dimensions()
	ix, iy := r.toImage(Point{X: pose.X, Y: pose.Y}, height)

	drawCircle(img, ix, iy, 6, c)

	// Heading line; image y is flipped relative to map y
	length := 12.0
	hx := ix + int(length*math.Cos(pose.Theta))
	hy := iy - int(length*math.Sin(pose.Theta))
	drawLine(img, ix, iy, hx, hy, color.RGBA{40, 40, 40, 255})
}

// DrawTrajectory draws the corrected-pose trail as connected line segments
func (r *MapRenderer) DrawTrajectory(img *image.RGBA, traj []TimedPose, c color.RGBA) {
	_, height := r.dimensions()
	for i := 1; i < len(traj); i++ {
		x0, y0 := r.toImage(Point{X: traj[i-1].Pose.X, Y: traj[i-1].Pose.Y}, height)
		x1, y1 := r.toImage(Point{X: traj[i].Pose.X, Y: traj[i].Pose.Y}, height)
		drawLine(img, x0, y0, x1, y1, c)
	}
}

// DrawOrigin marks the map origin (0,0) with a purple triangle
func (r *MapRenderer) DrawOrigin(img *image.RGBA) {
	_, height := r.dimensions()
	ox, oy := r.toImage(Point{}, height)
	drawTriangle(img, ox, oy, 12, color.RGBA{128, 0, 128, 255})
}

// RenderMatch renders a single match for debugging: the scan overlaid at the
// initial pose (red) and at the corrected pose (green) on the grid
func (r *MapRenderer) RenderMatch(scan PointCloud, initial, corrected Pose) *image.RGBA {
	img := r.RenderBase()

	r.DrawCloud(img, scan, initial, color.NRGBA{255, 99, 71, 180})
	r.DrawCloud(img, scan, corrected, color.NRGBA{144, 238, 144, 200})
	r.DrawRobot(img, initial, color.RGBA{255, 0, 0, 255})
	r.DrawRobot(img, corrected, color.RGBA{0, 160, 0, 255})
	r.DrawOrigin(img)

	r.drawLegend(img, []legendEntry{
		{label: "initial", color: color.RGBA{255, 0, 0, 255}},
		{label: "corrected", color: color.RGBA{0, 160, 0, 255}},
	})
	return img
}

// RenderLive renders the grid with every robot's trail, latest scan and pose
func (r *MapRenderer) RenderLive(state *StateTracker) *image.RGBA {
	img := r.RenderBase()
	r.DrawOrigin(img)
	if state == nil {
		return img
	}

	palette := DefaultRobotColors()
	robots := state.Robots()
	sort.Strings(robots)

	var legend []legendEntry
	for i, robot := range robots {
		rc := palette[i%len(palette)]

		r.DrawTrajectory(img, state.Trajectory(robot), rc.Trail)

		tp, ok := state.LatestPose(robot)
		if !ok {
			continue
		}
		if frame, ok := state.LatestScan(robot); ok {
			r.DrawCloud(img, frame.PointCloud(), tp.Pose, rc.Scan)
		}
		r.DrawRobot(img, tp.Pose, rc.Body)
		legend = append(legend, legendEntry{label: robot, color: rc.Body})
	}

	r.drawLegend(img, legend)
	return img
}

// SavePNG writes a rendered image to a file
func (r *MapRenderer) SavePNG(path string, img *image.RGBA) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return png.Encode(f, img)
}

// EncodePNG writes an image as PNG, for streaming over HTTP
func EncodePNG(w io.Writer, img *image.RGBA) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encoding png: %w", err)
	}
	return nil
}

// drawLegend adds a legend with swatches and text labels in the top-left corner
func (r *MapRenderer) drawLegend(img *image.RGBA, entries []legendEntry) {
	y := 15
	for _, entry := range entries {
		// Draw color swatch (12x12 square)
		for dy := 0; dy < 12; dy++ {
			for dx := 0; dx < 12; dx++ {
				img.Set(10+dx, y+dy-6, entry.color)
			}
		}

		drawText(img, 28, y, entry.label, color.RGBA{0, 0, 0, 255})

		y += 18
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// blendColors performs alpha blending of two colors
func blendColors(bg color.RGBA, fg color.NRGBA) color.NRGBA {
	// Convert RGBA background to NRGBA for proper blending
	// RGBA is premultiplied, so we need to un-premultiply it first
	var bgNRGBA color.NRGBA
	switch bg.A {
	case 0:
		bgNRGBA = color.NRGBA{0, 0, 0, 0}
	case 255:
		bgNRGBA = color.NRGBA{bg.R, bg.G, bg.B, 255}
	default:
		// Un-premultiply: divide RGB by alpha
		alpha32 := uint32(bg.A)
		bgNRGBA = color.NRGBA{
			R: uint8((uint32(bg.R) * 255) / alpha32),
			G: uint8((uint32(bg.G) * 255) / alpha32),
			B: uint8((uint32(bg.B) * 255) / alpha32),
			A: bg.A,
		}
	}

	// Now perform standard alpha blending with non-premultiplied colors
	alpha := float64(fg.A) / 255.0
	invAlpha := 1.0 - alpha

	return color.NRGBA{
		R: uint8(float64(fg.R)*alpha + float64(bgNRGBA.R)*invAlpha),
		G: uint8(float64(fg.G)*alpha + float64(bgNRGBA.G)*invAlpha),
		B: uint8(float64(fg.B)*alpha + float64(bgNRGBA.B)*invAlpha),
		A: 255,
	}
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				x, y := cx+dx, cy+dy
				if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
					img.Set(x, y, c)
				}
			}
		}
	}
}

// drawTriangle draws a filled triangle pointing up
func drawTriangle(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		// Width of triangle at this row
		progress := float64(dy+half) / float64(size)
		width := int(progress * float64(half))
		for dx := -width; dx <= width; dx++ {
			x, y := cx+dx, cy+dy
			if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
				img.Set(x, y, c)
			}
		}
	}
}

// drawLine draws a line segment with Bresenham's algorithm
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := x1 - x0
	if dx < 0 {
		dx = -dx
	}
	dy := y0 - y1
	if dy > 0 {
		dy = -dy
	}
	sx := 1
	if x0 > x1 {
		sx = -1
	}
	sy := 1
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy

	bounds := img.Bounds()
	for {
		if x0 >= bounds.Min.X && x0 < bounds.Max.X && y0 >= bounds.Min.Y && y0 < bounds.Max.Y {
			img.Set(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}
