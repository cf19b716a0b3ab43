package scanmatch

import (
	"image/color"
	"image/png"
	"io"
	"math"
	"sort"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// snapCoord rounds a coordinate to the nearest multiple of the given increment.
// An increment of 0 disables snapping and returns the coordinate unchanged.
func snapCoord(coord, increment float64) float64 {
	if increment <= 0 {
		return coord
	}
	return math.Round(coord/increment) * increment
}

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha
// This is needed for the canvas library which expects premultiplied RGBA
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	// Premultiply: multiply RGB by alpha
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// VectorRenderer renders the occupancy grid and robot state as vector graphics
type VectorRenderer struct {
	Grid          Grid
	State         *StateTracker
	Scale         float64           // Canvas units per map meter
	Padding       float64           // Padding in map meters
	Resolution    canvas.Resolution // Resolution for PNG output (default: 300 DPI)
	GridSpacing   float64           // Grid line spacing in meters
	SnapIncrement float64           // Snap map coordinates to this increment (meters); 0 disables
	OccupiedMin   float64           // Cells at or above this probability render as obstacles
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(grid Grid, state *StateTracker) *VectorRenderer {
	return &VectorRenderer{
		Grid:          grid,
		State:         state,
		Scale:         50.0,
		Padding:       0.5,             // half a meter of padding
		Resolution:    canvas.DPI(300), // 300 DPI default for PNG output
		GridSpacing:   1.0,             // 1m grid spacing
		SnapIncrement: 0.01,            // 1cm snap for grid alignment
		OccupiedMin:   0.5,
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the map as an SVG to the provided writer
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	// 1. Calculate map-space bounds
	minX, minY, maxX, maxY := r.calculateBounds()

	width := ((maxX - minX) + 2*r.Padding) * r.Scale
	height := ((maxY - minY) + 2*r.Padding) * r.Scale

	// 2. Create SVG renderer
	svgRenderer := svg.New(w, width, height, nil)

	// 3. Render to canvas
	r.renderToCanvas(svgRenderer, minX, minY, maxX, maxY, width, height)

	// 4. Close SVG renderer to write closing tags
	if err := svgRenderer.Close(); err != nil {
		return err
	}

	return nil
}

// RenderToPNG writes the map as a PNG to the provided writer
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	// 1. Calculate map-space bounds
	minX, minY, maxX, maxY := r.calculateBounds()

	width := ((maxX - minX) + 2*r.Padding) * r.Scale
	height := ((maxY - minY) + 2*r.Padding) * r.Scale

	// 2. Create rasterizer renderer
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)

	// 3. Render to canvas
	r.renderToCanvas(rast, minX, minY, maxX, maxY, width, height)

	// 4. Encode to PNG
	// Rasterizer implements draw.Image interface, which embeds image.Image
	return png.Encode(w, rast)
}

// renderToCanvas renders grid and overlays to a canvas renderer (shared
// logic for SVG and PNG). Canvas y grows upward like map y, so no flip.
func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, minX, minY, maxX, maxY, width, height float64) {
	// Draw white background
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	// Helper to transform map points to canvas points
	toCanvas := func(p Point) (float64, float64) {
		tx := (snapCoord(p.X, r.SnapIncrement) - minX + r.Padding) * r.Scale
		ty := (snapCoord(p.Y, r.SnapIncrement) - minY + r.Padding) * r.Scale
		return tx, ty
	}

	limits := r.Grid.Limits()
	cellSide := limits.Resolution * r.Scale

	// Mapped area (light grey), then obstacle cells (dark grey)
	floorStyle := canvas.DefaultStyle
	floorStyle.Fill = canvas.Paint{Color: color.RGBA{200, 200, 200, 255}}
	floorStyle.Stroke = canvas.Paint{Color: canvas.Transparent}

	ex, ey := toCanvas(Point{X: limits.MinX, Y: limits.MinY})
	extent := canvas.Rectangle(float64(limits.Cells.NumX)*cellSide, float64(limits.Cells.NumY)*cellSide)
	renderer.RenderPath(extent.Translate(ex, ey), floorStyle, canvas.Identity)

	wallStyle := canvas.DefaultStyle
	wallStyle.Fill = canvas.Paint{Color: color.RGBA{80, 80, 80, 255}}
	wallStyle.Stroke = canvas.Paint{Color: canvas.Transparent}

	for _, cell := range r.obstacleCells() {
		center := limits.CellCenter(cell)
		cx, cy := toCanvas(Point{X: center.X - limits.Resolution/2, Y: center.Y - limits.Resolution/2})
		cellPath := canvas.Rectangle(cellSide, cellSide)
		renderer.RenderPath(cellPath.Translate(cx, cy), wallStyle, canvas.Identity)
	}

	// Render grid lines
	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 0.5
		gridStyle.Dashes = []float64{3.0, 3.0}

		// Vertical grid lines
		for x := math.Floor(minX/r.GridSpacing) * r.GridSpacing; x <= maxX; x += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(Point{X: x, Y: minY})
			x2, y2 := toCanvas(Point{X: x, Y: maxY})
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}

		// Horizontal grid lines
		for y := math.Floor(minY/r.GridSpacing) * r.GridSpacing; y <= maxY; y += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(Point{X: minX, Y: y})
			x2, y2 := toCanvas(Point{X: maxX, Y: y})
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
	}

	if r.State == nil {
		return
	}

	// Render trajectories and robot markers, sorted for deterministic order
	palette := DefaultRobotColors()
	robots := r.State.Robots()
	sort.Strings(robots)

	for i, robot := range robots {
		rc := palette[i%len(palette)]

		traj := r.State.Trajectory(robot)
		if len(traj) > 1 {
			trailStyle := canvas.DefaultStyle
			trailStyle.Fill = canvas.Paint{Color: canvas.Transparent}
			trailStyle.Stroke = canvas.Paint{Color: rc.Trail}
			trailStyle.StrokeWidth = 1.5

			trailPath := &canvas.Path{}
			for j, tp := range traj {
				cx, cy := toCanvas(Point{X: tp.Pose.X, Y: tp.Pose.Y})
				if j == 0 {
					trailPath.MoveTo(cx, cy)
				} else {
					trailPath.LineTo(cx, cy)
				}
			}
			renderer.RenderPath(trailPath, trailStyle, canvas.Identity)
		}

		tp, ok := r.State.LatestPose(robot)
		if !ok {
			continue
		}
		cx, cy := toCanvas(Point{X: tp.Pose.X, Y: tp.Pose.Y})

		// Latest scan as translucent dots under the body marker
		if frame, ok := r.State.LatestScan(robot); ok {
			scanStyle := canvas.DefaultStyle
			scanStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(rc.Scan)}
			scanStyle.Stroke = canvas.Paint{Color: canvas.Transparent}

			dot := 0.02 * r.Scale
			for _, pt := range TransformCloud(LevelCloud(frame.PointCloud()), tp.Pose) {
				sx, sy := toCanvas(pt)
				renderer.RenderPath(canvas.Circle(dot).Translate(sx, sy), scanStyle, canvas.Identity)
			}
		}

		// Body circle (bordered)
		bodyStyle := canvas.DefaultStyle
		bodyStyle.Fill = canvas.Paint{Color: rc.Body}
		bodyStyle.Stroke = canvas.Paint{Color: canvas.Black}
		bodyStyle.StrokeWidth = 0.8

		bodyPath := canvas.Circle(0.15 * r.Scale)
		bodyPath = bodyPath.Translate(cx, cy)
		renderer.RenderPath(bodyPath, bodyStyle, canvas.Identity)

		// Direction indicator: a line from center in the heading direction
		dirLen := 0.3 * r.Scale
		dx := dirLen * math.Cos(tp.Pose.Theta)
		dy := dirLen * math.Sin(tp.Pose.Theta)

		dirStyle := canvas.DefaultStyle
		dirStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		dirStyle.Stroke = canvas.Paint{Color: rc.Body}
		dirStyle.StrokeWidth = 1.2

		dirPath := &canvas.Path{}
		dirPath.MoveTo(cx, cy)
		dirPath.LineTo(cx+dx, cy+dy)
		renderer.RenderPath(dirPath, dirStyle, canvas.Identity)

		// Identifier tag below the body. Full text rendering requires font
		// loading in tdewolff/canvas, so the tag is a color-keyed rectangle
		// matching the robot's trail color.
		tagStyle := canvas.DefaultStyle
		tagStyle.Fill = canvas.Paint{Color: rc.Trail}
		tagStyle.Stroke = canvas.Paint{Color: canvas.Black}
		tagStyle.StrokeWidth = 0.3

		tagWidth := 0.3 * r.Scale
		tagHeight := 0.1 * r.Scale
		tagPath := canvas.Rectangle(tagWidth, tagHeight)
		tagPath = tagPath.Translate(cx-tagWidth/2, cy-0.35*r.Scale)
		renderer.RenderPath(tagPath, tagStyle, canvas.Identity)
	}
}

// obstacleCells returns the grid cells that render as obstacles: occupied
// cells of a probability grid, or near-surface cells of a distance field.
func (r *VectorRenderer) obstacleCells() []CellIndex {
	limits := r.Grid.Limits()
	var cells []CellIndex

	switch g := r.Grid.(type) {
	case *ProbabilityGrid:
		for y := 0; y < limits.Cells.NumY; y++ {
			for x := 0; x < limits.Cells.NumX; x++ {
				cell := CellIndex{X: x, Y: y}
				if g.IsKnown(cell) && g.Probability(cell) >= r.OccupiedMin {
					cells = append(cells, cell)
				}
			}
		}
	case *TSDF:
		for y := 0; y < limits.Cells.NumY; y++ {
			for x := 0; x < limits.Cells.NumX; x++ {
				cell := CellIndex{X: x, Y: y}
				tsd, weight := g.TSDAndWeight(cell)
				if weight > 0 && math.Abs(tsd) < 0.5*g.MaxTSD() {
					cells = append(cells, cell)
				}
			}
		}
	}
	return cells
}

// calculateBounds computes the render extent: the grid plus every robot's
// trajectory, so off-map excursions stay visible.
func (r *VectorRenderer) calculateBounds() (minX, minY, maxX, maxY float64) {
	limits := r.Grid.Limits()
	minX, minY = limits.MinX, limits.MinY
	maxX, maxY = limits.MaxX(), limits.MaxY()

	if r.State == nil {
		return
	}
	for _, robot := range r.State.Robots() {
		for _, tp := range r.State.Trajectory(robot) {
			minX = min(minX, tp.Pose.X)
			minY = min(minY, tp.Pose.Y)
			maxX = max(maxX, tp.Pose.X)
			maxY = max(maxY, tp.Pose.Y)
		}
	}
	return
}
