package scanmatch

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// WriteHeatmapPNG renders the score surface as a heat map with the winning
// offset marked, and writes the PNG to w. This is the standard picture for
// judging whether a search window and the penalty weights are sane: a
// healthy match shows a single tight peak, a corridor shows a ridge.
func (s *ScoreSurface) WriteHeatmapPNG(w io.Writer) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("score surface (best %.3f at %+.2f, %+.2f m)",
		s.best.Score, s.best.X, s.best.Y)
	p.X.Label.Text = "x offset (m)"
	p.Y.Label.Text = "y offset (m)"

	hm := plotter.NewHeatMap(s, moreland.SmoothBlueRed().Palette(255))
	p.Add(hm)

	peak := plotter.XYs{{X: s.best.X, Y: s.best.Y}}
	scatter, err := plotter.NewScatter(peak)
	if err != nil {
		return fmt.Errorf("plotting peak marker: %w", err)
	}
	scatter.GlyphStyle.Shape = draw.CrossGlyph{}
	scatter.GlyphStyle.Color = color.Black
	scatter.GlyphStyle.Radius = vg.Points(5)
	p.Add(scatter)

	img := vgimg.New(6*vg.Inch, 5*vg.Inch)
	p.Draw(draw.New(img))
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return fmt.Errorf("writing heatmap: %w", err)
	}
	return nil
}
