package scanmatch

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// MapDescriptor is the YAML sidecar describing an occupancy map raster,
// following the widespread map-server convention: a grayscale image where
// darker pixels are more occupied, an origin for the lower-left corner and
// thresholds splitting occupied / unknown / free.
type MapDescriptor struct {
	Image          string     `yaml:"image"`
	Resolution     float64    `yaml:"resolution"`
	Origin         [3]float64 `yaml:"origin"` // x, y, theta; theta must be 0
	OccupiedThresh float64    `yaml:"occupied_thresh"`
	FreeThresh     float64    `yaml:"free_thresh"`
	Negate         int        `yaml:"negate"`
}

// LoadOccupancyMap reads a map descriptor YAML and its raster (PGM or PNG)
// into a ProbabilityGrid. Pixels above the occupied threshold keep their
// graded occupancy, pixels below the free threshold become MinProbability,
// and the band between stays unknown. Image row 0 is the top of the map,
// so rows map to decreasing y cells.
func LoadOccupancyMap(yamlPath string) (*ProbabilityGrid, error) {
	data, err := os.ReadFile(yamlPath)
	if err != nil {
		return nil, fmt.Errorf("reading map descriptor: %w", err)
	}
	desc, err := parseMapDescriptor(data, yamlPath)
	if err != nil {
		return nil, err
	}

	imagePath := desc.Image
	if !filepath.IsAbs(imagePath) {
		imagePath = filepath.Join(filepath.Dir(yamlPath), imagePath)
	}
	gray, err := loadGrayImage(imagePath)
	if err != nil {
		return nil, err
	}
	return desc.grid(gray), nil
}

// parseMapDescriptor unmarshals and validates a descriptor; source names the
// file or URL for error messages.
func parseMapDescriptor(data []byte, source string) (*MapDescriptor, error) {
	var desc MapDescriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("parsing map descriptor: %w", err)
	}
	if desc.Image == "" {
		return nil, fmt.Errorf("map descriptor %s: image is required", source)
	}
	if desc.Resolution <= 0 {
		return nil, fmt.Errorf("map descriptor %s: resolution %g is not positive", source, desc.Resolution)
	}
	if desc.Origin[2] != 0 {
		return nil, fmt.Errorf("map descriptor %s: rotated origins are not supported", source)
	}
	return &desc, nil
}

// grid converts a decoded raster to a probability grid per the descriptor's
// thresholds and origin.
func (d *MapDescriptor) grid(img *image.Gray) *ProbabilityGrid {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	limits := NewMapLimits(d.Resolution, d.Origin[0], d.Origin[1], w, h)
	g := NewProbabilityGrid(limits)

	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			v := float64(img.GrayAt(img.Bounds().Min.X+col, img.Bounds().Min.Y+row).Y)
			occ := (255 - v) / 255
			if d.Negate != 0 {
				occ = v / 255
			}
			cell := CellIndex{X: col, Y: h - 1 - row}
			switch {
			case occ > d.OccupiedThresh:
				g.SetProbability(cell, occ)
			case occ < d.FreeThresh:
				g.SetProbability(cell, MinProbability)
			default:
				// Between the thresholds the cell stays unknown.
			}
		}
	}
	return g
}

// loadGrayImage decodes a PGM or PNG raster file to grayscale.
func loadGrayImage(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening map image: %w", err)
	}
	defer f.Close()

	gray, err := decodeGrayImage(f, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("decoding map image %s: %w", path, err)
	}
	return gray, nil
}

// decodeGrayImage decodes a raster stream to grayscale; ext selects the
// format (".pgm" or ".png").
func decodeGrayImage(r io.Reader, ext string) (*image.Gray, error) {
	var img image.Image
	var err error
	switch ext {
	case ".pgm":
		img, err = decodePGM(bufio.NewReader(r))
	case ".png":
		img, err = png.Decode(r)
	default:
		return nil, fmt.Errorf("unsupported map image format %q", ext)
	}
	if err != nil {
		return nil, err
	}

	if gray, ok := img.(*image.Gray); ok {
		return gray, nil
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray, nil
}

// decodePGM reads the binary (P5) and ASCII (P2) netpbm grayscale formats,
// which neither the standard library nor x/image provide. Comments and
// arbitrary whitespace in the header are honored; 16-bit rasters are scaled
// down to 8 bits.
func decodePGM(r *bufio.Reader) (*image.Gray, error) {
	magic, err := pgmToken(r)
	if err != nil {
		return nil, err
	}
	if magic != "P5" && magic != "P2" {
		return nil, fmt.Errorf("not a PGM: magic %q", magic)
	}

	var dims [3]int // width, height, maxval
	for i := range dims {
		tok, err := pgmToken(r)
		if err != nil {
			return nil, err
		}
		n := 0
		if _, err := fmt.Sscanf(tok, "%d", &n); err != nil || n <= 0 {
			return nil, fmt.Errorf("bad PGM header value %q", tok)
		}
		dims[i] = n
	}
	width, height, maxval := dims[0], dims[1], dims[2]
	if maxval > 65535 {
		return nil, fmt.Errorf("bad PGM maxval %d", maxval)
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	if magic == "P2" {
		for i := 0; i < width*height; i++ {
			tok, err := pgmToken(r)
			if err != nil {
				return nil, err
			}
			v := 0
			if _, err := fmt.Sscanf(tok, "%d", &v); err != nil {
				return nil, fmt.Errorf("bad PGM sample %q", tok)
			}
			img.Pix[i] = uint8(v * 255 / maxval)
		}
		return img, nil
	}

	// P5: the header's final whitespace byte was consumed by pgmToken.
	bytesPerSample := 1
	if maxval > 255 {
		bytesPerSample = 2
	}
	raw := make([]byte, width*height*bytesPerSample)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("reading PGM raster: %w", err)
	}
	for i := 0; i < width*height; i++ {
		if bytesPerSample == 1 {
			img.Pix[i] = uint8(int(raw[i]) * 255 / maxval)
		} else {
			v := int(raw[2*i])<<8 | int(raw[2*i+1])
			img.Pix[i] = uint8(v * 255 / maxval)
		}
	}
	return img, nil
}

// pgmToken returns the next whitespace-delimited header token, skipping
// '#' comments through end of line.
func pgmToken(r *bufio.Reader) (string, error) {
	var tok []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && len(tok) > 0 {
				return string(tok), nil
			}
			return "", fmt.Errorf("reading PGM header: %w", err)
		}
		switch {
		case b == '#':
			if _, err := r.ReadString('\n'); err != nil && err != io.EOF {
				return "", fmt.Errorf("reading PGM comment: %w", err)
			}
		case b == ' ' || b == '\t' || b == '\r' || b == '\n':
			if len(tok) > 0 {
				return string(tok), nil
			}
		default:
			tok = append(tok, b)
		}
	}
}
