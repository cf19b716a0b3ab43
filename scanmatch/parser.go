package scanmatch

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// ParseScanFile reads and parses a scan frame JSON file.
func ParseScanFile(path string) (*ScanFrame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return ParseScanJSON(data)
}

// ParseScanJSON parses scan frame JSON data and validates it.
func ParseScanJSON(data []byte) (*ScanFrame, error) {
	var f ScanFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the frame's internal consistency.
func (f *ScanFrame) Validate() error {
	if f.RangeMin < 0 {
		return fmt.Errorf("range_min %g is negative", f.RangeMin)
	}
	if f.RangeMax <= f.RangeMin {
		return fmt.Errorf("range_max %g does not exceed range_min %g", f.RangeMax, f.RangeMin)
	}
	if len(f.Ranges) > 1 && f.AngleIncrement == 0 {
		return fmt.Errorf("angle_increment is 0 for %d ranges", len(f.Ranges))
	}
	return nil
}

// PointCloud converts the polar ranges to Cartesian points in the sensor
// frame. Non-finite ranges and ranges outside [RangeMin, RangeMax] are
// dropouts and produce no point; the remaining points keep the sweep order.
func (f *ScanFrame) PointCloud() PointCloud {
	cloud := make(PointCloud, 0, len(f.Ranges))
	angle := f.AngleMin
	for _, r := range f.Ranges {
		if !math.IsNaN(r) && !math.IsInf(r, 0) && r >= f.RangeMin && r <= f.RangeMax {
			cloud = append(cloud, Point{
				X: r * math.Cos(angle),
				Y: r * math.Sin(angle),
			})
		}
		angle += f.AngleIncrement
	}
	return cloud
}

// ParsePose parses an "x,y,theta" string (meters, meters, radians) as used
// on the command line.
func ParsePose(s string) (Pose, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Pose{}, fmt.Errorf("pose %q: want x,y,theta", s)
	}
	vals := make([]float64, 3)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return Pose{}, fmt.Errorf("pose %q: %w", s, err)
		}
		vals[i] = v
	}
	return Pose{X: vals[0], Y: vals[1], Theta: NormalizeAngle(vals[2])}, nil
}
