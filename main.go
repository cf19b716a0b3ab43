package main

import (
	"flag"
	"fmt"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	configFile     = flag.String("config", "config.yaml", "Path to configuration file")
	matchOnly      = flag.Bool("match", false, "Correct one scan's pose against the map and exit (test mode)")
	surfaceOnly    = flag.Bool("surface", false, "Render one match's score surface heatmap and exit")
	renderOnly     = flag.Bool("render", false, "Render the occupancy map and exit")
	exportOnly     = flag.Bool("export", false, "Export saved trajectories as GeoJSON and exit")
	mapFile        = flag.String("map", "", "Map descriptor YAML, a path or http(s) URL (overrides the config map)")
	scanFile       = flag.String("scan", "", "Scan frame JSON file for --match and --surface")
	posePrior      = flag.String("pose", "0,0,0", "Initial pose estimate as x,y,theta (meters, radians)")
	refinerName    = flag.String("refiner", "", "Pose refiner: correlative, icp or ndt (overrides config)")
	outputFile     = flag.String("output", "", "Output file (default depends on mode)")
	trajectoryFile = flag.String("trajectories", "", "Trajectory JSON file for --render, --export and service persistence")
	mqttMode       = flag.Bool("mqtt", false, "Run MQTT service mode for live pose correction")
	httpMode       = flag.Bool("http", false, "Enable HTTP server for maps and poses")
	httpAddr       = flag.String("http-addr", "", "HTTP listen address (overrides config, default :8090)")
	// Vector rendering flags
	renderFormat = flag.String("format", "raster", "Render format: raster, vector, or both")
	vectorFormat = flag.String("vector-format", "svg", "Vector output format: svg or png")
	gridSpacing  = flag.Float64("grid-spacing", 1.0, "Grid line spacing in meters for vector renders")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("carto %s\n", Version)
		return
	}
	fmt.Printf("carto version: %s\n", Version)

	app := NewApp()
	app.ApplyOptions(AppOptions{
		ConfigFile:     *configFile,
		MapFile:        *mapFile,
		ScanFile:       *scanFile,
		InitialPose:    *posePrior,
		RefinerName:    *refinerName,
		OutputFile:     *outputFile,
		TrajectoryFile: *trajectoryFile,
		RenderFormat:   *renderFormat,
		VectorFormat:   *vectorFormat,
		GridSpacing:    *gridSpacing,
		HTTPAddr:       *httpAddr,
		MqttMode:       *mqttMode,
		HTTPMode:       *httpMode,
	})

	if *matchOnly {
		app.RunMatch()
		return
	}

	if *surfaceOnly {
		app.RunSurface()
		return
	}

	if *renderOnly {
		app.RunRender()
		return
	}

	if *exportOnly {
		app.RunExport()
		return
	}

	if *mqttMode || *httpMode {
		app.RunService()
		return
	}

	fmt.Println("carto pose-correction service")
	fmt.Println("Use --match --scan=FILE to correct one scan against the map")
	fmt.Println("Use --surface --scan=FILE to render the score surface for one scan")
	fmt.Println("Use --render to output the occupancy map as PNG or SVG")
	fmt.Println("Use --export to dump saved trajectories as GeoJSON")
	fmt.Println("Use --mqtt to run the live pose-correction service")
	fmt.Println("Use --http to serve maps and poses over HTTP")
	fmt.Println("Use --mqtt --http to run both together")
	fmt.Println("\nConfiguration:")
	fmt.Println("  config.yaml - MQTT broker, robots, map and matcher settings")
}
