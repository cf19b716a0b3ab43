package main

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/LChen-99/carto/scanmatch"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *scanmatch.Config
	Grid       scanmatch.Grid
	State      *scanmatch.StateTracker
	Refiner    scanmatch.PoseRefiner
	Reloc      *scanmatch.Relocalizer
	MQTTClient *scanmatch.MQTTClient
	Publisher  *scanmatch.Publisher

	// CLI Flags (effectively dependencies)
	ConfigFile     string
	MapFile        string
	ScanFile       string
	InitialPose    string
	RefinerName    string
	OutputFile     string
	TrajectoryFile string
	RenderFormat   string
	VectorFormat   string
	GridSpacing    float64
	HTTPAddr       string
	MqttMode       bool
	HTTPMode       bool
}

// AppOptions carries the parsed CLI flags into an App
type AppOptions struct {
	ConfigFile     string
	MapFile        string
	ScanFile       string
	InitialPose    string
	RefinerName    string
	OutputFile     string
	TrajectoryFile string
	RenderFormat   string
	VectorFormat   string
	GridSpacing    float64
	HTTPAddr       string
	MqttMode       bool
	HTTPMode       bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		State: scanmatch.NewStateTracker(),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.MapFile = opts.MapFile
	a.ScanFile = opts.ScanFile
	a.InitialPose = opts.InitialPose
	a.RefinerName = opts.RefinerName
	a.OutputFile = opts.OutputFile
	a.TrajectoryFile = opts.TrajectoryFile
	a.RenderFormat = opts.RenderFormat
	a.VectorFormat = opts.VectorFormat
	a.GridSpacing = opts.GridSpacing
	a.HTTPAddr = opts.HTTPAddr
	a.MqttMode = opts.MqttMode
	a.HTTPMode = opts.HTTPMode
}

// loadConfig loads and caches the service configuration
func (a *App) loadConfig() *scanmatch.Config {
	if a.Config != nil {
		return a.Config
	}
	config, err := scanmatch.LoadConfig(a.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	a.Config = config
	log.Printf("Loaded config from %s", a.ConfigFile)
	return config
}

// loadGrid loads the occupancy map the poses are corrected against. The
// --map flag overrides the config descriptor so the one-shot modes work
// without a config file.
func (a *App) loadGrid() scanmatch.Grid {
	if a.Grid != nil {
		return a.Grid
	}
	descriptor := a.MapFile
	if descriptor == "" {
		descriptor = a.loadConfig().Map.Descriptor
	}
	var grid *scanmatch.ProbabilityGrid
	var err error
	if strings.HasPrefix(descriptor, "http://") || strings.HasPrefix(descriptor, "https://") {
		grid, err = scanmatch.FetchOccupancyMap(descriptor)
	} else {
		grid, err = scanmatch.LoadOccupancyMap(descriptor)
	}
	if err != nil {
		log.Fatalf("Failed to load map: %v", err)
	}
	limits := grid.Limits()
	fmt.Printf("Loaded map: %dx%d cells at %.3fm/cell (%.1fm x %.1fm)\n",
		limits.Cells.NumX, limits.Cells.NumY, limits.Resolution,
		limits.MaxX()-limits.MinX, limits.MaxY()-limits.MinY)
	a.Grid = grid
	return grid
}

// matcherOptions resolves the search configuration; without a config file
// the stock options apply.
func (a *App) matcherOptions() scanmatch.MatcherOptions {
	if a.Config != nil {
		return a.Config.Matcher.Options()
	}
	return scanmatch.DefaultMatcherOptions()
}

// refinerKind resolves the pose-correction strategy name: the --refiner
// flag wins over the config, and the correlative matcher is the default.
func (a *App) refinerKind() string {
	if a.RefinerName != "" {
		return a.RefinerName
	}
	if a.Config != nil && a.Config.Refiner != "" {
		return a.Config.Refiner
	}
	return "correlative"
}

// buildRefiner constructs the configured pose-correction strategy. The
// correlative matcher scores scans directly against the grid; ICP and NDT
// register them onto point targets extracted from it.
func (a *App) buildRefiner(grid scanmatch.Grid) scanmatch.PoseRefiner {
	switch kind := a.refinerKind(); kind {
	case "correlative":
		return scanmatch.NewGridRefiner(scanmatch.NewMatcher(a.matcherOptions()), grid)
	case "icp":
		return scanmatch.NewICPRefiner(scanmatch.DefaultICPOptions(), gridTargetPoints(grid))
	case "ndt":
		return scanmatch.NewNDTRefiner(scanmatch.DefaultNDTOptions(), gridTargetPoints(grid))
	default:
		log.Fatalf("Unknown refiner %q (want correlative, icp or ndt)", kind)
		return nil
	}
}

// gridTargetPoints extracts the registration targets a cloud refiner aligns
// against: occupied cell centers for probability grids, near-surface cell
// centers for TSDFs.
func gridTargetPoints(grid scanmatch.Grid) []scanmatch.Point {
	switch g := grid.(type) {
	case *scanmatch.ProbabilityGrid:
		return g.OccupiedPoints(0.5)
	case *scanmatch.TSDF:
		return g.SurfacePoints(g.MaxTSD() / 2)
	default:
		return nil
	}
}

// loadScan parses the --scan file and converts it to a point cloud
func (a *App) loadScan() (*scanmatch.ScanFrame, scanmatch.PointCloud) {
	if a.ScanFile == "" {
		log.Fatal("No scan file given (use --scan=FILE)")
	}
	frame, err := scanmatch.ParseScanFile(a.ScanFile)
	if err != nil {
		log.Fatalf("Failed to parse scan %s: %v", a.ScanFile, err)
	}
	scan := frame.PointCloud()
	fmt.Printf("Scan: %d ranges, %d usable points\n", len(frame.Ranges), len(scan))
	if len(scan) == 0 {
		log.Fatal("Scan has no usable points")
	}
	return frame, scan
}

// RunMatch corrects a single scan's pose estimate and renders the result
func (a *App) RunMatch() {
	initial, err := scanmatch.ParsePose(a.InitialPose)
	if err != nil {
		log.Fatalf("Bad --pose: %v", err)
	}
	frame, scan := a.loadScan()
	grid := a.loadGrid()

	refiner := a.buildRefiner(grid)

	start := time.Now()
	var corrected scanmatch.Pose
	score, err := refiner.Refine(initial, scan, &corrected)
	if err != nil {
		log.Fatalf("Match failed: %v", err)
	}

	fmt.Printf("Refiner:   %s\n", a.refinerKind())
	fmt.Printf("Initial:   (%.3f, %.3f, %.3f)\n", initial.X, initial.Y, initial.Theta)
	fmt.Printf("Corrected: (%.3f, %.3f, %.3f)\n", corrected.X, corrected.Y, corrected.Theta)
	fmt.Printf("Score: %.4f in %v\n", score, time.Since(start))

	// Machine-readable result on one line, same schema as the MQTT publisher
	poseJSON, err := json.Marshal(scanmatch.RobotPose{
		Robot: frame.Robot,
		X:     corrected.X,
		Y:     corrected.Y,
		Theta: corrected.Theta,
		Score: score,
		Stamp: frame.Stamp,
	})
	if err != nil {
		log.Fatalf("Error encoding pose: %v", err)
	}
	fmt.Println(string(poseJSON))

	output := a.OutputFile
	if output == "" {
		output = "match.png"
	}
	renderer := scanmatch.NewMapRenderer(grid)
	img := renderer.RenderMatch(scan, initial, corrected)
	if err := renderer.SavePNG(output, img); err != nil {
		log.Fatalf("Error rendering match: %v", err)
	}
	fmt.Printf("Created: %s\n", output)
}

// RunSurface renders the full score surface for a single scan, the standard
// picture for judging search window and penalty settings
func (a *App) RunSurface() {
	initial, err := scanmatch.ParsePose(a.InitialPose)
	if err != nil {
		log.Fatalf("Bad --pose: %v", err)
	}
	_, scan := a.loadScan()
	grid := a.loadGrid()

	matcher := scanmatch.NewMatcher(a.matcherOptions())
	surface, err := matcher.ScoreSurface(initial, scan, grid)
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}

	best := surface.BestPose()
	fmt.Printf("Best: (%.3f, %.3f, %.3f) score %.4f\n",
		best.X, best.Y, best.Theta, surface.BestScore())

	output := a.OutputFile
	if output == "" {
		output = "surface.png"
	}
	outFile, err := os.Create(output)
	if err != nil {
		log.Fatalf("Error creating output file %s: %v", output, err)
	}
	defer func() {
		if err := outFile.Close(); err != nil {
			log.Printf("Warning: error closing output file %s: %v", output, err)
		}
	}()
	if err := surface.WriteHeatmapPNG(outFile); err != nil {
		log.Fatalf("Error rendering surface: %v", err)
	}
	fmt.Printf("Created: %s\n", output)
}

// RunRender renders the occupancy map, overlaying saved trajectories when
// --trajectories points at a save file
func (a *App) RunRender() {
	grid := a.loadGrid()

	if a.TrajectoryFile != "" {
		if err := a.State.LoadTrajectories(a.TrajectoryFile); err != nil {
			log.Printf("Warning: failed to load trajectories: %v", err)
		}
	}

	format := a.RenderFormat
	if format != "raster" && format != "vector" && format != "both" {
		log.Fatalf("Invalid format: %s (must be raster, vector, or both)", format)
	}
	if a.VectorFormat != "svg" && a.VectorFormat != "png" {
		log.Fatalf("Invalid vector format: %s (must be svg or png)", a.VectorFormat)
	}

	output := a.OutputFile
	if output == "" {
		output = "map.png"
	}

	// Raster rendering
	if format == "raster" || format == "both" {
		renderer := scanmatch.NewMapRenderer(grid)
		var img *image.RGBA
		if a.State.HasPoses() {
			img = renderer.RenderLive(a.State)
		} else {
			img = renderer.RenderBase()
		}

		outputPath := output
		if format == "both" && !strings.HasSuffix(outputPath, ".png") {
			outputPath = strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".png"
		}
		if err := renderer.SavePNG(outputPath, img); err != nil {
			log.Fatalf("Error rendering raster: %v", err)
		}
		fmt.Printf("Created raster: %s\n", outputPath)
	}

	// Vector rendering
	if format == "vector" || format == "both" {
		vectorRenderer := scanmatch.NewVectorRenderer(grid, a.State)
		if a.GridSpacing > 0 {
			vectorRenderer.GridSpacing = a.GridSpacing
		}

		outputPath := strings.TrimSuffix(output, filepath.Ext(output)) + "." + a.VectorFormat
		if format == "both" && a.VectorFormat == "png" {
			// Keep the raster and vector outputs apart
			outputPath = strings.TrimSuffix(output, filepath.Ext(output)) + "-vector.png"
		}

		outFile, err := os.Create(outputPath)
		if err != nil {
			log.Fatalf("Error creating output file %s: %v", outputPath, err)
		}
		defer func() {
			if err := outFile.Close(); err != nil {
				log.Printf("Warning: error closing output file %s: %v", outputPath, err)
			}
		}()

		if a.VectorFormat == "svg" {
			if err := vectorRenderer.RenderToSVG(outFile); err != nil {
				log.Fatalf("Error rendering vector SVG: %v", err)
			}
			fmt.Printf("Created vector SVG: %s\n", outputPath)
		} else {
			if err := vectorRenderer.RenderToPNG(outFile); err != nil {
				log.Fatalf("Error rendering vector PNG: %v", err)
			}
			fmt.Printf("Created vector PNG: %s\n", outputPath)
		}
	}

	fmt.Println("Done!")
}

// RunExport writes saved trajectories as a GeoJSON feature collection
func (a *App) RunExport() {
	grid := a.loadGrid()

	path := a.TrajectoryFile
	if path == "" && a.Config != nil {
		path = a.Config.TrajectoryPath
	}
	if path == "" {
		log.Fatal("No trajectory file given (use --trajectories=FILE or set trajectoryPath in the config)")
	}
	if err := a.State.LoadTrajectories(path); err != nil {
		log.Fatalf("Failed to load trajectories: %v", err)
	}

	// Simplify at map resolution: finer detail than a cell is noise.
	fc := scanmatch.TrajectoriesToFeatureCollection(a.State, grid.Limits(), grid.Limits().Resolution)
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		log.Fatalf("Error encoding GeoJSON: %v", err)
	}

	output := a.OutputFile
	if output == "" {
		output = "trajectories.geojson"
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		log.Fatalf("Error writing %s: %v", output, err)
	}
	fmt.Printf("Created: %s (%d features)\n", output, len(fc.Features))
}

// RunService starts the combined MQTT and/or HTTP service
func (a *App) RunService() {
	fmt.Println("Starting carto service...")

	// 1. Load config.yaml (required) and the occupancy map
	config := a.loadConfig()
	grid := a.loadGrid()

	// 2. Restore saved trajectories so matching reseeds where it left off
	trajectoryPath := a.TrajectoryFile
	if trajectoryPath == "" {
		trajectoryPath = config.TrajectoryPath
	}
	if trajectoryPath != "" {
		if err := a.State.LoadTrajectories(trajectoryPath); err != nil {
			log.Printf("Warning: no trajectories restored: %v", err)
		} else {
			log.Printf("Restored trajectories from %s", trajectoryPath)
		}
	}

	// 3. Build the pose-correction strategy. Relocalization wraps the
	// correlative matcher only; the registration refiners have no bounded
	// window to widen.
	a.Refiner = a.buildRefiner(grid)
	if a.refinerKind() == "correlative" && config.Relocalize.GetEnabled() {
		a.Reloc = scanmatch.NewRelocalizer(a.matcherOptions(), grid, config.Relocalize)
	}
	log.Printf("Pose refiner: %s (relocalization %v)", a.refinerKind(), a.Reloc != nil)

	// 4. Start MQTT if enabled
	if a.MqttMode {
		scanHandler := func(robotID string, rawPayload []byte, frame *scanmatch.ScanFrame, err error) {
			if err != nil {
				log.Printf("Error receiving scan for %s: %v (%d bytes)", robotID, err, len(rawPayload))
				return
			}
			a.handleScan(robotID, frame)
		}

		mqttClient, err := scanmatch.InitMQTT(config, scanHandler)
		if err != nil {
			log.Fatalf("Failed to initialize MQTT: %v", err)
		}
		a.MQTTClient = mqttClient

		if mqttClient == nil {
			log.Fatal("MQTT broker not configured in config.yaml")
		}

		mqttClient.SetSeedHandler(func(robot string, seed scanmatch.Pose) {
			log.Printf("%s: operator pose seed (%.3f, %.3f, %.3f)", robot, seed.X, seed.Y, seed.Theta)
			a.State.RecordPose(robot, seed, 0, time.Now().Unix())
		})

		// Initialize publisher now that we have MQTT client
		a.Publisher = scanmatch.NewPublisher(mqttClient.GetClient())
		a.Publisher.SetPrefix(config.MQTT.GetPublishPrefix())
		a.Publisher.SetQoS(config.MQTT.GetQoS())
		a.Publisher.SetRetain(config.MQTT.GetRetain())
		fmt.Println("MQTT pose publisher initialized")
	}

	// 5. Start HTTP server if enabled
	addr := a.HTTPAddr
	if addr == "" {
		addr = config.HTTP.GetAddr()
	}
	if a.HTTPMode {
		httpServer := newHTTPServer(a)
		go func() {
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
			log.Printf("[HTTP] Server stopped unexpectedly")
		}()
	}

	// 6. Print service info
	fmt.Println("\nService Running")
	fmt.Println("===============")

	if a.MqttMode {
		fmt.Println("\nMQTT:")
		fmt.Println("  Subscribed topics:")
		for _, rc := range config.Robots {
			fmt.Printf("    - %s (%s)\n", rc.ScanTopic, rc.ID)
		}
		prefix := config.MQTT.GetPublishPrefix()
		fmt.Printf("  Publishing to: %s/{robotID}/pose\n", prefix)
		fmt.Printf("  Combined poses: %s/poses\n", prefix)
	}

	if a.HTTPMode {
		fmt.Printf("\nHTTP endpoints (%s):\n", addr)
		fmt.Println("  GET /health              - Health check")
		fmt.Println("  GET /poses               - Latest corrected poses as JSON")
		fmt.Println("  GET /pose/{robot}        - One robot's latest pose")
		fmt.Println("  GET /scores              - Recent match scores per robot")
		fmt.Println("  GET /map.png             - Occupancy map raster")
		fmt.Println("  GET /map.svg             - Occupancy map vector")
		fmt.Println("  GET /live.png            - Map with live poses and scans")
		fmt.Println("  GET /surface/{robot}.png - Score surface for the latest scan")
		fmt.Println("  GET /match/{robot}.png   - Re-match overlay for the latest scan")
		fmt.Println("  GET /trajectory.geojson  - Trajectories as GeoJSON")
	}

	fmt.Println("\nPress Ctrl+C to stop")

	// 7. Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	fmt.Println("\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if trajectoryPath != "" {
		if err := a.State.SaveTrajectories(trajectoryPath); err != nil {
			log.Printf("Error saving trajectories: %v", err)
		} else {
			log.Printf("Saved trajectories to %s", trajectoryPath)
		}
	}
	fmt.Println("Service stopped")
}

// handleScan runs one pose correction for an incoming scan and publishes
// the result
func (a *App) handleScan(robotID string, frame *scanmatch.ScanFrame) {
	a.State.RecordScan(robotID, frame)

	scan := frame.PointCloud()
	if len(scan) == 0 {
		log.Printf("%s: scan has no usable points, skipping", robotID)
		return
	}

	initial := a.seedPose(robotID)

	start := time.Now()
	var corrected scanmatch.Pose
	var score float64
	var err error
	if a.Reloc != nil {
		score, err = a.Reloc.Match(robotID, initial, scan, &corrected)
	} else {
		score, err = a.Refiner.Refine(initial, scan, &corrected)
	}
	if err != nil {
		log.Printf("%s: match failed: %v", robotID, err)
		return
	}

	stamp := frame.Stamp
	if stamp == 0 {
		stamp = time.Now().Unix()
	}
	a.State.RecordPose(robotID, corrected, score, stamp)

	log.Printf("%s: (%.2f, %.2f, %.2f) -> (%.2f, %.2f, %.2f) score=%.3f in %v",
		robotID, initial.X, initial.Y, initial.Theta,
		corrected.X, corrected.Y, corrected.Theta, score, time.Since(start))

	if a.Publisher != nil {
		if err := a.Publisher.PublishPose(robotID, corrected, score, stamp); err != nil {
			log.Printf("Error publishing pose for %s: %v", robotID, err)
		}
	}
}

// seedPose returns the robot's best-known pose for seeding the next match:
// the last corrected pose (or operator seed), else the configured initial
// estimate, else the origin.
func (a *App) seedPose(robotID string) scanmatch.Pose {
	if tp, ok := a.State.LatestPose(robotID); ok {
		return tp.Pose
	}
	if a.Config != nil {
		if rc := a.Config.GetRobotByID(robotID); rc != nil {
			return rc.GetInitial()
		}
	}
	return scanmatch.Pose{}
}
