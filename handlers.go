package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/LChen-99/carto/scanmatch"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(app *App) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			HasPoses  bool      `json:"hasPoses"`
			Robots    []string  `json:"robots"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			HasPoses:  app.State.HasPoses(),
			Robots:    app.State.Robots(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	// All latest corrected poses
	mux.HandleFunc("/poses", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(app.State.Poses()); err != nil {
			log.Printf("Error encoding poses: %v", err)
		}
	})

	// One robot's latest pose
	mux.HandleFunc("/pose/", func(w http.ResponseWriter, r *http.Request) {
		robot := strings.TrimPrefix(r.URL.Path, "/pose/")
		tp, ok := app.State.LatestPose(robot)
		if !ok {
			http.Error(w, "No pose for robot", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(tp); err != nil {
			log.Printf("Error encoding pose for %s: %v", robot, err)
		}
	})

	// Recent match scores per robot, oldest first
	mux.HandleFunc("/scores", func(w http.ResponseWriter, r *http.Request) {
		scores := make(map[string][]float64)
		for _, robot := range app.State.Robots() {
			scores[robot] = app.State.Scores(robot)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(scores); err != nil {
			log.Printf("Error encoding scores: %v", err)
		}
	})

	// Occupancy map raster
	mux.HandleFunc("/map.png", func(w http.ResponseWriter, r *http.Request) {
		renderer := scanmatch.NewMapRenderer(app.Grid)
		img := renderer.RenderBase()
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := scanmatch.EncodePNG(w, img); err != nil {
			log.Printf("Error encoding map PNG: %v", err)
		}
	})

	// Occupancy map vector with trajectories
	mux.HandleFunc("/map.svg", func(w http.ResponseWriter, r *http.Request) {
		vectorRenderer := scanmatch.NewVectorRenderer(app.Grid, app.State)
		if app.GridSpacing > 0 {
			vectorRenderer.GridSpacing = app.GridSpacing
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := vectorRenderer.RenderToSVG(w); err != nil {
			log.Printf("Error encoding map SVG: %v", err)
		}
	})

	// Live map: base map plus trails, latest scans and poses
	mux.HandleFunc("/live.png", func(w http.ResponseWriter, r *http.Request) {
		renderer := scanmatch.NewMapRenderer(app.Grid)
		img := renderer.RenderLive(app.State)
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := scanmatch.EncodePNG(w, img); err != nil {
			log.Printf("Error encoding live PNG: %v", err)
		}
	})

	// Score surface heatmap for a robot's latest scan, computed on demand
	mux.HandleFunc("/surface/", func(w http.ResponseWriter, r *http.Request) {
		robot := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/surface/"), ".png")
		frame, ok := app.State.LatestScan(robot)
		if !ok {
			http.Error(w, "No scan for robot", http.StatusNotFound)
			return
		}
		scan := frame.PointCloud()
		if len(scan) == 0 {
			http.Error(w, "Scan has no usable points", http.StatusServiceUnavailable)
			return
		}

		matcher := scanmatch.NewMatcher(app.matcherOptions())
		surface, err := matcher.ScoreSurface(app.seedPose(robot), scan, app.Grid)
		if err != nil {
			log.Printf("Error computing surface for %s: %v", robot, err)
			http.Error(w, "Search failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := surface.WriteHeatmapPNG(w); err != nil {
			log.Printf("Error encoding surface PNG: %v", err)
		}
	})

	// Re-match overlay for a robot's latest scan: the scan at its seed pose
	// versus a fresh correction, without touching the recorded state
	mux.HandleFunc("/match/", func(w http.ResponseWriter, r *http.Request) {
		robot := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/match/"), ".png")
		frame, ok := app.State.LatestScan(robot)
		if !ok {
			http.Error(w, "No scan for robot", http.StatusNotFound)
			return
		}
		scan := frame.PointCloud()
		if len(scan) == 0 {
			http.Error(w, "Scan has no usable points", http.StatusServiceUnavailable)
			return
		}
		if app.Refiner == nil {
			http.Error(w, "No refiner configured", http.StatusServiceUnavailable)
			return
		}

		initial := app.seedPose(robot)
		var corrected scanmatch.Pose
		score, err := app.Refiner.Refine(initial, scan, &corrected)
		if err != nil {
			log.Printf("Error re-matching %s: %v", robot, err)
			http.Error(w, "Match failed", http.StatusInternalServerError)
			return
		}
		log.Printf("[HTTP] re-match %s score=%.3f", robot, score)

		renderer := scanmatch.NewMapRenderer(app.Grid)
		img := renderer.RenderMatch(scan, initial, corrected)
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := scanmatch.EncodePNG(w, img); err != nil {
			log.Printf("Error encoding match PNG: %v", err)
		}
	})

	// Trajectories as GeoJSON
	mux.HandleFunc("/trajectory.geojson", func(w http.ResponseWriter, r *http.Request) {
		if !app.State.HasPoses() {
			http.Error(w, "No poses available", http.StatusServiceUnavailable)
			return
		}
		limits := app.Grid.Limits()
		fc := scanmatch.TrajectoriesToFeatureCollection(app.State, limits, limits.Resolution)
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(fc); err != nil {
			log.Printf("Error encoding trajectories: %v", err)
		}
	})

	// Default route serves HTML page embedding the live map
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>carto</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
html,body{width:100%;height:100%;overflow:hidden;background:#1a1a1a}
img{display:block;width:100vw;height:100vh;object-fit:contain}
</style>
</head>
<body>
<img src="/live.png" alt="Live Map">
</body>
</html>`)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}
