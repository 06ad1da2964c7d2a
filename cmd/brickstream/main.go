package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/gogpu/gputypes"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"brickstream/internal/logging"
	"brickstream/internal/models"
	"brickstream/pkg/catalog"
	"brickstream/pkg/compositor"
	"brickstream/pkg/config"
	"brickstream/pkg/device"
	"brickstream/pkg/scheduler"
	"brickstream/pkg/texpool"
	"brickstream/pkg/throughput"
	"brickstream/pkg/visualization"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "brickstream.yaml", "YAML configuration file")
	initConfig := flag.Bool("init-config", false, "Write the default configuration to -config and exit")
	numChannels := flag.Int("channels", 2, "Number of synthetic channel volumes")
	size := flag.Int("size", 96, "Edge length of each synthetic volume in voxels")
	brickSize := flag.Int("brick", 32, "Brick edge length (0 uses the configured size for large data)")
	frames := flag.Int("frames", 200, "Maximum number of frames to draw")
	cost := flag.Duration("cost", 4*time.Millisecond, "Simulated cost of one brick slice batch")
	maxSlices := flag.Int("max-slices", 4, "Slices drawn per brick (0 for all)")
	stream := flag.Bool("stream", true, "Stream even when the data is below the large-data threshold")
	interactive := flag.Bool("interactive", false, "Simulate a moving view using brick quotas")
	speed := flag.Float64("speed", 10, "Manipulation speed used to correct the interactive budget")
	withMask := flag.Bool("mask", false, "Bind a mask texture for the first channel")
	extractSlices := flag.Bool("extract-slices", false, "Save axis slices of the first channel")
	slicesDir := flag.String("slices-dir", "slices", "Directory to save extracted slices")
	width := flag.Int("width", 128, "Frame width")
	height := flag.Int("height", 128, "Frame height")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *numChannels < 1 || *size < 2 {
		flag.Usage()
		os.Exit(1)
	}
	if cfg.Output.Verbose {
		logging.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	fmt.Println("================================")
	fmt.Println("OUT-OF-CORE BRICK STREAMING AND MULTI-CHANNEL COMPOSITING")
	fmt.Println("================================")

	res := models.Dims{NX: *size, NY: *size, NZ: *size}
	volumes := make([]*catalog.Volume, *numChannels)
	var dataBytes int64
	for i := range volumes {
		volumes[i] = blobVolume(res, i, *numChannels)
		dataBytes += volumes[i].Size()
	}

	bricks := cfg.BrickSizeFor(dataBytes)
	if *brickSize > 0 {
		bricks = *brickSize
	}

	startTime := time.Now()
	channels := make([]*compositor.Channel, *numChannels)
	for i, vol := range volumes {
		cat, err := catalog.FromVolume(i, vol, bricks, r3.Vec{X: 1, Y: 1, Z: 1}, cfg.Processing.NumCores)
		if err != nil {
			log.Fatalf("Failed to build bricks for channel %d: %v", i, err)
		}
		params := compositor.DefaultParams()
		params.Color = channelColor(i)
		params.Alpha = 0.6
		channels[i] = &compositor.Channel{Source: cat, Params: params, Compression: cfg.Streaming.Compression}
	}
	if *withMask {
		mask := maskVolume(res)
		if err := channels[0].Source.(*catalog.Catalog).Extract(mask, models.ComponentMask, cfg.Processing.NumCores); err != nil {
			log.Fatalf("Failed to extract mask: %v", err)
		}
		channels[0].Mask = true
	}
	fmt.Printf("Built %d channels of %d bricks (%d voxel bricks) in %.2f seconds\n",
		*numChannels, len(channels[0].Source.Bricks()), bricks, time.Since(startTime).Seconds())

	order, err := cfg.Order()
	if err != nil {
		log.Fatalf("Invalid update order: %v", err)
	}
	schedOpts, err := scheduler.OptionsFromConfig(cfg)
	if err != nil {
		log.Fatalf("Invalid estimator: %v", err)
	}
	clock := scheduler.NewManualClock(time.Unix(0, 0))
	schedOpts.Clock = clock

	var features gputypes.Features
	if cfg.Streaming.Compression {
		features.Insert(gputypes.FeatureTextureCompressionBC)
	}
	dev := device.New(device.Options{
		Capacity: cfg.MemLimitBytes(),
		Features: features,
		Width:    *width,
		Height:   *height,
	})
	dev.OnDraw = func(int) { clock.Advance(*cost) }

	pool := texpool.New(dev, texpool.OptionsFromConfig(cfg))
	sched := scheduler.New(schedOpts)
	comp := compositor.New(pool, sched, dev, dev, device.PlaneSlicer{MaxSlices: *maxSlices}, compositor.Options{Order: order})

	streaming := *stream || cfg.StreamingRequired(dataBytes)
	comp.StartLoad(channels, streaming)
	fmt.Printf("Data size: %.1f MB, streaming: %v, budget: %v, order: %s\n",
		float64(dataBytes)/(1<<20), sched.Streaming(), sched.Budget(), order)

	moving := *interactive && cfg.InteractiveEnabled(dataBytes)
	if moving {
		sched.SetInteractive(true)
		sched.SetSpeed(*speed)
		sched.SetQuotaCenter(r3.Vec{X: 0.5, Y: 0.5, Z: 0.5})
	}

	view := compositor.View{ModelView: lookDown(), Projection: orthographic(), Snap: cfg.Render.Snap}
	opts := compositor.DrawOptions{
		Mode:            models.ModeOver,
		Interactive:     moving,
		Orthographic:    true,
		Interpolate:     true,
		SampleRate:      cfg.Render.SampleRate,
		InteractiveRate: cfg.Render.InteractiveRate,
		NoiseReduction:  cfg.Render.NoiseReduction,
		Pass:            models.PassVolume,
	}

	fmt.Println("\nFrame  drawn  culled  failed  finished/total  consumed")
	drawn := 0
	for f := 0; f < *frames; f++ {
		if moving {
			compositor.PlanQuota(channels, 0, sched, sched.Strategy())
		}
		dev.ClearFinal()
		result, err := comp.Draw(channels, view, opts)
		if err != nil {
			log.Fatalf("Frame %d failed: %v", f, err)
		}
		drawn++
		fmt.Printf("%5d  %5d  %6d  %6d  %8d/%-5d  %v\n",
			f, result.Drawn, result.Culled, result.Failed, sched.Finished(), sched.Total(), sched.Consumed())

		if cfg.Output.SaveFrames {
			saveFrame(dev, cfg.Output.FrameDir, f)
		}
		if result.Done || !sched.Streaming() {
			break
		}
	}

	diag := sched.Diagnostics()
	stats := pool.Stats()
	fmt.Printf("\nStreaming summary:\n")
	fmt.Printf("==================\n")
	fmt.Printf("Frames drawn: %d\n", drawn)
	fmt.Printf("State: %s (%d of %d bricks)\n", diag.State, diag.Finished, diag.Total)
	fmt.Printf("Last frame: %d bricks in %v of %v\n", diag.FrameBricks, diag.Consumed, diag.Budget)
	fmt.Printf("Textures: %d resident, %.1f MB, %d uploads, %d hits, %d evictions, %d failures\n",
		pool.Len(), float64(pool.ResidentBytes())/(1<<20), stats.Uploads, stats.Hits, stats.Evictions, stats.Failures)

	fmt.Println("\nThroughput estimates (bricks per frame):")
	for _, s := range []throughput.Strategy{throughput.Mean, throughput.Trend, throughput.Regression, throughput.Recent, throughput.Median} {
		if v, ok := throughput.Estimate(sched.History(), s); ok {
			fmt.Printf("- %-10s %.2f\n", s, v)
		}
	}

	// Extract and save slices if requested
	if *extractSlices {
		fmt.Println("\nExtracting slices of the first channel along all axes...")
		viewer, err := visualization.NewViewer(volumes[0])
		if err != nil {
			log.Fatalf("Failed to create viewer: %v", err)
		}
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(*slicesDir, axis)
			fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)

			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				log.Printf("Warning: Failed to save %s-axis slices: %v", axis, err)
			}
		}
		fmt.Println("Slice extraction completed!")
	}
}

// blobVolume fills a volume with a gaussian blob whose centre depends on the channel
func blobVolume(res models.Dims, channel, numChannels int) *catalog.Volume {
	angle := 2 * math.Pi * float64(channel) / float64(numChannels)
	center := r3.Vec{X: 0.5 + 0.2*math.Cos(angle), Y: 0.5 + 0.2*math.Sin(angle), Z: 0.5}
	const sigma2 = 0.05

	data := make([]byte, res.Voxels())
	for z := 0; z < res.NZ; z++ {
		for y := 0; y < res.NY; y++ {
			for x := 0; x < res.NX; x++ {
				p := r3.Vec{
					X: (float64(x) + 0.5) / float64(res.NX),
					Y: (float64(y) + 0.5) / float64(res.NY),
					Z: (float64(z) + 0.5) / float64(res.NZ),
				}
				d2 := r3.Norm2(r3.Sub(p, center))
				data[(z*res.NY+y)*res.NX+x] = byte(255 * math.Exp(-d2/sigma2))
			}
		}
	}
	return &catalog.Volume{Res: res, Pixel: models.PixelUint8, Channels: 1, Data: data}
}

// maskVolume selects the lower half of the volume
func maskVolume(res models.Dims) *catalog.Volume {
	data := make([]byte, res.Voxels())
	for z := 0; z < res.NZ/2; z++ {
		for i := 0; i < res.NX*res.NY; i++ {
			data[z*res.NX*res.NY+i] = 255
		}
	}
	return &catalog.Volume{Res: res, Pixel: models.PixelUint8, Channels: 1, Data: data}
}

func channelColor(i int) [3]float64 {
	palette := [][3]float64{{1, 0.2, 0.2}, {0.2, 1, 0.2}, {0.3, 0.4, 1}, {1, 1, 0.2}}
	return palette[i%len(palette)]
}

// lookDown places the eye above the volume centre looking along -z
func lookDown() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, -0.5,
		0, 1, 0, -0.5,
		0, 0, 1, -3,
		0, 0, 0, 1,
	})
}

// orthographic maps the volume's x/y extent and the eye-space depth range
// [-3, -2] to clip space
func orthographic() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		2, 0, 0, 0,
		0, 2, 0, 0,
		0, 0, -2, -5,
		0, 0, 0, 1,
	})
}

func saveFrame(dev *device.Device, dir string, index int) {
	w, h := dev.Size()
	img, err := visualization.FrameImage(dev.Luminance(), w, h, true)
	if err != nil {
		log.Printf("Warning: Failed to convert frame %d: %v", index, err)
		return
	}
	if _, err := visualization.SaveFrame(img, dir, index); err != nil {
		log.Printf("Warning: Failed to save frame %d: %v", index, err)
	}
}
