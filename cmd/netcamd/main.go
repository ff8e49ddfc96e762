// Command netcamd wires up the media pipeline orchestrator: a SimBackend,
// a PipelineManager, a ControlPlane, and the registered stream consumers,
// then blocks until SIGINT/SIGTERM. Grounded on cmd/client/main.go's small
// flag-parsing main that calls a single Setup() and on cmd/servo/main.go's
// signal.Notify + graceful-teardown shape, generalized to spf13/cobra per
// SPEC_FULL §6's CLI section.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/pion/rtp"
	"github.com/spf13/cobra"

	"github.com/n0remac/netcam-core/consumers/mp4rec"
	"github.com/n0remac/netcam-core/consumers/rtsp"
	"github.com/n0remac/netcam-core/consumers/wspreview"
	"github.com/n0remac/netcam-core/control"
	"github.com/n0remac/netcam-core/detect"
	"github.com/n0remac/netcam-core/dispatch"
	"github.com/n0remac/netcam-core/hwsession"
	"github.com/n0remac/netcam-core/manager"
	"github.com/n0remac/netcam-core/overlay"
	"github.com/n0remac/netcam-core/pipeline"
)

var (
	flagWidth, flagHeight int
	flagFrameRate         int
	flagBitrateKbps       int
	flagModelW, flagModelH int
	flagUDPAddr           string
	flagHTTPAddr          string
	flagRecordingsDir     string
	flagLogLevel          string
	flagOSDMaxRegions     int
)

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: lvl}))
}

// noopRTSPSink is the placeholder external-collaborator sink for the RTSP
// consumer: the RTSP server library itself is out of scope per spec §1, so
// netcamd wires the consumer to a sink that discards every packet until a
// real RTSP server package is substituted.
type noopRTSPSink struct{ log *slog.Logger }

func (s *noopRTSPSink) WriteRTP(pkt *rtp.Packet) error { return nil }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "netcamd",
		Short: "Media pipeline orchestrator for the network camera firmware core",
		RunE:  runDaemon,
	}
	flags := root.Flags()
	flags.IntVar(&flagWidth, "width", 1920, "full-resolution frame width")
	flags.IntVar(&flagHeight, "height", 1080, "full-resolution frame height")
	flags.IntVar(&flagFrameRate, "framerate", 30, "VENC frame rate")
	flags.IntVar(&flagBitrateKbps, "bitrate-kbps", 10000, "VENC CBR target")
	flags.IntVar(&flagModelW, "model-width", 320, "NPU model input width")
	flags.IntVar(&flagModelH, "model-height", 320, "NPU model input height")
	flags.StringVar(&flagUDPAddr, "udp-addr", ":9000", "UDP control datagram listen address")
	flags.StringVar(&flagHTTPAddr, "http-addr", ":8080", "HTTP status/control listen address")
	flags.StringVar(&flagRecordingsDir, "recordings-dir", "recordings", "directory for recorded MP4 files")
	defaultLogLevel := os.Getenv("NETCAM_LOG_LEVEL")
	if defaultLogLevel == "" {
		defaultLogLevel = "info"
	}
	flags.StringVar(&flagLogLevel, "log-level", defaultLogLevel, "log level: debug, info, warn, error (default from NETCAM_LOG_LEVEL)")
	flags.IntVar(&flagOSDMaxRegions, "osd-max-regions", 8, "hardware OSD region slots (0 disables the hardware OSD)")
	return root
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log := newLogger(flagLogLevel)

	backend := hwsession.NewSimBackend()
	cfg := pipeline.Config{
		Width: flagWidth, Height: flagHeight, FrameRate: flagFrameRate,
		Codec: hwsession.CodecH264, BitrateKbps: flagBitrateKbps,
		RGBPoolSize: 4, YUVPoolSize: 4, ModelChnW: flagModelW, ModelChnH: flagModelH,
	}
	// The hardware OSD back-end is selectable at construction and, per
	// spec §4.5, available in both parallel and serial mode; no real OSD
	// controller is in scope, so SimOSDBackend stands in for it the same
	// way SimBackend stands in for the vendor MPI SDK.
	if flagOSDMaxRegions > 0 {
		cfg.HardwareOSD = overlay.NewHardwareOSDRenderer(overlay.NewSimOSDBackend(), flagOSDMaxRegions)
	}
	mgr := manager.New(log, backend, cfg)

	factories := func(kind detect.Kind, modelPath string) detect.Factory {
		switch kind {
		case detect.KindYOLOv5:
			return func() detect.Detector {
				return detect.NewGridAnchorDetector(flagModelW, flagModelH, 80, defaultCOCOClasses(), detect.NewSimNPU())
			}
		case detect.KindRetinaFace:
			return func() detect.Detector {
				return detect.NewFaceDetector(flagModelW, flagModelH, detect.NewSimNPU())
			}
		default:
			return nil
		}
	}

	cp := control.New(log, mgr, factories)

	wsHub := wspreview.NewHub(log)
	rtspConsumer := rtsp.NewConsumer(log, &noopRTSPSink{log: log})
	recorder := mp4rec.NewRecorder(log, flagRecordingsDir)

	_ = mgr.RegisterConsumer(dispatch.ConsumerRegistration{Name: "wspreview", QueueCapacity: 16, Callback: wsHub.Callback})
	_ = mgr.RegisterConsumer(dispatch.ConsumerRegistration{Name: "rtsp", QueueCapacity: 64, Callback: rtspConsumer.Callback})
	_ = mgr.RegisterConsumer(dispatch.ConsumerRegistration{Name: "mp4rec", QueueCapacity: 64, Callback: recorder.Callback})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := mgr.SwitchMode(ctx, pipeline.ModeParallel); err != nil {
		cancel()
		return fmt.Errorf("netcamd: initial pipeline start: %w", err)
	}
	cancel()

	if err := cp.ListenUDP(flagUDPAddr); err != nil {
		return fmt.Errorf("netcamd: udp listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", cp.HTTPHandler())
	mux.HandleFunc("/ws/preview", wsHub.ServeHTTP)
	httpSrv := &http.Server{Addr: flagHTTPAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("netcamd: http server error", "error", err)
		}
	}()

	log.Info("netcamd started", "udp", flagUDPAddr, "http", flagHTTPAddr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("netcamd shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = cp.Close()
	return mgr.Stop(shutdownCtx)
}

func defaultCOCOClasses() []string {
	return []string{
		"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
		"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
		"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
		"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
		"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
		"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
		"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake",
		"chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop",
		"mouse", "remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
		"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
		"toothbrush",
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
