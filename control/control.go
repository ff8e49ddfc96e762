// Package control implements spec component C10, ControlPlane: a UDP JSON
// command listener plus an HTTP status/record/mode/model surface. Grounded
// on websocket/websocket.go's CommandRegistry dispatch table (a map from
// command type string to handler func) and the teacher's plain net/http
// handlers in main.go.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/n0remac/netcam-core/detect"
	"github.com/n0remac/netcam-core/errs"
	"github.com/n0remac/netcam-core/manager"
	"github.com/n0remac/netcam-core/pipeline"
)

// Command is the wire shape of a UDP control datagram.
type Command struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

// Reply is the wire shape of a UDP control response. An empty Type means
// "no reply should be sent".
type Reply struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

func okReply(payload string) Reply    { return Reply{Type: "ok", Payload: payload} }
func errReply(msg string) Reply       { return Reply{Type: "error", Payload: msg} }
func noReply() Reply                  { return Reply{} }
func (r Reply) isEmpty() bool         { return r.Type == "" }

// DetectorFactories resolves a detect.Kind + model path into a Factory the
// Manager can hand to the Registry. This is supplied by cmd/netcamd, which
// knows which concrete Detector constructors exist.
type DetectorFactories func(kind detect.Kind, modelPath string) detect.Factory

// ControlPlane owns a UDP listener and an HTTP mux, both dispatching into
// the same Manager.
type ControlPlane struct {
	log *slog.Logger
	mgr *manager.Manager

	factories DetectorFactories

	udpConn *net.UDPConn

	registry       *prometheus.Registry
	depthGauge     *prometheus.GaugeVec
	dropsTotal     *prometheus.CounterVec

	recordMu    chan struct{} // 1-buffered token guarding record start/stop
	recording   bool
}

// New constructs a ControlPlane bound to mgr. factories resolves detector
// model switches; it may be nil if model switching is not wired yet.
func New(log *slog.Logger, mgr *manager.Manager, factories DetectorFactories) *ControlPlane {
	reg := prometheus.NewRegistry()
	depth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netcam_consumer_queue_depth", Help: "Current queue depth per consumer.",
	}, []string{"consumer"})
	drops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netcam_consumer_drops_total", Help: "Total packets dropped per consumer due to a full queue.",
	}, []string{"consumer"})
	reg.MustRegister(depth, drops)
	mgr.SetMetrics(depth, drops)

	return &ControlPlane{
		log:        log,
		mgr:        mgr,
		factories:  factories,
		registry:   reg,
		depthGauge: depth,
		dropsTotal: drops,
		recordMu:   make(chan struct{}, 1),
	}
}

// ListenUDP binds the control datagram listener on addr (e.g. ":9000") and
// starts serving in a background goroutine. Call Close to stop it.
func (c *ControlPlane) ListenUDP(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("control: resolve udp addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("control: listen udp: %w", err)
	}
	c.udpConn = conn
	go c.udpServeLoop()
	return nil
}

// LocalUDPAddr returns the bound UDP address, or nil if ListenUDP has not
// been called.
func (c *ControlPlane) LocalUDPAddr() net.Addr {
	if c.udpConn == nil {
		return nil
	}
	return c.udpConn.LocalAddr()
}

// Close stops the UDP listener.
func (c *ControlPlane) Close() error {
	if c.udpConn != nil {
		return c.udpConn.Close()
	}
	return nil
}

func (c *ControlPlane) udpServeLoop() {
	buf := make([]byte, 4096)
	for {
		n, src, err := c.udpConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		reply := c.handleDatagram(buf[:n])
		if reply.isEmpty() {
			continue
		}
		out, err := json.Marshal(reply)
		if err != nil {
			continue
		}
		_, _ = c.udpConn.WriteToUDP(out, src)
	}
}

// handleDatagram parses one datagram and dispatches it, returning the
// reply to send (if any).
func (c *ControlPlane) handleDatagram(raw []byte) Reply {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return c.handleLegacyCommand(string(raw))
	}
	return c.handleCommand(cmd)
}

// handleLegacyCommand matches malformed-JSON datagrams by substring against
// uppercase model names, exactly as the original command listener did.
func (c *ControlPlane) handleLegacyCommand(raw string) Reply {
	upper := strings.ToUpper(raw)
	switch {
	case strings.Contains(upper, "YOLOV5"):
		return c.dispatchModelSwitch("yolov5")
	case strings.Contains(upper, "RETINAFACE"):
		return c.dispatchModelSwitch("retinaface")
	case strings.Contains(upper, "NONE"):
		return c.dispatchModelSwitch("none")
	default:
		return errReply("malformed command")
	}
}

func (c *ControlPlane) handleCommand(cmd Command) Reply {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch cmd.Type {
	case "model_switch":
		return c.dispatchModelSwitch(cmd.Payload)
	case "mode_switch":
		return c.dispatchModeSwitch(ctx, cmd.Payload)
	case "record_start":
		return c.dispatchRecordStart()
	case "record_stop":
		return c.dispatchRecordStop()
	case "webrtc_offer", "webrtc_answer", "webrtc_candidate":
		// Signaling payloads are an external collaborator's concern; the
		// control plane accepts these types without reply and neither
		// inspects nor forwards the SDP/ICE blob.
		return noReply()
	default:
		if c.log != nil {
			c.log.Info("control: unknown command type ignored", "type", cmd.Type)
		}
		return noReply()
	}
}

func (c *ControlPlane) dispatchModelSwitch(payload string) Reply {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch strings.ToLower(payload) {
	case "none":
		if err := c.mgr.SwitchDetector(ctx, detect.KindNone, "", nil); err != nil {
			return errReply(err.Error())
		}
		return okReply("none")
	case "yolov5":
		return c.switchDetector(ctx, detect.KindYOLOv5, payload)
	case "retinaface":
		return c.switchDetector(ctx, detect.KindRetinaFace, payload)
	default:
		return errReply(fmt.Sprintf("unknown model %q", payload))
	}
}

func (c *ControlPlane) switchDetector(ctx context.Context, kind detect.Kind, payload string) Reply {
	if c.factories == nil {
		return errReply("model switching not configured")
	}
	factory := c.factories(kind, payload)
	if factory == nil {
		return errReply(fmt.Sprintf("no detector factory for %q", payload))
	}
	if err := c.mgr.SwitchDetector(ctx, kind, payload, factory); err != nil {
		return errReply(err.Error())
	}
	return okReply(kind.String())
}

func (c *ControlPlane) dispatchModeSwitch(ctx context.Context, payload string) Reply {
	var mode pipeline.Mode
	switch strings.ToLower(payload) {
	case "parallel":
		mode = pipeline.ModeParallel
	case "serial":
		mode = pipeline.ModeSerial
	default:
		return errReply(fmt.Sprintf("unknown mode %q", payload))
	}
	if err := c.mgr.SwitchMode(ctx, mode); err != nil {
		return errReply(err.Error())
	}
	return okReply(mode.String())
}

// dispatchRecordStart and dispatchRecordStop set and clear the recording
// flag reported by /api/status. They do not start or stop an MP4 recorder.
func (c *ControlPlane) dispatchRecordStart() Reply {
	select {
	case c.recordMu <- struct{}{}:
		c.recording = true
		return okReply("recording")
	default:
		return errReply("already recording")
	}
}

func (c *ControlPlane) dispatchRecordStop() Reply {
	select {
	case <-c.recordMu:
		c.recording = false
		return okReply("stopped")
	default:
		return errReply("not recording")
	}
}

// statusResponse is the JSON shape served by GET /api/status.
type statusResponse struct {
	State          string                     `json:"state"`
	Mode           string                     `json:"mode"`
	Detector       string                     `json:"detector"`
	DegradedReason string                     `json:"degraded_reason,omitempty"`
	Consumers      []consumerStatusResponse   `json:"consumers"`
	Recording      bool                       `json:"recording"`
}

type consumerStatusResponse struct {
	Name  string `json:"name"`
	Depth int    `json:"depth"`
	Drops uint64 `json:"drops"`
}

// HTTPHandler builds the mux serving GET /api/status, POST /api/mode,
// POST /api/model, POST /api/record/start, POST /api/record/stop, and
// GET /metrics.
func (c *ControlPlane) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", c.serveStatus)
	mux.HandleFunc("/api/mode", c.serveModeSwitch)
	mux.HandleFunc("/api/model", c.serveModelSwitch)
	mux.HandleFunc("/api/record/start", func(w http.ResponseWriter, r *http.Request) {
		writeReply(w, c.dispatchRecordStart())
	})
	mux.HandleFunc("/api/record/stop", func(w http.ResponseWriter, r *http.Request) {
		writeReply(w, c.dispatchRecordStop())
	})
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return mux
}

func (c *ControlPlane) serveStatus(w http.ResponseWriter, r *http.Request) {
	st := c.mgr.Status()
	resp := statusResponse{
		State:     st.State.String(),
		Mode:      st.Mode.String(),
		Detector:  st.DetectorKind.String(),
		Recording: c.recording,
	}
	if st.DegradedReason != nil {
		resp.DegradedReason = st.DegradedReason.Error()
	}
	for _, cs := range st.Consumers {
		resp.Consumers = append(resp.Consumers, consumerStatusResponse{
			Name: cs.Name, Depth: cs.Depth, Drops: cs.Drops,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (c *ControlPlane) serveModeSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeReply(w, errReply(errs.ErrMalformed.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	writeReply(w, c.dispatchModeSwitch(ctx, cmd.Payload))
}

func (c *ControlPlane) serveModelSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeReply(w, errReply(errs.ErrMalformed.Error()))
		return
	}
	writeReply(w, c.dispatchModelSwitch(cmd.Payload))
}

func writeReply(w http.ResponseWriter, reply Reply) {
	w.Header().Set("Content-Type", "application/json")
	if reply.Type == "error" {
		w.WriteHeader(http.StatusBadRequest)
	}
	_ = json.NewEncoder(w).Encode(reply)
}
