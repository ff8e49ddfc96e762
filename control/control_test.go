package control_test

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/n0remac/netcam-core/control"
	"github.com/n0remac/netcam-core/detect"
	"github.com/n0remac/netcam-core/hwsession"
	"github.com/n0remac/netcam-core/manager"
	"github.com/n0remac/netcam-core/pipeline"
)

func newTestManager() *manager.Manager {
	backend := hwsession.NewSimBackend()
	cfg := pipeline.Config{
		Width: 640, Height: 480, FrameRate: 30,
		Codec: hwsession.CodecH264, BitrateKbps: 4000,
		RGBPoolSize: 4, YUVPoolSize: 4, ModelChnW: 320, ModelChnH: 320,
	}
	return manager.New(nil, backend, cfg)
}

func factories(kind detect.Kind, modelPath string) detect.Factory {
	switch kind {
	case detect.KindYOLOv5:
		return func() detect.Detector {
			return detect.NewGridAnchorDetector(320, 320, 3, []string{"a", "b", "c"}, detect.NewSimNPU())
		}
	case detect.KindRetinaFace:
		return func() detect.Detector { return detect.NewFaceDetector(320, 320, detect.NewSimNPU()) }
	default:
		return nil
	}
}

func TestControlPlaneModeSwitchViaHTTP(t *testing.T) {
	mgr := newTestManager()
	cp := control.New(nil, mgr, factories)
	srv := httptest.NewServer(cp.HTTPHandler())
	defer srv.Close()

	body, _ := json.Marshal(control.Command{Type: "mode_switch", Payload: "parallel"})
	resp, err := http.Post(srv.URL+"/api/mode", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	var reply control.Reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	require.Equal(t, "ok", reply.Type)

	statusResp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer statusResp.Body.Close()
	require.Equal(t, http.StatusOK, statusResp.StatusCode)
}

func TestControlPlaneModelSwitchViaHTTP(t *testing.T) {
	mgr := newTestManager()
	cp := control.New(nil, mgr, factories)
	srv := httptest.NewServer(cp.HTTPHandler())
	defer srv.Close()

	body, _ := json.Marshal(control.Command{Type: "model_switch", Payload: "yolov5"})
	resp, err := http.Post(srv.URL+"/api/model", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	var reply control.Reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	require.Equal(t, "ok", reply.Type)
}

func TestControlPlaneRecordStartStopIsExclusive(t *testing.T) {
	mgr := newTestManager()
	cp := control.New(nil, mgr, factories)
	srv := httptest.NewServer(cp.HTTPHandler())
	defer srv.Close()

	resp1, err := http.Post(srv.URL+"/api/record/start", "application/json", nil)
	require.NoError(t, err)
	defer resp1.Body.Close()
	var r1 control.Reply
	require.NoError(t, json.NewDecoder(resp1.Body).Decode(&r1))
	require.Equal(t, "ok", r1.Type)

	resp2, err := http.Post(srv.URL+"/api/record/start", "application/json", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	var r2 control.Reply
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&r2))
	require.Equal(t, "error", r2.Type)
}

func TestControlPlaneMetricsEndpointServesPrometheusExposition(t *testing.T) {
	mgr := newTestManager()
	cp := control.New(nil, mgr, factories)
	srv := httptest.NewServer(cp.HTTPHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestControlPlaneUDPMalformedCommandFallsBackToSubstringMatch(t *testing.T) {
	mgr := newTestManager()
	cp := control.New(nil, mgr, factories)
	require.NoError(t, cp.ListenUDP("127.0.0.1:0"))
	defer cp.Close()

	client, err := net.DialUDP("udp", nil, cp.LocalUDPAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("@@@not-json@@@"))
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 512)
	n, err := client.Read(buf)
	require.NoError(t, err)

	var reply control.Reply
	require.NoError(t, json.Unmarshal(buf[:n], &reply))
	require.Equal(t, "error", reply.Type)
}

func TestControlPlaneUDPLegacyModelSwitchBySubstring(t *testing.T) {
	mgr := newTestManager()
	cp := control.New(nil, mgr, factories)
	require.NoError(t, cp.ListenUDP("127.0.0.1:0"))
	defer cp.Close()

	client, err := net.DialUDP("udp", nil, cp.LocalUDPAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("legacy YOLOV5 switch"))
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 512)
	n, err := client.Read(buf)
	require.NoError(t, err)

	var reply control.Reply
	require.NoError(t, json.Unmarshal(buf[:n], &reply))
	require.Equal(t, "ok", reply.Type)
}
