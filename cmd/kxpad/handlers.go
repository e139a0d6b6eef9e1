package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kxpad/kxpad/pkg/bandplan"
	"github.com/kxpad/kxpad/pkg/logging"
	"github.com/kxpad/kxpad/pkg/surface"
)

// webSurface is the concrete control surface: button presses arrive over
// HTTP or the websocket, rendered frames go out to websocket clients.
type webSurface struct {
	events chan surface.ButtonEvent

	mutex     sync.RWMutex
	frame     surface.Frame
	haveFrame bool
}

func newWebSurface() *webSurface {
	return &webSurface{events: make(chan surface.ButtonEvent, 32)}
}

// Events implements surface.Surface
func (w *webSurface) Events() <-chan surface.ButtonEvent { return w.events }

// Render implements surface.Surface: keep the latest frame for the push loop
func (w *webSurface) Render(f surface.Frame) {
	w.mutex.Lock()
	w.frame = f
	w.haveFrame = true
	w.mutex.Unlock()
}

func (w *webSurface) latest() (surface.Frame, bool) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return w.frame, w.haveFrame
}

// push delivers a button event without ever blocking an HTTP handler; a
// full queue drops the event, the client can press again.
func (w *webSurface) push(ev surface.ButtonEvent) bool {
	select {
	case w.events <- ev:
		return true
	default:
		return false
	}
}

func buttonByName(name string) surface.Button {
	switch name {
	case "up":
		return surface.ButtonUp
	case "down":
		return surface.ButtonDown
	case "confirm":
		return surface.ButtonConfirm
	default:
		return surface.ButtonNone
	}
}

// handleHome serves the control page
func (d *KXPADaemon) handleHome(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(homePage))
}

// handleGetStatus returns the current shared snapshot
func (d *KXPADaemon) handleGetStatus(c *gin.Context) {
	status, ok := d.sharedState.Peek()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "state busy, try again",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "running",
		"version":        Version,
		"band":           status.BandIndex,
		"band_name":      status.BandName,
		"power":          status.Power,
		"temp":           status.Temp,
		"swr":            status.SWR,
		"antenna":        surface.AntennaLabel(status.Antenna),
		"mode":           status.Mode,
		"faults":         status.Faults,
		"voltage":        status.Voltage,
		"link_connected": status.LinkConnected,
		"amp_connected":  status.AmpConnected,
	})
}

// handleGetBands lists the selectable bands
func (d *KXPADaemon) handleGetBands(c *gin.Context) {
	bands := make([]gin.H, 0, bandplan.Count())
	for i := 0; i < bandplan.Count(); i++ {
		bands = append(bands, gin.H{
			"index": i,
			"name":  bandplan.Name(i),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"bands": bands,
		"count": len(bands),
	})
}

// handleBandAction applies a button action or a direct band selection
func (d *KXPADaemon) handleBandAction(c *gin.Context) {
	var req struct {
		Action string `json:"action" binding:"required"`
		Index  int    `json:"index"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch req.Action {
	case "up", "down", "confirm":
		b := buttonByName(req.Action)
		ok := d.webSurface.push(surface.ButtonEvent{Button: b, Pressed: true})
		ok = d.webSurface.push(surface.ButtonEvent{Button: b, Pressed: false}) && ok
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "input queue full"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "action": req.Action})

	case "set":
		if !bandplan.Valid(req.Index) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "band index out of range"})
			return
		}
		if !d.sharedState.RequestBand(req.Index, bandplan.Name(req.Index)) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "state busy, try again"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "requested",
			"band":   req.Index,
			"name":   bandplan.Name(req.Index),
		})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
	}
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // single-operator LAN device
	},
}

// handleSurfaceWebSocket pushes render frames and accepts button messages
func (d *KXPADaemon) handleSurfaceWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Errorf("web", "WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	logging.Info("web", "Surface WebSocket client connected")

	// Button messages from the client
	go func() {
		for {
			var msg struct {
				Button  string `json:"button"`
				Pressed bool   `json:"pressed"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			b := buttonByName(msg.Button)
			if b == surface.ButtonNone {
				continue
			}
			d.webSurface.push(surface.ButtonEvent{Button: b, Pressed: msg.Pressed})
		}
	}()

	// Push frames at 4Hz; the surface loop already rate-limits rendering,
	// this just fans the latest frame out.
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var lastSent surface.Frame
	sentAny := false

	for {
		select {
		case <-ticker.C:
			frame, ok := d.webSurface.latest()
			if !ok || (sentAny && frame == lastSent) {
				continue
			}
			if err := conn.WriteJSON(frameMessage(frame)); err != nil {
				logging.Debugf("web", "WebSocket write error: %v", err)
				return
			}
			lastSent = frame
			sentAny = true

		case <-d.ctx.Done():
			return
		}
	}
}

func frameMessage(f surface.Frame) map[string]interface{} {
	return map[string]interface{}{
		"type":              "frame",
		"band_name":         f.BandName,
		"selecting":         f.Selecting,
		"power":             f.Power,
		"temp":              f.Temp,
		"swr":               f.SWR,
		"antenna":           f.Antenna,
		"mode":              f.Mode,
		"faults":            f.Faults,
		"voltage":           f.Voltage,
		"link_connected":    f.LinkConnected,
		"amp_connected":     f.AmpConnected,
		"control_mode":      f.ControlMode,
		"power_off_warning": f.PowerOffWarning,
		"power_off_due":     f.PowerOffDue,
	}
}

const homePage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>kxpad - KXPA100 Control</title>
<style>
body { font-family: sans-serif; background: #1a1a1a; color: #ddd; max-width: 480px; margin: 2em auto; }
h1 { font-size: 1.2em; text-align: center; }
#band { font-size: 3em; text-align: center; margin: 0.3em 0; }
#band.selecting { color: #e33; }
#mode-line { text-align: center; padding: 0.3em; border-radius: 4px; background: #246; }
#mode-line.cat { background: #263; }
table { width: 100%; margin-top: 1em; }
td:last-child { text-align: right; font-family: monospace; }
#buttons { display: flex; gap: 0.5em; margin-top: 1em; }
button { flex: 1; font-size: 1.2em; padding: 0.6em 0; }
#warning { color: #e33; text-align: center; display: none; }
</style>
</head>
<body>
<h1>KXPA100 Control</h1>
<div id="band">--</div>
<div id="mode-line">connecting...</div>
<div id="warning">AMPLIFIER DISCONNECTED</div>
<table>
<tr><td>Power</td><td id="power">--</td></tr>
<tr><td>SWR</td><td id="swr">--</td></tr>
<tr><td>Temp</td><td id="temp">--</td></tr>
<tr><td>Supply</td><td id="voltage">--</td></tr>
<tr><td>Antenna</td><td id="antenna">--</td></tr>
<tr><td>Mode</td><td id="amp-mode">--</td></tr>
<tr><td>Faults</td><td id="faults">--</td></tr>
</table>
<div id="buttons">
<button onclick="press('down')">Band -</button>
<button onclick="press('confirm')">OK</button>
<button onclick="press('up')">Band +</button>
</div>
<script>
let ws;
function connect() {
  ws = new WebSocket('ws://' + location.host + '/ws');
  ws.onmessage = function(ev) {
    const f = JSON.parse(ev.data);
    if (f.type !== 'frame') return;
    const band = document.getElementById('band');
    band.textContent = f.band_name || '--';
    band.className = f.selecting ? 'selecting' : '';
    const mode = document.getElementById('mode-line');
    mode.textContent = f.control_mode;
    mode.className = f.link_connected ? 'cat' : '';
    document.getElementById('power').textContent = f.power;
    document.getElementById('swr').textContent = f.swr;
    document.getElementById('temp').textContent = f.temp;
    document.getElementById('voltage').textContent = f.voltage + ' V';
    document.getElementById('antenna').textContent = f.antenna;
    document.getElementById('amp-mode').textContent = f.mode;
    document.getElementById('faults').textContent = f.faults;
    document.getElementById('warning').style.display = f.power_off_warning ? 'block' : 'none';
  };
  ws.onclose = function() { setTimeout(connect, 2000); };
}
function press(btn) {
  fetch('/api/v1/band', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify({action: btn})
  });
}
connect();
</script>
</body>
</html>
`
