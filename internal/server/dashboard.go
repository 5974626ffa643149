package server

import (
	"encoding/base64"
	"html/template"
	"net/http"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/waygate/bridge/internal/lifecycle"
)

type dashboardData struct {
	Phase       string
	IsReady     bool
	Identity    *lifecycle.Identity
	QRAvailable bool
	QRBase64    string
}

type qrDisplayData struct {
	Ready       bool
	Waiting     bool
	ImageBase64 string
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	snap := s.manager.Snapshot()
	data := dashboardData{
		Phase:    snap.Phase.String(),
		IsReady:  snap.Phase == lifecycle.PhaseReady,
		Identity: snap.Identity,
	}

	if qr, ok := s.manager.QR(); ok {
		if png, err := qrcode.Encode(qr, qrcode.Medium, 256); err == nil {
			data.QRAvailable = true
			data.QRBase64 = base64.StdEncoding.EncodeToString(png)
		} else {
			s.logger.Warn("dashboard qr encode failed", zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		s.logger.Error("dashboard render failed", zap.Error(err))
	}
}

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html>
<head>
<title>Waygate</title>
<meta http-equiv="refresh" content="10">
<style>
body { font-family: sans-serif; max-width: 640px; margin: 2em auto; color: #222; }
.phase { display: inline-block; padding: 2px 10px; border-radius: 10px; background: #eee; }
.phase.ready { background: #c9f4c9; }
button { margin-right: 8px; padding: 6px 14px; }
img { border: 1px solid #ccc; }
</style>
</head>
<body>
<h1>Waygate</h1>
<p>Phase: <span class="phase{{if .IsReady}} ready{{end}}">{{.Phase}}</span></p>
{{if .Identity}}<p>Logged in as <strong>{{.Identity.DisplayName}}</strong> ({{.Identity.ID}})</p>{{end}}
{{if .QRAvailable}}
<p>Scan with WhatsApp &gt; Linked Devices:</p>
<img src="data:image/png;base64,{{.QRBase64}}" alt="QR code">
{{else if not .IsReady}}
<p>No QR code pending. Use Connect to start pairing.</p>
{{end}}
<p>
<button onclick="post('/connect')">Connect</button>
<button onclick="post('/disconnect')">Disconnect</button>
<button onclick="post('/clear-auth')">Clear auth</button>
</p>
<script>
function post(path) { fetch(path, {method: 'POST'}).then(() => location.reload()); }
</script>
</body>
</html>
`))

var qrDisplayTmpl = template.Must(template.New("qr").Parse(`<!DOCTYPE html>
<html>
<head>
<title>WhatsApp QR</title>
{{if not .Ready}}<meta http-equiv="refresh" content="5">{{end}}
</head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
{{if .Ready}}
<h2>Already connected</h2>
{{else if .Waiting}}
<h2>Waiting for QR code&hellip;</h2>
{{else}}
<h2>Scan with WhatsApp &gt; Linked Devices</h2>
<img src="data:image/png;base64,{{.ImageBase64}}" alt="QR code">
{{end}}
</body>
</html>
`))
