package admin

import "net/http"

func serveCSS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/css")
	w.Write([]byte(`body{font-family:system-ui,Segoe UI,Roboto,Arial,sans-serif;margin:0;background:#0b0c0f;color:#e6e6e6}
a{color:#91c9ff;text-decoration:none} a:hover{text-decoration:underline}
header{padding:12px 20px;border-bottom:1px solid #1b1d22;background:#111318}
.container{max-width:1100px;margin:0 auto;padding:20px}
table{width:100%;border-collapse:collapse;border:1px solid #2a2d34}
th,td{padding:10px;border-bottom:1px solid #2a2d34} th{text-align:left;background:#151720}
input{width:100%;padding:8px;background:#0f1116;color:#e6e6e6;border:1px solid #2a2d34;border-radius:6px}
.card{border:1px solid #2a2d34;border-radius:10px;padding:16px;background:#0f1116}
h1,h2,h3{margin:12px 0}
.small{opacity:.7} .mono{font-family:ui-monospace,Menlo,Consolas,monospace}
.badge{display:inline-block;padding:2px 8px;border:1px solid #2a2d34;border-radius:6px}
.badge-ONLINE{color:#6ee7b7} .badge-PAIRED{color:#91c9ff} .badge-OFFLINE{color:#fca5a5}`))
}
