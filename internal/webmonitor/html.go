package webmonitor

import (
	"bytes"
	"html/template"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; background: #111; color: #eee; font-family: sans-serif; }
        .app { max-width: 1100px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; }
        .badge { padding: 2px 8px; border-radius: 4px; background: #333; font-size: 12px; }
        .score-row { display: flex; align-items: center; gap: 8px; margin: 4px 0; }
        .score-label { width: 140px; overflow: hidden; text-overflow: ellipsis; }
        .score-bar { flex: 1; height: 10px; background: #333; border-radius: 5px; }
        .score-fill { height: 100%; background: #5aa0dc; border-radius: 5px; }
        .history { font-size: 13px; color: #aaa; }
        button { background: #333; color: #eee; border: 1px solid #555; padding: 6px 12px; border-radius: 4px; }
        img { width: 100%; height: auto; background: #000; }
    </style>
</head>
<body>
<div class="app">
    <div class="header">
        <h1>{{.Title}}</h1>
        <span class="badge" id="status-badge">Waiting for data...</span>
    </div>
    <div class="grid">
        <div class="panel">
            <h2>Live Preview</h2>
            <img id="stream" src="/stream" alt="Live preview">
        </div>
        <div class="panel">
            <h2 id="best">-</h2>
            <div id="scores"></div>
            <p class="history" id="latency"></p>
            {{if .Recording}}
            <h3>Recording</h3>
            <button type="button" id="btn-record">Start</button>
            <span class="badge" id="record-status">idle</span>
            {{end}}
            <h3>History</h3>
            <div class="history" id="history"></div>
        </div>
    </div>
</div>
<script>
const scoresEl = document.getElementById('scores');
const bestEl = document.getElementById('best');
const latencyEl = document.getElementById('latency');
const badge = document.getElementById('status-badge');

function render(ev) {
    const best = ev.best_label ? ev.best_label + ' ' + (ev.best_score * 100).toFixed(1) + '%' : '-';
    bestEl.textContent = best;
    latencyEl.textContent = 'frame ' + ev.frame_seq + ' · ' + ev.latency_ms.toFixed(1) + ' ms';
    scoresEl.replaceChildren(...[...ev.scores].sort((a, b) => b.score - a.score).map(s => {
        const row = document.createElement('div');
        row.className = 'score-row';
        const label = document.createElement('span');
        label.className = 'score-label';
        label.textContent = s.label;
        const bar = document.createElement('div');
        bar.className = 'score-bar';
        const fill = document.createElement('div');
        fill.className = 'score-fill';
        fill.style.width = Math.max(0, Math.min(1, s.score)) * 100 + '%';
        bar.appendChild(fill);
        row.append(label, bar);
        return row;
    }));
    badge.textContent = 'Live';
}

const events = new EventSource('/api/classifications/stream');
events.onmessage = (msg) => render(JSON.parse(msg.data));
events.onerror = () => { badge.textContent = 'Disconnected'; };

async function refreshStatus() {
    const res = await fetch('/api/status');
    if (!res.ok) return;
    const status = await res.json();
    const hist = document.getElementById('history');
    hist.replaceChildren(...(status.classification_history || []).map(h => {
        const div = document.createElement('div');
        div.textContent = new Date(h.timestamp * 1000).toLocaleTimeString() + ' ' + h.best_label;
        return div;
    }));
    const rec = document.getElementById('record-status');
    if (rec && status.recording) {
        rec.textContent = status.recording.recording ? 'recording (' + status.recording.rows + ' rows)' : 'idle';
        document.getElementById('btn-record').textContent = status.recording.recording ? 'Stop' : 'Start';
    }
}
setInterval(refreshStatus, 2000);
refreshStatus();

const recBtn = document.getElementById('btn-record');
if (recBtn) {
    recBtn.onclick = async () => {
        const action = recBtn.textContent === 'Start' ? 'start' : 'stop';
        await fetch('/api/recording/' + action, { method: 'POST' });
        refreshStatus();
    };
}
</script>
</body>
</html>
`))

func renderIndex(title string, recording bool) string {
	var buf bytes.Buffer
	data := struct {
		Title     string
		Recording bool
	}{title, recording}
	if err := indexTemplate.Execute(&buf, data); err != nil {
		return err.Error()
	}
	return buf.String()
}
