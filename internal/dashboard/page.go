package dashboard

import "net/http"

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Crewbridge</title>
<style>
  :root {
    --bg: #0d1117;
    --surface: #161b22;
    --border: #30363d;
    --text: #e6edf3;
    --text-dim: #8b949e;
    --accent: #58a6ff;
    --green: #3fb950;
    --yellow: #d29922;
    --red: #f85149;
  }
  * { box-sizing: border-box; margin: 0; padding: 0; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Helvetica, Arial, sans-serif;
    background: var(--bg);
    color: var(--text);
    font-size: 14px;
    line-height: 1.5;
    padding: 16px;
    max-width: 760px;
    margin: 0 auto;
  }
  header {
    display: flex;
    align-items: baseline;
    justify-content: space-between;
    margin-bottom: 16px;
    padding-bottom: 12px;
    border-bottom: 1px solid var(--border);
  }
  header h1 { font-size: 20px; font-weight: 600; }
  header h1 span { color: var(--accent); }
  .meta { font-size: 12px; color: var(--text-dim); }
  .card {
    background: var(--surface);
    border: 1px solid var(--border);
    border-radius: 8px;
    padding: 12px 16px;
    margin-bottom: 12px;
  }
  .worker { display: flex; align-items: center; gap: 10px; padding: 6px 0; }
  .worker + .worker { border-top: 1px solid var(--border); }
  .dot { width: 8px; height: 8px; border-radius: 50%; flex: none; }
  .dot.online { background: var(--green); }
  .dot.offline { background: var(--red); }
  .name { font-weight: 600; }
  .tag {
    font-size: 11px;
    padding: 1px 7px;
    border-radius: 10px;
    border: 1px solid var(--border);
    color: var(--text-dim);
  }
  .tag.focused { color: var(--accent); border-color: var(--accent); }
  .tag.working { color: var(--yellow); border-color: var(--yellow); }
  .age { margin-left: auto; font-size: 12px; color: var(--text-dim); }
  .recent { font-size: 12px; color: var(--text-dim); padding: 3px 0; }
  .recent b { color: var(--text); font-weight: 600; }
  .empty { color: var(--text-dim); padding: 8px 0; }
  h2 { font-size: 13px; color: var(--text-dim); text-transform: uppercase;
       letter-spacing: 0.5px; margin-bottom: 6px; }
</style>
</head>
<body>
<header>
  <h1>crew<span>bridge</span></h1>
  <div class="meta" id="meta">loading...</div>
</header>
<div class="card">
  <h2>Team</h2>
  <div id="workers"><div class="empty">loading...</div></div>
</div>
<div class="card">
  <h2>Recent messages</h2>
  <div id="recent"><div class="empty">none</div></div>
</div>
<script>
function esc(s) {
  return String(s).replace(/&/g, '&amp;').replace(/</g, '&lt;').replace(/>/g, '&gt;');
}
async function refresh() {
  try {
    const res = await fetch('/api/state');
    const state = await res.json();
    document.getElementById('meta').textContent =
      state.node + ' • v' + state.version + ' • ' + new Date(state.timestamp).toLocaleTimeString();

    const workers = document.getElementById('workers');
    if (!state.workers.length) {
      workers.innerHTML = '<div class="empty">No workers hired yet.</div>';
    } else {
      workers.innerHTML = state.workers.map(w => {
        let tags = '<span class="tag">' + esc(w.backend) + '</span>';
        if (w.focused) tags += ' <span class="tag focused">focused</span>';
        if (w.working) tags += ' <span class="tag working">working</span>';
        return '<div class="worker">' +
          '<span class="dot ' + (w.online ? 'online' : 'offline') + '"></span>' +
          '<span class="name">' + esc(w.name) + '</span>' + tags +
          '<span class="age">' + esc(w.hired || '') + '</span></div>';
      }).join('');
    }

    const recent = document.getElementById('recent');
    if (!state.recent || !state.recent.length) {
      recent.innerHTML = '<div class="empty">none</div>';
    } else {
      recent.innerHTML = state.recent.map(d => {
        const arrow = d.direction === 'out' ? '←' : '→';
        return '<div class="recent"><b>' + esc(d.worker) + '</b> ' + arrow + ' ' +
          esc(d.preview) + ' <span class="age">' + esc(d.age) + '</span></div>';
      }).join('');
    }
  } catch (e) {
    document.getElementById('meta').textContent = 'disconnected';
  }
}
refresh();
setInterval(refresh, 3000);
</script>
</body>
</html>
`
