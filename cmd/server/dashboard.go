package main

import (
	"net/http"
)

func dashboardHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

// dashboardHTML polls /metrics every two seconds
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>cellrate</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #0f172a; color: #e2e8f0; margin: 0; padding: 24px; }
  h1 { margin: 0 0 4px; font-size: 1.6em; }
  .policy { color: #94a3b8; margin-bottom: 24px; }
  .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 16px; margin-bottom: 24px; }
  .card { background: #1e293b; border-radius: 8px; padding: 16px; }
  .label { color: #94a3b8; font-size: 0.8em; text-transform: uppercase; letter-spacing: 1px; }
  .value { font-size: 2em; font-weight: 600; margin-top: 6px; }
  .ok { color: #34d399; } .denied { color: #f87171; } .large { color: #fbbf24; }
  table { width: 100%; border-collapse: collapse; background: #1e293b; border-radius: 8px; }
  th, td { text-align: left; padding: 10px 12px; border-bottom: 1px solid #334155; }
  th { color: #94a3b8; font-size: 0.8em; text-transform: uppercase; }
</style>
</head>
<body>
<h1>cellrate</h1>
<div class="policy" id="policy">loading...</div>
<div class="grid">
  <div class="card"><div class="label">Requests</div><div class="value" id="total">0</div></div>
  <div class="card"><div class="label">Allowed</div><div class="value ok" id="allowed">0</div></div>
  <div class="card"><div class="label">Denied</div><div class="value denied" id="denied">0</div></div>
  <div class="card"><div class="label">Too large</div><div class="value large" id="large">0</div></div>
  <div class="card"><div class="label">Units admitted</div><div class="value" id="units">0</div></div>
  <div class="card"><div class="label">Active limiters</div><div class="value" id="active">0</div></div>
</div>
<table>
  <thead><tr><th>Client</th><th>Requests</th><th>Allowed</th><th>Denied</th><th>Too large</th></tr></thead>
  <tbody id="clients"><tr><td colspan="5">No requests yet</td></tr></tbody>
</table>
<script>
  const text = (id, v) => { document.getElementById(id).textContent = Number(v || 0).toLocaleString(); };
  const escape = s => String(s).replace(/[&<>"']/g, c => '&#' + c.charCodeAt(0) + ';');

  async function refresh() {
    try {
      const data = await (await fetch('/metrics')).json();
      const p = data.default_policy;
      document.getElementById('policy').textContent =
        p.rate + ' per ' + p.period + ', bursts of ' + p.max_burst + ', ' +
        data.adjustments + ' adjustments, up ' + data.uptime_seconds + 's';
      text('total', data.total_requests);
      text('allowed', data.allowed_requests);
      text('denied', data.denied_requests);
      text('large', data.too_large_requests);
      text('units', data.allowed_units);
      text('active', data.active_limiters);

      const rows = (data.top_clients || []).map(c =>
        '<tr><td>' + escape(c.client_id) + '</td><td>' + c.total_requests + '</td><td>' +
        c.allowed_requests + '</td><td>' + c.denied_requests + '</td><td>' + c.too_large_requests + '</td></tr>');
      if (rows.length) document.getElementById('clients').innerHTML = rows.join('');
    } catch (err) {
      console.error('failed to fetch metrics', err);
    }
  }

  refresh();
  setInterval(refresh, 2000);
</script>
</body>
</html>
`
