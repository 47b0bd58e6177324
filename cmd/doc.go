// Package cmd defines and implements the CLI commands for the nga-monitor
// executable.
//
// Architecture overview:
//   - Crawl controller: internal/dispatcher seeds one index page per section into a priority frontier (thread
//     pages ahead of index pages) and fans it out to a fixed worker pool sized by crawler.concurrency. Workers
//     fetch through the Colly fetcher with synthesized cookies and headers, a round-robin proxy, and an adaptive
//     throttle bounded by throttle.min_delay and throttle.max_delay.
//   - Extraction and classification: index pages are JSON (data.__T / data.__next__); thread pages are HTML
//     read with goquery. Post bodies are scored by the configured sentiment provider in chunks and matched
//     against the risk keyword list. A record that is negative and keyword-heavy raises exactly one alert.
//   - Persistence and fanout: every record goes to the JSON record file and, when configured, Postgres and
//     SQLite. At run end the markdown report is written and artifacts are archived to GCS or a local directory.
//   - Configuration and plumbing: Viper reads nga-monitor.yaml and NGA_* env vars (a .env file is loaded
//     first); zap provides structured logging; Prometheus metrics are served at /metrics by `serve`.
//
// Operational notes:
//   - Stopping: SIGINT/SIGTERM or POST /v1/crawl/stop stop new requests; in-flight requests get
//     crawler.shutdown_timeout before they are cancelled.
//   - Sessions: a redirect to the login page halts that section and logs that cookies need refreshing.
//     Cookies are never refreshed automatically.
//
// Quick checklist:
//   - Set NGA_SESSION_UID (and NGA_SESSION_COOKIE when the board needs a logged-in session).
//   - One-off run: nga-monitor crawl --fid 7,459 --pages 3 --max-items 50
//   - Service: nga-monitor serve --port 8080, then POST /v1/crawl/start.
//   - Spreadsheet: nga-monitor export --out posts.xlsx
package cmd
