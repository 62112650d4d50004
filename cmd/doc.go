// Package cmd defines and implements the CLI commands for the fixlab executable.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and the audit endpoints. Requests are validated and
//     normalized by internal/audit before any browser is launched.
//   - Crawl: internal/crawler walks the storefront breadth-first through internal/frontier, one headless Chrome page
//     at a time, optionally throttled. Each page yields a DOM snapshot (internal/extractor) and a screenshot written
//     under the session's artifact directory (internal/storage/local, mirrored to GCS when a bucket is configured).
//   - Analysis: internal/rules turns snapshots into findings and internal/synth ranks them into fixes, a lift
//     estimate, and narrative chapters.
//   - Persistence & fanout: sessions and the fix-state overlay live in SQLite, Postgres, or memory. A compact
//     completion event is published to Pub/Sub when a topic is configured.
//   - Plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus metrics are
//     exported on /metrics; OpenTelemetry trace context flows from the audit span into Pub/Sub attributes.
//
// Quick checklist:
//   - Configure env vars: FIXLAB_SERVER_PORT or PORT, FIXLAB_DB_DRIVER and FIXLAB_DB_DSN, FIXLAB_STORAGE_SCREENSHOT_DIR,
//     FIXLAB_DRIVER_EXEC_PATH when Chrome is not on PATH, and FIXLAB_PUBSUB_* for notifications.
//   - Run locally: go run . serve --config config.yaml
//   - One-shot: go run . audit --url https://shop.example.com
package cmd
