// Package main hosts the scraperhose entrypoint.
//
// Architecture overview:
//   - Feed list: one URL per line, read from a local file or gs://bucket/object. The first
//     feeds.skip_first lines are skipped and the progress total shrinks to match.
//   - Admission: every feed download and every article extraction holds one slot from a shared
//     controller whose ceiling follows the active tier (low 3, high 10, max 25). Typing l/h/o or
//     low/high/max on stdin, or PUT /v1/tier/{name}, switches tiers while the run is going.
//   - Pipeline: feeds are parsed with gofeed; each link not already known is claimed in the run-wide
//     registry and extracted through a goquery readability pass. Failed fetches become stand-in
//     rows ("No title", epoch date); pages with no readable text are dropped.
//   - Persistence: each feed's batch is inserted into Postgres in one transaction with
//     ON CONFLICT (url) DO NOTHING, or kept in memory when database.dsn is empty. A batch
//     notification is published to Pub/Sub when pubsub.* is configured.
//   - Reporting: one "Metrics: ..." line per completed feed on stdout; zap logs go to stderr.
//     Prometheus collectors are exposed on /metrics when server.port is non-zero.
//
// Operational notes:
//   - SIGINT/SIGTERM stop new feeds from being launched; feeds already running finish and are
//     persisted before the process exits.
//   - Configure via SCRAPERHOSE_* env vars (for example SCRAPERHOSE_FEEDS_PATH,
//     SCRAPERHOSE_DATABASE_DSN, SCRAPERHOSE_ADMISSION_INITIAL_TIER) or -config config.yaml.
//   - Run locally: go run ./cmd/scraperhose -config config.yaml
package main
