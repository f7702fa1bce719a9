// Command olx-listings crawls OLX real-estate search results into Postgres.
//
// Architecture overview:
//   - Work list: a url,status CSV built by the links command from seed URLs and discovered regions. Status events
//     from the crawl flow back into it, so finished items are skipped on the next run.
//   - Crawl: a dispatcher deals the unfinished URLs round-robin to a fixed pool of workers. Each worker owns one
//     headless Chrome session, walks the pagination chain of each URL, and publishes every page's embedded data
//     script to the payload topic along with started and terminal status events.
//   - Queue: Pub/Sub in production, or an in-memory broker when everything runs in one process. Messages are
//     acknowledged on receipt, so delivery is at most once.
//   - Ingest: payloads are routed to the sale or rent table by URL, flattened and coerced into typed records, and
//     upserted into Postgres by listing ID. Batches can also be exported as CSV and raw payloads archived to
//     local disk or GCS.
//   - Plumbing: viper and godotenv load config with LISTINGS_* env overrides; zap provides structured logging;
//     Prometheus metrics and health checks are served on the ops port; OpenTelemetry context rides on message
//     attributes from crawl to ingest.
//
// Quick checklist:
//   - olx-listings links --config listings.yaml
//   - olx-listings run (one process, memory queue) or crawl, ingest, and track as separate Pub/Sub consumers.
package main

import (
	"github.com/JakeFAU/olx-listings-pipeline/cmd"
)

func main() {
	cmd.Execute()
}
