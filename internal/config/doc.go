// Package config defines configuration structures for the gtfsfetch CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (GTFSFETCH_ prefix)
//   - YAML configuration file
//
// # File Format
//
//	registry: transitland-atlas/feeds
//	feeds:
//	  - id: f-anteaterexpress
//	    url: https://example.com/anteater/gtfs.zip
//	headers:
//	  f-dp3-metra:
//	    username: ${METRA_USER}
//	    Authorization: Basic ${METRA_BASIC}
//	sink:
//	  bucket: s3://gtfs-archive?region=us-west-2
//	  prefix: gtfs/
//	concurrency: 100
//	max_rounds: 0
//	backoff:
//	  initial: 5s
//	  max: 2m
//	http:
//	  timeout: 5m
//	log:
//	  level: info
//	  format: json
//	metrics_addr: :9090
//	postgres:
//	  dsn: ${GTFSFETCH_POSTGRES_DSN}
//	kafka:
//	  brokers: [localhost:9092]
//	  topic: gtfs.feeds.fetched
package config
