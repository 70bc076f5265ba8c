// Package containers starts Docker services for integration tests through
// testcontainers-go:
//
//   - MySQL 8.0 for the repository tests
//   - Eclipse Mosquitto for the telemetry subscriber
//   - ntfy for shoutrrr notification delivery
//
// Integration tests carry the "integration" build tag:
//
//	//go:build integration
//
//	go test -tags=integration ./...
//
//nolint:misspell // Mosquitto is the official Eclipse project name
package containers
