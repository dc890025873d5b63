// Package infra contains the adapters behind the core interfaces: the REST
// backend client, the MQTT and Redis telemetry feeds, the in-memory backend,
// metrics exporters and error monitoring. Core packages never import infra.
package infra
