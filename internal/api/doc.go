// Package api exposes the console over HTTP: read-only snapshots of agents,
// deployments, the selected deployment and the upload session, plus the
// intents that drive them (upload, select, refresh, cancel).
package api
