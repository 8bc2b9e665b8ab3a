// Package reconcile keeps the last known agent and deployment snapshots
// returned by the scheduler, refreshed by a poll loop and on demand, together
// with the detail of the deployment currently selected for viewing.
package reconcile
