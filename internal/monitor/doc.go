// Package monitor holds the collaborators that publish process, host,
// network and power events. Each monitor periodically samples a snapshot
// source, diffs it against the previous sample and publishes what changed.
// Threshold events fire on the rising edge only: a value has to leave its
// threshold before it can fire again.
//
// Monitors implement suture.Service and are meant to run under a supervisor.
package monitor
