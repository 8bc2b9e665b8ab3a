// Package events publishes upload session and cancellation events to an
// in-process bus, Redis pub/sub or a RabbitMQ queue, and lets a watcher
// consume them from the same channel.
package events
