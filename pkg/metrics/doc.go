// Package metrics defines Prometheus metrics for notifymail dispatches and
// pushes them to a Pushgateway, since the process exits before any scrape.
package metrics
