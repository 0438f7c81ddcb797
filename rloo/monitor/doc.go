// Package monitor implements rloo.MetricLogger sinks: structured logrus
// output, a Prometheus registry served over HTTP, a fan-out that feeds
// several sinks, and a decorator adding process resource usage to the
// per-step timer metrics.
package monitor
