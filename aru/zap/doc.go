// Package zap adapts go.uber.org/zap to the aru log.Logger interface and
// bridges every entry to the OpenTelemetry log pipeline.
package zap
