// Package logging provides structured logging for the Gray Logic DMX bridge.
//
// It wraps log/slog so every entry carries the service name and version.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("widget opened", "device", cfg.Widget.Device)
//	engineLog := logger.Component("usbpro")
//
// Never log secrets, tokens or passwords.
package logging
