// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"log/slog"

	"github.com/nocodile/docflow/pkg/actions/notification"
	"github.com/nocodile/docflow/pkg/directory"
	"github.com/nocodile/docflow/pkg/registry"
)

// NewRegistry builds a side effect registry with the built-in executors.
// Without an SMTP or push gateway configured, mail and notifications go to
// the log.
func NewRegistry(logger *slog.Logger, dir directory.Directory) *registry.Registry {
	reg := registry.NewRegistry(logger)
	reg.RegisterDefaults(notification.LogMailer{}, notification.LogNotifier{}, dir)

	return reg
}
