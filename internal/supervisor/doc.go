// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

/*
Package supervisor runs placemat's long-lived goroutines under suture v4.

	placemat
	├── cache-layer
	│   └── cache-invalidation-subscriber   (tiered backend only)
	├── maintenance-layer
	│   ├── cache-warmer                    (when warm-up is enabled)
	│   └── circuit-breaker-monitor
	└── api-layer
	    └── http-server

A crashing service is restarted by its layer supervisor. When failures
exceed FailureThreshold (decaying with a FailureDecay half-life) the layer
backs off for FailureBackoff before restarting again. Failures in the
maintenance layer never take the API down.

Services implement suture.Service:

	Serve(ctx context.Context) error

Returning an error means "crashed, restart me"; services must return
promptly once ctx is canceled. Events are logged through sutureslog to the
slog adapter of the zerolog logger:

	tree, _ := supervisor.NewSupervisorTree(logging.NewSlogLogger("supervisor"), supervisor.DefaultTreeConfig())
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	tree.AddMaintenanceService(integration.NewWarmer(svc, cfg.Cache.WarmInterval))
	err := tree.Serve(ctx)

UnstoppedServiceReport lists services that ignored cancellation past
ShutdownTimeout.
*/
package supervisor
