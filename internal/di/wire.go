//go:build wireinject
// +build wireinject

package di

import (
	"TickPilot/pkg/config"
	"TickPilot/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideCache,
		ProvideEventPublisher,
		ProvideJournal,
		ProvideVenueDialer,

		// Repositories
		ProvideAccountStore,
		ProvideOrderStore,
		ProvideTokenRegistry,

		// Use cases
		ProvideSessionFactory,
		ProvideSupervisor,

		// HTTP
		ProvideStatusHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return &server.App{}, nil
}
