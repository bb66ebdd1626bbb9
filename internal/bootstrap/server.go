package bootstrap

import (
	"github.com/jonesrussell/north-cloud/harvester/internal/api"
)

// HTTPServerDeps holds dependencies for the HTTP server.
type HTTPServerDeps struct {
	Deps     *CommandDeps
	Services *ServiceComponents
	Lister   api.JobLister
	Checks   map[string]api.HealthCheck
}

// SetupHTTPServer creates the HTTP server. It is started by Run.
func SetupHTTPServer(d HTTPServerDeps) *api.Server {
	return api.NewServer(api.Params{
		Config:  d.Deps.Config.Server,
		Logger:  d.Deps.Logger,
		Jobs:    d.Services.Orchestrator,
		Lister:  d.Lister,
		Metrics: d.Services.Metrics.Handler(),
		Checks:  d.Checks,
	})
}
