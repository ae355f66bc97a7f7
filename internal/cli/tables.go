package cli

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bizpos/tenantguard/pkg/guard"
	"github.com/bizpos/tenantguard/pkg/rbac"
)

// loadTables reads the capability and route tables, falling back to the
// built-in defaults for empty paths.
func loadTables(ctx context.Context, capsPath, routesPath string) (rbac.CapabilityTable, *rbac.Evaluator, *guard.RouteTable, error) {
	source := rbac.NewStaticSource(rbac.DefaultCapabilityTable())
	if capsPath != "" {
		source = rbac.NewFileSource(capsPath)
	}
	caps, err := source.Load(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	perms, err := rbac.New(caps)
	if err != nil {
		return nil, nil, nil, err
	}

	routes := guard.DefaultRouteTable()
	if routesPath != "" {
		if routes, err = guard.LoadRouteTable(ctx, routesPath); err != nil {
			return nil, nil, nil, err
		}
	}
	for _, path := range actionPaths {
		if req, ok := routes.Lookup(path); !ok || !req.Serves(http.MethodPost) {
			return nil, nil, nil, fmt.Errorf("%w: %s must be declared for POST", guard.ErrLoadRoutes, path)
		}
	}
	return caps, perms, routes, nil
}
