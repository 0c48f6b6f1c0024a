// Package handlers holds the pieces of the HTTP layer that do not need the
// server: dependency health probes and plain net/http middleware.
//
// catalogd wires the probes like this:
//
//	checker := handlers.NewCompositeHealthChecker(version)
//	checker.AddCheck("catalog", handlers.NewCatalogCheck(store))
//	checker.AddCheck("postgres", handlers.NewPingCheck(conn))
//	checker.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
//
// The refresh endpoint sits behind NewAPIKeyAuth; read endpoints get
// CacheControlMiddleware.
package handlers
