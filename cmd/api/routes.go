package main

import (
	"vhlr/internal/app"
	"vhlr/internal/httpapi"
	"vhlr/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app.App, authMW gin.HandlerFunc) {
	h := httpapi.Handlers{Probes: a.Probes, Reports: a.Reports, DB: a.DB}

	// public
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(a.Metrics.Handler()))

	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireClient())
	{
		v1.GET("/vhlr", rbac.RequireAnyRole(rbac.RoleClient, rbac.RoleOperator), h.Probe)

		cache := v1.Group("/cache")
		cache.Use(rbac.RequireAnyRole(rbac.RoleOperator))
		{
			cache.GET("", h.CacheSize)
			cache.GET("/:number", h.CachedResult)
			cache.DELETE("/:number", h.ForgetResult)
		}

		// Only operators and admins see aggregated history.
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleOperator))
		{
			admin.GET("/reports/probes", h.ProbeSummary)
		}
	}
}
