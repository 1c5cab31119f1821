package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/excel-pros/csm-backend/controllers"
	"github.com/excel-pros/csm-backend/middleware"
)

// Register wires the HTTP surface: public auth endpoints, the generic entity
// CRUD API and the import endpoints behind JWT auth.
func Register(router *gin.Engine, auth *controllers.AuthController, entities *controllers.EntityController, imports *controllers.ImportController) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/signup", auth.Signup)
		authGroup.POST("/login", auth.Login)
	}

	api := router.Group("/api")
	api.Use(middleware.RequireAuth())
	{
		api.POST("/import", imports.Upload)
		api.GET("/import/:id/status", imports.Status)
		api.GET("/import/:id/rows", imports.Rows)

		api.POST("/search/:entityType", entities.Search)

		api.GET("/:entityType", entities.Get)
		api.GET("/:entityType/:id", entities.GetByID)
		api.POST("/:entityType", entities.Create)
		api.PUT("/:entityType/:id", entities.Update)
		api.DELETE("/:entityType/:id", middleware.RequireRole("Admin"), entities.Delete)
	}
}
