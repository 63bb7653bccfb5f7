package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes registers the API. metrics may be nil.
func SetupRoutes(router *gin.Engine, handler *Handler, metrics http.Handler) {
	router.GET("/health", handler.HealthCheck)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/grades", handler.SaveGrade)
		v1.GET("/grades/:course_id/status", handler.GetGradesStatus)
		v1.GET("/grades/:course_id/students/:student_id/kinds/:kind", handler.GetGradeHistory)

		v1.POST("/sync/trigger", handler.TriggerSync)

		v1.POST("/imports", handler.UploadGrades)
		v1.GET("/imports/:file_id", handler.GetImport)
	}
}
