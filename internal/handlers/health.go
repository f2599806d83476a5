package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/maglink/pkg/response"
)

// Health returns a status payload useful for readiness checks. When a
// database handle is supplied the check pings it.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK

		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request.Context())
			}
			if err != nil {
				status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}

		response.Success(c, code, gin.H{"status": status})
	}
}
