package ports

import "github.com/gin-gonic/gin"

type HTTPHandler interface {
	GetSession(c *gin.Context)
	ListSessions(c *gin.Context)
	GetCounters(c *gin.Context)
}
