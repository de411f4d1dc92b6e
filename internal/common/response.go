package common

import "github.com/gin-gonic/gin"

// Fail writes {"error": msg} with the given status and aborts the chain.
func Fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
