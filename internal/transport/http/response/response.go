package response

import "github.com/gin-gonic/gin"

// The chat UI consumes flat JSON bodies; errors travel in a single
// "error" field rather than a structured envelope.

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, data)
}

func Error(c *gin.Context, httpStatus int, message string) {
	c.JSON(httpStatus, gin.H{"error": message})
}
