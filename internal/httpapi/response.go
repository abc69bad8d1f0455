package httpapi

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

// RespondOK sends a 200 OK response with the given data.
func RespondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// RespondAccepted sends a 202 Accepted response with the given data.
func RespondAccepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, data)
}

// RedirectWithMessage redirects to target with a message query parameter
// appended. It reports false if target is not a usable URL.
func RedirectWithMessage(c *gin.Context, target, message string) bool {
	u, err := url.Parse(target)
	if err != nil || (u.IsAbs() && u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	q := u.Query()
	q.Set("message", message)
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, u.String())
	return true
}
