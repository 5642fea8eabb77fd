package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
)

// NewRelicActorAttributes tags the New Relic transaction started by nrgin
// with the resolved actor and the request id path parameter. It must run
// after Authenticate.
func NewRelicActorAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		txn := nrgin.Transaction(c)
		if txn == nil {
			c.Next()
			return
		}

		if actor, ok := ActorFrom(c); ok {
			txn.AddAttribute("actor.id", actor.ID)
			txn.AddAttribute("actor.role", string(actor.Role))
		}
		if id := c.Param("id"); id != "" {
			txn.AddAttribute("request.id", id)
		}

		c.Next()

		for _, err := range c.Errors {
			txn.NoticeError(err.Err)
		}
	}
}
