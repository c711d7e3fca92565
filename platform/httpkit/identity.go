package httpkit

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"loan_broker_backend/platform/apperr"
)

// Identity is the authenticated caller as seen by handlers.
// Every caller acts on behalf of exactly one broker.
type Identity interface {
	UserID() uuid.UUID
	BrokerID() uuid.UUID
}

type identity struct {
	userID   uuid.UUID
	brokerID uuid.UUID
}

func (i *identity) UserID() uuid.UUID   { return i.userID }
func (i *identity) BrokerID() uuid.UUID { return i.brokerID }

// GetIdentity extracts the Identity from a Gin context. The second return is
// false when the request carries no user or no broker.
func GetIdentity(c *gin.Context) (Identity, bool) {
	userID, ok := c.Get(ContextUserIDKey)
	if !ok {
		return nil, false
	}
	uid, ok := userID.(uuid.UUID)
	if !ok {
		return nil, false
	}

	brokerID, ok := c.Get(ContextBrokerIDKey)
	if !ok {
		return nil, false
	}
	bid, ok := brokerID.(uuid.UUID)
	if !ok {
		return nil, false
	}

	return &identity{userID: uid, brokerID: bid}, true
}

// MustGetIdentity returns the caller identity or writes a 403 and returns nil.
func MustGetIdentity(c *gin.Context) Identity {
	id, ok := GetIdentity(c)
	if !ok {
		HandleError(c, apperr.Forbidden("broker context required"))
		c.Abort()
		return nil
	}
	return id
}
