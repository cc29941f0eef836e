package models

import "go.mongodb.org/mongo-driver/bson/primitive"

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID primitive.ObjectID
	Role   string
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
