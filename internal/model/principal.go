package model

import "github.com/google/uuid"

const (
	RoleOperator = "OPERATOR"
	RoleAdmin    = "ADMIN"
)

type Principal struct {
	UserID uuid.UUID
	Name   string
	Role   string
}

func (p Principal) IsOperator() bool {
	return p.Role == RoleOperator || p.Role == RoleAdmin
}

// Actor is the label stamped on history entries.
func (p Principal) Actor() string {
	if p.Name != "" {
		return p.Name
	}
	if p.UserID != uuid.Nil {
		return p.UserID.String()
	}
	return ""
}
