package models

// RoleType defines the seat a participant occupies in a chat room
type RoleType string

const (
	RoleUser          RoleType = "USER"
	RoleTaxAccountant RoleType = "TAX_ACCOUNTANT"
)

// Valid reports whether r is a known seat role
func (r RoleType) Valid() bool {
	return r == RoleUser || r == RoleTaxAccountant
}

// UserType is the account type carried in the access token
type UserType string

const (
	UserTypeUser          UserType = "user"
	UserTypeTaxAccountant UserType = "tax_accountant"
)

// Valid reports whether t is a known account type
func (t UserType) Valid() bool {
	return t == UserTypeUser || t == UserTypeTaxAccountant
}

// Identity is the verified caller handed over by the auth middleware
type Identity struct {
	ID       int64
	UserType UserType
}
