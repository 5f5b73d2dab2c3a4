package models

import "strings"

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleCashier  Role = "CASHIER"
	RoleAdmin    Role = "ADMIN"
)

// Elevated roles may read and cancel orders they do not own.
func (r Role) Elevated() bool {
	return r == RoleAdmin || r == RoleCashier
}

// Requester is the identity attached to a call into the order service.
// UserID is empty for anonymous shoppers, who are identified by HolderID.
type Requester struct {
	UserID   string
	HolderID string
	Role     Role
}

// AnonymousPrefix marks owners that are anonymous holder ids, so a client
// supplied holder id can never equal a user id.
const AnonymousPrefix = "anon:"

// Owner returns the identity that owns seat locks and orders created by this
// requester: the user id, or the prefixed holder id for anonymous shoppers.
func (r Requester) Owner() string {
	if r.UserID != "" {
		return r.UserID
	}
	return AnonymousOwner(r.HolderID)
}

func AnonymousOwner(holderID string) string {
	if holderID == "" {
		return ""
	}
	return AnonymousPrefix + holderID
}

// HolderID strips the anonymous prefix, giving back what the client sends.
func HolderID(owner string) string {
	return strings.TrimPrefix(owner, AnonymousPrefix)
}

func IsAnonymousOwner(owner string) bool {
	return strings.HasPrefix(owner, AnonymousPrefix)
}
