package auth

import "github.com/google/uuid"

// Actor is the authenticated caller of a request.
type Actor struct {
	ID   uuid.UUID
	Role string
}

// BranchScope describes which branch an actor's reads are restricted to.
// Global actors see every branch and carry no BranchID.
type BranchScope struct {
	Global   bool
	BranchID *uuid.UUID
}
