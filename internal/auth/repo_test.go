package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestScopeFor(t *testing.T) {
	branch := uuid.New()
	globals := []string{"super_admin", " Ops_Manager "}

	assert.Equal(t, BranchScope{Global: true}, ScopeFor("super_admin", &branch, globals))
	assert.Equal(t, BranchScope{Global: true}, ScopeFor("ops_manager", nil, globals))
	assert.Equal(t, BranchScope{BranchID: &branch}, ScopeFor("tour_guide", &branch, globals))
	assert.Equal(t, BranchScope{}, ScopeFor("", nil, globals))
	assert.Equal(t, BranchScope{BranchID: &branch}, ScopeFor("super_admin", &branch, nil))
}
