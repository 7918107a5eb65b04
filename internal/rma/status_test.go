package rma

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"submitted to validating", StatusSubmitted, StatusValidating, true},
		{"submitted straight to approved", StatusSubmitted, StatusApproved, true},
		{"submitted to rejected", StatusSubmitted, StatusRejected, true},
		{"validating to approved", StatusValidating, StatusApproved, true},
		{"approved to shipping", StatusApproved, StatusShipping, true},
		{"shipping to received", StatusShipping, StatusReceived, true},
		{"received to inspecting", StatusReceived, StatusInspecting, true},
		{"inspecting to inspected", StatusInspecting, StatusInspected, true},
		{"inspected to disposition", StatusInspected, StatusDisposition, true},
		{"disposition to processing", StatusDisposition, StatusProcessing, true},
		{"disposition straight to completed", StatusDisposition, StatusCompleted, true},
		{"processing to completed", StatusProcessing, StatusCompleted, true},

		{"no skipping to received", StatusSubmitted, StatusReceived, false},
		{"no skipping inspection", StatusReceived, StatusDisposition, false},
		{"no completing early", StatusInspected, StatusCompleted, false},
		{"no going backwards", StatusShipping, StatusApproved, false},
		{"rejected is terminal", StatusRejected, StatusSubmitted, false},
		{"completed is terminal", StatusCompleted, StatusCancelled, false},
		{"cancelled is terminal", StatusCancelled, StatusSubmitted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatusCancellableFromEveryNonTerminalState(t *testing.T) {
	for status := range validTransitions {
		if status.Terminal() {
			assert.False(t, status.CanTransitionTo(StatusCancelled), "terminal %s must not allow cancel", status)
			continue
		}
		assert.True(t, status.CanTransitionTo(StatusCancelled), "%s should allow cancel", status)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.False(t, StatusSubmitted.Terminal())
	assert.False(t, StatusProcessing.Terminal())
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusInspecting.Valid())
	assert.False(t, Status("SHIPPED").Valid())
	assert.False(t, Status("").Valid())
}
