package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from JobStatus
		to   JobStatus
		want bool
	}{
		{"QueuedToProcessing", StatusQueued, StatusProcessing, true},
		{"QueuedCancelled", StatusQueued, StatusRejected, true},
		{"ProcessingToAudit", StatusProcessing, StatusPendingAudit, true},
		{"ProcessingGatePass", StatusProcessing, StatusCompleted, true},
		{"ProcessingToFailed", StatusProcessing, StatusFailed, true},
		{"AuditApproved", StatusPendingAudit, StatusCompleted, true},
		{"AuditRejected", StatusPendingAudit, StatusRejected, true},
		{"CompletedToPushing", StatusCompleted, StatusPushing, true},
		{"PushDelivered", StatusPushing, StatusPushSuccess, true},
		{"PushExhausted", StatusPushing, StatusPushFailed, true},
		{"RetryFromFailed", StatusFailed, StatusQueued, true},
		{"RetryFromRejected", StatusRejected, StatusQueued, true},
		{"Repush", StatusPushFailed, StatusPushing, true},

		{"NoSkipToPushing", StatusQueued, StatusPushing, false},
		{"NoBackwards", StatusCompleted, StatusProcessing, false},
		{"TerminalSuccessFrozen", StatusPushSuccess, StatusPushing, false},
		{"NoAuditFromQueued", StatusQueued, StatusPendingAudit, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

// Every status must be reachable from queued by walking the table.
func TestAllStatusesReachableFromQueued(t *testing.T) {
	all := []JobStatus{
		StatusQueued, StatusProcessing, StatusPendingAudit, StatusCompleted,
		StatusPushing, StatusPushSuccess, StatusPushFailed, StatusFailed,
		StatusRejected,
	}

	seen := map[JobStatus]bool{StatusQueued: true}
	frontier := []JobStatus{StatusQueued}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, next := range transitions[cur] {
			if !seen[next] {
				seen[next] = true
				frontier = append(frontier, next)
			}
		}
	}

	for _, s := range all {
		assert.Truef(t, seen[s], "status %s not reachable from queued", s)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StatusPushSuccess.IsTerminal())
	assert.True(t, StatusPushFailed.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusRejected.IsTerminal())
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusPendingAudit.IsTerminal())
	assert.False(t, StatusCompleted.IsTerminal())
}
