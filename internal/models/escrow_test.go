package models

import (
	"testing"
	"time"
)

func TestIsValidEscrowTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Settlement paths
		{EscrowStatusCreated, EscrowStatusReleased, true},
		{EscrowStatusCreated, EscrowStatusRefunded, true},

		// Terminal states never move again
		{EscrowStatusReleased, EscrowStatusRefunded, false},
		{EscrowStatusReleased, EscrowStatusCreated, false},
		{EscrowStatusReleased, EscrowStatusReleased, false},
		{EscrowStatusRefunded, EscrowStatusReleased, false},
		{EscrowStatusRefunded, EscrowStatusCreated, false},
		{EscrowStatusRefunded, EscrowStatusRefunded, false},

		// Unknown statuses
		{"nonexistent", EscrowStatusReleased, false},
		{EscrowStatusCreated, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidEscrowTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidEscrowTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	terminal := []string{EscrowStatusReleased, EscrowStatusRefunded}
	for _, status := range terminal {
		transitions := ValidEscrowTransitions[status]
		if len(transitions) != 0 {
			t.Errorf("terminal status %q should have no transitions, got %v", status, transitions)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		status   string
		terminal bool
	}{
		{EscrowStatusCreated, false},
		{EscrowStatusReleased, true},
		{EscrowStatusRefunded, true},
	}
	for _, tt := range tests {
		e := Escrow{Status: tt.status}
		if e.IsTerminal() != tt.terminal {
			t.Errorf("IsTerminal() for %q = %v, want %v", tt.status, e.IsTerminal(), tt.terminal)
		}
	}
}

func TestBuyerMayRefund(t *testing.T) {
	created := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	window := 24 * time.Hour
	e := Escrow{JobID: "J1", Status: EscrowStatusCreated, CreatedAt: created}

	if e.BuyerMayRefund(created.Add(1*time.Hour), window) {
		t.Error("buyer refund allowed 1h after creation, want denied until window passes")
	}
	if e.BuyerMayRefund(created.Add(24*time.Hour), window) {
		t.Error("buyer refund allowed exactly at window boundary, want strictly after")
	}
	if !e.BuyerMayRefund(created.Add(24*time.Hour+time.Second), window) {
		t.Error("buyer refund denied after window passed")
	}
}
