package models

import "testing"

func TestRunCompleteDerivesStatus(t *testing.T) {
	tests := []struct {
		name       string
		executions []TaskExecution
		want       RunStatus
	}{
		{"all successful", []TaskExecution{{Status: TaskExecutionStatusSuccessful}}, RunStatusSuccessful},
		{"one failed", []TaskExecution{
			{Status: TaskExecutionStatusSuccessful},
			{Status: TaskExecutionStatusFailed},
		}, RunStatusFailed},
		{"one cancelled wins over failed", []TaskExecution{
			{Status: TaskExecutionStatusFailed},
			{Status: TaskExecutionStatusCancelled},
		}, RunStatusCancelled},
		{"skipped does not affect status", []TaskExecution{
			{Status: TaskExecutionStatusSkipped},
			{Status: TaskExecutionStatusSuccessful},
		}, RunStatusSuccessful},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRun("ns", "pl", 1, 1, Initiator{Kind: InitiatorHuman, Name: "alice"})
			r.Complete(tc.executions)

			if r.State != RunStateComplete {
				t.Fatalf("expected state complete, got %s", r.State)
			}
			if r.Ended == nil {
				t.Fatalf("expected Ended to be set")
			}
			if r.Status != tc.want {
				t.Fatalf("expected status %s, got %s", tc.want, r.Status)
			}
		})
	}
}
