package domain_test

import (
	"testing"

	"github.com/filingdesk/filingdesk/internal/domain"
)

func TestNewDraft(t *testing.T) {
	d := domain.NewDraft("d-1", "gst-registration", "basic", "user@example.com", "Asha")

	if d.Status != domain.StatusEditing {
		t.Errorf("Status = %q, want %q", d.Status, domain.StatusEditing)
	}
	if d.CurrentStep != 1 || d.Frontier != 1 {
		t.Errorf("CurrentStep/Frontier = %d/%d, want 1/1", d.CurrentStep, d.Frontier)
	}
	if d.Fields == nil || d.Documents == nil || d.Acknowledged == nil {
		t.Error("maps must be initialized")
	}
	if d.UpdatedAt != d.CreatedAt {
		t.Error("UpdatedAt should equal CreatedAt on a new draft")
	}
}

func TestDraft_StepMovement(t *testing.T) {
	d := domain.NewDraft("d-1", "svc", "basic", "u@example.com", "U")
	const total = 3

	if err := d.Advance(total); err != nil {
		t.Fatalf("advance 1->2: %v", err)
	}
	if err := d.Advance(total); err != nil {
		t.Fatalf("advance 2->3: %v", err)
	}
	if err := d.Advance(total); err == nil {
		t.Error("advance past the final step should fail")
	}
	if d.Frontier != 3 {
		t.Errorf("Frontier = %d, want 3", d.Frontier)
	}

	if err := d.Retreat(); err != nil {
		t.Fatalf("retreat 3->2: %v", err)
	}
	if err := d.Jump(1); err != nil {
		t.Fatalf("jump to passed step 1: %v", err)
	}
	// Step 3 was reached before, so jumping back up is allowed.
	if err := d.Jump(3); err != nil {
		t.Fatalf("jump to reached step 3: %v", err)
	}

	if err := d.Jump(4); err == nil {
		t.Error("jump beyond the frontier should fail")
	}
}

func TestDraft_MovementBlockedWhileSubmitting(t *testing.T) {
	d := domain.NewDraft("d-1", "svc", "basic", "u@example.com", "U")
	d.Status = domain.StatusSubmitting

	if err := d.Advance(3); err == nil {
		t.Error("advance while submitting should fail")
	}
	if err := d.Retreat(); err == nil {
		t.Error("retreat while submitting should fail")
	}
	if err := d.Jump(1); err == nil {
		t.Error("jump while submitting should fail")
	}
}

func TestTransitions_SubmitLifecycle(t *testing.T) {
	// editing -> submitting -> failed -> submitting -> succeeded
	path := []struct {
		event domain.Event
		src   domain.Status
		dst   domain.Status
	}{
		{domain.EventBeginSubmit, domain.StatusEditing, domain.StatusSubmitting},
		{domain.EventSubmitFailed, domain.StatusSubmitting, domain.StatusFailed},
		{domain.EventBeginSubmit, domain.StatusFailed, domain.StatusSubmitting},
		{domain.EventSubmitSucceeded, domain.StatusSubmitting, domain.StatusSucceeded},
	}

	for _, tc := range path {
		found := false
		for _, tr := range domain.Transitions {
			if tr.Event == tc.event && tr.Src == tc.src && tr.Dst == tc.dst {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing transition: %q from %q -> %q", tc.event, tc.src, tc.dst)
		}
	}
}

func TestTransitions_SucceededIsTerminal(t *testing.T) {
	for _, tr := range domain.Transitions {
		if tr.Src == domain.StatusSucceeded {
			t.Errorf("unexpected transition out of succeeded: %q", tr.Event)
		}
	}
}
