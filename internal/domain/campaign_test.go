package domain

import "testing"

func TestCanTransitionCampaign(t *testing.T) {
	if !CanTransitionCampaign(CampaignDraft, CampaignQueued) {
		t.Error("draft -> queued should be legal")
	}
	if CanTransitionCampaign(CampaignDraft, CampaignRunning) {
		t.Error("draft -> running should be illegal")
	}
	if !CanTransitionCampaign(CampaignRunning, CampaignCancelled) {
		t.Error("running -> cancelled should be legal")
	}
	if CanTransitionCampaign(CampaignCompleted, CampaignRunning) {
		t.Error("completed is terminal")
	}
}

func TestEditableCampaignStatus(t *testing.T) {
	if !EditableCampaignStatus(CampaignDraft) {
		t.Error("draft campaigns must be editable")
	}
	if EditableCampaignStatus(CampaignRunning) {
		t.Error("running campaigns must not be editable")
	}
}

func TestCountersConsistent(t *testing.T) {
	c := Campaign{TotalRuns: 4, Succeeded: 2, Failed: 1, Skipped: 0, Status: CampaignRunning}
	if !c.CountersConsistent() {
		t.Error("running campaign with sum < total should be consistent")
	}

	c.Status = CampaignCompleted
	if c.CountersConsistent() {
		t.Error("terminal campaign with sum < total should be inconsistent")
	}

	c.Skipped = 1
	if !c.CountersConsistent() {
		t.Error("terminal campaign with sum == total should be consistent")
	}

	c.Succeeded = 100
	if c.CountersConsistent() {
		t.Error("sum exceeding total should always be inconsistent")
	}
}
