package domain

import "testing"

func TestCanTransitionQuickTest(t *testing.T) {
	cases := []struct {
		from, to QuickTestStatus
		want     bool
	}{
		{QuickTestQueued, QuickTestDispatched, true},
		{QuickTestQueued, QuickTestCancelled, true},
		{QuickTestQueued, QuickTestRunning, false},
		{QuickTestDispatched, QuickTestRunning, true},
		{QuickTestRunning, QuickTestCompleted, true},
		{QuickTestRunning, QuickTestQueued, false},
		{QuickTestCompleted, QuickTestRunning, false},
		{QuickTestCancelled, QuickTestRunning, false},
	}
	for _, c := range cases {
		if got := CanTransitionQuickTest(c.from, c.to); got != c.want {
			t.Errorf("CanTransitionQuickTest(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsTerminalQuickTestStatus(t *testing.T) {
	for _, s := range []QuickTestStatus{QuickTestCompleted, QuickTestFailed, QuickTestCancelled} {
		if !IsTerminalQuickTestStatus(s) {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []QuickTestStatus{QuickTestQueued, QuickTestDispatched, QuickTestRunning} {
		if IsTerminalQuickTestStatus(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestValidateAgentSetting(t *testing.T) {
	if err := ValidateAgentSetting(SettingHeartbeatInterval, "30"); err != nil {
		t.Fatalf("expected valid interval, got %v", err)
	}
	if err := ValidateAgentSetting(SettingHeartbeatInterval, "5"); err == nil {
		t.Fatal("expected rejection of out-of-range interval")
	}
	if err := ValidateAgentSetting("not_a_real_key", "x"); err == nil {
		t.Fatal("expected rejection of unknown key")
	}
	if err := ValidateAgentSetting(SettingAutoCleanup, "true"); err != nil {
		t.Fatalf("expected valid bool, got %v", err)
	}
	if err := ValidateAgentSetting(SettingAutoCleanup, "yes"); err == nil {
		t.Fatal("expected rejection of non-bool value")
	}
}

func TestClampHeartbeatInterval(t *testing.T) {
	if got := ClampHeartbeatInterval(1); got != 10 {
		t.Errorf("expected clamp to 10, got %d", got)
	}
	if got := ClampHeartbeatInterval(1000); got != 300 {
		t.Errorf("expected clamp to 300, got %d", got)
	}
	if got := ClampHeartbeatInterval(60); got != 60 {
		t.Errorf("expected 60 unchanged, got %d", got)
	}
}
