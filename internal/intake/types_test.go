package intake

import "testing"

func TestPhaseProgression(t *testing.T) {
	cases := []struct {
		from, to Phase
		ok       bool
	}{
		{PhasePreLogin, PhaseSecured, true},
		{PhaseSecured, PhaseDataGathering, true},
		{PhaseDataGathering, PhaseCompleted, true},
		{PhasePreLogin, PhaseCompleted, true},
		{PhaseSecured, PhasePreLogin, false},
		{PhaseCompleted, PhaseDataGathering, false},
		{PhaseTerminated, PhaseSecured, false},
		{PhasePreLogin, PhaseTerminated, false}, // only conflict detection terminates
	}
	for _, tc := range cases {
		if got := tc.from.CanAdvanceTo(tc.to); got != tc.ok {
			t.Errorf("CanAdvanceTo(%s -> %s) = %t, want %t", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestPhaseTerminal(t *testing.T) {
	for _, p := range []Phase{PhasePreLogin, PhaseSecured, PhaseDataGathering} {
		if p.Terminal() {
			t.Errorf("%s should not be terminal", p)
		}
	}
	for _, p := range []Phase{PhaseCompleted, PhaseTerminated} {
		if !p.Terminal() {
			t.Errorf("%s should be terminal", p)
		}
	}
}

func TestIdentityCompletenessRatio(t *testing.T) {
	u := UserIdentity{}
	if got := u.CompletenessRatio(); got != 0 {
		t.Fatalf("empty identity ratio = %v, want 0", got)
	}
	u = u.Merge(UserIdentity{Name: "Alice", Email: "a@example.com"})
	if got := u.CompletenessRatio(); got != 0.5 {
		t.Fatalf("half identity ratio = %v, want 0.5", got)
	}
	u = u.Merge(UserIdentity{Phone: "+15550001111", LegalArea: "family"})
	if got := u.CompletenessRatio(); got != 1 {
		t.Fatalf("full identity ratio = %v, want 1", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	st := &State{
		SessionID:      "s1",
		AllowedUsers:   []string{"auth0|alice"},
		DataGoals:      []DataGoal{{ID: "g1"}},
		CompletedGoals: []string{"g1"},
		Messages:       []Message{{ID: "m1", Metadata: map[string]string{"k": "v"}}},
	}
	cp := st.Clone()
	cp.AllowedUsers[0] = "auth0|mallory"
	cp.DataGoals[0].ID = "other"
	cp.CompletedGoals[0] = "other"
	cp.Messages[0].Metadata["k"] = "changed"

	if st.AllowedUsers[0] != "auth0|alice" || st.DataGoals[0].ID != "g1" ||
		st.CompletedGoals[0] != "g1" || st.Messages[0].Metadata["k"] != "v" {
		t.Fatal("clone shares memory with the original")
	}
}

func TestGoalCompletionRatio(t *testing.T) {
	st := &State{}
	if got := st.GoalCompletionRatio(); got != 0 {
		t.Fatalf("no goals ratio = %v, want 0", got)
	}
	st.DataGoals = []DataGoal{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	st.CompletedGoals = []string{"a"}
	if got := st.GoalCompletionRatio(); got != 0.25 {
		t.Fatalf("ratio = %v, want 0.25", got)
	}
}
