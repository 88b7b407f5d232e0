package similarity

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Portail RH":     "portailrh",
		"PORTAIL-RH":     "portailrh",
		"portail_rh":     "portailrh",
		"  Mixed-Case_X": "mixedcasex",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestScoreContainment(t *testing.T) {
	if got := Score("Portail RH", "portail rh v2"); got != 0.9 {
		t.Fatalf("containment score = %v, want 0.9", got)
	}
	// equal after normalization is containment too
	if got := Score("Portail RH", "PORTAIL-RH"); got != 0.9 {
		t.Fatalf("equal-normalized score = %v, want 0.9", got)
	}
}

func TestScorePositional(t *testing.T) {
	// "abcd" vs "abzd": 3 of 4 positions match
	if got := Score("abcd", "abzd"); got != 0.75 {
		t.Fatalf("positional score = %v, want 0.75", got)
	}
	if got := Score("", "anything"); got != 0 {
		t.Fatalf("empty score = %v, want 0", got)
	}
}

func TestRankThresholdAndOrder(t *testing.T) {
	existing := map[string]string{
		"r1": "Migration CRM",
		"r2": "migration-crm phase 2",
		"r3": "Refonte intranet",
	}
	out := Rank("Migration CRM", existing, 0.7)
	if len(out) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(out))
	}
	for _, c := range out {
		if c.Score < 0.7 {
			t.Fatalf("candidate %s below threshold: %v", c.ID, c.Score)
		}
	}
	if out[0].Score < out[1].Score {
		t.Fatalf("candidates not sorted by score desc")
	}
	if len(Rank("Something else entirely", existing, 0.7)) != 0 {
		t.Fatalf("expected no candidates for unrelated title")
	}
}
