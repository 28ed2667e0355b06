package policy

import (
	"strings"
	"testing"
)

func TestCheckDiff_BlankDiffIsNeverApproved(t *testing.T) {
	report := CheckDiff("   \n\n")
	if report.Approved {
		t.Error("blank diff must not be approved")
	}
}

func TestCheckDiff_CleanDiffIsApproved(t *testing.T) {
	diff := "--- a/foo.go\n+++ b/foo.go\n@@ -1,2 +1,2 @@\n-func old() {}\n+func new() {}\n"
	report := CheckDiff(diff)
	if !report.Approved {
		t.Errorf("clean diff rejected: %v", report.Violations)
	}
	if report.LinesAdded != 1 || report.LinesRemoved != 1 {
		t.Errorf("LinesAdded=%d LinesRemoved=%d, want 1/1", report.LinesAdded, report.LinesRemoved)
	}
}

func TestCheckDiff_FlagsDisabledTestAnnotation(t *testing.T) {
	diff := "+++ b/FooTest.java\n+    @Disabled\n+    void testFoo() {}\n"
	report := CheckDiff(diff)
	if report.Approved {
		t.Error("disabled test annotation should not be approved")
	}
	if !containsSubstring(report.Violations, "disabled test annotation") {
		t.Errorf("violations missing disabled-test entry: %v", report.Violations)
	}
}

func TestCheckDiff_FlagsGoTestSkip(t *testing.T) {
	diff := "+++ b/foo_test.go\n+\tt.Skip(\"flaky\")\n"
	report := CheckDiff(diff)
	if report.Approved {
		t.Error("t.Skip should not be approved")
	}
}

func TestCheckDiff_FlagsHardcodedSecret(t *testing.T) {
	diff := "+++ b/config.py\n+api_key = \"sk-abcd1234efgh5678\"\n"
	report := CheckDiff(diff)
	if report.Approved {
		t.Error("hardcoded secret should not be approved")
	}
	if !containsSubstring(report.Violations, "potential secret") {
		t.Errorf("violations missing secret entry: %v", report.Violations)
	}
}

func TestCheckDiff_FlagsOversizedPatch(t *testing.T) {
	var b strings.Builder
	b.WriteString("+++ b/big.go\n")
	for i := 0; i < MaxPatchLOC+1; i++ {
		b.WriteString("+line\n")
	}
	report := CheckDiff(b.String())
	if report.Approved {
		t.Error("oversized patch should not be approved")
	}
	if !containsSubstring(report.Violations, "LOC (limit") {
		t.Errorf("violations missing size entry: %v", report.Violations)
	}
}

func TestCheckDiff_IgnoresRemovedLinesForContentChecks(t *testing.T) {
	diff := "+++ b/foo_test.go\n-\t@Disabled\n-api_key = \"sk-abcd1234efgh5678\"\n"
	report := CheckDiff(diff)
	if !report.Approved {
		t.Errorf("removed lines must not trigger content violations: %v", report.Violations)
	}
	if report.LinesRemoved != 2 {
		t.Errorf("LinesRemoved = %d, want 2", report.LinesRemoved)
	}
}

func containsSubstring(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
