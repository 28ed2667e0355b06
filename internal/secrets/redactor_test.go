package secrets

import "testing"

func TestRedact_CleanContentIsUnchanged(t *testing.T) {
	content := "package main\n\nfunc main() {}\n"

	redacted, findings, err := Redact(content)
	if err != nil {
		t.Fatalf("Redact() error = %v", err)
	}
	if redacted != content {
		t.Errorf("clean content should be returned unchanged, got %q", redacted)
	}
	if len(findings) != 0 {
		t.Errorf("got %d findings, want 0", len(findings))
	}
}

func TestReplaceFindings_MarksAndPreservesSurroundingText(t *testing.T) {
	content := "line one\nAPI_KEY=abcdef123456\nline three"
	findings := []Finding{
		{RuleID: "generic-api-key", Match: "abcdef123456", Line: 2, StartCol: 8, EndCol: 20},
	}

	got := replaceFindings(content, findings)
	want := "line one\nAPI_KEY=[REDACTED:generic-api-key:abcd]\nline three"
	if got != want {
		t.Errorf("replaceFindings() = %q, want %q", got, want)
	}
}

func TestReplaceFindings_ManyOnOneLineWorkRightToLeft(t *testing.T) {
	content := "a=1111 b=2222"
	findings := []Finding{
		{RuleID: "r", Match: "1111", Line: 1, StartCol: 2, EndCol: 6},
		{RuleID: "r", Match: "2222", Line: 1, StartCol: 9, EndCol: 13},
	}

	got := replaceFindings(content, findings)
	want := "a=[REDACTED:r:1111] b=[REDACTED:r:2222]"
	if got != want {
		t.Errorf("replaceFindings() = %q, want %q", got, want)
	}
}

func TestReplaceFindings_OutOfRangeLineIsSkipped(t *testing.T) {
	content := "only one line"
	findings := []Finding{{RuleID: "r", Match: "x", Line: 5, StartCol: 0, EndCol: 1}}

	got := replaceFindings(content, findings)
	if got != content {
		t.Errorf("out-of-range finding should be skipped, got %q", got)
	}
}

func TestPreviewOf_TruncatesToFourChars(t *testing.T) {
	if got := previewOf("ab"); got != "ab" {
		t.Errorf("previewOf(short) = %q, want %q", got, "ab")
	}
	if got := previewOf("abcdefgh"); got != "abcd" {
		t.Errorf("previewOf(long) = %q, want %q", got, "abcd")
	}
}
