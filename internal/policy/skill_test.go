package policy

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/orchestrator/internal/skills"
)

func TestCheckPolicySkill_Descriptor(t *testing.T) {
	s := CheckPolicySkill()
	if s.Target != skills.InProcess {
		t.Errorf("Target = %v, want InProcess", s.Target)
	}
	if s.Execute == nil {
		t.Error("Execute must not be nil for an in-process skill")
	}
}

func TestExecuteCheckPolicy_MissingDiffArgIsParseError(t *testing.T) {
	_, err := executeCheckPolicy(context.Background(), map[string]any{})
	var skillErr *skills.SkillError
	if err == nil {
		t.Fatal("expected an error for a missing diff argument")
	}
	if !asSkillError(err, &skillErr) || skillErr.Kind != skills.KindParseError {
		t.Errorf("expected KindParseError, got %v", err)
	}
}

func TestExecuteCheckPolicy_CleanDiffApprovedNoError(t *testing.T) {
	diff := "--- a/foo.go\n+++ b/foo.go\n@@ -1,1 +1,1 @@\n-old\n+new\n"
	out, err := executeCheckPolicy(context.Background(), map[string]any{"diff": diff})
	if err != nil {
		t.Fatalf("executeCheckPolicy() error = %v", err)
	}
	if approved, ok := out["approved"].(bool); !ok || !approved {
		t.Errorf("approved = %#v, want true", out["approved"])
	}
}

func TestExecuteCheckPolicy_ViolationReturnsPolicyViolationError(t *testing.T) {
	diff := "+++ b/config.py\n+api_key = \"sk-abcd1234efgh5678\"\n"
	out, err := executeCheckPolicy(context.Background(), map[string]any{"diff": diff})
	var skillErr *skills.SkillError
	if err == nil {
		t.Fatal("expected a policy violation error")
	}
	if !asSkillError(err, &skillErr) || skillErr.Kind != skills.KindPolicyViolation {
		t.Errorf("expected KindPolicyViolation, got %v", err)
	}
	if approved, ok := out["approved"].(bool); !ok || approved {
		t.Errorf("approved = %#v, want false", out["approved"])
	}
}

func asSkillError(err error, target **skills.SkillError) bool {
	se, ok := err.(*skills.SkillError)
	if !ok {
		return false
	}
	*target = se
	return true
}
