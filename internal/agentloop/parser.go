package agentloop

import (
	"regexp"
	"strings"
)

// resultPattern matches the first <result>...</result> block, non-greedy,
// with . matching newlines, per spec.md §4.4's output extraction contract.
var resultPattern = regexp.MustCompile(`(?s)<result>(.*?)</result>`)

// codeBlockPattern matches the first triple-backtick fence, with an
// optional literal "python" language tag on the opening fence and a
// required newline before the body, per spec.md §4.4's output extraction
// contract and ResponseParser.CODE_BLOCK in the original source.
var codeBlockPattern = regexp.MustCompile("(?s)```(?:python)?\n(.*?)```")

// extractResult returns the trimmed inner text of the first <result> block
// in response, and whether one was found.
func extractResult(response string) (string, bool) {
	m := resultPattern.FindStringSubmatch(response)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// extractCodeBlock returns the trimmed body of the first fenced code block
// in response, and whether one was found.
func extractCodeBlock(response string) (string, bool) {
	m := codeBlockPattern.FindStringSubmatch(response)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}
