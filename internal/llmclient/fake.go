package llmclient

import (
	"context"

	"github.com/fyrsmithlabs/orchestrator/internal/model"
)

// FakeClient is an in-memory Client for tests: it returns queued responses
// in order and records every call it received.
type FakeClient struct {
	Responses []Response
	Errs      []error
	Calls     [][]model.Message
	callIndex int
}

func (f *FakeClient) Complete(_ context.Context, _ string, history []model.Message) (Response, error) {
	f.Calls = append(f.Calls, history)
	idx := f.callIndex
	f.callIndex++

	if idx < len(f.Errs) && f.Errs[idx] != nil {
		return Response{}, f.Errs[idx]
	}
	if idx < len(f.Responses) {
		return f.Responses[idx], nil
	}
	return Response{Text: "<result>no more scripted responses</result>"}, nil
}
