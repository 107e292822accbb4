package handoff

import (
	"github.com/BaSui01/agentgraph/types"
)

// TransferMode controls how much conversational context crosses a handoff.
type TransferMode string

const (
	// TransferFull carries every variable and the whole transcript.
	TransferFull TransferMode = "full"
	// TransferMinimal carries only the latest message, no variables.
	TransferMinimal TransferMode = "minimal"
	// TransferFiltered carries the whole transcript but only the
	// variables named by the request's filter.
	TransferFiltered TransferMode = "filtered"
	// TransferNone starts the target with a clean slate.
	TransferNone TransferMode = "none"
)

// buildTransfer assembles the context handed to the target according to
// the mode. The returned maps and slices are copies; the source
// conversation is never aliased.
func buildTransfer(mode TransferMode, req Request) (map[string]any, []types.Message) {
	switch mode {
	case TransferFull:
		return copyVars(req.Variables, nil), copyMessages(req.Messages)

	case TransferMinimal:
		if len(req.Messages) == 0 {
			return nil, nil
		}
		return nil, copyMessages(req.Messages[len(req.Messages)-1:])

	case TransferFiltered:
		return copyVars(req.Variables, req.Filter), copyMessages(req.Messages)

	case TransferNone:
		return nil, nil

	default:
		return copyVars(req.Variables, nil), copyMessages(req.Messages)
	}
}

func copyVars(vars map[string]any, filter []string) map[string]any {
	if len(vars) == 0 {
		return nil
	}
	if filter == nil {
		out := make(map[string]any, len(vars))
		for k, v := range vars {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(filter))
	for _, k := range filter {
		if v, ok := vars[k]; ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func copyMessages(msgs []types.Message) []types.Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]types.Message, len(msgs))
	copy(out, msgs)
	return out
}
