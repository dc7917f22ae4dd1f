package conversation

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BaSui01/agentmesh/types"
)

// truncationNotice is appended when the builder ran out of budget.
const truncationNotice = "\n[Note: Context was truncated due to token budget]\n"

// BuildContext reconstructs the conversation history of a thread as LLM
// context. maxTokens bounds the estimate (0 = unlimited); when
// includeFiles is set, referenced file contents are inlined as long as
// they fit within half the budget. Turns are collected newest-first
// against the budget and presented in chronological order.
//
// A missing or expired thread yields an empty, non-truncated result.
func (m *Memory) BuildContext(threadID string, maxTokens int, includeFiles bool) ReconstructedContext {
	thread, ok := m.GetThread(threadID)
	if !ok {
		return ReconstructedContext{}
	}

	var sb strings.Builder
	totalTokens := 0
	truncated := false
	var filesIncluded []string

	fmt.Fprintf(&sb, "=== Conversation Thread: %s ===\n", threadID)
	fmt.Fprintf(&sb, "Initiated by: %s\n", thread.InitiatingAgent)
	fmt.Fprintf(&sb, "Created: %d\n\n", thread.CreatedAt)

	if len(thread.Context) > 0 {
		sb.WriteString("Initial Context:\n")
		for _, key := range sortedKeys(thread.Context) {
			fmt.Fprintf(&sb, "  %s: %s\n", key, thread.Context[key])
		}
		sb.WriteString("\n")
	}

	// Collect referenced files, newest turn first, first occurrence wins.
	var allFiles []string
	seen := make(map[string]struct{})
	for i := len(thread.Turns) - 1; i >= 0; i-- {
		for _, file := range thread.Turns[i].Files {
			if _, dup := seen[file]; dup {
				continue
			}
			seen[file] = struct{}{}
			allFiles = append(allFiles, file)
		}
	}

	if includeFiles && len(allFiles) > 0 {
		sb.WriteString("Referenced Files:\n")
		fileTokens := 0
		for _, file := range allFiles {
			estimate := m.estimator.EstimateFileTokens(file)
			// Files may claim at most half the budget; the rest is
			// reserved for the conversation itself.
			if maxTokens > 0 && fileTokens+estimate > maxTokens/2 {
				truncated = true
				break
			}
			fmt.Fprintf(&sb, "\n--- File: %s ---\n", file)
			if data, err := os.ReadFile(file); err == nil {
				sb.Write(data)
				filesIncluded = append(filesIncluded, file)
				fileTokens += estimate
			}
			sb.WriteString("\n--- End File ---\n")
		}
		sb.WriteString("\n")
		totalTokens += fileTokens
	}

	sb.WriteString("Conversation History:\n")

	// Walk turns newest-first against the remaining budget.
	included := 0
	for i := len(thread.Turns) - 1; i >= 0; i-- {
		turn := thread.Turns[i]
		turnTokens := m.estimator.EstimateTurnTokens(turn.Role, turn.Content)
		if maxTokens > 0 && totalTokens+turnTokens > maxTokens {
			truncated = true
			break
		}
		totalTokens += turnTokens
		included++
	}

	// Present the selected suffix in chronological order.
	for i := len(thread.Turns) - included; i < len(thread.Turns); i++ {
		turn := thread.Turns[i]
		fmt.Fprintf(&sb, "\n[%s]", turn.Role)
		if turn.AgentID != "" {
			fmt.Fprintf(&sb, " (agent: %s)", turn.AgentID)
		}
		if turn.Model != "" {
			fmt.Fprintf(&sb, " (model: %s)", turn.Model)
		}
		fmt.Fprintf(&sb, ":\n%s\n", turn.Content)
		if len(turn.Files) > 0 {
			fmt.Fprintf(&sb, "  Files: %s\n", strings.Join(turn.Files, ", "))
		}
	}

	if truncated {
		sb.WriteString(truncationNotice)
	}

	return ReconstructedContext{
		FullContext:   sb.String(),
		TokensUsed:    totalTokens,
		TurnsIncluded: included,
		FilesIncluded: filesIncluded,
		Truncated:     truncated,
	}
}

// ReconstructRequest prepends a thread's rebuilt context to a continuation
// request's prompt and unions the included files into the request. Half of
// the request's token budget (when set) is granted to the context.
func (m *Memory) ReconstructRequest(req types.Request) types.Request {
	if req.ThreadID == "" {
		return req
	}

	budget := 0
	if req.MaxTokens > 0 {
		budget = req.MaxTokens / 2
	}
	ctx := m.BuildContext(req.ThreadID, budget, true)

	reconstructed := req
	if ctx.FullContext != "" {
		reconstructed.Prompt = ctx.FullContext + "\n\n[Current Request]:\n" + req.Prompt
	}
	for _, file := range ctx.FilesIncluded {
		if !containsString(reconstructed.Files, file) {
			reconstructed.Files = append(reconstructed.Files, file)
		}
	}
	return reconstructed
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
