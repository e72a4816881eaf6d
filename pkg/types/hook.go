package types

import "encoding/json"

const (
	EventPreToolUse  = "PreToolUse"
	EventPostToolUse = "PostToolUse"
)

// Tool names the mediator understands. Anything else passes through.
const (
	ToolBash      = "Bash"
	ToolRead      = "Read"
	ToolWrite     = "Write"
	ToolEdit      = "Edit"
	ToolMultiEdit = "MultiEdit"
	ToolGlob      = "Glob"
	ToolGrep      = "Grep"
	ToolLS        = "LS"
)

// HookInput is the JSON object the agent runtime writes to stdin once per
// tool call.
type HookInput struct {
	SessionID     string          `json:"session_id,omitempty"`
	ToolName      string          `json:"tool_name"`
	ToolInput     json.RawMessage `json:"tool_input,omitempty"`
	ToolUseID     string          `json:"tool_use_id,omitempty"`
	CWD           string          `json:"cwd,omitempty"`
	HookEventName string          `json:"hook_event_name,omitempty"`
	ToolResponse  json.RawMessage `json:"tool_response,omitempty"`
}

// HookOutput is written to stdout. A pass-through produces no output at
// all, so a nil HookSpecificOutput is never serialized.
type HookOutput struct {
	HookSpecificOutput *HookSpecificOutput `json:"hookSpecificOutput"`
}

type HookSpecificOutput struct {
	HookEventName            string         `json:"hookEventName"`
	PermissionDecision       Decision       `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string         `json:"permissionDecisionReason,omitempty"`
	ModifiedInput            map[string]any `json:"modifiedInput,omitempty"`
	SandboxInfo              *SandboxInfo   `json:"sandboxInfo,omitempty"`

	// Post phase only.
	ModifiedResult    json.RawMessage `json:"modifiedResult,omitempty"`
	AdditionalContext string          `json:"additionalContext,omitempty"`
}

type SandboxInfo struct {
	Level           string   `json:"level"`
	Action          string   `json:"action,omitempty"`
	OriginalCommand string   `json:"originalCommand,omitempty"`
	TrashedTo       []string `json:"trashedTo,omitempty"`
	BackedUp        bool     `json:"backedUp,omitempty"`
	Backup          string   `json:"backup,omitempty"`
}

// ToolInput holds the tool_input fields the mediator reads. Unknown fields
// are preserved separately by the caller when rewriting.
type ToolInput struct {
	Command  string `json:"command,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	// FilePathAlt is accepted from runtimes that use camelCase.
	FilePathAlt string `json:"filePath,omitempty"`
	Path        string `json:"path,omitempty"`
	Pattern     string `json:"pattern,omitempty"`
	Content     string `json:"content,omitempty"`
}

// TargetPath returns file_path, falling back to filePath.
func (t ToolInput) TargetPath() string {
	if t.FilePath != "" {
		return t.FilePath
	}
	return t.FilePathAlt
}
