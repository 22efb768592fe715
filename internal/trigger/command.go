package trigger

// CommandKind distinguishes user-defined slash commands from the built-in
// plugin commands of the same semantic type.
type CommandKind string

const (
	CommandUserDefined CommandKind = "user"
	CommandBuiltIn     CommandKind = "builtin"
)

// CommandReference names the concrete command implementation a workflow
// invokes for its plan stage. The two-level lookup (user-defined first,
// built-in fallback) is a permanent design invariant, not a cache.
type CommandReference struct {
	Kind CommandKind
	// Type is the workflow type: feature, bug, or chore.
	Type string
}

// Slash returns the slash command string to execute.
func (r CommandReference) Slash() string {
	if r.Kind == CommandBuiltIn {
		return "/sdlc:" + r.Type
	}
	return "/" + r.Type
}
