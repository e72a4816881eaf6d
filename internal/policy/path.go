package policy

import "fmt"

// Operation is the kind of filesystem access being checked.
type Operation int

const (
	Read Operation = iota
	Write
)

func (o Operation) String() string {
	if o == Write {
		return "write"
	}
	return "read"
}

// PathDecision is the outcome of ClassifyPathAccess.
type PathDecision struct {
	Allowed bool
	Reason  string
	// Resolved is the absolute, symlink-resolved path that was judged.
	Resolved string
}

// ClassifyPathAccess decides whether the level may perform op on p.
// Relative paths resolve against the project root and symlinks are followed,
// so a project link to /etc/passwd is judged as /etc/passwd.
func (e *Engine) ClassifyPathAccess(p string, level *Level, op Operation) PathDecision {
	abs := e.Resolve(p)
	allow := PathDecision{Allowed: true, Resolved: abs}
	deny := func(reason string) PathDecision {
		return PathDecision{Reason: reason, Resolved: abs}
	}
	if level == nil {
		return deny("no security level")
	}
	if op == Write && !level.Boundaries.Omnipotent && e.SelfProtected(abs) {
		return deny(fmt.Sprintf("%s belongs to agentguard's own state and is not writable", abs))
	}

	if within(abs, e.projectRoot) || within(abs, e.configDir) {
		return allow
	}
	if op == Read && withinAny(abs, SystemExecDirs) {
		return allow
	}

	b := level.Boundaries
	if b.ProjectOnly {
		return deny(fmt.Sprintf("Project-only mode: %s is outside the project", abs))
	}
	if b.Unrestricted {
		return allow
	}
	inHome := within(abs, e.home)
	if inHome && !b.AllowHomeAccess {
		return deny("Home access not allowed")
	}
	// the home directory is the more specific root when it sits below one
	// of the system roots
	if !inHome && withinAny(abs, SystemRoots) && !b.AllowSystemPaths {
		return deny("System paths not allowed")
	}
	if !inHome && withinAny(abs, DeviceRoots) && !b.AllowDevices {
		return deny("Device access not allowed")
	}
	if op == Write && !inHome && !b.AllowSystemWrite {
		return deny("System write not allowed")
	}
	return allow
}
