package pattern

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// BuiltinClasses are the command classes available as "@name" leading tokens
// in level tables, e.g. "@privilege" in a blocked list.
var BuiltinClasses = map[string][]string{
	"privilege": {"sudo", "su", "doas", "pkexec", "runas"},

	"destructive": {
		"rm", "rmdir", "shred", "unlink", "srm",
		"dd", "mkfs", "mkfs.*", "wipefs", "fdisk", "parted",
		"truncate",
	},

	"process": {"kill", "killall", "pkill", "xkill"},

	"network": {
		"curl", "wget", "nc", "ncat", "netcat", "socat", "telnet",
		"ftp", "sftp", "aria2c",
	},

	"remote": {"ssh", "scp", "rsync", "mosh", "sshpass"},

	"shell": {
		"bash", "zsh", "fish", "sh", "dash", "ksh", "tcsh", "csh",
		"pwsh", "powershell", "nu",
	},

	"system": {
		"systemctl", "service", "launchctl", "shutdown", "reboot",
		"halt", "poweroff", "init", "mount", "umount", "chown", "chgrp",
		"useradd", "userdel", "usermod", "passwd", "crontab",
	},

	"package": {
		"apt", "apt-get", "dpkg", "yum", "dnf", "rpm", "pacman",
		"brew", "port", "snap", "flatpak", "apk",
	},

	"vcs": {"git", "gh", "hg", "svn"},
}

// ClassRegistry holds the command classes a pattern can reference.
type ClassRegistry struct {
	mu      sync.RWMutex
	classes map[string][]string
}

// NewClassRegistry returns a registry seeded with BuiltinClasses.
func NewClassRegistry() *ClassRegistry {
	r := &ClassRegistry{classes: make(map[string][]string, len(BuiltinClasses))}
	for name, members := range BuiltinClasses {
		r.classes[name] = append([]string{}, members...)
	}
	return r
}

// Get returns a copy of the members of a class (name without "@").
func (r *ClassRegistry) Get(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.classes[strings.TrimPrefix(name, "@")]
	if !ok {
		return nil, fmt.Errorf("unknown class: @%s", name)
	}
	return append([]string{}, members...), nil
}

func (r *ClassRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.classes[strings.TrimPrefix(name, "@")]
	return ok
}

// Extend adds members to a class, creating it when needed.
func (r *ClassRegistry) Extend(name string, members []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name = strings.TrimPrefix(name, "@")
	r.classes[name] = append(r.classes[name], members...)
}

// List returns all class names, sorted.
func (r *ClassRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultClasses is used by Compile and CompileToken.
var DefaultClasses = NewClassRegistry()
