package policy

// Commands that wipe disks or the filesystem root are blocked on every level
// below INSERTDIETYHERE.
var catastrophic = []string{
	"rm -rf /",
	`rm -rf /\*`,
	"rm -rf ~",
	"mkfs",
	"mkfs.*",
	"dd if=/dev/zero",
	"dd if=/dev/random",
	"chmod -R 777 /",
}

func with(base []string, extra ...string) []string {
	out := make([]string, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

var protectedBranches = []string{"feature/*", "fix/*", "dev/*", "develop"}

// Builtin returns the level table used when no levels file exists. The
// returned table is validated and safe to modify.
func Builtin() *Table {
	t := &Table{
		Version: 1,
		Levels: map[LevelName]*Level{
			Jailed: {
				Description: "Read-mostly access to the project only",
				Risk:        "minimal",
				Emoji:       "🔒",
				Boundaries:  Boundaries{ProjectOnly: true},
				Commands: Commands{
					Allowed: []string{
						"ls", "cat", "head", "tail", "wc", "pwd", "echo", "grep", "find",
						"git status", "git diff", "git log", "git show", "git branch",
					},
					Blocked: []string{"*"},
				},
				Sanitization: Sanitization{Paths: PathsAggressive, Username: UsernameAlways},
				Backup:       &BackupPolicy{BeforeAnyChange: true, Diffs: true},
			},
			Sandbox: {
				Description: "Project work with no network and no privilege changes",
				Risk:        "low",
				Emoji:       "📦",
				Boundaries:  Boundaries{ProjectOnly: true},
				Commands: Commands{
					Blocked:         with(catastrophic, "@privilege", "@network", "@remote", "@system", "@package"),
					RequireApproval: []string{"rm", "mv", "kill", "git push", "git reset --hard", "npm publish"},
				},
				Sanitization: Sanitization{Paths: PathsAggressive, Username: UsernameAlways},
				Backup:       &BackupPolicy{BeforeAnyChange: true, Diffs: true},
			},
			Playground: {
				Description: "Everyday development inside the project and home directory",
				Risk:        "moderate",
				Emoji:       "🎮",
				Default:     true,
				Boundaries:  Boundaries{AllowHomeAccess: true},
				Commands: Commands{
					Blocked:         with(catastrophic, "sudo", "su", "doas", "@system"),
					RequireApproval: []string{"rm", "kill", "killall", "pkill", "git push --force", "git reset --hard", "git clean"},
				},
				Sanitization: Sanitization{Paths: PathsModerate, Username: UsernameAlways},
				Backup:       &BackupPolicy{BeforeAnyChange: true, Diffs: true},
			},
			AsUser: {
				Description: "Full user account access on a verified git branch",
				Risk:        "moderate-high",
				Emoji:       "👤",
				Boundaries:  Boundaries{AllowHomeAccess: true, AllowSystemPaths: true},
				Commands: Commands{
					Blocked:         with(catastrophic, "sudo", "su", "doas"),
					RequireApproval: []string{"rm -rf", "kill -9", "git push --force", "git reset --hard"},
				},
				Sanitization: Sanitization{Paths: PathsLight, Username: UsernameAlways},
				Backup:       &BackupPolicy{BeforeAnyChange: true, Diffs: true},
				GitRequired:  true,
				GitVerification: GitRequirements{
					AllowedBranches: protectedBranches,
				},
			},
			AsUserRemote: {
				Description: "User access plus remote hosts and devices",
				Risk:        "high",
				Emoji:       "🌐",
				Boundaries:  Boundaries{AllowHomeAccess: true, AllowSystemPaths: true, AllowDevices: true, AllowRemote: true},
				Commands: Commands{
					Blocked:         with(catastrophic, "sudo", "su", "doas"),
					RequireApproval: []string{"rm -rf", "kill -9", "git push --force", "git reset --hard"},
				},
				Sanitization: Sanitization{Paths: PathsLight, Username: UsernameAlways},
				Backup:       &BackupPolicy{BeforeAnyChange: true, Diffs: true},
				GitRequired:  true,
				GitVerification: GitRequirements{
					AllowedBranches: protectedBranches,
				},
			},
			AsRoot: {
				Description: "Privileged local administration",
				Risk:        "critical",
				Emoji:       "🔑",
				Boundaries:  Boundaries{AllowHomeAccess: true, AllowSystemPaths: true, AllowDevices: true, AllowSystemWrite: true},
				Commands: Commands{
					Blocked:         with(catastrophic),
					RequireApproval: []string{"sudo rm", "shutdown", "reboot", "halt", "poweroff"},
				},
				Sanitization: Sanitization{Paths: PathsLight, Username: UsernameNone},
				Backup:       &BackupPolicy{BeforeAnyChange: true, Diffs: true},
				GitRequired:  true,
				GitVerification: GitRequirements{
					RequireCleanTree: true,
					AllowedBranches:  protectedBranches,
				},
			},
			AsRootRemote: {
				Description: "Privileged administration of local and remote hosts",
				Risk:        "extreme",
				Emoji:       "🛰️",
				Boundaries: Boundaries{
					AllowHomeAccess: true, AllowSystemPaths: true, AllowDevices: true,
					AllowSystemWrite: true, AllowRemote: true,
				},
				Commands: Commands{
					Blocked:         with(catastrophic),
					RequireApproval: []string{"sudo rm", "shutdown", "reboot", "halt", "poweroff"},
				},
				Sanitization: Sanitization{Paths: PathsLight, Username: UsernameNone},
				Backup:       &BackupPolicy{BeforeAnyChange: true, Diffs: true},
				GitRequired:  true,
				GitVerification: GitRequirements{
					RequireCleanTree: true,
					AllowedBranches:  protectedBranches,
				},
			},
			BackstagePass: {
				Description: "Production access where deletes go to the trash",
				Risk:        "maximum",
				Tagline:     "Production access with a safety net",
				Emoji:       "🎸",
				Boundaries: Boundaries{
					AllowHomeAccess: true, AllowSystemPaths: true, AllowDevices: true,
					AllowSystemWrite: true, AllowRemote: true,
				},
				Commands: Commands{
					Blocked:    with(catastrophic),
					SoftDelete: []string{"rm"},
				},
				Sanitization: Sanitization{Paths: PathsNone, Username: UsernameNone},
				Backup:       &BackupPolicy{BeforeAnyChange: true, SoftDeleteEnabled: true, Diffs: true},
			},
			AllAccessPass: {
				Description: "Unrestricted paths; only disk wipes are blocked",
				Risk:        "maximum",
				Tagline:     "We'll fix it live",
				Emoji:       "🎤",
				Boundaries: Boundaries{
					AllowHomeAccess: true, AllowSystemPaths: true, AllowDevices: true,
					AllowSystemWrite: true, AllowRemote: true, Unrestricted: true,
				},
				Commands: Commands{
					Blocked:    with(catastrophic, "dd if=/dev/zero of=/dev/sda"),
					SoftDelete: []string{"rm"},
				},
				Sanitization: Sanitization{Paths: PathsNone, Username: UsernameNone},
				Backup:       &BackupPolicy{BeforeAnyChange: true, SoftDeleteEnabled: true},
			},
			InsertDeityHere: {
				Description: "No restrictions, no sanitization, no backups",
				Risk:        "divine",
				Tagline:     "For TRUE BELIEVERS only",
				Emoji:       "⚡",
				Boundaries: Boundaries{
					AllowHomeAccess: true, AllowSystemPaths: true, AllowDevices: true,
					AllowSystemWrite: true, AllowRemote: true, Unrestricted: true,
					Omnipotent: true, NoLimits: true,
				},
				Commands:         Commands{Allowed: []string{"*"}},
				Sanitization:     Sanitization{Paths: PathsNone, Username: UsernameNone, Disabled: true},
				Backup:           &BackupPolicy{Disabled: true},
				ApprovalRequired: new(bool),
			},
		},
	}
	if err := t.Validate(); err != nil {
		panic("builtin level table: " + err.Error())
	}
	return t
}
