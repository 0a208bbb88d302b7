package sandbox

import "strings"

// Policy is the four-layer deny table. All entries are data; the engine
// loads overrides from config YAML without touching code.
type Policy struct {
	// BlockedExact entries match the full command or its prefix.
	BlockedExact []string
	// BlockedPatterns match as substrings anywhere in the command.
	BlockedPatterns []string
	// BlockedKeywords match as substrings against the lowercased command.
	BlockedKeywords []string
	// Allowed maps a first token to its permitted second tokens. An empty
	// list allows any form of the command.
	Allowed map[string][]string
}

// DefaultPolicy returns the baseline deny tables.
func DefaultPolicy() Policy {
	return Policy{
		BlockedExact: []string{
			"rm -rf /", "rm -rf /*", "rm -rf ~", "rm -rf .", "rm -fr",
			"rm -rf --no-preserve-root",
			"mkfs", "dd if=", "dd of=/dev", ":(){ :|:& };:",
			"shutdown", "reboot", "halt", "poweroff", "init 0", "init 6",
			"sudo", "su ", "chmod -R 777 /", "chown -R /",
			"passwd", "useradd", "userdel", "groupadd",
			"mount", "umount",
			"nmap", "masscan", "tcpdump", "nc -l", "netcat -l",
			"iptables", "systemctl", "service ", "killall", "pkill",
			"kill -9 1", "mkswap", "fdisk", "parted", "crontab",
		},
		BlockedPatterns: []string{
			"../", "/..", "~/..",
			"&&", "||", ";", "$(", "`",
			"|sh", "| sh", "|bash", "| bash",
			">/etc", "> /etc", ">/usr", "> /usr", ">/bin", "> /bin",
			">/dev/sd", "> /dev/sd", ">/boot", "> /boot",
			"--no-preserve-root",
		},
		BlockedKeywords: []string{
			"delete", "wipe", "truncate", "drop table", "drop database",
			"shred", "format c:",
		},
		Allowed: map[string][]string{
			"python":  nil,
			"python3": nil,
			"node":    nil,
			"npx":     nil,
			"pytest":  nil,
			"tsc":     nil,
			"ls":      nil,
			"cat":     nil,
			"head":    nil,
			"tail":    nil,
			"grep":    nil,
			"echo":    nil,
			"mkdir":   nil,
			"touch":   nil,
			"cp":      nil,
			"mv":      nil,
			"pwd":     nil,
			"wc":      nil,
			"diff":    nil,
			"sort":    nil,
			"uniq":    nil,
			"which":   nil,
			"curl":    nil,
			"make":    nil,
			"yarn":    nil,
			"pip":     {"install", "list", "show", "freeze", "download"},
			"pip3":    {"install", "list", "show", "freeze", "download"},
			"npm":     {"install", "ci", "run", "test", "start", "init"},
			"go":      {"build", "run", "test", "vet", "fmt", "mod", "version"},
			"git":     {"init", "add", "commit", "status", "log", "diff", "branch", "checkout", "switch", "remote", "push", "config", "rev-parse"},
		},
	}
}

// Check returns a non-empty reason when the command is denied. Layers run in
// order: exact/prefix, pattern, keyword, allow-list.
func (p Policy) Check(command string) string {
	trimmed := strings.TrimSpace(command)
	lower := strings.ToLower(trimmed)

	for _, blocked := range p.BlockedExact {
		if trimmed == blocked || strings.HasPrefix(trimmed, blocked) {
			return "blocked: command matches block-list entry " + quote(blocked)
		}
	}
	for _, pat := range p.BlockedPatterns {
		if strings.Contains(trimmed, pat) {
			return "blocked: command contains forbidden pattern " + quote(pat)
		}
	}
	for _, kw := range p.BlockedKeywords {
		if strings.Contains(lower, kw) {
			return "blocked: command contains forbidden keyword " + quote(kw)
		}
	}

	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "blocked: empty command"
	}
	first := fields[0]
	if i := strings.LastIndexByte(first, '/'); i >= 0 {
		first = first[i+1:]
	}

	seconds, ok := p.Allowed[first]
	if !ok {
		return "blocked: " + quote(first) + " is not on the allow-list"
	}
	if len(seconds) > 0 {
		if len(fields) < 2 {
			return "blocked: " + quote(first) + " requires a subcommand"
		}
		for _, s := range seconds {
			if fields[1] == s {
				return ""
			}
		}
		return "blocked: " + quote(first+" "+fields[1]) + " is not on the allow-list"
	}
	return ""
}

func quote(s string) string { return "\"" + s + "\"" }
