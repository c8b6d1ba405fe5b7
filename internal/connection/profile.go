package connection

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Feature flags understood by the daemon. See Profile.FlagBoolean for the
// accepted flag syntax.
const (
	// FlagRemoteCommands enables the command channel for a connection.
	FlagRemoteCommands = "remote-commands"

	// FlagTerminal attaches an interactive terminal when the connection is
	// brought up at startup.
	FlagTerminal = "terminal"
)

// Profile is a named connection configuration. A raw profile comes from the
// config store; the "actual" profile is the same type after resolution
// (defaults applied, secrets read).
type Profile struct {
	Name string

	Host string
	Port int
	User string

	KeyFile           string
	KeyData           string
	KeyPassphrase     string
	KeyPassphraseFile string
	Password          string
	PasswordFile      string
	KnownHostsFile    string
	InsecureHost      bool

	Timeout time.Duration

	// Environment is the ordered variable set declared by the profile,
	// merged into the connection's environment at creation.
	Environment []EnvVar

	// Flags is a list of feature-flag expressions. See FlagBoolean for the
	// accepted syntax.
	Flags []string

	// Automount attaches a filesystem mount right after the connection is
	// created.
	Automount bool
}

// Identity returns the string that deduplicates active connections: two
// profiles with the same identity address the same logical target, so a
// second creation reuses the first connection.
func (p *Profile) Identity() string {
	port := p.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s@%s@%s:%d", p.Name, p.User, p.Host, port)
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	c := *p
	c.Environment = append([]EnvVar(nil), p.Environment...)
	c.Flags = append([]string(nil), p.Flags...)
	return &c
}

// FlagBoolean looks up a boolean feature flag in the profile's flag list.
// Accepted forms: "name" and "+name" (true), "-name" (false), and
// "name=true"/"name=false". The last matching entry wins. The returned
// string describes where the value came from.
func (p *Profile) FlagBoolean(name string, def bool) (bool, string) {
	for i := len(p.Flags) - 1; i >= 0; i-- {
		flag := strings.TrimSpace(p.Flags[i])
		switch {
		case flag == name || flag == "+"+name:
			return true, fmt.Sprintf("flag %q in profile %q", flag, p.Name)
		case flag == "-"+name:
			return false, fmt.Sprintf("flag %q in profile %q", flag, p.Name)
		case strings.HasPrefix(flag, name+"="):
			value, err := strconv.ParseBool(flag[len(name)+1:])
			if err != nil {
				continue
			}
			return value, fmt.Sprintf("flag %q in profile %q", flag, p.Name)
		}
	}
	return def, "default"
}
