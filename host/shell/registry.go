// Package shell dispatches interactive dac-host commands by name
package shell

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/google/shlex"
)

// ErrQuit is returned by a handler to end the session
var ErrQuit = errors.New("quit")

// ErrUnknownCommand is returned for names nobody registered
var ErrUnknownCommand = errors.New("unknown command")

// CommandHandler runs one command with its arguments (name excluded)
type CommandHandler func(args []string) error

// Command represents one shell command
type Command struct {
	Name    string
	Usage   string // Argument synopsis, e.g. "<ch> <0..65535>"
	Help    string
	MinArgs int
	MaxArgs int // -1 for no limit
	Handler CommandHandler
}

// Registry holds the registered commands
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds a command. Registering a name twice replaces the first.
func (r *Registry) Register(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(cmd.Name)] = cmd
}

// Lookup finds a command by name, ignoring case
func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[strings.ToLower(name)]
	return cmd, ok
}

// Count returns the number of registered commands
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch runs the command named by args[0]
func (r *Registry) Dispatch(args []string) error {
	if len(args) == 0 {
		return nil
	}
	cmd, ok := r.Lookup(args[0])
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
	}

	rest := args[1:]
	if len(rest) < cmd.MinArgs || (cmd.MaxArgs >= 0 && len(rest) > cmd.MaxArgs) {
		return fmt.Errorf("usage: %s %s", cmd.Name, cmd.Usage)
	}
	return cmd.Handler(rest)
}

// Exec splits a line with shell quoting rules and dispatches it. Blank
// lines and lines starting with # do nothing.
func (r *Registry) Exec(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse %q: %w", line, err)
	}
	return r.Dispatch(args)
}

// WriteHelp lists every command, sorted by name
func (r *Registry) WriteHelp(w io.Writer) {
	r.mu.RLock()
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	r.mu.RUnlock()

	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	for _, cmd := range cmds {
		synopsis := strings.TrimSpace(cmd.Name + " " + cmd.Usage)
		fmt.Fprintf(w, "  %-28s %s\n", synopsis, cmd.Help)
	}
}
