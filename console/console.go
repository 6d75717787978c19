// Package console is the host's registry of named variables and commands.
// Subsystems publish read-only state as vars and expose operations as
// commands; hosts dispatch command lines typed by users or sent over the
// admin API.
package console

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUnknownVar     = errors.New("unknown var")
	ErrReadOnly       = errors.New("var is read-only")
)

type CommandFunc func(args []string) error

type Command struct {
	Name string
	Help string
	fn   CommandFunc
}

type Var struct {
	Name     string
	Help     string
	ReadOnly bool

	get func() string
	set func(string) error
}

type Registry struct {
	mu   sync.RWMutex
	cmds map[string]*Command
	vars map[string]*Var
}

func NewRegistry() *Registry {
	return &Registry{
		cmds: make(map[string]*Command),
		vars: make(map[string]*Var),
	}
}

// RegisterCommand adds or replaces a command.
func (r *Registry) RegisterCommand(name, help string, fn CommandFunc) {
	r.mu.Lock()
	r.cmds[name] = &Command{Name: name, Help: help, fn: fn}
	r.mu.Unlock()
}

// RegisterVar adds a read-only var whose value is produced by get.
func (r *Registry) RegisterVar(name, help string, get func() string) {
	r.mu.Lock()
	r.vars[name] = &Var{Name: name, Help: help, ReadOnly: true, get: get}
	r.mu.Unlock()
}

// RegisterWritableVar adds a var that can be changed with Set.
func (r *Registry) RegisterWritableVar(name, help string, get func() string, set func(string) error) {
	r.mu.Lock()
	r.vars[name] = &Var{Name: name, Help: help, get: get, set: set}
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (string, error) {
	r.mu.RLock()
	v, ok := r.vars[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownVar, name)
	}
	return v.get(), nil
}

func (r *Registry) Set(name, value string) error {
	r.mu.RLock()
	v, ok := r.vars[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVar, name)
	}
	if v.ReadOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
	return v.set(value)
}

// Vars returns a name to value snapshot of every var.
func (r *Registry) Vars() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.vars))
	for n, v := range r.vars {
		out[n] = v.get()
	}
	return out
}

// Commands lists the registered commands sorted by name.
func (r *Registry) Commands() []Command {
	r.mu.RLock()
	out := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, *c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Exec runs a whitespace separated command line. "set <var> <value>" and
// "get <var>" are built in; get returns the value in its error-free result.
func (r *Registry) Exec(line string) (string, error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return "", nil
	}

	switch tokens[0] {
	case "get":
		if len(tokens) != 2 {
			return "", errors.New("usage: get <var>")
		}
		return r.Get(tokens[1])
	case "set":
		if len(tokens) < 3 {
			return "", errors.New("usage: set <var> <value>")
		}
		return "", r.Set(tokens[1], strings.Join(tokens[2:], " "))
	}

	r.mu.RLock()
	c, ok := r.cmds[tokens[0]]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, tokens[0])
	}

	return "", c.fn(tokens[1:])
}
