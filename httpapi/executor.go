package httpapi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// CommandExecutor runs one operator command and returns its output lines.
type CommandExecutor interface {
	Execute(ctx context.Context, command string) ([]string, error)
}

// CommandFunc adapts a function to CommandExecutor.
type CommandFunc func(ctx context.Context, command string) ([]string, error)

// Execute implements CommandExecutor.
func (f CommandFunc) Execute(ctx context.Context, command string) ([]string, error) {
	return f(ctx, command)
}

// DemoExecutor is a small built-in command set for exercising consoles
// without a real manager behind them.
type DemoExecutor struct {
	now func() time.Time
}

// NewDemoExecutor constructs the built-in executor.
func NewDemoExecutor() *DemoExecutor {
	return &DemoExecutor{now: time.Now}
}

var demoCommands = map[string]string{
	"help":   "list commands",
	"list":   "list connected players",
	"say":    "broadcast a message",
	"time":   "print the server time",
	"whoami": "print the command sender",
}

// Execute implements CommandExecutor.
func (e *DemoExecutor) Execute(ctx context.Context, command string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, nil
	}
	name := strings.ToLower(fields[0])
	args := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(command), fields[0]))
	switch name {
	case "help":
		names := make([]string, 0, len(demoCommands))
		for key := range demoCommands {
			names = append(names, key)
		}
		sort.Strings(names)
		lines := make([]string, 0, len(names))
		for _, key := range names {
			lines = append(lines, fmt.Sprintf("%s - %s", key, demoCommands[key]))
		}
		return lines, nil
	case "list":
		return []string{"There are 0 of a max of 20 players online"}, nil
	case "say":
		if args == "" {
			return []string{"usage: say <message>"}, nil
		}
		return []string{"[Server] " + args}, nil
	case "time":
		return []string{e.now().UTC().Format(time.RFC3339)}, nil
	case "whoami":
		return []string{"console"}, nil
	default:
		return []string{fmt.Sprintf("Unknown command %q. Type \"help\" for help.", name)}, nil
	}
}
