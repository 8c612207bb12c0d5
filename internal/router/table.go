package router

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	kit "psarbot/internal/transport"
)

// Telegram accepts 1-32 chars of [a-z0-9_] for bot commands.
var commandName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

const (
	maxMenuEntries  = 100
	maxMenuDescRune = 256
)

// table resolves a command word (canonical or alias) to its Command.
type table struct {
	byWord map[string]*Command
	cmds   []*Command // sorted: public first, then by route
}

func buildTable(cmds []Command) (*table, error) {
	t := &table{byWord: map[string]*Command{}}
	claim := func(word string, c *Command) error {
		if !commandName.MatchString(word) {
			return fmt.Errorf("command %q: invalid name %q", c.Route, word)
		}
		if prev, ok := t.byWord[word]; ok {
			return fmt.Errorf("command %q: %q already used by %q", c.Route, word, prev.Route)
		}
		t.byWord[word] = c
		return nil
	}

	for i := range cmds {
		c := &cmds[i]
		c.Route = strings.ToLower(strings.TrimSpace(c.Route))
		if c.Handle == nil {
			return nil, fmt.Errorf("command %q: nil handler", c.Route)
		}
		if err := claim(c.Route, c); err != nil {
			return nil, err
		}
		for _, a := range c.Aliases {
			if err := claim(strings.ToLower(strings.TrimSpace(a)), c); err != nil {
				return nil, err
			}
		}
		t.cmds = append(t.cmds, c)
	}
	slices.SortStableFunc(t.cmds, func(a, b *Command) int {
		if ao, bo := a.Access == AccessOwnerOnly, b.Access == AccessOwnerOnly; ao != bo {
			if ao {
				return 1
			}
			return -1
		}
		return strings.Compare(a.Route, b.Route)
	})
	return t, nil
}

func (t *table) lookup(word string) (*Command, bool) {
	c, ok := t.byWord[strings.ToLower(word)]
	return c, ok
}

// menu lists public commands for the chat command menu. Aliases stay hidden.
func (t *table) menu() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(t.cmds))
	for _, c := range t.cmds {
		if c.Access == AccessOwnerOnly || len(out) == maxMenuEntries {
			continue
		}
		desc := strings.Join(strings.Fields(c.Description), " ")
		if desc == "" {
			desc = c.Route
		}
		if r := []rune(desc); len(r) > maxMenuDescRune {
			desc = string(r[:maxMenuDescRune])
		}
		out = append(out, kit.BotCommand{Command: c.Route, Description: desc})
	}
	return out
}
