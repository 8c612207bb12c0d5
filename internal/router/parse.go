package router

import (
	"strings"

	"github.com/google/uuid"
)

// newReqID returns a short id for correlating log lines of one request.
func newReqID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// invocation is a parsed "/word@bot arg1 arg2" line.
type invocation struct {
	word string
	bot  string // lower-cased @mention target, "" when absent
	args []string
}

func parseInvocation(text string) (invocation, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return invocation{}, false
	}
	word := strings.TrimPrefix(fields[0], "/")
	inv := invocation{args: fields[1:]}
	if name, bot, ok := strings.Cut(word, "@"); ok {
		word = name
		inv.bot = strings.ToLower(bot)
	}
	if word == "" {
		return invocation{}, false
	}
	inv.word = strings.ToLower(word)
	return inv, true
}
