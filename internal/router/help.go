package router

import (
	"strings"

	"psarbot/pkg/tgui"
)

const (
	textUnknownCommand = "Неизвестная команда. Попробуй /help"
	textOwnerOnly      = "Недостаточно прав"
	textBusy           = "Занят, попробуй ещё раз"
)

// HelpText renders the command list, or the card of one command when word
// names it (alias or canonical, with or without the slash).
func (m *Manager) HelpText(word string) string {
	t := m.tableSnapshot()
	if word == "" {
		return helpList(t).String()
	}
	inv, ok := parseInvocation("/" + strings.TrimLeft(word, "/"))
	if !ok {
		return helpList(t).String()
	}
	c, ok := t.lookup(inv.word)
	if !ok {
		return tgui.Lines(
			tgui.B("❓ Неизвестная команда"),
			tgui.Fmt("Набери %s, чтобы увидеть список.", tgui.Code("/help")),
		).String()
	}
	return helpCard(c).String()
}

func helpList(t *table) tgui.H {
	lines := []tgui.H{
		tgui.B("📚 Команды"),
		tgui.Fmt("Подробнее: %s", tgui.Code("/help <команда>")),
		"",
	}
	for _, c := range t.cmds {
		row := tgui.Fmt("• %s", tgui.Code("/"+c.Route))
		if c.Access == AccessOwnerOnly {
			row = tgui.Fmt("• 🔒 %s", tgui.Code("/"+c.Route))
		}
		if c.Description != "" {
			row = tgui.Fmt("%s: %s", row, c.Description)
		}
		lines = append(lines, row)
	}
	return tgui.Lines(lines...)
}

func helpCard(c *Command) tgui.H {
	lines := []tgui.H{tgui.Fmt("📚 %s %s", tgui.B("Справка"), tgui.Code("/"+c.Route))}
	if c.Description != "" {
		lines = append(lines, tgui.Esc(c.Description))
	}
	if c.Access == AccessOwnerOnly {
		lines = append(lines, "🔒 <i>Только для владельца</i>")
	}
	if c.Usage != "" {
		lines = append(lines, "", tgui.B("Использование"), tgui.Code(c.Usage))
	}
	if len(c.Aliases) > 0 {
		lines = append(lines, "", tgui.B("Синонимы"))
		for _, a := range c.Aliases {
			lines = append(lines, tgui.Fmt("• %s", tgui.Code("/"+a)))
		}
	}
	return tgui.Lines(lines...)
}
