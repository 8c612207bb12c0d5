package moderation

import (
	"psarbot/internal/restrict"
	"psarbot/internal/storage"
	"psarbot/pkg/tgui"
)

var (
	textUsage = tgui.Lines(
		"🐕 Я Псарь с намордником 🤐",
		"",
		"Ответом на сообщение:",
		"  <code>/block 5m</code>: надеть намордник",
		"  <code>/unblock</code>: снять намордник",
		"",
		"<code>/muted</code>: кто сейчас в наморднике",
		"<code>/mutelog</code>: журнал (для админов)",
		"",
		"Время: <code>30</code> (секунды), <code>5m</code>, <code>2h</code>, <code>1d</code>",
	)

	textGroupOnly        = tgui.H("🐕 Только для групп")
	textAdminOnly        = tgui.H("🐕 Только администратор может надевать намордник")
	textReplyRequired    = tgui.H("🐕 Используй команду ответом на сообщение")
	textDurationRequired = tgui.H("❌ Укажи время: 30 | 5m | 2h | 1d")
	textBadFormat        = tgui.H("❌ Неверный формат времени")
	textTargetBot        = tgui.H("🐕 Я вне юрисдикции")
	textTargetSelf       = tgui.H("🐕 Самоистязание запрещено")
	textTargetAdmin      = tgui.H("🐕 На администратора намордник не налезет")
	textRoleLookupFailed = tgui.H("⚠️ Не получилось проверить права, попробуй позже")
	textRestrictFailed   = tgui.H("⚠️ Telegram не дал надеть намордник. У бота есть право ограничивать участников?")
	textNobodyMuted      = tgui.H("🐕 В намордниках никого нет")
	textStorageDisabled  = tgui.H("📭 Журнал отключён")
	textLogEmpty         = tgui.H("📭 Журнал пуст")
)

func textOutOfRange(cfg Config) tgui.H {
	return tgui.Fmt("❌ Время должно быть от %s до %s",
		restrict.FormatDuration(cfg.MinDuration), restrict.FormatDuration(cfg.MaxDuration))
}

func textMuted(name tgui.H, dur string) tgui.H {
	return tgui.Fmt("🐕 %s в наморднике 🤐\n⏱ На %s", name, dur)
}

func textFreed(name tgui.H) tgui.H {
	return tgui.Fmt("🐕 %s свободен 🐕", name)
}

func textFreeFailed(name tgui.H) tgui.H {
	return tgui.Fmt("⚠️ %s снят с учёта, но Telegram не вернул права. Попробуй ещё раз.", name)
}

func textMutedRow(name, remaining string) tgui.H {
	return tgui.Fmt("👤 %s: осталось %s", name, remaining)
}

func actionIcon(a storage.Action) string {
	switch a {
	case storage.ActionMute:
		return "🤐"
	case storage.ActionUnmute:
		return "🔓"
	case storage.ActionAutoUnmute:
		return "⏰"
	default:
		return "•"
	}
}
