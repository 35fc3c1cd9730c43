package router

import (
	"context"
	"strings"
	"unicode"

	kit "dlbot/internal/transport"
	logx "dlbot/pkg/logx"
)

// sanitizeTelegramCommand converts a command name into a Telegram-safe one.
// Telegram command names are restricted to [a-z0-9_]{1,32}.
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if r == '_' || r == '-' || r == '/' || unicode.IsSpace(r) {
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	// Telegram clients expect commands to start with a letter.
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
		if len(out) > 32 {
			out = strings.TrimRight(out[:32], "_")
		}
	}
	return out
}

func (m *CommandManager) menuCommands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(m.cmds))
	for _, c := range m.Commands() {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" {
			continue
		}
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = name
		}
		if c.Private {
			desc = "🔒 " + desc
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
	}
	return out
}

// SyncMenu publishes the command list when the sender supports it.
func (m *CommandManager) SyncMenu(ctx context.Context) error {
	up, ok := m.deps.Sender.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	cmds := m.menuCommands()
	if err := up.UpdateMenuCommands(ctx, cmds); err != nil {
		m.log.Warn("menu update failed", logx.Err(err))
		return err
	}
	return nil
}
