// Package tgui provides small Telegram formatting helpers:
//   - HTML escaping and tag wrappers for ParseMode="HTML"
//   - Text helpers (rune-safe truncation, terminal escape stripping)
//   - A message builder that carries its own send options
package tgui
