// Package command implements the in-chat Command Interpreter: detecting
// a trigger-prefixed command in the last message's text and
// answering it locally, without an upstream call. Grounded on the
// teacher's flag-driven cmd handlers (internal/cmd/copilot_hot_takes.go,
// internal/cmd/grok_login.go) generalized from os.Args parsing to parsing
// a chat message's whitespace-split tokens.
package command

import (
	"fmt"
	"sort"
	"strings"
)

// CatalogView is the narrow profile-catalog read needed to render --models.
type CatalogView interface {
	Models(profileID string) ([]string, bool)
}

// Mapper is the narrow Mapping Overrides surface the command interpreter
// mutates via --set-model / --reset-models.
type Mapper interface {
	Snapshot() map[string]string
	Set(in, out string)
	Reset()
}

// ConfigAccessor is the narrow configuration surface the `config` command
// reads and writes.
type ConfigAccessor interface {
	Snapshot() map[string]string
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Request bundles everything a command needs to render its answer.
type Request struct {
	Text         string
	Triggers     []string
	HasToken     bool
	ProfileID    string
	DefaultModel string
	Catalog      CatalogView
	Mapper       Mapper
	Config       ConfigAccessor
}

// Response is the locally-rendered answer text, or Handled=false if the
// text did not start with a configured trigger.
type Response struct {
	Handled bool
	Text    string
}

// defaultTriggers is used when the caller supplies none.
var defaultTriggers = []string{"::"}

// Detect reports whether text starts with one of triggers and, if so, the
// parsed command name and arguments. Arguments are split on whitespace and
// stripped of surrounding "[...]" brackets.
func Detect(text string, triggers []string) (cmd string, args []string, ok bool) {
	if len(triggers) == 0 {
		triggers = defaultTriggers
	}
	trimmed := strings.TrimSpace(text)
	for _, trig := range triggers {
		if trig == "" {
			continue
		}
		if strings.HasPrefix(trimmed, trig) {
			rest := strings.TrimSpace(strings.TrimPrefix(trimmed, trig))
			if rest == "" {
				return "", nil, false
			}
			fields := strings.Fields(rest)
			for i, f := range fields {
				fields[i] = unbracket(f)
			}
			return fields[0], fields[1:], true
		}
	}
	return "", nil, false
}

func unbracket(s string) string {
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") && len(s) >= 2 {
		return s[1 : len(s)-1]
	}
	return s
}

// Interpret detects and answers a command embedded in req.Text. ok is
// false when no trigger matched, meaning the caller should proceed to the
// normal dispatch path.
func Interpret(req Request) (Response, bool) {
	cmd, args, ok := Detect(req.Text, req.Triggers)
	if !ok {
		return Response{}, false
	}

	switch cmd {
	case "--help", "help":
		return Response{Handled: true, Text: helpText(req.Triggers)}, true
	case "--models", "models":
		return Response{Handled: true, Text: modelsText(req)}, true
	case "--set-model":
		return Response{Handled: true, Text: setModelText(req, args)}, true
	case "--reset-models":
		req.Mapper.Reset()
		return Response{Handled: true, Text: "Session model mapping overrides cleared."}, true
	case "config":
		return Response{Handled: true, Text: configText(req, args)}, true
	default:
		return Response{Handled: true, Text: fmt.Sprintf("Unknown in-chat command %q. Try %shelp.", cmd, firstTrigger(req.Triggers))}, true
	}
}

func firstTrigger(triggers []string) string {
	if len(triggers) == 0 {
		return defaultTriggers[0]
	}
	return triggers[0]
}

func helpText(triggers []string) string {
	trig := firstTrigger(triggers)
	var sb strings.Builder
	sb.WriteString("Available in-chat commands (current triggers: ")
	sb.WriteString(strings.Join(triggers, ", "))
	sb.WriteString("):\n")
	sb.WriteString(trig + "help — show this message\n")
	sb.WriteString(trig + "models — list the active profile's catalog models\n")
	sb.WriteString(trig + "--set-model <in> <out> — override a model mapping for this session\n")
	sb.WriteString(trig + "--reset-models — clear session model mapping overrides\n")
	sb.WriteString(trig + "config — show or set configuration\n")
	return sb.String()
}

func modelsText(req Request) string {
	if !req.HasToken {
		return "No token available. Run the login flow to authenticate before browsing models."
	}
	models, ok := req.Catalog.Models(req.ProfileID)
	if !ok || len(models) == 0 {
		return "No catalog entries yet for the active profile. Ask a chat question first to trigger a refresh."
	}
	var sb strings.Builder
	sb.WriteString("Available models:\n")
	for _, m := range models {
		if strings.EqualFold(m, req.DefaultModel) {
			sb.WriteString("▶ " + m + "\n")
		} else {
			sb.WriteString("  " + m + "\n")
		}
	}
	return sb.String()
}

func setModelText(req Request, args []string) string {
	if len(args) != 2 {
		return "Usage: --set-model <in> <out>"
	}
	req.Mapper.Set(args[0], args[1])
	return fmt.Sprintf("Session mapping set: %s -> %s", args[0], args[1])
}

func configText(req Request, args []string) string {
	if len(args) == 0 {
		snap := req.Config.Snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteString("Current configuration:\n")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s = %s\n", k, snap[k]))
		}
		return sb.String()
	}
	if args[0] == "set" {
		if len(args) != 3 {
			return "Usage: config set <key> <value>"
		}
		if err := req.Config.Set(args[1], args[2]); err != nil {
			return fmt.Sprintf("config set failed: %v", err)
		}
		return fmt.Sprintf("Configuration updated: %s = %s", args[1], args[2])
	}
	val, ok := req.Config.Get(args[0])
	if !ok {
		return fmt.Sprintf("Unknown configuration key %q", args[0])
	}
	return fmt.Sprintf("%s = %s", args[0], val)
}
