package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"judgehub/internal/cli/command"
	httpclient "judgehub/internal/cli/http"
	"judgehub/internal/cli/state"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const (
	defaultPrompt   = "judgehub> "
	defaultTokenTTL = time.Hour
)

// LineReader is the part of *readline.Instance the REPL drives.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// TokenIssuer mints bearer tokens for "token issue".
type TokenIssuer interface {
	IssueToken(userID int64, role, name string, ttl time.Duration) (string, error)
}

// Options tune a Session.
type Options struct {
	StatePath  string
	PrettyJSON bool
	// Issuer may be nil; "token issue" then reports that no secret is configured.
	Issuer TokenIssuer
	Out    io.Writer
	Now    func() time.Time
}

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	tokenState *state.TokenState
	reader     LineReader
	opts       Options
}

func New(client *httpclient.Client, commands map[string]command.Command, tokenState *state.TokenState, reader LineReader, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Session{
		client:     client,
		commands:   commands,
		tokenState: tokenState,
		reader:     reader,
		opts:       opts,
	}
}

// Completer offers "service action" completion for readline.
func Completer(commands map[string]command.Command) readline.AutoCompleter {
	actions := map[string][]readline.PrefixCompleterInterface{}
	var services []string
	for _, key := range command.SortedKeys(commands) {
		cmd := commands[key]
		if _, ok := actions[cmd.Service]; !ok {
			services = append(services, cmd.Service)
		}
		actions[cmd.Service] = append(actions[cmd.Service], readline.PcItem(cmd.Action))
	}
	items := make([]readline.PrefixCompleterInterface, 0, len(services)+4)
	for _, service := range services {
		items = append(items, readline.PcItem(service, actions[service]...))
	}
	items = append(items,
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("token")),
		readline.PcItem("show", readline.PcItem("token"), readline.PcItem("config")),
	)
	return readline.NewPrefixCompleter(items...)
}

// Run reads commands until EOF or exit.
func (s *Session) Run(ctx context.Context) {
	s.reader.SetPrompt(defaultPrompt)
	for {
		line, err := s.reader.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			s.printLine("bye")
			return
		}
		if err := s.Execute(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

// Execute runs one input line.
func (s *Session) Execute(ctx context.Context, line string) error {
	if s.handleSystemCommand(line) {
		return nil
	}
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	cmd, ok := s.commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params, err := command.ParseArgs(tokens[2:])
	if err != nil {
		return err
	}
	params.Canonicalize(cmd.Fields)

	s.applyParamShortcuts(cmd, params)
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	if cmd.Local {
		return s.runLocal(cmd, params)
	}
	if cmd.RequiresAuth {
		if s.tokenState.AccessToken == "" {
			s.printLine("warning: no token set, use \"set token\" or \"token issue\"")
		} else if s.tokenState.Expired(s.opts.Now()) {
			s.printLine("warning: token expired at %s", s.tokenState.ExpiresAt.Format(time.RFC3339))
		}
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

func (s *Session) handleSystemCommand(line string) bool {
	if line == "help" {
		s.printHelp()
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|token|timeout")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8090")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 10s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		if len(parts) < 2 {
			s.printLine("usage: set token <access_token>")
			return
		}
		s.storeToken(state.TokenState{AccessToken: parts[1]})
		s.printLine("token updated")
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "token":
		if s.tokenState.AccessToken == "" {
			s.printLine("token: <empty>")
			return
		}
		token := s.tokenState.AccessToken
		if len(token) > 12 {
			token = token[:6] + "..." + token[len(token)-4:]
		}
		if s.tokenState.ExpiresAt.IsZero() {
			s.printLine("token: %s", token)
			return
		}
		s.printLine("token: %s (expires %s)", token, s.tokenState.ExpiresAt.Format(time.RFC3339))
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("tokenStatePath: %s", s.opts.StatePath)
	default:
		s.printLine("usage: show token|config")
	}
}

func (s *Session) runLocal(cmd command.Command, params command.Params) error {
	switch cmd.Key() {
	case "token issue":
		if s.opts.Issuer == nil {
			return fmt.Errorf("no signing secret configured")
		}
		uid, err := command.ParseInt64(params.Get("uid"))
		if err != nil {
			return fmt.Errorf("invalid uid: %w", err)
		}
		ttl := defaultTokenTTL
		if raw := params.Get("ttl"); raw != "" {
			ttl, err = time.ParseDuration(raw)
			if err != nil || ttl <= 0 {
				return fmt.Errorf("invalid ttl: %s", raw)
			}
		}
		token, err := s.opts.Issuer.IssueToken(uid, params.Get("role"), params.Get("name"), ttl)
		if err != nil {
			return err
		}
		s.storeToken(state.TokenState{AccessToken: token, ExpiresAt: s.opts.Now().Add(ttl)})
		s.printLine("token issued for uid %d (%s), valid %s", uid, params.Get("role"), ttl)
		return nil
	}
	return fmt.Errorf("unknown local command: %s", cmd.Key())
}

func (s *Session) storeToken(st state.TokenState) {
	*s.tokenState = st
	if s.opts.StatePath == "" {
		return
	}
	if err := state.Save(s.opts.StatePath, st); err != nil {
		s.printLine("save token failed: %v", err)
	}
}

func (s *Session) applyParamShortcuts(cmd command.Command, params command.Params) {
	if cmd.Key() == "task enqueue" && params.Get("payload_file") != "" && params.Get("payload") == "" {
		params.Set("payload", "_file_")
	}
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required || params.Get(field.Name) != "" {
			continue
		}
		value, err := s.promptValue(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) promptValue(prompt string) (string, error) {
	s.reader.SetPrompt(prompt + ": ")
	defer s.reader.SetPrompt(defaultPrompt)
	line, err := s.reader.Readline()
	if err != nil {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration.Round(time.Millisecond))
	if len(resp.Body) == 0 {
		return
	}
	if s.opts.PrettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout|token | show token|config")
	s.printLine("commands:")
	for _, key := range command.SortedKeys(s.commands) {
		s.printLine("  %s", s.commands[key].Help)
	}
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.opts.Out, format+"\n", args...)
}
