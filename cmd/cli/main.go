package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"judgehub/internal/cli/command"
	"judgehub/internal/cli/config"
	httpclient "judgehub/internal/cli/http"
	"judgehub/internal/cli/repl"
	"judgehub/internal/cli/state"
	"judgehub/internal/judge/service"

	"github.com/chzyer/readline"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	token := flag.String("token", "", "Override access token")
	statePath := flag.String("state", "", "Override token state path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.TokenStatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	tokenState, err := state.Load(cfg.TokenStatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load token state failed: %v\n", err)
		return
	}
	if cfg.Token != "" && tokenState.AccessToken == "" {
		tokenState.AccessToken = cfg.Token
	}
	if *token != "" {
		tokenState.AccessToken = *token
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, func() string {
		return tokenState.AccessToken
	})

	commands := command.Registry()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "judgehub> ",
		HistoryFile:     cfg.HistoryFile,
		AutoComplete:    repl.Completer(commands),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init readline failed: %v\n", err)
		return
	}
	defer func() {
		_ = rl.Close()
	}()

	opts := repl.Options{
		StatePath:  cfg.TokenStatePath,
		PrettyJSON: cfg.PrettyJSON != nil && *cfg.PrettyJSON,
		Out:        rl.Stdout(),
	}
	if cfg.Secret != "" {
		opts.Issuer = service.NewAuthService(cfg.Secret, cfg.Issuer, nil)
	}
	session := repl.New(client, commands, &tokenState, rl, opts)
	session.Run(context.Background())
}
