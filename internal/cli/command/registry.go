package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "task",
			Action:       "enqueue",
			Method:       "POST",
			PathTemplate: "/judge/tasks",
			RequiresAuth: true,
			Help:         "task enqueue domain=d1 rid=r1 [type=judge] [payload='{...}' | payload_file=./task.json]",
			Fields: []Field{
				{Name: "domain", Aliases: []string{"domainId"}, Prompt: "domain", Type: FieldString, Required: true},
				{Name: "rid", Aliases: []string{"record"}, Prompt: "rid", Type: FieldString, Required: true},
				{Name: "type", Prompt: "type", Type: FieldString},
				{Name: "payload", Prompt: "payload (JSON)", Type: FieldJSON},
				{Name: "payload_file", Prompt: "payload_file", Type: FieldFile},
			},
		},
		{
			Service:      "queue",
			Action:       "stats",
			Method:       "GET",
			PathTemplate: "/judge/queue",
			RequiresAuth: true,
			Help:         "queue stats [type=judge]",
			Fields: []Field{
				{Name: "type", Prompt: "type", Type: FieldString, Query: true},
			},
		},
		{
			Service:      "record",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/judge/records/:domain/:rid",
			RequiresAuth: true,
			Help:         "record get domain=d1 rid=r1",
			Fields: []Field{
				{Name: "domain", Aliases: []string{"domainId"}, Prompt: "domain", Type: FieldString, Required: true},
				{Name: "rid", Aliases: []string{"record"}, Prompt: "rid", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "record",
			Action:       "rejudge",
			Method:       "POST",
			PathTemplate: "/judge/records/:domain/:rid/rejudge",
			RequiresAuth: true,
			Help:         "record rejudge domain=d1 rid=r1",
			Fields: []Field{
				{Name: "domain", Aliases: []string{"domainId"}, Prompt: "domain", Type: FieldString, Required: true},
				{Name: "rid", Aliases: []string{"record"}, Prompt: "rid", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "contest",
			Action:       "standing",
			Method:       "GET",
			PathTemplate: "/judge/contests/:domain/:tid/standing",
			RequiresAuth: true,
			Help:         "contest standing domain=d1 tid=c1 [limit=100]",
			Fields: []Field{
				{Name: "domain", Aliases: []string{"domainId"}, Prompt: "domain", Type: FieldString, Required: true},
				{Name: "tid", Aliases: []string{"contest"}, Prompt: "contest id", Type: FieldString, Required: true},
				{Name: "limit", Prompt: "limit", Type: FieldInt64, Query: true},
			},
		},
		{
			Service:      "session",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/judge/sessions",
			RequiresAuth: true,
			Help:         "session list",
		},
		{
			Service:      "files",
			Action:       "sign",
			Method:       "POST",
			PathTemplate: "/judge/files",
			RequiresAuth: true,
			Help:         "files sign domain=d1 pid=p1 [files=1.in,1.out]",
			Fields: []Field{
				{Name: "domain", Aliases: []string{"domainId"}, Prompt: "domain", Type: FieldString, Required: true},
				{Name: "pid", Aliases: []string{"problem"}, Prompt: "pid", Type: FieldString, Required: true},
				{Name: "files", Prompt: "files (comma-separated)", Type: FieldStringList},
			},
		},
		{
			Service:      "system",
			Action:       "health",
			Method:       "GET",
			PathTemplate: "/healthz",
			Help:         "system health",
		},
		{
			Service: "token",
			Action:  "issue",
			Local:   true,
			Help:    "token issue uid=1 role=admin [name=ops] [ttl=1h]",
			Fields: []Field{
				{Name: "uid", Prompt: "uid", Type: FieldInt64, Required: true},
				{Name: "role", Prompt: "role (judge|admin)", Type: FieldString, Required: true},
				{Name: "name", Prompt: "name", Type: FieldString},
				{Name: "ttl", Prompt: "ttl", Type: FieldDuration},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// SortedKeys lists command keys alphabetically for help output.
func SortedKeys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	if cmd.Local {
		return RequestSpec{}, fmt.Errorf("%s runs locally", cmd.Key())
	}
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd, params)
	if err != nil {
		return RequestSpec{}, err
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func buildPath(cmd Command, params Params) (string, error) {
	path := cmd.PathTemplate
	query := url.Values{}
	for _, field := range cmd.Fields {
		value := params.Get(field.Name)
		if field.Query {
			if value != "" {
				if field.Type == FieldInt64 {
					if _, err := ParseInt64(value); err != nil {
						return "", fmt.Errorf("invalid %s: %w", field.Name, err)
					}
				}
				query.Set(field.Name, value)
			}
			continue
		}
		placeholder := ":" + field.Name
		if !strings.Contains(path, placeholder) {
			continue
		}
		if value == "" {
			return "", fmt.Errorf("missing path parameter: %s", field.Name)
		}
		path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	switch cmd.Key() {
	case "task enqueue":
		return buildTaskPayload(params)
	case "files sign":
		files := ParseStringList(params.Get("files"))
		if files == nil {
			files = []string{}
		}
		return map[string]interface{}{
			"domainId": params.Get("domain"),
			"pid":      params.Get("pid"),
			"files":    files,
		}, nil
	}
	return nil, nil
}

func buildTaskPayload(params Params) (interface{}, error) {
	payload := map[string]interface{}{
		"domainId": params.Get("domain"),
		"rid":      params.Get("rid"),
	}
	if params.Get("type") != "" {
		payload["type"] = params.Get("type")
	}
	raw := params.Get("payload")
	if (raw == "" || raw == "_file_") && params.Get("payload_file") != "" {
		data, err := ReadFile(params.Get("payload_file"))
		if err != nil {
			return nil, err
		}
		raw = data
	}
	if raw != "" && raw != "_file_" {
		parsed, err := ParseJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		payload["payload"] = parsed
	}
	return payload, nil
}
