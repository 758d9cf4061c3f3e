// Command meshctl performs single resource operations against a meshd server
// through the client manager.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.uber.org/zap"

	"meshcore/internal/config"
	"meshcore/internal/core"
	"meshcore/internal/observability"
	"meshcore/internal/transport"
	"meshcore/pkg/resource"
)

var exitFunc = os.Exit

const usage = "usage: meshctl [-config path] [-server url] [-trace] [-stats] <get|query|create|update|delete> <resource> [id] [json]"

func main() {
	exitFunc(cli(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("meshctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var configPath, baseURL string
	var trace, stats bool
	fs.StringVar(&configPath, "config", "", "path to config yaml")
	fs.StringVar(&baseURL, "server", "", "server base url, overrides the config")
	fs.BoolVar(&trace, "trace", false, "write request spans to stderr as json lines")
	fs.BoolVar(&stats, "stats", false, "write request metrics to stderr when done")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) < 2 {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "meshctl: %v\n", err)
		return 1
	}
	if baseURL != "" {
		cfg.Client.BaseURL = baseURL
	}
	res, ok := cfg.Resource(rest[1])
	if !ok {
		fmt.Fprintf(stderr, "meshctl: unknown resource %q\n", rest[1])
		return 1
	}
	logger, err := cfg.Log.Logger()
	if err != nil {
		fmt.Fprintf(stderr, "meshctl: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	// one command at a time, so completions run inline and spans end before output
	tr := transport.New(cfg.Client.BaseURL,
		transport.WithClient(&http.Client{Timeout: cfg.Client.Timeout}),
		transport.WithLogger(logger),
		transport.Synchronous(),
	)
	opts := []core.Option{core.WithLogger(logger)}
	var recorder *observability.ExpvarRecorder
	if stats {
		recorder = observability.NewExpvarRecorder("")
		opts = append(opts, core.WithMetrics(recorder))
	}
	if trace {
		opts = append(opts, core.WithTracer(observability.NewJSONTracer(stderr)))
	}
	mgr, err := core.NewManager(res, tr, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "meshctl: %v\n", err)
		return 1
	}
	out, err := dispatch(ctx, mgr, rest[0], rest[2:])
	if recorder != nil {
		_ = json.NewEncoder(stderr).Encode(recorder.Snapshot())
	}
	if err != nil {
		logger.Debug("command failed", zap.String("command", rest[0]), zap.Error(err))
		fmt.Fprintf(stderr, "meshctl: %v\n", err)
		if _, isUsage := err.(usageError); isUsage {
			return 2
		}
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "meshctl: %v\n", err)
		return 1
	}
	return 0
}

type usageError string

func (e usageError) Error() string { return string(e) }

func dispatch(ctx context.Context, mgr *core.Manager, command string, args []string) (any, error) {
	switch command {
	case "get":
		if len(args) != 1 {
			return nil, usageError("get needs an id")
		}
		m, err := mgr.LoadModel(ctx, args[0]).Wait(ctx)
		if err != nil {
			return nil, err
		}
		return m.Attributes(), nil
	case "query":
		params, err := document(args, 0)
		if err != nil {
			return nil, err
		}
		coll, err := mgr.LoadCollection(ctx, resource.Query(params), nil).Wait(ctx)
		if err != nil {
			return nil, err
		}
		items := make([]resource.Attributes, 0, coll.Len())
		for _, m := range coll.Models() {
			if m != nil {
				items = append(items, m.Attributes())
			}
		}
		total, _ := coll.Total()
		return map[string]any{"total": total, "resources": items}, nil
	case "create":
		attrs, err := document(args, 0)
		if err != nil {
			return nil, err
		}
		m, err := mgr.New(attrs).Save(ctx, nil).Wait(ctx)
		if err != nil {
			return nil, err
		}
		return m.Attributes(), nil
	case "update":
		if len(args) != 2 {
			return nil, usageError("update needs an id and a json document")
		}
		attrs, err := document(args, 1)
		if err != nil {
			return nil, err
		}
		m := mgr.Get(args[0])
		m.Set(attrs)
		if _, err := m.Save(ctx, nil).Wait(ctx); err != nil {
			return nil, err
		}
		return m.Attributes(), nil
	case "delete":
		if len(args) != 1 {
			return nil, usageError("delete needs an id")
		}
		if _, err := mgr.Get(args[0]).Destroy(ctx, nil).Wait(ctx); err != nil {
			return nil, err
		}
		return map[string]any{mgr.IDField(): args[0]}, nil
	default:
		return nil, usageError(usage)
	}
}

// document decodes the optional json argument at index i.
func document(args []string, i int) (resource.Attributes, error) {
	if len(args) <= i {
		return resource.Attributes{}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(args[i]), &decoded); err != nil {
		return nil, fmt.Errorf("parse json argument: %w", err)
	}
	normalized, _ := resource.Normalize(decoded).(map[string]any)
	return normalized, nil
}
