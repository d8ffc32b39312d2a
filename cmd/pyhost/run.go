package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/pyhost/environment"
	"github.com/BaSui01/pyhost/execution"
	"github.com/BaSui01/pyhost/interpreter"
	"github.com/BaSui01/pyhost/progress"
)

// =============================================================================
// ▶️ run 命令：一次性执行脚本文件
// =============================================================================

// varFlags collects repeatable --var k=v flags. Values are decoded as JSON
// and fall back to the raw string.
type varFlags map[string]any

func (v varFlags) String() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func (v varFlags) Set(s string) error {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	var val any
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		val = raw
	}
	v[name] = val
	return nil
}

// runScript executes one script through the coordinator and returns the
// process exit code: 0 completed, 1 failed, 2 usage error.
func runScript(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	timeout := fs.Duration("timeout", 0, "Execution timeout")
	envName := fs.String("env", "", "Environment name")
	vars := varFlags{}
	fs.Var(vars, "var", "Inject a variable name=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: pyhost run [options] <script.star>")
		return 2
	}

	code, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "read script: %v\n", err)
		return 2
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	// 单次执行不需要共享会话存储
	cfg.Redis.Enabled = false
	cfg.Execution.SessionStore = "memory"
	cfg.Log.OutputPaths = []string{"stderr"}
	if cfg.Log.Level != "debug" {
		cfg.Log.Level = "warn"
	}
	logger, _ := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newCore(ctx, cfg, logger, coreOptions{})
	if err != nil {
		fmt.Fprintf(stderr, "init: %v\n", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.close(closeCtx)
	}()

	envID, err := attachEnvironment(ctx, c.envs, *envName)
	if err != nil {
		fmt.Fprintf(stderr, "environment: %v\n", err)
		return 2
	}
	sess, err := c.registry.Register(ctx, "", envID, "pyhost run "+fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "session: %v\n", err)
		return 1
	}

	opts := execution.ExecOptions{Timeout: *timeout, Sink: consoleSink(stdout, stderr)}
	var res *execution.Result
	if len(vars) > 0 {
		res, err = c.coord.ExecuteWithVariablesOptions(ctx, sess.ID, string(code), vars, opts)
	} else {
		res, err = c.coord.ExecuteCode(ctx, sess.ID, string(code), opts)
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if res.Value != nil {
		if b, err := json.Marshal(res.Value); err == nil {
			fmt.Fprintf(stdout, "=> %s\n", b)
		}
	}
	logger.Debug("script finished",
		zap.String("status", string(res.Status)),
		zap.Duration("duration", res.Duration))
	if !res.Success {
		return 1
	}
	return 0
}

// attachEnvironment returns the environment ID for name, registering the
// directory under the environment root when the store does not know it yet.
func attachEnvironment(ctx context.Context, envs *environment.Manager, name string) (string, error) {
	if name == "" {
		env, err := envs.Default(ctx)
		if err != nil {
			return "", err
		}
		return env.ID, nil
	}
	env, err := envs.GetByName(ctx, name)
	if errors.Is(err, environment.ErrNotFound) {
		env, err = envs.Create(ctx, name, "")
	}
	if err != nil {
		return "", err
	}
	return env.ID, nil
}

// consoleSink writes output lines to stdout or stderr by stream. Terminal
// failure messages are already part of stderr output.
func consoleSink(stdout, stderr io.Writer) progress.Sink {
	return progress.SinkFunc(func(e progress.Event) {
		if e.Type != progress.EventOutput {
			return
		}
		w := stdout
		if e.Stream == string(interpreter.StreamStderr) {
			w = stderr
		}
		fmt.Fprintln(w, e.Message)
	})
}
