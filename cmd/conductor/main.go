// Command conductor runs the orchestration engine: the tasks/subtasks queue
// consumers, the webhook/trigger/health/metrics HTTP surface, and the
// signal-driven shutdown path. Grounded on the teacher's cmd/maestro/main.go
// (flag parsing, a run(...) function returning an exit code so deferred
// cleanup still executes before os.Exit, signal.NotifyContext for graceful
// shutdown) and on dpolishuk-yolo-runner's cmd/yolo-linear-webhook/main.go
// for the injectable run(args, ...) shape that keeps main() itself a thin
// wrapper.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"conductor/internal/agentrunner"
	"conductor/internal/config"
	"conductor/internal/decomposer"
	"conductor/internal/fixer"
	"conductor/internal/forge"
	"conductor/internal/httpapi"
	"conductor/internal/logx"
	"conductor/internal/metrics"
	"conductor/internal/persistence"
	"conductor/internal/prompt"
	"conductor/internal/queue"
	"conductor/internal/reviewer"
	"conductor/internal/subtaskproc"
	"conductor/internal/taskproc"
	"conductor/internal/webhook"
	"conductor/internal/workspace"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

type settings struct {
	dbPath              string
	workspaceRoot       string
	listenAddr          string
	githubToken         string
	llmCredential       string
	webhookSecret       string
	botAccountName      string
	tasksConcurrency    int
	subtasksConcurrency int
	pollInterval        time.Duration
	showVersion         bool
}

func parseFlags(args []string) (*settings, error) {
	fs := flag.NewFlagSet("conductor", flag.ContinueOnError)
	s := &settings{}
	fs.StringVar(&s.dbPath, "db", "conductor.db", "path to the SQLite database file")
	fs.StringVar(&s.workspaceRoot, "workspace-root", "./workspaces", "directory holding per-repository mirrors and per-task worktrees")
	fs.StringVar(&s.listenAddr, "listen", ":8080", "HTTP listen address for webhooks/trigger/health/metrics")
	fs.StringVar(&s.githubToken, "github-token", os.Getenv("CONDUCTOR_GITHUB_TOKEN"), "GitHub token used for all forge operations")
	fs.StringVar(&s.llmCredential, "llm-credential", os.Getenv("ANTHROPIC_API_KEY"), "credential passed to the agent CLI")
	fs.StringVar(&s.webhookSecret, "webhook-secret", os.Getenv("CONDUCTOR_WEBHOOK_SECRET"), "shared secret validating inbound webhook signatures")
	fs.StringVar(&s.botAccountName, "bot-account", "conductor", "login treated as bot-authored for comment intake")
	fs.IntVar(&s.tasksConcurrency, "tasks-concurrency", 2, "concurrent tasks-queue workers (spec default)")
	fs.IntVar(&s.subtasksConcurrency, "subtasks-concurrency", 5, "concurrent subtasks-queue workers (agents.subAgent.maxParallel default)")
	fs.DurationVar(&s.pollInterval, "poll-interval", 2*time.Second, "queue poll interval")
	fs.BoolVar(&s.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return s, nil
}

func run(args []string, stdout *os.File) int {
	s, err := parseFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "conductor: %v\n", err)
		return 2
	}
	if s.showVersion {
		fmt.Fprintf(stdout, "conductor %s (%s)\n", version, commit)
		return 0
	}

	banner(stdout)

	if err := persistence.Initialize(s.dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "conductor: initialize database: %v\n", err)
		return 1
	}
	defer func() { _ = persistence.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logx.NewLogger("main")

	recorder := metrics.NewPrometheusRecorder()
	ops := persistence.Ops()

	policy := queue.DefaultRetryPolicy
	q := queue.New(policy)
	q.Metrics = recorder

	renderer, err := prompt.NewRenderer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "conductor: load prompt templates: %v\n", err)
		return 1
	}

	wsManager := workspace.New(s.workspaceRoot, workspace.NewExecGitRunner())
	runner := agentrunner.New()

	forgeFactory := func(_ context.Context, repositoryFullName string) (forge.Client, error) {
		owner, repo, ok := strings.Cut(repositoryFullName, "/")
		if !ok {
			return nil, fmt.Errorf("conductor: malformed repository %q", repositoryFullName)
		}
		return forge.NewGitHubClient(owner, repo, s.githubToken), nil
	}
	taskForgeFactory := func(ctx context.Context, task *persistence.Task) (forge.Client, error) {
		return forgeFactory(ctx, task.RepositoryFullName)
	}
	credentialSource := func(_ context.Context, _ *persistence.Task) (string, error) {
		if s.llmCredential == "" {
			return "", fmt.Errorf("conductor: no LLM credential configured")
		}
		return s.llmCredential, nil
	}
	repoURLSource := func(_ context.Context, task *persistence.Task) (string, error) {
		return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", s.githubToken, task.RepositoryFullName), nil
	}

	cfgFunc := func() config.Config { return config.Get() }

	taskProcessor := taskproc.New(taskproc.Processor{
		Ops:        ops,
		Queue:      q,
		Workspace:  wsManager,
		Decomposer: decomposer.New(runner, renderer),
		Reviewer:   reviewer.New(runner, renderer),
		Fixer:      fixer.New(runner, renderer, wsManager),
		Forge:      taskForgeFactory,
		Credential: credentialSource,
		RepoURL:    repoURLSource,
		Config:     cfgFunc,
		HTTPClient: http.DefaultClient,
		Metrics:    recorder,
	})

	subtaskProcessor := subtaskproc.New(subtaskproc.Processor{
		Ops:        ops,
		Workspace:  wsManager,
		Runner:     runner,
		Renderer:   renderer,
		Forge:      taskForgeFactory,
		Credential: credentialSource,
		RepoURL:    repoURLSource,
		Config:     cfgFunc,
		MaxTurns:   cfgFunc().Agents.SubAgent.MaxTurns,
		Metrics:    recorder,
	})

	webhookHandler := webhook.New(ops, q, func(ctx context.Context, repositoryFullName string, _ int64) (forge.Client, error) {
		return forgeFactory(ctx, repositoryFullName)
	}, webhook.Config{
		Secret:         s.webhookSecret,
		BotAccountName: s.botAccountName,
	})
	webhookHandler.Metrics = recorder

	apiServer := httpapi.New(ops, q, webhookHandler)
	httpServer := &http.Server{
		Addr:              s.listenAddr,
		Handler:           apiServer.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown: %v", err)
		}
	}()

	go func() {
		if err := q.Run(ctx, queue.Tasks, s.tasksConcurrency, s.pollInterval, taskProcessor.Handle); err != nil && err != queue.ErrQueueClosed {
			logger.Error("tasks queue consumer stopped: %v", err)
		}
	}()
	go func() {
		if err := q.Run(ctx, queue.Subtasks, s.subtasksConcurrency, s.pollInterval, subtaskProcessor.Handle); err != nil && err != queue.ErrQueueClosed {
			logger.Error("subtasks queue consumer stopped: %v", err)
		}
	}()

	logger.Info("listening on %s", s.listenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "conductor: http server: %v\n", err)
		return 1
	}
	return 0
}

// banner prints the startup line, plain when stdout isn't a terminal
// (container/CI logs) and unchanged otherwise; conductor has no colorized
// path to switch to, unlike the teacher's cmd/maestro tee check, but the
// same TTY probe governs whether a future colorized banner would apply.
func banner(stdout *os.File) {
	if term.IsTerminal(int(stdout.Fd())) {
		fmt.Fprintln(stdout, "conductor: starting up")
		return
	}
	fmt.Fprintln(stdout, "conductor: starting up (non-interactive)")
}
