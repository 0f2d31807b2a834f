package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/dewberry/internal/agents"
	"github.com/talgya/dewberry/internal/api"
	"github.com/talgya/dewberry/internal/config"
	"github.com/talgya/dewberry/internal/engine"
	"github.com/talgya/dewberry/internal/entropy"
	"github.com/talgya/dewberry/internal/llm"
	"github.com/talgya/dewberry/internal/logging"
	"github.com/talgya/dewberry/internal/oracle"
	"github.com/talgya/dewberry/internal/persistence"
	"github.com/talgya/dewberry/internal/world"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one or more simulations",
		Long: `Run simulates the configured number of days for each run, saving a
checkpoint after every day under <checkpoint_dir>/run-<N>/.

Settings come from the config file, then DEWBERRY_* environment variables,
then flags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig(cmd)
			if err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Log.Level, cmd.ErrOrStderr())
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r, err := newRunner(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer r.Close()
			return r.runAll(ctx)
		},
	}

	cmd.Flags().String("config", "", "Path to YAML config file")
	cmd.Flags().String("name", "", "Run name, used in file names")
	cmd.Flags().Int("runs", 0, "Number of consecutive runs")
	cmd.Flags().Int("days", 0, "Days to simulate per run")
	cmd.Flags().Int("healthy", 0, "Initial susceptible agents")
	cmd.Flags().Int("infected", 0, "Initial infected agents")
	cmd.Flags().Int("contact-rate", 0, "Maximum daily contacts per agent")
	cmd.Flags().Float64("infection-rate", 0, "Per-contact transmission probability")
	cmd.Flags().Int("time-to-heal", 0, "Infected days before recovery")
	cmd.Flags().Uint64("seed", 0, "Random seed (0 picks one)")
	cmd.Flags().String("provider", "", "Decision provider: anthropic, openai, always-home, always-out")
	cmd.Flags().Int("resume-run", 0, "Run number to resume (1-based)")
	cmd.Flags().Int("offset", 0, "Day whose checkpoint is resumed")
	cmd.Flags().Int("port", 0, "HTTP API port (0 disables)")
	cmd.Flags().String("checkpoint-dir", "", "Checkpoint directory")
	cmd.Flags().String("output-dir", "", "Statistics output directory")
	cmd.Flags().String("index", "", "SQLite run index path")
	cmd.Flags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	return cmd
}

// loadRunConfig layers the config file, the environment and the flags, then
// picks the API key for the final provider and validates the result.
func loadRunConfig(cmd *cobra.Command) (*config.RunConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyRunFlags(cmd, cfg)
	cfg.ResolveAPIKey()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyRunFlags overrides cfg with every flag set on the command line.
func applyRunFlags(cmd *cobra.Command, cfg *config.RunConfig) {
	f := cmd.Flags()
	if f.Changed("name") {
		cfg.Name, _ = f.GetString("name")
	}
	if f.Changed("runs") {
		cfg.Runs, _ = f.GetInt("runs")
	}
	if f.Changed("days") {
		cfg.Days, _ = f.GetInt("days")
	}
	if f.Changed("healthy") {
		cfg.InitialHealthy, _ = f.GetInt("healthy")
	}
	if f.Changed("infected") {
		cfg.InitialInfected, _ = f.GetInt("infected")
	}
	if f.Changed("contact-rate") {
		cfg.ContactRate, _ = f.GetInt("contact-rate")
	}
	if f.Changed("infection-rate") {
		cfg.InfectionRate, _ = f.GetFloat64("infection-rate")
	}
	if f.Changed("time-to-heal") {
		cfg.HealingThreshold, _ = f.GetInt("time-to-heal")
	}
	if f.Changed("seed") {
		cfg.Seed, _ = f.GetUint64("seed")
	}
	if f.Changed("provider") {
		cfg.Oracle.Provider, _ = f.GetString("provider")
	}
	if f.Changed("resume-run") {
		cfg.Resume.Run, _ = f.GetInt("resume-run")
	}
	if f.Changed("offset") {
		cfg.Resume.Offset, _ = f.GetInt("offset")
	}
	if f.Changed("port") {
		cfg.API.Port, _ = f.GetInt("port")
	}
	if f.Changed("checkpoint-dir") {
		cfg.CheckpointDir, _ = f.GetString("checkpoint-dir")
	}
	if f.Changed("output-dir") {
		cfg.OutputDir, _ = f.GetString("output-dir")
	}
	if f.Changed("index") {
		cfg.IndexPath, _ = f.GetString("index")
	}
	if f.Changed("log-level") {
		cfg.Log.Level, _ = f.GetString("log-level")
	}
}

// runner owns the collaborators shared by every run of a batch.
type runner struct {
	cfg       *config.RunConfig
	logger    *slog.Logger
	seed      uint64
	oracle    oracle.Oracle
	index     *persistence.Index
	decisions *logging.DecisionLog
	server    *api.Server
}

func newRunner(ctx context.Context, cfg *config.RunConfig, logger *slog.Logger) (*runner, error) {
	o, err := buildOracle(cfg, logger)
	if err != nil {
		return nil, err
	}
	r := &runner{
		cfg:       cfg,
		logger:    logger,
		seed:      entropy.Resolve(ctx, cfg.Seed, entropy.NewClient(cfg.RandomOrgKey, logger)),
		oracle:    o,
		decisions: logging.NewDecisionLog(cfg.Log.DecisionsDir),
	}

	if cfg.IndexPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.IndexPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating index dir: %w", err)
		}
		idx, err := persistence.OpenIndex(cfg.IndexPath)
		if err != nil {
			return nil, fmt.Errorf("opening run index: %w", err)
		}
		r.index = idx
		logger.Info("run index opened", "path", cfg.IndexPath)
		r.saveMeta(persistence.MetaBaseSeed, strconv.FormatUint(r.seed, 10))
	}

	if cfg.API.Port > 0 {
		r.server = api.NewServer(cfg.API.Port, r.index, logger)
		r.server.Start()
	}

	logger.Info("Dewberry Hollow epidemic simulation",
		"name", cfg.Name,
		"runs", cfg.Runs,
		"population", cfg.Population(),
		"days", cfg.Days,
		"seed", r.seed,
		"oracle", cfg.Oracle.String(),
	)
	return r, nil
}

// Close releases the index, the decision log and the API server.
func (r *runner) Close() {
	if r.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.server.Shutdown(ctx); err != nil {
			r.logger.Warn("API shutdown", "error", err)
		}
		cancel()
	}
	if err := r.decisions.Close(); err != nil {
		r.logger.Warn("closing decision log", "error", err)
	}
	if r.index != nil {
		r.index.Close()
	}
}

// runAll processes runs from the resume run (or 1) through cfg.Runs. Resume
// applies only to the first run processed.
func (r *runner) runAll(ctx context.Context) error {
	first := 1
	if r.cfg.Resume.Run > 0 {
		first = r.cfg.Resume.Run
	}
	for run := first; run <= r.cfg.Runs; run++ {
		if err := r.runOne(ctx, run, run == first && r.cfg.Resume.Run > 0); err != nil {
			return fmt.Errorf("run %d: %w", run, err)
		}
	}
	return nil
}

func (r *runner) runOne(ctx context.Context, run int, resume bool) error {
	cfg := r.cfg
	seed := r.seed + uint64(run-1)

	store := persistence.NewStore(cfg.CheckpointDir, cfg.Name, run)
	store.TargetDays = cfg.Days
	store.Logger = r.logger

	var uid string
	if r.index != nil {
		var err error
		uid, err = r.index.StartRun(persistence.RunRecord{
			Name:          cfg.Name,
			Run:           run,
			Seed:          strconv.FormatUint(seed, 10),
			Population:    cfg.Population(),
			ContactRate:   cfg.ContactRate,
			InfectionRate: cfg.InfectionRate,
			TargetDays:    cfg.Days,
		})
		if err != nil {
			r.logger.Warn("run index write failed", "run", run, "error", err)
		}
		store.Index, store.RunUID = r.index, uid
	}

	fresh := func() (*engine.Simulation, error) {
		return newSimulation(cfg, seed)
	}
	var sim *engine.Simulation
	if resume {
		res, err := store.Resume(cfg.Resume.Offset, fresh)
		if err != nil {
			return err
		}
		sim = res.Sim
	} else {
		var err error
		if sim, err = fresh(); err != nil {
			return err
		}
	}
	sim.Oracle = r.oracle
	sim.Logger = r.logger
	if cfg.Oracle.Concurrency > 0 {
		sim.Concurrency = cfg.Oracle.Concurrency
	}

	if r.server != nil {
		r.server.SetRun(api.RunInfo{UID: uid, Name: cfg.Name, Run: run})
		r.server.Publish(sim.Status(), nil)
	}

	eng := engine.NewEngine(sim, cfg.Days, store)
	eng.Logger = r.logger.With("run", run)
	eng.OnDay = func(rep engine.DayReport) {
		r.afterDay(uid, run, sim, rep)
	}

	outcome, err := eng.Run(ctx)
	if err != nil {
		status := "failed"
		if errors.Is(err, context.Canceled) {
			status = "cancelled"
		}
		r.finish(uid, status)
		return err
	}
	r.finish(uid, outcome.String())
	r.saveMeta(persistence.MetaLastRun, fmt.Sprintf("%s #%d", cfg.Name, run))

	out := filepath.Join(cfg.OutputDir, fmt.Sprintf("run-%d", run), cfg.Name+"-data.csv")
	if err := persistence.WriteStatsCSV(out, sim); err != nil {
		r.logger.Warn("stats export failed", "path", out, "error", err)
	} else {
		r.logger.Info("stats exported", "path", out)
	}

	r.logger.Info("run finished",
		"run", run,
		"outcome", outcome.String(),
		"days", sim.Day,
		"date", sim.Date.Format("2006-01-02"),
		"recovered", engine.TakeCensus(sim).Recovered,
	)
	return nil
}

// afterDay indexes the day, logs every decision and publishes the status.
func (r *runner) afterDay(uid string, run int, sim *engine.Simulation, rep engine.DayReport) {
	if r.index != nil && uid != "" {
		if err := r.index.RecordDay(uid, rep); err != nil {
			r.logger.Warn("stats index write failed", "day", rep.Day, "error", err)
		}
	}

	if r.decisions != nil {
		date := rep.Date.Format("2006-01-02")
		ds := make([]logging.Decision, 0, len(sim.Agents))
		for _, a := range sim.Agents {
			m, ok := agents.MemoryForDay(a, rep.Day)
			if !ok {
				continue
			}
			ds = append(ds, logging.Decision{
				Run:       run,
				Day:       rep.Day,
				Date:      date,
				AgentID:   uint64(a.ID),
				Name:      a.Name,
				Health:    m.Health.String(),
				StayHome:  m.StayHome,
				Response:  m.Response,
				Rationale: m.Rationale,
			})
		}
		if err := r.decisions.WriteDay(run, ds); err != nil {
			r.logger.Warn("decision log write failed", "day", rep.Day, "error", err)
		}
	}

	if r.server != nil {
		r.server.Publish(sim.Status(), &rep)
	}
}

func (r *runner) finish(uid, outcome string) {
	if r.index == nil || uid == "" {
		return
	}
	if err := r.index.FinishRun(uid, outcome); err != nil {
		r.logger.Warn("run index write failed", "error", err)
	}
}

func (r *runner) saveMeta(key, value string) {
	if r.index == nil {
		return
	}
	if err := r.index.SaveMeta(key, value); err != nil {
		r.logger.Warn("run index write failed", "key", key, "error", err)
	}
}

// newSimulation spawns the initial population and world.
func newSimulation(cfg *config.RunConfig, seed uint64) (*engine.Simulation, error) {
	grid, err := world.NewGrid(cfg.Population())
	if err != nil {
		return nil, err
	}
	pop := agents.NewSpawner(seed).SpawnPopulation(cfg.InitialHealthy, cfg.InitialInfected, grid)
	return engine.NewSimulation(pop, grid, engine.Params{
		ContactRate:      cfg.ContactRate,
		InfectionRate:    cfg.InfectionRate,
		HealingThreshold: cfg.HealingThreshold,
	}, seed)
}

// buildOracle picks the decision provider named in the config.
func buildOracle(cfg *config.RunConfig, logger *slog.Logger) (oracle.Oracle, error) {
	lc := llm.Config{
		APIKey:        cfg.Oracle.APIKey,
		Model:         cfg.Oracle.Model,
		BaseURL:       cfg.Oracle.BaseURL,
		Timeout:       cfg.Oracle.Timeout,
		RatePerMinute: cfg.Oracle.RatePerMinute,
		Logger:        logger,
	}

	switch cfg.Oracle.Provider {
	case config.ProviderAlwaysHome:
		return oracle.Always(true), nil
	case config.ProviderAlwaysOut:
		return oracle.Always(false), nil
	case config.ProviderAnthropic:
		c := llm.NewAnthropicClient(lc)
		if c == nil {
			return nil, errors.New("anthropic provider needs oracle.api_key or ANTHROPIC_API_KEY")
		}
		return oracle.NewAdapter(c, cfg.Oracle.RetryDelay, logger), nil
	case config.ProviderOpenAI:
		c := llm.NewOpenAIClient(lc)
		if c == nil {
			return nil, errors.New("openai provider needs oracle.api_key or OPENAI_API_KEY")
		}
		return oracle.NewAdapter(c, cfg.Oracle.RetryDelay, logger), nil
	}
	return nil, fmt.Errorf("%w: unknown oracle provider %q", config.ErrInvalid, cfg.Oracle.Provider)
}
