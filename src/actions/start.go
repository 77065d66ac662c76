package actions

import (
	"fmt"
	"path/filepath"

	"github.com/stake-plus/govtally/src/actions/core"
	"github.com/stake-plus/govtally/src/actions/governance"
	"github.com/stake-plus/govtally/src/actions/jobs"
	"github.com/stake-plus/govtally/src/api/webserver"
	"github.com/stake-plus/govtally/src/chain"
	"github.com/stake-plus/govtally/src/components/referendum"
	"github.com/stake-plus/govtally/src/components/tally"
	"github.com/stake-plus/govtally/src/config"
	"github.com/stake-plus/govtally/src/data"
	"github.com/stake-plus/govtally/src/data/docstore"
	"github.com/stake-plus/govtally/src/discord"
	"github.com/stake-plus/govtally/src/metrics"
	"go.uber.org/zap"
)

// Build wires the stores, the proposal source, the presenter and every
// enabled module. Nothing runs until Start.
func Build(cfg config.Config, log *zap.Logger) (_ *Runtime, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	rt := &Runtime{Metrics: metrics.New(), log: log}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	storeOpts := docstore.Options{MaxBackups: cfg.Storage.MaxBackups, Logger: log.Named("docstore")}
	registry := referendum.NewRegistry(filepath.Join(cfg.Storage.DataDir, referendum.CacheFile), storeOpts)
	tallies := tally.NewStore(cfg.Storage.DataDir, storeOpts)
	rt.closers = append(rt.closers, registry, tallies)

	source := newSource(cfg.Chain, log)
	rt.closers = append(rt.closers, source)

	var publisher governance.Publisher
	if cfg.RedisURL != "" {
		rdb, err := data.NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("actions: %w", err)
		}
		pub := data.NewRedisPublisher(rdb, "")
		rt.closers = append(rt.closers, pub)
		publisher = pub
		log.Info("lifecycle events enabled", zap.String("stream", data.LifecycleStream))
	}

	rt.Ballot = governance.NewBallot(tallies, cfg.Voting.ReadOnly, rt.Metrics, log)

	var modules []core.Module
	var presenter governance.Presenter
	if cfg.Discord.Token != "" {
		bot, err := discord.New(cfg.Discord.Token, discord.Config{
			GuildID:        cfg.Discord.GuildID,
			ForumChannelID: cfg.Discord.ForumChannelID,
			VoterRole:      cfg.Discord.VoterRole,
			AdminRole:      cfg.Discord.AdminRole,
			NotifyRole:     cfg.Discord.NotifyRole,
			Network:        cfg.Chain.Network,
			TitleMaxLength: cfg.Discord.TitleMaxLength,
			BodyMaxLength:  cfg.Discord.BodyMaxLength,
			ReadOnly:       cfg.Voting.ReadOnly,
		}, rt.Ballot, log)
		if err != nil {
			return nil, fmt.Errorf("actions: init discord: %w", err)
		}
		presenter = bot.Presenter()
		modules = append(modules, bot)
	} else {
		log.Info("discord not configured, running headless")
		presenter = governance.NewHeadless(log)
	}

	rt.Monitor, err = governance.NewMonitor(governance.MonitorConfig{
		Source:          source,
		Registry:        registry,
		Tallies:         tallies,
		Presenter:       presenter,
		Publisher:       publisher,
		Metrics:         rt.Metrics,
		SweepMaxAgeDays: cfg.Schedule.SweepMaxAgeDays,
		Logger:          log,
	})
	if err != nil {
		return nil, fmt.Errorf("actions: %w", err)
	}

	periods, err := governance.LoadVotePeriods(cfg.Voting.VotePeriodsDir, cfg.Chain.Network)
	if err != nil {
		return nil, fmt.Errorf("actions: %w", err)
	}
	rt.Decider = governance.NewDecider(governance.DeciderConfig{
		DataDir:           cfg.Storage.DataDir,
		Store:             storeOpts,
		Enabled:           cfg.Voting.Enabled(),
		MinParticipation:  cfg.Voting.MinParticipation,
		Threshold:         cfg.Voting.Threshold,
		Periods:           periods,
		DefaultPeriodDays: cfg.Voting.DefaultVotePeriodDays,
	}, tallies, publisher, rt.Metrics, log)
	rt.closers = append(rt.closers, rt.Decider)

	jobList := governance.Jobs(governance.Schedule{
		Check:      cfg.Schedule.CheckInterval,
		Autonomous: cfg.Schedule.AutonomousInterval,
		Sync:       cfg.Schedule.SyncInterval,
		Recheck:    cfg.Schedule.RecheckInterval,
	}, rt.Monitor, rt.Decider,
		governance.NewDisplaySync(tallies, presenter, log),
		governance.NewRecheck(source, rt.Metrics, log),
	)
	rt.Runner = jobs.NewRunner(cfg.Schedule.RestartBackoff, log, jobList, jobs.WithObserver(rt.Metrics.ObserveJob))
	modules = append(modules, rt.Runner)

	if cfg.API.Addr != "" {
		api, err := webserver.New(webserver.Config{
			Addr:        cfg.API.Addr,
			JWTSecret:   cfg.API.JWTSecret,
			CORSOrigins: cfg.API.CORSOrigins,
			Debug:       cfg.Debug,
		}, rt.Ballot, tallies, rt.Metrics.Handler(), log)
		if err != nil {
			return nil, fmt.Errorf("actions: init api: %w", err)
		}
		modules = append(modules, api)
	}

	rt.Manager = core.NewManager(log, modules...)
	log.Info("service assembled",
		zap.Int("modules", len(modules)),
		zap.Int("jobs", len(jobList)),
		zap.Bool("read_only", cfg.Voting.ReadOnly),
		zap.Bool("autonomous_voting", cfg.Voting.Enabled()))
	return rt, nil
}

func newSource(cfg config.Chain, log *zap.Logger) chain.Source {
	if cfg.ActiveFile != "" {
		log.Info("reading active proposals from file", zap.String("path", cfg.ActiveFile))
		return chain.NewFileSource(cfg.ActiveFile)
	}
	var posts *chain.PolkassemblyClient
	if cfg.PolkassemblyEndpoint != "" {
		posts = chain.NewPolkassemblyClient(cfg.PolkassemblyEndpoint, cfg.Network, log.Named("polkassembly"))
	}
	return chain.NewSubstrateSource(chain.SubstrateConfig{
		URL:       cfg.RPCURL,
		Network:   cfg.Network,
		ScanDepth: cfg.ScanDepth,
		Workers:   cfg.Workers,
	}, posts, log.Named("chain"))
}
