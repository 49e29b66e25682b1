// Package wiring builds the shared collaborator graph every cmd/ binary
// needs — database, cache, stream, rule cache, profile/counter stores, the
// scoring engine, and the review/graph/silence background services — so
// api-server and worker construct it identically instead of each
// re-deriving it. kafka-worker does not use it; it builds its own Sarama
// consumer group and Redis cache client from config. Grounded on the teacher's cmd/api-server/main.go,
// which builds this same graph inline in func main.
package wiring

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-engine/internal/analytics"
	"github.com/enterprise/risk-engine/internal/auth"
	"github.com/enterprise/risk-engine/internal/config"
	"github.com/enterprise/risk-engine/internal/counters"
	"github.com/enterprise/risk-engine/internal/graph"
	"github.com/enterprise/risk-engine/internal/ingestion"
	"github.com/enterprise/risk-engine/internal/isolationforest"
	"github.com/enterprise/risk-engine/internal/notify"
	"github.com/enterprise/risk-engine/internal/profile"
	"github.com/enterprise/risk-engine/internal/queue"
	"github.com/enterprise/risk-engine/internal/repositories"
	"github.com/enterprise/risk-engine/internal/review"
	"github.com/enterprise/risk-engine/internal/rules"
	"github.com/enterprise/risk-engine/internal/scoring"
	"github.com/enterprise/risk-engine/internal/silence"
)

// notifyDispatchTimeout bounds each fire-and-forget silence-alert delivery.
const notifyDispatchTimeout = 5 * time.Second

// App holds every shared collaborator, constructed once and reused across
// the HTTP surface and the background worker loops.
type App struct {
	Config *config.Config

	DB           *repositories.Database
	StreamClient *queue.RedisStreamClient
	CacheClient  *queue.CacheClient

	TransactionRepo *repositories.TransactionRepository
	ProfileRepo     *repositories.ProfileRepository
	RuleRepo        *repositories.RuleRepository
	ReviewRepo      *repositories.ReviewRepository
	ResultRepo      *repositories.ResultRepository
	OperatorRepo    *auth.OperatorRepository

	RuleCache *rules.Cache
	Forests   *isolationforest.Store
	Engine    *scoring.Engine

	ReviewService   *review.Service
	AutoAccept      *review.AutoAcceptSweeper
	WeightAdjuster  *review.WeightAdjuster
	Graph           *graph.Graph
	GraphRefresher  *graph.RefreshWorker
	SilenceDetector *silence.Detector
	Notifier        *notify.Notifier

	BacktestService  *scoring.BacktestService
	AnalyticsService *analytics.Service
	IngestionService *ingestion.Service
	AuthService      *auth.Service
	JWTManager       *auth.JWTManager
}

// Build wires every collaborator from cfg. The caller owns shutdown of DB,
// StreamClient, and CacheClient.
func Build(cfg *config.Config) (*App, error) {
	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	streamClient, err := queue.NewRedisStreamClient(cfg.Redis, cfg.Worker.DeadLetterStream)
	if err != nil {
		return nil, err
	}

	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		return nil, err
	}

	txRepo := repositories.NewTransactionRepository(db)
	profileRepo := repositories.NewProfileRepository(db)
	ruleRepo := repositories.NewRuleRepository(db)
	reviewRepo := repositories.NewReviewRepository(db)
	resultRepo := repositories.NewResultRepository(db)
	operatorRepo := auth.NewOperatorRepository(db)

	ruleCache := rules.NewCache(ruleRepo, time.Duration(cfg.Risk.RuleCacheRefreshSeconds)*time.Second)
	seedRuleCache(ruleCache, ruleRepo, cfg.Risk.RuleManifestPath)

	forests := isolationforest.NewStore(isolationforest.NewFileModelLoader(cfg.Risk.IFModelDir))
	if n, err := isolationforest.PreloadAll(forests, cfg.Risk.IFModelDir); err != nil {
		log.Warn().Err(err).Str("dir", cfg.Risk.IFModelDir).Msg("isolation forest model preload failed")
	} else {
		log.Info().Int("model_count", n).Str("dir", cfg.Risk.IFModelDir).Msg("isolation forest models preloaded")
	}

	dispatch := rules.NewEngine(ruleCache, forests)

	profileStore := profile.NewStore(profileRepo, txRepo)
	counterStore := counters.New()

	reviewSvc := review.NewService(reviewRepo)

	engine := &scoring.Engine{
		Profiles: profileStore,
		Counters: counterStore,
		Rules:    dispatch,
		Results:  resultRepo,
		Review:   reviewSvc,
		Risk:     cfg.Risk,
		Feedback: cfg.Feedback,
	}

	beneGraph := graph.New(txRepo)
	graphRefresher := graph.NewRefreshWorker(beneGraph, cfg.Graph.RefreshInterval)

	notifier := notify.New(notify.NoopSender{}, notifyDispatchTimeout)
	silenceDetector := silence.NewDetector(profileStore, notifier, nil, cfg.Silence)

	autoAccept := review.NewAutoAcceptSweeper(reviewSvc, cfg.Feedback.AutoAcceptSweepInterval)
	weightAdjuster := review.NewWeightAdjuster(reviewSvc, ruleCache, cfg.Feedback)

	backtestSvc := scoring.NewBacktestService(engine, txRepo)
	analyticsSvc := analytics.NewService(db, resultRepo, cacheClient, backtestSvc, reviewSvc)
	ingestionSvc := ingestion.NewService(txRepo, streamClient, cfg.Risk)

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiration)
	authSvc := auth.NewService(operatorRepo, jwtManager)

	return &App{
		Config: cfg,

		DB:           db,
		StreamClient: streamClient,
		CacheClient:  cacheClient,

		TransactionRepo: txRepo,
		ProfileRepo:     profileRepo,
		RuleRepo:        ruleRepo,
		ReviewRepo:      reviewRepo,
		ResultRepo:      resultRepo,
		OperatorRepo:    operatorRepo,

		RuleCache: ruleCache,
		Forests:   forests,
		Engine:    engine,

		ReviewService:   reviewSvc,
		AutoAccept:      autoAccept,
		WeightAdjuster:  weightAdjuster,
		Graph:           beneGraph,
		GraphRefresher:  graphRefresher,
		SilenceDetector: silenceDetector,
		Notifier:        notifier,

		BacktestService:  backtestSvc,
		AnalyticsService: analyticsSvc,
		IngestionService: ingestionSvc,
		AuthService:      authSvc,
		JWTManager:       jwtManager,
	}, nil
}

// seedRuleCache ensures the rule cache and its backing repository are never
// empty at boot. The repository is the source of truth once populated, but a
// fresh deployment has no anomaly_rules rows and no seed migration, so the
// first boot bootstraps from the YAML rule-defaults manifest (falling back to
// the built-in DefaultRuleSet if the manifest is unreadable) and persists that
// seed back into the repository — otherwise Cache.Refresh's next scheduled
// reload would overwrite the in-memory seed with the still-empty table.
func seedRuleCache(cache *rules.Cache, repo rules.Repository, manifestPath string) {
	existing, err := repo.ListRules()
	if err == nil && len(existing) > 0 {
		cache.Seed(existing)
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("rule repository unreachable at boot, seeding from manifest")
	}

	seed, err := rules.LoadDefaultsFromYAML(manifestPath)
	if err != nil {
		log.Warn().Err(err).Str("path", manifestPath).Msg("rule manifest unreadable, falling back to built-in defaults")
		seed = rules.DefaultRuleSet()
	}
	cache.Seed(seed)

	for _, rule := range seed {
		if err := repo.SaveRule(rule); err != nil {
			log.Warn().Err(err).Str("rule_id", rule.RuleID).Msg("failed to persist seeded rule")
		}
	}
}

// Close tears down the database and Redis connections.
func (a *App) Close() {
	a.StreamClient.Close()
	a.CacheClient.Close()
	a.DB.Close()
}
