package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"PChatCore/global/config"
	"PChatCore/logger"
	"PChatCore/middleware"
	"PChatCore/module/chat/access"
	"PChatCore/module/chat/api"
	"PChatCore/module/chat/conversation"
	"PChatCore/module/chat/message"
	"PChatCore/module/chat/reaction"
	"PChatCore/module/chat/readstate"
	"PChatCore/module/chat/store"
	"PChatCore/module/chat/store/memstore"
	"PChatCore/module/chat/store/postgres"
	"PChatCore/service/chat"
	"PChatCore/service/kafka"
	"PChatCore/service/metrics"
	"PChatCore/service/natsx"
	"PChatCore/service/presence"
	"PChatCore/service/rpc"
	"PChatCore/service/storage"
	"PChatCore/service/storage/redis"
	"PChatCore/tools/ids"
	"PChatCore/tools/safe"
	"PChatCore/tools/security"
)

type chatStore interface {
	store.ConversationStore
	store.MembershipStore
}

type app struct {
	cfg config.AppConfig
	log *zap.Logger

	pg       *postgres.Store
	memDedup *storage.MemDeduper
	useRedis bool
	registry *presence.Registry
	chat     *chat.Server
	relay    chat.Relay
	exporter *kafka.Exporter
	http     *http.Server
	health   *rpc.HealthServer
}

func newApp(ctx context.Context, cfg config.AppConfig) (a *app, err error) {
	a = &app{cfg: cfg, log: logger.Named("app")}
	defer func() {
		if err != nil {
			a.closeBackends()
		}
	}()

	// ===== 存储 =====
	var st chatStore
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		a.log.Warn("using in-memory store, data is lost on restart")
		st = memstore.New()
	default:
		if a.pg, err = postgres.New(ctx, postgres.Config{
			Dsn:      cfg.Store.Dsn,
			MaxConns: cfg.Store.MaxConns,
			Timeout:  cfg.Store.Timeout,
		}); err != nil {
			return nil, err
		}
		if cfg.Store.InitSchema {
			if err = a.pg.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		st = a.pg
	}

	// ===== 去重 =====
	var dedup message.Deduper
	if cfg.Redis.Addr != "" {
		if err = redis.InitRedis(redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}); err != nil {
			return nil, err
		}
		a.useRedis = true
		dedup = storage.NewRedisDeduper(redis.GetRedis(), cfg.Redis.DedupTTL)
	} else {
		a.memDedup = storage.NewMemDeduper(cfg.Redis.DedupTTL)
		dedup = a.memDedup
	}

	// ===== 业务 =====
	oracle := access.NewOracle(st)
	gen := ids.NewGenerator(cfg.NodeId)
	resolver := conversation.NewResolver(st, oracle, gen)
	messages := message.NewService(st, oracle, resolver, gen,
		message.WithDeduper(dedup),
		message.WithLimits(message.Limits{
			MaxContentRunes:     cfg.Chat.MaxContentRunes,
			MaxMentions:         cfg.Chat.MaxMentions,
			MaxAttachments:      cfg.Chat.MaxAttachments,
			HistoryDefaultLimit: cfg.Chat.HistoryDefaultLimit,
			HistoryMaxLimit:     cfg.Chat.HistoryMaxLimit,
		}),
	)
	reactions := reaction.NewEngine(st, oracle, resolver, gen)
	reads := readstate.NewTracker(st, oracle, resolver)

	verifier, err := security.NewJWTVerifier(security.Options{
		Secret: cfg.GetJwtSecret(),
		Alg:    cfg.Auth.JwtAlg,
		Leeway: cfg.Auth.Leeway,
	})
	if err != nil {
		return nil, err
	}

	// ===== 观测 =====
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	// ===== 长连接 =====
	a.registry = presence.NewRegistry()
	m.WatchPresence(a.registry.Stats)
	observer := chat.Observers{chat.NewLogObserver(), m}
	a.chat = chat.NewServer(cfg.Ws, chat.Deps{
		Verifier:  verifier,
		Oracle:    oracle,
		Messages:  messages,
		Reactions: reactions,
		ReadState: reads,
		Registry:  a.registry,
		Observer:  observer,
	})

	if len(cfg.Nats.Servers) > 0 {
		mgr, err := natsx.NewNatsManager(natsx.NatsxConfig{Servers: cfg.Nats.Servers, Name: cfg.Nats.Name})
		if err != nil {
			return nil, err
		}
		node := "node-" + strconv.FormatInt(cfg.NodeId, 10)
		relay := chat.NewNatsRelay(mgr, cfg.Nats.SubjectPrefix, node, observer)
		if err = a.chat.Router().UseRelay(relay); err != nil {
			_ = mgr.Close()
			return nil, err
		}
		a.relay = relay
		a.log.Info("cross-node relay enabled", zap.Strings("servers", cfg.Nats.Servers), zap.String("node", node))
	}

	if kc := kafka.FromAppConfig(cfg); kc.Enabled() {
		if cfg.Kafka.EnsureTopic {
			if err := kafka.EnsureTopic(kc); err != nil {
				a.log.Warn("ensure kafka topic", zap.String("topic", kc.Topic), zap.Error(err))
			}
		}
		if a.exporter, err = kafka.NewExporter(kc); err != nil {
			return nil, err
		}
		a.chat.Router().UseSink(a.exporter)
		m.WatchExporter(a.exporter.Stats)
	}

	// ===== HTTP =====
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	mids := middleware.NewManager()
	mids.Add(middleware.Origin(cfg.Ws.AllowedOrigins))

	engine := gin.New()
	engine.Use(middleware.Recovery(), middleware.AccessLog())
	engine.GET("/ws", a.chat.HandleWS)
	engine.GET("/healthz", func(c *gin.Context) {
		if err := a.ping(c.Request.Context()); err != nil {
			api.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(metrics.Handler(promReg)))

	rest := api.New(api.Deps{
		Oracle:    oracle,
		Messages:  messages,
		Reactions: reactions,
		ReadState: reads,
		Resolver:  resolver,
		Presence:  a.chat,
		Bus:       a.chat.Router(),
	})
	rest.Register(engine.Group("", mids.Use()), api.Auth(verifier, oracle))

	a.http = &http.Server{
		Addr:              cfg.Http.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.Http.ReadHeaderTimeout,
	}
	if cfg.Grpc.Addr != "" {
		a.health = rpc.NewHealthServer(cfg.Grpc.Addr)
	}
	return a, nil
}

func (a *app) ping(ctx context.Context) error {
	if a.pg != nil {
		return a.pg.Ping(ctx)
	}
	return nil
}

// run 阻塞到 ctx 结束或任一服务出错，然后按顺序关闭
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("http listening", zap.String("addr", a.cfg.Http.Addr))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if a.health != nil {
		g.Go(a.health.ListenAndServe)
	}
	if a.memDedup != nil {
		g.Go(func() error {
			a.sweepDedup(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})
	return g.Wait()
}

func (a *app) sweepDedup(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.memDedup.Sweep(); n > 0 {
				a.log.Debug("dedup swept", zap.Int("n", n))
			}
		}
	}
}

// shutdown 顺序：摘流量 -> 停 HTTP -> 关长连接并等清理 -> 关后端
func (a *app) shutdown() {
	a.log.Info("shutting down")
	if a.health != nil {
		a.health.SetServing(false)
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Http.ShutdownTimeout)
	defer cancel()

	if err := a.http.Shutdown(ctx); err != nil {
		a.log.Warn("http shutdown", zap.Error(err))
	}
	if err := a.chat.Shutdown(ctx); err != nil {
		a.log.Warn("chat shutdown", zap.Error(err))
	}
	if a.health != nil {
		a.health.Stop()
	}
	a.closeBackends()
}

func (a *app) closeBackends() {
	if a.registry != nil {
		a.registry.Close()
	}
	if a.relay != nil {
		if err := safe.Call(a.relay.Close); err != nil {
			a.log.Warn("close relay", zap.Error(err))
		}
	}
	if a.exporter != nil {
		if err := a.exporter.Close(); err != nil {
			a.log.Warn("close exporter", zap.Error(err))
		}
	}
	if a.useRedis {
		if err := redis.CloseRedis(); err != nil {
			a.log.Warn("close redis", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
