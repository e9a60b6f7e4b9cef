package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"simlink/config"
	"simlink/internal/admin"
	"simlink/internal/broker"
	"simlink/internal/db"
	"simlink/internal/health"
	"simlink/internal/logs"
	"simlink/internal/middleware"
	"simlink/internal/models"
	"simlink/internal/repo"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	Router     *mux.Router
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	/* 1) Логи */
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	/* 2) DB (опционально) */
	if drv := a.cfg.Database.Driver; drv != "" {
		d, err := db.Open(drv, a.cfg.Database.DSN)
		if err != nil {
			log.Fatalf("db open failed: %v", err)
		}
		a.db = d

		// доменная модель: устройства + история сообщений
		if err := a.db.AutoMigrate(&models.Device{}, &models.Message{}); err != nil {
			log.Fatalf("db migrate failed: %v", err)
		}
	}

	// Store брокера: gorm-адаптер при наличии БД, иначе in-memory
	var store broker.Store
	if a.db != nil {
		store = newStoreAdapter(repo.NewDeviceStore(a.db), repo.NewMessageStore(a.db))
	} else {
		store = broker.NewMemStore()
	}

	reg := broker.NewRegistry()
	pairing := broker.NewPairingService(store, reg, a.cfg.Pairing.CodeTTL)
	relay := broker.NewRelayService(store, reg, a.cfg.Relay.MaxContentBytes)
	hub := broker.NewHub(store, reg, pairing, relay)

	/* 3) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
	)

	/* 4) Health + статус */
	if a.db != nil {
		health.RegisterRoutesWithDB(a.Router, a.db) // /healthz, /readyz
	} else {
		health.RegisterRoutes(a.Router) // только /healthz
	}
	a.Router.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<h1>SimLink broker is live</h1><p>WebSocket endpoint: /ws</p>"))
	}).Methods(http.MethodGet)

	/* 5) Брокер + admin */
	a.Router.HandleFunc("/ws", hub.HandleWS)
	if a.db != nil {
		admin.Attach(a.Router, admin.Dependencies{
			DB:  a.db,
			DS:  repo.NewDeviceStore(a.db),
			MS:  repo.NewMessageStore(a.db),
			CFG: a.cfg,
		})
	}

	/* (необязательно) вывести известные маршруты в лог при старте */
	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		log.Printf("route: %-6v %s", methods, path)
		return nil
	})
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		logs.Logger.Infof("shutdown signal: %s", s)
		a.cancel()
	}()

	// Таймауты только на handshake/idle: /ws держит соединение часами,
	// ReadTimeout/WriteTimeout тут ставить нельзя.
	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Logger.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}
	return nil
}
