// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/dummyapi/core/access"
	"github.com/relabs-tech/dummyapi/core/backend"
	"github.com/relabs-tech/dummyapi/core/csql"
	"github.com/relabs-tech/dummyapi/core/logger"
	"github.com/relabs-tech/dummyapi/core/notify"
	"github.com/relabs-tech/dummyapi/core/registry"
	"github.com/relabs-tech/dummyapi/core/store"
	"github.com/relabs-tech/dummyapi/core/tenant"
	"github.com/relabs-tech/dummyapi/core/transform"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// Without POSTGRES all data is kept in memory.
type Service struct {
	Postgres         string        `env:"POSTGRES,optional" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string        `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	Schema           string        `env:"SCHEMA,optional,default=dummyapi" description:"the database schema"`
	Port             int           `env:"PORT,optional,default=3000" description:"the port to listen on"`
	LogLevel         string        `env:"LOG_LEVEL,optional,default=info" description:"the log level"`
	KafkaBrokers     string        `env:"KAFKA_BROKERS,optional" description:"comma separated kafka brokers, enables the event mirror"`
	KafkaTopic       string        `env:"KAFKA_TOPIC,optional,default=dummyapi-events" description:"the kafka topic of the event mirror"`
	RedisAddr        string        `env:"REDIS_ADDR,optional" description:"redis address, enables the shared token cache"`
	TokenCacheTTL    time.Duration `env:"TOKEN_CACHE_TTL,optional,default=5m" description:"time to live of cached access tokens"`
	TransformTimeout time.Duration `env:"TRANSFORM_TIMEOUT,optional,default=50ms" description:"time budget of one transformation"`
	JWTSecret        string        `env:"JWT_SECRET,optional" description:"secret of the user session tokens, random if empty"`
	AdminToken       string        `env:"ADMIN_TOKEN,optional" description:"bearer token for the management API"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	level, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(level)
	rlog := logger.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	builder := tenant.Builder{}
	if service.Postgres != "" {
		db := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, service.Schema)
		defer db.Close()
		side := registry.New(db)
		builder.Applications = tenant.NewPostgresRepository(db)
		builder.Users = tenant.NewPostgresUserRepository(db)
		builder.Documents = store.NewPostgres(db)
		builder.SideRecords = &side
	} else {
		rlog.Warnln("POSTGRES is not set, all data is kept in memory")
	}
	if service.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: service.RedisAddr})
		defer client.Close()
		builder.TokenCache = tenant.NewRedisTokenCache(client, "dummyapi:", service.TokenCacheTTL)
	} else {
		builder.TokenCache = tenant.NewMemoryTokenCache(service.TokenCacheTTL)
	}
	tenants := tenant.New(builder)

	pipeline := transform.New(service.TransformTimeout)
	bus := notify.NewBus(tenants, pipeline)
	defer bus.Close()
	go notify.NewDispatcher(bus, tenants).Run(ctx, 256)
	if service.KafkaBrokers != "" {
		writer := notify.NewKafkaWriter(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		go bus.Mirror(ctx, writer, 1024)
	}

	router := mux.NewRouter()
	logger.AddRequestID(router)
	backend.New(&backend.Builder{
		Router:      router,
		Tenants:     tenants,
		Pipeline:    pipeline,
		Bus:         bus,
		Sessions:    access.NewSessionIssuer(service.JWTSecret, access.DefaultSessionTTL),
		AdminTokens: []string{service.AdminToken},
	})
	if service.AdminToken == "" {
		rlog.Warnln("ADMIN_TOKEN is not set, the management API is not reachable")
	}

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(service.Port),
		Handler: router,
	}
	go func() {
		rlog.Infoln("listen on port", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rlog.WithError(err).Fatalln("cannot listen")
		}
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	<-signalCh
	rlog.Infoln("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		rlog.WithError(err).Errorln("shutdown")
	}
}
