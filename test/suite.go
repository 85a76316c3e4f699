// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package test holds the integration tests of the backend against real
// Postgres, Redis and Kafka containers. The tests only run with
// INTEGRATION_TESTS set.
package test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"github.com/relabs-tech/dummyapi/core/backend"
	"github.com/relabs-tech/dummyapi/core/client"
	"github.com/relabs-tech/dummyapi/core/csql"
	"github.com/relabs-tech/dummyapi/core/notify"
	"github.com/relabs-tech/dummyapi/core/registry"
	"github.com/relabs-tech/dummyapi/core/store"
	"github.com/relabs-tech/dummyapi/core/tenant"
)

const (
	adminToken  = "integration-admin"
	mirrorTopic = "dummyapi-events"
)

// runIntegration skips t unless INTEGRATION_TESTS is set
func runIntegration(t *testing.T, s suite.TestingSuite) {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("set INTEGRATION_TESTS to run the integration tests")
	}
	suite.Run(t, s)
}

type IntegrationTestSuite struct {
	*backend.Backend
	suite.Suite

	srv    *http.Server
	url    string
	cancel context.CancelFunc

	dbConn      *csql.DB
	redisClient *redis.Client
	router      *mux.Router
	// client is an admin client talking HTTP to the running server
	client client.Client

	network            testcontainers.Network
	kafkaContainer     testcontainers.Container
	zookeeperContainer testcontainers.Container
	postgresContainer  testcontainers.Container
	redisContainer     testcontainers.Container
	kafkaConn          *kafka.Conn
	kafkaAddr          string
	redisAddr          string
	postgresDSN        string
	postgresPassword   string
}

func (s *IntegrationTestSuite) createTopic(topic string, numPartitions int) error {
	if s.kafkaConn == nil {
		return fmt.Errorf("kafka connection is not established")
	}

	err := s.kafkaConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     numPartitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	return nil
}

// newTenants returns a tenant registry on the suite's Postgres database and
// Redis token cache. Every call yields an independent registry, as if it ran
// in another instance of the service.
func (s *IntegrationTestSuite) newTenants() *tenant.Registry {
	side := registry.New(s.dbConn)
	return tenant.New(tenant.Builder{
		Applications: tenant.NewPostgresRepository(s.dbConn),
		Users:        tenant.NewPostgresUserRepository(s.dbConn),
		Documents:    store.NewPostgres(s.dbConn),
		SideRecords:  &side,
		TokenCache:   tenant.NewRedisTokenCache(s.redisClient, "integration:", time.Minute),
		PasswordCost: bcrypt.MinCost,
	})
}

func (s *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	// Create a shared Docker network for Kafka and Zookeeper
	networkName := "test-kafka-network_" + fmt.Sprintf("%d", time.Now().Unix())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name:           networkName,
			CheckDuplicate: true,
		},
	})
	s.Require().NoError(err)
	s.network = network

	postgresUser := "testuser"
	postgresPassword := "testpass"
	postgresDB := "testdb"

	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     postgresUser,
				"POSTGRES_PASSWORD": postgresPassword,
				"POSTGRES_DB":       postgresDB,
			},
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"postgres"}},
			WaitingFor:     wait.ForListeningPort("5432/tcp"),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.postgresContainer = pgC

	pgHost, err := pgC.Host(ctx)
	s.Require().NoError(err)
	pgPort, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)
	s.postgresDSN = fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		pgHost, pgPort.Port(), postgresUser, postgresDB)
	s.postgresPassword = postgresPassword

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.redisContainer = redisC
	redisHost, err := redisC.Host(ctx)
	s.Require().NoError(err)
	redisPort, err := redisC.MappedPort(ctx, "6379")
	s.Require().NoError(err)
	s.redisAddr = net.JoinHostPort(redisHost, redisPort.Port())

	s.zookeeperContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "confluentinc/cp-zookeeper:7.5.0",
			ExposedPorts: []string{"2181/tcp"},
			Env: map[string]string{
				"ZOOKEEPER_CLIENT_PORT": "2181",
				"ZOOKEEPER_TICK_TIME":   "2000",
			},
			WaitingFor:     wait.ForListeningPort("2181/tcp"),
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"zookeeper"}},
		},
		Started: true,
	})
	s.Require().NoError(err)

	kafkaC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "confluentinc/cp-kafka:7.5.0",
			ExposedPorts: []string{"9092:9092/tcp", "29092:29092/tcp"},
			Env: map[string]string{
				"KAFKA_BROKER_ID":                        "1",
				"KAFKA_ZOOKEEPER_CONNECT":                "zookeeper:2181",
				"KAFKA_LISTENERS":                        "PLAINTEXT://0.0.0.0:9092,PLAINTEXT_HOST://0.0.0.0:29092,EXTERNAL://0.0.0.0:9093",
				"KAFKA_ADVERTISED_LISTENERS":             "PLAINTEXT://localhost:9092,PLAINTEXT_HOST://localhost:29092,EXTERNAL://kafka:9093",
				"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP":   "PLAINTEXT:PLAINTEXT,PLAINTEXT_HOST:PLAINTEXT,EXTERNAL:PLAINTEXT",
				"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR": "1",
				"ALLOW_PLAINTEXT_LISTENER":               "yes",
			},
			WaitingFor:     wait.ForLog("started (kafka.server.KafkaServer)"),
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"kafka"}},
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.kafkaContainer = kafkaC

	kafkaHost, err := kafkaC.Host(ctx)
	s.Require().NoError(err)
	kafkaPort, err := kafkaC.MappedPort(ctx, "9092")
	s.Require().NoError(err)
	s.kafkaAddr = fmt.Sprintf("%s:%s", kafkaHost, kafkaPort.Port())

	s.kafkaConn, err = kafka.Dial("tcp", s.kafkaAddr)
	s.Require().NoError(err)
	s.Require().NoError(s.createTopic(mirrorTopic, 3))

	s.dbConn = csql.OpenWithSchema(s.postgresDSN, s.postgresPassword, "integration")
	s.redisClient = redis.NewClient(&redis.Options{Addr: s.redisAddr})

	s.router = mux.NewRouter()
	s.Backend = backend.New(&backend.Builder{
		Router:      s.router,
		Tenants:     s.newTenants(),
		AdminTokens: []string{adminToken},
	})
	var mirrorCtx context.Context
	mirrorCtx, s.cancel = context.WithCancel(context.Background())
	go s.Bus().Mirror(mirrorCtx, notify.NewKafkaWriter([]string{s.kafkaAddr}, mirrorTopic), 1024)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	s.url = "http://" + listener.Addr().String()
	s.srv = &http.Server{Handler: s.router}
	go func() {
		err := s.srv.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			s.T().Errorf("Failed to start HTTP server: %v", err)
		}
	}()
	s.client = client.NewWithURL(s.url).WithToken(adminToken)
}

func (s *IntegrationTestSuite) TearDownSuite() {
	ctx := context.Background()
	if s.srv != nil {
		err := s.srv.Shutdown(ctx)
		s.Require().NoError(err)
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.Backend != nil {
		s.Bus().Close()
	}
	if s.redisClient != nil {
		s.redisClient.Close()
	}
	if s.dbConn != nil {
		s.dbConn.ClearSchema()
		s.dbConn.Close()
	}
	if s.kafkaConn != nil {
		s.kafkaConn.Close()
	}

	for _, c := range []testcontainers.Container{s.kafkaContainer, s.zookeeperContainer, s.redisContainer, s.postgresContainer} {
		if c != nil {
			s.Require().NoError(c.Terminate(ctx))
		}
	}
	if s.network != nil {
		s.Require().NoError(s.network.Remove(ctx))
	}
}
