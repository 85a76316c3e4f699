package test

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/dummyapi/core/backend"
	"github.com/relabs-tech/dummyapi/core/client"
	"github.com/relabs-tech/dummyapi/core/notify"
	"github.com/relabs-tech/dummyapi/core/tenant"
)

type document = map[string]interface{}

func TestIntegrationSuite(t *testing.T) {
	runIntegration(t, &IntegrationTestSuite{})
}

func (s *IntegrationTestSuite) createApplication(name string) tenant.Application {
	var app tenant.Application
	status, err := s.client.RawPost("/api/1/app", map[string]string{"name": name}, &app)
	s.Require().NoError(err)
	s.Require().Equal(http.StatusCreated, status)
	_, err = s.client.RawPost("/api/1/app/"+strconv.FormatInt(app.ID, 10)+"/object_type/",
		map[string]string{"name": "Users"}, nil)
	s.Require().NoError(err)
	return app
}

func (s *IntegrationTestSuite) TestPersistentResources() {
	app := s.createApplication("persistent")
	users := s.client.WithToken("").WithAccessToken(app.AccessToken).Resource("Users")

	var created document
	_, err := users.Create(document{"name": "joe"}, &created)
	s.Require().NoError(err)
	id, _ := created["_id"].(string)
	s.Require().NotEmpty(id)

	// a second instance of the service on the same database sees the resource
	router := mux.NewRouter()
	backend.New(&backend.Builder{Router: router, Tenants: s.newTenants()})
	var read document
	_, err = client.NewWithRouter(router).WithAccessToken(app.AccessToken).Resource("Users").Item(id).Read(&read)
	s.Require().NoError(err)
	s.Equal(created, read)

	_, err = users.Item(id).Delete()
	s.Require().NoError(err)
	status, err := users.Item(id).Read(nil)
	s.Error(err)
	s.Equal(http.StatusNotFound, status)
}

func (s *IntegrationTestSuite) TestTokenRotationAcrossInstances() {
	ctx := context.Background()
	app := s.createApplication("rotation")

	other := s.newTenants()
	tenantID, err := other.ResolveTenant(ctx, app.AccessToken)
	s.Require().NoError(err)
	s.Equal(app.ID, tenantID)

	token, err := s.Tenants().RotateToken(ctx, app.ID)
	s.Require().NoError(err)

	_, err = other.ResolveTenant(ctx, app.AccessToken)
	s.Error(err, "the old token is gone from the shared cache")
	tenantID, err = other.ResolveTenant(ctx, token)
	s.Require().NoError(err)
	s.Equal(app.ID, tenantID)
}

func (s *IntegrationTestSuite) TestKafkaMirror() {
	app := s.createApplication("mirror")
	users := s.client.WithToken("").WithAccessToken(app.AccessToken).Resource("Users")

	var created document
	_, err := users.Create(document{"name": "joe"}, &created)
	s.Require().NoError(err)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{s.kafkaAddr},
		Topic:       mirrorTopic,
		GroupID:     "integration-" + strconv.FormatInt(time.Now().UnixNano(), 10),
		StartOffset: kafka.FirstOffset,
		MaxWait:     500 * time.Millisecond,
	})
	defer reader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	key := strconv.FormatInt(app.ID, 10)
	for {
		msg, err := reader.ReadMessage(ctx)
		s.Require().NoError(err, "no mirrored event for application %d", app.ID)
		if string(msg.Key) != key {
			continue
		}
		var delivery struct {
			TenantID int64 `json:"tenant_id"`
			Event    struct {
				Name string   `json:"name"`
				Data document `json:"data"`
			} `json:"event"`
		}
		s.Require().NoError(json.Unmarshal(msg.Value, &delivery))
		s.Equal(app.ID, delivery.TenantID)
		s.Equal("resource_created", delivery.Event.Name)
		s.Equal(created["_id"], delivery.Event.Data["_id"])
		return
	}
}

func TestKafkaWriterConfiguration(t *testing.T) {
	writer := notify.NewKafkaWriter([]string{"a:9092", "b:9092"}, "events")
	require.NotNil(t, writer)
	assert.Equal(t, "events", writer.Topic)
	assert.Equal(t, "tcp", writer.Addr.Network())
	assert.IsType(t, &kafka.Hash{}, writer.Balancer)
}
