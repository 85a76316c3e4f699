// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package notify

import (
	"context"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/dummyapi/core/logger"
)

// KafkaWriter is the part of kafka.Writer the mirror needs
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer to topic. Messages of one tenant go to the same partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

// Mirror publishes every delivered event to Kafka until ctx is done. The
// message key is the tenant id, the value the JSON encoded Delivery. Events
// which do not fit into the buffer are dropped.
func (b *Bus) Mirror(ctx context.Context, writer KafkaWriter, buffer int) {
	rlog := logger.FromContext(ctx)
	deliveries, cancel := b.Subscribe(buffer)
	defer cancel()
	defer writer.Close()
	rlog.Infoln("kafka mirror started")
	for {
		select {
		case <-ctx.Done():
			rlog.Infoln("kafka mirror stopped")
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			value, err := json.Marshal(d)
			if err != nil {
				rlog.WithError(err).Errorln("cannot marshal delivery")
				continue
			}
			err = writer.WriteMessages(ctx, kafka.Message{
				Key:   []byte(strconv.FormatInt(d.TenantID, 10)),
				Value: value,
			})
			if err != nil {
				rlog.WithError(err).Errorln("cannot mirror event to kafka")
			}
		}
	}
}
