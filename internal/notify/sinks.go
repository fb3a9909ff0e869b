/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package notify

import (
	"context"
	"encoding/json"

	"github.com/Shopify/sarama"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// LogSink writes events to a logger.
type LogSink struct {
	Logger *flogging.FabricLogger
}

func (l *LogSink) Name() string { return "log" }

func (l *LogSink) Deliver(_ context.Context, evt Event) error {
	l.Logger.Infow("approval request event",
		"type", string(evt.Type),
		"tx_id", evt.TxID,
		"channel", evt.Channel,
		"msp_id", evt.MSPID,
		"status", evt.Status,
	)
	return nil
}

// KafkaSink publishes events as JSON to a Kafka topic keyed by tx id.
type KafkaSink struct {
	Producer sarama.SyncProducer
	Topic    string
}

// NewKafkaSink connects a synchronous producer to brokers.
func NewKafkaSink(brokers []string, topic string, version sarama.KafkaVersion) (*KafkaSink, error) {
	config := sarama.NewConfig()
	config.Version = version
	config.ClientID = "fabric-console"
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kafka producer")
	}
	return &KafkaSink{Producer: producer, Topic: topic}, nil
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Deliver(_ context.Context, evt Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, _, err = k.Producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.Topic,
		Key:   sarama.StringEncoder(evt.TxID),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

func (k *KafkaSink) Close() error {
	return k.Producer.Close()
}

// streamAdder is the part of a redis client RedisSink needs.
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisSink appends events to a redis stream.
type RedisSink struct {
	Client streamAdder
	Stream string
	MaxLen int64
}

// NewRedisSink connects to the redis server at url.
func NewRedisSink(url, stream string, maxLen int64) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis url")
	}
	return &RedisSink{Client: redis.NewClient(opts), Stream: stream, MaxLen: maxLen}, nil
}

func (r *RedisSink) Name() string { return "redis" }

func (r *RedisSink) Deliver(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: r.Stream,
		Values: map[string]interface{}{"type": string(evt.Type), "tx_id": evt.TxID, "data": string(data)},
	}
	if r.MaxLen > 0 {
		args.MaxLen = r.MaxLen
		args.Approx = true
	}
	return r.Client.XAdd(ctx, args).Err()
}

func (r *RedisSink) Close() error {
	if c, ok := r.Client.(*redis.Client); ok {
		return c.Close()
	}
	return nil
}
