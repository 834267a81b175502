package skytile

import (
	"encoding/json"
	"regexp"
	"strconv"
	"time"

	"github.com/Shopify/sarama"
)

var (
	// producer for activity logging; nil when kafka is unconfigured.
	kafkaProducer sarama.AsyncProducer

	// the kafka topic for build activity logging
	kafkaActivityTopicName string
)

// KafkaMaxMessageSize is the max message size in bytes for a Kafka message.
const KafkaMaxMessageSize = 980 * 1024

// KafkaConfig describes the kafka servers used for optional build activity
// logging.  All publishing is a nil-safe no-op when no servers are given.
type KafkaConfig struct {
	TopicActivity string // if supplied, overrides the topic for the activity log
	Servers       []string
	BufferSize    int `toml:"buffer_size"`
}

// KafkaActivityTopic returns the topic name used for logging build activity.
func KafkaActivityTopic() string {
	return kafkaActivityTopicName
}

// Initialize sets up the async producer and the activity topic.  The hostID
// personalizes the default topic name per building host.
func (kc KafkaConfig) Initialize(hostID string) error {
	if len(kc.Servers) == 0 {
		return nil
	}
	if kc.TopicActivity != "" {
		kafkaActivityTopicName = kc.TopicActivity
	} else {
		kafkaActivityTopicName = "skytile-activity-" + hostID
	}
	reg, err := regexp.Compile(`[^a-zA-Z0-9\\._\\-]+`)
	if err != nil {
		return err
	}
	kafkaActivityTopicName = reg.ReplaceAllString(kafkaActivityTopicName, "-")

	config := sarama.NewConfig()
	config.Producer.MaxMessageBytes = KafkaMaxMessageSize
	if kc.BufferSize > 0 {
		config.ChannelBufferSize = kc.BufferSize
	}
	if kafkaProducer, err = sarama.NewAsyncProducer(kc.Servers, config); err != nil {
		return err
	}

	go func() {
		for err := range kafkaProducer.Errors() {
			Errorf("error on kafka send: %v\n", err)
		}
	}()
	Infof("Kafka topic for build activity: %s\n", kafkaActivityTopicName)
	return nil
}

// KafkaShutdown makes sure that the kafka queue is flushed before stopping.
func KafkaShutdown() {
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			Errorf("Kafka producer had error on close: %v\n", err)
		} else {
			Infof("Successfully shut down kafka producer.\n")
		}
		kafkaProducer = nil
	}
}

// LogActivity publishes build activity, e.g., a written tile or a completed
// phase.  Publishing never blocks the caller and failures only log.
func LogActivity(activity map[string]interface{}) {
	if kafkaProducer != nil {
		go func() {
			jsonmsg, err := json.Marshal(activity)
			if err != nil {
				Errorf("unable to marshal activity for kafka logging: %v\n", err)
				return
			}
			if err := KafkaProduceMsg(jsonmsg, kafkaActivityTopicName); err != nil {
				Errorf("unable to publish activity: %v\n", err)
			}
		}()
	}
}

// KafkaProduceMsg sends a message to kafka.
func KafkaProduceMsg(value []byte, topicName string) (err error) {
	if kafkaProducer == nil {
		return nil
	}
	timeKey := sarama.StringEncoder(strconv.FormatInt(time.Now().UnixNano(), 10))
	msg := &sarama.ProducerMessage{Topic: topicName, Value: sarama.ByteEncoder(value), Key: timeKey}
	kafkaProducer.Input() <- msg
	return nil
}
