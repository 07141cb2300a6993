// Package admin provisions the task topic before producers and workers start.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
)

// ErrProvision wraps every non-recoverable provisioning failure.
var ErrProvision = errspkg.ErrProvision

// ClusterAdmin is the subset of sarama.ClusterAdmin the provisioner needs.
type ClusterAdmin interface {
	ListTopics() (map[string]sarama.TopicDetail, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
	Close() error
}

// ClusterAdminFactory is swapped in tests.
var ClusterAdminFactory = func(brokers []string, conf *sarama.Config) (ClusterAdmin, error) {
	return sarama.NewClusterAdmin(brokers, conf)
}

// TopicSpec describes the topic to ensure.
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
}

func (s TopicSpec) withDefaults() TopicSpec {
	if s.Partitions <= 0 {
		s.Partitions = 1
	}
	if s.ReplicationFactor <= 0 {
		s.ReplicationFactor = 1
	}
	return s
}

// Result reports what EnsureTopic did.
type Result struct {
	Topic string
	// Created is false when the topic already existed, including when another
	// process created it between our check and our create call.
	Created    bool
	Partitions int32
}

// Config configures a Provisioner.
type Config struct {
	Brokers  []string
	ClientID string
	Timeout  time.Duration
}

// Provisioner ensures topics exist.
type Provisioner struct {
	conf   Config
	logger loggingpkg.ServiceLogger
}

// NewProvisioner validates conf and returns a Provisioner.
func NewProvisioner(conf Config, logger loggingpkg.ServiceLogger) (*Provisioner, error) {
	if len(conf.Brokers) == 0 {
		return nil, fmt.Errorf("%w: brokers are required", ErrProvision)
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 10 * time.Second
	}
	return &Provisioner{conf: conf, logger: logger}, nil
}

func (p *Provisioner) saramaConfig() *sarama.Config {
	sc := sarama.NewConfig()
	if p.conf.ClientID != "" {
		sc.ClientID = p.conf.ClientID
	}
	sc.Admin.Timeout = p.conf.Timeout
	sc.Net.DialTimeout = p.conf.Timeout
	return sc
}

// EnsureTopic creates spec.Name unless it already exists. It is idempotent.
func (p *Provisioner) EnsureTopic(ctx context.Context, spec TopicSpec) (Result, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return Result{}, fmt.Errorf("%w: %w", ErrProvision, errspkg.ErrTopicRequired)
	}
	spec = spec.withDefaults()
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrProvision, err)
	}

	ca, err := ClusterAdminFactory(p.conf.Brokers, p.saramaConfig())
	if err != nil {
		return Result{}, fmt.Errorf("%w: connect: %w", ErrProvision, err)
	}
	defer func() {
		if cerr := ca.Close(); cerr != nil {
			p.logger.Error("Failed to close cluster admin", cerr, nil)
		}
	}()

	log := p.logger.With(loggingpkg.LogFields{"topic": spec.Name})

	topics, err := ca.ListTopics()
	if err != nil {
		return Result{}, fmt.Errorf("%w: list topics: %w", ErrProvision, err)
	}
	if detail, ok := topics[spec.Name]; ok {
		log.Info("Topic already exists", loggingpkg.LogFields{"partitions": detail.NumPartitions})
		return Result{Topic: spec.Name, Partitions: detail.NumPartitions}, nil
	}

	log.Info("Topic not found, creating", loggingpkg.LogFields{
		"partitions":         spec.Partitions,
		"replication_factor": spec.ReplicationFactor,
	})
	err = ca.CreateTopic(spec.Name, &sarama.TopicDetail{
		NumPartitions:     spec.Partitions,
		ReplicationFactor: spec.ReplicationFactor,
	}, false)
	switch {
	case err == nil:
		log.Info("Created topic", nil)
		return Result{Topic: spec.Name, Created: true, Partitions: spec.Partitions}, nil
	case isTopicExists(err):
		log.Warn("Topic already exists", nil)
		return Result{Topic: spec.Name, Partitions: spec.Partitions}, nil
	default:
		return Result{}, fmt.Errorf("%w: create topic %q: %w", ErrProvision, spec.Name, err)
	}
}

func isTopicExists(err error) bool {
	var topicErr *sarama.TopicError
	if errors.As(err, &topicErr) && topicErr.Err == sarama.ErrTopicAlreadyExists {
		return true
	}
	return errors.Is(err, sarama.ErrTopicAlreadyExists)
}
