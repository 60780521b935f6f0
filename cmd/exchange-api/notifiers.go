package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/archon-research/stl-exchange/internal/adapters/inbound/websocket"
	"github.com/archon-research/stl-exchange/internal/adapters/outbound/fanout"
	"github.com/archon-research/stl-exchange/internal/adapters/outbound/redis"
	snsadapter "github.com/archon-research/stl-exchange/internal/adapters/outbound/sns"
	"github.com/archon-research/stl-exchange/internal/ports/outbound"
)

type notifierConfig struct {
	RedisAddr     string
	RedisPassword string
	TopicARN      string
	AWSRegion     string
	SNSEndpoint   string
}

// buildNotifier assembles the post-commit trade fan-out.
//
// With Redis configured, events go to the users' Redis channels and every
// replica relays its channel messages to its own websocket clients, so a
// trade reaches a user whichever replica holds the connection. Without Redis
// the local hub is published to directly. SNS is added when a topic is set.
func buildNotifier(ctx context.Context, cfg notifierConfig, hub *websocket.Hub, logger *slog.Logger) (outbound.TradeNotifier, error) {
	var targets []fanout.Target

	if cfg.RedisAddr != "" {
		redisCfg := redis.ConfigDefaults()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword

		redisNotifier, err := redis.NewNotifier(redisCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis notifier: %w", err)
		}
		if err := redisNotifier.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("Redis connected", "addr", cfg.RedisAddr)

		subscriber, err := redis.NewSubscriber(redisNotifier.Client(), redisCfg.ChannelPrefix, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis subscriber: %w", err)
		}
		go func() {
			if err := subscriber.Run(ctx, hub.Deliver); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redis subscriber stopped", "error", err)
			}
		}()

		targets = append(targets, fanout.Target{Name: "redis", Notifier: redisNotifier})
	} else {
		targets = append(targets, fanout.Target{Name: "websocket", Notifier: hub})
	}

	if cfg.TopicARN != "" {
		client, err := newSNSClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		snsCfg := snsadapter.ConfigDefaults()
		snsCfg.TopicARN = cfg.TopicARN
		snsCfg.Logger = logger

		snsNotifier, err := snsadapter.NewNotifier(client, snsCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create sns notifier: %w", err)
		}
		targets = append(targets, fanout.Target{Name: "sns", Notifier: snsNotifier})
		logger.Info("SNS trade events enabled", "topic", cfg.TopicARN)
	}

	return fanout.New(targets...), nil
}

func newSNSClient(ctx context.Context, cfg notifierConfig) (*sns.Client, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.SNSEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.SNSEndpoint)
		}
	}), nil
}

func loadAWSConfig(ctx context.Context, cfg notifierConfig) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if cfg.SNSEndpoint != "" {
		// LocalStack accepts any static credentials.
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}
