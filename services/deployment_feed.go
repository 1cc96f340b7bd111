package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultFeedPrefix namespaces the Redis channels CI runners publish to.
// A runner publishes to <prefix><boardId>.
const DefaultFeedPrefix = "kanban:deployment:"

// FeedMessage is what CI runners publish on a deployment channel
type FeedMessage struct {
	Kind string `json:"kind"` // "log" or "status"

	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
	Context string `json:"context,omitempty"`

	State    string `json:"state,omitempty"`
	Pipeline string `json:"pipeline,omitempty"`
	Version  string `json:"version,omitempty"`

	Timestamp int64 `json:"timestamp,omitempty"`
}

// DeploymentFeed relays deployment events published on Redis into the
// deployment rooms of this process.
type DeploymentFeed struct {
	rdb    *redis.Client
	relay  *DeploymentRelay
	prefix string
	log    *slog.Logger
	ready  chan struct{}
}

// NewDeploymentFeed connects to redisURL and checks it is reachable
func NewDeploymentFeed(redisURL string, relay *DeploymentRelay, log *slog.Logger) (*DeploymentFeed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewDeploymentFeedWithClient(client, relay, log), nil
}

// NewDeploymentFeedWithClient creates a feed from an existing Redis client
func NewDeploymentFeedWithClient(client *redis.Client, relay *DeploymentRelay, log *slog.Logger) *DeploymentFeed {
	if log == nil {
		log = slog.Default()
	}
	return &DeploymentFeed{
		rdb:    client,
		relay:  relay,
		prefix: DefaultFeedPrefix,
		log:    log,
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the feed's subscription is active
func (f *DeploymentFeed) Ready() <-chan struct{} {
	return f.ready
}

func (f *DeploymentFeed) Close() error {
	return f.rdb.Close()
}

// Publish sends msg to the channel of boardID. CI tooling and tests use it.
func (f *DeploymentFeed) Publish(ctx context.Context, boardID string, msg FeedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal feed message: %w", err)
	}
	if err := f.rdb.Publish(ctx, f.prefix+boardID, data).Err(); err != nil {
		return fmt.Errorf("failed to publish feed message: %w", err)
	}
	return nil
}

// Run subscribes to every deployment channel and relays messages until ctx
// is cancelled.
func (f *DeploymentFeed) Run(ctx context.Context) error {
	pubsub := f.rdb.PSubscribe(ctx, f.prefix+"*")
	defer pubsub.Close()

	// Wait for the subscription confirmation so Ready means "no message
	// published from now on is missed".
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to deployment feed: %w", err)
	}
	close(f.ready)
	f.log.Info("deployment feed subscribed", "pattern", f.prefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			f.handle(msg.Channel, msg.Payload)
		}
	}
}

func (f *DeploymentFeed) handle(channel, payload string) {
	boardID := strings.TrimPrefix(channel, f.prefix)
	if boardID == "" || boardID == channel {
		return
	}

	var m FeedMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		f.log.Warn("dropping malformed deployment event", "channel", channel, "err", err)
		return
	}

	var err error
	switch m.Kind {
	case "log":
		_, err = f.relay.PublishLog(boardID, DeploymentLog{
			Level:     m.Level,
			Message:   m.Message,
			Context:   m.Context,
			Timestamp: m.Timestamp,
		})
	case "status":
		_, err = f.relay.PublishStatus(boardID, DeploymentStatus{
			State:     m.State,
			Pipeline:  m.Pipeline,
			Version:   m.Version,
			Timestamp: m.Timestamp,
		})
	default:
		err = fmt.Errorf("unknown kind %q", m.Kind)
	}
	if err != nil {
		f.log.Warn("dropping deployment event", "board", boardID, "err", err)
	}
}
