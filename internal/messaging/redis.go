package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"network-service/internal/fsm"
	"network-service/internal/logger"

	"github.com/redis/go-redis/v9"
)

// Redis keys shared with the drivers, the web UI and the other services.
const (
	KeyConnect      = "network:connect"
	KeyDelete       = "network:delete"
	KeyScan         = "network:scan"
	KeyReboot       = "network:reboot"
	KeyRebootURL    = "network:reboot-url"
	KeyUpdateStatus = "network:update-status"

	ChannelWifi     = "wifi"
	ChannelEthernet = "ethernet"
	ChannelNetwork  = "network"

	HashNetwork     = "network"
	HashCredentials = "network:wifi"
	HashSettings    = "settings"
	HashWifi        = "wifi"
	HashEthernet    = "ethernet"

	StreamEvents = "events:network"
)

type Callbacks struct {
	ConnectCallback       func(string) error // JSON {"ssid": ..., "password": ...}
	DeleteCallback        func() error
	ScanCallback          func() error
	RebootCallback        func(string) error // "ota", "recovery", "restart"
	RebootURLCallback     func(string) error
	UpdateStatusCallback  func() error
	WifiEventCallback     func(string) error // driver event payload
	EthernetEventCallback func(string) error
}

type RedisClient struct {
	client    *redis.Client
	callbacks Callbacks
	logger    *logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewRedisClient(host string, port int, l *logger.Logger, callbacks Callbacks) *RedisClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisClient{
		client: redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%d", host, port),
			DB:   0,
		}),
		callbacks: callbacks,
		logger:    l,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetCallbacks replaces the command handlers. It must be called before
// StartListening.
func (r *RedisClient) SetCallbacks(callbacks Callbacks) {
	r.callbacks = callbacks
}

func (r *RedisClient) Connect() error {
	r.logger.Infof("Attempting to connect to Redis at %s", r.client.Options().Addr)

	if err := r.client.Ping(r.ctx).Err(); err != nil {
		r.logger.Infof("Redis connection failed: %v", err)
		return fmt.Errorf("Redis connection failed: %w", err)
	}
	r.logger.Infof("Successfully connected to Redis")
	return nil
}

// StartListening starts the driver event subscription and the command
// list listeners.
func (r *RedisClient) StartListening() error {
	r.logger.Infof("Starting Redis listeners")

	pubsub := r.client.Subscribe(r.ctx, ChannelWifi, ChannelEthernet)
	// wait for the subscription so no driver event published right after
	// startup is missed
	if _, err := pubsub.Receive(r.ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	r.logger.Infof("Subscribed to Redis channels: %s, %s", ChannelWifi, ChannelEthernet)

	r.wg.Add(1)
	go r.redisListener(pubsub)

	r.wg.Add(6)
	go r.listCommandListener(KeyConnect, r.handleConnectCommand)
	go r.listCommandListener(KeyDelete, r.handleDeleteCommand)
	go r.listCommandListener(KeyScan, r.handleScanCommand)
	go r.listCommandListener(KeyReboot, r.handleRebootCommand)
	go r.listCommandListener(KeyRebootURL, r.handleRebootURLCommand)
	go r.listCommandListener(KeyUpdateStatus, r.handleUpdateStatusCommand)

	return nil
}

func (r *RedisClient) listCommandListener(key string, handler func(string) error) {
	defer r.wg.Done()
	r.logger.Infof("Starting list command listener for %s", key)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Infof("Context cancelled, exiting %s listener", key)
			return
		default:
			// short timeout so cancellation is noticed
			result, err := r.client.BRPop(r.ctx, 5*time.Second, key).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if errors.Is(err, context.Canceled) || r.ctx.Err() != nil {
					r.logger.Infof("Context cancelled, exiting %s listener", key)
					return
				}
				r.logger.Warnf("Error reading from %s list: %v", key, err)
				time.Sleep(time.Second)
				continue
			}

			if len(result) >= 2 { // BRPOP returns [key, value]
				value := result[1]
				r.logger.Debugf("Received command from %s: %s", key, value)
				if err := handler(value); err != nil {
					r.logger.Warnf("Error handling %s command: %v", key, err)
				}
			}
		}
	}
}

func (r *RedisClient) handleConnectCommand(value string) error {
	if r.callbacks.ConnectCallback == nil {
		return nil
	}
	return r.callbacks.ConnectCallback(value)
}

func (r *RedisClient) handleDeleteCommand(string) error {
	if r.callbacks.DeleteCallback == nil {
		return nil
	}
	return r.callbacks.DeleteCallback()
}

func (r *RedisClient) handleScanCommand(string) error {
	if r.callbacks.ScanCallback == nil {
		return nil
	}
	return r.callbacks.ScanCallback()
}

func (r *RedisClient) handleRebootCommand(value string) error {
	if r.callbacks.RebootCallback == nil {
		return nil
	}
	switch value {
	case "ota", "recovery", "restart":
		return r.callbacks.RebootCallback(value)
	default:
		r.logger.Infof("Invalid reboot command value: %s", value)
		return fmt.Errorf("invalid reboot command: %s", value)
	}
}

func (r *RedisClient) handleRebootURLCommand(value string) error {
	if r.callbacks.RebootURLCallback == nil {
		return nil
	}
	if value == "" {
		return errors.New("empty firmware url")
	}
	return r.callbacks.RebootURLCallback(value)
}

func (r *RedisClient) handleUpdateStatusCommand(string) error {
	if r.callbacks.UpdateStatusCallback == nil {
		return nil
	}
	return r.callbacks.UpdateStatusCallback()
}

func (r *RedisClient) redisListener(pubsub *redis.PubSub) {
	defer r.wg.Done()
	defer pubsub.Close()

	r.logger.Infof("Starting Redis message listener")
	channel := pubsub.Channel()

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Infof("Context cancelled, exiting listener")
			return
		case msg, ok := <-channel:
			if !ok || msg == nil {
				if r.ctx.Err() != nil {
					return
				}
				r.logger.Fatalf("Redis connection lost, exiting to allow systemd restart")
				return
			}

			r.logger.Debugf("Received Redis message: channel=%s payload=%s", msg.Channel, msg.Payload)

			var handler func(string) error
			switch msg.Channel {
			case ChannelWifi:
				handler = r.callbacks.WifiEventCallback
			case ChannelEthernet:
				handler = r.callbacks.EthernetEventCallback
			}
			if handler == nil {
				continue
			}
			if err := handler(msg.Payload); err != nil {
				r.logger.Warnf("Failed to handle %s event %q: %v", msg.Channel, msg.Payload, err)
			}
		}
	}
}

// publishHashSet is a helper that atomically updates a hash field and publishes a notification
func (r *RedisClient) publishHashSet(hash, field string, value interface{}, channel, payload string) error {
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, hash, field, value)
	pipe.Publish(r.ctx, channel, payload)
	_, err := pipe.Exec(r.ctx)
	return err
}

// PublishStatus stores the status document and tells the UI about it.
func (r *RedisClient) PublishStatus(payload []byte) error {
	timestamp := time.Now().Format(time.RFC3339)

	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, HashNetwork, "status", string(payload))
	pipe.HSet(r.ctx, HashNetwork, "status:timestamp", timestamp)
	pipe.Publish(r.ctx, ChannelNetwork, "status")
	if _, err := pipe.Exec(r.ctx); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}
	return nil
}

// PublishState mirrors the current root and leaf for services that only
// care about the connectivity class.
func (r *RedisClient) PublishState(root, leaf fsm.StateID) error {
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, HashNetwork, "state", root.String())
	pipe.HSet(r.ctx, HashNetwork, "sub-state", leaf.String())
	pipe.Publish(r.ctx, ChannelNetwork, "state")
	if _, err := pipe.Exec(r.ctx); err != nil {
		r.logger.Warnf("Failed to publish network state: %v", err)
		return err
	}
	return nil
}

// PostMessage appends a user-visible message to the event stream.
func (r *RedisClient) PostMessage(level, text string) error {
	r.logger.Infof("Posting %s message: %s", level, text)

	pipe := r.client.Pipeline()
	pipe.XAdd(r.ctx, &redis.XAddArgs{
		Stream: StreamEvents,
		MaxLen: 1000,
		Values: map[string]interface{}{
			"level": level,
			"text":  text,
			"ts":    time.Now().Unix(),
		},
	})
	pipe.Publish(r.ctx, ChannelNetwork, "message")
	if _, err := pipe.Exec(r.ctx); err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}
	return nil
}

// LoadCredentials returns the stored station credentials. ok is false
// when none are stored.
func (r *RedisClient) LoadCredentials() (fsm.Credentials, bool, error) {
	values, err := r.client.HGetAll(r.ctx, HashCredentials).Result()
	if err != nil {
		return fsm.Credentials{}, false, fmt.Errorf("failed to load credentials: %w", err)
	}
	ssid := values["ssid"]
	if ssid == "" {
		return fsm.Credentials{}, false, nil
	}
	return fsm.Credentials{SSID: ssid, Password: values["password"]}, true, nil
}

func (r *RedisClient) SaveCredentials(creds fsm.Credentials) error {
	r.logger.Infof("Saving credentials for %s", creds.SSID)
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, HashCredentials, "ssid", creds.SSID, "password", creds.Password)
	pipe.Publish(r.ctx, ChannelNetwork, "credentials")
	if _, err := pipe.Exec(r.ctx); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

func (r *RedisClient) ClearCredentials() error {
	r.logger.Infof("Clearing stored credentials")
	pipe := r.client.Pipeline()
	pipe.Del(r.ctx, HashCredentials)
	pipe.Publish(r.ctx, ChannelNetwork, "credentials")
	if _, err := pipe.Exec(r.ctx); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

// GetSetting reads a field of the shared settings hash. A missing field
// yields an empty string.
func (r *RedisClient) GetSetting(key string) (string, error) {
	return r.GetHashField(HashSettings, key)
}

func (r *RedisClient) SetSetting(key, value string) error {
	r.logger.Debugf("Setting %s=%s", key, value)
	if err := r.publishHashSet(HashSettings, key, value, HashSettings, key); err != nil {
		return fmt.Errorf("failed to store setting %s: %w", key, err)
	}
	return nil
}

// SendCommand sends a command to a Redis list (for communication with other services)
func (r *RedisClient) SendCommand(list, command string) error {
	err := r.client.LPush(r.ctx, list, command).Err()
	if err != nil {
		r.logger.Infof("Failed to send command '%s' to '%s': %v", command, list, err)
		return err
	}
	r.logger.Infof("Sent command '%s' to '%s'", command, list)
	return nil
}

// SendJSONCommand sends "<verb> <json>" to a Redis list.
func (r *RedisClient) SendJSONCommand(list, verb string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s command: %w", verb, err)
	}
	if err := r.client.LPush(r.ctx, list, verb+" "+string(data)).Err(); err != nil {
		r.logger.Infof("Failed to send %s command to '%s': %v", verb, list, err)
		return err
	}
	r.logger.Infof("Sent %s command to '%s'", verb, list)
	return nil
}

// GetHashField reads a field from a Redis hash using HGET
func (r *RedisClient) GetHashField(hash, field string) (string, error) {
	value, err := r.client.HGet(r.ctx, hash, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get hash field %s from %s: %w", field, hash, err)
	}
	return value, nil
}

// GetHash reads a whole hash. A missing key yields an empty map.
func (r *RedisClient) GetHash(hash string) (map[string]string, error) {
	values, err := r.client.HGetAll(r.ctx, hash).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", hash, err)
	}
	return values, nil
}

func (r *RedisClient) GetList(key string) ([]string, error) {
	values, err := r.client.LRange(r.ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return values, nil
}

func (r *RedisClient) Close() error {
	r.logger.Infof("Closing Redis client")
	r.cancel()

	// Wait for all goroutines to finish with a timeout
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Infof("All Redis goroutines finished")
	case <-time.After(5 * time.Second):
		r.logger.Infof("Timeout waiting for Redis goroutines to finish")
	}

	return r.client.Close()
}
