package scanmatch

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// SeedHandler is called when an operator publishes an initial-pose override
// for a robot
type SeedHandler func(robot string, seed Pose)

// MQTTClient manages the MQTT connection and scan subscriptions for all
// configured robots
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	scanHandler ScanHandler
	seedHandler SeedHandler
	isConnected bool
	mu          sync.RWMutex
}

// ScanHandler is called when a laser scan message is received
// Parameters: robotID, rawPayload, frame, error
// rawPayload is provided so callers can archive frames that fail to parse
type ScanHandler func(robotID string, rawPayload []byte, frame *ScanFrame, err error)

var (
	globalClient *MQTTClient
	clientMu     sync.Mutex
)

// InitMQTT initializes the global MQTT client with the provided configuration
// If MQTT_BROKER env var is empty, MQTT is disabled and this returns nil
func InitMQTT(config *Config, handler ScanHandler) (*MQTTClient, error) {
	clientMu.Lock()
	defer clientMu.Unlock()

	// Check if MQTT is enabled via env var or config
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Robots) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no robot configuration provided")
	}

	client := &MQTTClient{
		config:      config,
		scanHandler: handler,
	}

	// Build MQTT client options
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	// Client ID
	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" {
		clientID = config.MQTT.GetClientID()
	}
	opts.SetClientID(clientID)

	// Authentication
	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	// Connection settings
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)   // Longer than default 30s to reduce spurious disconnects
	opts.SetPingTimeout(10 * time.Second) // Timeout for ping response
	opts.SetCleanSession(false)           // Preserve subscriptions on reconnect
	opts.SetOrderMatters(false)           // Allow concurrent processing

	// Callbacks
	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	// Connect asynchronously with retry
	go client.connectWithRetry()

	globalClient = client
	return client, nil
}

// GetMQTTClient returns the global MQTT client instance
func GetMQTTClient() *MQTTClient {
	clientMu.Lock()
	defer clientMu.Unlock()
	return globalClient
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		// Exponential backoff
		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect is called when the MQTT connection is established
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("MQTT connected, subscribing to robot topics...")
	c.setConnected(true)

	qos := byte(c.config.MQTT.GetQoS())

	// Subscribe to all robot scan topics from config
	for _, robot := range c.config.Robots {
		if robot.ScanTopic == "" {
			log.Printf("Warning: robot %s has no scan topic configured", robot.ID)
			continue
		}

		log.Printf("Subscribing to %s for robot %s", robot.ScanTopic, robot.ID)
		token := client.Subscribe(robot.ScanTopic, qos, c.createScanHandler(robot.ID))

		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("Error subscribing to %s: %v", robot.ScanTopic, token.Error())
		} else {
			log.Printf("Successfully subscribed to %s", robot.ScanTopic)
		}

		// Subscribe to the seed topic for initial-pose overrides
		if seedTopic, ok := deriveSeedTopic(robot.ScanTopic); ok {
			log.Printf("Subscribing to %s for robot %s pose seeds", seedTopic, robot.ID)
			seedToken := client.Subscribe(seedTopic, qos, c.createSeedMessageHandler(robot.ID))

			if seedToken.WaitTimeout(5*time.Second) && seedToken.Error() != nil {
				log.Printf("Error subscribing to %s: %v", seedTopic, seedToken.Error())
			} else {
				log.Printf("Successfully subscribed to %s", seedTopic)
			}
		}
	}
}

// onConnectionLost is called when the MQTT connection is lost
// Auto-reconnect is enabled, so this is typically a transient event
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

// onReconnecting is called when the client attempts to reconnect
func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

// createScanHandler creates a handler function for a specific robot's scan topic
func (c *MQTTClient) createScanHandler(robotID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("Received scan for %s (topic: %s, size: %d bytes)",
			robotID, msg.Topic(), len(payload))

		frame, err := ParseScanJSON(payload)
		if err != nil {
			log.Printf("Error parsing scan for %s: %v", robotID, err)
			if c.scanHandler != nil {
				// Pass raw payload so the caller can archive bad frames
				c.scanHandler(robotID, payload, nil, err)
			}
			return
		}

		// Call the user's scan handler with raw payload and parsed frame
		if c.scanHandler != nil {
			c.scanHandler(robotID, payload, frame, nil)
		}
	}
}

// SetSeedHandler registers a callback that is invoked when an initial-pose
// override arrives for a robot
func (c *MQTTClient) SetSeedHandler(handler SeedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seedHandler = handler
}

// getSeedHandler returns the current seed handler in a thread-safe manner
func (c *MQTTClient) getSeedHandler() SeedHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seedHandler
}

// deriveSeedTopic converts a scan topic to an initial-pose override topic.
// Example: "robots/r2/scan" -> "robots/r2/initialpose"
// Returns the derived topic and true if the conversion succeeded, or empty
// string and false otherwise.
func deriveSeedTopic(scanTopic string) (string, bool) {
	// Expected format: {prefix...}/{name}/scan
	parts := strings.Split(scanTopic, "/")
	if len(parts) < 2 {
		return "", false
	}
	// Replace the last segment with initialpose
	parts[len(parts)-1] = "initialpose"
	return strings.Join(parts, "/"), true
}

// seedPayload represents the JSON structure of an initial-pose override
type seedPayload struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// createSeedMessageHandler creates a handler for initial-pose override
// messages that parses the payload and invokes the seed handler
func (c *MQTTClient) createSeedMessageHandler(robotID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("Received pose seed for %s (topic: %s, size: %d bytes)",
			robotID, msg.Topic(), len(payload))

		var seed Pose

		// Try parsing as JSON object {"x": ..., "y": ..., "theta": ...}
		var obj seedPayload
		if err := json.Unmarshal(payload, &obj); err == nil {
			seed = Pose{X: obj.X, Y: obj.Y, Theta: obj.Theta}
		} else {
			// Try parsing as a plain "x,y,theta" string
			text := strings.TrimSpace(string(payload))
			if text == "" {
				log.Printf("Empty pose seed payload for %s, skipping", robotID)
				return
			}
			parsed, err2 := ParsePose(text)
			if err2 != nil {
				log.Printf("Unparseable pose seed for %s: %v", robotID, err2)
				return
			}
			log.Printf("Pose seed for %s is plain text (not JSON): %s", robotID, text)
			seed = parsed
		}

		log.Printf("Robot %s pose seed: (%.3f, %.3f, %.3f)", robotID, seed.X, seed.Y, seed.Theta)

		handler := c.getSeedHandler()
		if handler != nil {
			handler(robotID, seed)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// setConnected updates the connection status
func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		c.client.Disconnect(250) // 250ms quiesce time
		c.setConnected(false)
	}
}

// GetRobotByTopic returns the robot ID for a given scan topic
func (c *MQTTClient) GetRobotByTopic(topic string) (string, bool) {
	for _, robot := range c.config.Robots {
		if robot.ScanTopic == topic {
			return robot.ID, true
		}
	}
	return "", false
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient with a provided mqtt.Client
// This is used for testing with mock clients
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler ScanHandler) *MQTTClient {
	return &MQTTClient{
		client:      client,
		config:      config,
		scanHandler: handler,
	}
}
