package scanmatch

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher manages publishing corrected robot poses to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	poses         map[string]*RobotPose
	mu            sync.RWMutex
}

// NewPublisher creates a new pose publisher
// If client is nil, publishing is disabled (for testing)
func NewPublisher(client mqtt.Client) *Publisher {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" {
		prefix = "carto"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // QoS 0 for pose updates (fire and forget)
		retain:        true, // Retain for latest pose
		poses:         make(map[string]*RobotPose),
	}
}

// PublishPose publishes a single robot's corrected pose to MQTT
// Publishes to both individual topic and combined poses topic
func (p *Publisher) PublishPose(robotID string, pose Pose, score float64, stamp int64) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	if stamp == 0 {
		stamp = time.Now().Unix()
	}
	msg := &RobotPose{
		Robot: robotID,
		X:     pose.X,
		Y:     pose.Y,
		Theta: pose.Theta,
		Score: score,
		Stamp: stamp,
	}

	// Store pose for combined message
	p.mu.Lock()
	p.poses[robotID] = msg
	p.mu.Unlock()

	// Publish to individual topic: carto/{robotID}/pose
	if err := p.publishIndividual(msg); err != nil {
		log.Printf("Error publishing individual pose for %s: %v", robotID, err)
		return err
	}

	// Publish to combined topic: carto/poses
	if err := p.publishCombined(); err != nil {
		log.Printf("Error publishing combined poses: %v", err)
		return err
	}

	return nil
}

// publishIndividual publishes a single robot pose to its individual topic
func (p *Publisher) publishIndividual(pose *RobotPose) error {
	topic := fmt.Sprintf("%s/%s/pose", p.publishPrefix, pose.Robot)

	payload, err := json.Marshal(pose)
	if err != nil {
		return fmt.Errorf("marshaling pose: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	log.Printf("Published pose for %s: (%.3f, %.3f) theta=%.3f score=%.3f",
		pose.Robot, pose.X, pose.Y, pose.Theta, pose.Score)
	return nil
}

// publishCombined publishes all robot poses to the combined topic
func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	poses := make([]*RobotPose, 0, len(p.poses))
	for _, pose := range p.poses {
		poses = append(poses, pose)
	}
	p.mu.RUnlock()

	if len(poses) == 0 {
		return nil
	}

	topic := fmt.Sprintf("%s/poses", p.publishPrefix)

	// Create combined message
	message := map[string]interface{}{
		"robots":    poses,
		"timestamp": time.Now().Unix(),
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling combined poses: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	return nil
}

// GetPose returns the last published pose for a robot
func (p *Publisher) GetPose(robotID string) (*RobotPose, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pose, ok := p.poses[robotID]
	return pose, ok
}

// GetAllPoses returns all published robot poses
func (p *Publisher) GetAllPoses() map[string]*RobotPose {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// Return a copy to avoid race conditions
	poses := make(map[string]*RobotPose, len(p.poses))
	for id, pose := range p.poses {
		poseCopy := *pose
		poses[id] = &poseCopy
	}
	return poses
}

// ClearPose removes a robot's pose (e.g., when offline)
func (p *Publisher) ClearPose(robotID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.poses, robotID)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}

// SetPrefix overrides the topic prefix (normally from MQTT_PUBLISH_PREFIX
// or the config file)
func (p *Publisher) SetPrefix(prefix string) {
	if prefix != "" {
		p.publishPrefix = prefix
	}
}
