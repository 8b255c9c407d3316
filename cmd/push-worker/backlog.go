package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/austindbirch/harbor_agent/internal/logging"
	"github.com/austindbirch/harbor_agent/internal/metrics"
)

// nsqdStats is the part of nsqd's /stats?format=json we read
type nsqdStats struct {
	Topics []struct {
		Name     string `json:"topic_name"`
		Channels []struct {
			Name  string `json:"channel_name"`
			Depth int64  `json:"depth"`
		} `json:"channels"`
	} `json:"topics"`
}

// backlogMonitor polls nsqd and publishes the depth of every channel on the
// push and dead-letter topics.
type backlogMonitor struct {
	statsURL string
	topics   map[string]bool
	client   *http.Client
}

// nsqdHTTPAddr derives nsqd's HTTP address from its TCP address
func nsqdHTTPAddr(tcpAddr string) string {
	return strings.Replace(tcpAddr, ":4150", ":4151", 1)
}

func newBacklogMonitor(nsqdTCPAddr string, topics ...string) *backlogMonitor {
	b := &backlogMonitor{
		statsURL: fmt.Sprintf("http://%s/stats?format=json", nsqdHTTPAddr(nsqdTCPAddr)),
		topics:   make(map[string]bool, len(topics)),
		client:   &http.Client{Timeout: 5 * time.Second},
	}
	for _, t := range topics {
		b.topics[t] = true
	}
	return b
}

// poll reads nsqd stats once and updates the queue depth gauge
func (b *backlogMonitor) poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.statsURL, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("get nsq stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get nsq stats: status %d", resp.StatusCode)
	}

	var stats nsqdStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("decode nsq stats: %w", err)
	}
	for _, topic := range stats.Topics {
		if !b.topics[topic.Name] {
			continue
		}
		for _, ch := range topic.Channels {
			metrics.UpdatePushQueueDepth(topic.Name, ch.Name, float64(ch.Depth))
		}
	}
	return nil
}

// run polls every interval until ctx is done
func (b *backlogMonitor) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.poll(ctx); err != nil {
				logging.Plain().WithError(err).Warn("nsq backlog poll failed")
			}
		}
	}
}
