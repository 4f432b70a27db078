package httpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StreamClient handles Server-Sent Events streaming
type StreamClient struct {
	client        *Client
	notifications chan Notification
	errors        chan error
	done          chan struct{}
	cancel        context.CancelFunc
}

// StreamConfig configures the streaming client. Empty filters match
// everything; set filters are ANDed by the daemon.
type StreamConfig struct {
	// Kinds filters by notification kind; "*" matches one segment
	// (e.g. "transfer.*").
	Kinds       []string
	JobIDs      []string
	TransferIDs []string

	// BufferSize for the notification channel
	BufferSize int

	// ReconnectDelay for automatic reconnection
	ReconnectDelay time.Duration

	// MaxReconnectAttempts (0 = infinite)
	MaxReconnectAttempts int
}

// SetDefaults sets reasonable default values for StreamConfig
func (sc *StreamConfig) SetDefaults() {
	if sc.BufferSize == 0 {
		sc.BufferSize = 100
	}
	if sc.ReconnectDelay == 0 {
		sc.ReconnectDelay = 2 * time.Second
	}
}

// Stream opens the daemon's push stream and reconnects when it drops.
// Notifications published while disconnected are not replayed.
func (c *Client) Stream(ctx context.Context, config StreamConfig) (*StreamClient, error) {
	config.SetDefaults()

	streamCtx, cancel := context.WithCancel(ctx)
	streamClient := &StreamClient{
		client:        c,
		notifications: make(chan Notification, config.BufferSize),
		errors:        make(chan error, 10),
		done:          make(chan struct{}),
		cancel:        cancel,
	}

	go streamClient.startStreaming(streamCtx, config)

	return streamClient, nil
}

// Notifications returns the channel for receiving notifications
func (sc *StreamClient) Notifications() <-chan Notification {
	return sc.notifications
}

// Errors returns the channel for receiving errors
func (sc *StreamClient) Errors() <-chan error {
	return sc.errors
}

// Done returns a channel that's closed when streaming ends
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

// Close stops the streaming client and waits for it to finish
func (sc *StreamClient) Close() error {
	sc.cancel()
	<-sc.done
	return nil
}

// startStreaming handles the SSE streaming loop with reconnection
func (sc *StreamClient) startStreaming(ctx context.Context, config StreamConfig) {
	defer close(sc.done)
	defer close(sc.notifications)
	defer close(sc.errors)

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := sc.connectAndStream(ctx, config)
		if err != nil && ctx.Err() == nil {
			sc.sendError(ctx, fmt.Errorf("streaming error: %w", err))
		}

		if config.MaxReconnectAttempts > 0 && attempts >= config.MaxReconnectAttempts {
			sc.sendError(ctx, fmt.Errorf("max reconnect attempts (%d) exceeded", config.MaxReconnectAttempts))
			return
		}
		attempts++

		select {
		case <-time.After(config.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (sc *StreamClient) sendError(ctx context.Context, err error) {
	select {
	case sc.errors <- err:
	case <-ctx.Done():
	default:
	}
}

// connectAndStream establishes SSE connection and processes frames
func (sc *StreamClient) connectAndStream(ctx context.Context, config StreamConfig) error {
	query := url.Values{}
	for key, values := range map[string][]string{
		"kind":        config.Kinds,
		"job_id":      config.JobIDs,
		"transfer_id": config.TransferIDs,
	} {
		if len(values) > 0 {
			query.Set(key, strings.Join(values, ","))
		}
	}

	req, err := sc.client.newRequest(ctx, http.MethodGet, "/v1/logs/stream", query, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The request timeout would cut the stream; ctx ends it instead.
	httpClient := &http.Client{Transport: sc.client.httpClient.Transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("streaming failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	return sc.processSSEStream(ctx, resp.Body)
}

// processSSEStream reads frames separated by blank lines. Only the data
// line is decoded; id and event repeat what the notification carries.
func (sc *StreamClient) processSSEStream(ctx context.Context, reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var n Notification
			err := json.Unmarshal([]byte(data.String()), &n)
			data.Reset()
			if err != nil {
				sc.sendError(ctx, fmt.Errorf("failed to parse notification: %w", err))
				continue
			}
			select {
			case sc.notifications <- n:
			case <-ctx.Done():
				return ctx.Err()
			}
		case strings.HasPrefix(line, ":"):
			// Keepalive comment
		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
		}
		// Other SSE fields (id:, event:, retry:) are ignored.
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}
