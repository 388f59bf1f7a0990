// Package docker is a thin client over the Docker Engine API for the
// supervisor: it lists the fleet's containers, takes one-shot resource
// snapshots, and tails container logs. Every failure surfaces as
// ticket.ErrUnavailable so callers degrade instead of erroring hard.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"

	"github.com/arctek/swarm/ticket"
)

// requestTimeout bounds each Engine API call so a wedged daemon cannot
// stall a dashboard request.
const requestTimeout = 5 * time.Second

// Agent is a container summary as the dashboard consumes it.
type Agent struct {
	ID      string            `json:"id"` // short 12-char id
	Name    string            `json:"name"`
	State   string            `json:"state"`
	Status  string            `json:"status"`
	Image   string            `json:"image"`
	Created int64             `json:"created"`
	Labels  map[string]string `json:"labels"`
}

// Stats is a one-shot resource snapshot of a running container.
type Stats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsage   uint64  `json:"memory_usage"`
	MemoryLimit   uint64  `json:"memory_limit"`
	MemoryPercent float64 `json:"memory_percent"`
}

// Client talks to the Docker Engine.
type Client struct {
	api *client.Client
}

// New builds a client against the local daemon. An empty host means the
// environment's default (DOCKER_HOST or the standard Unix socket).
func New(host string) (*Client, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{api: api}, nil
}

// Close releases the underlying HTTP client.
func (c *Client) Close() error {
	return c.api.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ticket.ErrUnavailable, op, err)
}

// ListAgents returns summaries for all containers, stopped ones included.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	containers, err := c.api.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return nil, unavailable("list containers", err)
	}

	agents := make([]Agent, 0, len(containers))
	for _, ctr := range containers {
		var name string
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}
		agents = append(agents, Agent{
			ID:      shortID(ctr.ID),
			Name:    name,
			State:   ctr.State,
			Status:  ctr.Status,
			Image:   ctr.Image,
			Created: ctr.Created,
			Labels:  ctr.Labels,
		})
	}
	return agents, nil
}

// Stats takes a one-shot snapshot of a running container's CPU and memory
// use. CPU percent follows the Engine's own formula: the usage delta over
// the system delta, scaled by the online CPU count.
func (c *Client) Stats(ctx context.Context, id string) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.api.ContainerStats(ctx, id, false)
	if err != nil {
		return nil, unavailable("container stats", err)
	}
	defer resp.Body.Close()

	var raw types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, unavailable("decode stats", err)
	}
	return computeStats(&raw), nil
}

func computeStats(raw *types.StatsJSON) *Stats {
	s := &Stats{
		MemoryUsage: raw.MemoryStats.Usage,
		MemoryLimit: raw.MemoryStats.Limit,
	}

	cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage) - float64(raw.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(raw.CPUStats.SystemUsage) - float64(raw.PreCPUStats.SystemUsage)
	numCPUs := float64(raw.CPUStats.OnlineCPUs)
	if numCPUs == 0 {
		numCPUs = 1
	}
	if systemDelta > 0 {
		s.CPUPercent = round2(cpuDelta / systemDelta * numCPUs * 100.0)
	}

	if s.MemoryLimit > 0 {
		s.MemoryPercent = round2(float64(s.MemoryUsage) / float64(s.MemoryLimit) * 100.0)
	}
	return s
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Logs tails the last tail lines of a container's combined stdout and
// stderr, demultiplexed into plain text.
func (c *Client) Logs(ctx context.Context, id string, tail int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	reader, err := c.api.ContainerLogs(ctx, id, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return "", unavailable("container logs", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", unavailable("read logs", err)
	}
	return demuxLogs(raw), nil
}

// demuxLogs strips the Engine's 8-byte multiplexing headers (stream byte,
// three zero bytes, big-endian payload length), concatenating payloads in
// stream order. Containers started with a TTY emit unframed output; any
// chunk that does not parse as a frame is passed through as plain text.
func demuxLogs(raw []byte) string {
	var b strings.Builder
	i := 0
	for i < len(raw) {
		if len(raw)-i < 8 || raw[i] > 2 || raw[i+1] != 0 || raw[i+2] != 0 || raw[i+3] != 0 {
			b.Write(raw[i:])
			break
		}
		length := int(raw[i+4])<<24 | int(raw[i+5])<<16 | int(raw[i+6])<<8 | int(raw[i+7])
		i += 8
		end := i + length
		if end > len(raw) {
			end = len(raw)
		}
		b.Write(raw[i:end])
		i = end
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
