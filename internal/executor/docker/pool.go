package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

// Pool keeps pre-warmed R containers ready. A container serves exactly
// one script and is removed afterwards; interpreter state lives in the
// workspace snapshot on the shared mount, not in the container.
type Pool struct {
	cli        *client.Client
	config     Config
	logger     *slog.Logger
	containers chan string
	done       chan struct{}
	wg         sync.WaitGroup
	startDone  sync.Once
	stopDone   sync.Once
}

// NewPool initializes a new container pool wrapper.
func NewPool(cli *client.Client, cfg Config, logger *slog.Logger) *Pool {
	return &Pool{
		cli:        cli,
		config:     cfg,
		logger:     logger,
		containers: make(chan string, cfg.PoolSize),
		done:       make(chan struct{}),
	}
}

// Start begins filling the pool with fresh containers in the background.
func (p *Pool) Start() {
	p.startDone.Do(func() {
		p.logger.Info("starting R container pool", slog.Int("poolSize", p.config.PoolSize))
		p.wg.Add(1)
		go p.manager()
	})
}

// Stop shuts down the manager and removes all idle containers.
func (p *Pool) Stop() {
	p.stopDone.Do(func() {
		p.logger.Info("shutting down R container pool")
		close(p.done)
		p.wg.Wait()

		for {
			select {
			case id := <-p.containers:
				p.removeContainer(id)
			default:
				return
			}
		}
	})
}

// Acquire returns a ready container ID, blocking until one is available
// or ctx is done. The caller owns the container and must Release it.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	select {
	case id := <-p.containers:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Release removes a used container. The manager replaces it.
func (p *Pool) Release(id string) {
	p.removeContainer(id)
}

// manager keeps the channel topped up. Full pool: poll again shortly.
// Failed create: back off for a second so a missing image does not spin.
func (p *Pool) manager() {
	defer p.wg.Done()

	for {
		wait := idlePoll
		if len(p.containers) < cap(p.containers) {
			wait = p.refill()
		}
		if wait == 0 {
			continue
		}
		select {
		case <-p.done:
			return
		case <-time.After(wait):
		}
	}
}

const (
	idlePoll      = 100 * time.Millisecond
	createBackoff = time.Second
)

// refill starts one container and hands it to the channel. It returns how
// long the manager should wait before the next round.
func (p *Pool) refill() time.Duration {
	select {
	case <-p.done:
		return idlePoll
	default:
	}

	id, err := p.createContainer()
	if err != nil {
		p.logger.Error("pre-warming R container failed",
			slog.String("image", p.config.Image),
			slog.String("error", err.Error()))
		return createBackoff
	}

	select {
	case p.containers <- id:
		return 0
	case <-p.done:
		p.removeContainer(id)
		return idlePoll
	}
}

// createContainer starts an idle container with the data root mounted.
func (p *Pool) createContainer() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:   p.config.MemoryLimit,
			NanoCPUs: int64(p.config.CPULimit * 1e9),
		},
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: p.config.DataRoot,
			Target: p.config.DataRoot,
		}},
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:      p.config.Image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: p.config.DataRoot,
		User:       p.config.User,
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("creating container from %s: %w", p.config.Image, err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.removeContainer(resp.ID)
		return "", fmt.Errorf("starting container %s: %w", resp.ID, err)
	}

	return resp.ID, nil
}

// removeContainer force removes a container by ID.
func (p *Pool) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Error("failed to remove container", slog.String("id", id), slog.String("error", err.Error()))
	}
}
