package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerTool runs a tool invocation inside a throwaway Docker container
// instead of in-process: inputs are marshaled to JSON and piped to the
// container's stdin, and the container's stdout must be a single JSON
// object, which becomes the tool result. This lets a host sandbox an
// untrusted or heavyweight tool implementation (e.g. a real extraction
// model) without the executor or runner knowing the difference — it is
// still just a Tool. Generalizes the teacher's container-per-dispatch
// pattern (internal/dispatch/docker.go) from "agent dispatch" to "tool
// invocation."
type DockerTool struct {
	Image string
	cli   *client.Client
}

// NewDockerTool constructs a DockerTool backed by the Docker daemon
// reachable via the standard environment (DOCKER_HOST etc), failing fast
// if the daemon isn't reachable within readyTimeout rather than on the
// first job run.
func NewDockerTool(ctx context.Context, image string, readyTimeout time.Duration) (*DockerTool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("tool: docker client: %w", err)
	}
	if err := waitForDaemon(ctx, cli, readyTimeout); err != nil {
		return nil, err
	}
	return &DockerTool{Image: image, cli: cli}, nil
}

// Run implements Tool by starting a container from Image, feeding it the
// JSON-encoded inputs, and parsing its combined stdout as the result. The
// container is always removed afterward, success or failure.
func (d *DockerTool) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("tool: marshal inputs: %w", err)
	}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:       d.Image,
		Cmd:         []string{},
		AttachStdin: true,
		OpenStdin:   true,
		StdinOnce:   true,
		Tty:         false,
	}, &container.HostConfig{AutoRemove: false}, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("tool: create container %s: %w", d.Image, err)
	}
	defer d.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})

	attach, err := d.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("tool: attach container %s: %w", d.Image, err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		attach.Close()
		return nil, fmt.Errorf("tool: start container %s: %w", d.Image, err)
	}

	if _, err := attach.Conn.Write(payload); err != nil {
		attach.Close()
		return nil, fmt.Errorf("tool: write stdin: %w", err)
	}
	attach.CloseWrite()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- copyErr
	}()

	waitCh, errCh := d.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		attach.Close()
		return nil, fmt.Errorf("tool: wait container %s: %w", d.Image, err)
	case status := <-waitCh:
		attach.Close()
		<-copyDone
		if status.StatusCode != 0 {
			return nil, fmt.Errorf("tool: container %s exited %d: %s", d.Image, status.StatusCode, stderr.String())
		}
	case <-ctx.Done():
		attach.Close()
		return nil, ctx.Err()
	}

	var result map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &result); err != nil {
		return nil, fmt.Errorf("tool: container %s produced non-JSON stdout: %w", d.Image, err)
	}
	return result, nil
}

// waitForDaemon is the readiness check NewDockerTool runs before
// returning: a misconfigured DOCKER_HOST fails at construction rather
// than on the first job run.
func waitForDaemon(ctx context.Context, cli *client.Client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := cli.Ping(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("tool: docker daemon not reachable after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
