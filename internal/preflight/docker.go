package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// BuildImage builds dir/Dockerfile into tag, streaming rendered output lines.
func (c *Client) BuildImage(ctx context.Context, dir, tag string, onOutput func(string)) error {
	if c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	if dir == "" {
		return fmt.Errorf("build directory cannot be empty")
	}
	if tag == "" {
		return fmt.Errorf("image tag cannot be empty")
	}
	buildCtx, err := archive.TarWithOptions(dir, &archive.TarOptions{ExcludePatterns: []string{".git"}})
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}
	defer buildCtx.Close()

	resp, err := c.inner.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("docker image build: %w", err)
	}
	defer resp.Body.Close()
	decoder := json.NewDecoder(resp.Body)
	for {
		var msg buildMessage
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("decode build output: %w", err)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return fmt.Errorf("docker image build: %s", errMsg)
		}
		if line := msg.render(); line != "" && onOutput != nil {
			onOutput(line)
		}
	}
	return nil
}

// StartContainer runs image with containerPort published on an ephemeral host port.
func (c *Client) StartContainer(ctx context.Context, name, img string, containerPort int) (string, error) {
	port, err := nat.NewPort("tcp", fmt.Sprintf("%d", containerPort))
	if err != nil {
		return "", fmt.Errorf("parse port: %w", err)
	}
	cfg := &container.Config{
		Image:        img,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}}},
	}
	created, err := c.inner.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	if err := c.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return created.ID, fmt.Errorf("container start: %w", err)
	}
	return created.ID, nil
}

// ContainerState reports whether the container is running and its exit code.
func (c *Client) ContainerState(ctx context.Context, id string) (bool, int, error) {
	inspect, err := c.inner.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, 0, ErrNotFound
		}
		return false, 0, fmt.Errorf("container inspect: %w", err)
	}
	if inspect.State == nil {
		return false, 0, nil
	}
	return inspect.State.Running, inspect.State.ExitCode, nil
}

// ContainerLogs returns the last tail lines of combined output.
func (c *Client) ContainerLogs(ctx context.Context, id string, tail int) (string, error) {
	rc, err := c.inner.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: fmt.Sprintf("%d", tail)})
	if err != nil {
		return "", fmt.Errorf("container logs: %w", err)
	}
	defer rc.Close()
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", fmt.Errorf("demux container logs: %w", err)
	}
	return strings.TrimSpace(stdout.String() + "\n" + stderr.String()), nil
}

// RemoveContainer force-removes a container, ignoring missing ones.
func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	if err := c.inner.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// RemoveImage deletes a local image, ignoring missing ones.
func (c *Client) RemoveImage(ctx context.Context, ref string) error {
	if _, err := c.inner.ImageRemove(ctx, ref, image.RemoveOptions{Force: true, PruneChildren: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

type buildMessage struct {
	Stream      string `json:"stream"`
	Status      string `json:"status"`
	ID          string `json:"id"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func (m buildMessage) errorMessage() string {
	if msg := strings.TrimSpace(m.Error); msg != "" {
		return msg
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

func (m buildMessage) render() string {
	if m.Stream != "" {
		return strings.TrimRight(m.Stream, "\n")
	}
	if m.Status != "" {
		if id := strings.TrimSpace(m.ID); id != "" {
			return id + " " + strings.TrimSpace(m.Status)
		}
		return strings.TrimSpace(m.Status)
	}
	return ""
}
