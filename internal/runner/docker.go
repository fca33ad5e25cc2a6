package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"

	"github.com/datatorch/agent/internal/variables"
)

// dockerRunner creates a container from config["image"], starts it, and
// streams its combined log output the same way the other runners stream
// a subprocess's stdout — through the shared sentinel parser.
type dockerRunner struct{ base }

func (r *dockerRunner) Run(ctx context.Context, vars *variables.Store) (map[string]any, error) {
	image := r.render("image", vars)
	if image == "" {
		return nil, &ConfigError{Using: r.using, Reason: "an 'image' was not provided"}
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker runner: connect: %w", err)
	}
	defer cli.Close()

	created, err := cli.ContainerCreate(ctx, &container.Config{Image: image}, nil, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("docker runner: create container: %w", err)
	}
	defer func() {
		_ = cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
	}()

	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("docker runner: start container: %w", err)
	}

	logs, err := cli.ContainerLogs(ctx, created.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err != nil {
		return nil, fmt.Errorf("docker runner: read logs: %w", err)
	}
	defer logs.Close()

	outputs := map[string]any{}
	scanner := bufio.NewScanner(logs)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if key, value, ok := parseSentinel(line); ok {
			outputs[key] = value
		}
		if r.logSink != nil {
			r.logSink(line)
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return outputs, fmt.Errorf("docker runner: %w", err)
	}

	statusCh, errCh := cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return outputs, fmt.Errorf("docker runner: wait: %w", err)
		}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return outputs, &ProcessFailure{Using: r.using, ExitCode: int(status.StatusCode)}
		}
	case <-ctx.Done():
		return outputs, ctx.Err()
	}

	return outputs, nil
}
