// Package docker runs one command in a throwaway container and reports its
// exit status and output.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"
)

type RunOpts struct {
	Image       string
	Command     []string
	Env         map[string]string
	Timeout     time.Duration
	Mounts      []Mount
	CPULimit    float64
	MemoryLimit int64
	UserID      string
	// Network leaves networking enabled. Evaluations run without it.
	Network bool
}

type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

type RunResult struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
	Stdout   []byte
	Stderr   []byte
}

func RunContainer(ctx context.Context, opts *RunOpts) (*RunResult, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	defer cli.Close()

	envSlice := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		envSlice = append(envSlice, k+"="+v)
	}

	mounts := make([]mount.Mount, 0, len(opts.Mounts))
	for _, m := range opts.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	initTrue := true
	hostCfg := &container.HostConfig{
		Mounts:         mounts,
		Init:           &initTrue,
		ReadonlyRootfs: true,
	}
	if opts.CPULimit > 0 {
		hostCfg.NanoCPUs = int64(opts.CPULimit * 1e9)
	}
	if opts.MemoryLimit > 0 {
		hostCfg.Memory = opts.MemoryLimit
	}
	if !opts.Network {
		hostCfg.NetworkMode = "none"
	}

	containerCfg := &container.Config{
		Image:           opts.Image,
		Cmd:             opts.Command,
		Env:             envSlice,
		Labels:          map[string]string{"ratchet": "true"},
		NetworkDisabled: !opts.Network,
	}
	if opts.UserID != "" {
		containerCfg.User = opts.UserID
	}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	containerID := createResp.ID
	defer func() {
		cli.ContainerRemove(context.Background(), containerID, client.ContainerRemoveOptions{Force: true})
	}()

	start := time.Now()
	if _, err := cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	waitResult := cli.ContainerWait(timeoutCtx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	for {
		select {
		case err := <-waitResult.Error:
			if err != nil {
				cli.ContainerKill(context.Background(), containerID, client.ContainerKillOptions{Signal: "SIGKILL"})
				res := &RunResult{
					ExitCode: 124,
					TimedOut: true,
					Duration: time.Since(start),
				}
				res.Stdout, res.Stderr = collectLogs(cli, containerID)
				return res, nil
			}
			// nil error means no error on this channel; wait for result
		case status := <-waitResult.Result:
			res := &RunResult{
				ExitCode: int(status.StatusCode),
				Duration: time.Since(start),
			}
			res.Stdout, res.Stderr = collectLogs(cli, containerID)
			return res, nil
		}
	}
}

// collectLogs reads the container's multiplexed log stream back into
// separate stdout and stderr.
func collectLogs(cli *client.Client, containerID string) ([]byte, []byte) {
	logReader, err := cli.ContainerLogs(context.Background(), containerID, client.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil || logReader == nil {
		return nil, nil
	}
	defer logReader.Close()
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logReader); err != nil && err != io.EOF {
		return stdout.Bytes(), append(stderr.Bytes(), []byte("\nlog stream: "+err.Error())...)
	}
	return stdout.Bytes(), stderr.Bytes()
}
