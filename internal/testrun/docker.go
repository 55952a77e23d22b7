package testrun

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// DockerExecutor runs a Spec's command inside a disposable container built
// from Spec.Image — used when isolation from the host matters more than
// startup latency. Named, out-of-pack dependency: no example repo wires a
// container runtime, so this is grounded on the shape of SubprocessExecutor
// rather than on prior art in the corpus.
type DockerExecutor struct {
	cli *client.Client
}

// NewDockerExecutor dials the local Docker daemon using the standard
// environment-variable configuration (DOCKER_HOST, DOCKER_CERT_PATH, ...).
func NewDockerExecutor() (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("testrun: connect to docker: %w", err)
	}
	return &DockerExecutor{cli: cli}, nil
}

func (e *DockerExecutor) Close() error { return e.cli.Close() }

func (e *DockerExecutor) Execute(ctx context.Context, spec Spec, dir string, onLine func(OutputLine)) TestOutcome {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if spec.Image == "" {
		return TestOutcome{Name: spec.Name, Verdict: VerdictError, Err: fmt.Errorf("docker execution requires an image")}
	}

	pullReader, err := e.cli.ImagePull(runCtx, spec.Image, dockerimage.PullOptions{})
	if err != nil {
		return TestOutcome{Name: spec.Name, Verdict: VerdictError, Err: fmt.Errorf("pull image %s: %w", spec.Image, err)}
	}
	_, _ = io.Copy(io.Discard, pullReader)
	pullReader.Close()

	created, err := e.cli.ContainerCreate(runCtx, &container.Config{
		Image:      spec.Image,
		Cmd:        []string{"sh", "-c", spec.Command},
		WorkingDir: "/workspace",
		Tty:        false,
	}, &container.HostConfig{
		Binds:       []string{dir + ":/workspace:ro"},
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:   2 << 30,
			CPUQuota: 100000,
		},
	}, nil, nil, "")
	if err != nil {
		return TestOutcome{Name: spec.Name, Verdict: VerdictError, Err: fmt.Errorf("create container: %w", err)}
	}
	defer e.cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})

	start := time.Now()
	if err := e.cli.ContainerStart(runCtx, created.ID, container.StartOptions{}); err != nil {
		return TestOutcome{Name: spec.Name, Verdict: VerdictError, Err: fmt.Errorf("start container: %w", err)}
	}

	logs, err := e.cli.ContainerLogs(runCtx, created.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err == nil {
		go e.streamDockerLogs(spec.Name, logs, onLine)
	}

	statusCh, errCh := e.cli.ContainerWait(runCtx, created.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			verdict := VerdictError
			if runCtx.Err() == context.DeadlineExceeded {
				verdict = VerdictFail
			}
			return TestOutcome{Name: spec.Name, Verdict: verdict, DurationMs: time.Since(start).Milliseconds(), Err: err}
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	verdict := VerdictPass
	if exitCode != 0 {
		verdict = VerdictFail
	}
	return TestOutcome{
		Name: spec.Name, Verdict: verdict, ExitCode: exitCode,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// streamDockerLogs demultiplexes the Docker log stream's 8-byte frame
// header and forwards each line through onLine.
func (e *DockerExecutor) streamDockerLogs(test string, r io.ReadCloser, onLine func(OutputLine)) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Text()
		line := raw
		if len(raw) > 8 {
			line = raw[8:]
		}
		if onLine != nil {
			onLine(OutputLine{Test: test, Stream: "stdout", Line: line})
		}
	}
}
