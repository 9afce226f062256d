package flirt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"deface/internal/logging"
)

// OutputType is exported to FLIRT through FSLOUTPUTTYPE so requested file
// names match the files it writes.
const OutputType = "NIFTI_GZ"

const tailLines = 8

// EstimateRequest describes an affine registration.
type EstimateRequest struct {
	Moving    string
	Reference string
	Cost      string
	OutMatrix string
	OutVolume string
}

// ApplyRequest describes resampling with a precomputed transform.
type ApplyRequest struct {
	Moving     string
	Reference  string
	InitMatrix string
	OutMatrix  string
	OutVolume  string
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onLine func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLogger routes FLIRT output lines to logger at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client wraps FLIRT CLI interactions.
type Client struct {
	binary string
	exec   Executor
	logger *slog.Logger
}

// New constructs a FLIRT client.
func New(binary string, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("flirt binary required")
	}
	client := &Client{
		binary: binary,
		exec:   commandExecutor{},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Estimate runs a 12 DOF registration of req.Moving onto req.Reference.
func (c *Client) Estimate(ctx context.Context, req EstimateRequest) error {
	if err := requireFields(
		field{"moving", req.Moving},
		field{"reference", req.Reference},
		field{"cost", req.Cost},
		field{"out matrix", req.OutMatrix},
		field{"out volume", req.OutVolume},
	); err != nil {
		return err
	}
	args := []string{
		"-in", req.Moving,
		"-ref", req.Reference,
		"-out", req.OutVolume,
		"-omat", req.OutMatrix,
		"-cost", req.Cost,
	}
	if err := c.run(ctx, args); err != nil {
		return err
	}
	return requireOutputs(req.OutMatrix, req.OutVolume)
}

// Apply resamples req.Moving into reference space using req.InitMatrix.
func (c *Client) Apply(ctx context.Context, req ApplyRequest) error {
	if err := requireFields(
		field{"moving", req.Moving},
		field{"reference", req.Reference},
		field{"init matrix", req.InitMatrix},
		field{"out matrix", req.OutMatrix},
		field{"out volume", req.OutVolume},
	); err != nil {
		return err
	}
	args := []string{
		"-in", req.Moving,
		"-ref", req.Reference,
		"-out", req.OutVolume,
		"-omat", req.OutMatrix,
		"-applyxfm",
		"-init", req.InitMatrix,
	}
	if err := c.run(ctx, args); err != nil {
		return err
	}
	return requireOutputs(req.OutVolume)
}

func (c *Client) run(ctx context.Context, args []string) error {
	c.logger.Debug("running flirt",
		logging.String("binary", c.binary),
		logging.String("args", strings.Join(args, " ")),
	)
	var (
		mu   sync.Mutex
		tail []string
	)
	err := c.exec.Run(ctx, c.binary, args, func(line string) {
		line = strings.TrimSpace(line)
		if line == "" {
			return
		}
		c.logger.Debug("flirt output", logging.String("line", line))
		mu.Lock()
		tail = append(tail, line)
		if len(tail) > tailLines {
			tail = tail[1:]
		}
		mu.Unlock()
	})
	if err == nil {
		return nil
	}
	mu.Lock()
	defer mu.Unlock()
	if len(tail) > 0 {
		return fmt.Errorf("flirt: %w (output: %s)", err, strings.Join(tail, " | "))
	}
	return fmt.Errorf("flirt: %w", err)
}

type field struct{ name, value string }

func requireFields(fields ...field) error {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("flirt %s required", f.name)
		}
	}
	return nil
}

func requireOutputs(paths ...string) error {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("flirt produced no output %s: %w", path, err)
		}
		if info.Size() == 0 {
			return fmt.Errorf("flirt produced an empty output %s", path)
		}
	}
	return nil
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.Env = append(os.Environ(), "FSLOUTPUTTYPE="+OutputType)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if onLine != nil {
				onLine(scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)

	wg.Wait()
	if scanErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("scan output: %w", scanErr)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
