package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/zhubert/plural-orchestrator/logger"
)

// DefaultStopTimeout is how long a stopping query waits for the CLI to exit
// at each escalation step (stdin EOF, then SIGINT) before killing it.
const DefaultStopTimeout = 2 * time.Second

// CLIAdapter runs each query as one Claude Code CLI process speaking
// stream-json over stdin/stdout. Tool permission prompts arrive as
// control requests on stdout and are answered on stdin.
type CLIAdapter struct {
	cfg CLIConfig
}

var _ Adapter = (*CLIAdapter)(nil)

// NewCLIAdapter creates an adapter for the given CLI configuration.
func NewCLIAdapter(cfg CLIConfig) *CLIAdapter {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &CLIAdapter{cfg: cfg}
}

// Query implements Adapter.
func (a *CLIAdapter) Query(ctx context.Context, req QueryRequest) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		log := logger.WithSession(req.SessionID).With("component", "claude-cli")

		if req.WorkingDir == "" {
			yield(Message{}, errors.New("working directory is required"))
			return
		}

		q, err := a.start(ctx, req, log)
		if err != nil {
			yield(Message{}, err)
			return
		}
		defer q.stop()

		if err := q.sendPrompt(req.Prompt); err != nil {
			yield(Message{}, err)
			return
		}

		for {
			select {
			case <-ctx.Done():
				log.Debug("query cancelled")
				return
			case line, ok := <-q.lines:
				if !ok {
					if err := q.exitError(); err != nil && ctx.Err() == nil {
						yield(Message{}, err)
					}
					return
				}

				q.logStream(line)
				msg, ok, err := ParseLine(line)
				if err != nil {
					log.Warn("failed to parse stream message", "error", err)
					continue
				}
				if !ok {
					continue
				}

				switch msg.Type {
				case TypeControlRequest:
					q.handleControlRequest(msg)
					continue
				case "control_response", "control_cancel_request", "keep_alive":
					continue
				case TypeResult:
					q.markResult()
				}

				if !yield(msg, nil) {
					return
				}
			}
		}
	}
}

// cliQuery is one running CLI process.
type cliQuery struct {
	log          *slog.Logger
	cmd          *exec.Cmd
	stopTimeout  time.Duration
	onPermission PermissionFunc
	parentCtx    context.Context

	// ctx bounds permission callbacks and the output reader; cancelled by stop.
	ctx    context.Context
	cancel context.CancelFunc

	writeMu     sync.Mutex
	stdin       io.WriteCloser
	stdinClosed bool

	lines      chan string
	readDone   chan struct{}
	stderrDone chan struct{}
	waitDone   chan struct{}
	waitErr    error

	mu            sync.Mutex
	stderrContent string
	gotResult     bool

	callbacks     sync.WaitGroup
	mcpConfigPath string
	streamLog     *os.File
}

func (a *CLIAdapter) start(ctx context.Context, req QueryRequest, log *slog.Logger) (*cliQuery, error) {
	mcpConfigPath, err := writeMCPConfig(req.SessionID, req.ToolServers)
	if err != nil {
		return nil, fmt.Errorf("failed to write tool server config: %w", err)
	}

	args := BuildCommandArgs(a.cfg, req, mcpConfigPath)
	log.Debug("starting process", "command", a.cfg.Binary+" "+strings.Join(args, " "), "workDir", req.WorkingDir)

	cmd := exec.Command(a.cfg.Binary, args...)
	cmd.Dir = req.WorkingDir

	cleanup := func() {
		if mcpConfigPath != "" {
			os.Remove(mcpConfigPath)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		cleanup()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		cleanup()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		cleanup()
		return nil, fmt.Errorf("failed to start %s: %w", a.cfg.Binary, err)
	}
	log.Info("process started", "elapsed", time.Since(startTime), "pid", cmd.Process.Pid, "resume", req.Resume)

	qctx, cancel := context.WithCancel(context.Background())
	q := &cliQuery{
		log:           log,
		cmd:           cmd,
		stopTimeout:   a.cfg.StopTimeout,
		onPermission:  req.OnPermissionRequest,
		parentCtx:     ctx,
		ctx:           qctx,
		cancel:        cancel,
		stdin:         stdin,
		lines:         make(chan string, 16),
		readDone:      make(chan struct{}),
		stderrDone:    make(chan struct{}),
		waitDone:      make(chan struct{}),
		mcpConfigPath: mcpConfigPath,
	}
	q.openStreamLog(req.SessionID)

	go q.readOutput(bufio.NewReader(stdout))
	go q.drainStderr(stderr)
	go q.monitorExit()
	return q, nil
}

func (q *cliQuery) sendPrompt(prompt string) error {
	msg := StreamInputMessage{Type: "user"}
	msg.Message.Role = "user"
	msg.Message.Content = TextContent(prompt)
	if err := q.write(msg); err != nil {
		return fmt.Errorf("failed to send prompt: %w", err)
	}
	return nil
}

// write serializes v as one stdin line.
func (q *cliQuery) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	q.writeMu.Lock()
	defer q.writeMu.Unlock()
	if q.stdinClosed {
		return errors.New("stdin closed")
	}
	if _, err := q.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write to process: %w", err)
	}
	return nil
}

func (q *cliQuery) closeStdin() {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()
	if !q.stdinClosed {
		q.stdinClosed = true
		q.stdin.Close()
	}
}

// markResult records the end of the turn. Closing stdin lets the CLI exit.
func (q *cliQuery) markResult() {
	q.mu.Lock()
	q.gotResult = true
	q.mu.Unlock()
	q.closeStdin()
}

// handleControlRequest answers a control request from the CLI. Permission
// callbacks may block, so each runs on its own goroutine.
func (q *cliQuery) handleControlRequest(msg Message) {
	if msg.Request == nil || msg.Request.Subtype != "can_use_tool" {
		subtype := ""
		if msg.Request != nil {
			subtype = msg.Request.Subtype
		}
		q.log.Warn("unsupported control request", "subtype", subtype, "requestID", msg.RequestID)
		q.respondError(msg.RequestID, fmt.Sprintf("unsupported control request %q", subtype))
		return
	}

	req := *msg.Request
	if req.Input == nil {
		req.Input = map[string]any{}
	}
	q.log.Debug("permission requested", "tool", req.ToolName, "requestID", msg.RequestID)

	q.callbacks.Add(1)
	go func() {
		defer q.callbacks.Done()

		result := Deny("no permission handler configured")
		if q.onPermission != nil {
			ctx, cancel := mergeCancel(q.parentCtx, q.ctx)
			defer cancel()
			res, err := q.onPermission(ctx, req.ToolName, req.Input)
			if err != nil {
				q.respondError(msg.RequestID, err.Error())
				return
			}
			result = res
		}
		if result.Allowed() && result.UpdatedInput == nil {
			result.UpdatedInput = req.Input
		}
		q.respondSuccess(msg.RequestID, result)
	}()
}

func (q *cliQuery) respondSuccess(requestID string, result PermissionResult) {
	resp := map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "success",
			"request_id": requestID,
			"response":   result,
		},
	}
	if err := q.write(resp); err != nil {
		q.log.Debug("failed to send permission response", "requestID", requestID, "error", err)
	}
}

func (q *cliQuery) respondError(requestID, message string) {
	resp := map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "error",
			"request_id": requestID,
			"error":      message,
		},
	}
	if err := q.write(resp); err != nil {
		q.log.Debug("failed to send control error", "requestID", requestID, "error", err)
	}
}

// readOutput forwards stdout lines until EOF or stop.
func (q *cliQuery) readOutput(reader *bufio.Reader) {
	defer close(q.readDone)
	defer close(q.lines)

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			select {
			case q.lines <- line:
			case <-q.ctx.Done():
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				q.log.Debug("error reading stdout", "error", err)
			}
			return
		}
	}
}

func (q *cliQuery) drainStderr(stderr io.Reader) {
	defer close(q.stderrDone)

	stderrBytes, err := io.ReadAll(stderr)
	if err != nil {
		q.log.Debug("error reading stderr", "error", err)
	}
	if len(stderrBytes) > 0 {
		content := strings.TrimSpace(string(stderrBytes))
		q.mu.Lock()
		q.stderrContent = content
		q.mu.Unlock()
		q.log.Debug("captured stderr", "content", content)
	}
}

// monitorExit is the sole caller of cmd.Wait. It waits for both pipes to be
// drained first, as exec.Cmd requires.
func (q *cliQuery) monitorExit() {
	<-q.readDone
	<-q.stderrDone
	q.waitErr = q.cmd.Wait()
	q.log.Debug("process exited", "error", q.waitErr)
	close(q.waitDone)
}

// exitError waits for the process and reports an abnormal end of the turn.
func (q *cliQuery) exitError() error {
	<-q.waitDone

	q.mu.Lock()
	gotResult := q.gotResult
	stderr := q.stderrContent
	q.mu.Unlock()

	if gotResult {
		return nil
	}
	if q.waitErr != nil {
		if stderr != "" {
			return fmt.Errorf("%w: %v: %s", ErrAdapterExited, q.waitErr, stderr)
		}
		return fmt.Errorf("%w: %v", ErrAdapterExited, q.waitErr)
	}
	if stderr != "" {
		return fmt.Errorf("%w before reporting a result: %s", ErrAdapterExited, stderr)
	}
	return fmt.Errorf("%w before reporting a result", ErrAdapterExited)
}

// stop ends the process: stdin EOF, then SIGINT, then kill. It waits for
// permission callbacks to return and removes temporary files.
func (q *cliQuery) stop() {
	q.cancel()
	q.closeStdin()

	if q.parentCtx.Err() != nil {
		q.interrupt()
	}

	select {
	case <-q.waitDone:
	case <-time.After(q.stopTimeout):
		q.interrupt()
		select {
		case <-q.waitDone:
		case <-time.After(q.stopTimeout):
			q.log.Debug("force killing process")
			q.cmd.Process.Kill()
			<-q.waitDone
		}
	}

	q.callbacks.Wait()

	if q.streamLog != nil {
		q.streamLog.Close()
	}
	if q.mcpConfigPath != "" {
		os.Remove(q.mcpConfigPath)
	}
}

func (q *cliQuery) interrupt() {
	select {
	case <-q.waitDone:
		return
	default:
	}
	q.log.Info("sending interrupt", "pid", q.cmd.Process.Pid)
	if err := q.cmd.Process.Signal(os.Interrupt); err != nil {
		q.log.Debug("failed to send interrupt", "error", err)
	}
}

func (q *cliQuery) openStreamLog(sessionID string) {
	if !logger.IsDebug() {
		return
	}
	path, err := logger.StreamLogPath(sessionID)
	if err != nil {
		q.log.Warn("failed to get stream log path", "error", err)
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		q.log.Warn("failed to open stream log file", "path", path, "error", err)
		return
	}
	q.streamLog = f
}

// logStream writes a raw line, pretty-printed when it is JSON.
func (q *cliQuery) logStream(line string) {
	if q.streamLog == nil {
		return
	}
	var prettyJSON map[string]any
	if err := json.Unmarshal([]byte(line), &prettyJSON); err == nil {
		if formatted, err := json.MarshalIndent(prettyJSON, "", "  "); err == nil {
			q.streamLog.Write(append(formatted, '\n'))
			return
		}
	}
	q.streamLog.WriteString(line)
}

// mergeCancel returns a context cancelled when either a or b is done.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
