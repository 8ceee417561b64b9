package toolhost

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/contextloom/loom/internal/coreerr"
	"github.com/contextloom/loom/internal/observability"
	"github.com/contextloom/loom/pkg/models"
)

// rpcRequest/rpcResponse are the line-framed JSON-RPC envelopes spoken
// over the child's stdin/stdout, adapted from internal/mcp's
// JSONRPCRequest/JSONRPCResponse to the initialize/list_tools/call_tool
// method set spec §4.4(b)/§6 names.
type rpcRequest struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

// ChildProcessConfig configures a ChildProcessProvider.
type ChildProcessConfig struct {
	ID      string
	Command string
	Args    []string
	Timeout time.Duration // per-call wall-clock bound; default 120s.
}

// ChildProcessProvider spawns a child process and exchanges
// line-delimited JSON requests/responses over its stdin/stdout, the
// way internal/mcp/transport_stdio.go drives an MCP server —
// initialize at Open, then list_tools/call_tool per call.
type ChildProcessProvider struct {
	cfg    ChildProcessConfig
	logger *observability.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner

	pendingMu sync.Mutex
	pending   map[int64]chan rpcResponse
	nextID    atomic.Int64

	closed   atomic.Bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewChildProcessProvider builds a provider that will spawn cfg.Command
// on Open.
func NewChildProcessProvider(cfg ChildProcessConfig, logger *observability.Logger) *ChildProcessProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &ChildProcessProvider{
		cfg:      cfg,
		logger:   logger,
		pending:  map[int64]chan rpcResponse{},
		stopChan: make(chan struct{}),
	}
}

func (p *ChildProcessProvider) ID() string { return p.cfg.ID }

// Open starts the subprocess and sends the initialize request.
func (p *ChildProcessProvider) Open(ctx context.Context) error {
	p.cmd = exec.CommandContext(ctx, p.cfg.Command, p.cfg.Args...)

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	p.stdin = stdin
	p.stdout = bufio.NewScanner(stdout)
	p.stdout.Buffer(make([]byte, 64*1024), 4*1024*1024)

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start child process: %w", err)
	}

	p.wg.Add(1)
	go p.readLoop()

	_, err = p.call(ctx, "initialize", nil)
	return err
}

// Close terminates the subprocess; subsequent calls report
// TransportFailure (ChildExited).
func (p *ChildProcessProvider) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.stopChan)
	if p.stdin != nil {
		p.stdin.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	p.wg.Wait()
	return nil
}

func (p *ChildProcessProvider) ListTools(ctx context.Context) ([]models.ToolSpec, error) {
	raw, err := p.call(ctx, "list_tools", nil)
	if err != nil {
		return nil, err
	}
	var specs []models.ToolSpec
	if err := json.Unmarshal(raw, &specs); err != nil {
		return nil, fmt.Errorf("decode list_tools result: %w", err)
	}
	return specs, nil
}

func (p *ChildProcessProvider) CallTool(ctx context.Context, callID, name string, args json.RawMessage) (string, error) {
	params, err := json.Marshal(map[string]any{"call_id": callID, "name": name, "args": json.RawMessage(args)})
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	raw, err := p.call(ctx, "call_tool", params)
	if err != nil {
		return "", err
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}
	return string(raw), nil
}

func (p *ChildProcessProvider) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if p.closed.Load() {
		return nil, coreerr.NewTransportFailure(p.cfg.ID, "ChildExited", fmt.Errorf("provider closed"))
	}

	id := p.nextID.Add(1)
	respChan := make(chan rpcResponse, 1)
	p.pendingMu.Lock()
	p.pending[id] = respChan
	p.pendingMu.Unlock()
	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
	}()

	data, err := json.Marshal(rpcRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	if _, err := p.stdin.Write(append(data, '\n')); err != nil {
		p.closed.Store(true)
		return nil, coreerr.NewTransportFailure(p.cfg.ID, "ChildExited", err)
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, coreerr.NewToolExecutionFailed(method, fmt.Errorf("%s (code %d)", resp.Error.Message, resp.Error.Code))
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.stopChan:
		return nil, coreerr.NewTransportFailure(p.cfg.ID, "ChildExited", fmt.Errorf("transport closed"))
	}
}

func (p *ChildProcessProvider) readLoop() {
	defer p.wg.Done()
	defer p.closed.Store(true)

	for p.stdout.Scan() {
		line := p.stdout.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			if p.logger != nil {
				p.logger.Warn(context.Background(), "toolhost: malformed child-process line", "error", err)
			}
			continue
		}
		p.pendingMu.Lock()
		ch, ok := p.pending[resp.ID]
		p.pendingMu.Unlock()
		if ok {
			select {
			case ch <- resp:
			default:
			}
		}
	}
}
