// Package process finds agent CLI processes running in the orchestrator's
// stream-json mode, such as ones left behind by a crashed host.
package process

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/zhubert/plural-orchestrator/logger"
)

// ErrUnsupported is returned on platforms without ps.
var ErrUnsupported = errors.New("process listing is not supported on " + runtime.GOOS)

// AgentProcess is a running agent CLI process.
type AgentProcess struct {
	PID          int
	ResumeHandle string // Value of --session-id or --resume
	Command      string // Full command line
}

// FindAgentProcesses lists running processes of binary that were started
// with the orchestrator's stream-json arguments.
func FindAgentProcesses(ctx context.Context, binary string) ([]AgentProcess, error) {
	if runtime.GOOS == "windows" {
		return nil, ErrUnsupported
	}

	output, err := exec.CommandContext(ctx, "ps", "-eo", "pid=,args=").Output()
	if err != nil {
		return nil, err
	}

	procs := ParsePS(string(output), binary)
	logger.WithComponent("process").Debug("found agent processes", "binary", binary, "count", len(procs))
	return procs, nil
}

// ParsePS extracts agent processes of binary from `ps -eo pid=,args=`
// output. Only the base name of binary is compared.
func ParsePS(output, binary string) []AgentProcess {
	name := filepath.Base(binary)

	var procs []AgentProcess
	for line := range strings.Lines(output) {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		args := fields[1:]
		if filepath.Base(args[0]) != name || !isStreamJSONQuery(args[1:]) {
			continue
		}
		procs = append(procs, AgentProcess{
			PID:          pid,
			ResumeHandle: resumeHandle(args[1:]),
			Command:      strings.Join(args, " "),
		})
	}
	return procs
}

// isStreamJSONQuery reports whether args carry the flags every orchestrator
// query is started with.
func isStreamJSONQuery(args []string) bool {
	return slices.Contains(args, "--print") &&
		flagValue(args, "--input-format") == "stream-json" &&
		flagValue(args, "--permission-prompt-tool") == "stdio"
}

func resumeHandle(args []string) string {
	if v := flagValue(args, "--session-id"); v != "" {
		return v
	}
	return flagValue(args, "--resume")
}

// flagValue returns the value following flag, accepting both "--flag v"
// and "--flag=v".
func flagValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(a, flag+"="); ok {
			return v
		}
	}
	return ""
}
