package tasks

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/nxclaw/nxclaw/internal/fsutil"
)

// terminateGrace is how long a terminated child gets before a hard kill.
const terminateGrace = 5 * time.Second

// process tracks one live child and its optional timeout timer.
type process struct {
	cmd     *exec.Cmd
	timeout *time.Timer
}

// terminate sends SIGTERM and arms a hard-kill fallback.
func (p *process) terminate() {
	proc := p.cmd.Process
	if proc == nil {
		return
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		proc.Kill() //nolint:errcheck
		return
	}
	time.AfterFunc(terminateGrace, func() {
		proc.Kill() //nolint:errcheck
	})
}

// shellPath returns the launch shell, honoring $SHELL.
func shellPath() string {
	if sh := strings.TrimSpace(os.Getenv("SHELL")); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// launchLocked marks the task running and spawns its child. Caller holds
// m.mu. Spawn errors finish the task as failed with the error text.
func (m *Manager) launchLocked(t *Task) {
	now := time.Now()
	t.Status = StatusRunning
	t.Attempts++
	t.StartedAt = &now
	t.UpdatedAt = now
	t.Error = ""
	m.markDirtyLocked()
	m.emit("task.start", map[string]any{"taskId": t.ID, "attempt": t.Attempts, "command": t.Command})

	cmd := exec.Command(shellPath(), "-c", t.Command)
	cmd.Dir = t.Cwd
	cmd.Stdin = nil
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		m.finishLocked(t, StatusFailed, nil, fmt.Sprintf("stdout pipe: %v", err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		m.finishLocked(t, StatusFailed, nil, fmt.Sprintf("stderr pipe: %v", err))
		return
	}
	if err := cmd.Start(); err != nil {
		m.finishLocked(t, StatusFailed, nil, fmt.Sprintf("spawn: %v", err))
		return
	}

	p := &process{cmd: cmd}
	if t.TimeoutMs > 0 {
		id := t.ID
		timeoutMs := t.TimeoutMs
		p.timeout = time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
			m.timeoutTask(id, timeoutMs)
		})
	}
	m.procs[t.ID] = p

	m.wg.Add(1)
	go m.supervise(t.ID, cmd, stdout, stderr)
}

// supervise drains child output line by line, then reaps the exit status.
func (m *Manager) supervise(taskID string, cmd *exec.Cmd, stdout, stderr io.Reader) {
	defer m.wg.Done()

	drained := make(chan struct{}, 2)
	capture := func(r io.Reader) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			m.appendOutput(taskID, line)
		}
		drained <- struct{}{}
	}
	go capture(stdout)
	go capture(stderr)
	<-drained
	<-drained

	err := cmd.Wait()
	exitCode := 0
	if err != nil {
		exitCode = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
	}
	m.onExit(taskID, exitCode, err)
}

// appendOutput writes one output line to the log file and the bounded tail.
func (m *Manager) appendOutput(taskID, line string) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	var logPath string
	if ok {
		logPath = t.LogPath
		tail := append(m.tails[taskID], line)
		if len(tail) > m.cfg.TailLines {
			tail = tail[len(tail)-m.cfg.TailLines:]
		}
		m.tails[taskID] = tail
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if logPath != "" {
		if err := fsutil.AppendLine(logPath, line); err != nil {
			m.logger.Warn("task log append failed", "taskId", taskID, "error", err)
		}
	}
	m.emit("task.output", map[string]any{"taskId": taskID, "line": line})
}

// timeoutTask flips a still-running task to stopped and terminates its
// child.
func (m *Manager) timeoutTask(taskID string, timeoutMs int64) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	p, running := m.procs[taskID]
	if !ok || !running || t.Status != StatusRunning {
		m.mu.Unlock()
		return
	}
	t.Status = StatusStopped
	t.Error = fmt.Sprintf("timeout after %dms", timeoutMs)
	t.UpdatedAt = time.Now()
	m.markDirtyLocked()
	m.mu.Unlock()

	m.appendOutput(taskID, fmt.Sprintf("[supervisor] terminated after %dms timeout", timeoutMs))
	p.terminate()
	m.emit("task.timeout", map[string]any{"taskId": taskID, "timeoutMs": timeoutMs})
}

// onExit reconciles a reaped child: completed on exit 0, re-queued while
// retry budget remains, failed otherwise. A task already flipped to stopped
// or cancelled keeps that status.
func (m *Manager) onExit(taskID string, exitCode int, waitErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if p, running := m.procs[taskID]; running {
		if p.timeout != nil {
			p.timeout.Stop()
		}
		delete(m.procs, taskID)
	}
	if !ok {
		m.dispatchLocked()
		return
	}

	now := time.Now()
	t.ExitCode = &exitCode

	switch {
	case t.Status == StatusStopped || t.Status == StatusCancelled:
		t.EndedAt = &now
		t.UpdatedAt = now
		m.notifyWaitersLocked(t)
		m.emit("task.end", map[string]any{"taskId": taskID, "status": string(t.Status), "exitCode": exitCode})
		m.recordOutcome(t.Status)
	case exitCode == 0:
		m.finishLocked(t, StatusCompleted, &exitCode, "")
	case t.Attempts <= t.MaxRetries:
		retryAt := now.Add(time.Duration(t.RetryDelayMs) * time.Millisecond)
		t.Status = StatusQueued
		t.UpdatedAt = now
		if waitErr != nil {
			t.Error = waitErr.Error()
		}
		m.queue = append(m.queue, queueItem{taskID: taskID, retryAt: retryAt})
		m.emit("task.retry", map[string]any{
			"taskId":  taskID,
			"attempt": t.Attempts,
			"retryAt": retryAt,
		})
		m.markDirtyLocked()
	default:
		errText := fmt.Sprintf("exit code %d", exitCode)
		if waitErr != nil {
			errText = waitErr.Error()
		}
		m.finishLocked(t, StatusFailed, &exitCode, errText)
	}

	m.pruneLocked()
	m.dispatchLocked()
}

// finishLocked moves a task to a terminal status, resolves waiters, and
// emits the end event. Caller holds m.mu.
func (m *Manager) finishLocked(t *Task, status Status, exitCode *int, errText string) {
	now := time.Now()
	t.Status = status
	t.UpdatedAt = now
	t.EndedAt = &now
	if exitCode != nil {
		t.ExitCode = exitCode
	}
	if errText != "" {
		t.Error = errText
	}
	m.notifyWaitersLocked(t)
	m.markDirtyLocked()
	payload := map[string]any{"taskId": t.ID, "status": string(status)}
	if t.ExitCode != nil {
		payload["exitCode"] = *t.ExitCode
	}
	m.emit("task.end", payload)
	m.recordOutcome(status)
}

// recordOutcome bumps the terminal-status counter when metrics are wired.
func (m *Manager) recordOutcome(status Status) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordTask(string(status))
	}
}
