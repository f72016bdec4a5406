package telephony

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CallControl executes textual commands against a running switch.
//
// Rules:
// - Implementations only transport commands; they make no call-state decisions.
// - A switch-level rejection ("-ERR ...") must be returned as *CommandError.
// - Execute must return promptly once ctx is canceled.
type CallControl interface {
	Execute(ctx context.Context, command string) (string, error)
}

// CommandError is a command the switch received and refused.
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("telephony: %q failed: %s", commandVerb(e.Command), e.Message)
}

const noSuchChannel = "No such channel"

// IsNoSuchChannel reports whether err says the channel is already gone.
// This is the routine answer when killing a call the switch already cleaned up.
func IsNoSuchChannel(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), noSuchChannel)
}

// FSCLI runs commands through the fs_cli binary, one process per command.
//
// Future work could replace this with an event-socket connection; callers depend only on
// CallControl, so that swap would not touch call logic.
type FSCLI struct {
	Binary   string
	Host     string
	Port     int
	Password string
}

func NewFSCLI(binary, host string, port int, password string) *FSCLI {
	if binary == "" {
		binary = "fs_cli"
	}
	return &FSCLI{Binary: binary, Host: host, Port: port, Password: password}
}

func (f *FSCLI) args(command string) []string {
	var args []string
	if f.Host != "" {
		args = append(args, "-H", f.Host)
	}
	if f.Port > 0 {
		args = append(args, "-P", strconv.Itoa(f.Port))
	}
	if f.Password != "" {
		args = append(args, "-p", f.Password)
	}
	return append(args, "-x", command)
}

func (f *FSCLI) Execute(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, f.Binary, f.args(command)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if msg == "" && errors.As(err, &exitErr) {
			msg = fmt.Sprintf("process exited with code %d", exitErr.ExitCode())
		}
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("telephony: fs_cli %s: %s", commandVerb(command), msg)
	}
	return parseReply(command, stdout.String())
}

// parseReply trims a raw reply and converts "-ERR" answers to *CommandError.
func parseReply(command, raw string) (string, error) {
	out := strings.TrimSpace(raw)
	if strings.HasPrefix(out, "-ERR") {
		return "", &CommandError{Command: command, Message: strings.TrimSpace(out[len("-ERR"):])}
	}
	return out, nil
}

func commandVerb(command string) string {
	verb, _, _ := strings.Cut(strings.TrimSpace(command), " ")
	return verb
}
