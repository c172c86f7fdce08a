// Package containerexec implements the §4.10 container-exec subsystem: a
// container whitelist, command and shell-form validation, a resource
// envelope applied to every invocation, and exit-code-driven detection of
// resource-limit violations.
//
// Grounded on rcourtman-Pulse's cmd/pulse-sensor-proxy/validation.go
// (validateCommand/hasShellMeta/validateIPMIToolArgs token-scanning
// style), applied here to docker exec instead of ipmitool, and on the
// teacher's internal/stack/hooks_exec.go for handing the validated
// command to L6 rather than a shell.
package containerexec

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/masterclaw/internal/audit"
	"github.com/example/masterclaw/internal/errs"
	"github.com/example/masterclaw/internal/safety"
	"github.com/example/masterclaw/internal/subprocess"
	"github.com/mattn/go-shellwords"
)

// DefaultWhitelistPrefix is the build-time container-name prefix from
// §4.10's example whitelist.
const DefaultWhitelistPrefix = "mc-"

var blockedTokens = map[string]struct{}{
	"rm": {}, "dd": {}, "mkfs": {}, "fdisk": {},
	"mount": {}, "umount": {}, "shutdown": {}, "reboot": {},
}

var shellForms = map[string]struct{}{
	"sh": {}, "bash": {}, "zsh": {}, "ksh": {}, "dash": {},
}

const maxCommandBytes = 4096

// ResourceEnvelope is the default resource cap set from §4.10, attached to
// every non-interactive invocation unless the caller explicitly disables
// it.
type ResourceEnvelope struct {
	NprocHard  int
	NprocSoft  int
	MemoryHard int64 // bytes
	MemorySoft int64 // bytes
	FsizeBytes int64
	Core       int64
}

// DefaultResourceEnvelope returns the §4.10 defaults.
func DefaultResourceEnvelope() ResourceEnvelope {
	return ResourceEnvelope{
		NprocHard:  256,
		NprocSoft:  128,
		MemoryHard: 1 << 30,        // 1 GiB
		MemorySoft: 512 << 20,      // 512 MiB
		FsizeBytes: 100 << 20,      // 100 MiB
		Core:       0,
	}
}

// Request is one execInContainer invocation.
type Request struct {
	Container       string
	CommandTokens   []string
	Shell           bool
	TimeoutMillis   int
	Envelope        *ResourceEnvelope // nil uses DefaultResourceEnvelope
	DisableEnvelope bool
	CorrelationID   string
	UserIdentity    string
}

// ResourceViolation describes a command that tripped a resource limit.
type ResourceViolation struct {
	Kind        string
	Description string
	Hint        string
}

// Result is the outcome of a container exec.
type Result struct {
	ExitCode          int
	Stdout            string
	Stderr            string
	ResourceViolation *ResourceViolation
}

// Executor runs validated commands inside whitelisted containers via L6.
type Executor struct {
	whitelistPrefixes []string
	runner            *subprocess.Runner
	auditLog          *audit.Log
}

// New builds an Executor. whitelistPrefixes defaults to
// []string{DefaultWhitelistPrefix} when nil.
func New(whitelistPrefixes []string, runner *subprocess.Runner, auditLog *audit.Log) *Executor {
	if whitelistPrefixes == nil {
		whitelistPrefixes = []string{DefaultWhitelistPrefix}
	}
	if runner == nil {
		runner = subprocess.NewRunner(map[string]struct{}{"docker": {}}, nil)
	}
	return &Executor{whitelistPrefixes: whitelistPrefixes, runner: runner, auditLog: auditLog}
}

func (e *Executor) isWhitelisted(container string) bool {
	for _, prefix := range e.whitelistPrefixes {
		if strings.HasPrefix(container, prefix) {
			return true
		}
	}
	return false
}

// Exec validates req and, if it passes, runs "docker exec <container>
// <tokens...>" through L6, classifying the result for resource-limit
// violations.
func (e *Executor) Exec(ctx context.Context, req Request) (*Result, error) {
	if !e.isWhitelisted(req.Container) {
		return nil, errs.New(errs.KindSecurity, errs.CodeUsage, fmt.Sprintf(
			"container %q is not whitelisted; allowed prefixes: %v",
			safety.SanitizeForLog(req.Container), e.whitelistPrefixes))
	}
	if err := validateCommand(req.CommandTokens); err != nil {
		e.auditViolation(ctx, req, "BLOCKED_TOKEN", err.Error())
		return nil, err
	}
	// Property 8 / E2: any combined command containing a shell
	// metacharacter is refused before spawn, whether or not the caller
	// marked this as a shell=true invocation — argv tokens that smuggle
	// chaining/substitution syntax are exactly as dangerous once they
	// reach a container's own shell.
	if err := validateShellMeta(req.CommandTokens); err != nil {
		e.auditViolation(ctx, req, "SHELL_CHAINING", err.Error())
		return nil, err
	}
	if req.Shell {
		if err := validateShellForm(req.CommandTokens); err != nil {
			e.auditViolation(ctx, req, "SHELL_CHAINING", err.Error())
			return nil, err
		}
	}

	envelope := DefaultResourceEnvelope()
	if req.Envelope != nil {
		envelope = *req.Envelope
	}
	env := envelopeEnv(envelope, req.DisableEnvelope)

	argv := append([]string{"exec", req.Container}, req.CommandTokens...)
	procResult, err := e.runner.Run(ctx, subprocess.Descriptor{
		Program:       "docker",
		Args:          argv,
		Env:           env,
		TimeoutMillis: req.TimeoutMillis,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{
		ExitCode: procResult.ExitCode,
		Stdout:   procResult.Stdout,
		Stderr:   procResult.Stderr,
	}
	if isResourceViolationKind(procResult.ErrorKind) {
		violation := &ResourceViolation{
			Kind:        procResult.ErrorKind,
			Description: resourceViolationDescription(procResult.ErrorKind),
			Hint:        resourceViolationHint(procResult.ErrorKind),
		}
		result.ResourceViolation = violation
		e.auditViolation(ctx, req, procResult.ErrorKind, violation.Description)
		return result, nil
	}

	if e.auditLog != nil {
		_ = e.auditLog.Append(ctx, audit.Record{
			CorrelationID: req.CorrelationID,
			UserIdentity:  req.UserIdentity,
			EventType:     audit.EventCommandExec,
			SubjectRef:    req.Container,
			Details: map[string]any{
				"exitCode": procResult.ExitCode,
				"shell":    req.Shell,
			},
		})
	}
	return result, nil
}

func (e *Executor) auditViolation(ctx context.Context, req Request, rule, description string) {
	if e.auditLog == nil {
		return
	}
	_ = e.auditLog.Append(ctx, audit.Record{
		CorrelationID: req.CorrelationID,
		UserIdentity:  req.UserIdentity,
		EventType:     audit.EventSecurityViolation,
		SubjectRef:    req.Container,
		Details: map[string]any{
			"rule":        rule,
			"description": description,
		},
	})
}

func isResourceViolationKind(kind string) bool {
	switch kind {
	case "RESOURCE_LIMIT", "OOM", "CPU_LIMIT", "FILE_SIZE_LIMIT", "BLOCKED_SYSCALL":
		return true
	}
	return false
}

func resourceViolationDescription(kind string) string {
	switch kind {
	case "RESOURCE_LIMIT":
		return "command was killed after exceeding its process or memory limit"
	case "OOM":
		return "command was killed by the out-of-memory killer"
	case "CPU_LIMIT":
		return "command exceeded its CPU time limit"
	case "FILE_SIZE_LIMIT":
		return "command exceeded its output file size limit"
	case "BLOCKED_SYSCALL":
		return "command attempted a blocked syscall"
	default:
		return "command exceeded a resource limit"
	}
}

func resourceViolationHint(kind string) string {
	switch kind {
	case "RESOURCE_LIMIT", "OOM":
		return "increase the memory/process envelope or investigate a leak in the target container"
	case "CPU_LIMIT":
		return "the command is CPU-bound; consider raising the timeout or the cpu cap"
	case "FILE_SIZE_LIMIT":
		return "the command wrote more output than fsize allows; redirect to a volume instead"
	case "BLOCKED_SYSCALL":
		return "the container's seccomp profile blocked a syscall this command needs"
	default:
		return ""
	}
}

// validateCommand implements §4.10's command validation: non-empty
// vector, no blocked token, combined length under the byte cap.
func validateCommand(tokens []string) error {
	if len(tokens) == 0 {
		return errs.New(errs.KindValidation, errs.CodeUsage, "command must be a non-empty token vector")
	}
	combined := strings.Join(tokens, " ")
	if len(combined) > maxCommandBytes {
		return errs.New(errs.KindValidation, errs.CodeUsage, "command exceeds 4096 bytes")
	}
	for _, tok := range tokens {
		if _, blocked := blockedTokens[strings.ToLower(tok)]; blocked {
			return errs.New(errs.KindSecurity, errs.CodeUsage, fmt.Sprintf("command token %q is blocked", tok))
		}
	}
	return nil
}

var shellDangerSubstrings = []string{";", "&&", "||", "|", "`", "$(", "${", ">", "<", "../", "~/"}

// validateShellMeta rejects any combined command containing chaining,
// substitution, redirection, or path-traversal syntax, regardless of
// whether the caller marked the invocation as shell form (property 8).
func validateShellMeta(tokens []string) error {
	combined := strings.Join(tokens, " ")
	for _, bad := range shellDangerSubstrings {
		if strings.Contains(combined, bad) {
			return errs.New(errs.KindSecurity, errs.CodeUsage, fmt.Sprintf("command contains forbidden construct %q", bad))
		}
	}
	return nil
}

// validateShellForm implements §4.10's additional shell-form validation,
// applied only when the first token is a recognized shell invoked with
// -c: re-tokenizes the command with shell-word grammar (so quoting can't
// smuggle a blocked subcommand past a naive whitespace split) and checks
// for blocked subcommands.
func validateShellForm(tokens []string) error {
	if len(tokens) < 3 {
		return nil
	}
	if _, ok := shellForms[tokens[0]]; !ok {
		return nil
	}
	if tokens[1] != "-c" {
		return nil
	}
	combined := strings.Join(tokens[2:], " ")
	words, err := shellwords.Parse(combined)
	if err != nil {
		return errs.Wrap(errs.KindValidation, errs.CodeUsage, "shell command failed to tokenize", err)
	}
	for _, w := range words {
		if _, blocked := blockedTokens[strings.ToLower(w)]; blocked {
			return errs.New(errs.KindSecurity, errs.CodeUsage, fmt.Sprintf("shell command references blocked subcommand %q", w))
		}
	}
	lower := strings.ToLower(combined)
	for tok := range blockedTokens {
		if strings.Contains(lower, tok) {
			return errs.New(errs.KindSecurity, errs.CodeUsage, fmt.Sprintf("shell command references blocked subcommand %q", tok))
		}
	}
	return nil
}

func envelopeEnv(e ResourceEnvelope, disabled bool) []string {
	if disabled {
		return nil
	}
	return []string{
		fmt.Sprintf("MC_NPROC_HARD=%d", e.NprocHard),
		fmt.Sprintf("MC_NPROC_SOFT=%d", e.NprocSoft),
		fmt.Sprintf("MC_MEMORY_HARD=%d", e.MemoryHard),
		fmt.Sprintf("MC_MEMORY_SOFT=%d", e.MemorySoft),
		fmt.Sprintf("MC_FSIZE=%d", e.FsizeBytes),
		fmt.Sprintf("MC_CORE=%d", e.Core),
	}
}
