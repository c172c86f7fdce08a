package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/example/masterclaw/internal/dispatch"
	"github.com/example/masterclaw/internal/errs"
)

// flagTrue reads a boolean flag captured on the CommandContext by
// PersistentPreRunE. Subcommand handlers receive (ctx, cc) only, not the
// *cobra.Command itself, so root-level persistent flags like --force are
// read back this way rather than re-declared locally on each subcommand.
func flagTrue(cc *dispatch.CommandContext, name string) bool {
	v, ok := cc.Flags[name]
	if !ok {
		return false
	}
	s, _ := v.(string)
	return s == "true"
}

// confirmDangerous implements §6's "dangerous operations require --force
// or an interactive confirmation": if force is set, it's a no-op; if
// stdin is a terminal, it prompts; otherwise (non-interactive, no
// --force) it refuses rather than silently proceeding.
func confirmDangerous(force bool, prompt string) error {
	if force {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errs.New(errs.KindUsage, errs.CodeUsage,
			fmt.Sprintf("%s requires --force when not running interactively", prompt))
	}
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	if answer != "y" && answer != "yes" {
		return errs.New(errs.KindCancelled, errs.CodeCancelled, "operation not confirmed")
	}
	return nil
}
