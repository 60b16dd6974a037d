package ui

import (
	"errors"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/xtreamgames/xsync/internal/share"
)

// ErrNotInteractive is returned when a prompt is needed but stdin or stdout
// is not a terminal.
var ErrNotInteractive = errors.New("not running in an interactive terminal")

// ErrAborted is returned when the user cancels a prompt.
var ErrAborted = errors.New("aborted")

// IsInteractive reports whether both stdin and stdout are terminals.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// PromptPolicy asks how shared games should be combined with the local ones.
func PromptPolicy() (share.Policy, error) {
	if !IsInteractive() {
		return "", ErrNotInteractive
	}

	choice := string(share.PolicyMerge)
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Import shared games").
			Description("Merge keeps your games and adds the shared ones; replace discards yours.").
			Options(
				huh.NewOption("Merge with my games", string(share.PolicyMerge)),
				huh.NewOption("Replace my games", string(share.PolicyReplace)),
			).
			Value(&choice),
	))
	if err := runForm(form); err != nil {
		return "", err
	}
	return share.ParsePolicy(choice)
}

// Confirm asks a yes/no question. It defaults to no.
func Confirm(title string) (bool, error) {
	if !IsInteractive() {
		return false, ErrNotInteractive
	}

	ok := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Affirmative("Yes").
			Negative("No").
			Value(&ok),
	))
	if err := runForm(form); err != nil {
		return false, err
	}
	return ok, nil
}

func runForm(form *huh.Form) error {
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ErrAborted
		}
		return err
	}
	return nil
}
