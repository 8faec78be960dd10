package tui

// Keybinding constants
const (
	KeyQuit  = "q"
	KeyCtrlC = "ctrl+c"
	KeyEnd   = "G"
)

// HelpView returns a one-line help bar with the keybindings.
func HelpView() string {
	return StyleHelp.Render("j/k/pgup/pgdn: scroll events | G: follow | q: stop compiling")
}
