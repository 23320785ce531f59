package open

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Source opens the export file at path in $EDITOR (less by default),
// positioned at line when the editor supports it.
func Source(path string, line int) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("file not found: %s", path)
	}
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "less"
	}
	cmd := editorCommand(editor, path, max(line, 1))
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func editorCommand(editor, path string, line int) *exec.Cmd {
	switch {
	case strings.Contains(editor, "vim") || strings.Contains(editor, "nvim"):
		return exec.Command(editor, fmt.Sprintf("+%d", line), path)
	case strings.Contains(editor, "code"):
		return exec.Command(editor, "--goto", path+":"+strconv.Itoa(line))
	case strings.Contains(editor, "less"):
		return exec.Command(editor, "+"+strconv.Itoa(line), path)
	default:
		return exec.Command(editor, path)
	}
}

// FindLine returns the 1-based line of the first occurrence of needle in
// path, or 1 when it is absent. Only the first line of a multi-line needle
// is searched, as exports may escape the rest.
func FindLine(path, needle string) (int, error) {
	needle, _, _ = strings.Cut(needle, "\n")
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return 1, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 1, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for n := 1; sc.Scan(); n++ {
		if strings.Contains(sc.Text(), needle) {
			return n, nil
		}
	}
	return 1, sc.Err()
}
