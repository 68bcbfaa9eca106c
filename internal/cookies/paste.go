package cookies

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoInput is returned by ReadPasted when nothing was pasted.
var ErrNoInput = errors.New("no input received")

// maxLine bounds a single pasted line; exports are often one long line.
const maxLine = 16 << 20

// ReadPasted reads a pasted export line by line. Input ends at the first
// empty line that follows some content, or at EOF. Leading empty lines are
// skipped.
func ReadPasted(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			if len(lines) > 0 {
				break
			}
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read pasted cookies: %w", err)
	}
	if len(lines) == 0 {
		return "", ErrNoInput
	}
	return strings.Join(lines, "\n"), nil
}
