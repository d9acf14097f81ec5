package console

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"pkt.systems/poiconsole/schema"
)

type lineResult struct {
	line string
	err  error
}

// lineReader reads one line at a time and never keeps a read in flight
// between calls that completed, so a terminal prompt can take over stdin.
type lineReader struct {
	r       *bufio.Reader
	pending chan lineResult
	eof     bool
}

func newLineReader(in io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReader(in)}
}

func (l *lineReader) next(ctx context.Context) (string, error) {
	if l.eof {
		return "", io.EOF
	}
	if l.pending == nil {
		ch := make(chan lineResult, 1)
		l.pending = ch
		go func() {
			line, err := l.r.ReadString('\n')
			ch <- lineResult{line: line, err: err}
		}()
	}
	select {
	case res := <-l.pending:
		l.pending = nil
		line := strings.TrimRight(res.line, "\r\n")
		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				l.eof = true
				if line != "" {
					return line, nil
				}
			}
			return "", res.err
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// terminalFD reports the descriptor of in when it is an interactive terminal.
func terminalFD(in io.Reader) (int, bool) {
	f, ok := in.(*os.File)
	if !ok {
		return -1, false
	}
	fd := int(f.Fd())
	return fd, term.IsTerminal(fd)
}

// readCredential asks for a token. On a terminal the input is not echoed.
func (c *Console) readCredential(ctx context.Context) (schema.Credential, error) {
	c.write("token: ")
	if c.termFD >= 0 {
		secret, err := c.readPassword(c.termFD)
		c.write("\n")
		if err != nil {
			return "", err
		}
		return schema.Credential(strings.TrimSpace(string(secret))), nil
	}
	line, err := c.lines.next(ctx)
	if err != nil {
		return "", err
	}
	return schema.Credential(strings.TrimSpace(line)), nil
}
