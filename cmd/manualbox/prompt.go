package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// terminalPrompter reads keys from the controlling terminal without echo,
// or from a plain line on stdin when stdin is not a terminal.
type terminalPrompter struct {
	in  *os.File
	out io.Writer
}

func newTerminalPrompter() *terminalPrompter {
	return &terminalPrompter{in: os.Stdin, out: os.Stderr}
}

func (p *terminalPrompter) PromptKey(ctx context.Context) (string, error) {
	fmt.Fprint(p.out, "Container key or passphrase: ")

	fd := int(p.in.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("reading key: %w", err)
		}
		return strings.TrimSpace(string(secret)), nil
	}

	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (p *terminalPrompter) AnnounceKey(secret string) error {
	_, err := fmt.Fprintf(p.out, `
A new container was created. Its key is:

    %s

Store it somewhere safe. It is shown only this once, and the container
cannot be opened without it.

`, secret)
	return err
}
