package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"price-alert-bot/lib/translation"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const prompt = "> "

// Executor runs one command line and returns the reply to print.
type Executor interface {
	Execute(ctx context.Context, line string) string
}

// Run reads commands from in until EOF, "exit", "quit" or ctx is done.
// Notifications print asynchronously to the same terminal, so out should serialize writes.
func Run(ctx context.Context, in io.Reader, out io.Writer, executor Executor) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	fmt.Fprintln(out, translation.Translate("Type help for the list of commands."))
	for {
		fmt.Fprint(out, prompt)

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				select {
				case err := <-scanErr:
					return errors.Wrap(err, "could not read command")
				default:
					return nil
				}
			}
			line = strings.TrimSpace(l)
		}

		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			log.Debug("Console closed by user")
			return nil
		}

		if reply := executor.Execute(ctx, line); reply != "" {
			fmt.Fprintln(out, reply)
		}
	}
}
