package source

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os/exec"

	"github.com/google/shlex"
)

// RunDecrypt invokes the configured external decrypt command,
// appending the account directory as its final argument. The
// command is expected to (re)populate <accountDir>/dumps with
// JSONL message dumps. Stdout and stderr are streamed to the
// log so long decrypt runs stay observable.
func RunDecrypt(ctx context.Context, command, accountDir string) error {
	args, err := shlex.Split(command)
	if err != nil {
		return fmt.Errorf("parsing decrypt command: %w", err)
	}
	if len(args) == 0 {
		return fmt.Errorf("decrypt command is empty")
	}

	path, err := exec.LookPath(args[0])
	if err != nil {
		return fmt.Errorf("decrypt command not found: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, append(args[1:], accountDir)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attaching stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("attaching stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting decrypt command: %w", err)
	}

	drain := func(name string, r *bufio.Scanner) {
		for r.Scan() {
			log.Printf("decrypt %s: %s", name, r.Text())
		}
	}
	go drain("stdout", bufio.NewScanner(stdout))
	go drain("stderr", bufio.NewScanner(stderr))

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("decrypt command failed: %w", err)
	}
	return nil
}
