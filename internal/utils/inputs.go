package utils

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrSelectionCancelled is returned when the user cancels a selection.
var ErrSelectionCancelled = errors.New("selection cancelled")

// PromptYesNo asks a yes/no question until it gets an answer. End of input counts as no.
func PromptYesNo(prompt string, reader io.Reader, writer io.Writer) bool {
	scanner := bufio.NewScanner(reader)

	for {
		_, _ = fmt.Fprintf(writer, "%s (y/n): ", prompt)
		if !scanner.Scan() {
			return false
		}

		switch strings.TrimSpace(strings.ToLower(scanner.Text())) {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
	}
}

// PromptSelection prints items through display and reads a 1-based choice.
// It returns the 0-based index, or ErrSelectionCancelled when the user enters 0
// or input ends. Invalid entries are asked again.
func PromptSelection[T any](items []T, prompt string, reader io.Reader, writer io.Writer, display func(index int, item T)) (int, error) {
	for i, item := range items {
		display(i, item)
	}

	scanner := bufio.NewScanner(reader)
	for {
		_, _ = fmt.Fprintf(writer, "%s (0 to cancel): ", prompt)
		if !scanner.Scan() {
			return -1, ErrSelectionCancelled
		}

		choice, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		switch {
		case err != nil:
			_, _ = fmt.Fprintln(writer, "Please enter a number.")
		case choice == 0:
			return -1, ErrSelectionCancelled
		case choice < 0 || choice > len(items):
			_, _ = fmt.Fprintf(writer, "Please enter a number between 1 and %d.\n", len(items))
		default:
			return choice - 1, nil
		}
	}
}

// ReadString prints prompt and reads one trimmed line.
func ReadString(prompt string, reader io.Reader, writer io.Writer) (string, error) {
	if prompt != "" {
		_, _ = fmt.Fprint(writer, prompt)
	}
	scanner := bufio.NewScanner(reader)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", errors.New("no input")
	}
	return strings.TrimSpace(scanner.Text()), nil
}
