// Copyright 2026 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cmdlib

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// PromptFunc obtains consent from the user for the given request string.
//
// This function is used to provide the user some context through the
// provided string and then obtain a yes/no answer from the user.
type PromptFunc func(string) bool

// CLIPrompt returns a PromptFunc that asks a yes/no question on w and
// reads the answer from r.
//
// Erroneous input prompts the user again. A read error (including EOF on
// a non-interactive stdin) answers no.
func CLIPrompt(w io.Writer, r io.Reader) PromptFunc {
	return func(reason string) bool {
		b := bufio.NewReader(r)
		if err := prompt(w, reason); err != nil {
			return false
		}
		for {
			res, err := getPromptResponse(b)
			if err != nil {
				return false
			}
			switch res {
			case "y", "yes":
				return true
			case "n", "no":
				return false
			default:
				if err := reprompt(w, res); err != nil {
					return false
				}
			}
		}
	}
}

func prompt(w io.Writer, reason string) error {
	b := bufio.NewWriter(w)
	fmt.Fprintf(b, "%s [y/N] ", reason)
	return b.Flush()
}

func getPromptResponse(b *bufio.Reader) (string, error) {
	i, err := b.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.ToLower(i), " \n\t"), nil
}

func reprompt(w io.Writer, response string) error {
	b := bufio.NewWriter(w)
	fmt.Fprintf(b, "\n\tInvalid response %q. Please re-enter [y/N]: ", response)
	return b.Flush()
}
