// Copyright 2025 Cachet Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/cachet-io/cachet/keystore"
	"github.com/spf13/cobra"
)

var keygenFlags = struct {
	output      string
	description string
	encrypt     bool
}{}

func keygenRun(_ *cobra.Command, _ []string) {
	key, err := keystore.Generate(keygenFlags.description)
	if err != nil {
		slog.Error("failed to generate signing key: " + err.Error())
		os.Exit(1)
	}
	if keygenFlags.encrypt {
		err = key.SaveEncrypted(keygenFlags.output)
	} else {
		err = key.Save(keygenFlags.output)
	}
	if err != nil {
		slog.Error("failed to save signing key: " + err.Error())
		os.Exit(1)
	}
	fmt.Printf("wrote signing key to %s\n", keygenFlags.output)
	fmt.Printf("principal: %s\n", key.Principal())
}

func keygenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 signing-key file",
		Run:   keygenRun,
	}
	cmd.Flags().StringVarP(
		&keygenFlags.output,
		"output",
		"o",
		"",
		"path to write the key file to",
	)
	cmd.Flags().StringVar(
		&keygenFlags.description,
		"description",
		"",
		"free-form description stored in the key file",
	)
	cmd.Flags().BoolVar(
		&keygenFlags.encrypt,
		"encrypt",
		false,
		fmt.Sprintf(
			"encrypt the key file with sops (path must end in %s)",
			keystore.EncryptedFileSuffix,
		),
	)
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
