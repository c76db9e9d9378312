package main

import (
	"context"
	"fmt"

	"github.com/devault/backend/pkg/utils/sshkeygen"
	"github.com/urfave/cli/v3"
)

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Write an Ed25519 key pair for device authentication",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "out",
				Usage: "Private key path (public key gets a .pub suffix)",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite an existing key pair",
			},
		},
		Action: keygen,
	}
}

func keygen(_ context.Context, cmd *cli.Command) error {
	privateKeyPath := cmd.String("out")
	publicKeyPath := privateKeyPath + ".pub"
	if privateKeyPath == "" {
		var err error
		privateKeyPath, publicKeyPath, err = sshkeygen.DefaultPaths("id_ed25519")
		if err != nil {
			return err
		}
	}

	fmt.Printf("Private key: %s\n", privateKeyPath)
	fmt.Printf("Public key: %s\n", publicKeyPath)

	created, err := sshkeygen.WriteKeyPair(privateKeyPath, publicKeyPath, cmd.Bool("force"))
	if err != nil {
		return fmt.Errorf("failed to generate key pair: %w", err)
	}
	if created {
		fmt.Println("✓ Key pair generated successfully")
	} else {
		fmt.Println("✓ Key pair already exists (skipped)")
	}
	return nil
}
