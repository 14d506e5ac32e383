package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/virusdefender/goutils"
	"github.com/virusdefender/goutils/buildinfo"
	"golang.org/x/term"

	"github.com/cipherpack/cipherpack"
)

// passphraseEnvVar lets scripted invocations skip the interactive prompt,
// the same escape hatch jfcrypt's getPassphrase offers.
const passphraseEnvVar = "CIPHERPACK_PASSPHRASE"

func main() {
	app := cli.NewApp()
	app.Name = "cipherpack"
	app.Usage = "hybrid authenticated encryption container tool"
	app.Version = fmt.Sprintf("version %s, commit: %s", buildinfo.Version, buildinfo.GitCommit)
	app.Commands = []*cli.Command{
		genkeyCommand,
		encryptCommand,
		decryptCommand,
		headerCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Printf("run app failed, err: %v\n", err)
		os.Exit(1)
	}
}

var genkeyCommand = &cli.Command{
	Name:  "genkey",
	Usage: "generate an RSA keypair for signing or key-wrapping",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "private", Usage: "private key output path", Value: "./key.pem"},
		&cli.StringFlag{Name: "public", Usage: "public key output path", Value: "./key.pub.pem"},
		&cli.IntFlag{Name: "bits", Usage: "RSA modulus size", Value: 3072},
		&cli.BoolFlag{Name: "encrypt", Usage: "seal the private key with an Argon2id-derived passphrase"},
	},
	Action: func(c *cli.Context) error {
		privPath := c.String("private")
		pubPath := c.String("public")
		if goutils.FileExists(privPath) || goutils.FileExists(pubPath) {
			return fmt.Errorf("key file already exists, refusing to overwrite")
		}
		key, err := cipherpack.GenerateKeyPair(c.Int("bits"))
		if err != nil {
			return err
		}
		if c.Bool("encrypt") {
			passphrase, err := passphraseFromEnvOrPrompt("new private key passphrase: ")
			if err != nil {
				return err
			}
			defer zeroSlice(passphrase)
			if len(passphrase) == 0 {
				return fmt.Errorf("--encrypt requires a non-empty passphrase")
			}
			if err := cipherpack.DumpEncryptedPrivateKeyPEM(privPath, key, string(passphrase)); err != nil {
				return err
			}
		} else if err := cipherpack.DumpPrivateKeyPEM(privPath, key); err != nil {
			return err
		}
		if err := cipherpack.DumpPublicKeyPEM(pubPath, &key.PublicKey); err != nil {
			return err
		}
		fp, err := cipherpack.Fingerprint(&key.PublicKey)
		if err != nil {
			return err
		}
		fmt.Printf("generated keypair\n  private: %s\n  public:  %s\n  fingerprint: %s\n", privPath, pubPath, fp)
		return nil
	},
}

var encryptCommand = &cli.Command{
	Name:  "encrypt",
	Usage: "encrypt a file into a Cipherpack container",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "input", Usage: "plaintext input path", Required: true},
		&cli.StringFlag{Name: "output", Usage: "container output path", Required: true},
		&cli.StringFlag{Name: "recipient-public", Usage: "recipient's public key, to wrap the content key", Required: true},
		&cli.StringFlag{Name: "sign-private", Usage: "sender's private signing key", Required: true},
		&cli.BoolFlag{Name: "force", Usage: "overwrite an existing output file"},
		&cli.StringFlag{Name: "filename", Usage: "data_filename recorded in the header"},
		&cli.StringFlag{Name: "target-path", Usage: "target_path recorded in the header"},
		&cli.StringFlag{Name: "intention", Usage: "intention recorded in the header"},
		&cli.Uint64Flag{Name: "payload-version", Usage: "payload_version recorded in the header"},
		&cli.Uint64Flag{Name: "payload-version-parent", Usage: "payload_version_parent recorded in the header"},
		&cli.BoolFlag{Name: "progress", Usage: "print progress to stderr"},
	},
	Action: func(c *cli.Context) error {
		signPassphrase, err := passphraseFromEnvOrPrompt("sign key passphrase (empty if unencrypted): ")
		if err != nil {
			return err
		}
		defer zeroSlice(signPassphrase)

		var listener cipherpack.Listener
		if c.Bool("progress") {
			listener = &cliProgressListener{}
		}

		header, err := cipherpack.Encrypt(cipherpack.EncryptOptions{
			InputPath:            c.String("input"),
			OutputPath:           c.String("output"),
			Overwrite:            c.Bool("force"),
			PublicKeyPath:        c.String("recipient-public"),
			SignKeyPath:          c.String("sign-private"),
			SignPassphrase:       string(signPassphrase),
			DataFilename:         c.String("filename"),
			TargetPath:           c.String("target-path"),
			Intention:            c.String("intention"),
			PayloadVersion:       c.Uint64("payload-version"),
			PayloadVersionParent: c.Uint64("payload-version-parent"),
			Listener:             listener,
		})
		if err != nil {
			return err
		}
		fmt.Printf("encrypt succeeded, wrote %s (data_filename=%q)\n", c.String("output"), header.DataFilename)
		return nil
	},
}

var decryptCommand = &cli.Command{
	Name:  "decrypt",
	Usage: "decrypt a Cipherpack container",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "input", Usage: "container input path", Required: true},
		&cli.StringFlag{Name: "output", Usage: "plaintext output path", Required: true},
		&cli.StringFlag{Name: "sender-public", Usage: "sender's public key, to verify Header-2", Required: true},
		&cli.StringFlag{Name: "private", Usage: "recipient's private key, to unwrap the content key", Required: true},
		&cli.BoolFlag{Name: "force", Usage: "overwrite an existing output file"},
		&cli.BoolFlag{Name: "progress", Usage: "print progress to stderr"},
	},
	Action: func(c *cli.Context) error {
		passphrase, err := passphraseFromEnvOrPrompt("private key passphrase (empty if unencrypted): ")
		if err != nil {
			return err
		}
		defer zeroSlice(passphrase)

		var listener cipherpack.Listener
		if c.Bool("progress") {
			listener = &cliProgressListener{}
		}

		header, err := cipherpack.Decrypt(cipherpack.DecryptOptions{
			InputPath:         c.String("input"),
			OutputPath:        c.String("output"),
			Overwrite:         c.Bool("force"),
			SignPublicKeyPath: c.String("sender-public"),
			PrivateKeyPath:    c.String("private"),
			Passphrase:        string(passphrase),
			Listener:          listener,
		})
		if err != nil {
			return err
		}
		fmt.Printf("decrypt succeeded, wrote %s (data_filename=%q)\n", c.String("output"), header.DataFilename)
		return nil
	},
}

var headerCommand = &cli.Command{
	Name:  "header",
	Usage: "decode and verify a container's header without writing the payload",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "input", Usage: "container input path", Required: true},
		&cli.StringFlag{Name: "sender-public", Usage: "sender's public key, to verify Header-2", Required: true},
	},
	Action: func(c *cli.Context) error {
		header, err := cipherpack.GetHeader(c.String("input"), c.String("sender-public"), nil, nil)
		if err != nil {
			return err
		}
		fmt.Printf("data_filename:           %s\n", header.DataFilename)
		fmt.Printf("target_path:             %s\n", header.TargetPath)
		fmt.Printf("intention:               %s\n", header.Intention)
		fmt.Printf("payload_version:         %d\n", header.PayloadVersion)
		fmt.Printf("payload_version_parent:  %d\n", header.PayloadVersionParent)
		fmt.Printf("sign_algo_name:          %s\n", header.SignAlgoName)
		return nil
	},
}

func passphraseFromEnvOrPrompt(prompt string) ([]byte, error) {
	if env := os.Getenv(passphraseEnvVar); env != "" {
		return []byte(env), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr)
		return nil, nil
	}
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return pass, nil
}

func zeroSlice(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// cliProgressListener prints a one-line progress report to stderr and ends
// that line on NotifyEnd; all other Listener hooks are left at their
// zero-value behavior.
type cliProgressListener struct {
	cipherpack.NoopListener
}

func (p *cliProgressListener) NotifyProgress(decrypt bool, total, processed uint64) {
	if total == 0 {
		fmt.Fprintf(os.Stderr, "\rprocessed %d bytes", processed)
		return
	}
	fmt.Fprintf(os.Stderr, "\r%d/%d bytes (%.1f%%)", processed, total, 100*float64(processed)/float64(total))
}

func (p *cliProgressListener) NotifyEnd(decrypt bool, header *cipherpack.PackHeader, success bool) {
	fmt.Fprintln(os.Stderr)
}
