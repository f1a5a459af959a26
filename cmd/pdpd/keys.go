package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/blake3"

	"esoe-hq/pdp/pkg/invalidation"
)

var keysFlags struct {
	output string
	name   string
	force  bool
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage cache clear signing keys",
	Long: `Generate and inspect the Ed25519 keys used to sign cache clear requests.

The private key is referenced by signing.private_key_path. The public key
is given to enforcement points so they can verify requests.

Subcommands:
  generate    - Generate a new Ed25519 keypair
  fingerprint - Print the fingerprint of a public or private key

Examples:
  pdpd keys generate --output /etc/pdp --name pdp
  pdpd keys fingerprint /etc/pdp/spep.pub`,
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate new keypair",
	Long: `Generate a new Ed25519 keypair.

The keys are saved as PEM files with restrictive permissions:
  - Public key:  <name>.pub (0644, PKIX)
  - Private key: <name>.key (0600, PKCS#8)`,
	RunE: generateKeys,
}

var keysFingerprintCmd = &cobra.Command{
	Use:   "fingerprint PATH",
	Short: "Print a key fingerprint",
	Args:  cobra.ExactArgs(1),
	RunE:  fingerprintKey,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysGenerateCmd, keysFingerprintCmd)

	keysGenerateCmd.Flags().StringVarP(&keysFlags.output, "output", "o", ".", "output directory")
	keysGenerateCmd.Flags().StringVar(&keysFlags.name, "name", "pdp", "key file base name")
	keysGenerateCmd.Flags().BoolVar(&keysFlags.force, "force", false, "overwrite existing key files")
}

func generateKeys(cmd *cobra.Command, args []string) error {
	out := cmdOut(cmd)

	publicKey, privateKey, err := invalidation.GenerateKey()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(keysFlags.output, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	privPEM, err := invalidation.EncodePrivateKeyPEM(privateKey)
	if err != nil {
		return fmt.Errorf("failed to encode private key: %w", err)
	}
	pubPEM, err := invalidation.EncodePublicKeyPEM(publicKey)
	if err != nil {
		return fmt.Errorf("failed to encode public key: %w", err)
	}

	privateKeyPath := filepath.Join(keysFlags.output, keysFlags.name+".key")
	publicKeyPath := filepath.Join(keysFlags.output, keysFlags.name+".pub")
	if err := writeKeyFile(privateKeyPath, privPEM, 0600); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}
	if err := writeKeyFile(publicKeyPath, pubPEM, 0644); err != nil {
		return fmt.Errorf("failed to save public key: %w", err)
	}

	fmt.Fprintf(out, "Public Key:  %s\n", publicKeyPath)
	fmt.Fprintf(out, "Private Key: %s\n", privateKeyPath)
	fmt.Fprintf(out, "Fingerprint: %s\n", fingerprint(publicKey))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration snippet:")
	fmt.Fprintln(out, "signing:")
	fmt.Fprintf(out, "  private_key_path: %q\n", privateKeyPath)
	return nil
}

func fingerprintKey(cmd *cobra.Command, args []string) error {
	pub, err := invalidation.LoadPublicKey(args[0])
	if err != nil {
		priv, privErr := invalidation.LoadPrivateKey(args[0])
		if privErr != nil {
			return fmt.Errorf("%s is neither an Ed25519 public nor private key: %w", args[0], err)
		}
		pub = priv.Public().(ed25519.PublicKey)
	}
	fmt.Fprintln(cmdOut(cmd), fingerprint(pub))
	return nil
}

// fingerprint is the first 16 bytes of the BLAKE3 hash of the raw public
// key, hex encoded.
func fingerprint(key ed25519.PublicKey) string {
	sum := blake3.Sum256(key)
	return hex.EncodeToString(sum[:16])
}

func writeKeyFile(path string, data []byte, perm os.FileMode) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if keysFlags.force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	// #nosec G304 - user-specified output path is expected for a CLI tool.
	f, err := os.OpenFile(path, flags, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// cmdOut returns the command's output writer, or stdout when the command
// is invoked directly.
func cmdOut(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}
