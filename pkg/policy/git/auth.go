package git

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"esoe-hq/pdp/pkg/config"
)

// tokenUser is sent as the basic auth user with access tokens. Hosting
// providers ignore it.
const tokenUser = "git"

// AuthMethod returns the transport credentials described by cfg. A nil
// method and nil error mean anonymous access.
func AuthMethod(cfg config.GitAuthConfig) (transport.AuthMethod, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "token":
		if cfg.Token == "" {
			return nil, errors.New("token authentication requires a token")
		}
		return &githttp.BasicAuth{Username: tokenUser, Password: cfg.Token}, nil
	case "ssh":
		return sshAuth(cfg.SSHKeyPath, cfg.SSHKeyPassphrase)
	default:
		return nil, fmt.Errorf("unsupported git auth type %q", cfg.Type)
	}
}

func sshAuth(keyPath, passphrase string) (transport.AuthMethod, error) {
	if keyPath == "" {
		return nil, errors.New("ssh authentication requires a key path")
	}
	info, err := os.Stat(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to access ssh key: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return nil, fmt.Errorf("ssh key %s is accessible by group or others (%04o)", keyPath, perm)
	}
	keys, err := ssh.NewPublicKeysFromFile("git", keyPath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load ssh key: %w", err)
	}
	return keys, nil
}
