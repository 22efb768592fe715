package tunnel

import (
	"context"
)

// DefaultTunnelID is the last-resort tunnel name when no override exists and
// the repository name cannot be determined.
const DefaultTunnelID = "webhook-tunnel"

// RepoNamer supplies the local repository name for tunnel ID derivation.
type RepoNamer interface {
	RepoName(ctx context.Context) (string, error)
}

// ResolveID determines the tunnel ID to use. Priority: explicit override,
// then repository name with a "-tunnel" suffix, then DefaultTunnelID.
func ResolveID(ctx context.Context, override string, repo RepoNamer) string {
	if override != "" {
		return override
	}

	if repo != nil {
		if name, err := repo.RepoName(ctx); err == nil && name != "" {
			return name + "-tunnel"
		}
	}

	return DefaultTunnelID
}
