// Package git serves policy documents from a branch of a Git repository.
//
// Repository clones the configured branch on first use and fast-forwards
// it on every later sync. Store layers a store.FileStore over the working
// tree, so documents are parsed exactly as the file backend parses them
// and change detection still runs on modification times: a pull rewrites
// only the files a commit touched, and those become the descriptors the
// next incremental rebuild picks up.
//
//	s, err := git.NewStore(cfg.Store.Git, logger)
//	if err != nil {
//		return err
//	}
//	last, err := s.LastModified(ctx) // pulls, then scans
//
// # Authentication
//
// HTTPS repositories accept an access token and SSH repositories a
// private key file. The key must not be readable by group or others.
package git
