package transport

import (
	"context"

	"github.com/jgehring/svndumpgen/dumptypes"
)

// SubtreeEntry is one path discovered while recursively listing a remote
// directory for copy materialisation.
type SubtreeEntry struct {
	Path string
	Kind dumptypes.NodeKind
}

// FetchSubtree recursively lists path at rev via GetDir, returning every
// descendant (and path itself) with its kind. Grounded on
// original_source/src/path_repo.c's pr_fetch_paths_rec, used by the path
// repository to materialise a copy whose source lies outside the dumped
// prefix (spec §4.1 commit_log).
func FetchSubtree(ctx context.Context, sess RemoteSession, path string, rev dumptypes.RemoteRev) ([]SubtreeEntry, error) {
	kind, err := sess.CheckPath(ctx, path, rev)
	if err != nil {
		return nil, err
	}
	if kind == dumptypes.KindFile {
		return []SubtreeEntry{{Path: path, Kind: dumptypes.KindFile}}, nil
	}
	out := []SubtreeEntry{{Path: path, Kind: dumptypes.KindDir}}
	children, err := sess.GetDir(ctx, path, rev)
	if err != nil {
		return nil, err
	}
	for name, d := range children {
		child := name
		if path != "" {
			child = path + "/" + name
		}
		if d.Kind == dumptypes.KindFile {
			out = append(out, SubtreeEntry{Path: child, Kind: dumptypes.KindFile})
			continue
		}
		sub, err := FetchSubtree(ctx, sess, child, rev)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}
