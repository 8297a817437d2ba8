// Package revision derives build numbers from the git HEAD of the workspace.
// It only reads repository state.
package revision

import (
	"errors"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// ShortLength is the number of hash characters used for build numbers.
const ShortLength = 7

// Head describes the commit checked out in a repository.
type Head struct {
	Hash   string
	Branch string
	// Tag is set when a tag points directly at Hash.
	Tag string
}

// Short returns the abbreviated commit hash.
func (h Head) Short() string {
	if len(h.Hash) <= ShortLength {
		return h.Hash
	}
	return h.Hash[:ShortLength]
}

// BuildNumber returns the tag pointing at HEAD, falling back to the short hash.
func (h Head) BuildNumber() string {
	if h.Tag != "" {
		return h.Tag
	}
	return h.Short()
}

// Read resolves HEAD of the repository containing dir.
func Read(dir string) (Head, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Head{}, foundationerrors.ConfigError("build_number_from_git is set but no git repository was found").
				WithCause(err).
				WithContext("path", dir).
				Build()
		}
		return Head{}, foundationerrors.WrapError(err, foundationerrors.CategoryFileSystem, "failed to open repository").
			WithContext("path", dir).
			Build()
	}

	ref, err := repo.Head()
	if err != nil {
		return Head{}, foundationerrors.WrapError(err, foundationerrors.CategoryValidation, "repository has no HEAD commit").
			WithContext("path", dir).
			Build()
	}

	head := Head{Hash: ref.Hash().String()}
	if ref.Name().IsBranch() {
		head.Branch = ref.Name().Short()
	}
	head.Tag = tagAt(repo, ref.Hash())
	return head, nil
}

// tagAt returns the alphabetically first tag resolving to hash.
func tagAt(repo *git.Repository, hash plumbing.Hash) string {
	tags, err := repo.Tags()
	if err != nil {
		return ""
	}
	defer tags.Close()

	var found string
	_ = tags.ForEach(func(ref *plumbing.Reference) error {
		target := ref.Hash()
		if obj, err := repo.TagObject(target); err == nil {
			target = obj.Target
		}
		if target != hash {
			return nil
		}
		name := ref.Name().Short()
		if found == "" || name < found {
			found = name
		}
		return nil
	})
	return found
}
