// Package history keeps a git log of every section's committed state. Each
// project is one repository; each section is sections/<id>.json in it.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"aidoc/editor/internal/section"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var ErrNotFound = errors.New("history not found")

type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	author  string
	lockMu  sync.Mutex
	locks   map[int64]*sync.Mutex
}

func New(baseDir, author string) *Service {
	if author == "" {
		author = "editor"
	}
	return &Service{
		baseDir: baseDir,
		author:  author,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// recordedSection is the file written per revision. The position in the
// project is not part of a revision; the shadowing field keeps it out.
type recordedSection struct {
	section.Section
	SectionOrder *int `json:"section_order,omitempty"`
}

// Record commits the section's current state. It returns false without
// committing when the file would not change.
func (s *Service) Record(projectID int64, sec section.Section, message string) (Revision, bool, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(projectID)
	if err != nil {
		return Revision{}, false, err
	}

	payload, err := json.MarshalIndent(recordedSection{Section: sec}, "", "  ")
	if err != nil {
		return Revision{}, false, fmt.Errorf("marshal section: %w", err)
	}
	payload = append(payload, '\n')

	rel := sectionPath(sec.ID)
	if previous, err := headFile(repo, rel); err == nil && bytes.Equal(previous, payload) {
		return Revision{}, false, nil
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, false, fmt.Errorf("open worktree: %w", err)
	}
	abs := filepath.Join(worktree.Filesystem.Root(), rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Revision{}, false, fmt.Errorf("create sections dir: %w", err)
	}
	if err := os.WriteFile(abs, payload, 0o644); err != nil {
		return Revision{}, false, fmt.Errorf("write %s: %w", rel, err)
	}
	if _, err := worktree.Add(rel); err != nil {
		return Revision{}, false, fmt.Errorf("git add %s: %w", rel, err)
	}
	rev, err := s.commit(repo, worktree, message)
	if err != nil {
		return Revision{}, false, err
	}
	return rev, true, nil
}

// Forget commits the removal of a deleted section. Sections that were never
// recorded are ignored.
func (s *Service) Forget(projectID, sectionID int64, message string) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	rel := sectionPath(sectionID)
	if _, err := headFile(repo, rel); err != nil {
		return nil
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if _, err := worktree.Remove(rel); err != nil {
		return fmt.Errorf("git rm %s: %w", rel, err)
	}
	_, err = s.commit(repo, worktree, message)
	return err
}

// Revisions lists the commits that touched a section, newest first.
func (s *Service) Revisions(projectID, sectionID int64, limit int) ([]Revision, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	rel := sectionPath(sectionID)
	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), FileName: &rel})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// At returns the section as it was recorded in the given commit. Abbreviated
// hashes are accepted. SectionOrder is always zero.
func (s *Service) At(projectID, sectionID int64, hash string) (section.Section, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return section.Section{}, fmt.Errorf("project %d: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return section.Section{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return section.Section{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return section.Section{}, fmt.Errorf("read commit %s: %w", hash, ErrNotFound)
	}
	file, err := commitObj.File(sectionPath(sectionID))
	if err != nil {
		return section.Section{}, fmt.Errorf("section %d at %s: %w", sectionID, hash, ErrNotFound)
	}
	contents, err := file.Contents()
	if err != nil {
		return section.Section{}, fmt.Errorf("read section file: %w", err)
	}
	var sec section.Section
	if err := json.Unmarshal([]byte(contents), &sec); err != nil {
		return section.Section{}, fmt.Errorf("decode section file: %w", err)
	}
	return sec, nil
}

func (s *Service) repoPath(projectID int64) string {
	return filepath.Join(s.baseDir, strconv.FormatInt(projectID, 10))
}

func (s *Service) projectLock(projectID int64) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[projectID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[projectID] = lock
	return lock
}

// ensureRepo opens the project's repository, creating it with HEAD on main
// when it does not exist yet.
func (s *Service) ensureRepo(projectID int64) (*git.Repository, error) {
	path := s.repoPath(projectID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) commit(repo *git.Repository, worktree *git.Worktree, message string) (Revision, error) {
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.author,
			Email: fmt.Sprintf("%s@local.aidoc.dev", sanitizeEmail(s.author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return Revision{}, fmt.Errorf("commit: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), nil
}

func headFile(repo *git.Repository, rel string) ([]byte, error) {
	head, err := repo.Head()
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, err
	}
	file, err := commitObj.File(rel)
	if err != nil {
		return nil, err
	}
	contents, err := file.Contents()
	if err != nil {
		return nil, err
	}
	return []byte(contents), nil
}

func sectionPath(sectionID int64) string {
	return filepath.ToSlash(filepath.Join("sections", strconv.FormatInt(sectionID, 10)+".json"))
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, ErrNotFound)
	}
	return *resolved, nil
}
