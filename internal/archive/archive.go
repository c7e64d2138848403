// Package archive checkpoints session documents into per-session git
// repositories on disk. Checkpoints are GM-initiated; undo works from
// the live stack, while the archive is the long-term record a table can
// restore a past evening from.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"ritual/api/internal/game"
)

const sessionFile = "session.json"

// ErrNoCheckpoints means the session has never been checkpointed.
var ErrNoCheckpoints = errors.New("no checkpoints for session")

// CommitInfo describes one checkpoint.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service owns the per-session repositories under baseDir.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates an archive rooted at baseDir. Repositories are created
// lazily on first checkpoint.
func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Checkpoint writes the session document and commits it. The first
// checkpoint of a session initializes its repository.
func (s *Service) Checkpoint(code string, doc game.Session, author, message string) (CommitInfo, error) {
	lock := s.sessionLock(code)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(code)
	if err != nil {
		return CommitInfo{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(game.Normalize(doc), "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal session: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), sessionFile), append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write session file: %w", err)
	}
	if _, err := worktree.Add(sessionFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add session file: %w", err)
	}

	if message == "" {
		message = "Checkpoint"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.ritual.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit checkpoint: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists checkpoints newest first, up to limit (0 = all).
func (s *Service) History(code string, limit int) ([]CommitInfo, error) {
	lock := s.sessionLock(code)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(code))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNoCheckpoints
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, ErrNoCheckpoints
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// SessionAt loads the session document stored in one checkpoint.
func (s *Service) SessionAt(code, hash string) (game.Session, error) {
	lock := s.sessionLock(code)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(code))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return game.Session{}, ErrNoCheckpoints
		}
		return game.Session{}, fmt.Errorf("open repo: %w", err)
	}

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return game.Session{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return game.Session{}, fmt.Errorf("read commit %s: %w", hash, err)
	}

	file, err := commitObj.File(sessionFile)
	if err != nil {
		return game.Session{}, fmt.Errorf("load session file from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return game.Session{}, fmt.Errorf("open session reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return game.Session{}, fmt.Errorf("read session bytes: %w", err)
	}
	var doc game.Session
	if err := json.Unmarshal(raw, &doc); err != nil {
		return game.Session{}, fmt.Errorf("decode checkpoint session: %w", err)
	}
	return game.Normalize(doc), nil
}

func (s *Service) openOrInit(code string) (*git.Repository, error) {
	path := s.repoPath(code)
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
	return repo, nil
}

func (s *Service) repoPath(code string) string {
	return filepath.Join(s.baseDir, code)
}

func (s *Service) sessionLock(code string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[code]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[code] = lock
	return lock
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
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
		return "gm"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
