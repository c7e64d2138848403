// Package app wires the domain services behind the HTTP and WebSocket
// surfaces.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"

	"ritual/api/internal/archive"
	"ritual/api/internal/blob"
	"ritual/api/internal/compendium"
	"ritual/api/internal/docstore"
	"ritual/api/internal/export"
	"ritual/api/internal/game"
	"ritual/api/internal/identity"
	"ritual/api/internal/media"
	"ritual/api/internal/util"
)

const gmKeyMeta = "gm_key"

// ErrGMKeyMismatch means the supplied GM key does not open the session.
var ErrGMKeyMismatch = errors.New("gm key mismatch")

// Service composes the stores and domain services the transports use.
type Service struct {
	store      docstore.Store
	identity   *identity.Provider
	compendium *compendium.Service
	archive    *archive.Service
	blob       *blob.Store
}

// New assembles the service. blob may be nil (images stay inline);
// compendium and archive are required.
func New(store docstore.Store, idp *identity.Provider, comp *compendium.Service, arch *archive.Service, blobStore *blob.Store) *Service {
	return &Service{
		store:      store,
		identity:   idp,
		compendium: comp,
		archive:    arch,
		blob:       blobStore,
	}
}

// Store exposes the document store for per-connection session clients.
func (s *Service) Store() docstore.Store { return s.store }

// Ping checks document store connectivity.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.store.GetMeta(ctx, "PING", "ping")
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return err
	}
	return nil
}

// SignInAnonymously mints a fresh anonymous identity.
func (s *Service) SignInAnonymously(ctx context.Context) (identity.Identity, error) {
	return s.identity.SignInAnonymously(ctx)
}

// VerifyToken resolves an identity token to its uid.
func (s *Service) VerifyToken(token string) (string, error) {
	return s.identity.Verify(token)
}

// CreateSession allocates a fresh session code and its empty document.
// A non-empty gmKey locks GM access behind it.
func (s *Service) CreateSession(ctx context.Context, gmKey string) (string, error) {
	var code string
	for attempt := 0; ; attempt++ {
		code = util.NewSessionCode()
		_, err := s.store.Get(ctx, code)
		if errors.Is(err, docstore.ErrNotFound) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("check session code: %w", err)
		}
		if attempt >= 5 {
			return "", errors.New("could not allocate a free session code")
		}
	}

	if err := s.store.Set(ctx, code, game.Normalize(game.Session{})); err != nil {
		return "", fmt.Errorf("create session %s: %w", code, err)
	}
	if gmKey != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(gmKey), bcrypt.DefaultCost)
		if err != nil {
			return "", fmt.Errorf("hash gm key: %w", err)
		}
		if err := s.store.SetMeta(ctx, code, gmKeyMeta, string(hash)); err != nil {
			return "", fmt.Errorf("store gm key: %w", err)
		}
	}
	return code, nil
}

// VerifyGMKey checks GM access to a session. Sessions created without a
// key stay open: any caller claiming GM is accepted, matching tables
// that trust everyone at them.
func (s *Service) VerifyGMKey(ctx context.Context, code, key string) error {
	hash, err := s.store.GetMeta(ctx, util.NormalizeSessionCode(code), gmKeyMeta)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load gm key: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
		return ErrGMKeyMismatch
	}
	return nil
}

// GetSession loads one session document. Non-GM callers get monster
// pools zeroed out; creature toughness is the GM's secret.
func (s *Service) GetSession(ctx context.Context, code string, asGM bool) (game.Session, error) {
	doc, err := s.store.Get(ctx, util.NormalizeSessionCode(code))
	if err != nil {
		return game.Session{}, err
	}
	if !asGM {
		return game.RedactMonsterPools(doc), nil
	}
	return doc, nil
}

// UploadMap ingests a map image, offloads it when object storage is
// configured, and replaces the session's map.
func (s *Service) UploadMap(ctx context.Context, code string, r io.Reader) (string, error) {
	code = util.NormalizeSessionCode(code)
	doc, err := s.store.Get(ctx, code)
	if err != nil {
		return "", err
	}
	uri, err := media.Ingest(r, media.KindMap)
	if err != nil {
		return "", err
	}
	uri, err = s.blob.OffloadDataURI(ctx, code, uri)
	if err != nil {
		return "", fmt.Errorf("offload map: %w", err)
	}
	if err := s.store.Set(ctx, code, game.SetMap(doc, uri)); err != nil {
		return "", fmt.Errorf("persist map: %w", err)
	}
	return uri, nil
}

// IngestPortrait processes a portrait upload and returns the data URI
// the caller attaches to a sheet via the normal update path.
func (s *Service) IngestPortrait(r io.Reader) (string, error) {
	return media.Ingest(r, media.KindPortrait)
}

// Export serializes a session document for download.
func (s *Service) Export(ctx context.Context, code string) (*export.Result, error) {
	code = util.NormalizeSessionCode(code)
	doc, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	return export.ExportSession(code, doc)
}

// Import replaces a session document with an uploaded export.
func (s *Service) Import(ctx context.Context, code string, data []byte) error {
	code = util.NormalizeSessionCode(code)
	if _, err := s.store.Get(ctx, code); err != nil {
		return err
	}
	doc, err := export.ParseSession(data)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, code, doc); err != nil {
		return fmt.Errorf("persist import: %w", err)
	}
	return nil
}

// Checkpoint archives the current session document.
func (s *Service) Checkpoint(ctx context.Context, code, author, message string) (archive.CommitInfo, error) {
	code = util.NormalizeSessionCode(code)
	doc, err := s.store.Get(ctx, code)
	if err != nil {
		return archive.CommitInfo{}, err
	}
	return s.archive.Checkpoint(code, doc, author, message)
}

// History lists a session's checkpoints, newest first.
func (s *Service) History(code string, limit int) ([]archive.CommitInfo, error) {
	return s.archive.History(util.NormalizeSessionCode(code), limit)
}

// Restore overwrites the live document with an archived checkpoint.
func (s *Service) Restore(ctx context.Context, code, hash string) error {
	code = util.NormalizeSessionCode(code)
	doc, err := s.archive.SessionAt(code, hash)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, code, doc); err != nil {
		return fmt.Errorf("persist restore: %w", err)
	}
	return nil
}

// SearchCompendium runs a rules-reference search.
func (s *Service) SearchCompendium(q compendium.Query) compendium.Response {
	return s.compendium.Search(q)
}

// CompendiumEntry resolves one reference entry by id.
func (s *Service) CompendiumEntry(id string) (compendium.Entry, bool) {
	return s.compendium.Entry(id)
}

// SheetPDF renders one sheet (player or monster) to PDF.
func (s *Service) SheetPDF(ctx context.Context, code, entityID string) (*export.Result, error) {
	code = util.NormalizeSessionCode(code)
	doc, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if p, ok := game.PlayerByID(doc, entityID); ok {
		return export.ExportSheetPDF(export.PlayerSheet(code, p))
	}
	if m, ok := game.MonsterByID(doc, entityID); ok {
		return export.ExportSheetPDF(export.MonsterSheet(code, m))
	}
	return nil, game.ErrEntityNotFound
}

// Close releases held resources.
func (s *Service) Close() error {
	if s.compendium != nil {
		s.compendium.Close()
	}
	return s.store.Close()
}
