// Package documents keeps the files parents attach to a child's record.
// Metadata lives in the store and the bytes in a blob store.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mia/mia/internal/domain/access"
	"github.com/mia/mia/internal/platform/apperr"
	"github.com/mia/mia/internal/platform/blobstore"
	"github.com/mia/mia/internal/platform/events"
	"github.com/mia/mia/internal/store"
)

// Upload is one file sent for a child.
type Upload struct {
	ChildID      string
	DocumentType string
	FileName     string
	ContentType  string
	Body         io.Reader
}

type Service struct {
	store  *store.Store
	guard  *access.Guard
	blobs  blobstore.BlobStore
	events events.Publisher
	logger zerolog.Logger
}

func NewService(s *store.Store, guard *access.Guard, blobs blobstore.BlobStore, pub events.Publisher, logger zerolog.Logger) *Service {
	return &Service{store: s, guard: guard, blobs: blobs, events: pub, logger: logger}
}

func (s *Service) ByChild(ctx context.Context, scope access.Scope, childID string) ([]*store.Document, error) {
	if _, err := s.guard.WriteChild(ctx, scope, childID); err != nil {
		return nil, err
	}
	return s.store.Documents.ListByChild(ctx, childID)
}

func (s *Service) Get(ctx context.Context, scope access.Scope, id string) (*store.Document, error) {
	d, err := s.store.Documents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !scope.CanAccessDocument(d) {
		return nil, apperr.Forbidden("no access to document " + id)
	}
	return d, nil
}

// Create records document metadata without content.
func (s *Service) Create(ctx context.Context, scope access.Scope, d *store.Document) error {
	errs := validate(d.ChildID, d.FileName, d.DocumentType)
	if strings.TrimSpace(d.FileType) == "" {
		errs = append(errs, apperr.FieldError{Field: "fileType", Message: "fileType is required"})
	}
	if d.FileSize < 0 {
		errs = append(errs, apperr.FieldError{Field: "fileSize", Message: "fileSize cannot be negative"})
	}
	if len(errs) > 0 {
		return apperr.Validation("Invalid request data", errs...)
	}
	if _, err := s.guard.WriteChild(ctx, scope, d.ChildID); err != nil {
		return err
	}
	d.ID = ""
	d.UploadedBy = scope.UserID()
	d.StorageKey = ""
	d.Digest = ""
	if err := s.store.Documents.Create(ctx, d); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	s.logger.Info().Str("document_id", d.ID).Str("child_id", d.ChildID).Msg("document recorded")
	return nil
}

// Upload stores the file bytes and records the document. The blob is removed
// again when the record cannot be written.
func (s *Service) Upload(ctx context.Context, scope access.Scope, up Upload) (*store.Document, error) {
	if errs := validate(up.ChildID, up.FileName, up.DocumentType); len(errs) > 0 {
		return nil, apperr.Validation("Invalid request data", errs...)
	}
	if _, err := s.guard.WriteChild(ctx, scope, up.ChildID); err != nil {
		return nil, err
	}

	meta, err := s.blobs.Put(ctx, blobstore.BlobMetadata{
		FileName:    up.FileName,
		ContentType: up.ContentType,
		ChildID:     up.ChildID,
		CreatedBy:   scope.UserID(),
	}, up.Body)
	if err != nil {
		return nil, blobError(err)
	}

	d := &store.Document{
		ChildID:      up.ChildID,
		FileName:     up.FileName,
		FileType:     meta.ContentType,
		DocumentType: up.DocumentType,
		FileSize:     meta.Size,
		UploadedBy:   scope.UserID(),
		StorageKey:   meta.Key,
		Digest:       meta.Digest,
	}
	if err := s.store.Documents.Create(ctx, d); err != nil {
		if derr := s.blobs.Delete(ctx, meta.Key); derr != nil {
			s.logger.Warn().Err(derr).Str("key", meta.Key).Msg("orphaned blob")
		}
		return nil, fmt.Errorf("create document: %w", err)
	}

	s.logger.Info().Str("document_id", d.ID).Str("child_id", d.ChildID).Int64("size", d.FileSize).Msg("document uploaded")
	events.Emit(ctx, s.events, s.logger, events.New(events.DocumentUploaded, d.ChildID, map[string]any{
		"documentId":   d.ID,
		"documentType": d.DocumentType,
		"digest":       d.Digest,
		"fileSize":     d.FileSize,
	}))
	return d, nil
}

// Content opens the stored bytes of a document.
func (s *Service) Content(ctx context.Context, scope access.Scope, id string) (io.ReadCloser, *store.Document, error) {
	d, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, nil, err
	}
	if d.StorageKey == "" {
		return nil, nil, apperr.NotFound("document content", id)
	}
	rc, _, err := s.blobs.Get(ctx, d.StorageKey)
	if err != nil {
		return nil, nil, blobError(err)
	}
	return rc, d, nil
}

func (s *Service) Update(ctx context.Context, scope access.Scope, id string, p store.DocumentPatch) (*store.Document, error) {
	if _, err := s.Get(ctx, scope, id); err != nil {
		return nil, err
	}
	var errs []apperr.FieldError
	if p.FileName != nil && strings.TrimSpace(*p.FileName) == "" {
		errs = append(errs, apperr.FieldError{Field: "fileName", Message: "fileName cannot be empty"})
	}
	if p.DocumentType != nil && !store.ValidDocumentTypes[*p.DocumentType] {
		errs = append(errs, documentTypeError())
	}
	if len(errs) > 0 {
		return nil, apperr.Validation("Invalid request data", errs...)
	}
	return s.store.Documents.Update(ctx, id, p)
}

// Delete removes the record and then its blob. A blob that cannot be removed
// is logged and left behind.
func (s *Service) Delete(ctx context.Context, scope access.Scope, id string) error {
	d, err := s.Get(ctx, scope, id)
	if err != nil {
		return err
	}
	if err := s.store.Documents.Delete(ctx, id); err != nil {
		return err
	}
	if d.StorageKey != "" {
		if err := s.blobs.Delete(ctx, d.StorageKey); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
			s.logger.Warn().Err(err).Str("key", d.StorageKey).Msg("blob delete failed")
		}
	}
	s.logger.Info().Str("document_id", id).Msg("document deleted")
	return nil
}

func validate(childID, fileName, documentType string) []apperr.FieldError {
	var errs []apperr.FieldError
	if childID == "" {
		errs = append(errs, apperr.FieldError{Field: "childId", Message: "childId is required"})
	}
	if strings.TrimSpace(fileName) == "" {
		errs = append(errs, apperr.FieldError{Field: "fileName", Message: "fileName is required"})
	}
	if !store.ValidDocumentTypes[documentType] {
		errs = append(errs, documentTypeError())
	}
	return errs
}

func documentTypeError() apperr.FieldError {
	return apperr.FieldError{Field: "documentType", Message: "documentType must be diagnostic, therapy, medical or assessment"}
}

// blobError maps blob store failures onto the API error kinds.
func blobError(err error) error {
	switch {
	case errors.Is(err, blobstore.ErrBlobNotFound):
		return apperr.NotFound("document content", "")
	case errors.Is(err, blobstore.ErrMissingFileName):
		return apperr.Validation("Invalid request data", apperr.FieldError{Field: "fileName", Message: err.Error()})
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return apperr.Validation("Invalid request data", apperr.FieldError{Field: "file", Message: err.Error()})
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return apperr.Validation("Invalid request data", apperr.FieldError{Field: "file", Message: err.Error()})
	}
	return apperr.Unavailable("blob store", err)
}
