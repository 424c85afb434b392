package resource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-crudcache/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for a Firestore-backed collection.
type FirestoreConfig struct {
	ProjectID      string `yaml:"project_id"`
	CollectionName string `yaml:"collection_name"`
}

// FirestoreSource is a Source for a single Firestore collection. Each record
// is a document whose id is the decimal record identifier, and the record's
// "id" field mirrors it so collections can be listed in identifier order.
type FirestoreSource[R types.Record] struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreSource creates a new FirestoreSource.
func NewFirestoreSource[R types.Record](
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreSource[R], error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg == nil || cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name is required")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreSource initialized.")

	return &FirestoreSource[R]{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreSource").Str("collection", cfg.CollectionName).Logger(),
	}, nil
}

// Collection implements Source.
func (s *FirestoreSource[R]) Collection() string { return s.collectionName }

// List returns every document ordered by record id.
func (s *FirestoreSource[R]) List(ctx context.Context) ([]R, error) {
	docs, err := s.client.Collection(s.collectionName).OrderBy("id", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list documents from Firestore.")
		return nil, s.mapError("list", 0, err)
	}

	records := make([]R, 0, len(docs))
	for _, doc := range docs {
		var record R
		if err := doc.DataTo(&record); err != nil {
			s.logger.Error().Err(err).Str("doc_id", doc.Ref.ID).Msg("Failed to map Firestore document data.")
			return nil, &ServerError{Op: "list", URL: s.collectionName, StatusCode: http.StatusInternalServerError, Err: err}
		}
		records = append(records, record)
	}
	return records, nil
}

// Get retrieves a single document by record id.
func (s *FirestoreSource[R]) Get(ctx context.Context, id int) (R, error) {
	var zero R
	docSnap, err := s.doc(id).Get(ctx)
	if err != nil {
		return zero, s.mapError("get", id, err)
	}

	var record R
	if err := docSnap.DataTo(&record); err != nil {
		s.logger.Error().Err(err).Int("record_id", id).Msg("Failed to map Firestore document data.")
		return zero, &ServerError{Op: "get", URL: s.docPath(id), StatusCode: http.StatusInternalServerError, Err: err}
	}
	return record, nil
}

// Create assigns the next identifier (highest existing id plus one) and
// stores the record inside a transaction.
func (s *FirestoreSource[R]) Create(ctx context.Context, record R) (R, error) {
	var created R
	coll := s.client.Collection(s.collectionName)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		last, err := tx.Documents(coll.OrderBy("id", firestore.Desc).Limit(1)).GetAll()
		if err != nil {
			return err
		}
		nextID := 1
		if len(last) == 1 {
			var top R
			if err := last[0].DataTo(&top); err != nil {
				return err
			}
			nextID = top.GetID() + 1
		}
		created, err = withID(record, nextID)
		if err != nil {
			return err
		}
		return tx.Create(s.doc(nextID), created)
	})
	if err != nil {
		var zero R
		s.logger.Error().Err(err).Msg("Failed to create document in Firestore.")
		return zero, s.mapError("create", 0, err)
	}
	s.logger.Debug().Int("record_id", created.GetID()).Msg("Created document in Firestore.")
	return created, nil
}

// Update overwrites an existing document. The stored record always carries
// the id from the path.
func (s *FirestoreSource[R]) Update(ctx context.Context, id int, record R) (R, error) {
	var zero R
	updated, err := withID(record, id)
	if err != nil {
		return zero, err
	}
	if _, err := s.doc(id).Get(ctx); err != nil {
		return zero, s.mapError("update", id, err)
	}
	if _, err := s.doc(id).Set(ctx, updated); err != nil {
		s.logger.Error().Err(err).Int("record_id", id).Msg("Failed to write document to Firestore.")
		return zero, s.mapError("update", id, err)
	}
	return updated, nil
}

// Delete removes a document, failing with a *NotFoundError if it does not exist.
func (s *FirestoreSource[R]) Delete(ctx context.Context, id int) error {
	if _, err := s.doc(id).Delete(ctx, firestore.Exists); err != nil {
		return s.mapError("delete", id, err)
	}
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreSource[R]) Close() error {
	s.logger.Info().Msg("FirestoreSource does not close the injected Firestore client.")
	return nil
}

func (s *FirestoreSource[R]) doc(id int) *firestore.DocumentRef {
	return s.client.Collection(s.collectionName).Doc(strconv.Itoa(id))
}

func (s *FirestoreSource[R]) docPath(id int) string {
	return s.collectionName + "/" + strconv.Itoa(id)
}

// mapError translates gRPC status codes into the resource error taxonomy.
func (s *FirestoreSource[R]) mapError(op string, id int, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &NetworkError{Op: op, URL: s.docPath(id), Err: err}
	}
	switch status.Code(err) {
	case codes.NotFound:
		if id != 0 {
			s.logger.Warn().Int("record_id", id).Msg("Document not found in Firestore.")
			return &NotFoundError{Collection: s.collectionName, ID: id}
		}
		return &ServerError{Op: op, URL: s.collectionName, StatusCode: http.StatusNotFound, Err: err}
	case codes.Unavailable, codes.DeadlineExceeded:
		return &NetworkError{Op: op, URL: s.docPath(id), Err: err}
	default:
		return &ServerError{Op: op, URL: s.docPath(id), StatusCode: http.StatusInternalServerError, Err: err}
	}
}
