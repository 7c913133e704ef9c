// Package catalog serves the store and user views: it validates query
// parameters against the resource's filter spec, scopes results to the
// caller and applies manager updates as relation deltas.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/storefront/internal/filter"
	"github.com/pitabwire/storefront/internal/idempotency"
	"github.com/pitabwire/storefront/internal/observability"
	"github.com/pitabwire/storefront/internal/relation"
	"github.com/pitabwire/storefront/internal/schema"
	"github.com/pitabwire/storefront/internal/storage"
	"github.com/pitabwire/storefront/model"
)

// Response hints attached to list and detail views.
const (
	StoresListMessage   = "Filter stores with the query parameters listed for this view."
	StoreDetailMessage  = "Details of a single store."
	DaysListMessage     = "Select store to view its days of operation."
	DaysDetailMessage   = "Days of the week on which the store is open."
	HoursDetailMessage  = "Opening and closing time of the store."
	ManagersMessage     = "Modify the managers of the store by submitting the complete set of manager ids."
	invalidPageMessage  = "Invalid page."
	forbiddenMessage    = "You do not have permission to perform this action."
	managersRelation    = "managers"
	managerIDsField     = "manager_ids"
	invalidManagerIDMsg = "Invalid manager ID"

	// idempotencyLease bounds how long a claimed key blocks retries when
	// its request never finishes.
	idempotencyLease = time.Minute
)

var listMessages = map[string]string{
	schema.ResourceStores: StoresListMessage,
	schema.ResourceDays:   DaysListMessage,
}

var detailMessages = map[string]string{
	schema.ResourceStores:   StoreDetailMessage,
	schema.ResourceDays:     DaysDetailMessage,
	schema.ResourceHours:    HoursDetailMessage,
	schema.ResourceManagers: ManagersMessage,
}

// Service implements the catalog operations.
type Service struct {
	repo     storage.Repository
	registry *schema.Registry
	idem     idempotency.Store
	idemTTL  time.Duration
	metrics  *observability.Metrics
	logger   *zap.Logger
	policy   relation.Policy
	pageSize int
	maxSize  int
}

// Option configures optional dependencies.
type Option func(*Service)

// WithIdempotency caches manager update results for ttl. A request claims
// its key before applying the update, so concurrent requests sharing a key
// apply once and the others receive CONFLICT until the result is saved.
func WithIdempotency(store idempotency.Store, ttl time.Duration) Option {
	return func(s *Service) {
		s.idem = store
		s.idemTTL = ttl
	}
}

// WithMetrics records filter, storage and relation metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithManagerPolicy sets how manager updates interpret an empty desired set.
func WithManagerPolicy(p relation.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithPagination sets the default and maximum page size.
func WithPagination(defaultSize, maxSize int) Option {
	return func(s *Service) {
		s.pageSize = defaultSize
		s.maxSize = maxSize
	}
}

// NewService creates a Service over a repository and the filter specs of
// registry.
func NewService(repo storage.Repository, registry *schema.Registry, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		registry: registry,
		logger:   zap.NewNop(),
		pageSize: 3,
		maxSize:  100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns one page of a resource view filtered by params.
func (s *Service) List(ctx context.Context, rctx *model.RequestContext, resource string, params url.Values) (model.ListResponse, error) {
	ctx, span := observability.StartSpan(ctx, "catalog.list",
		observability.AttrResource.String(resource),
		observability.AttrUserID.Int64(rctx.UserID),
	)
	resp, err := s.list(ctx, rctx, resource, params)
	observability.EndSpanWithError(span, err)
	return resp, err
}

func (s *Service) list(ctx context.Context, rctx *model.RequestContext, resource string, params url.Values) (model.ListResponse, error) {
	spec, ok := s.registry.Get(resource)
	if !ok {
		return model.ListResponse{}, model.NewNotFoundError(fmt.Sprintf("resource %q not found", resource))
	}
	if resource == schema.ResourceUsers && !rctx.Superuser {
		return model.ListResponse{}, model.NewForbiddenError(forbiddenMessage)
	}

	q, err := s.normalize(ctx, spec, params)
	if err != nil {
		return model.ListResponse{}, err
	}
	page := s.page(q)

	var (
		results any
		total   int
	)
	if resource == schema.ResourceUsers {
		var users []model.User
		users, total, err = timed(s, "list_users", func() ([]model.User, int, error) {
			return s.repo.ListUsers(ctx, q, page)
		})
		results = nonNil(users)
	} else {
		var stores []model.Store
		stores, total, err = timed(s, "list_stores", func() ([]model.Store, int, error) {
			return s.repo.ListStores(ctx, scopeFor(rctx, resource), q, page)
		})
		results = project(resource, stores)
	}
	if err != nil {
		s.recordQuery(resource, "error")
		return model.ListResponse{}, s.storageError(ctx, "list "+resource, err)
	}

	if page.Number > 1 && page.Offset() >= total {
		s.recordQuery(resource, "invalid")
		return model.ListResponse{}, model.NewNotFoundError(invalidPageMessage)
	}
	s.recordQuery(resource, "ok")

	return model.ListResponse{
		Count:    total,
		Page:     page.Number,
		PageSize: page.Size,
		Results:  results,
		Message:  listMessages[resource],
	}, nil
}

// Get returns one store projected onto a resource view.
func (s *Service) Get(ctx context.Context, rctx *model.RequestContext, resource string, storeID int64) (model.ItemResponse, error) {
	ctx, span := observability.StartSpan(ctx, "catalog.get",
		observability.AttrResource.String(resource),
		observability.AttrStoreID.Int64(storeID),
	)
	item, err := s.get(ctx, rctx, resource, storeID)
	observability.EndSpanWithError(span, err)
	return item, err
}

func (s *Service) get(ctx context.Context, rctx *model.RequestContext, resource string, storeID int64) (model.ItemResponse, error) {
	if _, ok := detailMessages[resource]; !ok {
		return model.ItemResponse{}, model.NewNotFoundError(fmt.Sprintf("resource %q has no detail view", resource))
	}

	start := time.Now()
	st, err := s.repo.GetStore(ctx, scopeFor(rctx, resource), storeID)
	s.recordStorage("get_store", start, err)
	if err != nil {
		return model.ItemResponse{}, s.storageError(ctx, "get store", err)
	}

	return model.ItemResponse{
		Data:    projectOne(resource, st),
		Message: detailMessages[resource],
	}, nil
}

// UpdateManagers replaces the managers of a store with the desired set in
// update. With replace false (PATCH) an absent manager_ids changes nothing;
// with replace true (PUT) it is a bad request. A non-empty idemKey makes
// the update replayable.
func (s *Service) UpdateManagers(
	ctx context.Context,
	rctx *model.RequestContext,
	storeID int64,
	update model.ManagersUpdate,
	replace bool,
	idemKey string,
) (model.ManagersUpdateResult, error) {
	ctx, span := observability.StartSpan(ctx, "catalog.update_managers",
		observability.AttrStoreID.Int64(storeID),
		observability.AttrUserID.Int64(rctx.UserID),
	)
	result, err := s.updateManagers(ctx, rctx, storeID, update, replace, idemKey)
	if err == nil {
		span.SetAttributes(
			observability.AttrRelationAdded.Int(len(result.Added)),
			observability.AttrRelationRemoved.Int(len(result.Removed)),
		)
	}
	observability.EndSpanWithError(span, err)

	status := "ok"
	if err != nil {
		status = "error"
	}
	if s.metrics != nil {
		s.metrics.RecordRelationUpdate(managersRelation, status, len(result.Added), len(result.Removed))
	}
	return result, err
}

func (s *Service) updateManagers(
	ctx context.Context,
	rctx *model.RequestContext,
	storeID int64,
	update model.ManagersUpdate,
	replace bool,
	idemKey string,
) (model.ManagersUpdateResult, error) {
	logger := observability.RequestLogger(ctx, s.logger).With(zap.Int64("store_id", storeID))

	if update.ManagerIDs == nil && replace {
		return model.ManagersUpdateResult{}, model.NewBadRequestError("manager_ids is required")
	}

	// Only the owner may change managers; anyone else sees NOT_FOUND.
	start := time.Now()
	_, err := s.repo.GetStore(ctx, scopeFor(rctx, schema.ResourceManagers), storeID)
	s.recordStorage("get_store", start, err)
	if err != nil {
		return model.ManagersUpdateResult{}, s.storageError(ctx, "get store", err)
	}

	if update.ManagerIDs == nil {
		start = time.Now()
		current, err := s.repo.ManagerIDs(ctx, storeID)
		s.recordStorage("manager_ids", start, err)
		if err != nil {
			return model.ManagersUpdateResult{}, s.storageError(ctx, "read managers", err)
		}
		return unchanged(storeID, current), nil
	}

	if err := validateManagerIDs(*update.ManagerIDs); err != nil {
		return model.ManagersUpdateResult{}, err
	}
	desired := relation.NewSet(*update.ManagerIDs...)

	var idemStoreKey, hash string
	if idemKey != "" && s.idem != nil {
		idemStoreKey = idempotency.FormatKey(storeID, idemKey)
		hash = idempotency.HashIDs(relation.Sorted(desired))

		cached, err := s.claimKey(ctx, logger, idemKey, idemStoreKey, hash)
		if err != nil {
			return model.ManagersUpdateResult{}, err
		}
		if cached != nil {
			return *cached, nil
		}
	}

	start = time.Now()
	delta, ids, err := s.repo.ReplaceManagers(ctx, storeID, desired, s.policy)
	s.recordStorage("replace_managers", start, err)
	if err != nil {
		if idemStoreKey != "" {
			if relErr := s.idem.Release(ctx, idemStoreKey); relErr != nil {
				logger.Warn("idempotency release failed", zap.Error(relErr))
			}
		}
		return model.ManagersUpdateResult{}, s.storageError(ctx, "replace managers", err)
	}
	logger.Debug("manager delta",
		zap.Int64s("add", relation.Sorted(delta.Add)),
		zap.Int64s("remove", relation.Sorted(delta.Remove)),
	)

	result := model.ManagersUpdateResult{
		StoreID:    storeID,
		ManagerIDs: nonNil(ids),
		Added:      relation.Sorted(delta.Add),
		Removed:    relation.Sorted(delta.Remove),
		Message:    ManagersMessage,
	}

	if idemStoreKey != "" {
		if err := s.idem.Save(ctx, idemStoreKey, hash, result, s.idemTTL); err != nil {
			// The update is committed; a lost cache entry only costs a replay.
			logger.Warn("idempotency save failed", zap.Error(err))
		}
	}

	logger.Info("managers updated",
		zap.Int("added", len(result.Added)),
		zap.Int("removed", len(result.Removed)),
	)
	return result, nil
}

// claimKey returns the cached result of a completed request with the same
// key, or reserves the key for this request. A nil result and nil error
// mean the caller holds the claim.
func (s *Service) claimKey(ctx context.Context, logger *zap.Logger, idemKey, key, hash string) (*model.ManagersUpdateResult, error) {
	cached, err := s.lookupKey(ctx, logger, idemKey, key, hash)
	if err != nil || cached != nil {
		return cached, err
	}

	lease := idempotencyLease
	if s.idemTTL > 0 && s.idemTTL < lease {
		lease = s.idemTTL
	}
	reserved, err := s.idem.Reserve(ctx, key, hash, lease)
	if err != nil {
		logger.Error("idempotency reserve failed", zap.Error(err))
		return nil, model.NewStorageUnavailableError()
	}
	if reserved {
		return nil, nil
	}

	// Another request claimed or completed the key since the lookup.
	cached, err = s.lookupKey(ctx, logger, idemKey, key, hash)
	if err != nil || cached != nil {
		return cached, err
	}
	return nil, s.idempotencyConflict(logger, idemKey,
		model.NewConflictError(fmt.Sprintf("a request with idempotency key %q is still in progress", key)))
}

func (s *Service) lookupKey(ctx context.Context, logger *zap.Logger, idemKey, key, hash string) (*model.ManagersUpdateResult, error) {
	cached, found, err := s.idem.Check(ctx, key, hash)
	if err != nil {
		var env *model.ErrorEnvelope
		if errors.As(err, &env) && env.Code == model.ErrConflict {
			return nil, s.idempotencyConflict(logger, idemKey, err)
		}
		logger.Error("idempotency check failed", zap.Error(err))
		return nil, model.NewStorageUnavailableError()
	}
	if !found || cached == nil {
		return nil, nil
	}
	if s.metrics != nil {
		s.metrics.RecordIdempotencyReplay()
	}
	trace.SpanFromContext(ctx).SetAttributes(observability.AttrIdempotencyReplay.Bool(true))
	logger.Debug("manager update replayed", zap.String("key", idemKey))
	return cached, nil
}

func (s *Service) idempotencyConflict(logger *zap.Logger, idemKey string, err error) error {
	if s.metrics != nil {
		s.metrics.RecordIdempotencyConflict()
	}
	logger.Warn("idempotency key conflict", zap.String("key", idemKey), zap.Error(err))
	return err
}

func (s *Service) normalize(ctx context.Context, spec *filter.Spec, params url.Values) (filter.Query, error) {
	span := trace.SpanFromContext(ctx)
	q, err := spec.Normalize(params)
	if err == nil {
		span.SetAttributes(observability.AttrConditions.Int(len(q.Conditions)))
		observability.RequestLogger(ctx, s.logger).Debug("query normalized",
			zap.String("resource", spec.Name()),
			zap.Stringers("conditions", q.Conditions),
			zap.String("ordering", q.Ordering()),
		)
		return q, nil
	}

	var verr *filter.ValidationError
	if !errors.As(err, &verr) {
		return filter.Query{}, err
	}
	span.SetAttributes(observability.AttrProblems.Int(len(verr.Problems)))
	if s.metrics != nil {
		for _, p := range verr.Problems {
			s.metrics.RecordValidationFailure(spec.Name(), string(p.Reason))
		}
	}
	s.recordQuery(spec.Name(), "invalid")
	observability.RequestLogger(ctx, s.logger).Warn("query rejected",
		zap.String("resource", spec.Name()),
		zap.Int("problems", len(verr.Problems)),
		zap.Error(verr),
	)
	return filter.Query{}, model.NewInvalidQueryError(verr.FieldErrors())
}

func (s *Service) page(q filter.Query) storage.Page {
	p := storage.Page{Number: q.Page, Size: q.PageSize}
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = s.pageSize
	}
	if p.Size > s.maxSize {
		p.Size = s.maxSize
	}
	return p
}

// storageError passes envelopes through and hides driver errors behind
// STORAGE_UNAVAILABLE.
func (s *Service) storageError(ctx context.Context, op string, err error) error {
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		return env
	}
	observability.RequestLogger(ctx, s.logger).Error("storage failure", zap.String("op", op), zap.Error(err))
	return model.NewStorageUnavailableError()
}

func (s *Service) recordQuery(resource, status string) {
	if s.metrics != nil {
		s.metrics.RecordFilterQuery(resource, status)
	}
}

func (s *Service) recordStorage(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		err = nil
	}
	s.metrics.RecordStorageOperation(op, time.Since(start), err)
}

func timed[T any](s *Service, op string, fn func() ([]T, int, error)) ([]T, int, error) {
	start := time.Now()
	items, total, err := fn()
	s.recordStorage(op, start, err)
	return items, total, err
}

func scopeFor(rctx *model.RequestContext, resource string) storage.Scope {
	return storage.Scope{
		UserID:    rctx.UserID,
		Superuser: rctx.Superuser,
		OwnerOnly: resource == schema.ResourceManagers,
	}
}

func validateManagerIDs(ids []int64) error {
	for _, id := range ids {
		if id < 1 {
			return model.NewValidationError([]model.FieldError{{
				Field:   managerIDsField,
				Code:    string(filter.BelowMinimum),
				Message: invalidManagerIDMsg,
			}})
		}
	}
	return nil
}

func unchanged(storeID int64, current []int64) model.ManagersUpdateResult {
	return model.ManagersUpdateResult{
		StoreID:    storeID,
		ManagerIDs: nonNil(current),
		Added:      []int64{},
		Removed:    []int64{},
		Message:    ManagersMessage,
	}
}

func project(resource string, stores []model.Store) any {
	switch resource {
	case schema.ResourceDays:
		return mapStores(stores, model.DaysOf)
	case schema.ResourceHours:
		return mapStores(stores, model.HoursOf)
	case schema.ResourceManagers:
		return mapStores(stores, model.ManagersOf)
	default:
		return nonNil(stores)
	}
}

func projectOne(resource string, st model.Store) any {
	switch resource {
	case schema.ResourceDays:
		return model.DaysOf(st)
	case schema.ResourceHours:
		return model.HoursOf(st)
	case schema.ResourceManagers:
		return model.ManagersOf(st)
	default:
		return st
	}
}

func mapStores[T any](stores []model.Store, fn func(model.Store) T) []T {
	out := make([]T, len(stores))
	for i, st := range stores {
		out[i] = fn(st)
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
