package operation

import (
	"context"
	"strings"

	"github.com/louisbranch/qbo-mcp/internal/services/qbo/criteria"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/upstream"
)

// Create creates an entity. A non-empty idempotencyKey already recorded
// returns the stored id without calling QBO.
func (e *Executor) Create(ctx context.Context, entityName string, payload map[string]any, idempotencyKey string) Envelope[map[string]any] {
	ctx, finish := e.span(ctx, "create", entityName)
	result, cached, err := e.create(ctx, entityName, payload, strings.TrimSpace(idempotencyKey))
	finish(err)
	if err != nil {
		return Failure[map[string]any](err)
	}
	if cached {
		return Idempotent(result)
	}
	return Success(result)
}

func (e *Executor) create(ctx context.Context, entityName string, payload map[string]any, key string) (map[string]any, bool, error) {
	entity, err := writableEntity(entityName)
	if err != nil {
		return nil, false, err
	}
	if len(payload) == 0 {
		return nil, false, validation("%s payload is required", entity.Name)
	}

	if key != "" {
		entityID, found, err := e.store.Check(ctx, key)
		switch {
		case err != nil:
			e.logger.Warn("idempotency check failed; creating without deduplication",
				"entity", entity.Name, "error", err)
		case found:
			e.metrics.idempotentHits.Add(ctx, 1)
			e.logger.Info("idempotent create", "entity", entity.Name, "id", entityID)
			return map[string]any{"Id": entityID}, true, nil
		}
	}

	created, err := call(ctx, e, func(ctx context.Context, api upstream.API) (map[string]any, error) {
		return api.Create(ctx, entity, payload)
	})
	if err != nil {
		return nil, false, err
	}
	if key != "" {
		if err := e.store.Store(ctx, key, stringID(created["Id"]), entity.Name); err != nil {
			e.logger.Warn("idempotency store failed; a retry may duplicate this create",
				"entity", entity.Name, "id", stringID(created["Id"]), "error", err)
		}
	}
	return created, false, nil
}

// Get reads an entity by id.
func (e *Executor) Get(ctx context.Context, entityName, id string) Envelope[map[string]any] {
	ctx, finish := e.span(ctx, "get", entityName)
	result, err := e.get(ctx, entityName, id)
	finish(err)
	if err != nil {
		return Failure[map[string]any](err)
	}
	return Success(result)
}

func (e *Executor) get(ctx context.Context, entityName, id string) (map[string]any, error) {
	entity, err := lookupEntity(entityName)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, validation("%s id is required", entity.Name)
	}
	return call(ctx, e, func(ctx context.Context, api upstream.API) (map[string]any, error) {
		return api.Read(ctx, entity, id)
	})
}

// Update applies payload, which must carry Id and SyncToken. Updates are
// sparse unless the payload sets "sparse" itself.
func (e *Executor) Update(ctx context.Context, entityName string, payload map[string]any) Envelope[map[string]any] {
	ctx, finish := e.span(ctx, "update", entityName)
	result, err := e.update(ctx, entityName, payload)
	finish(err)
	if err != nil {
		return Failure[map[string]any](err)
	}
	return Success(result)
}

func (e *Executor) update(ctx context.Context, entityName string, payload map[string]any) (map[string]any, error) {
	entity, err := writableEntity(entityName)
	if err != nil {
		return nil, err
	}
	if stringID(payload["Id"]) == "" {
		return nil, validation("%s update requires Id", entity.Name)
	}
	if stringID(payload["SyncToken"]) == "" {
		return nil, validation("%s update requires SyncToken", entity.Name)
	}
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	if _, ok := body["sparse"]; !ok {
		body["sparse"] = true
	}
	return call(ctx, e, func(ctx context.Context, api upstream.API) (map[string]any, error) {
		return api.Update(ctx, entity, body)
	})
}

// Delete removes an entity. Name-list entities are deactivated; transactions
// are deleted. An empty syncToken is read from the current entity first.
func (e *Executor) Delete(ctx context.Context, entityName, id, syncToken string) Envelope[map[string]any] {
	ctx, finish := e.span(ctx, "delete", entityName)
	result, err := e.delete(ctx, entityName, id, syncToken)
	finish(err)
	if err != nil {
		return Failure[map[string]any](err)
	}
	return Success(result)
}

func (e *Executor) delete(ctx context.Context, entityName, id, syncToken string) (map[string]any, error) {
	entity, err := writableEntity(entityName)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, validation("%s id is required", entity.Name)
	}
	if strings.TrimSpace(syncToken) == "" {
		current, err := e.get(ctx, entity.Name, id)
		if err != nil {
			return nil, err
		}
		syncToken = stringID(current["SyncToken"])
	}

	if entity.SoftDelete {
		return call(ctx, e, func(ctx context.Context, api upstream.API) (map[string]any, error) {
			return api.Update(ctx, entity, map[string]any{
				"Id":        id,
				"SyncToken": syncToken,
				"sparse":    true,
				"Active":    false,
			})
		})
	}
	return call(ctx, e, func(ctx context.Context, api upstream.API) (map[string]any, error) {
		return api.Delete(ctx, entity, id, syncToken)
	})
}

// Search queries an entity. input takes any shape criteria.Normalize
// accepts. Count queries yield an int, others a row slice.
func (e *Executor) Search(ctx context.Context, entityName string, input any) Envelope[any] {
	ctx, finish := e.span(ctx, "search", entityName)
	result, err := e.search(ctx, entityName, criteria.Normalize(input))
	finish(err)
	if err != nil {
		return Failure[any](err)
	}
	return Success(result)
}

// SearchFilter parses an AIP-160 filter expression, appends its clauses to
// opts.Filters and searches.
func (e *Executor) SearchFilter(ctx context.Context, entityName, filter string, opts criteria.SearchOptions) Envelope[any] {
	ctx, finish := e.span(ctx, "search", entityName)
	result, err := func() (any, error) {
		clauses, err := criteria.ParseExpression(filter)
		if err != nil {
			return nil, validation("invalid filter: %v", err)
		}
		opts.Filters = append(append([]criteria.FilterClause(nil), opts.Filters...), clauses...)
		return e.search(ctx, entityName, criteria.Normalize(opts))
	}()
	finish(err)
	if err != nil {
		return Failure[any](err)
	}
	return Success(result)
}

func (e *Executor) search(ctx context.Context, entityName string, c criteria.Criteria) (any, error) {
	entity, err := lookupEntity(entityName)
	if err != nil {
		return nil, err
	}
	query, err := criteria.BuildQuery(entity.Name, c)
	if err != nil {
		return nil, validation("%v", err)
	}
	isCount := criteria.IsCountQuery(c) || query.Count

	raw, err := call(ctx, e, func(ctx context.Context, api upstream.API) (map[string]any, error) {
		return api.Query(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	return criteria.ExtractResult(raw, entity.Name, isCount), nil
}
