package middlewares

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// NameSource resolves display names in bulk. Unknown ids are left out of the map.
type NameSource interface {
	UserNames(ctx context.Context, ids []string) (map[string]string, error)
	StoreNames(ctx context.Context, ids []string) (map[string]string, error)
}

// Loaders wrap your data loaders to inject via middleware
type Loaders struct {
	UserNameLoader  *dataloader.Loader[string, string]
	StoreNameLoader *dataloader.Loader[string, string]
}

type nameReader struct {
	fetch func(ctx context.Context, ids []string) (map[string]string, error)
}

func (r *nameReader) getNames(ctx context.Context, ids []string) []*dataloader.Result[string] {
	names, err := r.fetch(ctx, ids)
	if err != nil {
		return handleError[string](len(ids), err)
	}
	results := make([]*dataloader.Result[string], 0, len(ids))
	for _, id := range ids {
		results = append(results, &dataloader.Result[string]{Data: names[id]})
	}
	return results
}

func NewLoaders(src NameSource) *Loaders {
	userReader := &nameReader{fetch: src.UserNames}
	storeReader := &nameReader{fetch: src.StoreNames}

	return &Loaders{
		UserNameLoader:  dataloader.NewBatchedLoader(userReader.getNames, dataloader.WithWait[string, string](time.Millisecond)),
		StoreNameLoader: dataloader.NewBatchedLoader(storeReader.getNames, dataloader.WithWait[string, string](time.Millisecond)),
	}
}

func LoaderMiddleware(src NameSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := NewLoaders(src)
		ctx := context.WithValue(c.Request.Context(), loadersKey, loader)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// For returns the request's loaders, or nil outside LoaderMiddleware.
func For(ctx context.Context) *Loaders {
	loaders, _ := ctx.Value(loadersKey).(*Loaders)
	return loaders
}

// GetUserName returns "" for unknown or nil ids.
func GetUserName(ctx context.Context, id *string) (string, error) {
	loaders := For(ctx)
	if loaders == nil || id == nil || *id == "" {
		return "", nil
	}
	return loaders.UserNameLoader.Load(ctx, *id)()
}

func GetStoreName(ctx context.Context, id *string) (string, error) {
	loaders := For(ctx)
	if loaders == nil || id == nil || *id == "" {
		return "", nil
	}
	return loaders.StoreNameLoader.Load(ctx, *id)()
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}
