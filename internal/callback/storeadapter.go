package callback

import (
	"context"

	"github.com/powerauth/activationserver/internal/store"
)

// StoreLister adapts a store.Storage to the URLLister interface this
// package depends on.
type StoreLister struct {
	Store store.Storage
}

func (s StoreLister) ListCallbackURLs(ctx context.Context, applicationID string) ([]CallbackURL, error) {
	rows, err := s.Store.ListCallbackURLs(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	out := make([]CallbackURL, len(rows))
	for i, r := range rows {
		out[i] = CallbackURL{Name: r.Name, URL: r.URL, Attributes: r.Attributes}
	}
	return out, nil
}
